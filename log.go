package reactor

import (
	"github.com/legamerdc/reactor/internal/logging"
	"go.uber.org/zap"
)

var log = logging.Logger("reactor")

// SetLogger 替换库内所有包使用的基础 logger；nil 表示关闭日志。
func SetLogger(l *zap.Logger) { logging.SetBase(l) }
