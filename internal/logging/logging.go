// Package logging 持有进程级的 zap 基础 logger，各包通过 Logger(name) 取得具名 logger。
package logging

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	base atomic.Pointer[zap.Logger]

	mu    sync.Mutex
	named = map[string]*Named{}
)

func init() {
	base.Store(zap.NewNop())
}

// Named 是一个可随 SetBase 热替换的具名 SugaredLogger 句柄。
type Named struct {
	name string
	cur  atomic.Pointer[zap.SugaredLogger]
}

// Logger 返回名为 name 的 logger；同名多次调用返回同一句柄。
func Logger(name string) *Named {
	mu.Lock()
	defer mu.Unlock()
	if n, ok := named[name]; ok {
		return n
	}
	n := &Named{name: name}
	n.cur.Store(base.Load().Named(name).Sugar())
	named[name] = n
	return n
}

// SetBase 替换基础 logger，已发放的具名 logger 同步生效。nil 视为 Nop。
func SetBase(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	base.Store(l)
	for name, n := range named {
		n.cur.Store(l.Named(name).Sugar())
	}
}

// Base 返回当前基础 logger。
func Base() *zap.Logger { return base.Load() }

func (n *Named) s() *zap.SugaredLogger { return n.cur.Load() }

func (n *Named) Debugw(msg string, kv ...any) { n.s().Debugw(msg, kv...) }
func (n *Named) Infow(msg string, kv ...any)  { n.s().Infow(msg, kv...) }
func (n *Named) Warnw(msg string, kv ...any)  { n.s().Warnw(msg, kv...) }
func (n *Named) Errorw(msg string, kv ...any) { n.s().Errorw(msg, kv...) }

// Panicw 记录后 panic；用于不可恢复的编程/环境错误。
func (n *Named) Panicw(msg string, kv ...any) { n.s().Panicw(msg, kv...) }

// Panicf 同 Panicw，printf 风格。
func (n *Named) Panicf(format string, args ...any) { n.s().Panicf(format, args...) }
