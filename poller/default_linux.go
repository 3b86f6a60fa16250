//go:build linux

package poller

import "os"

// NewDefault 按 kind 创建后端；环境变量 REACTOR_USE_POLL 优先。
func NewDefault(kind Kind) (Poller, error) {
	if os.Getenv(UsePollEnv) != "" {
		kind = KindPoll
	}
	if kind == KindPoll {
		return NewPoll(), nil
	}
	return NewEpoll()
}
