//go:build linux

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	return cfg
}

// startLoop 在独立线程上运行一个 EventLoop，测试结束时停止
func startLoop(t *testing.T, cfg Config) *EventLoop {
	t.Helper()
	th := NewEventLoopThread(cfg, nil, t.Name())
	loop := th.StartLoop()
	t.Cleanup(func() { require.NoError(t, th.Stop()) })
	return loop
}

// runSync 在 loop 上执行 f 并等待其完成
func runSync(loop *EventLoop, f func()) {
	done := make(chan struct{})
	loop.RunInLoop(func() {
		defer close(done)
		f()
	})
	<-done
}
