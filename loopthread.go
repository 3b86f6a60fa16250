//go:build linux

package reactor

import "sync"

// EventLoopThread 在独立 goroutine 上创建并运行一个 EventLoop。
type EventLoopThread struct {
	cfg    Config
	name   string
	initCb func(*EventLoop)

	mu      sync.Mutex
	loop    *EventLoop
	started bool
	done    chan struct{}
	err     error
}

// NewEventLoopThread initCb 在新 loop 上、开始循环之前执行，可为 nil。
func NewEventLoopThread(cfg Config, initCb func(*EventLoop), name string) *EventLoopThread {
	return &EventLoopThread{cfg: cfg, name: name, initCb: initCb, done: make(chan struct{})}
}

// StartLoop 启动线程并阻塞到其 EventLoop 构造完成。
func (t *EventLoopThread) StartLoop() *EventLoop {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		log.Panicw("EventLoopThread started twice", "name", t.name)
	}
	t.started = true
	t.mu.Unlock()

	ready := make(chan *EventLoop)
	go t.run(ready)
	loop := <-ready

	t.mu.Lock()
	t.loop = loop
	t.mu.Unlock()
	return loop
}

func (t *EventLoopThread) run(ready chan<- *EventLoop) {
	defer close(t.done)
	loop := NewEventLoop(t.cfg)
	if t.initCb != nil {
		t.initCb(loop)
	}
	ready <- loop
	loop.Loop()
	t.err = loop.Close()
	log.Debugw("EventLoopThread exit", "name", t.name, "error", t.err)
}

func (t *EventLoopThread) Name() string { return t.name }

// Loop 返回已启动的 EventLoop，未启动时为 nil
func (t *EventLoopThread) Loop() *EventLoop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// Stop 请求 loop 退出并等待线程结束，返回关闭 loop 时的错误。未启动时直接返回。
func (t *EventLoopThread) Stop() error {
	t.mu.Lock()
	loop, started := t.loop, t.started
	t.mu.Unlock()
	if !started || loop == nil {
		return nil
	}
	loop.Quit()
	<-t.done
	return t.err
}
