//go:build linux

package reactor

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// EventLoopThreadPool 持有 numThreads 个 IO loop，按轮转分配新连接。
// numThreads 为 0 时所有连接都由 baseLoop 处理。
type EventLoopThreadPool struct {
	baseLoop   *EventLoop
	name       string
	cfg        Config
	started    bool
	numThreads int
	next       int
	threads    []*EventLoopThread
	loops      []*EventLoop
}

func NewEventLoopThreadPool(baseLoop *EventLoop, name string, cfg Config) *EventLoopThreadPool {
	return &EventLoopThreadPool{baseLoop: baseLoop, name: name, cfg: cfg, numThreads: cfg.NumLoops}
}

func (p *EventLoopThreadPool) SetThreadNum(n int) {
	if n < 0 {
		n = 0
	}
	p.numThreads = n
}

func (p *EventLoopThreadPool) Name() string  { return p.name }
func (p *EventLoopThreadPool) Started() bool { return p.started }

// Start 并发启动全部线程并等待各自的 loop 就绪；只能在 baseLoop 线程调用一次。
func (p *EventLoopThreadPool) Start(initCb func(*EventLoop)) {
	p.baseLoop.assertInLoopThread()
	if p.started {
		log.Panicw("EventLoopThreadPool started twice", "name", p.name)
	}
	p.started = true

	p.threads = make([]*EventLoopThread, p.numThreads)
	p.loops = make([]*EventLoop, p.numThreads)
	var g errgroup.Group
	for i := range p.threads {
		t := NewEventLoopThread(p.cfg, initCb, fmt.Sprintf("%s%d", p.name, i))
		p.threads[i] = t
		g.Go(func() error {
			p.loops[i] = t.StartLoop()
			return nil
		})
	}
	_ = g.Wait()
	log.Infow("EventLoopThreadPool started", "name", p.name, "threads", p.numThreads)

	if p.numThreads == 0 && initCb != nil {
		initCb(p.baseLoop)
	}
}

// NextLoop 轮转返回下一个 IO loop；只能在 baseLoop 线程调用。
func (p *EventLoopThreadPool) NextLoop() *EventLoop {
	p.baseLoop.assertInLoopThread()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// AllLoops 返回全部 IO loop；没有时返回 baseLoop。
func (p *EventLoopThreadPool) AllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	return append([]*EventLoop(nil), p.loops...)
}

// Stop 并发停止全部线程并合并各 loop 的关闭错误。
func (p *EventLoopThreadPool) Stop() error {
	errs := make([]error, len(p.threads))
	var g errgroup.Group
	for i, t := range p.threads {
		g.Go(func() error {
			errs[i] = t.Stop()
			return errs[i]
		})
	}
	_ = g.Wait()
	p.threads, p.loops, p.next = nil, nil, 0
	return multierr.Combine(errs...)
}
