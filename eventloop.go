//go:build linux

package reactor

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/legamerdc/reactor/internal/goid"
	"github.com/legamerdc/reactor/poller"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const closeDrainRounds = 4

// loopsByGoroutine 记录每个 goroutine 上的 EventLoop，保证 one loop per thread
var loopsByGoroutine sync.Map // uint64 -> *EventLoop

// EventLoop 在创建它的 goroutine（Loop 期间锁定到一个 OS 线程）上运行 poll→dispatch→drain 循环。
// 除 RunInLoop/QueueInLoop/Quit/QueueSize/IsInLoopThread 外，其余方法只能在 loop 线程调用。
type EventLoop struct {
	cfg    Config
	owner  uint64
	poller poller.Poller

	looping atomic.Bool
	ran     atomic.Bool
	quit    atomic.Bool
	closed  bool

	eventHandling          bool
	callingPendingFunctors bool
	iteration              uint64
	activeChannels         []poller.Channel
	currentActiveChannel   *Channel

	wakeupFd      int
	wakeupChannel *Channel

	mu      sync.Mutex
	pending *queue.Queue // func()
	spare   *queue.Queue
}

// NewEventLoop 在当前 goroutine 上创建 EventLoop。
// 同一 goroutine 上已存在 EventLoop，或 poller/eventfd 创建失败，都是致命错误。
func NewEventLoop(cfg Config) *EventLoop {
	cfg = cfg.normalize()
	id := goid.Get()
	if other, ok := loopsByGoroutine.Load(id); ok {
		log.Panicw("another EventLoop exists in this thread",
			"goroutine", id, "existing", other.(*EventLoop).owner, "error", ErrLoopExists)
	}
	p, err := poller.NewDefault(cfg.Poller)
	if err != nil {
		log.Panicw("create poller failed", "kind", cfg.Poller, "error", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = p.Close()
		log.Panicw("create eventfd failed", "error", err)
	}
	l := &EventLoop{
		cfg:      cfg,
		owner:    id,
		poller:   p,
		wakeupFd: wfd,
		pending:  queue.New(),
		spare:    queue.New(),
	}
	loopsByGoroutine.Store(id, l)
	log.Debugw("EventLoop created", "goroutine", id, "poller", cfg.Poller)

	l.wakeupChannel = NewChannel(l, wfd)
	l.wakeupChannel.SetReadCallback(l.handleWakeup)
	l.wakeupChannel.EnableReading()
	return l
}

// LoopOfCurrentThread 返回当前 goroutine 上的 EventLoop，没有则为 nil
func LoopOfCurrentThread() *EventLoop {
	if v, ok := loopsByGoroutine.Load(goid.Get()); ok {
		return v.(*EventLoop)
	}
	return nil
}

// Loop 运行事件循环直到 Quit；每个 EventLoop 只能调用一次，且必须在创建它的 goroutine 上。
func (l *EventLoop) Loop() {
	l.assertInLoopThread()
	if !l.ran.CompareAndSwap(false, true) {
		log.Panicw("EventLoop.Loop called twice", "goroutine", l.owner)
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.looping.Store(true)
	log.Debugw("EventLoop start looping", "goroutine", l.owner)
	for !l.quit.Load() {
		clear(l.activeChannels)
		active, err := l.poller.Poll(l.cfg.PollTimeout, l.activeChannels[:0])
		if err != nil {
			log.Panicw("poller wait failed", "error", err)
		}
		l.activeChannels = active
		l.iteration++

		l.eventHandling = true
		for _, pc := range active {
			ch := pc.(*Channel)
			l.currentActiveChannel = ch
			ch.handleEvent()
		}
		l.currentActiveChannel = nil
		l.eventHandling = false

		l.doPendingFunctors()
	}
	log.Debugw("EventLoop stop looping", "goroutine", l.owner)
	l.looping.Store(false)
}

// Quit 请求 loop 在完成当前一轮 dispatch+drain 后退出；任意线程可调用。
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// RunInLoop 在 loop 线程上立即执行 f，否则排队并唤醒 loop。
func (l *EventLoop) RunInLoop(f func()) {
	if l.IsInLoopThread() {
		f()
		return
	}
	l.QueueInLoop(f)
}

// QueueInLoop 把 f 排到本轮或下一轮 drain 执行。
// drain 期间排入的任务不会在同一轮执行，因此同样需要唤醒。
func (l *EventLoop) QueueInLoop(f func()) {
	l.mu.Lock()
	l.pending.Add(f)
	l.mu.Unlock()

	if !l.IsInLoopThread() || l.callingPendingFunctors {
		l.wakeup()
	}
}

// QueueSize 返回尚未执行的任务数
func (l *EventLoop) QueueSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.Length()
}

func (l *EventLoop) IsInLoopThread() bool { return goid.Get() == l.owner }

// Looping 报告 Loop 是否正在运行
func (l *EventLoop) Looping() bool { return l.looping.Load() }

// Iteration 返回已完成的 poll 轮数，仅 loop 线程读取
func (l *EventLoop) Iteration() uint64 { return l.iteration }

func (l *EventLoop) HasChannel(ch *Channel) bool {
	l.assertInLoopThread()
	return l.poller.HasChannel(ch)
}

func (l *EventLoop) updateChannel(ch *Channel) {
	if ch.loop != l {
		log.Panicw("channel belongs to another loop", "channel", ch.String())
	}
	l.assertInLoopThread()
	if err := l.poller.UpdateChannel(ch); err != nil {
		log.Panicw("poller update failed", "channel", ch.String(), "error", err)
	}
}

func (l *EventLoop) removeChannel(ch *Channel) {
	if ch.loop != l {
		log.Panicw("channel belongs to another loop", "channel", ch.String())
	}
	l.assertInLoopThread()
	if l.eventHandling && ch != l.currentActiveChannel {
		for _, a := range l.activeChannels {
			if a == poller.Channel(ch) {
				log.Panicw("remove channel still pending dispatch", "channel", ch.String())
			}
		}
	}
	if err := l.poller.RemoveChannel(ch); err != nil {
		log.Panicw("poller remove failed", "channel", ch.String(), "error", err)
	}
}

func (l *EventLoop) assertInLoopThread() {
	if cur := goid.Get(); cur != l.owner {
		log.Panicw("EventLoop method called outside its thread",
			"owner", l.owner, "current", cur, "error", ErrNotInLoopThread)
	}
}

func (l *EventLoop) wakeup() {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	n, err := unix.Write(l.wakeupFd, one[:])
	if err != nil || n != len(one) {
		log.Errorw("EventLoop wakeup failed", "written", n, "error", err)
	}
}

func (l *EventLoop) handleWakeup() {
	var buf [8]byte
	n, err := unix.Read(l.wakeupFd, buf[:])
	if err != nil {
		if err != unix.EAGAIN {
			log.Errorw("EventLoop drain wakeup failed", "error", err)
		}
		return
	}
	if n != len(buf) {
		log.Errorw("EventLoop drain wakeup short read", "read", n)
	}
}

// doPendingFunctors 交换出当前队列后在锁外执行，执行期间新排入的任务留到下一轮。
func (l *EventLoop) doPendingFunctors() {
	l.callingPendingFunctors = true
	l.mu.Lock()
	tasks := l.pending
	l.pending = l.spare
	l.mu.Unlock()

	for tasks.Length() > 0 {
		tasks.Remove().(func())()
	}
	l.spare = tasks
	l.callingPendingFunctors = false
}

// Close 在 Loop 返回后于 loop 线程调用：执行残留任务，注销 wakeup Channel，释放 eventfd 与 poller。
func (l *EventLoop) Close() error {
	l.assertInLoopThread()
	if l.closed {
		return nil
	}
	if l.looping.Load() {
		log.Panicw("EventLoop closed while looping", "goroutine", l.owner)
	}
	// 残留任务执行时可能继续排入任务（例如连接销毁），有限轮次内执行完
	for i := 0; i < closeDrainRounds && l.QueueSize() > 0; i++ {
		l.doPendingFunctors()
	}
	l.closed = true

	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	err := multierr.Combine(unix.Close(l.wakeupFd), l.poller.Close())
	loopsByGoroutine.Delete(l.owner)
	return err
}
