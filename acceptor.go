//go:build linux

package reactor

import (
	"github.com/legamerdc/reactor/internal/netutil"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// NewConnectionCallback 接收已 accept 的 fd，所有权随之转移
type NewConnectionCallback func(fd int, peer InetAddress)

// Acceptor 持有监听 socket，可读时 accept 一个连接并交给回调。
type Acceptor struct {
	loop          *EventLoop
	acceptSocket  *Socket
	acceptChannel *Channel
	listening     bool
	idleFd        int
	newConnection NewConnectionCallback
}

// NewAcceptor 创建并绑定监听 socket；创建或绑定失败是致命错误。
func NewAcceptor(loop *EventLoop, listenAddr InetAddress, reusePort bool) *Acceptor {
	s := newNonblockingSocket()
	s.SetReuseAddr(true)
	s.SetReusePort(reusePort)
	s.BindAddress(listenAddr)

	// 预留一个 fd：EMFILE 时腾出它来 accept 并立即关闭，避免 level-triggered 下忙等
	a := &Acceptor{
		loop:          loop,
		acceptSocket:  s,
		acceptChannel: NewChannel(loop, s.FD()),
		idleFd:        openIdleFd(),
	}
	a.acceptChannel.SetReadCallback(a.handleRead)
	return a
}

func openIdleFd() int {
	fd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		log.Warnw("open idle fd failed", "error", err)
		return -1
	}
	return fd
}

func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) { a.newConnection = cb }

func (a *Acceptor) Listening() bool { return a.listening }

// Address 返回实际绑定的地址
func (a *Acceptor) Address() InetAddress { return a.acceptSocket.LocalAddress() }

func (a *Acceptor) Listen() {
	a.loop.assertInLoopThread()
	a.listening = true
	a.acceptSocket.Listen()
	a.acceptChannel.EnableReading()
}

func (a *Acceptor) handleRead() {
	if !a.listening {
		return
	}
	fd, peer, err := a.acceptSocket.Accept()
	if err == nil {
		if a.newConnection != nil {
			a.newConnection(fd, peer)
		} else {
			_ = netutil.Close(fd)
		}
		return
	}

	switch netutil.ClassifyAccept(err) {
	case netutil.AcceptAbsorb:
		if err == unix.EAGAIN {
			return
		}
		log.Warnw("accept failed", "fd", a.acceptSocket.FD(), "error", err)
		if err == unix.EMFILE && a.idleFd >= 0 {
			_ = unix.Close(a.idleFd)
			if nfd, _, aerr := netutil.Accept(a.acceptSocket.FD()); aerr == nil {
				_ = unix.Close(nfd)
			}
			a.idleFd = openIdleFd()
		}
	default:
		log.Panicw("accept failed on listening socket", "fd", a.acceptSocket.FD(), "error", err)
	}
}

// Close 立即停止监听，只能在 loop 线程调用。
// 可能仍处于本轮 dispatch 中，Channel 的注销与 fd 的关闭放到下一个任务。
func (a *Acceptor) Close() {
	a.loop.assertInLoopThread()
	if a.acceptSocket.FD() < 0 {
		return
	}
	a.listening = false
	a.acceptChannel.DisableAll()
	a.loop.QueueInLoop(a.release)
}

func (a *Acceptor) release() {
	if a.acceptSocket.FD() < 0 {
		return
	}
	a.acceptChannel.Remove()
	var err error
	if a.idleFd >= 0 {
		err = unix.Close(a.idleFd)
		a.idleFd = -1
	}
	if err = multierr.Append(err, a.acceptSocket.Close()); err != nil {
		log.Warnw("close listening socket failed", "error", err)
	}
}
