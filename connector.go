//go:build linux

package reactor

import (
	"sync/atomic"

	"github.com/legamerdc/reactor/internal/netutil"
	"github.com/sony/gobreaker/v2"
)

type connectorState int32

const (
	connectorDisconnected connectorState = iota
	connectorConnecting
	connectorConnected
)

func (s connectorState) String() string {
	switch s {
	case connectorConnecting:
		return "Connecting"
	case connectorConnected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// Connector 发起非阻塞 connect，对暂时性失败经 loop 重试。
// 连续失败达到 Config.ConnectRetryLimit 后熔断，直到 Restart 前不再尝试。
type Connector struct {
	loop       *EventLoop
	serverAddr InetAddress
	cfg        Config
	connect    atomic.Bool
	state      atomic.Int32
	abandoned  atomic.Bool
	channel    *Channel

	breaker     *gobreaker.TwoStepCircuitBreaker[struct{}]
	attemptDone func(success bool)

	newConnection func(fd int)
}

func NewConnector(loop *EventLoop, serverAddr InetAddress, cfg Config) *Connector {
	c := &Connector{loop: loop, serverAddr: serverAddr, cfg: cfg.normalize()}
	c.breaker = c.newBreaker()
	return c
}

func (c *Connector) newBreaker() *gobreaker.TwoStepCircuitBreaker[struct{}] {
	limit := c.cfg.ConnectRetryLimit
	return gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name: "connect " + c.serverAddr.String(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= limit
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infow("connect breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// SetNewConnectionCallback 连接成功时以已连接 fd 调用，fd 所有权随之转移
func (c *Connector) SetNewConnectionCallback(cb func(fd int)) { c.newConnection = cb }

func (c *Connector) ServerAddress() InetAddress { return c.serverAddr }

// Abandoned 报告是否因连续失败而放弃
func (c *Connector) Abandoned() bool { return c.abandoned.Load() }

func (c *Connector) getState() connectorState  { return connectorState(c.state.Load()) }
func (c *Connector) setState(s connectorState) { c.state.Store(int32(s)) }

// Start 可在任意线程调用
func (c *Connector) Start() {
	c.connect.Store(true)
	c.loop.RunInLoop(c.startInLoop)
}

// Restart 重置熔断状态并立即重连，只能在 loop 线程调用
func (c *Connector) Restart() {
	c.loop.assertInLoopThread()
	c.setState(connectorDisconnected)
	c.breaker = c.newBreaker()
	c.abandoned.Store(false)
	c.connect.Store(true)
	c.startInLoop()
}

// Stop 可在任意线程调用；正在连接的 fd 会被关闭
func (c *Connector) Stop() {
	c.connect.Store(false)
	c.loop.QueueInLoop(c.stopInLoop)
}

func (c *Connector) startInLoop() {
	c.loop.assertInLoopThread()
	if !c.connect.Load() {
		log.Debugw("connector stopped, do not connect", "server", c.serverAddr.String())
		return
	}
	if s := c.getState(); s != connectorDisconnected {
		log.Warnw("connector start in unexpected state", "server", c.serverAddr.String(), "state", s.String())
		return
	}
	c.doConnect()
}

func (c *Connector) stopInLoop() {
	c.loop.assertInLoopThread()
	if c.getState() == connectorConnecting {
		c.setState(connectorDisconnected)
		fd := c.detach()
		c.closeFd(fd)
	}
}

func (c *Connector) doConnect() {
	done, err := c.breaker.Allow()
	if err != nil {
		c.abandoned.Store(true)
		log.Errorw("connect abandoned", "server", c.serverAddr.String(),
			"limit", c.cfg.ConnectRetryLimit, "error", ErrConnectAbandoned, "breaker", err)
		return
	}
	c.attemptDone = done

	s := newNonblockingSocket()
	err = netutil.Connect(s.FD(), c.serverAddr.Sockaddr())
	switch netutil.ClassifyConnect(err) {
	case netutil.ConnectProceed:
		c.connecting(s.FD())
	case netutil.ConnectRetry:
		log.Warnw("connect failed, retrying", "server", c.serverAddr.String(), "error", err)
		c.retry(s.FD())
	default:
		log.Errorw("connect failed, giving up this attempt", "server", c.serverAddr.String(), "error", err)
		c.finishAttempt(false)
		c.closeFd(s.FD())
	}
}

func (c *Connector) connecting(fd int) {
	c.setState(connectorConnecting)
	if c.channel != nil {
		log.Panicw("connector already owns a channel", "server", c.serverAddr.String())
	}
	c.channel = NewChannel(c.loop, fd)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.SetCloseCallback(c.handleError)
	c.channel.EnableWriting()
}

func (c *Connector) handleWrite() {
	if c.getState() != connectorConnecting {
		return
	}
	fd := c.detach()
	if errno := netutil.SocketError(fd); errno != 0 {
		log.Warnw("connect SO_ERROR", "server", c.serverAddr.String(), "error", errno)
		c.retry(fd)
		return
	}
	if netutil.IsSelfConnect(fd) {
		log.Warnw("self connect", "server", c.serverAddr.String())
		c.retry(fd)
		return
	}
	c.setState(connectorConnected)
	c.finishAttempt(true)
	if c.connect.Load() && c.newConnection != nil {
		c.newConnection(fd)
	} else {
		c.closeFd(fd)
	}
}

func (c *Connector) handleError() {
	if c.getState() != connectorConnecting {
		return
	}
	fd := c.detach()
	log.Warnw("connect error", "server", c.serverAddr.String(), "error", netutil.SocketError(fd))
	c.retry(fd)
}

// detach 注销 Channel 并取回 fd；Channel 本身在下一个任务中释放，因为此刻可能仍在它的回调里
func (c *Connector) detach() int {
	c.channel.DisableAll()
	c.channel.Remove()
	fd := c.channel.FD()
	c.loop.QueueInLoop(c.resetChannel)
	return fd
}

func (c *Connector) resetChannel() { c.channel = nil }

func (c *Connector) retry(fd int) {
	c.closeFd(fd)
	c.finishAttempt(false)
	c.cfg.Metrics.connectRetry()
	if c.connect.Load() {
		c.loop.QueueInLoop(c.startInLoop)
	}
}

func (c *Connector) finishAttempt(success bool) {
	if c.attemptDone != nil {
		c.attemptDone(success)
		c.attemptDone = nil
	}
}

func (c *Connector) closeFd(fd int) {
	_ = netutil.Close(fd)
	c.setState(connectorDisconnected)
}
