//go:build linux

package reactor

import (
	"bytes"
	"sync/atomic"

	"github.com/legamerdc/reactor/buffer"
	"github.com/legamerdc/reactor/internal/netutil"
	"golang.org/x/sys/unix"
)

type connState int32

const (
	stateConnecting connState = iota
	stateConnected
	stateDisconnecting
	stateDisconnected
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "Connecting"
	case stateConnected:
		return "Connected"
	case stateDisconnecting:
		return "Disconnecting"
	default:
		return "Disconnected"
	}
}

// TcpConnection 是一条已建立的 TCP 连接。
// 缓冲区与 Channel 只在所属 loop 线程上读写；其它线程的 Send/Shutdown 会被投递到该 loop。
type TcpConnection struct {
	loop      *EventLoop
	name      string
	state     atomic.Int32
	reading   atomic.Bool
	socket    *Socket
	channel   *Channel
	localAddr InetAddress
	peerAddr  InetAddress
	metrics   *Metrics

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	closeCallback         CloseCallback

	inputBuffer  *buffer.Buffer
	outputBuffer *buffer.Buffer

	context any
}

// NewTcpConnection 接管已连接的 fd，由 TcpServer/TcpClient 在创建连接时调用。
func NewTcpConnection(loop *EventLoop, name string, fd int, local, peer InetAddress, cfg Config) *TcpConnection {
	cfg = cfg.normalize()
	c := &TcpConnection{
		loop:               loop,
		name:               name,
		socket:             NewSocket(fd),
		channel:            NewChannel(loop, fd),
		localAddr:          local,
		peerAddr:           peer,
		metrics:            cfg.Metrics,
		connectionCallback: DefaultConnectionCallback,
		messageCallback:    DefaultMessageCallback,
		inputBuffer:        buffer.NewSize(cfg.InitialBufferSize),
		outputBuffer:       buffer.NewSize(cfg.InitialBufferSize),
	}
	c.state.Store(int32(stateConnecting))
	c.reading.Store(true)
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleError)
	c.socket.SetKeepAlive(cfg.KeepAlive)
	if cfg.NoDelay {
		c.socket.SetTCPNoDelay(true)
	}
	log.Debugw("TcpConnection created", "name", name, "fd", fd)
	return c
}

func (c *TcpConnection) Name() string              { return c.name }
func (c *TcpConnection) Loop() *EventLoop          { return c.loop }
func (c *TcpConnection) LocalAddress() InetAddress { return c.localAddr }
func (c *TcpConnection) PeerAddress() InetAddress  { return c.peerAddr }
func (c *TcpConnection) Connected() bool           { return c.getState() == stateConnected }
func (c *TcpConnection) Disconnected() bool        { return c.getState() == stateDisconnected }

func (c *TcpConnection) getState() connState  { return connState(c.state.Load()) }
func (c *TcpConnection) setState(s connState) { c.state.Store(int32(s)) }

// SetContext/Context 供用户挂载任意数据，只应在 loop 线程上使用
func (c *TcpConnection) SetContext(v any) { c.context = v }
func (c *TcpConnection) Context() any     { return c.context }

func (c *TcpConnection) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *TcpConnection) SetMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }
func (c *TcpConnection) SetCloseCallback(cb CloseCallback)                 { c.closeCallback = cb }

// InputBuffer/OutputBuffer 只能在 loop 线程访问
func (c *TcpConnection) InputBuffer() *buffer.Buffer  { return c.inputBuffer }
func (c *TcpConnection) OutputBuffer() *buffer.Buffer { return c.outputBuffer }

func (c *TcpConnection) TCPInfo() (*unix.TCPInfo, error) { return c.socket.TCPInfo() }

func (c *TcpConnection) TCPInfoString() (string, bool) { return c.socket.TCPInfoString() }

func (c *TcpConnection) SetTCPNoDelay(on bool) { c.socket.SetTCPNoDelay(on) }

// Send 发送 data；未处于 Connected 时静默丢弃。
// 在 loop 线程上直接写，其它线程先复制再投递。
func (c *TcpConnection) Send(data []byte) {
	if c.getState() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	cp := bytes.Clone(data)
	c.loop.RunInLoop(func() { c.sendInLoop(cp) })
}

func (c *TcpConnection) SendString(s string) {
	if c.getState() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop([]byte(s))
		return
	}
	c.loop.RunInLoop(func() { c.sendInLoop([]byte(s)) })
}

// SendBuffer 发送并取走 buf 中全部可读数据
func (c *TcpConnection) SendBuffer(buf *buffer.Buffer) {
	if c.getState() != stateConnected {
		return
	}
	if c.loop.IsInLoopThread() {
		c.sendInLoop(buf.Peek())
		buf.RetrieveAll()
		return
	}
	data := []byte(buf.RetrieveAllAsString())
	c.loop.RunInLoop(func() { c.sendInLoop(data) })
}

// sendInLoop 只经由 Send 的线程判断或 loop 任务到达
func (c *TcpConnection) sendInLoop(data []byte) {
	if c.getState() == stateDisconnected {
		log.Warnw("disconnected, give up writing", "name", c.name, "bytes", len(data))
		return
	}
	written, remaining := 0, len(data)
	fault := false
	if !c.channel.IsWriting() && c.outputBuffer.ReadableBytes() == 0 {
		n, err := unix.Write(c.channel.FD(), data)
		switch {
		case err == nil:
			written, remaining = n, remaining-n
			c.metrics.written(n)
			if remaining == 0 && c.writeCompleteCallback != nil {
				c.queueWriteComplete()
			}
		case netutil.IsTransientIO(err):
		default:
			log.Errorw("TcpConnection send failed", "name", c.name, "error", err)
			if netutil.IsPeerGone(err) {
				fault = true
			}
		}
	}
	if !fault && remaining > 0 {
		c.outputBuffer.Append(data[written:])
		if !c.channel.IsWriting() {
			c.channel.EnableWriting()
		}
	}
}

func (c *TcpConnection) queueWriteComplete() {
	cb := c.writeCompleteCallback
	c.loop.QueueInLoop(func() { cb(c) })
}

// Shutdown 关闭写方向；输出缓冲区未写完时推迟到写完之后。
func (c *TcpConnection) Shutdown() {
	if c.state.CompareAndSwap(int32(stateConnected), int32(stateDisconnecting)) {
		c.loop.RunInLoop(c.shutdownInLoop)
	}
}

func (c *TcpConnection) shutdownInLoop() {
	c.loop.assertInLoopThread()
	if !c.channel.IsWriting() {
		c.socket.ShutdownWrite()
	}
}

// ForceClose 不等待输出缓冲区，直接走关闭流程
func (c *TcpConnection) ForceClose() {
	s := c.getState()
	if s == stateConnected || s == stateDisconnecting {
		c.setState(stateDisconnecting)
		c.loop.QueueInLoop(c.forceCloseInLoop)
	}
}

func (c *TcpConnection) forceCloseInLoop() {
	c.loop.assertInLoopThread()
	s := c.getState()
	if s == stateConnected || s == stateDisconnecting {
		c.handleClose()
	}
}

func (c *TcpConnection) StartRead() {
	c.loop.RunInLoop(func() {
		if !c.reading.Load() || !c.channel.IsReading() {
			c.channel.EnableReading()
			c.reading.Store(true)
		}
	})
}

func (c *TcpConnection) StopRead() {
	c.loop.RunInLoop(func() {
		if c.reading.Load() || c.channel.IsReading() {
			c.channel.DisableReading()
			c.reading.Store(false)
		}
	})
}

func (c *TcpConnection) IsReading() bool { return c.reading.Load() }

// connectEstablished 在所属 loop 上调用一次
func (c *TcpConnection) connectEstablished() {
	c.loop.assertInLoopThread()
	if s := c.getState(); s != stateConnecting {
		log.Panicw("connectEstablished in unexpected state", "name", c.name, "state", s.String())
	}
	c.setState(stateConnected)
	c.channel.EnableReading()
	c.metrics.connOpened()
	c.connectionCallback(c)
}

// connectDestroyed 是连接在 loop 上的最后一步：注销 Channel 并关闭 fd。
func (c *TcpConnection) connectDestroyed() {
	c.loop.assertInLoopThread()
	if s := c.getState(); s == stateConnected || s == stateDisconnecting {
		c.setState(stateDisconnected)
		c.channel.DisableAll()
		c.metrics.connClosed()
		c.connectionCallback(c)
	}
	if !c.channel.IsNoneEvent() {
		c.channel.DisableAll()
	}
	c.channel.Remove()
	if err := c.socket.Close(); err != nil {
		log.Warnw("close connection fd failed", "name", c.name, "error", err)
	}
	log.Debugw("TcpConnection destroyed", "name", c.name)
}

func (c *TcpConnection) handleRead() {
	n, err := c.inputBuffer.ReadFD(c.channel.FD())
	switch {
	case err != nil:
		if netutil.IsTransientIO(err) {
			return
		}
		log.Errorw("TcpConnection read failed", "name", c.name, "error", err)
		c.handleError()
		c.handleClose()
	case n == 0:
		c.handleClose()
	default:
		c.metrics.read(n)
		c.messageCallback(c, c.inputBuffer)
	}
}

func (c *TcpConnection) handleWrite() {
	if !c.channel.IsWriting() {
		log.Debugw("connection is down, no more writing", "name", c.name, "fd", c.channel.FD())
		return
	}
	n, err := unix.Write(c.channel.FD(), c.outputBuffer.Peek())
	if err != nil {
		if netutil.IsTransientIO(err) {
			return
		}
		log.Errorw("TcpConnection write failed", "name", c.name, "error", err)
		c.handleClose()
		return
	}
	c.outputBuffer.Retrieve(n)
	c.metrics.written(n)
	if c.outputBuffer.ReadableBytes() > 0 {
		return
	}
	c.channel.DisableWriting()
	if c.writeCompleteCallback != nil {
		c.queueWriteComplete()
	}
	if c.getState() == stateDisconnecting {
		c.shutdownInLoop()
	}
}

// handleClose 可重入：已经 Disconnected 时直接返回
func (c *TcpConnection) handleClose() {
	c.loop.assertInLoopThread()
	s := c.getState()
	if s == stateDisconnected {
		return
	}
	log.Debugw("TcpConnection closing", "name", c.name, "state", s.String())
	c.setState(stateDisconnected)
	c.channel.DisableAll()
	c.metrics.connClosed()

	c.connectionCallback(c)
	if c.closeCallback != nil {
		c.closeCallback(c)
	}
}

func (c *TcpConnection) handleError() {
	err := netutil.SocketError(c.channel.FD())
	log.Errorw("TcpConnection error", "name", c.name, "error", err)
}
