//go:build linux

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/legamerdc/reactor/internal/netutil"
)

// TcpClient 通过 Connector 建立至多一条连接，连接运行在 client 的 loop 上。
type TcpClient struct {
	loop      *EventLoop
	connector *Connector
	name      string
	cfg       Config

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback

	retry      atomic.Bool
	connect    atomic.Bool
	nextConnID int

	mu         sync.Mutex
	connection *TcpConnection
}

func NewTcpClient(loop *EventLoop, serverAddr InetAddress, cfg Config) *TcpClient {
	cfg = cfg.normalize()
	c := &TcpClient{
		loop:               loop,
		connector:          NewConnector(loop, serverAddr, cfg),
		name:               cfg.Name,
		cfg:                cfg,
		connectionCallback: DefaultConnectionCallback,
		messageCallback:    DefaultMessageCallback,
	}
	c.connector.SetNewConnectionCallback(c.newConnection)
	log.Debugw("TcpClient created", "name", c.name, "server", serverAddr.String())
	return c
}

func (c *TcpClient) Name() string          { return c.name }
func (c *TcpClient) Loop() *EventLoop      { return c.loop }
func (c *TcpClient) Connector() *Connector { return c.connector }

// EnableRetry 使已建立的连接断开后自动重连
func (c *TcpClient) EnableRetry() { c.retry.Store(true) }
func (c *TcpClient) Retry() bool  { return c.retry.Load() }

func (c *TcpClient) SetConnectionCallback(cb ConnectionCallback)       { c.connectionCallback = cb }
func (c *TcpClient) SetMessageCallback(cb MessageCallback)             { c.messageCallback = cb }
func (c *TcpClient) SetWriteCompleteCallback(cb WriteCompleteCallback) { c.writeCompleteCallback = cb }

// Connection 返回当前连接，未连接时为 nil
func (c *TcpClient) Connection() *TcpConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connection
}

func (c *TcpClient) Connect() {
	log.Infow("TcpClient connecting", "name", c.name, "server", c.connector.ServerAddress().String())
	c.connect.Store(true)
	c.connector.Start()
}

// Disconnect 半关闭当前连接
func (c *TcpClient) Disconnect() {
	c.connect.Store(false)
	if conn := c.Connection(); conn != nil {
		conn.Shutdown()
	}
}

// Stop 停止尚未完成的连接尝试
func (c *TcpClient) Stop() {
	c.connect.Store(false)
	c.connector.Stop()
}

func (c *TcpClient) newConnection(fd int) {
	c.loop.assertInLoopThread()
	peer, err := netutil.PeerAddr(fd)
	if err != nil {
		log.Warnw("getpeername failed", "name", c.name, "error", err)
	}
	local, err := netutil.LocalAddr(fd)
	if err != nil {
		log.Warnw("getsockname failed", "name", c.name, "error", err)
	}
	peerAddr := InetAddressFromSockaddr(peer)
	c.nextConnID++
	connName := fmt.Sprintf("%s:%s#%d", c.name, peerAddr.String(), c.nextConnID)

	conn := NewTcpConnection(c.loop, connName, fd, InetAddressFromSockaddr(local), peerAddr, c.cfg)
	conn.SetConnectionCallback(c.connectionCallback)
	conn.SetMessageCallback(c.messageCallback)
	conn.SetWriteCompleteCallback(c.writeCompleteCallback)
	conn.SetCloseCallback(c.removeConnection)

	c.mu.Lock()
	c.connection = conn
	c.mu.Unlock()
	conn.connectEstablished()
}

func (c *TcpClient) removeConnection(conn *TcpConnection) {
	c.loop.assertInLoopThread()
	c.mu.Lock()
	if c.connection == conn {
		c.connection = nil
	}
	c.mu.Unlock()

	c.loop.QueueInLoop(conn.connectDestroyed)
	if c.retry.Load() && c.connect.Load() {
		log.Infow("TcpClient reconnecting", "name", c.name, "server", c.connector.ServerAddress().String())
		c.connector.Restart()
	}
}

// Close 结束 client：已连接时强制关闭并在 loop 上销毁连接，否则停止 Connector。任意线程可调用。
func (c *TcpClient) Close() {
	c.connect.Store(false)
	conn := c.Connection()
	if conn == nil {
		c.connector.Stop()
		return
	}
	c.loop.RunInLoop(func() {
		conn.SetCloseCallback(func(tc *TcpConnection) {
			c.mu.Lock()
			if c.connection == tc {
				c.connection = nil
			}
			c.mu.Unlock()
			c.loop.QueueInLoop(tc.connectDestroyed)
		})
	})
	conn.ForceClose()
}
