//go:build linux

package reactor

import (
	"fmt"
	"sync/atomic"

	"github.com/legamerdc/reactor/internal/netutil"
)

// TcpServer 在 baseLoop 上 accept，并把新连接轮转分配给线程池中的 IO loop。
// 连接表只在 baseLoop 线程上访问。
type TcpServer struct {
	loop       *EventLoop
	name       string
	ipPort     string
	cfg        Config
	acceptor   *Acceptor
	threadPool *EventLoopThreadPool

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	threadInitCallback    func(*EventLoop)

	started     atomic.Bool
	closed      bool
	nextConnID  int
	connections map[string]*TcpConnection
	connCount   atomic.Int64
}

// NewTcpServer 创建并绑定监听 socket，Start 之后才开始 accept。
func NewTcpServer(loop *EventLoop, listenAddr InetAddress, cfg Config) *TcpServer {
	cfg = cfg.normalize()
	s := &TcpServer{
		loop:               loop,
		name:               cfg.Name,
		cfg:                cfg,
		acceptor:           NewAcceptor(loop, listenAddr, cfg.ReusePort),
		threadPool:         NewEventLoopThreadPool(loop, cfg.Name, cfg),
		connectionCallback: DefaultConnectionCallback,
		messageCallback:    DefaultMessageCallback,
		connections:        make(map[string]*TcpConnection),
	}
	s.ipPort = s.acceptor.Address().String()
	s.acceptor.SetNewConnectionCallback(s.newConnection)
	return s
}

func (s *TcpServer) Name() string                     { return s.name }
func (s *TcpServer) IPPort() string                   { return s.ipPort }
func (s *TcpServer) Loop() *EventLoop                 { return s.loop }
func (s *TcpServer) ThreadPool() *EventLoopThreadPool { return s.threadPool }

// ListenAddress 返回实际绑定的地址（监听端口 0 时可取得内核分配的端口）
func (s *TcpServer) ListenAddress() InetAddress { return s.acceptor.Address() }

// ConnectionCount 任意线程可读
func (s *TcpServer) ConnectionCount() int { return int(s.connCount.Load()) }

// SetThreadNum 必须在 Start 之前调用
func (s *TcpServer) SetThreadNum(n int) { s.threadPool.SetThreadNum(n) }

func (s *TcpServer) SetThreadInitCallback(cb func(*EventLoop))         { s.threadInitCallback = cb }
func (s *TcpServer) SetConnectionCallback(cb ConnectionCallback)       { s.connectionCallback = cb }
func (s *TcpServer) SetMessageCallback(cb MessageCallback)             { s.messageCallback = cb }
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) { s.writeCompleteCallback = cb }

// Start 启动线程池并开始监听，重复调用无效。
// 在 loop 线程外调用时只投递任务，不等待；loop 运行后才真正开始 accept。
func (s *TcpServer) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.loop.RunInLoop(func() {
		s.threadPool.Start(s.threadInitCallback)
		s.acceptor.Listen()
		log.Infow("TcpServer listening", "name", s.name, "addr", s.ipPort, "threads", len(s.threadPool.loops))
	})
}

func (s *TcpServer) newConnection(fd int, peer InetAddress) {
	s.loop.assertInLoopThread()
	ioLoop := s.threadPool.NextLoop()
	s.nextConnID++
	connName := fmt.Sprintf("%s-%s#%d", s.name, s.ipPort, s.nextConnID)
	log.Infow("TcpServer new connection", "name", s.name, "conn", connName, "peer", peer.String())

	local, err := netutil.LocalAddr(fd)
	if err != nil {
		log.Errorw("getsockname failed", "conn", connName, "error", err)
	}
	conn := NewTcpConnection(ioLoop, connName, fd, InetAddressFromSockaddr(local), peer, s.cfg)
	s.connections[connName] = conn
	s.connCount.Add(1)
	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.SetCloseCallback(s.removeConnection)
	ioLoop.RunInLoop(conn.connectEstablished)
}

// removeConnection 在 IO loop 上被调用，转回 baseLoop 修改连接表
func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.loop.RunInLoop(func() { s.removeConnectionInLoop(conn) })
}

func (s *TcpServer) removeConnectionInLoop(conn *TcpConnection) {
	s.loop.assertInLoopThread()
	if _, ok := s.connections[conn.Name()]; !ok {
		return
	}
	log.Infow("TcpServer remove connection", "name", s.name, "conn", conn.Name())
	delete(s.connections, conn.Name())
	s.connCount.Add(-1)
	conn.Loop().QueueInLoop(conn.connectDestroyed)
}

// Close 停止监听，把每个连接的销毁排入其所属 loop，然后停止线程池。
// 只能在 baseLoop 线程调用，可以在回调中调用：销毁总是排到本轮 dispatch 之后。
func (s *TcpServer) Close() error {
	s.loop.assertInLoopThread()
	if s.closed {
		return nil
	}
	s.closed = true
	s.acceptor.Close()
	for name, conn := range s.connections {
		delete(s.connections, name)
		conn.Loop().QueueInLoop(conn.connectDestroyed)
	}
	s.connCount.Store(0)
	return s.threadPool.Stop()
}
