//go:build linux

package reactor

import (
	"github.com/legamerdc/reactor/internal/netutil"
	"golang.org/x/sys/unix"
)

// Socket 拥有一个 socket fd，Close 后 fd 失效。
type Socket struct {
	fd int
}

func NewSocket(fd int) *Socket { return &Socket{fd: fd} }

// newNonblockingSocket 创建失败属于环境错误，直接 panic
func newNonblockingSocket() *Socket {
	fd, err := netutil.CreateNonblocking()
	if err != nil {
		log.Panicw("create socket failed", "error", err)
	}
	return &Socket{fd: fd}
}

func (s *Socket) FD() int { return s.fd }

func (s *Socket) BindAddress(addr InetAddress) {
	if err := netutil.Bind(s.fd, addr.Sockaddr()); err != nil {
		log.Panicw("bind failed", "fd", s.fd, "addr", addr.String(), "error", err)
	}
}

func (s *Socket) Listen() {
	if err := netutil.Listen(s.fd); err != nil {
		log.Panicw("listen failed", "fd", s.fd, "error", err)
	}
}

// Accept 返回新连接的 fd 与对端地址；失败时 err 为原始 errno，由调用方分类。
func (s *Socket) Accept() (int, InetAddress, error) {
	fd, sa, err := netutil.Accept(s.fd)
	if err != nil {
		return -1, InetAddress{}, err
	}
	return fd, InetAddressFromSockaddr(sa), nil
}

func (s *Socket) ShutdownWrite() {
	if err := netutil.ShutdownWrite(s.fd); err != nil {
		log.Errorw("shutdown write failed", "fd", s.fd, "error", err)
	}
}

func (s *Socket) SetTCPNoDelay(on bool) {
	if err := netutil.SetNoDelay(s.fd, on); err != nil {
		log.Errorw("set TCP_NODELAY failed", "fd", s.fd, "error", err)
	}
}

func (s *Socket) SetReuseAddr(on bool) {
	if err := netutil.SetReuseAddr(s.fd, on); err != nil {
		log.Errorw("set SO_REUSEADDR failed", "fd", s.fd, "error", err)
	}
}

func (s *Socket) SetReusePort(on bool) {
	if err := netutil.SetReusePort(s.fd, on); err != nil {
		log.Errorw("set SO_REUSEPORT failed", "fd", s.fd, "error", err)
	}
}

func (s *Socket) SetKeepAlive(on bool) {
	if err := netutil.SetKeepAlive(s.fd, on); err != nil {
		log.Errorw("set SO_KEEPALIVE failed", "fd", s.fd, "error", err)
	}
}

// LocalAddress 返回绑定后的本端地址（端口 0 时为内核分配的端口）
func (s *Socket) LocalAddress() InetAddress {
	sa, err := netutil.LocalAddr(s.fd)
	if err != nil {
		log.Errorw("getsockname failed", "fd", s.fd, "error", err)
	}
	return InetAddressFromSockaddr(sa)
}

func (s *Socket) TCPInfo() (*unix.TCPInfo, error) {
	return netutil.TCPInfo(s.fd)
}

// TCPInfoString 返回一行 TCP 诊断信息；读取失败时 ok 为 false
func (s *Socket) TCPInfoString() (string, bool) {
	ti, err := s.TCPInfo()
	if err != nil {
		return "", false
	}
	return netutil.FormatTCPInfo(ti), true
}

func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := netutil.Close(s.fd)
	s.fd = -1
	return err
}
