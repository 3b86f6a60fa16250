//go:build linux

// Package netutil 封装 IPv4 TCP 原始 socket 的系统调用，以及 errno 分类表。
package netutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CreateNonblocking 创建非阻塞、close-on-exec 的 IPv4 TCP socket。
func CreateNonblocking() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}
	return fd, nil
}

func setBool(fd, level, opt int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return unix.SetsockoptInt(fd, level, opt, v)
}

func SetReuseAddr(fd int, enable bool) error {
	return setBool(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, enable)
}

func SetReusePort(fd int, enable bool) error {
	return setBool(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, enable)
}

func SetKeepAlive(fd int, enable bool) error {
	return setBool(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, enable)
}

func SetNoDelay(fd int, enable bool) error {
	return setBool(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, enable)
}

func Bind(fd int, sa *unix.SockaddrInet4) error {
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("netutil: bind: %w", err)
	}
	return nil
}

func Listen(fd int) error {
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fmt.Errorf("netutil: listen: %w", err)
	}
	return nil
}

// Accept 以非阻塞 + close-on-exec 方式接受一个连接。
// 返回的 err 为原始 unix.Errno，交由 ClassifyAccept 判断。
func Accept(fd int) (int, *unix.SockaddrInet4, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	sa4, _ := sa.(*unix.SockaddrInet4)
	if sa4 == nil {
		sa4 = &unix.SockaddrInet4{}
	}
	return nfd, sa4, nil
}

// Connect 发起非阻塞连接，返回原始 errno（可能为 EINPROGRESS）。
func Connect(fd int, sa *unix.SockaddrInet4) error {
	return unix.Connect(fd, sa)
}

func ShutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

func Close(fd int) error {
	return unix.Close(fd)
}

// SocketError 读取并清除 SO_ERROR。
func SocketError(fd int) unix.Errno {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return errno
		}
		return unix.EINVAL
	}
	return unix.Errno(v)
}

func LocalAddr(fd int) (*unix.SockaddrInet4, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return &unix.SockaddrInet4{}, err
	}
	return toInet4(sa), nil
}

func PeerAddr(fd int) (*unix.SockaddrInet4, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return &unix.SockaddrInet4{}, err
	}
	return toInet4(sa), nil
}

// IsSelfConnect 判断本端与对端地址是否完全相同。
func IsSelfConnect(fd int) bool {
	local, err := LocalAddr(fd)
	if err != nil {
		return false
	}
	peer, err := PeerAddr(fd)
	if err != nil {
		return false
	}
	return local.Port == peer.Port && local.Addr == peer.Addr
}

// TCPInfo 读取 TCP_INFO。
func TCPInfo(fd int) (*unix.TCPInfo, error) {
	return unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
}

// FormatTCPInfo 生成一行诊断字符串。
func FormatTCPInfo(ti *unix.TCPInfo) string {
	return fmt.Sprintf("unrecovered=%d rto=%d ato=%d snd_mss=%d rcv_mss=%d "+
		"lost=%d retrans=%d rtt=%d rttvar=%d ssthresh=%d cwnd=%d total_retrans=%d",
		ti.Retransmits, ti.Rto, ti.Ato, ti.Snd_mss, ti.Rcv_mss,
		ti.Lost, ti.Retrans, ti.Rtt, ti.Rttvar,
		ti.Snd_ssthresh, ti.Snd_cwnd, ti.Total_retrans)
}

func toInet4(sa unix.Sockaddr) *unix.SockaddrInet4 {
	if sa4, ok := sa.(*unix.SockaddrInet4); ok {
		return sa4
	}
	return &unix.SockaddrInet4{}
}
