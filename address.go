//go:build linux

package reactor

import (
	"fmt"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"
)

// InetAddress 是一个 IPv4 端点的值类型封装
type InetAddress struct {
	sa unix.SockaddrInet4
}

// NewInetAddress 监听用地址：loopbackOnly 为真时绑定 127.0.0.1，否则 0.0.0.0。
func NewInetAddress(port uint16, loopbackOnly bool) InetAddress {
	var a InetAddress
	a.sa.Port = int(port)
	if loopbackOnly {
		a.sa.Addr = [4]byte{127, 0, 0, 1}
	}
	return a
}

// ParseInetAddress 由点分十进制与端口构造；格式非法属于调用方错误，直接 panic。
func ParseInetAddress(ip string, port uint16) InetAddress {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		log.Panicw("invalid IPv4 address", "ip", ip, "error", fmt.Errorf("%w: %q", ErrInvalidArgument, ip))
	}
	return InetAddress{sa: unix.SockaddrInet4{Port: int(port), Addr: addr.As4()}}
}

// InetAddressFromSockaddr 由系统调用返回的地址结构构造。
func InetAddressFromSockaddr(sa *unix.SockaddrInet4) InetAddress {
	if sa == nil {
		return InetAddress{}
	}
	return InetAddress{sa: unix.SockaddrInet4{Port: sa.Port, Addr: sa.Addr}}
}

// IP 返回点分十进制形式
func (a InetAddress) IP() string { return netip.AddrFrom4(a.sa.Addr).String() }

func (a InetAddress) Port() uint16 { return uint16(a.sa.Port) }

// String 返回 "ip:port"
func (a InetAddress) String() string {
	return a.IP() + ":" + strconv.Itoa(a.sa.Port)
}

// Sockaddr 返回供系统调用使用的地址结构副本
func (a InetAddress) Sockaddr() *unix.SockaddrInet4 {
	sa := a.sa
	return &sa
}
