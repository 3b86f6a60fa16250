//go:build linux

package netutil

import (
	"errors"

	"golang.org/x/sys/unix"
)

// AcceptAction 为 accept 失败后的处理方式。
type AcceptAction int

const (
	// AcceptAbsorb 记录后忽略，等待下一次就绪通知
	AcceptAbsorb AcceptAction = iota
	// AcceptFatal 说明监听 socket 本身已不可用
	AcceptFatal
)

// ClassifyAccept 对 accept4 的 errno 做穷举分类。
func ClassifyAccept(err error) AcceptAction {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return AcceptFatal
	}
	switch errno {
	case unix.EAGAIN, unix.ECONNABORTED, unix.EINTR, unix.EPROTO, unix.EPERM, unix.EMFILE:
		return AcceptAbsorb
	case unix.EBADF, unix.EFAULT, unix.EINVAL, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM,
		unix.ENOTSOCK, unix.EOPNOTSUPP:
		return AcceptFatal
	default:
		return AcceptFatal
	}
}

// ConnectAction 为非阻塞 connect 的结果分类。
type ConnectAction int

const (
	// ConnectProceed 连接进行中或已完成，等待可写
	ConnectProceed ConnectAction = iota
	// ConnectRetry 暂时性失败，经 loop 重新发起
	ConnectRetry
	// ConnectAbandon 本次尝试不可挽回，放弃且不重试
	ConnectAbandon
)

func (a ConnectAction) String() string {
	switch a {
	case ConnectProceed:
		return "proceed"
	case ConnectRetry:
		return "retry"
	default:
		return "abandon"
	}
}

// ClassifyConnect 对 connect 的返回做穷举分类；nil 视为 proceed。
func ClassifyConnect(err error) ConnectAction {
	if err == nil {
		return ConnectProceed
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return ConnectAbandon
	}
	switch errno {
	case unix.EINPROGRESS, unix.EINTR, unix.EISCONN:
		return ConnectProceed
	case unix.EAGAIN, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ECONNREFUSED, unix.ENETUNREACH:
		return ConnectRetry
	case unix.EACCES, unix.EPERM, unix.EAFNOSUPPORT, unix.EALREADY, unix.EBADF, unix.EFAULT, unix.ENOTSOCK:
		return ConnectAbandon
	default:
		return ConnectAbandon
	}
}

// IsTransientIO 判断读写失败是否只是暂时不可用。
func IsTransientIO(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

// IsPeerGone 判断写失败是否由对端关闭/复位导致。
func IsPeerGone(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}
