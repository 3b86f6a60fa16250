package poller

import "errors"

var (
	// ErrPlatformNotSupported 非 Linux 平台没有 epoll/poll 后端
	ErrPlatformNotSupported = errors.New("poller: platform not supported (requires Linux)")

	ErrPollerClosed     = errors.New("poller: closed")
	ErrChannelNotNone   = errors.New("poller: channel still has interest")
	ErrChannelUnknown   = errors.New("poller: channel not registered")
	ErrChannelDuplicate = errors.New("poller: fd already registered by another channel")
)
