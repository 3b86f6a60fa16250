//go:build linux

package poller

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epoll 后端中 Channel.Index 表示注册状态
const (
	stateNew     = -1
	stateAdded   = 1
	stateDeleted = 2
)

const initEventListSize = 16

type epollPoller struct {
	epfd     int
	events   []unix.EpollEvent
	channels map[int]Channel
	closed   bool
}

// NewEpoll 返回 epoll(7) 后端（level-triggered）。
func NewEpoll() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	return &epollPoller{
		epfd:     epfd,
		events:   make([]unix.EpollEvent, initEventListSize),
		channels: make(map[int]Channel),
	}, nil
}

func (p *epollPoller) Poll(timeout time.Duration, active []Channel) ([]Channel, error) {
	if p.closed {
		return active, ErrPollerClosed
	}
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs(timeout))
	if err != nil {
		if err == unix.EINTR {
			return active, nil
		}
		return active, err
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			return active, fmt.Errorf("poller: ready fd %d has no channel", ev.Fd)
		}
		ch.SetRevents(Event(ev.Events))
		active = append(active, ch)
	}
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return active, nil
}

func (p *epollPoller) UpdateChannel(ch Channel) error {
	fd := ch.FD()
	switch idx := ch.Index(); idx {
	case stateNew, stateDeleted:
		if idx == stateNew {
			if _, ok := p.channels[fd]; ok {
				return fmt.Errorf("%w: fd=%d", ErrChannelDuplicate, fd)
			}
			p.channels[fd] = ch
		} else if c, ok := p.channels[fd]; !ok || c != ch {
			return fmt.Errorf("%w: fd=%d", ErrChannelUnknown, fd)
		}
		ch.SetIndex(stateAdded)
		return p.ctl(unix.EPOLL_CTL_ADD, ch)
	case stateAdded:
		if c, ok := p.channels[fd]; !ok || c != ch {
			return fmt.Errorf("%w: fd=%d", ErrChannelUnknown, fd)
		}
		if ch.Events() == EventNone {
			ch.SetIndex(stateDeleted)
			return p.ctl(unix.EPOLL_CTL_DEL, ch)
		}
		return p.ctl(unix.EPOLL_CTL_MOD, ch)
	default:
		return fmt.Errorf("poller: bad channel index %d for fd %d", idx, fd)
	}
}

func (p *epollPoller) RemoveChannel(ch Channel) error {
	fd := ch.FD()
	if c, ok := p.channels[fd]; !ok || c != ch {
		return fmt.Errorf("%w: fd=%d", ErrChannelUnknown, fd)
	}
	if ch.Events() != EventNone {
		return fmt.Errorf("%w: fd=%d", ErrChannelNotNone, fd)
	}
	delete(p.channels, fd)
	idx := ch.Index()
	ch.SetIndex(stateNew)
	if idx == stateAdded {
		return p.ctl(unix.EPOLL_CTL_DEL, ch)
	}
	return nil
}

func (p *epollPoller) HasChannel(ch Channel) bool {
	c, ok := p.channels[ch.FD()]
	return ok && c == ch
}

func (p *epollPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}

func (p *epollPoller) ctl(op int, ch Channel) error {
	ev := &unix.EpollEvent{Events: uint32(ch.Events()), Fd: int32(ch.FD())}
	if err := unix.EpollCtl(p.epfd, op, ch.FD(), ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl op=%d fd=%d: %w", op, ch.FD(), err)
	}
	return nil
}
