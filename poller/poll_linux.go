//go:build linux

package poller

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller 基于 poll(2)。pollfds 是稠密数组，Channel.Index 即其下标；
// 删除时与末尾元素交换并修正被移动元素的 Index，下标从不因平移而失效。
type pollPoller struct {
	pollfds  []unix.PollFd
	channels map[int]Channel
}

// NewPoll 返回 poll(2) 后端。
func NewPoll() Poller {
	return &pollPoller{channels: make(map[int]Channel)}
}

func (p *pollPoller) Poll(timeout time.Duration, active []Channel) ([]Channel, error) {
	n, err := unix.Poll(p.pollfds, timeoutMs(timeout))
	if err != nil {
		if err == unix.EINTR {
			return active, nil
		}
		return active, err
	}
	for i := range p.pollfds {
		if n <= 0 {
			break
		}
		pfd := &p.pollfds[i]
		if pfd.Revents == 0 {
			continue
		}
		n--
		ch, ok := p.channels[int(pfd.Fd)]
		if !ok {
			return active, fmt.Errorf("poller: ready fd %d has no channel", pfd.Fd)
		}
		ch.SetRevents(Event(uint16(pfd.Revents)))
		pfd.Revents = 0
		active = append(active, ch)
	}
	return active, nil
}

func (p *pollPoller) UpdateChannel(ch Channel) error {
	fd := ch.FD()
	if idx := ch.Index(); idx < 0 {
		if _, ok := p.channels[fd]; ok {
			return fmt.Errorf("%w: fd=%d", ErrChannelDuplicate, fd)
		}
		p.pollfds = append(p.pollfds, unix.PollFd{Fd: int32(fd), Events: int16(ch.Events())})
		ch.SetIndex(len(p.pollfds) - 1)
		p.channels[fd] = ch
		return nil
	}
	idx, err := p.slot(ch)
	if err != nil {
		return err
	}
	pfd := &p.pollfds[idx]
	pfd.Fd = int32(fd)
	pfd.Events = int16(ch.Events())
	pfd.Revents = 0
	if ch.Events() == EventNone {
		// 暂时忽略该 fd，但保留槽位
		pfd.Fd = int32(-fd - 1)
	}
	return nil
}

func (p *pollPoller) RemoveChannel(ch Channel) error {
	if ch.Events() != EventNone {
		return fmt.Errorf("%w: fd=%d", ErrChannelNotNone, ch.FD())
	}
	idx, err := p.slot(ch)
	if err != nil {
		return err
	}
	delete(p.channels, ch.FD())
	last := len(p.pollfds) - 1
	if idx != last {
		moved := int(p.pollfds[last].Fd)
		if moved < 0 {
			moved = -moved - 1
		}
		p.pollfds[idx] = p.pollfds[last]
		p.channels[moved].SetIndex(idx)
	}
	p.pollfds = p.pollfds[:last]
	ch.SetIndex(-1)
	return nil
}

func (p *pollPoller) HasChannel(ch Channel) bool {
	c, ok := p.channels[ch.FD()]
	return ok && c == ch
}

func (p *pollPoller) Close() error {
	p.pollfds = nil
	p.channels = map[int]Channel{}
	return nil
}

func (p *pollPoller) slot(ch Channel) (int, error) {
	if c, ok := p.channels[ch.FD()]; !ok || c != ch {
		return 0, fmt.Errorf("%w: fd=%d", ErrChannelUnknown, ch.FD())
	}
	idx := ch.Index()
	if idx < 0 || idx >= len(p.pollfds) {
		return 0, fmt.Errorf("%w: fd=%d index=%d", ErrChannelUnknown, ch.FD(), idx)
	}
	if fd := int(p.pollfds[idx].Fd); fd != ch.FD() && fd != -ch.FD()-1 {
		return 0, fmt.Errorf("poller: stale index %d for fd %d (slot holds %d)", idx, ch.FD(), fd)
	}
	return idx, nil
}
