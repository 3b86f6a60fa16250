//go:build linux

package reactor

import (
	"fmt"

	"github.com/legamerdc/reactor/poller"
)

// Channel 把一个 fd 与兴趣位、四个回调绑定在一起。
// Channel 不拥有 fd；它只属于一个 EventLoop，所有方法只能在该 loop 线程上调用。
type Channel struct {
	loop    *EventLoop
	fd      int
	events  poller.Event
	revents poller.Event
	index   int

	addedToLoop bool

	readCallback  func()
	writeCallback func()
	closeCallback func()
	errorCallback func()
}

func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: -1}
}

func (c *Channel) SetReadCallback(cb func())  { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

func (c *Channel) FD() int                    { return c.fd }
func (c *Channel) Events() poller.Event       { return c.events }
func (c *Channel) Revents() poller.Event      { return c.revents }
func (c *Channel) SetRevents(ev poller.Event) { c.revents = ev }
func (c *Channel) Index() int                 { return c.index }
func (c *Channel) SetIndex(idx int)           { c.index = idx }
func (c *Channel) Loop() *EventLoop           { return c.loop }

func (c *Channel) IsNoneEvent() bool { return c.events == poller.EventNone }
func (c *Channel) IsWriting() bool   { return c.events&poller.EventWrite != 0 }
func (c *Channel) IsReading() bool   { return c.events&poller.EventRead != 0 }

func (c *Channel) EnableReading() {
	c.events |= poller.EventRead
	c.update()
}

func (c *Channel) DisableReading() {
	c.events &^= poller.EventRead
	c.update()
}

func (c *Channel) EnableWriting() {
	c.events |= poller.EventWrite
	c.update()
}

func (c *Channel) DisableWriting() {
	c.events &^= poller.EventWrite
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = poller.EventNone
	c.update()
}

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.updateChannel(c)
}

// Remove 从所属 loop 注销；兴趣必须已清空。从未注册过的 Channel 直接返回。
func (c *Channel) Remove() {
	if !c.IsNoneEvent() {
		log.Panicw("remove channel with pending interest", "fd", c.fd, "events", c.events.String())
	}
	if !c.addedToLoop {
		return
	}
	c.addedToLoop = false
	c.loop.removeChannel(c)
}

// handleEvent 按 close > error > read > write 的顺序分发本轮 revents。
func (c *Channel) handleEvent() {
	ev := c.revents
	if ev&poller.EventNval != 0 {
		log.Warnw("channel handle_event POLLNVAL", "fd", c.fd)
	}

	closed := false
	if ev&poller.EventHup != 0 && ev&poller.EventIn == 0 {
		closed = true
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if ev&(poller.EventErr|poller.EventNval) != 0 && !closed {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if ev&(poller.EventIn|poller.EventPri|poller.EventRdHup) != 0 {
		if c.readCallback != nil {
			c.readCallback()
		}
	}
	if ev&poller.EventOut != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

func (c *Channel) String() string {
	return fmt.Sprintf("fd=%d events=%s revents=%s", c.fd, c.events, c.revents)
}
