// Package poller 提供基于就绪通知（level-triggered）的 I/O 多路复用抽象。
//
// Poller 不负责分发：Poll 只返回本轮有就绪事件的 Channel，并在返回前写好各自的 revents。
// Poller 的全部方法都只能在所属 EventLoop 的线程上调用，自身不加锁。
package poller

import (
	"strings"
	"time"
)

// Event 为兴趣/就绪位掩码，数值与 poll(2) 的 POLL* 一致（epoll 的 EPOLL* 与之相同）。
type Event uint32

const (
	EventNone  Event = 0
	EventIn    Event = 0x1
	EventPri   Event = 0x2
	EventOut   Event = 0x4
	EventErr   Event = 0x8
	EventHup   Event = 0x10
	EventNval  Event = 0x20
	EventRdHup Event = 0x2000

	// EventRead 为读兴趣
	EventRead = EventIn | EventPri
	// EventWrite 为写兴趣
	EventWrite = EventOut
)

func (e Event) String() string {
	if e == EventNone {
		return "NONE"
	}
	var parts []string
	for _, f := range []struct {
		bit  Event
		name string
	}{
		{EventIn, "IN"}, {EventPri, "PRI"}, {EventOut, "OUT"}, {EventHup, "HUP"},
		{EventRdHup, "RDHUP"}, {EventErr, "ERR"}, {EventNval, "NVAL"},
	} {
		if e&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Channel 是 Poller 记账所需的最小视图。
// Index 是 Poller 私有的槽位句柄，新建时为 -1，脱离 Poller 后无意义。
type Channel interface {
	FD() int
	Events() Event
	SetRevents(Event)
	Index() int
	SetIndex(int)
}

// Poller 管理 fd -> Channel 的映射并等待就绪事件。
type Poller interface {
	// Poll 最多阻塞 timeout，把就绪的 Channel 追加到 active 并返回。
	// 被信号中断时返回原 active 与 nil；其它错误由调用方视为致命。
	Poll(timeout time.Duration, active []Channel) ([]Channel, error)
	// UpdateChannel 注册新 Channel 或更新已注册 Channel 的兴趣。
	UpdateChannel(ch Channel) error
	// RemoveChannel 注销 Channel，要求其兴趣已清空。
	RemoveChannel(ch Channel) error
	HasChannel(ch Channel) bool
	Close() error
}

// Kind 选择后端实现。
type Kind string

const (
	KindEpoll Kind = "epoll"
	KindPoll  Kind = "poll"
)

// UsePollEnv 非空时 NewDefault 强制使用 poll 后端。
const UsePollEnv = "REACTOR_USE_POLL"

func timeoutMs(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int(d / time.Millisecond)
}
