package reactor

import (
	"time"

	"github.com/legamerdc/reactor/buffer"
	"github.com/legamerdc/reactor/poller"
)

const (
	// DefaultPollTimeout 单次 poll 的最长阻塞时间
	DefaultPollTimeout = 10 * time.Second
	// DefaultConnectRetryLimit 连续可重试失败的上限，超过后 Connector 放弃
	DefaultConnectRetryLimit = 30
)

// Config 为 EventLoop / TcpServer / TcpClient 共用的配置
type Config struct {
	Name              string        // 服务/客户端名，用于连接命名与日志
	NumLoops          int           // IO loop 线程数；0 表示全部在 base loop 上处理
	Poller            poller.Kind   // epoll（默认）或 poll；环境变量 REACTOR_USE_POLL 强制 poll
	PollTimeout       time.Duration // 单次 poll 超时
	ReusePort         bool          // 监听 socket 是否开启 SO_REUSEPORT
	KeepAlive         bool          // 新连接是否开启 SO_KEEPALIVE
	NoDelay           bool          // 新连接是否开启 TCP_NODELAY
	InitialBufferSize int           // 每连接输入/输出缓冲区初始大小
	ConnectRetryLimit uint32        // Connector 连续失败上限
	Metrics           *Metrics      // 可为 nil
}

// DefaultConfig 提供一组可工作的默认值
func DefaultConfig() Config {
	return Config{
		Name:              "reactor",
		NumLoops:          0,
		Poller:            poller.KindEpoll,
		PollTimeout:       DefaultPollTimeout,
		KeepAlive:         true,
		InitialBufferSize: buffer.InitialSize,
		ConnectRetryLimit: DefaultConnectRetryLimit,
	}
}

// normalize 将零值字段补齐为默认值
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.NumLoops < 0 {
		c.NumLoops = 0
	}
	if c.Poller == "" {
		c.Poller = d.Poller
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.InitialBufferSize <= 0 {
		c.InitialBufferSize = d.InitialBufferSize
	}
	if c.ConnectRetryLimit == 0 {
		c.ConnectRetryLimit = d.ConnectRetryLimit
	}
	return c
}
