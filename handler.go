//go:build linux

package reactor

import "github.com/legamerdc/reactor/buffer"

// ConnectionCallback 在连接建立与断开时各调用一次，用 Connected() 区分
type ConnectionCallback func(c *TcpConnection)

// MessageCallback 在收到数据后调用，buf 为连接的输入缓冲区
type MessageCallback func(c *TcpConnection, buf *buffer.Buffer)

// WriteCompleteCallback 在输出缓冲区写空后以 loop 任务的形式调用
type WriteCompleteCallback func(c *TcpConnection)

// CloseCallback 供 TcpServer/TcpClient 回收连接
type CloseCallback func(c *TcpConnection)

func DefaultConnectionCallback(c *TcpConnection) {
	log.Debugw("connection state",
		"local", c.LocalAddress().String(), "peer", c.PeerAddress().String(), "connected", c.Connected())
}

// DefaultMessageCallback 丢弃全部数据
func DefaultMessageCallback(_ *TcpConnection, buf *buffer.Buffer) {
	buf.RetrieveAll()
}
