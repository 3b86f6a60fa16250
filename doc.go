// Package reactor 是一个 one-loop-per-thread 的 Reactor 网络库（Linux，IPv4 TCP）。
//
// 每个 EventLoop 固定在一个 OS 线程上运行 poll→dispatch→drain 循环；
// 跨线程的操作一律以任务形式投递到目标 loop（RunInLoop/QueueInLoop），
// 因此连接的缓冲区与 Channel 只会在其所属 loop 线程上被修改。
//
// 基本用法：
//
//	loop := reactor.NewEventLoop(reactor.DefaultConfig())
//	srv := reactor.NewTcpServer(loop, reactor.NewInetAddress(9000, false), cfg)
//	srv.SetMessageCallback(func(c *reactor.TcpConnection, b *buffer.Buffer) {
//		c.SendBuffer(b)
//	})
//	srv.Start()
//	loop.Loop()
package reactor
