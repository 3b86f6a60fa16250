//go:build linux

package reactor

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/legamerdc/reactor/buffer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer 在独立 loop 上启动监听 127.0.0.1:0 的 TcpServer
func startServer(t *testing.T, cfg Config, setup func(s *TcpServer)) *TcpServer {
	t.Helper()
	loop := startLoop(t, cfg)
	srv := NewTcpServer(loop, NewInetAddress(0, true), cfg)
	if setup != nil {
		setup(srv)
	}
	srv.Start()
	// Start 在 loop 线程外只投递任务，等它执行完才开始 accept
	runSync(loop, func() {})
	t.Cleanup(func() {
		var err error
		runSync(loop, func() { err = srv.Close() })
		assert.NoError(t, err)
	})
	return srv
}

func dial(t *testing.T, srv *TcpServer) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", srv.ListenAddress().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(waitFor)))
	return c
}

func echo(c *TcpConnection, buf *buffer.Buffer) { c.SendBuffer(buf) }

func TestServerEcho(t *testing.T) {
	srv := startServer(t, testConfig(), func(s *TcpServer) { s.SetMessageCallback(echo) })
	assert.NotZero(t, srv.ListenAddress().Port())
	assert.Equal(t, srv.ListenAddress().String(), srv.IPPort())

	c := dial(t, srv)
	_, err := c.Write([]byte("hello"))
	require.NoError(t, err)
	got := make([]byte, 5)
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, 1, srv.ConnectionCount())
}

func TestServerEchoAcrossLoops(t *testing.T) {
	cfg := testConfig()
	cfg.NumLoops = 3
	var mu sync.Mutex
	names := map[string]*EventLoop{}
	srv := startServer(t, cfg, func(s *TcpServer) {
		s.SetMessageCallback(echo)
		s.SetConnectionCallback(func(c *TcpConnection) {
			if c.Connected() {
				mu.Lock()
				names[c.Name()] = c.Loop()
				mu.Unlock()
			}
		})
	})

	const clients = 6
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		c := dial(t, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := []byte(fmt.Sprintf("client-%d", i))
			_, err := c.Write(msg)
			assert.NoError(t, err)
			got := make([]byte, len(msg))
			_, err = io.ReadFull(c, got)
			assert.NoError(t, err)
			assert.Equal(t, msg, got)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return srv.ConnectionCount() == clients }, waitFor, tick)
	mu.Lock()
	defer mu.Unlock()
	loops := map[*EventLoop]bool{}
	for name, l := range names {
		assert.True(t, strings.HasPrefix(name, "test-"+srv.IPPort()+"#"), name)
		assert.NotSame(t, srv.Loop(), l)
		loops[l] = true
	}
	assert.Len(t, loops, 3)
	for i := 1; i <= clients; i++ {
		assert.Contains(t, names, fmt.Sprintf("test-%s#%d", srv.IPPort(), i))
	}
}

func TestServerConnectionCallbacksOnPeerClose(t *testing.T) {
	states := make(chan bool, 2)
	srv := startServer(t, testConfig(), func(s *TcpServer) {
		s.SetConnectionCallback(func(c *TcpConnection) { states <- c.Connected() })
	})
	c := dial(t, srv)
	assert.True(t, <-states)
	require.NoError(t, c.Close())
	assert.False(t, <-states)
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, waitFor, tick)
}

func TestServerShutdownAfterSend(t *testing.T) {
	srv := startServer(t, testConfig(), func(s *TcpServer) {
		s.SetConnectionCallback(func(c *TcpConnection) {
			if c.Connected() {
				c.SendString("bye")
				c.Shutdown()
			}
		})
	})
	c := dial(t, srv)
	data, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))
}

func TestServerLargeSendCompletes(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 1<<18) // 4 MiB
	completes := make(chan struct{}, 4)
	srv := startServer(t, testConfig(), func(s *TcpServer) {
		s.SetConnectionCallback(func(c *TcpConnection) {
			if c.Connected() {
				c.Send(payload)
				c.Shutdown()
			}
		})
		s.SetWriteCompleteCallback(func(*TcpConnection) { completes <- struct{}{} })
	})
	c := dial(t, srv)
	data, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, len(payload), len(data))
	assert.True(t, bytes.Equal(payload, data))
	select {
	case <-completes:
	case <-time.After(waitFor):
		t.Fatal("write complete callback not called")
	}
}

func TestSendFromOtherGoroutineIsMarshalled(t *testing.T) {
	conns := make(chan *TcpConnection, 1)
	srv := startServer(t, testConfig(), func(s *TcpServer) {
		s.SetConnectionCallback(func(c *TcpConnection) {
			if c.Connected() {
				conns <- c
			}
		})
	})
	c := dial(t, srv)
	conn := <-conns
	assert.False(t, conn.Loop().IsInLoopThread())

	msg := []byte("from outside")
	conn.Send(msg)
	msg[0] = 'X' // Send 已复制
	conn.SendString(" and more")
	b := buffer.New()
	b.AppendString("!")
	conn.SendBuffer(b)
	assert.Zero(t, b.ReadableBytes())

	want := "from outside and more!"
	got := make([]byte, len(want))
	_, err := io.ReadFull(c, got)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
}

func TestSendAfterDisconnectIsDropped(t *testing.T) {
	closed := make(chan *TcpConnection, 1)
	srv := startServer(t, testConfig(), func(s *TcpServer) {
		s.SetConnectionCallback(func(c *TcpConnection) {
			if !c.Connected() {
				closed <- c
			}
		})
	})
	c := dial(t, srv)
	require.NoError(t, c.Close())
	conn := <-closed
	assert.True(t, conn.Disconnected())
	assert.NotPanics(t, func() {
		conn.Send([]byte("late"))
		conn.SendString("late")
		conn.Shutdown()
		conn.ForceClose()
	})
}

func TestServerForceClose(t *testing.T) {
	srv := startServer(t, testConfig(), func(s *TcpServer) {
		s.SetMessageCallback(func(c *TcpConnection, buf *buffer.Buffer) {
			if buf.RetrieveAllAsString() == "quit" {
				c.ForceClose()
			}
		})
	})
	c := dial(t, srv)
	_, err := c.Write([]byte("quit"))
	require.NoError(t, err)
	data, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Empty(t, data)
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, waitFor, tick)
}

func TestConnectionAccessors(t *testing.T) {
	type info struct {
		tcpInfo  string
		ok       bool
		reading  bool
		ctx      any
		local    string
		peerPort uint16
	}
	infos := make(chan info, 1)
	srv := startServer(t, testConfig(), func(s *TcpServer) {
		s.SetConnectionCallback(func(c *TcpConnection) {
			if !c.Connected() {
				return
			}
			c.SetContext("session")
			c.SetTCPNoDelay(true)
			ti, ok := c.TCPInfoString()
			infos <- info{ti, ok, c.IsReading(), c.Context(), c.LocalAddress().String(), c.PeerAddress().Port()}
		})
	})
	c := dial(t, srv)
	i := <-infos
	assert.True(t, i.ok)
	assert.Contains(t, i.tcpInfo, "rtt=")
	assert.True(t, i.reading)
	assert.Equal(t, "session", i.ctx)
	assert.Equal(t, srv.IPPort(), i.local)
	assert.Equal(t, uint16(c.LocalAddr().(*net.TCPAddr).Port), i.peerPort)
}

func TestStopReadPausesDelivery(t *testing.T) {
	conns := make(chan *TcpConnection, 1)
	msgs := make(chan string, 4)
	srv := startServer(t, testConfig(), func(s *TcpServer) {
		s.SetConnectionCallback(func(c *TcpConnection) {
			if c.Connected() {
				c.StopRead()
				conns <- c
			}
		})
		s.SetMessageCallback(func(_ *TcpConnection, buf *buffer.Buffer) {
			msgs <- buf.RetrieveAllAsString()
		})
	})
	c := dial(t, srv)
	conn := <-conns
	assert.False(t, conn.IsReading())

	_, err := c.Write([]byte("held"))
	require.NoError(t, err)
	select {
	case m := <-msgs:
		t.Fatalf("unexpected delivery while reading is stopped: %q", m)
	case <-time.After(100 * time.Millisecond):
	}

	conn.StartRead()
	select {
	case m := <-msgs:
		assert.Equal(t, "held", m)
	case <-time.After(waitFor):
		t.Fatal("message not delivered after StartRead")
	}
}

func TestServerMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics = NewMetrics(prometheus.NewRegistry(), "metrics")
	srv := startServer(t, cfg, func(s *TcpServer) { s.SetMessageCallback(echo) })

	c := dial(t, srv)
	_, err := c.Write([]byte("12345"))
	require.NoError(t, err)
	_, err = io.ReadFull(c, make([]byte, 5))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	m := cfg.Metrics
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.ConnsClosed) == 1 }, waitFor, tick)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnsOpened))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnsActive))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.BytesRead))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.BytesWritten))
}

func TestServerCloseDestroysLiveConnections(t *testing.T) {
	cfg := testConfig()
	cfg.NumLoops = 2
	loop := startLoop(t, cfg)
	srv := NewTcpServer(loop, NewInetAddress(0, true), cfg)
	established := make(chan struct{}, 2)
	srv.SetConnectionCallback(func(c *TcpConnection) {
		if c.Connected() {
			established <- struct{}{}
		}
	})
	srv.Start()
	srv.Start()
	runSync(loop, func() {})

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	<-established
	<-established

	var err error
	runSync(loop, func() { err = srv.Close() })
	require.NoError(t, err)
	assert.Zero(t, srv.ConnectionCount())

	for _, c := range []net.Conn{c1, c2} {
		data, err := io.ReadAll(c)
		assert.NoError(t, err)
		assert.Empty(t, data)
	}
	// 监听 fd 在 Close 之后的下一个任务里关闭
	assert.Eventually(t, func() bool {
		c, err := net.Dial("tcp", srv.IPPort())
		if err != nil {
			return true
		}
		_ = c.Close()
		return false
	}, waitFor, tick)
	runSync(loop, func() { assert.NoError(t, srv.Close()) })
}

func TestServerCloseFromCallbackWithPendingEvents(t *testing.T) {
	cfg := testConfig()
	var (
		once     sync.Once
		closeErr error
		closed   = make(chan struct{})
	)
	established := make(chan struct{}, 2)
	srv := startServer(t, cfg, func(s *TcpServer) {
		s.SetConnectionCallback(func(c *TcpConnection) {
			if c.Connected() {
				established <- struct{}{}
			}
		})
		s.SetMessageCallback(func(c *TcpConnection, buf *buffer.Buffer) {
			buf.RetrieveAll()
			once.Do(func() {
				closeErr = s.Close()
				close(closed)
			})
		})
	})
	c1 := dial(t, srv)
	c2 := dial(t, srv)
	<-established
	<-established

	// 卡住 loop，让两个连接在同一轮 poll 中同时可读
	started, release := make(chan struct{}), make(chan struct{})
	srv.loop.QueueInLoop(func() {
		close(started)
		<-release
	})
	<-started
	_, err := c1.Write([]byte("a"))
	require.NoError(t, err)
	_, err = c2.Write([]byte("b"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case <-closed:
	case <-time.After(waitFor):
		require.FailNow(t, "Close was not called from the message callback")
	}
	require.NoError(t, closeErr)
	assert.Zero(t, srv.ConnectionCount())
	for _, c := range []net.Conn{c1, c2} {
		data, err := io.ReadAll(c)
		assert.NoError(t, err)
		assert.Empty(t, data)
	}
}

func TestServerStartBeforeLoopRuns(t *testing.T) {
	cfg := testConfig()
	loops := make(chan *EventLoop)
	run := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		loop := NewEventLoop(cfg)
		loops <- loop
		<-run
		loop.Loop()
		assert.NoError(t, loop.Close())
	}()
	loop := <-loops

	srv := NewTcpServer(loop, NewInetAddress(0, true), cfg)
	srv.SetMessageCallback(echo)
	srv.Start()
	assert.False(t, loop.Looping())
	close(run)
	t.Cleanup(func() {
		runSync(loop, func() { assert.NoError(t, srv.Close()) })
		loop.Quit()
		<-exited
	})

	runSync(loop, func() {})
	c := dial(t, srv)
	_, err := c.Write([]byte("ping"))
	require.NoError(t, err)
	got := make([]byte, 4)
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
}

func TestShutdownThenSendIsDropped(t *testing.T) {
	srv := startServer(t, testConfig(), func(s *TcpServer) {
		s.SetConnectionCallback(func(c *TcpConnection) {
			if c.Connected() {
				c.Shutdown()
				c.SendString("after")
			}
		})
	})
	c := dial(t, srv)
	data, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Empty(t, data)
}
