// Package goid 提供当前 goroutine 的编号。
// EventLoop 用它实现“每线程一个 loop”以及 loop 线程断言。
package goid

import "runtime"

// Get 返回当前 goroutine 的 id；解析 runtime.Stack 的首行 "goroutine N [...]"。
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
