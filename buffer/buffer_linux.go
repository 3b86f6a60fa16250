//go:build linux

package buffer

import (
	"sync"

	"golang.org/x/sys/unix"
)

const extraBufSize = 64 << 10

var extraPool = sync.Pool{New: func() any {
	b := make([]byte, extraBufSize)
	return &b
}}

// ReadFD 用一次 readv 把 fd 中的数据读入缓冲：可写尾部 + 64KiB 临时区。
// 溢出到临时区的部分随后追加进（已扩容的）缓冲，常见情况下只需一次系统调用，
// 也不必为最坏情况预留大块常驻内存。返回读到的字节数；n<0 时 err 为 unix.Errno。
func (b *Buffer) ReadFD(fd int) (int, error) {
	extra := extraPool.Get().(*[]byte)
	defer extraPool.Put(extra)

	writable := b.WritableBytes()
	iovs := [][]byte{b.buf[b.writerIndex:], *extra}
	if writable >= extraBufSize {
		iovs = iovs[:1]
	}
	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return -1, err
	}
	if n <= writable {
		b.writerIndex += n
	} else {
		b.writerIndex = len(b.buf)
		b.Append((*extra)[:n-writable])
	}
	return n, nil
}
