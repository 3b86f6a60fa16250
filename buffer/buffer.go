// Package buffer 实现连接收发使用的可增长字节缓冲。
//
// 缓冲区被两个游标分为三段：
//
//	+-------------------+------------------+------------------+
//	| prependable bytes |  readable bytes  |  writable bytes  |
//	|                   |     (CONTENT)    |                  |
//	+-------------------+------------------+------------------+
//	0        <=     readerIndex   <=   writerIndex    <=    cap
//
// 前部至少保留 CheapPrepend 字节，便于在已写入的负载前补写长度头而无需二次拷贝。
// Buffer 不是并发安全的，由所属连接的 loop 线程独占使用。
package buffer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// CheapPrepend 为始终保留的前置空间
	CheapPrepend = 8
	// InitialSize 为默认可写区大小
	InitialSize = 1024
)

var crlf = []byte("\r\n")

type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
}

// New 返回可写区为 InitialSize 的缓冲。
func New() *Buffer { return NewSize(InitialSize) }

// NewSize 返回可写区为 initialSize 的缓冲。
func NewSize(initialSize int) *Buffer {
	if initialSize < 0 {
		initialSize = 0
	}
	return &Buffer{
		buf:         make([]byte, CheapPrepend+initialSize),
		readerIndex: CheapPrepend,
		writerIndex: CheapPrepend,
	}
}

func (b *Buffer) Swap(o *Buffer) {
	b.buf, o.buf = o.buf, b.buf
	b.readerIndex, o.readerIndex = o.readerIndex, b.readerIndex
	b.writerIndex, o.writerIndex = o.writerIndex, b.writerIndex
}

func (b *Buffer) ReadableBytes() int    { return b.writerIndex - b.readerIndex }
func (b *Buffer) WritableBytes() int    { return len(b.buf) - b.writerIndex }
func (b *Buffer) PrependableBytes() int { return b.readerIndex }

// Cap 为底层存储总长度，恒等于三段之和。
func (b *Buffer) Cap() int { return len(b.buf) }

// Peek 返回可读区视图，在下一次修改缓冲前有效。
func (b *Buffer) Peek() []byte { return b.buf[b.readerIndex:b.writerIndex] }

// FindCRLF 返回可读区内首个 "\r\n" 相对 Peek() 的偏移，找不到返回 -1。
func (b *Buffer) FindCRLF() int { return b.FindCRLFFrom(0) }

// FindCRLFFrom 从可读区偏移 start 处开始查找。
func (b *Buffer) FindCRLFFrom(start int) int {
	b.checkOffset(start)
	i := bytes.Index(b.Peek()[start:], crlf)
	if i < 0 {
		return -1
	}
	return start + i
}

// FindEOL 返回可读区内首个 '\n' 的偏移，找不到返回 -1。
func (b *Buffer) FindEOL() int { return b.FindEOLFrom(0) }

func (b *Buffer) FindEOLFrom(start int) int {
	b.checkOffset(start)
	i := bytes.IndexByte(b.Peek()[start:], '\n')
	if i < 0 {
		return -1
	}
	return start + i
}

// Retrieve 消费 n 字节；消费全部时两游标复位。
func (b *Buffer) Retrieve(n int) {
	if n < 0 || n > b.ReadableBytes() {
		panic(fmt.Sprintf("buffer: retrieve %d of %d readable bytes", n, b.ReadableBytes()))
	}
	if n < b.ReadableBytes() {
		b.readerIndex += n
		return
	}
	b.RetrieveAll()
}

// RetrieveUntil 消费到可读区偏移 end（不含）为止。
func (b *Buffer) RetrieveUntil(end int) {
	b.checkOffset(end)
	b.Retrieve(end)
}

func (b *Buffer) RetrieveInt64() { b.Retrieve(8) }
func (b *Buffer) RetrieveInt32() { b.Retrieve(4) }
func (b *Buffer) RetrieveInt16() { b.Retrieve(2) }
func (b *Buffer) RetrieveInt8()  { b.Retrieve(1) }

func (b *Buffer) RetrieveAll() {
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend
}

func (b *Buffer) RetrieveAllAsString() string { return b.RetrieveAsString(b.ReadableBytes()) }

func (b *Buffer) RetrieveAsString(n int) string {
	if n > b.ReadableBytes() {
		panic(fmt.Sprintf("buffer: retrieve %d of %d readable bytes", n, b.ReadableBytes()))
	}
	s := string(b.buf[b.readerIndex : b.readerIndex+n])
	b.Retrieve(n)
	return s
}

// String 返回可读区内容的拷贝，不消费。
func (b *Buffer) String() string { return string(b.Peek()) }

func (b *Buffer) Append(p []byte) {
	b.EnsureWritableBytes(len(p))
	copy(b.buf[b.writerIndex:], p)
	b.HasWritten(len(p))
}

func (b *Buffer) AppendString(s string) {
	b.EnsureWritableBytes(len(s))
	copy(b.buf[b.writerIndex:], s)
	b.HasWritten(len(s))
}

// Write 实现 io.Writer，永不失败。
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// EnsureWritableBytes 保证之后至少有 n 字节可写。
func (b *Buffer) EnsureWritableBytes(n int) {
	if b.WritableBytes() < n {
		b.makeSpace(n)
	}
}

// BeginWrite 返回可写区视图，配合 HasWritten 使用。
func (b *Buffer) BeginWrite() []byte { return b.buf[b.writerIndex:] }

func (b *Buffer) HasWritten(n int) {
	if n < 0 || n > b.WritableBytes() {
		panic(fmt.Sprintf("buffer: has written %d of %d writable bytes", n, b.WritableBytes()))
	}
	b.writerIndex += n
}

// Unwrite 撤销最近写入的 n 字节。
func (b *Buffer) Unwrite(n int) {
	if n < 0 || n > b.ReadableBytes() {
		panic(fmt.Sprintf("buffer: unwrite %d of %d readable bytes", n, b.ReadableBytes()))
	}
	b.writerIndex -= n
}

func (b *Buffer) AppendInt64(x int64) {
	var a [8]byte
	binary.BigEndian.PutUint64(a[:], uint64(x))
	b.Append(a[:])
}

func (b *Buffer) AppendInt32(x int32) {
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], uint32(x))
	b.Append(a[:])
}

func (b *Buffer) AppendInt16(x int16) {
	var a [2]byte
	binary.BigEndian.PutUint16(a[:], uint16(x))
	b.Append(a[:])
}

func (b *Buffer) AppendInt8(x int8) { b.Append([]byte{byte(x)}) }

func (b *Buffer) ReadInt64() int64 {
	x := b.PeekInt64()
	b.RetrieveInt64()
	return x
}

func (b *Buffer) ReadInt32() int32 {
	x := b.PeekInt32()
	b.RetrieveInt32()
	return x
}

func (b *Buffer) ReadInt16() int16 {
	x := b.PeekInt16()
	b.RetrieveInt16()
	return x
}

func (b *Buffer) ReadInt8() int8 {
	x := b.PeekInt8()
	b.RetrieveInt8()
	return x
}

func (b *Buffer) PeekInt64() int64 {
	b.checkReadable(8)
	return int64(binary.BigEndian.Uint64(b.Peek()))
}

func (b *Buffer) PeekInt32() int32 {
	b.checkReadable(4)
	return int32(binary.BigEndian.Uint32(b.Peek()))
}

func (b *Buffer) PeekInt16() int16 {
	b.checkReadable(2)
	return int16(binary.BigEndian.Uint16(b.Peek()))
}

func (b *Buffer) PeekInt8() int8 {
	b.checkReadable(1)
	return int8(b.buf[b.readerIndex])
}

func (b *Buffer) PrependInt64(x int64) {
	var a [8]byte
	binary.BigEndian.PutUint64(a[:], uint64(x))
	b.Prepend(a[:])
}

func (b *Buffer) PrependInt32(x int32) {
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], uint32(x))
	b.Prepend(a[:])
}

func (b *Buffer) PrependInt16(x int16) {
	var a [2]byte
	binary.BigEndian.PutUint16(a[:], uint16(x))
	b.Prepend(a[:])
}

func (b *Buffer) PrependInt8(x int8) { b.Prepend([]byte{byte(x)}) }

// Prepend 把 p 写到可读区之前，要求 len(p) <= PrependableBytes()。
func (b *Buffer) Prepend(p []byte) {
	if len(p) > b.PrependableBytes() {
		panic(fmt.Sprintf("buffer: prepend %d into %d prependable bytes", len(p), b.PrependableBytes()))
	}
	b.readerIndex -= len(p)
	copy(b.buf[b.readerIndex:], p)
}

// Shrink 把底层存储收缩到 可读内容 + reserve。
func (b *Buffer) Shrink(reserve int) {
	o := NewSize(b.ReadableBytes() + reserve)
	o.Append(b.Peek())
	b.Swap(o)
}

// makeSpace 优先把可读区挪回 CheapPrepend 处复用已消费空间，不够时才扩容。
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n+CheapPrepend {
		grown := make([]byte, b.writerIndex+n)
		copy(grown, b.buf[:b.writerIndex])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf[CheapPrepend:], b.buf[b.readerIndex:b.writerIndex])
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend + readable
}

func (b *Buffer) checkReadable(n int) {
	if b.ReadableBytes() < n {
		panic(fmt.Sprintf("buffer: need %d readable bytes, have %d", n, b.ReadableBytes()))
	}
}

func (b *Buffer) checkOffset(off int) {
	if off < 0 || off > b.ReadableBytes() {
		panic(fmt.Sprintf("buffer: offset %d outside readable region of %d", off, b.ReadableBytes()))
	}
}
