package buffer

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertZones(t *testing.T, b *Buffer) {
	t.Helper()
	assert.Equal(t, b.Cap(), b.PrependableBytes()+b.ReadableBytes()+b.WritableBytes())
	assert.GreaterOrEqual(t, b.ReadableBytes(), 0)
	assert.GreaterOrEqual(t, b.PrependableBytes(), 0)
}

func TestAppendRetrieve(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, InitialSize, b.WritableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())

	b.AppendString(strings.Repeat("x", 200))
	assert.Equal(t, 200, b.ReadableBytes())
	assert.Equal(t, InitialSize-200, b.WritableBytes())

	s := b.RetrieveAsString(50)
	assert.Len(t, s, 50)
	assert.Equal(t, 150, b.ReadableBytes())
	assert.Equal(t, CheapPrepend+50, b.PrependableBytes())

	b.AppendString(strings.Repeat("y", 200))
	assert.Equal(t, 350, b.ReadableBytes())

	all := b.RetrieveAllAsString()
	assert.Equal(t, strings.Repeat("x", 150)+strings.Repeat("y", 200), all)
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
	assertZones(t, b)
}

func TestGrow(t *testing.T) {
	b := New()
	b.AppendString(strings.Repeat("y", 400))
	b.Retrieve(50)

	b.AppendString(strings.Repeat("z", 1000))
	assert.Equal(t, 1350, b.ReadableBytes())
	assert.Equal(t, 0, b.WritableBytes())
	assert.Equal(t, CheapPrepend+50, b.PrependableBytes())
	assert.Equal(t, strings.Repeat("y", 350)+strings.Repeat("z", 1000), b.String())

	b.RetrieveAll()
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
	assert.Equal(t, 1400, b.WritableBytes())
	assertZones(t, b)
}

func TestInsideGrowCompacts(t *testing.T) {
	b := New()
	b.AppendString(strings.Repeat("y", 800))
	b.Retrieve(500)
	capBefore := b.Cap()

	b.AppendString(strings.Repeat("z", 300))
	assert.Equal(t, capBefore, b.Cap(), "compaction must not reallocate")
	assert.Equal(t, 600, b.ReadableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
	assert.Equal(t, strings.Repeat("y", 300)+strings.Repeat("z", 300), b.String())
}

func TestShrink(t *testing.T) {
	b := New()
	b.AppendString(strings.Repeat("y", 2000))
	b.Retrieve(1500)
	b.Shrink(0)
	assert.Equal(t, 500, b.ReadableBytes())
	assert.Equal(t, 0, b.WritableBytes())
	assert.Equal(t, strings.Repeat("y", 500), b.RetrieveAllAsString())
}

func TestPrepend(t *testing.T) {
	b := New()
	b.AppendString("payload")
	before := b.ReadableBytes()
	b.Prepend([]byte{0xde, 0xad})
	assert.Equal(t, before+2, b.ReadableBytes())
	assert.Equal(t, []byte{0xde, 0xad}, b.Peek()[:2])

	b.RetrieveAll()
	b.AppendString("abc")
	b.PrependInt32(3)
	assert.Equal(t, int32(3), b.ReadInt32())
	assert.Equal(t, "abc", b.RetrieveAllAsString())

	assert.Panics(t, func() { b.Prepend(make([]byte, CheapPrepend+1)) })
}

func TestIntegerRoundTrip(t *testing.T) {
	b := New()
	for _, x := range []int64{0, 1, -1, math.MinInt64, math.MaxInt64, 0x0102030405060708} {
		b.AppendInt64(x)
		assert.Equal(t, x, b.PeekInt64())
		assert.Equal(t, x, b.ReadInt64())
	}
	for _, x := range []int32{0, 1, -1, math.MinInt32, math.MaxInt32} {
		b.AppendInt32(x)
		assert.Equal(t, x, b.ReadInt32())
	}
	for _, x := range []int16{0, 1, -1, math.MinInt16, math.MaxInt16} {
		b.AppendInt16(x)
		assert.Equal(t, x, b.ReadInt16())
	}
	for _, x := range []int8{0, 1, -1, math.MinInt8, math.MaxInt8} {
		b.AppendInt8(x)
		assert.Equal(t, x, b.ReadInt8())
	}
	assert.Equal(t, 0, b.ReadableBytes())
}

func TestIntegersAreBigEndian(t *testing.T) {
	b := New()
	b.AppendInt32(0x01020304)
	assert.Equal(t, []byte{1, 2, 3, 4}, b.Peek())
	b.RetrieveAll()
	b.AppendInt16(-2)
	assert.Equal(t, []byte{0xff, 0xfe}, b.Peek())
}

func TestPeekIntUnderflowPanics(t *testing.T) {
	b := New()
	b.AppendInt16(1)
	assert.Panics(t, func() { b.PeekInt32() })
	assert.Panics(t, func() { b.Retrieve(3) })
}

func TestFindCRLFAndEOL(t *testing.T) {
	b := New()
	b.AppendString("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	i := b.FindCRLF()
	require.Equal(t, 14, i)
	assert.Equal(t, 23, b.FindCRLFFrom(i+2))
	assert.Equal(t, 15, b.FindEOL())

	b.RetrieveUntil(i + 2)
	assert.Equal(t, "Host: x\r\n\r\n", b.String())

	b.RetrieveAll()
	b.AppendString("no line end")
	assert.Equal(t, -1, b.FindCRLF())
	assert.Equal(t, -1, b.FindEOL())

	// 只在可读区内查找，已消费的数据不可见
	b.RetrieveAll()
	b.AppendString("a\r\nb")
	b.Retrieve(3)
	assert.Equal(t, -1, b.FindCRLF())
}

func TestUnwriteAndHasWritten(t *testing.T) {
	b := New()
	n := copy(b.BeginWrite(), "hello")
	b.HasWritten(n)
	assert.Equal(t, "hello", b.String())
	b.Unwrite(2)
	assert.Equal(t, "hel", b.String())
	assert.Panics(t, func() { b.Unwrite(4) })
}

func TestSwap(t *testing.T) {
	a, c := New(), NewSize(16)
	a.AppendString("a")
	c.AppendString("cc")
	a.Swap(c)
	assert.Equal(t, "cc", a.String())
	assert.Equal(t, "a", c.String())
}

func TestRandomOpsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := NewSize(16)
	var model []byte
	for i := 0; i < 5000; i++ {
		switch rng.Intn(3) {
		case 0, 1:
			p := make([]byte, rng.Intn(300))
			rng.Read(p)
			b.Append(p)
			model = append(model, p...)
		case 2:
			n := 0
			if len(model) > 0 {
				n = rng.Intn(len(model) + 1)
			}
			b.Retrieve(n)
			model = model[n:]
		}
		require.Equal(t, b.Cap(), b.PrependableBytes()+b.ReadableBytes()+b.WritableBytes())
		require.GreaterOrEqual(t, b.PrependableBytes(), 0)
		require.Equal(t, len(model), b.ReadableBytes())
		if b.ReadableBytes() == 0 {
			require.Equal(t, CheapPrepend, b.PrependableBytes())
		}
	}
	assert.Equal(t, model, b.Peek())
	b.Retrieve(b.ReadableBytes())
	assert.Equal(t, CheapPrepend, b.PrependableBytes())
}
