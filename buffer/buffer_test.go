package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferAppendAndPop(t *testing.T) {
	b := New(InitialSize)
	require.Equal(t, CheapPrepend, b.PrependableBytes())
	require.Equal(t, 0, b.ReadableBytes())

	b.AppendString("hello")
	require.Equal(t, 5, b.ReadableBytes())
	require.Equal(t, "hello", string(b.Peek()))

	b.Pop(2)
	require.Equal(t, "llo", string(b.Peek()))

	require.Equal(t, "llo", b.PopAll())
	require.Equal(t, 0, b.ReadableBytes())
}

func TestBufferPrepend(t *testing.T) {
	b := New(InitialSize)
	b.AppendString("world")
	b.PrependUint32(5)
	require.Equal(t, uint32(5), b.PeekUint32())
	b.Pop(4)
	require.Equal(t, "world", string(b.Peek()))
}

func TestBufferGrowsByReallocationWhenSlackInsufficient(t *testing.T) {
	b := New(CheapPrepend + 4)
	b.AppendString("abcd")
	require.Equal(t, 0, b.WritableBytes())

	// Nothing has been consumed, so there's no prepend slack to reclaim;
	// this must reallocate rather than compact.
	b.AppendString("efgh")
	require.Equal(t, "abcdefgh", string(b.Peek()))
}

func TestBufferCompactsWhenPrependSlackSuffices(t *testing.T) {
	b := New(CheapPrepend + 16)
	b.AppendString("0123456789abcdef")
	b.Pop(12) // readIdx now well past CheapPrepend, leaving reclaimable slack
	before := len(b.buf)

	b.AppendString("XY") // must fit via compaction, not reallocation
	require.Equal(t, before, len(b.buf))
	require.Equal(t, "cdefXY", string(b.Peek()))
}

func TestBufferPopBeyondReadableClears(t *testing.T) {
	b := New(InitialSize)
	b.AppendString("abc")
	b.Pop(100)
	require.Equal(t, 0, b.ReadableBytes())
	require.Equal(t, CheapPrepend, b.PrependableBytes())
}

func TestBufferPrependPanicsWhenSlackExceeded(t *testing.T) {
	b := New(InitialSize)
	require.Panics(t, func() {
		b.Prepend(make([]byte, CheapPrepend+1))
	})
}
