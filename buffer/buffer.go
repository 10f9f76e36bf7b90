// Package buffer implements the grow-on-demand byte container the
// connection needs (netreactor's spec component G): a readable region, a
// writable region, and a small cheap-prepend region in front of the read
// cursor for inserting length-prefix headers without a copy or realloc.
package buffer

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

const (
	// CheapPrepend is the size of the reserved region in front of the
	// readable window.
	CheapPrepend = 8
	// InitialSize is the default backing-array size for a new Buffer.
	InitialSize = 1024
	// extraBufferSize is the size of the on-stack scatter-read overflow
	// area used by ReadFromFD.
	extraBufferSize = 65536
)

// Buffer is a grow-on-demand byte container.
//
// Invariant: 0 <= CheapPrepend <= readIdx <= writeIdx <= len(buf).
type Buffer struct {
	buf      []byte
	readIdx  int
	writeIdx int
}

// New creates a Buffer with the given initial backing size (at least
// CheapPrepend).
func New(initialSize int) *Buffer {
	if initialSize < CheapPrepend {
		initialSize = CheapPrepend
	}
	return &Buffer{
		buf:      make([]byte, initialSize),
		readIdx:  CheapPrepend,
		writeIdx: CheapPrepend,
	}
}

// ReadableBytes is the number of bytes available to read.
func (b *Buffer) ReadableBytes() int { return b.writeIdx - b.readIdx }

// WritableBytes is the number of bytes available to append without growing.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writeIdx }

// PrependableBytes is the free space in front of the read cursor.
func (b *Buffer) PrependableBytes() int { return b.readIdx }

// Peek returns the readable region without consuming it. The returned slice
// is only valid until the next mutating call.
func (b *Buffer) Peek() []byte { return b.buf[b.readIdx:b.writeIdx] }

// Clear resets the buffer to empty, keeping the backing array.
func (b *Buffer) Clear() {
	b.readIdx = CheapPrepend
	b.writeIdx = CheapPrepend
}

// Pop consumes n bytes from the front of the readable region. n is clamped
// to ReadableBytes.
func (b *Buffer) Pop(n int) {
	if n >= b.ReadableBytes() {
		b.Clear()
		return
	}
	b.readIdx += n
}

// PopAll consumes the entire readable region and returns it as a string.
func (b *Buffer) PopAll() string {
	s := string(b.buf[b.readIdx:b.writeIdx])
	b.Clear()
	return s
}

// PopString consumes n bytes and returns them as a string.
func (b *Buffer) PopString(n int) string {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	s := string(b.buf[b.readIdx : b.readIdx+n])
	b.Pop(n)
	return s
}

// Append appends data to the writable region, growing or compacting the
// backing array as needed.
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	b.writeIdx += copy(b.buf[b.writeIdx:], data)
}

// AppendString appends a string's bytes.
func (b *Buffer) AppendString(s string) { b.Append([]byte(s)) }

// Prepend writes data into the cheap-prepend slack immediately before the
// readable region. The caller must ensure PrependableBytes() >= len(data);
// it panics otherwise, since a short header write failing silently would
// corrupt the wire framing it exists to support.
func (b *Buffer) Prepend(data []byte) {
	if len(data) > b.PrependableBytes() {
		panic("buffer: prepend exceeds prependable region")
	}
	b.readIdx -= len(data)
	copy(b.buf[b.readIdx:], data)
}

// ensureWritable grows (by reallocation) or compacts (by copying the
// readable region back to the cheap-prepend boundary) so that at least n
// bytes are writable. Compaction is preferred whenever the combined free
// space (writable + prependable, less the reserved CheapPrepend slack)
// suffices; otherwise the backing array is reallocated.
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.WritableBytes()+b.PrependableBytes() < n+CheapPrepend {
		newBuf := make([]byte, b.writeIdx+n)
		copy(newBuf, b.buf[:b.writeIdx])
		b.buf = newBuf
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf[CheapPrepend:], b.buf[b.readIdx:b.writeIdx])
	b.readIdx = CheapPrepend
	b.writeIdx = b.readIdx + readable
}

// ReadFromFD scatter-reads from fd into the writable region and a 64 KiB
// on-stack overflow area in a single readv(2), growing the buffer by the
// overflow amount if the read exceeded the writable region. It returns the
// number of bytes read (0 means EOF) and, on error, the errno via err.
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	var extra [extraBufferSize]byte
	writable := b.WritableBytes()

	iovs := make([][]byte, 0, 2)
	if writable > 0 {
		iovs = append(iovs, b.buf[b.writeIdx:])
	}
	if writable < extraBufferSize {
		iovs = append(iovs, extra[:])
	}

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}
	if n <= writable {
		b.writeIdx += n
	} else {
		b.writeIdx += writable
		b.Append(extra[:n-writable])
	}
	return n, nil
}

// Big-endian fixed-width integer helpers, provided for framing but not part
// of the core read/write contract.

// AppendUint64 appends v as big-endian.
func (b *Buffer) AppendUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.Append(tmp[:])
}

// AppendUint32 appends v as big-endian.
func (b *Buffer) AppendUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Append(tmp[:])
}

// AppendUint16 appends v as big-endian.
func (b *Buffer) AppendUint16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.Append(tmp[:])
}

// PeekUint32 reads, without consuming, a big-endian uint32 from the front of
// the readable region.
func (b *Buffer) PeekUint32() uint32 {
	return binary.BigEndian.Uint32(b.buf[b.readIdx:])
}

// PrependUint32 writes v as big-endian into the cheap-prepend slack.
func (b *Buffer) PrependUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Prepend(tmp[:])
}
