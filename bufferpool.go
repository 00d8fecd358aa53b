package asio2

import (
	"math/bits"
	"sync"
)

const (
	// maxBufferSize is the maximum size of buffers that will be pooled.
	maxBufferSize = 64 * 1024 // 64KB

	// minBufferSize is the smallest pooled size class.
	minBufferSize = 32
)

// bufferPool keeps one sync.Pool per power-of-two size class.
type bufferPool struct {
	pools []*sync.Pool
}

// Global buffer pool instance.
var globalBufferPool = newBufferPool()

// newBufferPool creates a new buffer pool with classes 32B..64KB.
func newBufferPool() *bufferPool {
	bp := &bufferPool{}
	for size := minBufferSize; size <= maxBufferSize; size <<= 1 {
		bp.pools = append(bp.pools, &sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		})
	}
	return bp
}

// classOf returns the pool index whose size is the smallest power of two >= size.
func classOf(size int) int {
	if size <= minBufferSize {
		return 0
	}
	return bits.Len(uint(size-1)) - bits.Len(uint(minBufferSize-1))
}

// getBuffer returns a slice of length size. Sizes above maxBufferSize are
// allocated directly.
func (bp *bufferPool) getBuffer(size int) []byte {
	if size > maxBufferSize {
		return make([]byte, size)
	}
	bufp := bp.pools[classOf(size)].Get().(*[]byte)
	return (*bufp)[:size]
}

// putBuffer returns buf to its size class. Buffers whose capacity is not an
// exact class size are dropped.
func (bp *bufferPool) putBuffer(buf []byte) {
	c := cap(buf)
	if c < minBufferSize || c > maxBufferSize || c&(c-1) != 0 {
		return
	}
	buf = buf[:c]
	bp.pools[classOf(c)].Put(&buf)
}

// GetBuffer returns a pooled slice of length size.
func GetBuffer(size int) []byte {
	return globalBufferPool.getBuffer(size)
}

// PutBuffer hands a slice obtained from GetBuffer back to the pool.
func PutBuffer(buf []byte) {
	globalBufferPool.putBuffer(buf)
}
