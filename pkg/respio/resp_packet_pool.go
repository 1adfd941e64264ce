package respio

import "sync"

// maxPooledBuffer keeps one large request from pinning its buffer forever.
const maxPooledBuffer = 64 * 1024

// bufferPool holds scratch buffers for request encoding.
var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 512)
		return &b
	},
}

// AcquireBuffer gets an empty encode buffer from the pool.
func AcquireBuffer() *[]byte {
	b := bufferPool.Get().(*[]byte)
	*b = (*b)[:0]
	return b
}

// ReleaseBuffer returns b to the pool. The caller must not touch b afterwards.
func ReleaseBuffer(b *[]byte) {
	if b == nil || cap(*b) > maxPooledBuffer {
		return
	}
	bufferPool.Put(b)
}
