/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"sync"
)

// Byte-slice pools used as scratch buffers by HTTPGate's readResponseBody,
// which copies the bytes out before releasing the buffer. Gateway frames
// read by Connection do not pass through these pools.
var (
	smallBytesPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 4096)
			return &b
		},
	}

	mediumBytesPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 65536)
			return &b
		},
	}

	largeBytesPool = sync.Pool{
		New: func() any {
			b := make([]byte, 0, 1048576)
			return &b
		},
	}
)

// AcquireBytes gets a byte slice from the pool sized to fit sizeHint. The
// returned slice has len=0 and cap >= sizeHint for common message sizes.
func AcquireBytes(sizeHint int) *[]byte {
	switch {
	case sizeHint <= 4096:
		return smallBytesPool.Get().(*[]byte)
	case sizeHint <= 65536:
		return mediumBytesPool.Get().(*[]byte)
	default:
		return largeBytesPool.Get().(*[]byte)
	}
}

// ReleaseBytes returns a byte slice to its pool. The slice is truncated to
// length zero but keeps its capacity.
func ReleaseBytes(b *[]byte) {
	if b == nil || *b == nil {
		return
	}
	*b = (*b)[:0]

	switch c := cap(*b); {
	case c <= 4096:
		smallBytesPool.Put(b)
	case c <= 65536:
		mediumBytesPool.Put(b)
	case c <= 1048576:
		largeBytesPool.Put(b)
	}
}
