// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package slice is the mbuf pool: a borrowed (pointer, length) view over
// pooled memory. A Slice never owns the bytes it points at; ownership of
// the underlying buffer lives with whoever last received it across a
// contract boundary (read buffer, app response, worker send queue).
package slice

import "github.com/valyala/bytebufferpool"

var pool bytebufferpool.Pool

// Slice is a non-owning byte-range view. The zero value is a valid,
// unpooled, empty slice.
type Slice struct {
	base []byte
	buf  *bytebufferpool.ByteBuffer
}

// Get borrows a pooled buffer with room for at least n bytes and returns a
// Slice viewing its (empty) contents. Call Append to fill it before Send.
func Get(n int) Slice {
	b := pool.Get()
	if cap(b.B) < n {
		b.B = make([]byte, 0, n)
	}
	return Slice{base: b.B, buf: b}
}

// Wrap views a caller-owned byte slice without any pool backing. Release
// is a no-op; use this for static/constant response bytes (e.g. a literal
// protocol error string) that nothing should try to return to a pool.
func Wrap(b []byte) Slice {
	return Slice{base: b}
}

// Append grows the slice's pooled backing buffer, mirroring bytebufferpool's
// amortized-growth behavior, and returns the updated view.
func (s Slice) Append(p []byte) Slice {
	if s.buf != nil {
		s.buf.B = append(s.buf.B, p...)
		s.base = s.buf.B
		return s
	}
	return Slice{base: append(s.base, p...)}
}

// Bytes returns the viewed bytes. The caller must not retain this slice
// header past a call that transfers ownership (e.g. SendClientData).
func (s Slice) Bytes() []byte { return s.base }

// Len reports the number of viewed bytes.
func (s Slice) Len() int { return len(s.base) }

// Empty reports whether the slice has no bytes left to send.
func (s Slice) Empty() bool { return len(s.base) == 0 }

// Advance returns a view of s with the first n bytes consumed, used after a
// short write on the send path; the backing buffer is unchanged so no bytes
// are duplicated or lost.
func (s Slice) Advance(n int) Slice {
	s.base = s.base[n:]
	return s
}

// Release returns the underlying buffer to the pool. Safe to call on a
// Wrap-constructed or zero-value Slice (no-op). Calling it twice on a
// pooled Slice double-frees the buffer, which is why every call site that
// takes ownership of a Slice (SendClientData, finishConn) releases exactly
// once.
func (s Slice) Release() {
	if s.buf != nil {
		pool.Put(s.buf)
	}
}
