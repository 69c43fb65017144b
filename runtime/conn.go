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

package runtime

import "github.com/wheatnet/wheatnet/internal/slice"

type cleanupEntry struct {
	fn   func(data interface{})
	data interface{}
}

// Conn is one parsed protocol message unit on a Client. A single client may
// have multiple conns alive at once (pipelined requests); each finishes
// independently, but finish order follows arrival order so responses are
// flushed in request order.
type Conn struct {
	client *Client // non-owning back-pointer; lifetime is a sub-lifetime of client's

	ProtocolData interface{}
	protocol     *Protocol

	App         *App
	AppData     interface{}

	sendQueue []slice.Slice
	readySend bool

	cleanups []cleanupEntry
	finished bool
}

// Client returns the owning client.
func (c *Conn) Client() *Client { return c.client }

// IP returns the peer IP of the owning client.
func (c *Conn) IP() string { return c.client.IP }

// Port returns the peer port of the owning client.
func (c *Conn) Port() int { return c.client.Port }

func (c *Conn) sendQueueEmpty() bool { return len(c.sendQueue) == 0 }

// PopSend removes and returns the oldest unsent slice for c, for a worker's
// write path to drain in FIFO order. The caller takes over s's release.
func PopSend(c *Conn) (slice.Slice, bool) {
	if len(c.sendQueue) == 0 {
		return slice.Slice{}, false
	}
	s := c.sendQueue[0]
	c.sendQueue = c.sendQueue[1:]
	return s, true
}

// PushSendFront restores s to the head of c's send queue. Used after a
// short, non-blocking write: s should already be advanced (slice.Advance)
// past the bytes that made it onto the wire, so the next write resumes
// exactly where the last one left off — no bytes duplicated, none lost,
// and s is not released until it is either fully written or the conn tears
// down (spec.md §4.6, §8's partial-write boundary case).
func PushSendFront(c *Conn, s slice.Slice) {
	c.sendQueue = append([]slice.Slice{s}, c.sendQueue...)
}

// ReadySend reports whether the app has finished producing output for
// this conn (it may still have partial output enqueued).
func (c *Conn) ReadySend() bool { return c.readySend }

// MarkReadySend signals that appCall has finished enqueueing output
// (spec.md §4.3). An app that finishes synchronously calls it before
// returning from AppCall; the dispatcher itself sets it only when AppCall
// returns WRONG.
func (c *Conn) MarkReadySend() { c.readySend = true }

// SendClientData transfers s's ownership to the worker for ordered
// delivery: from this call the worker (not the caller) is responsible for
// releasing s's backing memory, either after a successful write or at conn
// teardown if the write never completes.
func SendClientData(c *Conn, s slice.Slice) {
	c.sendQueue = append(c.sendQueue, s)
}

// SendClientFile is the file send entry point. It reads up to size bytes
// through read, in 32 KiB chunks, into one pooled buffer and enqueues that
// buffer like any other response slice; there is no sendfile path.
func SendClientFile(c *Conn, read func([]byte) (int, error), size int64) error {
	s := slice.Get(int(size))
	buf := make([]byte, 32*1024)
	var total int64
	for total < size {
		n, err := read(buf)
		if n > 0 {
			s = s.Append(buf[:n])
			total += int64(n)
		}
		if err != nil {
			break
		}
	}
	SendClientData(c, s)
	return nil
}

// RegisterConnFree pushes a cleanup callback; FinishConn pops all pairs in
// LIFO order exactly once.
func RegisterConnFree(c *Conn, fn func(data interface{}), data interface{}) {
	c.cleanups = append(c.cleanups, cleanupEntry{fn: fn, data: data})
}

// SetClientClose requests that the owning client close once its remaining
// conns finish.
func SetClientClose(c *Conn) { c.client.ShouldClose = true }

// FinishConn runs the cleanup stack in LIFO order, frees protocol and app
// data, drops (and releases) any unflushed send-queue slices, and unlinks
// the conn from its client. Idempotent: a second call is a no-op. Finishing
// the last conn on a should-close client frees the client.
func FinishConn(c *Conn) {
	if c.finished {
		return
	}
	c.finished = true

	for i := len(c.cleanups) - 1; i >= 0; i-- {
		entry := c.cleanups[i]
		entry.fn(entry.data)
	}
	c.cleanups = nil

	if c.protocol != nil && c.protocol.FreeProtocolData != nil && c.ProtocolData != nil {
		c.protocol.FreeProtocolData(c.ProtocolData)
	}
	c.ProtocolData = nil

	if c.App != nil && c.App.FreeAppData != nil && c.AppData != nil {
		c.App.FreeAppData(c.AppData)
	}
	c.AppData = nil

	for _, s := range c.sendQueue {
		s.Release()
	}
	c.sendQueue = nil

	cl := c.client
	cl.unlink(c)
	if cl.shouldFree() {
		cl.Free()
	}
}

// unlink removes c from its client's pending slot or parsed FIFO.
func (cl *Client) unlink(c *Conn) {
	if cl.pending == c {
		cl.pending = nil
		return
	}
	for i, other := range cl.conns {
		if other == c {
			cl.conns = append(cl.conns[:i], cl.conns[i+1:]...)
			return
		}
	}
}

// ConnGet starts a new outbound conn on a dialled client, the symmetric
// counterpart to the inbound parse path, used when the worker process
// itself acts as a client of an upstream (e.g. an app proxying requests).
func ConnGet(cl *Client) *Conn {
	return cl.beginConn()
}
