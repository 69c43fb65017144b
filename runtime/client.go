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

import (
	"sync/atomic"
	"time"
)

// Client is one accepted (or dialled) socket and its parsing/sending state.
type Client struct {
	FD   int
	IP   string
	Port int
	Name string

	Protocol *Protocol

	// pending is the conn currently being parsed into, if any.
	pending *Conn
	// conns is the FIFO of fully-parsed conns awaiting dispatch/send.
	conns []*Conn

	// ReadBuf holds bytes read from the socket but not yet consumed by the
	// protocol parser; leftover bytes seed the next parse cycle.
	ReadBuf []byte

	ClientData interface{} // owned by whichever app is currently bound

	notify     func(*Client)
	notifyOnce bool

	IsOuter     bool
	ShouldClose bool
	valid       int32 // atomic bool; cleared on I/O error

	lastIO int64 // unix nanos, atomic
}

// NewClient constructs a Client bound to protocol p, ready to accept bytes.
// is_outer distinguishes an accepted inbound socket from a dialled one.
func NewClient(fd int, ip string, port int, p *Protocol, isOuter bool) *Client {
	c := &Client{
		FD:       fd,
		IP:       ip,
		Port:     port,
		Protocol: p,
		IsOuter:  isOuter,
		valid:    1,
	}
	c.Touch()
	return c
}

// Touch advances LastIO; invariant: LastIO is non-decreasing.
func (c *Client) Touch() {
	atomic.StoreInt64(&c.lastIO, time.Now().UnixNano())
}

// LastIO returns the last successful read/write time.
func (c *Client) LastIO() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastIO))
}

// Valid reports whether the worker still considers this client's fd usable.
func (c *Client) Valid() bool { return atomic.LoadInt32(&c.valid) == 1 }

// SetInvalid clears Valid, letting the accept loop reclaim the client on an
// unrecoverable I/O error.
func (c *Client) SetInvalid() { atomic.StoreInt32(&c.valid, 0) }

// NeedsSend reports whether any conn on this client has unflushed output;
// such a client must be offered write opportunities by its worker.
func (c *Client) NeedsSend() bool {
	for _, conn := range c.conns {
		if !conn.sendQueueEmpty() {
			return true
		}
	}
	return false
}

// Pending returns the conn currently being parsed into, or nil.
func (c *Client) Pending() *Conn { return c.pending }

// HeadConn returns the oldest fully-parsed conn awaiting dispatch/send, or
// nil. Conns finish in FIFO/arrival order so responses flush in request
// order (spec invariant: finish order follows arrival order).
func (c *Client) HeadConn() *Conn {
	if len(c.conns) == 0 {
		return nil
	}
	return c.conns[0]
}

// popHeadConn removes and returns the oldest parsed conn.
func (c *Client) popHeadConn() *Conn {
	if len(c.conns) == 0 {
		return nil
	}
	conn := c.conns[0]
	c.conns = c.conns[1:]
	return conn
}

// beginConn starts a new pending conn on this client, used by the protocol
// dispatcher to seed a fresh parse cycle (including pipelining: leftover
// bytes from one parse may begin a new conn on the same client).
func (c *Client) beginConn() *Conn {
	conn := &Conn{client: c}
	c.pending = conn
	return conn
}

// completePending moves the pending conn onto the parsed FIFO, ready for
// app dispatch.
func (c *Client) completePending() *Conn {
	conn := c.pending
	c.pending = nil
	c.conns = append(c.conns, conn)
	return conn
}

// SetFreeNotify installs the hook fired exactly once when this client is freed.
func (c *Client) SetFreeNotify(fn func(*Client)) { c.notify = fn }

// finished reports whether the client has no pending or queued conns left.
func (c *Client) finished() bool {
	return c.pending == nil && len(c.conns) == 0
}

// Free tears the client down: finishes any still-queued conns (freeing
// unflushed slices), fires the notify hook exactly once, and releases the
// read buffer. Idempotent.
func (c *Client) Free() {
	if c.notifyOnce {
		return
	}
	c.notifyOnce = true

	if c.pending != nil {
		FinishConn(c.pending)
	}
	// FinishConn unlinks each conn from c.conns, so iterate over a copy.
	queued := append([]*Conn(nil), c.conns...)
	for _, conn := range queued {
		FinishConn(conn)
	}
	c.conns = nil
	c.ReadBuf = nil

	if c.notify != nil {
		c.notify(c)
	}
}

// shouldFree reports whether this client is ready to be torn down: either
// ShouldClose with no in-flight conns, or already marked invalid.
func (c *Client) shouldFree() bool {
	if !c.Valid() {
		return true
	}
	return c.ShouldClose && c.finished()
}
