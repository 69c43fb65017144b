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

// Package syncworker is the thread-blocking I/O worker (spec.md §4.5): one
// goroutine per client, parked in a blocking Read between requests. Simple
// and predictable; throughput is bounded by goroutine count rather than
// event-loop cleverness.
package syncworker

import (
	"net"
	"syscall"
	"time"

	"github.com/wheatnet/wheatnet/internal/logging"
	"github.com/wheatnet/wheatnet/internal/stats"
	"github.com/wheatnet/wheatnet/runtime"
)

const Name = "SyncWorker"

// AllowList gates accepted peers before a Client is even created. Nil
// allows everyone.
type AllowList interface {
	Allow(ip string) bool
}

// Options configures buffer sizing and idle behavior.
type Options struct {
	ReadBufferCap int
	IdleTimeout   time.Duration
	Stats         *stats.Worker
	AllowList     AllowList
}

// New returns the Worker registration table. Registry.RegisterWorker needs
// this only for its Setup/Cron hooks and its name; Serve below is what
// actually drives the accept/read/write loop for this model.
func New(opt Options) *runtime.Worker {
	return &runtime.Worker{
		Name:  Name,
		Setup: func() {},
		Cron:  func() {},
		SendData: func(c *runtime.Conn) (int, error) {
			return 0, nil // unused: Serve writes inline after each dispatch
		},
		RecvData: func(cl *runtime.Client) (int, error) {
			return 0, nil // unused: Serve reads inline in its per-client loop
		},
	}
}

// Serve accepts on ln and runs one goroutine per client until ln.Accept
// returns an error, which Serve returns. protocol is the single protocol
// bound to this listener (spec.md §4.2's port-driven SpotProtocol case).
func Serve(ln net.Listener, reg *runtime.Registry, protocol *runtime.Protocol, opt Options) error {
	if opt.ReadBufferCap <= 0 {
		opt.ReadBufferCap = 64 * 1024
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveConn(conn, reg, protocol, opt)
	}
}

func serveConn(conn net.Conn, reg *runtime.Registry, protocol *runtime.Protocol, opt Options) {
	defer conn.Close()

	host, portStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
	port := 0
	if portStr != "" {
		port = atoiSafe(portStr)
	}
	if opt.AllowList != nil && !opt.AllowList.Allow(host) {
		logging.Debugf("syncworker: rejecting %s: not on allow-list", host)
		return
	}
	cl := runtime.CreateClient(fdOf(conn), host, port, protocol)
	if opt.Stats != nil {
		opt.Stats.TotalConnections.WithLabelValues(protocol.Name).Inc()
		opt.Stats.CurrConnections.WithLabelValues(protocol.Name).Inc()
		defer opt.Stats.CurrConnections.WithLabelValues(protocol.Name).Dec()
	}

	buf := make([]byte, opt.ReadBufferCap)
	for {
		if opt.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(opt.IdleTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			completed, ferr := runtime.FeedBytes(reg, cl, buf[:n])
			for _, c := range completed {
				werr := flush(conn, c)
				if c.ReadySend() {
					runtime.FinishConn(c)
				}
				if werr != nil {
					cl.ShouldClose = true
					return
				}
			}
			if ferr != nil {
				logging.Debugf("syncworker: client %s:%d: %v", cl.IP, cl.Port, ferr)
				return
			}
		}
		if err != nil {
			cl.SetInvalid()
			return
		}
		if cl.ShouldClose {
			return
		}
	}
}

// flush drains c's send queue to conn in FIFO order, consistent with
// runtime's invariant that every enqueued slice is exactly-once freed.
func flush(conn net.Conn, c *runtime.Conn) error {
	for {
		s, ok := runtime.PopSend(c)
		if !ok {
			return nil
		}
		_, err := conn.Write(s.Bytes())
		s.Release()
		if err != nil {
			return err
		}
	}
}

// fdOf extracts the raw fd for Client.FD's informational value; failure
// (a non-TCP net.Conn, e.g. in tests) just leaves it at 0.
func fdOf(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0
	}
	var fd int
	raw.Control(func(f uintptr) { fd = int(f) })
	return fd
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}
