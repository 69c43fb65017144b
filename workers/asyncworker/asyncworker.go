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

//go:build linux
// +build linux

// Package asyncworker is the single-threaded, epoll-driven I/O worker
// (spec.md §4.6): one goroutine, cooperative, non-blocking fds throughout.
// Don't change the ordering of checking write-readiness before
// read-readiness in the poll callback unless you're sure what you're
// doing — see internal/netpoll's Poll doc comment for why.
package asyncworker

import (
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pkg/errors"

	"github.com/wheatnet/wheatnet/internal/idletimer"
	"github.com/wheatnet/wheatnet/internal/logging"
	"github.com/wheatnet/wheatnet/internal/netpoll"
	"github.com/wheatnet/wheatnet/internal/stats"
	"github.com/wheatnet/wheatnet/runtime"
)

const Name = "AsyncWorker"

// AllowList gates accepted peers before a Client is even created. Nil
// allows everyone.
type AllowList interface {
	Allow(ip string) bool
}

// Options configures buffer sizing, idle eviction and cron cadence.
type Options struct {
	ReadBufferCap int
	IdleTimeout   time.Duration
	CronInterval  time.Duration
	Stats         *stats.Worker
	AllowList     AllowList
}

// New returns the Worker registration table; Worker.Run below drives this
// model's actual accept/read/write loop.
func New(opt Options) *runtime.Worker {
	return &runtime.Worker{
		Name:  Name,
		Setup: func() {},
		Cron:  func() {},
		SendData: func(c *runtime.Conn) (int, error) {
			return 0, nil // unused: Worker.flushClient below writes inline
		},
		RecvData: func(cl *runtime.Client) (int, error) {
			return 0, nil // unused: Worker.readClient below reads inline
		},
	}
}

// Worker owns one epoll instance and every client fd registered on it.
// It never blocks: every syscall it issues is against a non-blocking fd.
type Worker struct {
	reg      *runtime.Registry
	protocol *runtime.Protocol
	opt      Options

	poller   *netpoll.Poller
	listenFD int
	clients  map[int]*runtime.Client
	idle     *idletimer.Tree
}

// Listen creates a non-blocking TCP listening socket bound to addr
// ("host:port"), mirroring the teacher's direct unix-syscall listener
// setup rather than net.Listen, since the accept fd itself must live in
// the same epoll set as client fds.
func Listen(addr string) (int, error) {
	sa, err := resolveSockaddr(addr)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, errors.Wrap(err, "socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "setsockopt SO_REUSEADDR")
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "bind")
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "listen")
	}
	return fd, nil
}

// NewWorker returns a Worker ready to Run against reg/protocol.
func NewWorker(reg *runtime.Registry, protocol *runtime.Protocol, listenFD int, opt Options) (*Worker, error) {
	if opt.ReadBufferCap <= 0 {
		opt.ReadBufferCap = 64 * 1024
	}
	if opt.CronInterval <= 0 {
		opt.CronInterval = 100 * time.Millisecond
	}
	if opt.IdleTimeout <= 0 {
		opt.IdleTimeout = 60 * time.Second
	}
	poller, err := netpoll.New(256)
	if err != nil {
		return nil, err
	}
	if err := poller.AddRead(listenFD); err != nil {
		poller.Close()
		return nil, err
	}
	w := &Worker{
		reg:      reg,
		protocol: protocol,
		opt:      opt,
		poller:   poller,
		listenFD: listenFD,
		clients:  make(map[int]*runtime.Client),
		idle:     idletimer.New(opt.IdleTimeout),
	}
	return w, nil
}

// Run drives the reactor until stop is closed or Poll errors fatally.
func (w *Worker) Run(stop <-chan struct{}) error {
	defer w.poller.Close()

	cronTick := time.NewTicker(w.opt.CronInterval)
	defer cronTick.Stop()

	for {
		select {
		case <-stop:
			return nil
		case <-cronTick.C:
			w.cron()
		default:
		}

		err := w.poller.Poll(int(w.opt.CronInterval/time.Millisecond), w.onEvent)
		if err != nil {
			return err
		}
	}
}

func (w *Worker) cron() {
	now := time.Now()
	for _, item := range w.idle.Expired(now) {
		cl := item.(*runtime.Client)
		cl.ShouldClose = true
		cl.SetInvalid()
		w.closeClient(cl)
		if w.opt.Stats != nil {
			w.opt.Stats.IdleEvicted.WithLabelValues(w.protocol.Name).Inc()
		}
	}
	if w.opt.Stats != nil {
		w.opt.Stats.RefreshIdleTree(w.idle)
	}
}

func (w *Worker) onEvent(fd int, ev netpoll.Events) error {
	if fd == w.listenFD {
		return w.accept()
	}
	cl, ok := w.clients[fd]
	if !ok {
		return nil
	}
	if ev&netpoll.OutEvents != 0 {
		w.flushClient(cl)
	}
	if ev&netpoll.InEvents != 0 {
		w.readClient(cl)
	}
	if ev&netpoll.ErrEvents != 0 {
		cl.SetInvalid()
		w.closeClient(cl)
	}
	return nil
}

func (w *Worker) accept() error {
	for {
		nfd, sa, err := unix.Accept4(w.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return errors.Wrap(err, "accept4")
		}
		ip, port := sockaddrIPPort(sa)
		if w.opt.AllowList != nil && !w.opt.AllowList.Allow(ip) {
			logging.Debugf("asyncworker: rejecting %s: not on allow-list", ip)
			unix.Close(nfd)
			continue
		}
		cl := runtime.CreateClient(nfd, ip, port, w.protocol)
		if err := w.poller.AddRead(nfd); err != nil {
			unix.Close(nfd)
			continue
		}
		w.clients[nfd] = cl
		w.idle.Track(cl)
		if w.opt.Stats != nil {
			w.opt.Stats.TotalConnections.WithLabelValues(w.protocol.Name).Inc()
			w.opt.Stats.CurrConnections.WithLabelValues(w.protocol.Name).Inc()
		}
	}
}

func (w *Worker) readClient(cl *runtime.Client) {
	buf := make([]byte, w.opt.ReadBufferCap)
	for {
		n, err := unix.Read(cl.FD, buf)
		if n > 0 {
			completed, ferr := runtime.FeedBytes(w.reg, cl, buf[:n])
			w.idle.Track(cl)
			if len(completed) > 0 {
				// Always flush from cl.HeadConn(), never a freshly-completed
				// conn directly: an older conn may still be backed up (or
				// mid-flush from a prior read), and writing a later conn's
				// bytes first would break the wire's FIFO ordering guarantee.
				w.flushClient(cl)
				if !cl.Valid() {
					return
				}
			}
			if ferr != nil {
				logging.Debugf("asyncworker: client %s:%d: %v", cl.IP, cl.Port, ferr)
				cl.ShouldClose = true
				w.closeClient(cl)
				return
			}
		}
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			cl.SetInvalid()
			w.closeClient(cl)
			return
		}
		if n == 0 {
			cl.ShouldClose = true
			cl.SetInvalid()
			w.closeClient(cl)
			return
		}
	}
	if cl.ShouldClose && !cl.Valid() {
		w.closeClient(cl)
	}
}

func (w *Worker) flushClient(cl *runtime.Client) {
	drainedAll := true
	for {
		head := cl.HeadConn()
		if head == nil {
			break
		}
		if !w.drainQueue(head) {
			drainedAll = false
			break
		}
		if head.ReadySend() {
			runtime.FinishConn(head)
		} else {
			break
		}
	}
	if drainedAll {
		w.poller.ModRead(cl.FD)
	} else {
		// The head conn backed up mid-write: arm write-readiness so the
		// reactor resumes this client's send queue on the next EPOLLOUT
		// instead of waiting on a read that may never come.
		w.poller.ModReadWrite(cl.FD)
	}
	if cl.ShouldClose {
		w.closeClient(cl)
	}
}

// drainQueue writes every slice queued on c until the socket blocks or the
// queue empties; returns false if the socket backed up mid-write. A slice
// left partially written when the socket backs up is advanced past the
// bytes already on the wire and pushed back to the head of c's send queue
// (spec.md §4.6) rather than released, so the next EPOLLOUT resumes it
// without duplicating or losing any bytes.
func (w *Worker) drainQueue(c *runtime.Conn) bool {
	cl := c.Client()
	for {
		s, ok := runtime.PopSend(c)
		if !ok {
			return true
		}
		total := s.Len()
		b := s.Bytes()
		for len(b) > 0 {
			n, err := unix.Write(cl.FD, b)
			if n > 0 {
				b = b[n:]
			}
			if err != nil {
				if err == unix.EAGAIN {
					if written := total - len(b); written > 0 {
						s = s.Advance(written)
					}
					runtime.PushSendFront(c, s)
					return false
				}
				s.Release()
				cl.SetInvalid()
				return true
			}
		}
		s.Release()
	}
}

func (w *Worker) closeClient(cl *runtime.Client) {
	if _, ok := w.clients[cl.FD]; !ok {
		return
	}
	delete(w.clients, cl.FD)
	w.idle.Untrack(cl)
	w.poller.Remove(cl.FD)
	unix.Close(cl.FD)
	cl.SetInvalid()
	cl.Free()
	if w.opt.Stats != nil {
		w.opt.Stats.CurrConnections.WithLabelValues(w.protocol.Name).Dec()
	}
}

// resolveSockaddr turns a "host:port" address into a unix.Sockaddr,
// preferring IPv4 since that is what Listen's AF_INET socket expects.
func resolveSockaddr(addr string) (unix.Sockaddr, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "split %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errors.Wrapf(err, "port %q", portStr)
	}
	var ip net.IP
	if host == "" {
		ip = net.IPv4zero
	} else {
		ip = net.ParseIP(host)
		if ip == nil {
			resolved, err := net.ResolveIPAddr("ip4", host)
			if err != nil {
				return nil, errors.Wrapf(err, "resolve %q", host)
			}
			ip = resolved.IP
		}
	}
	var addr4 [4]byte
	copy(addr4[:], ip.To4())
	return &unix.SockaddrInet4{Port: port, Addr: addr4}, nil
}

// sockaddrIPPort extracts the peer IP/port from an accept4 result.
func sockaddrIPPort(sa unix.Sockaddr) (string, int) {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(s.Addr[:]).String(), s.Port
	case *unix.SockaddrInet6:
		return net.IP(s.Addr[:]).String(), s.Port
	default:
		return "", 0
	}
}
