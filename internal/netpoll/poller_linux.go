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

// Package netpoll is the epoll reactor the async worker drives: one poller,
// one goroutine, cooperative, non-blocking. Every fd it watches must never
// block the caller.
package netpoll

import (
	"golang.org/x/sys/unix"

	"github.com/pkg/errors"
)

// Events is the bitmask Poller reports back per ready fd.
type Events uint32

const (
	// InEvents fires on readable-or-peer-closed.
	InEvents Events = unix.EPOLLIN | unix.EPOLLRDHUP
	// OutEvents fires on writable.
	OutEvents Events = unix.EPOLLOUT
	// ErrEvents fires on a socket error; treated like both In and Out so the
	// caller gets a chance to flush pending writes before tearing down.
	ErrEvents Events = unix.EPOLLERR | unix.EPOLLHUP
)

// Callback is invoked for a ready fd with OutEvents or InEvents, plus any
// ErrEvents bits the kernel reported.
type Callback func(fd int, ev Events) error

// Poller wraps a single epoll instance.
type Poller struct {
	epfd   int
	events []unix.EpollEvent
}

// New creates an epoll instance sized for up to maxEvents ready fds per wait.
func New(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 256
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &Poller{epfd: fd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

// Close releases the underlying epoll fd.
func (p *Poller) Close() error { return unix.Close(p.epfd) }

// AddRead registers fd for read (and error/hangup) events only.
func (p *Poller) AddRead(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, uint32(InEvents))
}

// AddReadWrite registers fd for both read and write readiness, used while a
// conn has unflushed output to send (spec.md §4.5's async write path).
func (p *Poller) AddReadWrite(fd int) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, uint32(InEvents|OutEvents))
}

// ModReadWrite arms write-readiness on an already-registered fd.
func (p *Poller) ModReadWrite(fd int) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, uint32(InEvents|OutEvents))
}

// ModRead disarms write-readiness once a conn's send queue drains.
func (p *Poller) ModRead(fd int) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, uint32(InEvents))
}

// Remove stops watching fd. Safe to call on an fd already closed by the OS.
func (p *Poller) Remove(fd int) error {
	err := p.ctl(unix.EPOLL_CTL_DEL, fd, 0)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

func (p *Poller) ctl(op int, fd int, events uint32) error {
	err := unix.EpollCtl(p.epfd, op, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
	if err != nil {
		return errors.Wrapf(err, "epoll_ctl op=%d fd=%d", op, fd)
	}
	return nil
}

// Poll blocks up to timeoutMillis (-1 forever, 0 non-blocking) for ready fds
// and, for each fd in kernel-reported order, invokes cb up to twice: once
// with OutEvents if it is writable or errored, then once with InEvents if it
// is readable or errored.
//
// Don't change the ordering of checking OutEvents before InEvents below:
// on a connection that just errored we must still try to flush whatever
// output is already queued before tearing it down.
func (p *Poller) Poll(timeoutMillis int, cb Callback) error {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return errors.Wrap(err, "epoll_wait")
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		mask := Events(ev.Events)
		if mask&(OutEvents|ErrEvents) != 0 {
			if err := cb(fd, OutEvents|(mask&ErrEvents)); err != nil {
				return err
			}
		}
		if mask&(InEvents|ErrEvents) != 0 {
			if err := cb(fd, InEvents|(mask&ErrEvents)); err != nil {
				return err
			}
		}
	}
	return nil
}
