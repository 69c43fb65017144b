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

//go:build !linux
// +build !linux

package asyncworker

import (
	"errors"
	"time"

	"github.com/wheatnet/wheatnet/internal/stats"
	"github.com/wheatnet/wheatnet/runtime"
)

const Name = "AsyncWorker"

// AllowList mirrors the linux build's AllowList for platform-agnostic
// callers.
type AllowList interface {
	Allow(ip string) bool
}

// Options mirrors the linux build's Options so callers can stay
// platform-agnostic even though this model is unavailable here.
type Options struct {
	ReadBufferCap int
	IdleTimeout   time.Duration
	CronInterval  time.Duration
	Stats         *stats.Worker
	AllowList     AllowList
}

// New returns the Worker registration table; Run always fails on this
// platform since it requires epoll.
func New(opt Options) *runtime.Worker {
	return &runtime.Worker{Name: Name}
}

// Listen always fails off Linux.
func Listen(addr string) (int, error) {
	return -1, errors.New("asyncworker: epoll reactor requires linux")
}

// Worker is an unusable placeholder off Linux.
type Worker struct{}

// NewWorker always fails off Linux; use workers/syncworker instead.
func NewWorker(reg *runtime.Registry, protocol *runtime.Protocol, listenFD int, opt Options) (*Worker, error) {
	return nil, errors.New("asyncworker: epoll reactor requires linux")
}

// Run always fails off Linux.
func (w *Worker) Run(stop <-chan struct{}) error {
	return errors.New("asyncworker: epoll reactor requires linux")
}
