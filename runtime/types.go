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

// Package runtime is the worker runtime: the connection/request pipeline,
// the Client/Conn lifecycle, and the Protocol/App/Worker registration
// contracts that the two I/O workers (workers/syncworker,
// workers/asyncworker) drive. It mirrors a single C header in the system
// this was grown from, where client, conn, protocol, app and worker are
// all declared together because they reference one another directly; Go
// expresses that as one package instead of five that would otherwise
// import-cycle.
package runtime

import "github.com/wheatnet/wheatnet/internal/slice"

// Status is the OK/WRONG result every App/Protocol lifecycle hook returns.
// WRONG means the module itself is unusable, not that a single request
// failed — see App.AppCall's doc comment.
type Status int

const (
	OK Status = iota
	WRONG
)

// ParseResult is what a Protocol's Parser returns for one parse attempt.
type ParseResult int

const (
	// ParseComplete means this conn is fully parsed; finalize and dispatch.
	ParseComplete ParseResult = iota
	// ParseNeedMore means keep the pending conn alive and resume on next read.
	ParseNeedMore
	// ParseMalformed is fatal for the owning client.
	ParseMalformed
)

// Protocol is the immutable, per-protocol registration table (spec.md §6).
type Protocol struct {
	Name string

	// SpotApp decides which app handles a fully-parsed conn and returns its
	// registered name (the original "spotAppAndCall" combines lookup and
	// invocation; here lookup returns a name and the registry performs the
	// invocation, which keeps App lookup in one place for every protocol).
	SpotApp func(c *Conn) (appName string, err error)

	// Parser is incremental and re-entrant per client: given newly-available
	// bytes it reports how many were consumed and whether this conn is
	// complete, needs more, or is malformed.
	Parser func(c *Conn, in slice.Slice) (nparsed int, result ParseResult)

	InitProtocolData func() interface{}
	FreeProtocolData func(data interface{})

	InitProtocol    func() Status
	DeallocProtocol func()
}

// App is the immutable, per-app registration table (spec.md §6).
type App struct {
	Name        string
	ProtoBelong string

	// AppCall returns WRONG only when the app module itself is unusable
	// (e.g. corrupted init state); an ordinary request failure must be
	// signalled as a protocol-level error response with a normal OK return.
	AppCall func(c *Conn, arg interface{}) Status

	InitApp    func(p *Protocol) Status
	DeallocApp func()

	InitAppData func(c *Conn) interface{}
	FreeAppData func(data interface{})

	AppCron func()

	isInit bool
}

// IsInit reports whether InitApp has run and DeallocApp has not yet fired.
func (a *App) IsInit() bool { return a.isInit }

// Worker is the immutable, per-worker-model registration table (spec.md §6).
// Exactly one Worker is selected per process at startup.
type Worker struct {
	Name string

	Setup func()
	Cron  func()

	// SendData drains conn's send queue; returns bytes sent or an error.
	SendData func(c *Conn) (int, error)
	// RecvData produces bytes into client's read buffer and drives the
	// bound protocol's Parser until it returns ParseComplete or ParseNeedMore.
	RecvData func(cl *Client) (int, error)
}
