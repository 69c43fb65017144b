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
	"time"

	"github.com/pkg/errors"

	"github.com/wheatnet/wheatnet/internal/slice"
	"github.com/wheatnet/wheatnet/internal/wraperr"
)

// FeedBytes appends newly-read bytes to the client's buffer and drives the
// bound protocol's parser until it reports ParseNeedMore (no more complete
// conns available yet) or a malformed conn closes the client. Each conn
// the parser completes is immediately app-dispatched, and any leftover
// bytes from that parse seed a new pending conn on the same client
// (pipelining). Returns the completed conns in arrival order.
//
// This is the core property spec.md §8 calls out: parse(concat(chunks)) ==
// fold(parse_incremental, chunks) — callers may hand FeedBytes any
// splitting of the same byte stream and get the same dispatched conns.
func FeedBytes(reg *Registry, cl *Client, chunk []byte) ([]*Conn, error) {
	if len(chunk) > 0 {
		cl.ReadBuf = append(cl.ReadBuf, chunk...)
		cl.Touch()
	}

	var completed []*Conn
	for {
		if cl.pending == nil {
			if len(cl.ReadBuf) == 0 {
				return completed, nil
			}
			cl.beginConn()
			cl.pending.protocol = cl.Protocol
			if cl.Protocol.InitProtocolData != nil {
				cl.pending.ProtocolData = cl.Protocol.InitProtocolData()
			}
		}

		in := slice.Wrap(cl.ReadBuf)
		nparsed, result := cl.Protocol.Parser(cl.pending, in)
		if nparsed < 0 || nparsed > len(cl.ReadBuf) {
			cl.ShouldClose = true
			return completed, errors.New("protocol parser reported an out-of-range nparsed")
		}
		cl.ReadBuf = cl.ReadBuf[nparsed:]

		switch result {
		case ParseNeedMore:
			return completed, nil
		case ParseMalformed:
			cl.ShouldClose = true
			if cl.pending != nil {
				FinishConn(cl.pending)
			}
			return completed, errors.Wrapf(wraperr.ErrMalformed, "client %s:%d", cl.IP, cl.Port)
		case ParseComplete:
			conn := cl.completePending()
			completed = append(completed, conn)
			if err := DispatchApp(reg, conn); err != nil {
				return completed, err
			}
			if len(cl.ReadBuf) == 0 {
				return completed, nil
			}
			// fall through: leftover bytes begin a new conn (pipelining)
		}
	}
}

// DispatchApp locates the app for conn via its protocol's SpotApp, inits
// per-conn app data, and invokes AppCall. A WRONG result deinitializes the
// app across the whole process (spec.md §4.3/§7): the app's is_init latch
// is cleared, DeallocApp runs exactly once, and the conn that triggered it
// is finished with whatever output was already queued.
func DispatchApp(reg *Registry, conn *Conn) error {
	appName, err := conn.client.Protocol.SpotApp(conn)
	if err != nil {
		return errors.Wrapf(err, "spotApp on protocol %q", conn.client.Protocol.Name)
	}
	app, ok := reg.App(conn.client.Protocol.Name, appName)
	if !ok || !app.isInit {
		return errors.Wrapf(wraperr.ErrUnknownApp, "%s/%s", conn.client.Protocol.Name, appName)
	}

	conn.App = app
	if app.InitAppData != nil {
		conn.AppData = app.InitAppData(conn)
	}

	start := time.Now()
	status := app.AppCall(conn, nil)
	if reg.OnDispatch != nil {
		reg.OnDispatch(conn.client.Protocol.Name, appName, time.Since(start), status)
	}
	if status == WRONG {
		app.isInit = false
		if app.DeallocApp != nil {
			app.DeallocApp()
		}
		conn.MarkReadySend()
		return errors.Wrapf(wraperr.ErrAppWrong, "%s/%s", conn.client.Protocol.Name, appName)
	}
	return nil
}

// CreateClient produces a Client bound to protocol p for an accepted fd
// (spec.md §4.7).
func CreateClient(fd int, ip string, port int, p *Protocol) *Client {
	return NewClient(fd, ip, port, p, true)
}

// BuildConn is the symmetric outbound helper: it creates a dialled client
// (is_outer=false) bound to p and starts its first outbound conn, used
// when the worker process itself is a client of an upstream.
func BuildConn(fd int, ip string, port int, p *Protocol) (*Client, *Conn) {
	cl := NewClient(fd, ip, port, p, false)
	return cl, ConnGet(cl)
}
