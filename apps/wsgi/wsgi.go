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

// Package wsgi is an ordinary App registration exposing a WSGI-style
// request/response contract — environ in, status/headers/body out — to an
// in-process Go Handler. Actually embedding a CPython WSGI interpreter is
// explicitly out of scope (spec.md's "WSGI embedding" external
// collaborator); this is the Go-side half of that contract, the part a
// real embedding would sit behind.
package wsgi

import (
	"fmt"
	"net/textproto"

	"github.com/wheatnet/wheatnet/internal/slice"
	httpproto "github.com/wheatnet/wheatnet/protocols/http"
	"github.com/wheatnet/wheatnet/runtime"
)

const Name = "wsgi"

// Response is what a Handler produces for one request.
type Response struct {
	Status int
	Reason string
	Header textproto.MIMEHeader
	Body   []byte
}

// Handler answers one decoded HTTP request. It may run arbitrarily long
// work before returning — appCall still returns synchronously from the
// worker's point of view here, matching the "finish synchronously" mode
// spec.md §4.3 describes. A Handler sees only the request, not the conn,
// and writeResponse always marks the conn ready to send, so this app has
// no partial/resume mode.
type Handler func(req *httpproto.Request) Response

// New returns the registration table for handler.
func New(handler Handler) *runtime.App {
	return &runtime.App{
		Name:        Name,
		ProtoBelong: httpproto.ProtocolName,
		AppCall: func(c *runtime.Conn, arg interface{}) runtime.Status {
			req := httpproto.RequestFor(c)
			resp := handler(req)
			writeResponse(c, req, resp)
			return runtime.OK
		},
	}
}

func writeResponse(c *runtime.Conn, req *httpproto.Request, resp Response) {
	if resp.Reason == "" {
		resp.Reason = "OK"
	}
	closeConn := req.Close
	head := fmt.Sprintf("HTTP/1.1 %d %s\r\n", resp.Status, resp.Reason)
	runtime.SendClientData(c, slice.Wrap([]byte(head)))
	for k, vs := range resp.Header {
		for _, v := range vs {
			runtime.SendClientData(c, slice.Wrap([]byte(fmt.Sprintf("%s: %s\r\n", k, v))))
		}
	}
	if resp.Header.Get("Content-Length") == "" {
		runtime.SendClientData(c, slice.Wrap([]byte(fmt.Sprintf("Content-Length: %d\r\n", len(resp.Body)))))
	}
	connection := "keep-alive"
	if closeConn {
		connection = "close"
	}
	runtime.SendClientData(c, slice.Wrap([]byte(fmt.Sprintf("Connection: %s\r\n\r\n", connection))))
	if len(resp.Body) > 0 {
		runtime.SendClientData(c, slice.Wrap(resp.Body))
	}
	if closeConn {
		runtime.SetClientClose(c)
	}
	c.MarkReadySend()
}
