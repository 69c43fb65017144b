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

// Package http is an ordinary Protocol registration (spec.md §4.2, §8
// scenarios 1 and 3): an incremental HTTP/1.x request-line-plus-headers
// parser supporting keep-alive pipelining, handed to whichever app is
// registered under it by path prefix.
package http

import (
	"bufio"
	"bytes"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/wheatnet/wheatnet/internal/slice"
	"github.com/wheatnet/wheatnet/runtime"
)

const ProtocolName = "http"

// maxHeaderBytes bounds how long FeedBytes will wait for a header
// terminator before giving up on a client sending a well-formed request.
const maxHeaderBytes = 64 * 1024

// Request is the decoded request a conn's Parser call produces; apps read
// it back via RequestFor.
type Request struct {
	Method  string
	Path    string
	Query   string
	Version string
	Header  textproto.MIMEHeader
	Body    []byte
	Close   bool // client sent Connection: close, or is HTTP/1.0 without keep-alive
}

// Route decides which registered app name serves a path; callers of New
// may override it (StaticPathPrefix picks apps/staticfile by default,
// everything else apps/wsgi).
type Route func(path string) string

// StaticPathPrefix is the conventional prefix routed to apps/staticfile;
// every other path goes to apps/wsgi.
const StaticPathPrefix = "/static/"

func defaultRoute(path string) string {
	if strings.HasPrefix(path, StaticPathPrefix) {
		return "staticfile"
	}
	return "wsgi"
}

// New returns the registration table to hand to Registry.RegisterProtocol.
// A nil route uses defaultRoute.
func New(route Route) *runtime.Protocol {
	if route == nil {
		route = defaultRoute
	}
	return &runtime.Protocol{
		Name: ProtocolName,
		SpotApp: func(c *runtime.Conn) (string, error) {
			return route(RequestFor(c).Path), nil
		},
		Parser: parse,
	}
}

// RequestFor reads back the request a conn's Parser call decoded.
func RequestFor(c *runtime.Conn) *Request {
	req, _ := c.ProtocolData.(*Request)
	if req == nil {
		return &Request{}
	}
	return req
}

// parse implements runtime.Protocol.Parser. Like protocols/redis, in is
// always the client's full unconsumed buffer, so a short read is simply
// retried whole once more bytes arrive — no state needs to outlive a
// ParseNeedMore return.
func parse(c *runtime.Conn, in slice.Slice) (int, runtime.ParseResult) {
	buf := in.Bytes()

	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx == -1 {
		if len(buf) > maxHeaderBytes {
			return 0, runtime.ParseMalformed
		}
		return 0, runtime.ParseNeedMore
	}

	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(buf[:idx+2])))
	requestLine, err := reader.ReadLine()
	if err != nil {
		return 0, runtime.ParseMalformed
	}
	parts := strings.SplitN(requestLine, " ", 3)
	if len(parts) != 3 {
		return 0, runtime.ParseMalformed
	}
	method, target, version := parts[0], parts[1], parts[2]
	if !strings.HasPrefix(version, "HTTP/") {
		return 0, runtime.ParseMalformed
	}

	header, err := reader.ReadMIMEHeader()
	if err != nil && header == nil {
		return 0, runtime.ParseMalformed
	}

	path, query := target, ""
	if q := strings.IndexByte(target, '?'); q >= 0 {
		path, query = target[:q], target[q+1:]
	}

	bodyStart := idx + 4
	contentLength := 0
	if cl := header.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return 0, runtime.ParseMalformed
		}
		contentLength = n
	}

	total := bodyStart + contentLength
	if len(buf) < total {
		return 0, runtime.ParseNeedMore
	}

	closeConn := strings.EqualFold(header.Get("Connection"), "close")
	if version == "HTTP/1.0" && !strings.EqualFold(header.Get("Connection"), "keep-alive") {
		closeConn = true
	}

	c.ProtocolData = &Request{
		Method:  method,
		Path:    path,
		Query:   query,
		Version: version,
		Header:  header,
		Body:    append([]byte(nil), buf[bodyStart:total]...),
		Close:   closeConn,
	}
	return total, runtime.ParseComplete
}
