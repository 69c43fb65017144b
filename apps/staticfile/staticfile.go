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

// Package staticfile is an ordinary App registration serving files under a
// root directory (spec.md §8 scenario 2), exercising sendClientFile's
// zero-copy-friendly path.
package staticfile

import (
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/wheatnet/wheatnet/internal/logging"
	"github.com/wheatnet/wheatnet/internal/slice"
	httpproto "github.com/wheatnet/wheatnet/protocols/http"
	"github.com/wheatnet/wheatnet/runtime"
)

const Name = "staticfile"

// New returns the registration table for root (the directory static paths
// resolve under). pathPrefix is stripped from the request path before
// joining against root, e.g. httpproto.StaticPathPrefix.
func New(root, pathPrefix string) *runtime.App {
	root = filepath.Clean(root)
	return &runtime.App{
		Name:        Name,
		ProtoBelong: httpproto.ProtocolName,
		AppCall: func(c *runtime.Conn, arg interface{}) runtime.Status {
			serve(c, root, pathPrefix)
			return runtime.OK
		},
	}
}

func serve(c *runtime.Conn, root, pathPrefix string) {
	req := httpproto.RequestFor(c)
	rel := strings.TrimPrefix(req.Path, pathPrefix)
	decoded, err := url.PathUnescape(rel)
	if err != nil {
		writeStatus(c, 400, "Bad Request")
		return
	}
	// filepath.Clean collapses ".." segments; reject any resolved path that
	// escapes root rather than trusting the client-supplied path.
	full := filepath.Join(root, filepath.Clean("/"+decoded))
	if !strings.HasPrefix(full, root) {
		writeStatus(c, 403, "Forbidden")
		return
	}

	f, err := os.Open(full)
	if err != nil {
		writeStatus(c, 404, "Not Found")
		return
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		writeStatus(c, 404, "Not Found")
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(full))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: %s\r\n\r\n",
		contentType, info.Size(), connectionHeader(req))
	runtime.SendClientData(c, slice.Wrap([]byte(header)))

	if err := runtime.SendClientFile(c, f.Read, info.Size()); err != nil {
		logging.Warnf("staticfile: send %s: %v", full, err)
	}
	runtime.RegisterConnFree(c, func(data interface{}) { data.(*os.File).Close() }, f)

	if req.Close {
		runtime.SetClientClose(c)
	}
	c.MarkReadySend()
}

func connectionHeader(req *httpproto.Request) string {
	if req.Close {
		return "close"
	}
	return "keep-alive"
}

func writeStatus(c *runtime.Conn, code int, reason string) {
	body := reason
	resp := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		code, reason, len(body), body)
	runtime.SendClientData(c, slice.Wrap([]byte(resp)))
	runtime.SetClientClose(c)
	c.MarkReadySend()
}
