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

package staticfile_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheatnet/wheatnet/apps/staticfile"
	httpproto "github.com/wheatnet/wheatnet/protocols/http"
	"github.com/wheatnet/wheatnet/runtime"
)

// drain collects every slice queued on conn, in FIFO order, mirroring what
// a worker's send path would write to the wire.
func drain(t *testing.T, c *runtime.Conn) []byte {
	t.Helper()
	var out bytes.Buffer
	for {
		s, ok := runtime.PopSend(c)
		if !ok {
			break
		}
		out.Write(s.Bytes())
		s.Release()
	}
	return out.Bytes()
}

func TestStaticfile_ServesFileContentsWithMatchingContentLength(t *testing.T) {
	dir := t.TempDir()
	body := strings.Repeat("x", 10*1024) // 10 KiB, per spec.md §8 scenario 2
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte(body), 0o644))

	reg := runtime.NewRegistry()
	require.NoError(t, reg.RegisterProtocol(httpproto.New(nil)))
	require.NoError(t, reg.RegisterApp(staticfile.New(dir, httpproto.StaticPathPrefix)))

	cl := runtime.CreateClient(5, "127.0.0.1", 8080, httpproto.New(nil))
	req := "GET /static/hello.txt HTTP/1.1\r\nHost: x\r\n\r\n"
	conns, err := runtime.FeedBytes(reg, cl, []byte(req))
	require.NoError(t, err)
	require.Len(t, conns, 1)

	out := drain(t, conns[0])
	assert.Contains(t, string(out), "HTTP/1.1 200 OK")
	assert.Contains(t, string(out), "Content-Length: 10240")
	assert.True(t, strings.HasSuffix(string(out), body))
}

func TestStaticfile_RejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "safe.txt"), []byte("ok"), 0o644))

	reg := runtime.NewRegistry()
	require.NoError(t, reg.RegisterProtocol(httpproto.New(nil)))
	require.NoError(t, reg.RegisterApp(staticfile.New(dir, httpproto.StaticPathPrefix)))

	cl := runtime.CreateClient(5, "127.0.0.1", 8080, httpproto.New(nil))
	req := "GET /static/../../../../etc/passwd HTTP/1.1\r\nHost: x\r\n\r\n"
	conns, err := runtime.FeedBytes(reg, cl, []byte(req))
	require.NoError(t, err)
	require.Len(t, conns, 1)

	out := drain(t, conns[0])
	assert.True(t, strings.HasPrefix(string(out), "HTTP/1.1 403") || strings.HasPrefix(string(out), "HTTP/1.1 404"))
}

func TestStaticfile_MissingFileReturns404(t *testing.T) {
	dir := t.TempDir()

	reg := runtime.NewRegistry()
	require.NoError(t, reg.RegisterProtocol(httpproto.New(nil)))
	require.NoError(t, reg.RegisterApp(staticfile.New(dir, httpproto.StaticPathPrefix)))

	cl := runtime.CreateClient(5, "127.0.0.1", 8080, httpproto.New(nil))
	req := "GET /static/nope.txt HTTP/1.1\r\nHost: x\r\n\r\n"
	conns, err := runtime.FeedBytes(reg, cl, []byte(req))
	require.NoError(t, err)
	require.Len(t, conns, 1)

	out := drain(t, conns[0])
	assert.True(t, strings.HasPrefix(string(out), "HTTP/1.1 404"))
}
