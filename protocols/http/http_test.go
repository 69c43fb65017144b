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

package http_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpproto "github.com/wheatnet/wheatnet/protocols/http"
	"github.com/wheatnet/wheatnet/runtime"
)

func newRegistry(t *testing.T, appCall func(c *runtime.Conn, arg interface{}) runtime.Status) *runtime.Registry {
	reg := runtime.NewRegistry()
	require.NoError(t, reg.RegisterProtocol(httpproto.New(nil)))
	for _, name := range []string{"staticfile", "wsgi"} {
		require.NoError(t, reg.RegisterApp(&runtime.App{
			Name:        name,
			ProtoBelong: httpproto.ProtocolName,
			AppCall:     appCall,
		}))
	}
	return reg
}

func TestFeedBytes_KeepAlivePipelining(t *testing.T) {
	var paths []string
	reg := newRegistry(t, func(c *runtime.Conn, arg interface{}) runtime.Status {
		paths = append(paths, httpproto.RequestFor(c).Path)
		c.MarkReadySend()
		return runtime.OK
	})
	cl := runtime.CreateClient(4, "127.0.0.1", 8080, httpproto.New(nil))

	req1 := "GET /one HTTP/1.1\r\nHost: x\r\n\r\n"
	req2 := "GET /two HTTP/1.1\r\nHost: x\r\n\r\n"

	conns, err := runtime.FeedBytes(reg, cl, []byte(req1+req2))
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, []string{"/one", "/two"}, paths)
}

func TestFeedBytes_StaticPathRoutesToStaticApp(t *testing.T) {
	var gotApp string
	reg := runtime.NewRegistry()
	require.NoError(t, reg.RegisterProtocol(httpproto.New(nil)))
	require.NoError(t, reg.RegisterApp(&runtime.App{
		Name: "staticfile", ProtoBelong: httpproto.ProtocolName,
		AppCall: func(c *runtime.Conn, arg interface{}) runtime.Status {
			gotApp = "staticfile"
			c.MarkReadySend()
			return runtime.OK
		},
	}))
	require.NoError(t, reg.RegisterApp(&runtime.App{
		Name: "wsgi", ProtoBelong: httpproto.ProtocolName,
		AppCall: func(c *runtime.Conn, arg interface{}) runtime.Status {
			gotApp = "wsgi"
			c.MarkReadySend()
			return runtime.OK
		},
	}))
	cl := runtime.CreateClient(4, "127.0.0.1", 8080, httpproto.New(nil))

	_, err := runtime.FeedBytes(reg, cl, []byte("GET /static/app.css HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "staticfile", gotApp)
}

func TestFeedBytes_MalformedRequestClosesClient(t *testing.T) {
	reg := newRegistry(t, func(c *runtime.Conn, arg interface{}) runtime.Status {
		return runtime.OK
	})
	cl := runtime.CreateClient(4, "127.0.0.1", 8080, httpproto.New(nil))

	_, err := runtime.FeedBytes(reg, cl, []byte("NOT A REQUEST\r\n\r\n"))
	require.Error(t, err)
	assert.True(t, cl.ShouldClose)
}

func TestFeedBytes_PartialBodyNeedsMore(t *testing.T) {
	reg := newRegistry(t, func(c *runtime.Conn, arg interface{}) runtime.Status {
		c.MarkReadySend()
		return runtime.OK
	})
	cl := runtime.CreateClient(4, "127.0.0.1", 8080, httpproto.New(nil))

	head := "POST /wsgi HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\n"
	conns, err := runtime.FeedBytes(reg, cl, []byte(head+"ab"))
	require.NoError(t, err)
	assert.Empty(t, conns)

	conns, err = runtime.FeedBytes(reg, cl, []byte("cde"))
	require.NoError(t, err)
	require.Len(t, conns, 1)
}
