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

package redisapp_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheatnet/wheatnet/apps/redisapp"
	"github.com/wheatnet/wheatnet/protocols/redis"
	"github.com/wheatnet/wheatnet/runtime"
)

func newRegistry(t *testing.T) (*runtime.Registry, *runtime.Client) {
	t.Helper()
	reg := runtime.NewRegistry()
	require.NoError(t, reg.RegisterProtocol(redis.New()))
	require.NoError(t, reg.RegisterApp(redisapp.New(redisapp.NewMemory())))
	cl := runtime.CreateClient(3, "127.0.0.1", 6379, redis.New())
	return reg, cl
}

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

func TestRedisapp_Ping(t *testing.T) {
	reg, cl := newRegistry(t)

	conns, err := runtime.FeedBytes(reg, cl, []byte("*1\r\n$4\r\nPING\r\n"))
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "+PONG\r\n", string(drain(t, conns[0])))
}

func TestRedisapp_PartialArrayCommandNeedsMore(t *testing.T) {
	reg, cl := newRegistry(t)

	conns, err := runtime.FeedBytes(reg, cl, []byte("*2\r\n$3\r\nGE"))
	require.NoError(t, err)
	assert.Empty(t, conns)

	conns, err = runtime.FeedBytes(reg, cl, []byte("T\r\n$1\r\nx\r\n"))
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "$-1\r\n", string(drain(t, conns[0])))
}

func TestRedisapp_SetThenGetRoundTrips(t *testing.T) {
	reg, cl := newRegistry(t)

	conns, err := runtime.FeedBytes(reg, cl, []byte("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"))
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "+OK\r\n", string(drain(t, conns[0])))

	conns, err = runtime.FeedBytes(reg, cl, []byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"))
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "$3\r\nbar\r\n", string(drain(t, conns[0])))
}

func TestRedisapp_UnknownCommandReturnsError(t *testing.T) {
	reg, cl := newRegistry(t)

	conns, err := runtime.FeedBytes(reg, cl, []byte("*1\r\n$4\r\nFOOZ\r\n"))
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Contains(t, string(drain(t, conns[0])), "-ERR")
}
