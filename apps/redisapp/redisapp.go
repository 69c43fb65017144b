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

// Package redisapp is an ordinary App registration answering the commands
// protocols/redis decodes, backed by an in-memory key/value store. It is a
// single-node passthrough, not a cluster client: no backend Redis fan-out
// (spec.md §6 non-goal).
package redisapp

import (
	"strconv"
	"sync"

	"github.com/wheatnet/wheatnet/internal/slice"
	"github.com/wheatnet/wheatnet/protocols/redis"
	"github.com/wheatnet/wheatnet/protocols/redis/codec"
	"github.com/wheatnet/wheatnet/runtime"
)

const Name = redis.DefaultApp

// Store is the minimal key/value backend redisapp answers GET/SET/DEL
// against. A production deployment would satisfy this with something that
// talks to a real store; the in-memory Memory below is enough to exercise
// the protocol end to end.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte)
	Del(key string) bool
}

// Memory is a trivial mutex-guarded Store.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory { return &Memory{data: make(map[string][]byte)} }

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *Memory) Set(key string, val []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
}

func (m *Memory) Del(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	delete(m.data, key)
	return ok
}

// New returns the registration table for store.
func New(store Store) *runtime.App {
	return &runtime.App{
		Name:        Name,
		ProtoBelong: redis.ProtocolName,
		AppCall: func(c *runtime.Conn, arg interface{}) runtime.Status {
			reply(c, store, redis.Command(c))
			return runtime.OK
		},
	}
}

func reply(c *runtime.Conn, store Store, cmd codec.Command) {
	defer c.MarkReadySend()

	switch cmd.Name {
	case "PING":
		send(c, string(codec.PONG))
	case "GET":
		if len(cmd.Args) != 1 {
			sendErr(c, codec.ErrMsgReqWrongArgumentsNumber)
			return
		}
		v, ok := store.Get(string(cmd.Args[0]))
		if !ok {
			send(c, "$-1\r\n")
			return
		}
		sendBulk(c, v)
	case "SET":
		if len(cmd.Args) != 2 {
			sendErr(c, codec.ErrMsgReqWrongArgumentsNumber)
			return
		}
		store.Set(string(cmd.Args[0]), append([]byte(nil), cmd.Args[1]...))
		send(c, string(codec.OK))
	case "DEL":
		if len(cmd.Args) != 1 {
			sendErr(c, codec.ErrMsgReqWrongArgumentsNumber)
			return
		}
		if store.Del(string(cmd.Args[0])) {
			send(c, ":1\r\n")
		} else {
			send(c, ":0\r\n")
		}
	default:
		sendErr(c, codec.ErrUnKnownCommand)
	}
}

func send(c *runtime.Conn, s string) {
	runtime.SendClientData(c, slice.Wrap([]byte(s)))
}

func sendErr(c *runtime.Conn, e codec.Error) {
	runtime.SendClientData(c, slice.Wrap(e.Bytes()))
}

func sendBulk(c *runtime.Conn, v []byte) {
	runtime.SendClientData(c, slice.Wrap([]byte("$"+strconv.Itoa(len(v))+"\r\n")))
	runtime.SendClientData(c, slice.Wrap(append(append([]byte(nil), v...), '\r', '\n')))
}
