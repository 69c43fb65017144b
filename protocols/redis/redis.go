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

// Package redis is an ordinary Protocol registration (spec.md §4.2, §8
// scenario 5): it decodes the Redis RESP wire format into a Command and
// hands it to whichever app is registered under it, same as any other
// protocol — it is not a framework built-in.
package redis

import (
	"strconv"

	"github.com/wheatnet/wheatnet/internal/slice"
	"github.com/wheatnet/wheatnet/protocols/redis/codec"
	"github.com/wheatnet/wheatnet/runtime"
)

const ProtocolName = "redis"

// DefaultApp is the sole app name SpotApp routes every conn to. A real
// multi-app deployment could inspect the decoded command (e.g. route
// CLUSTER/SUBSCRIBE differently) but this front-end stays single-node and
// single-app, per spec.md §6's explicit non-goal of backend fan-out.
const DefaultApp = "redis"

// New returns the registration table to hand to Registry.RegisterProtocol.
// Decoded commands are stashed in the conn's protocol-data slot for the
// app to read back via Command.
func New() *runtime.Protocol {
	return &runtime.Protocol{
		Name:    ProtocolName,
		SpotApp: spotApp,
		Parser:  parse,
	}
}

func spotApp(c *runtime.Conn) (string, error) {
	return DefaultApp, nil
}

// Command reads back the command a conn's Parser call decoded.
func Command(c *runtime.Conn) codec.Command {
	cmd, _ := c.ProtocolData.(codec.Command)
	return cmd
}

func setCommand(c *runtime.Conn, cmd codec.Command) {
	c.ProtocolData = cmd
}

// parse implements runtime.Protocol.Parser. It tries the whole of in each
// call (in is always the client's full unconsumed buffer, per
// runtime.FeedBytes), so no resumption state needs to survive between
// ParseNeedMore calls: a short read just gets retried in full next time
// there are more bytes.
func parse(c *runtime.Conn, in slice.Slice) (int, runtime.ParseResult) {
	buf := in.Bytes()
	if len(buf) == 0 {
		return 0, runtime.ParseNeedMore
	}

	b := codec.NewBuffer(buf)

	if buf[0] != '*' {
		line, err := b.ReadLine()
		if err != nil {
			return 0, runtime.ParseNeedMore
		}
		setCommand(c, codec.ParseInline(line))
		return b.ReadSize(), runtime.ParseComplete
	}

	header, err := b.ReadLine()
	if err != nil {
		return 0, runtime.ParseNeedMore
	}
	argc, err := strconv.Atoi(string(header[1:]))
	if err != nil || argc <= 0 {
		return b.ReadSize(), runtime.ParseMalformed
	}

	cmd, err := codec.ParseArray(b, argc)
	if err != nil {
		if err == codec.EmptyLine || err == codec.ShortLine {
			return 0, runtime.ParseNeedMore
		}
		return b.ReadSize(), runtime.ParseMalformed
	}

	setCommand(c, cmd)
	return b.ReadSize(), runtime.ParseComplete
}
