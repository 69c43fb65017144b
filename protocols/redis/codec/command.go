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

package codec

import (
	"strconv"
	"strings"
)

// Command is a decoded RESP request: its verb and positional arguments, as
// sent over the wire (e.g. SET, GET, PING). This front-end does not route
// by command for cluster slot placement, so unlike the command table this
// grew from it carries no read/write classification — it is a single-node
// passthrough decode only.
type Command struct {
	Name string
	Args [][]byte
}

// ParseInline splits a line of the plain inline-command form (no RESP
// array header, arguments separated by spaces) used by some clients to
// send PING on an otherwise idle connection.
func ParseInline(line []byte) Command {
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return Command{}
	}
	cmd := Command{Name: strings.ToUpper(fields[0])}
	for _, f := range fields[1:] {
		cmd.Args = append(cmd.Args, []byte(f))
	}
	return cmd
}

// ParseArray decodes one RESP array-of-bulk-strings request (the "*N\r\n
// ($len\r\n arg\r\n)*N" form almost every real client sends) from b,
// which must already have consumed the leading "*N\r\n" header line. The
// bytes it consumes are reflected in b's read position (b.ReadSize()); it
// returns a non-nil error if the array is malformed or incomplete.
func ParseArray(b *Buffer, argc int) (Command, error) {
	if argc <= 0 {
		return Command{}, ErrUnbalancedArray
	}
	cmd := Command{}
	for i := 0; i < argc; i++ {
		line, err := b.ReadLine()
		if err != nil {
			return Command{}, err
		}
		if len(line) == 0 || line[0] != '$' {
			return Command{}, ErrInvalidResp
		}
		n, err := strconv.Atoi(string(line[1:]))
		if err != nil || n < 0 {
			return Command{}, ErrInvalidResp
		}
		arg, err := b.ReadN(n + 2) // + trailing \r\n
		if err != nil {
			return Command{}, err
		}
		arg = arg[:n]
		if i == 0 {
			cmd.Name = strings.ToUpper(string(arg))
		} else {
			cmd.Args = append(cmd.Args, arg)
		}
	}
	return cmd, nil
}
