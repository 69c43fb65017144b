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

// Package wraperr holds the sentinel errors shared across the worker
// runtime. Call sites that need extra context wrap these with
// github.com/pkg/errors.Wrapf rather than growing a parallel error-code
// hierarchy.
package wraperr

import "errors"

var (
	// ErrProcessShutdown occurs when a worker process is tearing down.
	ErrProcessShutdown = errors.New("worker process is shutting down")
	// ErrUnsupportedProtocol occurs when dialing/listening on an unknown network.
	ErrUnsupportedProtocol = errors.New("only tcp/tcp4/tcp6 are supported")
	// ErrUnknownProtocol occurs when spotProtocol cannot bind a client to a protocol.
	ErrUnknownProtocol = errors.New("no protocol claimed this connection")
	// ErrUnknownApp occurs when spotAppAndCall cannot find an app for a parsed conn.
	ErrUnknownApp = errors.New("no app registered for this protocol/name")
	// ErrAppWrong is returned up the stack when appCall reports WRONG.
	ErrAppWrong = errors.New("app signalled a framework-level fault")
	// ErrMalformed occurs when a protocol parser reports -1 (malformed input).
	ErrMalformed = errors.New("malformed protocol data")
	// ErrClientClosed occurs when operating on a client already torn down.
	ErrClientClosed = errors.New("client is closed")
	// ErrDuplicateRegistration occurs when two modules register under the same name.
	ErrDuplicateRegistration = errors.New("duplicate registration")
)
