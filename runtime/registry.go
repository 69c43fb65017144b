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

package runtime

import (
	"time"

	"github.com/pkg/errors"

	"github.com/wheatnet/wheatnet/internal/wraperr"
)

// Registry is the immutable-after-boot protocol/app/worker table (spec.md
// §4.8). It is built once at startup and then only read, so a module
// loader can hand it to both worker models without synchronization.
type Registry struct {
	protocols  map[string]*Protocol
	protoOrder []string
	apps       map[string]*App // keyed by protocol+"/"+name
	appOrder   []*App
	workers    map[string]*Worker
	spotByPort map[int]string // listen port -> protocol name, config-driven

	// OnDispatch, if set, is called after every AppCall with the wall time
	// it took and the Status it returned, keyed by protocol/app name. The
	// registry stays stats-library-agnostic; this is the one seam a caller
	// (cmd/wheatnetd) uses to feed internal/stats without runtime importing
	// a metrics library itself.
	OnDispatch func(protocolName, appName string, d time.Duration, status Status)
}

// NewRegistry returns an empty registry ready for Register* calls.
func NewRegistry() *Registry {
	return &Registry{
		protocols:  make(map[string]*Protocol),
		apps:       make(map[string]*App),
		workers:    make(map[string]*Worker),
		spotByPort: make(map[int]string),
	}
}

// RegisterProtocol adds p to the table and runs its module-wide init.
func (r *Registry) RegisterProtocol(p *Protocol) error {
	if _, exists := r.protocols[p.Name]; exists {
		return errors.Wrapf(wraperr.ErrDuplicateRegistration, "protocol %q", p.Name)
	}
	if p.InitProtocol != nil && p.InitProtocol() == WRONG {
		return errors.Errorf("protocol %q failed to initialize", p.Name)
	}
	r.protocols[p.Name] = p
	r.protoOrder = append(r.protoOrder, p.Name)
	return nil
}

// RegisterApp adds a to the table under its (ProtoBelong, Name) key and
// runs its module-wide init against the owning protocol.
func (r *Registry) RegisterApp(a *App) error {
	proto, ok := r.protocols[a.ProtoBelong]
	if !ok {
		return errors.Wrapf(wraperr.ErrUnknownProtocol, "app %q belongs to unregistered protocol %q", a.Name, a.ProtoBelong)
	}
	key := a.ProtoBelong + "/" + a.Name
	if _, exists := r.apps[key]; exists {
		return errors.Wrapf(wraperr.ErrDuplicateRegistration, "app %q", key)
	}
	if a.InitApp != nil && a.InitApp(proto) == WRONG {
		return errors.Errorf("app %q failed to initialize", key)
	}
	a.isInit = true
	r.apps[key] = a
	r.appOrder = append(r.appOrder, a)
	return nil
}

// RegisterWorker adds w to the table.
func (r *Registry) RegisterWorker(w *Worker) error {
	if _, exists := r.workers[w.Name]; exists {
		return errors.Wrapf(wraperr.ErrDuplicateRegistration, "worker %q", w.Name)
	}
	r.workers[w.Name] = w
	return nil
}

// BindPort maps a listen port to the protocol that should own connections
// accepted on it, used by SpotProtocol when a protocol's selection is
// port-driven rather than peek-driven.
func (r *Registry) BindPort(port int, protocolName string) {
	r.spotByPort[port] = protocolName
}

// Worker looks up a registered worker by name.
func (r *Registry) Worker(name string) (*Worker, bool) {
	w, ok := r.workers[name]
	return w, ok
}

// App looks up a registered app by (protocol, name).
func (r *Registry) App(protocolName, appName string) (*App, bool) {
	a, ok := r.apps[protocolName+"/"+appName]
	return a, ok
}

// Apps returns every registered app, in registration order.
func (r *Registry) Apps() []*App { return r.appOrder }

// Protocols returns every registered protocol, in registration order.
func (r *Registry) Protocols() []*Protocol {
	out := make([]*Protocol, 0, len(r.protoOrder))
	for _, name := range r.protoOrder {
		out = append(out, r.protocols[name])
	}
	return out
}

// SpotProtocol picks the protocol for a new client (spec.md §4.2): the one
// bound to its listen port via BindPort, or, when the port is unbound and
// exactly one protocol is registered, that protocol. No protocol peeks at
// the client's bytes, so with several protocols and no port binding it
// returns ErrUnknownProtocol.
func (r *Registry) SpotProtocol(ip string, port int, fd int) (*Protocol, error) {
	if name, ok := r.spotByPort[port]; ok {
		if p, ok := r.protocols[name]; ok {
			return p, nil
		}
	}
	if len(r.protocols) == 1 {
		for _, p := range r.protocols {
			return p, nil
		}
	}
	return nil, errors.Wrapf(wraperr.ErrUnknownProtocol, "ip=%s port=%d fd=%d", ip, port, fd)
}

// Teardown calls DeallocApp on every initialized app and DeallocProtocol on
// every loaded protocol, in reverse registration order, mirroring the
// worker-process scaffold's teardown step (spec.md §4.7).
func (r *Registry) Teardown() {
	for i := len(r.appOrder) - 1; i >= 0; i-- {
		a := r.appOrder[i]
		if a.isInit && a.DeallocApp != nil {
			a.DeallocApp()
			a.isInit = false
		}
	}
	for i := len(r.protoOrder) - 1; i >= 0; i-- {
		p := r.protocols[r.protoOrder[i]]
		if p.DeallocProtocol != nil {
			p.DeallocProtocol()
		}
	}
}
