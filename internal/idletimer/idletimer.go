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

// Package idletimer keeps an ordered tree of clients by last-I/O deadline so
// a worker's cron can evict idle clients in O(log n) without scanning every
// connection.
package idletimer

import (
	"time"

	"github.com/petar/GoLLRB/llrb"
)

// Expirable is anything idletimer can track; workers/asyncworker satisfies
// this with *runtime.Client.
type Expirable interface {
	LastIO() time.Time
}

type entry struct {
	deadline time.Time
	seq      uint64
	item     Expirable
}

func (e *entry) Less(than llrb.Item) bool {
	other := than.(*entry)
	if e.deadline.Equal(other.deadline) {
		return e.seq < other.seq
	}
	return e.deadline.Before(other.deadline)
}

// Tree is an idle-deadline-ordered index, one per worker.
type Tree struct {
	tree    *llrb.LLRB
	timeout time.Duration
	seq     uint64
	byItem  map[Expirable]*entry
}

// New returns a Tree that considers an item idle once timeout has elapsed
// since its LastIO.
func New(timeout time.Duration) *Tree {
	return &Tree{
		tree:    llrb.New(),
		timeout: timeout,
		byItem:  make(map[Expirable]*entry),
	}
}

// Track (re)inserts item at its current LastIO()+timeout deadline, replacing
// any prior entry for it. Call on every Touch() so the tree stays accurate.
func (t *Tree) Track(item Expirable) {
	if old, ok := t.byItem[item]; ok {
		t.tree.Delete(old)
	}
	t.seq++
	e := &entry{deadline: item.LastIO().Add(t.timeout), seq: t.seq, item: item}
	t.byItem[item] = e
	t.tree.ReplaceOrInsert(e)
}

// Untrack removes item, called when a client is freed.
func (t *Tree) Untrack(item Expirable) {
	if old, ok := t.byItem[item]; ok {
		t.tree.Delete(old)
		delete(t.byItem, item)
	}
}

// Expired pops and returns every tracked item whose deadline is at or
// before now, in deadline order. Popped items are removed from the tree and
// from byItem; a caller that wants to keep watching a survivor must Track
// it again.
func (t *Tree) Expired(now time.Time) []Expirable {
	var out []Expirable
	for {
		min := t.tree.Min()
		if min == nil {
			return out
		}
		e := min.(*entry)
		if e.deadline.After(now) {
			return out
		}
		t.tree.DeleteMin()
		delete(t.byItem, e.item)
		out = append(out, e.item)
	}
}

// Len reports how many items are currently tracked.
func (t *Tree) Len() int { return t.tree.Len() }

// HeightStats exposes the tree's balance, surfaced as a health gauge.
func (t *Tree) HeightStats() (depth, stddev float64) { return t.tree.HeightStats() }
