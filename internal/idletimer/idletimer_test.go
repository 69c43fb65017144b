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

package idletimer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheatnet/wheatnet/internal/idletimer"
)

type fakeClient struct {
	name   string
	lastIO time.Time
}

func (f *fakeClient) LastIO() time.Time { return f.lastIO }

func TestTree_ExpiredReturnsOnlyPastDeadline(t *testing.T) {
	now := time.Now()
	tr := idletimer.New(10 * time.Second)

	stale := &fakeClient{name: "stale", lastIO: now.Add(-20 * time.Second)}
	fresh := &fakeClient{name: "fresh", lastIO: now}
	tr.Track(stale)
	tr.Track(fresh)

	expired := tr.Expired(now)
	require.Len(t, expired, 1)
	assert.Same(t, stale, expired[0])
	assert.Equal(t, 1, tr.Len())
}

func TestTree_ExpiredOrdersByDeadline(t *testing.T) {
	now := time.Now()
	tr := idletimer.New(time.Second)

	c1 := &fakeClient{name: "c1", lastIO: now.Add(-3 * time.Second)}
	c2 := &fakeClient{name: "c2", lastIO: now.Add(-5 * time.Second)}
	c3 := &fakeClient{name: "c3", lastIO: now.Add(-1 * time.Second)}
	tr.Track(c1)
	tr.Track(c2)
	tr.Track(c3)

	expired := tr.Expired(now)
	require.Len(t, expired, 3)
	assert.Equal(t, []string{"c2", "c1", "c3"}, []string{
		expired[0].(*fakeClient).name,
		expired[1].(*fakeClient).name,
		expired[2].(*fakeClient).name,
	})
}

func TestTree_TrackReplacesPriorDeadline(t *testing.T) {
	now := time.Now()
	tr := idletimer.New(10 * time.Second)

	cl := &fakeClient{name: "cl", lastIO: now.Add(-20 * time.Second)}
	tr.Track(cl)
	require.Len(t, tr.Expired(now.Add(-100*time.Second)), 0, "not yet past deadline at an earlier check time")

	// Touch refreshes last_io; re-Track must move the deadline forward so a
	// client that just spoke isn't evicted as idle.
	cl.lastIO = now
	tr.Track(cl)

	assert.Empty(t, tr.Expired(now))
	assert.Equal(t, 1, tr.Len())
}

func TestTree_UntrackRemovesItem(t *testing.T) {
	now := time.Now()
	tr := idletimer.New(time.Second)
	cl := &fakeClient{name: "cl", lastIO: now.Add(-10 * time.Second)}
	tr.Track(cl)
	tr.Untrack(cl)

	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Expired(now))
}
