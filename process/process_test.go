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

package process_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheatnet/wheatnet/process"
	"github.com/wheatnet/wheatnet/runtime"
)

func TestProcess_TicksWorkerCronAndAppCron(t *testing.T) {
	var workerCrons, appCrons int32

	reg := runtime.NewRegistry()
	require.NoError(t, reg.RegisterProtocol(&runtime.Protocol{Name: "p"}))
	require.NoError(t, reg.RegisterApp(&runtime.App{
		Name:        "a",
		ProtoBelong: "p",
		AppCron:     func() { atomic.AddInt32(&appCrons, 1) },
	}))

	worker := &runtime.Worker{
		Name: "w",
		Cron: func() { atomic.AddInt32(&workerCrons, 1) },
	}

	p := process.New(reg, worker, 5*time.Millisecond, 0)
	go p.Run()
	defer p.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&workerCrons) >= 2 && atomic.LoadInt32(&appCrons) >= 2
	}, time.Second, time.Millisecond)
}

func TestProcess_StatsRefreshFiresOnItsOwnCadence(t *testing.T) {
	reg := runtime.NewRegistry()
	worker := &runtime.Worker{Name: "w"}

	var refreshes int32
	p := process.New(reg, worker, 5*time.Millisecond, 15*time.Millisecond)
	p.OnStatsRefresh = func() { atomic.AddInt32(&refreshes, 1) }
	go p.Run()
	defer p.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&refreshes) >= 2
	}, time.Second, time.Millisecond)
}

func TestProcess_StopRunsTeardownExactlyOnce(t *testing.T) {
	var deallocs int32
	reg := runtime.NewRegistry()
	require.NoError(t, reg.RegisterProtocol(&runtime.Protocol{Name: "p"}))
	require.NoError(t, reg.RegisterApp(&runtime.App{
		Name:        "a",
		ProtoBelong: "p",
		DeallocApp:  func() { atomic.AddInt32(&deallocs, 1) },
	}))
	worker := &runtime.Worker{Name: "w"}

	p := process.New(reg, worker, time.Hour, 0)
	done := make(chan struct{})
	go func() {
		p.Run()
		close(done)
	}()
	p.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&deallocs))
}
