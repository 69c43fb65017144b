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

// Package process is the worker-process scaffold (spec.md §4.7): the
// shared init/setup/cron/teardown lifecycle both I/O worker models sit
// inside. Forking the process fleet itself is the master supervisor's job
// and stays out of this package's scope.
package process

import (
	"os"
	"time"

	"github.com/wheatnet/wheatnet/internal/logging"
	"github.com/wheatnet/wheatnet/runtime"
)

// Process holds everything Run's cron tick needs.
type Process struct {
	Registry *runtime.Registry
	Worker   *runtime.Worker

	StartTime time.Time
	ParentPID int

	CronInterval         time.Duration
	StatsRefreshInterval time.Duration

	// OnStatsRefresh is called on the stats-refresh cadence; a real
	// deployment wires this to emit a packet to the master, which is out
	// of this package's scope (spec.md §1's stats-collector collaborator).
	OnStatsRefresh func()

	stop chan struct{}
}

// New builds a Process bound to reg/worker, ready for Run.
func New(reg *runtime.Registry, worker *runtime.Worker, cronInterval, statsInterval time.Duration) *Process {
	return &Process{
		Registry:             reg,
		Worker:               worker,
		StartTime:            time.Now(),
		ParentPID:            os.Getppid(),
		CronInterval:         cronInterval,
		StatsRefreshInterval: statsInterval,
		stop:                 make(chan struct{}),
	}
}

// Run ticks the worker and app crons at CronInterval until Stop is called or the
// parent process disappears (the master dying is this worker's signal to
// exit, per spec.md §7's process-fatal error kind).
func (p *Process) Run() {
	if p.Worker.Setup != nil {
		p.Worker.Setup()
	}

	ticker := time.NewTicker(p.CronInterval)
	defer ticker.Stop()

	var sinceStats time.Duration
	for {
		select {
		case <-p.stop:
			p.teardown()
			return
		case <-ticker.C:
			if p.Worker.Cron != nil {
				p.Worker.Cron()
			}
			for _, app := range p.Registry.Apps() {
				if app.IsInit() && app.AppCron != nil {
					app.AppCron()
				}
			}
			sinceStats += p.CronInterval
			if p.StatsRefreshInterval > 0 && sinceStats >= p.StatsRefreshInterval {
				sinceStats = 0
				if p.OnStatsRefresh != nil {
					p.OnStatsRefresh()
				}
			}
			if p.ParentPID != 0 && os.Getppid() != p.ParentPID {
				logging.Warnf("process: parent pid changed (was %d), exiting", p.ParentPID)
				p.teardown()
				os.Exit(3)
			}
		}
	}
}

// Stop requests Run's loop to exit and run teardown.
func (p *Process) Stop() {
	close(p.stop)
}

func (p *Process) teardown() {
	p.Registry.Teardown()
}
