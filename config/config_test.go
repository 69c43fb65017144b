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

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheatnet/wheatnet/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "wheatnet.yaml")
	require.NoError(t, os.WriteFile(file, []byte(body), 0o644))
	return file
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	file := writeConfig(t, "listen_addr: \":9000\"\nworker_name: SyncWorker\n")

	cfg, err := config.LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "SyncWorker", cfg.WorkerName)
	// unset fields keep their defaults
	assert.Equal(t, 64*1024, cfg.ReadBufferCap)
	assert.Equal(t, 60, cfg.IdleTimeoutSeconds)
}

func TestLoadConfig_RejectsUnknownWorkerName(t *testing.T) {
	file := writeConfig(t, "worker_name: TurboWorker\n")

	_, err := config.LoadConfig(file)
	assert.Error(t, err)
}

func TestLoadConfig_RejectsEmptyListenAddr(t *testing.T) {
	file := writeConfig(t, "listen_addr: \"\"\n")

	_, err := config.LoadConfig(file)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFileErrors(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
