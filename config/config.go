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

package config

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/wheatnet/wheatnet/internal/logging"
)

// Config is the worker process's on-disk configuration. It is loaded once
// at boot by cmd/wheatnetd; the worker process itself never re-reads it.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	AdminPort    int    `yaml:"admin_port"`
	WorkerName   string `yaml:"worker_name"`
	LogPath      string `yaml:"log_path"`
	LogLevel     string `yaml:"log_level"`
	LogExpireDay int    `yaml:"log_expire_day"`

	ReadBufferCap  int `yaml:"read_buffer_cap"`
	WriteBufferCap int `yaml:"write_buffer_cap"`

	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
	CronIntervalMillis int `yaml:"cron_interval_millis"`
	StatsRefreshSeconds int `yaml:"stats_refresh_seconds"`

	AllowListPath string `yaml:"allow_list_path"`

	StaticFileRoot string `yaml:"static_file_root"`
}

func defaults() Config {
	return Config{
		ListenAddr:          ":4000",
		AdminPort:           0,
		WorkerName:          "AsyncWorker",
		LogPath:             "log",
		LogLevel:            logging.LevelDebug,
		LogExpireDay:        7,
		ReadBufferCap:       64 * 1024,
		WriteBufferCap:      64 * 1024,
		IdleTimeoutSeconds:  60,
		CronIntervalMillis:  100,
		StatsRefreshSeconds: 5,
		StaticFileRoot:      "public",
	}
}

// LoadConfig reads and validates the worker process configuration at fileName.
func LoadConfig(fileName string) (*Config, error) {
	cfg := defaults()

	file, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read file from %s", fileName)
	}
	if err = yaml.Unmarshal(file, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", fileName)
	}
	if err = cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "config validate failed")
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, ok := logging.LevelMapperRev[c.LogLevel]; !ok {
		return errors.Errorf("unknown log level %s", c.LogLevel)
	}
	if c.WorkerName != "SyncWorker" && c.WorkerName != "AsyncWorker" {
		return errors.Errorf("unknown worker_name %s", c.WorkerName)
	}
	if len(c.ListenAddr) < 1 {
		return errors.Errorf("listen_addr must not be empty")
	}
	return nil
}
