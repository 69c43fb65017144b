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

package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wheatnet/wheatnet/admin"
	"github.com/wheatnet/wheatnet/apps/redisapp"
	"github.com/wheatnet/wheatnet/apps/staticfile"
	"github.com/wheatnet/wheatnet/apps/wsgi"
	"github.com/wheatnet/wheatnet/config"
	"github.com/wheatnet/wheatnet/internal/allowlist"
	"github.com/wheatnet/wheatnet/internal/logging"
	"github.com/wheatnet/wheatnet/internal/stats"
	httpproto "github.com/wheatnet/wheatnet/protocols/http"
	"github.com/wheatnet/wheatnet/protocols/redis"
	"github.com/wheatnet/wheatnet/process"
	"github.com/wheatnet/wheatnet/runtime"
	"github.com/wheatnet/wheatnet/workers/asyncworker"
	"github.com/wheatnet/wheatnet/workers/syncworker"
)

var (
	configPath       = flag.String("p", "conf", "Config file path")
	basicConfigFile  = flag.String("c", "wheatnet.yaml", "Basic config filename")
	allowListFile    = flag.String("a", "allowlist.yaml", "Allow-list config filename")
	version          = flag.Bool("v", false, "Show version")
	help             = flag.Bool("h", false, "Show usage info")
)

var (
	CommitSHA string
	Tag       string
	BuildTime string
)

func init() {
	if len(Tag) < 1 {
		Tag = "unknown"
	}
	if len(CommitSHA) < 1 {
		CommitSHA = "unknown"
	}
	if len(BuildTime) < 1 {
		BuildTime = "unknown"
	}
}

const banner string = `
 _          __             __
| |        / /            / /
| |_ __  __\ \  ___  __ _ | |_
| __|\ \/ / \ \/ _ \/ _  ||  _|
| |_  >  < _\ \  __/ (_| || |_
 \__|/_/\_\____/\___|\__,_|\__|
`

func parseCli() {
	flag.Parse()
	if *version {
		fmt.Printf("version: %s\ncommit: %s\ntime: %s\n", Tag, CommitSHA, BuildTime)
		os.Exit(0)
	}
	if *help {
		flag.Usage()
		os.Exit(0)
	}
}

func main() {
	parseCli()

	cfg, err := config.LoadConfig(path.Join(*configPath, *basicConfigFile))
	if err != nil {
		logging.Errorf("parse config file err: %v", err)
		os.Exit(1)
	}

	if err = logging.InitializeLogger(
		logging.WithPath(cfg.LogPath),
		logging.WithExpireDay(cfg.LogExpireDay),
		logging.WithLogLevel(cfg.LogLevel),
	); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(banner)
	fmt.Printf("wheatnet version: %s\n", Tag)
	fmt.Printf("wheatnet started on %s, pid: %d\n", cfg.ListenAddr, syscall.Getpid())
	logging.Infof("wheatnet started on %s, pid: %d, version: %s", cfg.ListenAddr, syscall.Getpid(), Tag)

	allow, err := allowlist.Load(*configPath, *allowListFile)
	if err != nil {
		logging.Errorf("failed to load allow-list, err: %s", err)
		os.Exit(1)
	}

	reg := runtime.NewRegistry()
	mustRegister(reg.RegisterProtocol(redis.New()))
	mustRegister(reg.RegisterProtocol(httpproto.New(nil)))
	mustRegister(reg.RegisterApp(redisapp.New(redisapp.NewMemory())))
	mustRegister(reg.RegisterApp(staticfile.New(cfg.StaticFileRoot, httpproto.StaticPathPrefix)))
	mustRegister(reg.RegisterApp(wsgi.New(func(req *httpproto.Request) wsgi.Response {
		return wsgi.Response{Status: 404, Body: []byte("not found")}
	})))

	workerStats := stats.New("wheatnet_" + cfg.WorkerName)
	reg.OnDispatch = workerStats.OnDispatch

	if cfg.AdminPort > 0 {
		gin.SetMode(gin.ReleaseMode)
		ginSrv := gin.New()
		admin.Init(ginSrv, reg, time.Now())
		httpSrv := &http.Server{Handler: ginSrv, Addr: fmt.Sprintf(":%d", cfg.AdminPort)}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Errorf("admin server failed: %s", err)
			}
		}()
	}

	var worker *runtime.Worker
	switch cfg.WorkerName {
	case asyncworker.Name:
		worker = runAsync(reg, cfg, workerStats, allow)
	default:
		worker = runSync(reg, cfg, workerStats, allow)
	}
	if worker == nil {
		os.Exit(1)
	}

	proc := process.New(reg, worker,
		time.Duration(cfg.CronIntervalMillis)*time.Millisecond,
		time.Duration(cfg.StatsRefreshSeconds)*time.Second,
	)
	proc.Run()

	logging.Infof("wheatnet shutdown, pid: %d", syscall.Getpid())
}

func runSync(reg *runtime.Registry, cfg *config.Config, st *stats.Worker, allow *allowlist.List) *runtime.Worker {
	// Single listener served with the first registered protocol: a real
	// multi-port deployment would call Serve once per listener/protocol pair.
	if len(reg.Protocols()) == 0 {
		logging.Errorf("syncworker: no protocol registered")
		return nil
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logging.Errorf("listen %s: %v", cfg.ListenAddr, err)
		return nil
	}
	opt := syncworker.Options{
		ReadBufferCap: cfg.ReadBufferCap,
		IdleTimeout:   time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		Stats:         st,
		AllowList:     allow,
	}
	w := syncworker.New(opt)
	protocol := reg.Protocols()[0]
	go func() {
		if serr := syncworker.Serve(ln, reg, protocol, opt); serr != nil {
			logging.Errorf("syncworker: serve failed: %v", serr)
		}
	}()
	return w
}

func runAsync(reg *runtime.Registry, cfg *config.Config, st *stats.Worker, allow *allowlist.List) *runtime.Worker {
	fd, err := asyncworker.Listen(cfg.ListenAddr)
	if err != nil {
		logging.Errorf("asyncworker: listen %s: %v", cfg.ListenAddr, err)
		return nil
	}
	if len(reg.Protocols()) == 0 {
		return nil
	}
	opt := asyncworker.Options{
		ReadBufferCap: cfg.ReadBufferCap,
		IdleTimeout:   time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		CronInterval:  time.Duration(cfg.CronIntervalMillis) * time.Millisecond,
		Stats:         st,
		AllowList:     allow,
	}
	w, err := asyncworker.NewWorker(reg, reg.Protocols()[0], fd, opt)
	if err != nil {
		logging.Errorf("asyncworker: init failed: %v", err)
		return nil
	}
	go func() {
		if rerr := w.Run(nil); rerr != nil {
			logging.Errorf("asyncworker: run failed: %v", rerr)
		}
	}()
	return asyncworker.New(opt)
}

func mustRegister(err error) {
	if err != nil {
		logging.Errorf("registration failed: %s", err)
		os.Exit(1)
	}
}
