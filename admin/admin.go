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

// Package admin is the worker's observability surface, separate from the
// protocol pipeline: pprof, prometheus metrics, and a registry introspection
// endpoint, the same way the system this was grown from runs its stats
// fd alongside (not inside) the connection loop.
package admin

import (
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wheatnet/wheatnet/runtime"
)

// Version is set by the build (or left as "dev" in development).
var Version = "dev"

// Init registers every admin route on ginSrv.
func Init(ginSrv *gin.Engine, reg *runtime.Registry, startTime time.Time) {
	pprof.Register(ginSrv)
	ginSrv.GET("/metrics", gin.WrapH(promhttp.Handler()))
	ginSrv.GET("/version", handleVersion(startTime))
	ginSrv.GET("/registry", handleRegistry(reg))
}

func handleVersion(startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    Version,
			"start_time": startTime.Format(time.RFC3339),
			"uptime":     time.Since(startTime).String(),
		})
	}
}

// handleRegistry is the supplemented introspection endpoint (SPEC_FULL.md
// §6): dumps every registered protocol/app by name and init state, useful
// for confirming a deploy wired up the expected modules without reading
// worker logs.
func handleRegistry(reg *runtime.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		protocols := make([]gin.H, 0, len(reg.Protocols()))
		for _, p := range reg.Protocols() {
			protocols = append(protocols, gin.H{"name": p.Name})
		}
		apps := make([]gin.H, 0, len(reg.Apps()))
		for _, a := range reg.Apps() {
			apps = append(apps, gin.H{
				"name":         a.Name,
				"proto_belong": a.ProtoBelong,
				"is_init":      a.IsInit(),
			})
		}
		c.JSON(200, gin.H{"protocols": protocols, "apps": apps})
	}
}
