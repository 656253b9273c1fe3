// Copyright 2025 Google LLC
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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nlcache/nlc/common"
	"github.com/nlcache/nlc/internal/cfg"
	"github.com/nlcache/nlc/internal/fop"
	"github.com/nlcache/nlc/internal/hostiface"
	"github.com/nlcache/nlc/internal/hostiface/fake"
	"github.com/nlcache/nlc/internal/invalidation"
	"github.com/nlcache/nlc/internal/logger"
	"github.com/nlcache/nlc/internal/nlcache"
)

var (
	cfgFile     string
	logLevel    string
	metricsAddr string
	bindErr     error
	MountConfig cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "nlcached",
	Short: "Scripted demo host for the negative-lookup cache library",
	Long: `nlcached wires an in-memory inode table, the probe/mutation FOP
interceptors, and the invalidation handler together and drives a small
scripted trace through them, printing the resulting cache statistics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if err := viper.Unmarshal(&MountConfig); err != nil {
			return fmt.Errorf("unmarshalling config: %w", err)
		}
		logger.Init("text", logLevel, os.Stderr)

		if metricsAddr != "" {
			stop := serveMetricsInBackground(metricsAddr)
			defer stop()
		}

		return runDemo(cmd.Context(), MountConfig.NlCache)
	},
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file (unused by the demo trace, present for parity with a real host).")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-severity", logger.INFO, "Minimum severity to log (TRACE, DEBUG, INFO, WARNING, ERROR, OFF).")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090) for the duration of the demo trace.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func serveMetricsInBackground(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("nlcached: metrics server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// runDemo builds a Conf, a fake host, the C6/C7 wiring, and drives a small
// trace exercising every FOP the interceptors know about end-to-end.
func runDemo(ctx context.Context, nlc cfg.NlCacheConfig) error {
	conf := nlcache.New(nlcache.Options{
		CacheTimeout:        nlc.Timeout,
		PositiveEntryCache:  nlc.PositiveEntry,
		NegativeEntryCache:  true,
		DisableCache:        nlc.PassThrough,
		CacheSizeLimitBytes: nlc.Limit,
		InodeLimit:          0,
	})
	defer conf.Close()

	collector := nlcache.NewCollector(conf)
	if err := prometheus.Register(collector); err != nil {
		logger.Warnf("nlcached: registering metrics collector: %v", err)
	}

	table := fake.NewTable()
	probe := fop.NewProbeInterceptor(conf, table)
	mut := fop.NewMutationInterceptor(conf, table)
	handler := invalidation.NewHandler(conf, table)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go handler.Run(runCtx, table.Upcalls(), table.ConnEvents(), table.Forgets())

	root := table.CreateDir(true)

	logger.Infof("nlcached: %s(root, \"missing\") -> expect a miss, then an NE", common.OpLookUpInode)
	out, err := probe.Lookup(ctx, fop.LookupRequest{Parent: root.ID(), HasParent: true, Name: "missing"},
		func(context.Context) (fop.LookupBackendResult, error) {
			return fop.LookupBackendResult{ENOENT: true}, nil
		})
	if err != nil {
		return err
	}
	logger.Infof("nlcached: served_locally=%v enoent=%v", out.ServedLocally, out.ENOENT)

	logger.Infof("nlcached: repeating the same %s -> expect a cache hit", common.OpLookUpInode)
	out, err = probe.Lookup(ctx, fop.LookupRequest{Parent: root.ID(), HasParent: true, Name: "missing"},
		func(context.Context) (fop.LookupBackendResult, error) {
			logger.Errorf("nlcached: backend reached on what should have been a cache hit")
			return fop.LookupBackendResult{ENOENT: true}, nil
		})
	if err != nil {
		return err
	}
	logger.Infof("nlcached: served_locally=%v enoent=%v", out.ServedLocally, out.ENOENT)

	logger.Infof("nlcached: %s(root, \"sub\") -> records \"sub\" as a PE when the positive-entry cache is on", common.OpMkDir)
	var sub hostiface.DirHandle
	_, err = mut.Mkdir(ctx, root.ID(), "sub", func(context.Context) (fop.ChildResult, error) {
		h := table.CreateDir(true)
		sub = h
		return fop.ChildResult{ChildID: h.ID()}, nil
	})
	if err != nil {
		return err
	}

	logger.Infof("nlcached: %s(root, \"get_real_filename:SUB\") -> case-insensitive hit when the positive-entry cache is on", common.OpGetXattr)
	gout, err := probe.GetXattr(ctx, fop.GetXattrRequest{Dir: root.ID(), Key: "get_real_filename:SUB"},
		func(context.Context) (fop.GetXattrBackendResult, error) {
			return fop.GetXattrBackendResult{Value: "sub"}, nil
		})
	if err != nil {
		return err
	}
	logger.Infof("nlcached: served_locally=%v canonical=%q", gout.ServedLocally, gout.CanonicalName)

	logger.Infof("nlcached: %s(root, \"sub\") -> clears sub's own cache and records the name as an NE when the positive-entry cache is on", common.OpRmDir)
	if err := mut.Rmdir(ctx, root.ID(), "sub", sub.ID(), func(context.Context) (struct{}, error) { return struct{}{}, nil }); err != nil {
		return err
	}

	snap := conf.Stats.Snapshot()
	logger.Infof("nlcached: final stats: hit=%d miss=%d getrealfilename_hit=%d getrealfilename_miss=%d invals=%d",
		snap.Hit, snap.Miss, snap.GetRealFileNameHit, snap.GetRealFileNameMiss, snap.Invalidations)

	return nil
}
