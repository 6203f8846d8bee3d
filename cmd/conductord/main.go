// Copyright 2026 Conductor Authors
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

// Command conductord is the long-running daemon: it loads every ensemble
// in a directory, fires the ones with schedule bindings on their own
// cron, and serves the ones with webhook bindings over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ensemble-edge/conductor/internal/cli"
	"github.com/ensemble-edge/conductor/internal/log"
	"github.com/ensemble-edge/conductor/internal/trigger"
	"github.com/ensemble-edge/conductor/pkg/ensemble"
	"github.com/ensemble-edge/conductor/pkg/ensemble/cache"
	"github.com/ensemble-edge/conductor/pkg/ensemble/driver"
	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend"
	"github.com/ensemble-edge/conductor/pkg/ensemble/suspend/memory"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		ensemblesDir = flag.String("ensembles-dir", "./ensembles", "directory of ensemble YAML files to load")
		listenAddr   = flag.String("listen", "127.0.0.1:8080", "address to serve webhook routes on")
		showVersion  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("conductord %s (commit %s, built %s)\n", version, commit, buildDate)
		return
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	ensembles, err := loadEnsembles(*ensemblesDir)
	if err != nil {
		logger.Error("failed to load ensembles", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("loaded ensembles", slog.Int("count", len(ensembles)))

	registry, err := cli.BuildRegistry(nil)
	if err != nil {
		logger.Error("failed to build member registry", slog.Any("error", err))
		os.Exit(1)
	}

	frames := suspend.NewManager(memory.New(time.Minute))
	d := driver.New(registry, cache.New(), cli.StandardEvaluators(), frames, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := trigger.NewScheduler(d, logger)
	now := time.Now()
	for _, ens := range ensembles {
		if err := sched.Add(ens, now); err != nil {
			logger.Error("failed to register schedule", slog.Any("error", err))
			os.Exit(1)
		}
	}
	sched.Start(ctx)
	defer sched.Stop()

	dispatcher := trigger.NewDispatcher(d, webhookSecretsFromEnv(ensembles), logger)
	for _, ens := range ensembles {
		dispatcher.Add(ens)
	}
	mux := http.NewServeMux()
	dispatcher.RegisterRoutes(mux)

	server := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		logger.Info("serving webhooks", slog.String("addr", *listenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("webhook server stopped", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

func loadEnsembles(dir string) ([]*ensemble.Ensemble, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var out []*ensemble.Ensemble
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".yaml" && filepath.Ext(name) != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		ens, err := ensemble.ParseEnsemble(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		out = append(out, ens)
	}
	return out, nil
}

// webhookSecretsEnvPrefix namespaces the environment variables that
// carry per-path webhook secrets, kept out of the ensemble YAML itself.
const webhookSecretsEnvPrefix = "CONDUCTOR_WEBHOOK_SECRET_"

// webhookSecretsFromEnv builds the path->secret map trigger.Dispatcher
// needs from CONDUCTOR_WEBHOOK_SECRET_<PATH> variables, where <PATH> is
// the webhook binding's Path with '/' replaced by '_' and upper-cased
// (e.g. "/webhooks/github" -> CONDUCTOR_WEBHOOK_SECRET__WEBHOOKS_GITHUB).
func webhookSecretsFromEnv(ensembles []*ensemble.Ensemble) map[string]string {
	secrets := make(map[string]string)
	for _, ens := range ensembles {
		for _, binding := range ens.Webhooks {
			key := webhookSecretsEnvPrefix + envSafe(binding.Path)
			if v := os.Getenv(key); v != "" {
				secrets[binding.Path] = v
			}
		}
	}
	return secrets
}

func envSafe(path string) string {
	out := make([]rune, 0, len(path))
	for _, r := range path {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
