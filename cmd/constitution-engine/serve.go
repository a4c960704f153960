/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jordigilh/constitution-engine/internal/config"
	"github.com/jordigilh/constitution-engine/internal/database"
	"github.com/jordigilh/constitution-engine/pkg/events"
	"github.com/jordigilh/constitution-engine/pkg/zombie"
)

// runServe loads configuration, wires the storage driver, event sink,
// and zombie sweeper, and serves the admin-only
// /healthz and /metrics endpoints until interrupted. The business API
// (checkout/submit/instantiate) is out of scope for this binary (spec.md
// §1) — those operations are library calls for an embedding service to
// expose however it sees fit.
func runServe(ctx context.Context, args []string, zapLogger *zap.Logger) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the engine's YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := zapr.NewLogger(zapLogger)

	db, closeDB, err := openDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeDB()

	sink, closeSink, err := openEventSink(cfg)
	if err != nil {
		return fmt.Errorf("open event sink: %w", err)
	}
	defer closeSink()
	emitter := events.NewEmitter(sink)

	// pilot.NewSlackNotifier is constructed by whatever embeds this engine
	// as a library at its own pilot/park-notify call sites (this binary's
	// surface is admin-only); logged here just so the operator can see
	// whether the config would enable it.
	if cfg.Pilot.SlackToken != "" {
		log.Info("pilot Slack notifications configured", "channel", cfg.Pilot.SlackChannel)
	}

	sweeper := &zombie.Sweeper{
		DB:            db,
		Emitter:       emitter,
		Interval:      cfg.Zombie.PollInterval,
		ThresholdSoft: cfg.Zombie.SoftTimeout,
		ThresholdHard: cfg.Zombie.HardTimeout,
		Log:           log,
	}
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go sweeper.Run(sweepCtx)

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: ":" + cfg.Server.HealthPort, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		log.Info("serving admin surface", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		return server.Shutdown(context.Background())
	}
}

func openDatabase(ctx context.Context, cfg *config.Config) (database.DB, func(), error) {
	var db database.DB
	switch cfg.Database.Driver {
	case "postgres":
		if err := database.Migrate(cfg.Database.DSN); err != nil {
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		pg, err := database.OpenPostgres(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		db = pg
	default:
		db = database.NewMemoryDB()
	}
	traced := database.WithTracing(db)
	return traced, func() { db.Close() }, nil
}

func openEventSink(cfg *config.Config) (events.Sink, func(), error) {
	switch cfg.Events.Backend {
	case "file":
		sink, err := events.NewFileSink(cfg.Events.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() {}, nil
	case "redis_stream":
		client := redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr})
		sink := events.NewRedisStreamSink(client, cfg.Events.Stream)
		return sink, func() { client.Close() }, nil
	default:
		return events.NewMemorySink(), func() {}, nil
	}
}
