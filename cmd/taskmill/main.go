package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"taskmill/internal/api"
	"taskmill/internal/config"
	"taskmill/internal/queue"
	"taskmill/internal/scheduler"
	"taskmill/internal/tasks"
	"taskmill/internal/worker"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := queue.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	store := queue.NewSQLiteStore(db)
	if n, err := store.RecoverStale(context.Background(), time.Now().UTC(), cfg.VisibilityWindow); err == nil && n > 0 {
		log.Info().Int("recovered", n).Msg("recovered stale in-progress tasks")
	}

	registry, err := worker.NewRegistry(
		tasks.Shell{},
		tasks.HTTPCall{},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("build capability registry")
	}

	retention, err := cfg.RetentionMode()
	if err != nil {
		log.Fatal().Err(err).Msg("retention mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	pool := worker.NewPool(store, registry, cfg.Workers,
		worker.WithSleepParams(cfg.SleepParams()),
		worker.WithRetention(retention),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	sched := scheduler.NewService(store, cfg.SchedulerInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServerWithDebug(store, cfg.Debug)}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	wg.Wait()

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
