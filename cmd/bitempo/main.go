package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitempo/bitempo/internal/config"
	"github.com/bitempo/bitempo/internal/db"
	"github.com/bitempo/bitempo/internal/logging"
	"github.com/bitempo/bitempo/migrations"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const usage = `usage: bitempo <command> [args]

commands:
  migrate              apply pending schema migrations
  worker               run the durable activation worker (+ /metrics endpoint)
  resync <entityType>  rebuild the current projection for every entity of a type
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	dbCfg, engCfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(engCfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := db.NewConnection(ctx, dbCfg)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	switch os.Args[1] {
	case "migrate":
		if err := db.RunMigrations(conn.Pool, migrations.FS, "."); err != nil {
			log.Fatal("migrations failed", zap.Error(err))
		}
		log.Info("migrations applied")

	case "worker":
		runWorker(ctx, cancel, conn, engCfg, log)

	case "resync":
		if len(os.Args) < 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		eng := buildEngine(conn, engCfg, log, os.Args[2])
		if err := eng.ResyncAll(ctx, os.Args[2]); err != nil {
			log.Fatal("resync failed", zap.Error(err))
		}
		log.Info("resync complete", zap.String("entity_type", os.Args[2]))

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func runWorker(ctx context.Context, cancel context.CancelFunc, conn *db.Connection, engCfg config.Engine, log *zap.Logger) {
	// The engine registers itself as the scheduler's firing callback.
	_, sched := buildWorkerEngine(conn, engCfg, log)

	metricsServer := &http.Server{
		Addr:         engCfg.MetricsAddr,
		Handler:      promhttp.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Info("metrics listening", zap.String("addr", engCfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("activation worker stopped", zap.Error(err))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	cancel()
}
