package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ytdlp-api/internal/config"
	"ytdlp-api/internal/database"
	"ytdlp-api/internal/downloader"
	"ytdlp-api/internal/server"
	"ytdlp-api/internal/task"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.Init(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store, err := task.NewStore(db)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	if n := store.RecoverInterrupted(); n > 0 {
		log.Printf("[main] marked %d interrupted tasks as failed", n)
	}

	if err := os.MkdirAll(cfg.DefaultOutputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	// Downloads outlive request contexts; they stop when runCtx is canceled
	// after the listener has shut down.
	runCtx, stopDownloads := context.WithCancel(context.Background())
	defer stopDownloads()

	engine := downloader.NewYtDlp(cfg.YtDlpPath)
	tasks := task.NewManager(runCtx, store, engine)
	srv := server.NewServer(cfg, tasks, engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := srv.Run(ctx)
	if serveErr != nil {
		log.Printf("[main] server error: %v", serveErr)
	}

	log.Printf("[main] shutting down, stopping downloads")
	stopDownloads()
	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := tasks.Wait(waitCtx); err != nil {
		log.Printf("[main] downloads did not stop in time: %v", err)
	}
	return serveErr
}
