package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tunelink/internal/app"
)

func main() {
	cfg, err := app.LoadServerConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	addr := flag.String("addr", cfg.Addr, "server listen address")
	path := flag.String("path", cfg.Path, "websocket socket path")
	db := flag.String("db", cfg.DBPath, "sqlite database path")
	flag.Parse()

	cfg.Addr = *addr
	cfg.Path = app.NormalizeSocketPath(*path)
	cfg.DBPath = *db
	if cfg.DBPath == "" {
		cfg.DBPath = app.DefaultDBPath()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("Tunelink server listening on %s%s (db %s)", handle.Addr(), cfg.Path, cfg.DBPath)

	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
