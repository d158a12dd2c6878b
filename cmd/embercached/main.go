// Command embercached runs the key-value server: flag parsing,
// structured logging, and signal-triggered graceful shutdown are
// process-bootstrap concerns external to the core packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"embercache/cachemgr"
	"embercache/command"
	"embercache/expirestore"
	"embercache/server"
)

func main() {
	var (
		host                = pflag.String("host", "127.0.0.1", "bind address")
		port                = pflag.Int("port", 6379, "bind port")
		cleanupInterval     = pflag.Duration("cleanup-interval", 30*time.Second, "expiring-store reaper interval")
		persistenceDir      = pflag.String("persistence-dir", "", "directory for named-cache snapshots (disabled if empty)")
		compress            = pflag.Bool("compress", true, "gzip-compress persisted snapshots")
		autoPersistInterval = pflag.Duration("auto-persist-interval", 5*time.Minute, "interval between automatic snapshots")
	)
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*host, *port, *cleanupInterval, *persistenceDir, *compress, *autoPersistInterval); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(host string, port int, cleanupInterval time.Duration, persistenceDir string, compress bool, autoPersistInterval time.Duration) error {
	logger := slog.Default()

	store := expirestore.New(expirestore.WithCleanupInterval(cleanupInterval))
	defer store.Stop()

	managerOpts := []cachemgr.Option{
		cachemgr.WithCleanupInterval(cleanupInterval),
		cachemgr.WithLogger(logger),
	}
	if persistenceDir != "" {
		managerOpts = append(managerOpts, cachemgr.WithPersistence(persistenceDir, compress, autoPersistInterval))
	}

	caches, err := cachemgr.NewManager(managerOpts...)
	if err != nil {
		return fmt.Errorf("constructing cache manager: %w", err)
	}
	defer caches.Stop()

	dispatcher := server.NewDispatcher(store, caches, command.NewValidator(nil))
	listener := server.NewListener(dispatcher, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", host, port)
	logger.Info("starting embercached", "addr", addr, "persistence_dir", persistenceDir)

	if err := listener.Serve(ctx, addr); err != nil {
		return fmt.Errorf("serving: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
