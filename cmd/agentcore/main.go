// agentcore is the runtime binary: it wires the file store, memory index,
// compactor, watcher, sandbox executor, and agent loop behind an HTTP API,
// and exposes serve/migrate/gc as cobra subcommands.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ba-agent-core/internal/api"
	"ba-agent-core/internal/config"
	"ba-agent-core/internal/filestore"
	"ba-agent-core/internal/logging"
	"ba-agent-core/internal/memoryindex"
	"ba-agent-core/pkg/types"
)

func main() {
	root := &cobra.Command{
		Use:   "agentcore",
		Short: "Conversational agent runtime: file store, memory index, sandbox, and chat loop",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newGCCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, background watcher, and file store janitor until terminated",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log := logging.NewLogger(logging.INFO)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			deps, err := wire(cfg, log)
			if err != nil {
				return err
			}
			defer deps.Close()

			go deps.store.RunJanitor(ctx)
			if cfg.Memory.Watcher.Enabled {
				go deps.watcher.Run(ctx)
			}

			router := api.NewRouter(deps.loop, deps.store, deps.limiter, log)
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			srv := &http.Server{
				Addr:         addr,
				Handler:      router.Handler(),
				ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("listening", "addr", addr)
				if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
					errCh <- serveErr
				}
			}()

			select {
			case <-ctx.Done():
				log.Info("shutting down")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}
}

func newMigrateCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Create or verify the file store and memory index schemas, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logging.NewLogger(logging.INFO)

			store, err := filestore.New(&cfg.FileStore, log)
			if err != nil {
				return fmt.Errorf("file store schema: %w", err)
			}
			defer store.Close()

			index, err := memoryindex.Open(cfg.Memory.Search, cfg.Memory.Rotation, cfg.FileStore.BaseDir, memoryindex.NullProvider{}, log)
			if err != nil {
				return fmt.Errorf("memory index schema: %w", err)
			}
			defer index.Close()

			log.Info("schemas verified")
			return nil
		},
	}
	root.AddCommand(newMigrateFileStoreCommand())
	return root
}

// newMigrateFileStoreCommand implements `migrate filestore <category>`:
// it rebuilds one category's SQLite index from the files actually on
// disk, for use after an on-disk category directory has been restored
// from backup out from under its index.
func newMigrateFileStoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "filestore <category>",
		Short: "Rebuild a category's SQLite index from the files present on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logging.NewLogger(logging.INFO)

			cat := types.Category(args[0])
			if !cat.Valid() {
				return fmt.Errorf("unknown category %q", args[0])
			}

			store, err := filestore.NewWithoutSweep(&cfg.FileStore, log)
			if err != nil {
				return fmt.Errorf("open file store: %w", err)
			}
			defer store.Close()

			result, err := store.RebuildIndex(cat)
			if err != nil {
				return fmt.Errorf("rebuild index for %s: %w", args[0], err)
			}
			log.Info("rebuild complete", "category", args[0], "scanned", result.Scanned, "inserted", result.Inserted)
			return nil
		},
	}
}

func newGCCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Run one file store expiry sweep and report what was deleted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logging.NewLogger(logging.INFO)

			store, err := filestore.New(&cfg.FileStore, log)
			if err != nil {
				return fmt.Errorf("open file store: %w", err)
			}
			defer store.Close()

			result := store.Sweep()
			for cat, n := range result.DeletedByCategory {
				log.Info("swept category", "category", string(cat), "deleted", n)
			}
			return nil
		},
	}
}
