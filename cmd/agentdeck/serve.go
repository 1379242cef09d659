package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wordflowlab/agentdeck/pkg/agentproc"
	"github.com/wordflowlab/agentdeck/pkg/appconfig"
	"github.com/wordflowlab/agentdeck/pkg/checkpoint"
	"github.com/wordflowlab/agentdeck/pkg/convstore"
	"github.com/wordflowlab/agentdeck/pkg/events"
	"github.com/wordflowlab/agentdeck/pkg/logging"
	"github.com/wordflowlab/agentdeck/pkg/watcher"
	"github.com/wordflowlab/agentdeck/server"
)

// runServe starts the agent session HTTP server.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Optional YAML config file")
	host := fs.String("host", "0.0.0.0", "HTTP listen host")
	port := fs.Int("port", 8080, "HTTP listen port")
	dataDir := fs.String("data", "", "Override data directory for logs and checkpoints")
	storeDriver := fs.String("store", "", "Store driver: json or sqlite")
	workspaces := fs.String("workspaces", "", "Override workspaces root directory")
	mode := fs.String("mode", "development", "Server mode: development or production")
	logFile := fs.String("log-file", "", "Also write logs to this file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var appCfg *appconfig.Config
	if *configPath != "" {
		cfg, err := appconfig.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		appCfg = cfg
	} else {
		appCfg = appconfig.Default()
	}
	if *dataDir != "" {
		appCfg.DataDir = *dataDir
	}
	if *storeDriver != "" {
		appCfg.StoreDriver = *storeDriver
	}
	if *workspaces != "" {
		appCfg.WorkspacesDir = *workspaces
	}

	if *logFile != "" {
		ft, err := logging.NewFileTransport(*logFile)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logging.Default.AddTransport(ft)
	}

	for _, dir := range []string{appCfg.DataDir, appCfg.WorkspacesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	store, err := openStore(appCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewBus()

	manager, err := agentproc.NewManager(appCfg, store, bus)
	if err != nil {
		return fmt.Errorf("create agent manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if appCfg.Watcher.Enabled {
		startWorkspaceWatchers(ctx, appCfg, bus)
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = *host
	srvCfg.Port = *port
	srvCfg.Mode = *mode

	srv, err := server.New(srvCfg, &server.Dependencies{
		Store:       store,
		Manager:     manager,
		Checkpoints: checkpoint.NewManager(store),
		Bus:         bus,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Info(ctx, "server.shutdown_signal", map[string]interface{}{
			"signal": sig.String(),
		})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	logging.Flush(shutdownCtx)
	return nil
}

// openStore builds the configured conversation store.
func openStore(cfg *appconfig.Config) (convstore.Store, error) {
	switch cfg.StoreDriver {
	case "", "json":
		store, err := convstore.NewJSONStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("create json store: %w", err)
		}
		return store, nil
	case "sqlite":
		store, err := convstore.NewSQLiteStore(filepath.Join(cfg.DataDir, "agentdeck.db"))
		if err != nil {
			return nil, fmt.Errorf("create sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// startWorkspaceWatchers attaches a file watcher to every existing workspace
// directory. Watch failures are logged, not fatal: the tool-result signal
// still covers agent-driven edits.
func startWorkspaceWatchers(ctx context.Context, cfg *appconfig.Config, bus *events.Bus) {
	entries, err := os.ReadDir(cfg.WorkspacesDir)
	if err != nil {
		logging.Warn(ctx, "watcher.scan_failed", map[string]interface{}{
			"dir":   cfg.WorkspacesDir,
			"error": err.Error(),
		})
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		workspaceID := entry.Name()
		root := filepath.Join(cfg.WorkspacesDir, workspaceID)

		w, err := watcher.New(workspaceID, root, cfg.Watcher, bus)
		if err != nil {
			logging.Warn(ctx, "watcher.start_failed", map[string]interface{}{
				"workspace_id": workspaceID,
				"error":        err.Error(),
			})
			continue
		}
		go w.Run(ctx)
	}
}
