// Command runner is the HTTP service that runs inside a provisioned sandbox
// container: shell execution, background process management, TCP port
// exposure via preview-URL proxying, file operations, and language-kernel
// bridging, all reachable over internal/api's request surface.
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

	"github.com/delacroix-m/sandrun/internal/api"
	"github.com/delacroix-m/sandrun/internal/config"
	"github.com/delacroix-m/sandrun/internal/fileops"
	"github.com/delacroix-m/sandrun/internal/interpreter"
	"github.com/delacroix-m/sandrun/internal/port"
	"github.com/delacroix-m/sandrun/internal/process"
	"github.com/delacroix-m/sandrun/internal/reaper"
	"github.com/delacroix-m/sandrun/internal/session"
	"github.com/delacroix-m/sandrun/internal/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("runner", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfgPath := fs.String("config", "", "path to sandrun.yaml")
	logLevelStr := fs.String("log-level", "", "log level: debug, info, warn, error (default from SANDRUN_LOG or info)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(*logLevelStr)}))

	path := *cfgPath
	if path == "" {
		for _, p := range []string{"sandrun.yaml", "/etc/sandrun/sandrun.yaml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("load config", "error", err)
		return 1
	}
	logger.Debug("config loaded", "config_path", path, "data_dir", cfg.DataDir, "listen", cfg.Listen)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		return 1
	}

	st, err := store.New(filepath.Join(cfg.DataDir, "ports.db"), store.DefaultMaxOpenConns)
	if err != nil {
		logger.Error("open port store", "error", err)
		return 1
	}
	defer st.Close()

	sessions, err := session.NewManager(cfg, logger)
	if err != nil {
		logger.Error("session manager", "error", err)
		return 1
	}
	defer sessions.DestroyAll()

	processes := process.NewRegistry(sessions, cfg.ProcessRetention, logger)

	ports := port.NewManager(st, cfg.Preview.SandboxID, cfg.Preview.BaseDomain)
	proxy := port.NewProxy(ports, cfg.Preview.BaseDomain, cfg.Preview.DialTimeout, logger)

	files, err := fileops.NewService(cfg.FileOps, logger)
	if err != nil {
		logger.Error("file operations service", "error", err)
		return 1
	}

	interp := interpreter.NewBridge(cfg.Interpreter, logger)
	defer func() {
		for _, c := range interp.ListContexts() {
			interp.DeleteContext(c.ID)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rpr := reaper.New(processes, ports, cfg.ReaperInterval, logger)
	go rpr.Run(ctx)

	srv := api.NewServer(sessions, processes, ports, files, interp, proxy, logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      otelhttp.NewHandler(srv.Handler(), "sandrun.runner"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen)
	fmt.Fprintf(os.Stderr, "\n  sandrun runtime ready\n  API: http://%s/api\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		return 1
	}
	return 0
}

func parseLogLevel(flagVal string) slog.Level {
	v := flagVal
	if v == "" {
		v = os.Getenv("SANDRUN_LOG")
	}
	switch v {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
