// Command psp serves persistent browser sessions: capture/restore of
// cookies and web storage, interaction record/replay, and workflow
// execution, over REST, WebSocket, and optionally MCP stdio.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/psp/browser"
	"github.com/hazyhaar/psp/config"
	"github.com/hazyhaar/psp/dbopen"
	"github.com/hazyhaar/psp/driver"
	"github.com/hazyhaar/psp/server"
	"github.com/hazyhaar/psp/shield"
	"github.com/hazyhaar/psp/store"
	"github.com/hazyhaar/psp/trace"
)

func main() {
	cfg, err := config.Load(env("PSP_CONFIG", ""))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.Log.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Trace DB, opened with the raw "sqlite" driver (never "sqlite-trace"
	// to avoid recursion).
	storeOpts := []dbopen.Option{dbopen.WithMkdirAll()}
	if *cfg.Trace.Enabled {
		traceDB, err := dbopen.Open(cfg.Trace.Path, dbopen.WithMkdirAll())
		if err != nil {
			slog.Error("trace db", "error", err)
			os.Exit(1)
		}
		defer traceDB.Close()
		traceStore := trace.NewStore(traceDB)
		if err := traceStore.Init(); err != nil {
			slog.Error("trace init", "error", err)
			os.Exit(1)
		}
		trace.SetStore(traceStore)
		defer traceStore.Close()
		storeOpts = append(storeOpts, dbopen.WithTrace())
	}

	// Snapshot DB.
	db, err := dbopen.Open(cfg.Store.Path, storeOpts...)
	if err != nil {
		slog.Error("snapshot db", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	snapshots := store.NewSQLite(db)
	if err := snapshots.Init(); err != nil {
		slog.Error("snapshot init", "error", err)
		os.Exit(1)
	}

	// Browser.
	mgr := browser.NewManager(browser.Config{
		Remote:   cfg.Browser.Remote,
		Headless: *cfg.Browser.Headless,
		Stealth:  cfg.Browser.Stealth,
		Logger:   logger,
	})
	if err := mgr.Start(); err != nil {
		slog.Error("browser start", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	factory := func(context.Context) (driver.Driver, func() error, error) {
		page, err := mgr.NewPage()
		if err != nil {
			return nil, nil, err
		}
		return browser.NewDriver(page), page.Close, nil
	}

	svc, err := server.New(server.Options{
		Factory: factory,
		Store:   snapshots,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Optional MCP stdio.
	if cfg.Server.MCPTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "psp",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio starting")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	// Router.
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	r.Mount("/", server.Router(svc, cfg.Server.AuthTokenHash))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
