// Command copilotd runs the RelayDesk copilot service: the LLM-driven tool
// orchestration engine behind the suite's assistant.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/relaydesk/copilot/internal/api"
	"github.com/relaydesk/copilot/internal/audit"
	"github.com/relaydesk/copilot/internal/builtin"
	"github.com/relaydesk/copilot/internal/catalog"
	"github.com/relaydesk/copilot/internal/config"
	"github.com/relaydesk/copilot/internal/convlog"
	"github.com/relaydesk/copilot/internal/docstore"
	"github.com/relaydesk/copilot/internal/docstore/sqlite"
	"github.com/relaydesk/copilot/internal/gatekeeper"
	"github.com/relaydesk/copilot/internal/llm"
	"github.com/relaydesk/copilot/internal/orchestrator"
	"github.com/relaydesk/copilot/internal/taskflow"
	"github.com/relaydesk/copilot/internal/tools"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds the wired runtime components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    docstore.Store
	ConvLog  *convlog.Log
	Audit    *audit.Writer
	Sessions taskflow.SessionStore
	Janitor  *taskflow.Janitor
	Server   *api.Server
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "copilot.toml", "path to config file")
	debug := flag.Bool("debug", false, "force debug logging")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("copilotd v%s (built %s)\n", version, buildTime)
		return 0
	}

	app, err := setup(*configPath, *debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		return 1
	}
	defer app.close()

	if err := app.serve(); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}
	return 0
}

// setup loads configuration and wires every component in dependency order.
func setup(configPath string, debug bool) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := logLevel(cfg.Log.Level)
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("starting copilotd", "version", version, "config", configPath)

	app := &App{Config: cfg, Logger: logger}

	// Stores.
	switch cfg.Store.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open document store: %w", err)
		}
		app.Store = store
		conv, err := convlog.Open(filepath.Join(filepath.Dir(cfg.Store.Path), "conversations.db"), logger)
		if err != nil {
			return nil, fmt.Errorf("open conversation log: %w", err)
		}
		app.ConvLog = conv
	case "memory":
		app.Store = docstore.NewMemory()
		logger.Warn("memory store configured; documents and conversations will not survive a restart")
	}

	// Audit trail.
	app.Audit = audit.NewWriter(app.Store, logger, cfg.Audit.BufferSize)

	// Tool catalog.
	registry := tools.NewRegistry(app.Store, logger, cfg.CacheTTL())
	maps := taskflow.NewMapSource(app.Store, logger, cfg.CacheTTL())
	if err := builtin.Register(registry, maps); err != nil {
		return nil, err
	}
	if cfg.Catalog.Dir != "" {
		if err := catalog.NewLoader(cfg.Catalog.Dir, app.Store, logger).Load(context.Background()); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}

	// Session state and the janitor that evicts abandoned sessions.
	switch cfg.Sessions.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Sessions.RedisAddr,
			Password: cfg.Sessions.RedisPassword,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		app.Sessions = taskflow.NewRedisSessions(client, cfg.SessionTTL())
	default:
		app.Sessions = taskflow.NewMemorySessions()
	}
	janitor, err := taskflow.NewJanitor(app.Sessions, cfg.Sessions.JanitorSchedule, cfg.SessionTTL(), logger)
	if err != nil {
		return nil, err
	}
	app.Janitor = janitor

	// Model provider.
	provider, err := llm.New(cfg.LLM.Provider, llm.Options{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLMTimeout(),
	})
	if err != nil {
		return nil, err
	}

	// Dispatch path and the loop on top of it.
	executor := tools.NewExecutor(app.Store, registry, logger)
	gate := gatekeeper.New(registry, executor, app.Audit, logger)
	engine := taskflow.NewEngine(app.Sessions, maps, logger)
	orch := orchestrator.New(provider, registry, gate, engine, app.ConvLog, orchestrator.Options{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)

	var secret []byte
	if cfg.Server.JWTSecret != "" {
		secret = []byte(cfg.Server.JWTSecret)
	} else {
		logger.Warn("no jwt_secret configured; API auth is disabled")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	app.Server = api.NewServer(addr, secret, cfg.Server.AllowedOrigins, orch, registry, engine, logger)

	return app, nil
}

// serve supervises the long-running processes until SIGINT/SIGTERM.
func (a *App) serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Server.Start(ctx) })
	g.Go(func() error { return a.Audit.Run(ctx) })
	g.Go(func() error { return a.Janitor.Run(ctx) })

	return g.Wait()
}

// close releases everything setup opened, tolerating partial setup.
func (a *App) close() {
	if a.Sessions != nil {
		if err := a.Sessions.Close(); err != nil {
			a.Logger.Warn("closing session store failed", "error", err)
		}
	}
	if a.ConvLog != nil {
		if err := a.ConvLog.Close(); err != nil {
			a.Logger.Warn("closing conversation log failed", "error", err)
		}
	}
	if closer, ok := a.Store.(interface{ Close() error }); ok && closer != nil {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("closing document store failed", "error", err)
		}
	}
}

// logLevel maps the configured level name onto slog's levels. Unknown names
// were already rejected by config validation.
func logLevel(name string) slog.Level {
	switch name {
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
