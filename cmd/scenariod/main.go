package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"scenariod/chat"
	"scenariod/config"
	"scenariod/conversations"
	"scenariod/llm"
	"scenariod/llm/openai"
	scenariodlogger "scenariod/logger"
	"scenariod/migrations"
	"scenariod/prompts"
	"scenariod/server"
	"scenariod/sessions"
	"scenariod/tools"
	"scenariod/tools/schemas"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags
	var (
		addr    = flag.String("addr", "", "HTTP listen address (overrides config)")
		logFile = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty  = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		dbPath  = flag.String("db", "scenariod.db", "Path to SQLite database file")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := scenariodlogger.Init(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info().
		Str("db", *dbPath).
		Msg("scenariod starting")

	// Load server configuration
	configPath := config.GetConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	logger.Info().Str("addr", cfg.Server.Addr).Msg("Loaded configuration")

	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("missing openai.api_key in config file (or OPENAI_API_KEY)")
	}

	// ---------------------------
	// 1. Open SQLite + transcripts
	// ---------------------------

	logger.Info().Str("path", *dbPath).Msg("Initializing database")
	db, err := sql.Open("sqlite3", *dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.RunMigrations(db, "./migrations", logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	transcripts := conversations.NewStore(db)

	// ---------------------------
	// 2. Prompts and sessions
	// ---------------------------

	promptStore := prompts.NewStore(cfg.PromptsDir, logger)
	promptMgr := prompts.NewManager(promptStore, logger)

	registry := sessions.NewRegistry(time.Duration(cfg.SessionTTLMinutes)*time.Minute, logger)
	registry.StartJanitor()
	defer registry.StopJanitor()

	// ---------------------------
	// 3. Tools
	// ---------------------------

	gate := tools.LoadGate(cfg.BlacklistPath, logger)
	toolRegistry := tools.NewRegistry(logger)
	toolRegistry.RegisterShellTool(gate, cfg.Workspace)
	toolRegistry.RegisterSearchTool(tools.SearchConfig{
		APIKey: cfg.Tavily.APIKey,
		APIURL: cfg.Tavily.APIURL,
	}, nil)

	// ---------------------------
	// 4. Model client + orchestrator
	// ---------------------------

	openaiClient, err := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	client := llm.WithRequestLogging(openaiClient, logger)

	orchestrator := chat.NewOrchestrator(
		client,
		promptMgr,
		registry,
		toolRegistry,
		schemas.Specs(),
		transcripts,
		chat.Options{
			Model:     cfg.OpenAI.Model,
			MaxTokens: cfg.OpenAI.MaxTokens,
		},
		logger,
	)

	// ---------------------------
	// 5. HTTP server
	// ---------------------------

	srv := server.New(orchestrator, transcripts, server.Options{
		Addr:          cfg.Server.Addr,
		ChatTimeout:   time.Duration(cfg.ChatTimeout) * time.Second,
		StreamTimeout: time.Duration(cfg.StreamTimeout) * time.Second,
	}, logger)

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
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
