// Command concierge runs the rental booking conversation engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/driveline/concierge/internal/analytics"
	"github.com/driveline/concierge/internal/budget"
	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/inventory"
	"github.com/driveline/concierge/internal/llm"
	"github.com/driveline/concierge/internal/orchestrator"
	"github.com/driveline/concierge/internal/security"
	"github.com/driveline/concierge/internal/server"
	"github.com/driveline/concierge/internal/session"
	"github.com/driveline/concierge/internal/tools"
	"github.com/driveline/concierge/internal/utils"
)

func main() {
	configPath := flag.String("config", "concierge.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	initLogging(*logLevel)

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("concierge failed")
	}
}

func run(configPath string) error {
	provider, err := config.NewProvider(configPath, config.DefaultConfigTTL)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := provider.Snapshot()

	if err := ensureAPIKey(cfg); err != nil {
		return err
	}
	log.Info().
		Str("provider", cfg.Model.Provider).
		Str("model", cfg.Model.Name).
		Str("api_key", utils.MaskKey(cfg.Model.APIKey)).
		Msg("model configured")

	store, err := openStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	model, err := llm.New(ctx, cfg.Model)
	if err != nil {
		return fmt.Errorf("init model client: %w", err)
	}

	gate := security.NewGate(provider)
	accountant := budget.NewAccountant(provider)
	defer accountant.Close()

	registry := tools.NewRegistry(
		tools.NewSearchTool(inventory.NewClient(cfg.Inventory)),
		tools.NewRiskTool(cfg.Risk),
		tools.NewWeatherTool(cfg.Weather),
		tools.NewQuoteTool(),
	)
	executor := tools.NewExecutor(registry, cfg.Loop.ToolWorkers, cfg.Loop.ToolTimeout.D())

	orch := orchestrator.New(provider, store, gate, accountant, model, registry, executor)

	if cfg.Analytics.Enabled {
		sweeper := analytics.NewSweeper(provider, store, llm.NewBatchClient(cfg.Model))
		sweeper.Start(ctx)
		defer sweeper.Close()
	}

	srv := server.New(provider, orch, store)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initLogging(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Human-readable output when attached to a terminal, JSON otherwise.
	if term.IsTerminal(int(os.Stdout.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// ensureAPIKey prompts for a missing Anthropic key on first interactive
// run rather than failing with a config error.
func ensureAPIKey(cfg *config.Config) error {
	if cfg.Model.Provider == "bedrock" || cfg.Model.APIKey != "" {
		return nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Model.APIKey = key
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("model.api_key is not set (set it in the config or ANTHROPIC_API_KEY)")
	}

	fmt.Fprint(os.Stderr, "Anthropic API key: ")
	key, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read api key: %w", err)
	}
	cfg.Model.APIKey = strings.TrimSpace(string(key))
	if cfg.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}
	return nil
}

func openStore(cfg config.StoreConfig) (session.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "sqlite":
		return session.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
