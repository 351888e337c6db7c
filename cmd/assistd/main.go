// Package main provides the entry point for the assistd server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/assistd/assistd/internal/auth"
	"github.com/assistd/assistd/internal/chat"
	"github.com/assistd/assistd/internal/config"
	"github.com/assistd/assistd/internal/event"
	"github.com/assistd/assistd/internal/logging"
	"github.com/assistd/assistd/internal/provider"
	"github.com/assistd/assistd/internal/server"
	"github.com/assistd/assistd/internal/tool"
)

var (
	directory   = flag.String("directory", "", "Directory containing assistd.jsonc")
	addr        = flag.String("addr", "", "Listen address, overrides config")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const version = "0.1.0"

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("assistd %s\n", version)
		os.Exit(0)
	}

	// .env is optional; absence is the normal case in production.
	_ = godotenv.Load()

	workDir := *directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to get working directory: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Pretty: isTerminal()})
	logging.Info().Str("version", version).Str("addr", cfg.Addr).Msg("starting assistd")

	ctx := context.Background()
	llm, err := newProvider(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize model provider")
	}

	bus := event.NewBus()
	defer bus.Close()
	installBusLogger(bus)

	registry := tool.NewRegistry()
	orchestrator := chat.NewOrchestrator(llm, registry, bus, chat.Options{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
	verifier := auth.NewHTTPVerifier(cfg.AuthURL, nil)

	srv := server.New(&server.Config{
		Addr:           cfg.Addr,
		RequestTimeout: cfg.RequestTimeout.Std(),
		CORSOrigins:    cfg.CORSOrigins,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   0, // responses stream
	}, verifier, orchestrator, registry, bus)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}
	logging.Info().Msg("server stopped")
}

// newProvider builds the configured model backend.
func newProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return provider.NewAnthropicProvider(ctx, &provider.AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	case "openai":
		return provider.NewOpenAIProvider(ctx, &provider.OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// installBusLogger mirrors every lifecycle event into the log, with a
// dedicated audit line per patch proposal.
func installBusLogger(bus *event.Bus) {
	bus.SubscribeAll(func(e event.Event) {
		logging.Info().Str("eventType", string(e.Type)).Interface("data", e.Data).Msg("lifecycle event")
	})
	bus.Subscribe(event.PatchProposed, func(e event.Event) {
		data, ok := e.Data.(event.PatchProposedData)
		if !ok {
			return
		}
		logging.Info().
			Str("proposalID", data.ProposalID).
			Str("path", data.Path).
			Int("additions", data.Additions).
			Int("deletions", data.Deletions).
			Msg("patch proposed, awaiting user approval")
	})
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
