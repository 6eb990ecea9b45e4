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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-think/backend/internal/config"
	"github.com/zhouzirui/z-think/backend/internal/handler"
	"github.com/zhouzirui/z-think/backend/internal/logging"
	"github.com/zhouzirui/z-think/backend/internal/model/persona"
	"github.com/zhouzirui/z-think/backend/internal/service/ai"
	"github.com/zhouzirui/z-think/backend/internal/service/chat"
	"github.com/zhouzirui/z-think/backend/internal/service/debate"
	"github.com/zhouzirui/z-think/backend/internal/service/dialogue"
	"github.com/zhouzirui/z-think/backend/internal/service/fivewhys"
	"github.com/zhouzirui/z-think/backend/internal/service/lens"
	"github.com/zhouzirui/z-think/backend/internal/service/loop"
	"github.com/zhouzirui/z-think/backend/internal/service/scripted"
	"github.com/zhouzirui/z-think/backend/internal/service/synthesis"
	"github.com/zhouzirui/z-think/backend/internal/service/thinktank"
	"github.com/zhouzirui/z-think/backend/internal/storage"
)

var (
	envFile string
	addr    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "z-think",
		Short:         "Thinking assistant backend: dialogue, think tank, debate arena and thinking tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before the environment")
	rootCmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides PORT")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	envErr := godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	if envErr != nil {
		logger.Debug().Err(envErr).Str("file", envFile).Msg("dotenv not loaded, using process environment only")
	}

	catalog, err := persona.Seed()
	if err != nil {
		return err
	}

	kv, closeKV, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeKV()

	sessions := chat.NewService(kv, chat.WithWelcome(catalog.Welcome), chat.WithLogger(logger))
	if err := sessions.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	if !cfg.AI.Enabled() {
		logger.Warn().Str("provider", cfg.AI.Provider).Msg("AI 凭证未配置，模型调用将返回 missing_credential")
	}
	gateway := ai.NewGatewayFromConfig(cfg.AI, logger)
	synth := synthesis.New(gateway)
	policy := loop.PolicyFromConfig(cfg.Loop)

	rooms := loop.NewRegistry()
	defer rooms.Close()

	engine := dialogue.New(sessions, gateway, synth, catalog, logger)
	defer engine.Wait()

	router := handler.NewRouter(handler.Deps{
		AIEnabled: cfg.AI.Enabled(),
		Catalog:   catalog,
		Sessions:  sessions,
		Rooms:     rooms,
		Dialogue:  engine,
		ThinkTank: thinktank.New(gateway, synth, policy, rooms, logger),
		Debates: debate.New(gateway, catalog, debate.Options{
			Policy:         policy,
			AllyCredential: cfg.AI.AllyAPIKey,
			Language:       cfg.AI.Language,
			Rooms:          rooms,
			Logger:         logger,
		}),
		Orchestrator: scripted.New(gateway, catalog, logger),
		FiveWhys:     fivewhys.New(gateway, logger),
		Lens:         lens.New(gateway),
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", srv.Addr).Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model).Msg("z-think backend listening")
	return runServer(ctx, srv, logger)
}

// openStorage 在配置了 STORAGE_DSN 时打开 SQLite，否则使用内存存储。
func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.KV, func(), error) {
	if cfg.DSN == "" {
		return storage.NewMemoryKV(), func() {}, nil
	}
	db, err := storage.OpenSQLite(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return db, func() { _ = db.Close() }, nil
}

func runServer(ctx context.Context, srv *http.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
