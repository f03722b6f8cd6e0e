package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/dispatch"
	"server/internal/gateway"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/poll"
	"server/internal/promptqueue"
	"server/internal/providers/synthesis"
	"server/internal/providers/vision"
	"server/internal/storage"
	"server/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()
	runner := infra.NewSQLRunner(dbpool, logger)
	st := store.New(runner, logger)
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}

	signer, err := gateway.NewSigner(cfg.SigningSecret, cfg.SignedURLBase)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure url signer")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	provider, err := synthesis.NewClient(synthesis.Options{
		APIKey:        cfg.ProviderAPIKey,
		BaseURL:       cfg.ProviderBaseURL,
		SubmitTimeout: cfg.ProviderSubmitTimeout,
		PollTimeout:   cfg.ProviderPollTimeout,
		Logger:        &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure synthesis provider")
	}
	llm, err := vision.NewClient(vision.Options{
		APIKey:  cfg.VisionAPIKey,
		BaseURL: cfg.VisionBaseURL,
		Model:   cfg.VisionModel,
		Timeout: cfg.VisionTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure vision client")
	}

	dispatcher := dispatch.New(st, provider, signer, logger, dispatch.Config{
		MaxConcurrency:  cfg.MaxConcurrency,
		ActiveWindow:    cfg.ActiveWindow,
		StaleJobCeiling: cfg.StaleJobCeiling,
		SignTTL:         cfg.SignedURLTTL,
		CleanupEvery:    cfg.CleanupInterval,
	})
	trigger := dispatch.NewTrigger(dispatcher, cfg.DispatchQueueSize, logger)
	dispatcher.SetKicker(trigger)
	go trigger.Run(ctx)

	poller := poll.New(st, provider, fileStore, logger)
	poller.SetKicker(trigger)

	prompts := promptqueue.New(st, llm, logger, promptqueue.Config{
		Tick:        cfg.PromptTick,
		BatchSize:   cfg.PromptBatchSize,
		CallTimeout: cfg.VisionTimeout,
		MaxRetries:  cfg.PromptMaxRetries,
	})
	go prompts.Run(ctx)

	app := &handlers.App{
		Jobs:       st,
		Poller:     poller,
		Dispatcher: dispatcher,
		Trigger:    trigger,
		Prompts:    prompts,
		Files:      fileStore,
		Verifier:   signer,
		Logger:     logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		DefaultLocale:  cfg.DefaultLocale,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
