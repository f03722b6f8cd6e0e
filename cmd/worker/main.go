// The worker runs the background half of the orchestration engine without the
// HTTP surface: a dispatch trigger draining the queue, the polling pool that
// advances submitted jobs, and the prompt queue. It can run alongside any
// number of API instances; the store's atomic claims keep them from stepping
// on each other.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/dispatch"
	"server/internal/gateway"
	"server/internal/infra"
	"server/internal/poll"
	"server/internal/promptqueue"
	"server/internal/providers/synthesis"
	"server/internal/providers/vision"
	"server/internal/storage"
	"server/internal/store"
)

// How often the worker forces a dispatch pass even without kicks, so queued
// jobs make progress when no API instance is taking traffic.
const dispatchHeartbeat = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)
	st := store.New(runner, logger)
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to apply schema")
	}

	signer, err := gateway.NewSigner(cfg.SigningSecret, cfg.SignedURLBase)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure url signer")
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	provider, err := synthesis.NewClient(synthesis.Options{
		APIKey:        cfg.ProviderAPIKey,
		BaseURL:       cfg.ProviderBaseURL,
		SubmitTimeout: cfg.ProviderSubmitTimeout,
		PollTimeout:   cfg.ProviderPollTimeout,
		Logger:        &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure synthesis provider")
	}
	llm, err := vision.NewClient(vision.Options{
		APIKey:  cfg.VisionAPIKey,
		BaseURL: cfg.VisionBaseURL,
		Model:   cfg.VisionModel,
		Timeout: cfg.VisionTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure vision client")
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

	go func() {
		ticker := time.NewTicker(dispatchHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				trigger.Kick()
			}
		}
	}()

	poller := poll.New(st, provider, fileStore, logger)
	poller.SetKicker(trigger)
	pollPool := poll.NewPool(poller, st, cfg.PollWorkers, cfg.PollScanInterval, logger)

	prompts := promptqueue.New(st, llm, logger, promptqueue.Config{
		Tick:        cfg.PromptTick,
		BatchSize:   cfg.PromptBatchSize,
		CallTimeout: cfg.VisionTimeout,
		MaxRetries:  cfg.PromptMaxRetries,
	})
	go prompts.Run(ctx)

	logger.Info().Msg("worker: started")
	pollPool.Run(ctx)
	logger.Info().Msg("worker: stopped")
}
