// main package for the voice-service
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

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/parrot-audio/voice-service/internal/config"
	"github.com/parrot-audio/voice-service/internal/entitystore"
	"github.com/parrot-audio/voice-service/internal/objectstore"
	"github.com/parrot-audio/voice-service/internal/output"
	"github.com/parrot-audio/voice-service/internal/queue"
	"github.com/parrot-audio/voice-service/internal/server"
	"github.com/parrot-audio/voice-service/internal/synthesis"
	"github.com/parrot-audio/voice-service/internal/voice"
	"github.com/parrot-audio/voice-service/internal/worker"
)

const (
	httpReadHeaderTimeout = 10 * time.Second
	shutdownTimeout       = 15 * time.Second
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "voice-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runService(ctx, cfg, finalLog)
}

func runService(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at '%s': %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	training, err := queue.NewJetStream(
		jetstreamContext,
		cfg.NATS.TrainingStream, cfg.NATS.TrainingSubject, cfg.NATS.TrainingConsumer,
		cfg.DedupWindow(),
	)
	if err != nil {
		return fmt.Errorf("failed to create training queue: %w", err)
	}

	generation, err := queue.NewJetStream(
		jetstreamContext,
		cfg.NATS.GenerationStream, cfg.NATS.GenerationSubject, cfg.NATS.GenerationConsumer,
		cfg.DedupWindow(),
	)
	if err != nil {
		return fmt.Errorf("failed to create generation queue: %w", err)
	}

	samples, err := objectstore.NewMinio(
		ctx,
		cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey,
		cfg.Storage.UseSSL, cfg.Storage.SamplesBucket,
	)
	if err != nil {
		return fmt.Errorf("failed to create samples store: %w", err)
	}

	blobs, err := objectstore.NewMinio(
		ctx,
		cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey,
		cfg.Storage.UseSSL, cfg.Storage.OutputsBucket,
	)
	if err != nil {
		return fmt.Errorf("failed to create outputs store: %w", err)
	}

	store, err := entitystore.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open entity store: %w", err)
	}

	synth := synthesis.NewElevenLabs(
		cfg.ElevenLabs.APIKey, cfg.ElevenLabs.BaseURL, cfg.SynthesisTimeout(), log,
	)

	voices := voice.NewCoordinator(
		store, samples, training, synth, log,
		cfg.Limits.MaxVoices, cfg.UploadURLTTL(),
	)
	outputs := output.NewCoordinator(
		store, store, blobs, generation, synth, log, cfg.DownloadURLTTL(),
	)

	jobWorker := worker.New(training, generation, voices, outputs, log)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddress,
		Handler:           server.New(voices, outputs, cfg.HTTP.AuthToken, log).Router(),
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}

	workerDone := make(chan error, 1)

	go func() {
		workerDone <- jobWorker.Run(ctx)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			log.Error("Failed to shut down HTTP server cleanly: %v", shutdownErr)
		}
	}()

	log.System("Voice service listening on %s", cfg.HTTP.ListenAddress)

	err = httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return <-workerDone
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
