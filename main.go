package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spamfilter/config"
	"spamfilter/internal/bootstrap"
	"spamfilter/pkg/logger"

	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Initialize logger early
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "spamfilter",
	})

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "api", "Run mode: api, train, calibrate")
	datasetPath := flag.String("dataset", "", "Labeled CSV for train/calibrate (overrides DATASET_PATH)")
	publish := flag.Bool("publish", false, "Publish vectors and metadata to the configured remote backends after training")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	opts := bootstrap.TrainOptions{DatasetPath: *datasetPath, Publish: *publish}

	switch *mode {
	case "api":
		runAPI(cfg)
	case "train":
		runOffline("training", func(ctx context.Context) error {
			res, err := bootstrap.RunTraining(ctx, cfg, opts)
			if err != nil {
				return err
			}
			logger.Info("Training finished: run %s, %d train / %d test, best alpha %.1f (accuracy %.4f)",
				res.Run.ID, res.Run.TrainSamples, res.Run.TestSamples, res.Calibration.BestAlpha, res.Calibration.BestAccuracy)
			return nil
		})
	case "calibrate":
		runOffline("calibration", func(ctx context.Context) error {
			res, err := bootstrap.RunCalibration(ctx, cfg, opts)
			if err != nil {
				return err
			}
			for _, r := range res.Calibration.Results {
				logger.Info("alpha=%.1f accuracy=%.4f", r.Alpha, r.Accuracy)
			}
			logger.Info("Calibration finished: best alpha %.1f (accuracy %.4f)", res.Calibration.BestAlpha, res.Calibration.BestAccuracy)
			return nil
		})
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func runAPI(cfg *config.Config) {
	app, cleanup, err := bootstrap.NewAPI(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize API: %v", err)
	}
	defer cleanup()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("API server shut down gracefully")
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Error("Server stopped: %v", err)
	}
}

// runOffline runs a batch job that is cancelled on SIGINT/SIGTERM.
func runOffline(name string, job func(ctx context.Context) error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := job(ctx); err != nil {
		stop()
		logger.Fatal("%s failed after %v: %v", name, time.Since(start).Round(time.Millisecond), err)
	}
	logger.Info("%s took %v", name, time.Since(start).Round(time.Millisecond))
}
