package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"spamfilter/adapter/out/dataset"
	"spamfilter/adapter/out/index"
	"spamfilter/adapter/out/persistence"
	"spamfilter/config"
	"spamfilter/core/domain"
	"spamfilter/core/port/out"
	"spamfilter/core/service/training"
	"spamfilter/pkg/logger"
)

// TrainOptions are the command-line overrides for offline runs.
type TrainOptions struct {
	DatasetPath string
	Publish     bool
}

// RunTraining builds every artifact from a labeled dataset.
func RunTraining(ctx context.Context, cfg *config.Config, opts TrainOptions) (*training.Result, error) {
	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "spamfilter-train",
	})

	deps, cleanup, err := NewConnections(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	samples, err := loadDataset(ctx, cfg, deps.Labels, opts.DatasetPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	var trainerOpts []training.Option
	if recorder, err := runRecorder(ctx, deps); err != nil {
		logger.WithError(err).Warn("Run history disabled")
	} else if recorder != nil {
		trainerOpts = append(trainerOpts, training.WithRunRecorder(recorder))
	}
	if opts.Publish || cfg.PublishArtifacts {
		pub, closePub, err := newPublisher(ctx, deps)
		if err != nil {
			return nil, fmt.Errorf("publisher: %w", err)
		}
		defer closePub()
		trainerOpts = append(trainerOpts, training.WithPublisher(pub))
	}

	trainer := training.NewTrainer(
		deps.Embedder,
		deps.Labels,
		index.NewFlatIndex(deps.Provider.Dimension()),
		persistence.NewFileArtifactSink(artifactPaths(cfg)),
		trainerConfig(cfg),
		trainerOpts...,
	)
	return trainer.Train(ctx, samples)
}

// RunCalibration reruns the alpha grid over the loaded artifacts and the
// held-out split of the dataset, then rewrites best_alpha.
func RunCalibration(ctx context.Context, cfg *config.Config, opts TrainOptions) (*training.Result, error) {
	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "spamfilter-calibrate",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	samples, err := loadDataset(ctx, cfg, deps.Labels, opts.DatasetPath)
	if err != nil {
		return nil, err
	}
	_, heldOut, err := training.StratifiedSplit(samples, deps.Labels, cfg.TestSplit, cfg.SplitSeed)
	if err != nil {
		return nil, err
	}

	var trainerOpts []training.Option
	if recorder, err := runRecorder(ctx, deps); err != nil {
		logger.WithError(err).Warn("Run history disabled")
	} else if recorder != nil {
		trainerOpts = append(trainerOpts, training.WithRunRecorder(recorder))
	}

	trainer := training.NewTrainer(
		deps.Embedder,
		deps.Labels,
		nil,
		persistence.NewFileArtifactSink(artifactPaths(cfg)),
		trainerConfig(cfg),
		trainerOpts...,
	)
	return trainer.Recalibrate(ctx, deps.Corpus, deps.Weights, heldOut, deps.Model)
}

func loadDataset(ctx context.Context, cfg *config.Config, labels *domain.LabelSet, override string) ([]domain.Sample, error) {
	path := override
	if path == "" {
		path = cfg.DatasetPath
	}
	if path == "" {
		if cfg.DriveFileID == "" {
			return nil, errors.New("no dataset: pass -dataset, set DATASET_PATH or DRIVE_FILE_ID")
		}
		if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir: %w", err)
		}
		downloaded, err := dataset.NewDriveDownloader(cfg.GoogleCredentialsFile, cfg.ArtifactDir).Download(ctx, cfg.DriveFileID)
		if err != nil {
			return nil, err
		}
		path = downloaded
	}

	samples, report, err := dataset.LoadCSVFile(path, labels)
	if err != nil {
		return nil, err
	}
	logger.WithFields(map[string]any{
		"text_column":   report.TextColumn,
		"label_column":  report.LabelColumn,
		"rows":          report.Rows,
		"kept":          report.Kept,
		"empty_text":    report.EmptyText,
		"unknown_label": report.UnknownLabel,
	}).Info("Loaded dataset %s", path)
	return samples, nil
}

// runRecorder returns the Postgres run history, or nil without a database.
func runRecorder(ctx context.Context, deps *Dependencies) (out.RunRecorder, error) {
	if deps.SQLDB == nil {
		return nil, nil
	}
	return persistence.NewPostgresStore(ctx, deps.SQLDB)
}

// newPublisher targets the configured serving backends. The flat index and
// file metadata are already written as artifacts, so they publish nothing.
func newPublisher(ctx context.Context, deps *Dependencies) (*training.Publisher, func(), error) {
	cfg := deps.Config
	pub := &training.Publisher{}
	closeFn := func() {}
	dim := deps.Provider.Dimension()

	switch cfg.IndexBackend {
	case "pgvector":
		idx, err := index.NewPGVectorIndex(ctx, deps.DB, cfg.PGVectorTable, dim)
		if err != nil {
			return nil, nil, err
		}
		pub.Index = idx
	case "qdrant":
		idx, err := newQdrant(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		pub.Index = idx
		closeFn = func() { idx.Close() }
	case "neo4j":
		idx, err := index.NewNeo4jIndex(ctx, deps.Neo4j, cfg.Neo4jIndex, dim)
		if err != nil {
			return nil, nil, err
		}
		pub.Index = idx
	}

	switch cfg.MetadataBackend {
	case "postgres":
		pg, err := persistence.NewPostgresStore(ctx, deps.SQLDB)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		pub.Records = pg
	case "mongo":
		pub.Records = persistence.NewMongoStore(deps.Mongo, cfg.MongoDBName)
	}

	if pub.Index == nil && pub.Records == nil {
		logger.Warn("Publishing requested but INDEX_BACKEND=%s and METADATA_BACKEND=%s are file based", cfg.IndexBackend, cfg.MetadataBackend)
	}
	return pub, closeFn, nil
}

func artifactPaths(cfg *config.Config) persistence.ArtifactPaths {
	return persistence.ArtifactPaths{
		Index:        cfg.IndexPath(),
		Metadata:     cfg.MetadataPath(),
		ClassWeights: cfg.ClassWeightsPath(),
		ModelConfig:  cfg.ModelConfigPath(),
	}
}

func trainerConfig(cfg *config.Config) training.Config {
	return training.Config{
		TestSplit:    cfg.TestSplit,
		Seed:         cfg.SplitSeed,
		CalibrationK: cfg.CalibrationK,
		Workers:      cfg.TrainWorkers,
		IndexBackend: cfg.IndexBackend,
	}
}
