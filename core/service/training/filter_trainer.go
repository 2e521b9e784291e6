package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"spamfilter/core/domain"
	"spamfilter/core/port/out"
	"spamfilter/core/service/classification"
	"spamfilter/pkg/logger"
)

// Config holds training options.
type Config struct {
	TestSplit    float64
	Seed         int64
	CalibrationK int
	Workers      int
	IndexBackend string
}

// Publisher pushes a trained corpus to remote serving backends. Either
// field may be nil.
type Publisher struct {
	Index   out.IndexWriter
	Records out.RecordPublisher
}

// Trainer runs the offline pipeline: split, weight, embed, index, calibrate,
// persist.
type Trainer struct {
	embedder  out.Embedder
	labels    *domain.LabelSet
	index     out.WritableIndex
	sink      out.ArtifactSink
	publisher *Publisher
	runs      out.RunRecorder
	cfg       Config
	log       *logger.Logger
}

// Option configures optional trainer outputs.
type Option func(*Trainer)

// WithPublisher publishes the corpus after the artifacts are written.
func WithPublisher(p *Publisher) Option { return func(t *Trainer) { t.publisher = p } }

// WithRunRecorder records every run.
func WithRunRecorder(r out.RunRecorder) Option { return func(t *Trainer) { t.runs = r } }

// NewTrainer creates a trainer. index is the working index used for
// calibration.
func NewTrainer(embedder out.Embedder, labels *domain.LabelSet, index out.WritableIndex, sink out.ArtifactSink, cfg Config, opts ...Option) *Trainer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	t := &Trainer{
		embedder: embedder,
		labels:   labels,
		index:    index,
		sink:     sink,
		cfg:      cfg,
		log:      logger.WithField("component", "trainer"),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Result is the outcome of a run.
type Result struct {
	Model       *domain.TrainedModel
	Calibration *domain.Calibration
	Run         *domain.TrainingRun
}

// Train runs the full pipeline over samples.
func (t *Trainer) Train(ctx context.Context, samples []domain.Sample) (*Result, error) {
	started := time.Now().UTC()
	runID := uuid.New().String()
	log := t.log.WithField("run_id", runID)

	train, test, err := StratifiedSplit(samples, t.labels, t.cfg.TestSplit, t.cfg.Seed)
	if err != nil {
		return nil, err
	}
	log.Info("split %d samples into %d train / %d test", len(samples), len(train), len(test))

	trainLabels := make([]domain.Label, len(train))
	trainTexts := make([]string, len(train))
	records := make([]domain.Record, len(train))
	for i, s := range train {
		trainLabels[i] = s.Label
		trainTexts[i] = s.Message
		records[i] = domain.Record{ID: i, Message: s.Message, Label: t.labels.Name(s.Label)}
	}
	weights, err := domain.ComputeClassWeights(t.labels, trainLabels)
	if err != nil {
		return nil, err
	}
	log.Info("class weights %v", weights.ToMap(t.labels))

	vectors, err := EmbedPassages(ctx, t.embedder, trainTexts, t.cfg.Workers)
	if err != nil {
		return nil, err
	}
	if err := t.index.Replace(ctx, vectors); err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	corpus := &classification.Corpus{
		Index:    t.index,
		Metadata: recordMetadata(records),
		Labels:   t.labels,
	}
	testTexts := make([]string, len(test))
	truth := make([]domain.Label, len(test))
	for i, s := range test {
		testTexts[i] = s.Message
		truth[i] = s.Label
	}
	cal, err := t.calibrate(ctx, corpus, weights, testTexts, truth)
	if err != nil {
		return nil, err
	}

	bestAlpha := cal.BestAlpha
	model := &domain.TrainedModel{
		Vectors:      vectors,
		Records:      records,
		ClassWeights: weights.ToMap(t.labels),
		Config: domain.ModelConfig{
			RunID:         runID,
			ModelName:     t.embedder.ModelName(),
			BestAlpha:     &bestAlpha,
			AlphaResults:  cal.Results,
			CalibrationK:  t.calibrationK(len(train)),
			TrainSamples:  len(train),
			TestSamples:   len(test),
			EmbeddingDim:  len(vectors[0]),
			Labels:        t.labels.Names(),
			PositiveLabel: t.labels.Name(t.labels.Positive()),
			TrainedAt:     time.Now().UTC(),
		},
	}
	if err := t.sink.SaveModel(ctx, model); err != nil {
		return nil, fmt.Errorf("save artifacts: %w", err)
	}
	log.Info("artifacts written (best alpha %.1f, accuracy %.4f)", cal.BestAlpha, cal.BestAccuracy)

	if err := t.publish(ctx, model); err != nil {
		return nil, err
	}

	run := &domain.TrainingRun{
		ID:           runID,
		Mode:         "train",
		ModelName:    model.Config.ModelName,
		TrainSamples: len(train),
		TestSamples:  len(test),
		BestAlpha:    cal.BestAlpha,
		BestAccuracy: cal.BestAccuracy,
		IndexBackend: t.cfg.IndexBackend,
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
	}
	t.recordRun(ctx, run)
	return &Result{Model: model, Calibration: cal, Run: run}, nil
}

// Recalibrate reruns the alpha grid over labeled samples against an already
// loaded corpus and rewrites best_alpha in model.
func (t *Trainer) Recalibrate(ctx context.Context, corpus *classification.Corpus, weights domain.ClassWeights, samples []domain.Sample, model *domain.ModelConfig) (*Result, error) {
	if len(samples) == 0 {
		return nil, errors.New("no labeled samples to calibrate on")
	}
	if model == nil {
		return nil, errors.New("model config is required for recalibration")
	}
	started := time.Now().UTC()

	texts := make([]string, len(samples))
	truth := make([]domain.Label, len(samples))
	for i, s := range samples {
		texts[i] = s.Message
		truth[i] = s.Label
	}
	cal, err := t.calibrate(ctx, corpus, weights, texts, truth)
	if err != nil {
		return nil, err
	}

	updated := *model
	bestAlpha := cal.BestAlpha
	updated.BestAlpha = &bestAlpha
	updated.AlphaResults = cal.Results
	updated.CalibrationK = t.calibrationK(corpus.Index.Size())
	if err := t.sink.SaveModelConfig(ctx, &updated); err != nil {
		return nil, fmt.Errorf("save model config: %w", err)
	}
	t.log.Info("recalibrated best alpha %.1f (accuracy %.4f) over %d samples", cal.BestAlpha, cal.BestAccuracy, len(samples))

	run := &domain.TrainingRun{
		ID:           uuid.New().String(),
		Mode:         "calibrate",
		ModelName:    updated.ModelName,
		TrainSamples: corpus.Index.Size(),
		TestSamples:  len(samples),
		BestAlpha:    cal.BestAlpha,
		BestAccuracy: cal.BestAccuracy,
		IndexBackend: t.cfg.IndexBackend,
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
	}
	t.recordRun(ctx, run)
	return &Result{Calibration: cal, Run: run, Model: &domain.TrainedModel{Config: updated}}, nil
}

func (t *Trainer) calibrationK(indexSize int) int {
	k := t.cfg.CalibrationK
	if k < 1 {
		k = 10
	}
	return min(k, indexSize)
}

func (t *Trainer) calibrate(ctx context.Context, corpus *classification.Corpus, weights domain.ClassWeights, texts []string, truth []domain.Label) (*domain.Calibration, error) {
	vectors, err := EmbedQueries(ctx, t.embedder, texts, t.cfg.Workers)
	if err != nil {
		return nil, err
	}
	k := t.calibrationK(corpus.Index.Size())
	if t.cfg.CalibrationK > k {
		t.log.Warn("calibration k lowered from %d to %d", t.cfg.CalibrationK, k)
	}
	return classification.NewCalibrator(corpus, weights, t.cfg.Workers).Calibrate(ctx, vectors, truth, k)
}

func (t *Trainer) publish(ctx context.Context, model *domain.TrainedModel) error {
	if t.publisher == nil {
		return nil
	}
	if t.publisher.Index != nil {
		if err := t.publisher.Index.Replace(ctx, model.Vectors); err != nil {
			return fmt.Errorf("publish vectors: %w", err)
		}
		t.log.Info("published %d vectors to %s", len(model.Vectors), t.cfg.IndexBackend)
	}
	if t.publisher.Records != nil {
		if err := t.publisher.Records.ReplaceRecords(ctx, model.Records); err != nil {
			return fmt.Errorf("publish metadata: %w", err)
		}
		t.log.Info("published %d metadata records", len(model.Records))
	}
	return nil
}

// recordRun is best effort; history is not worth failing a finished run.
func (t *Trainer) recordRun(ctx context.Context, run *domain.TrainingRun) {
	if t.runs == nil {
		return
	}
	if err := t.runs.RecordRun(ctx, run); err != nil {
		t.log.WithError(err).Warn("failed to record training run %s", run.ID)
	}
}

// recordMetadata serves the in-training records to the calibrator.
type recordMetadata []domain.Record

func (m recordMetadata) Get(id int) (string, string, bool) {
	if id < 0 || id >= len(m) {
		return "", "", false
	}
	return m[id].Label, m[id].Message, true
}

func (m recordMetadata) Len() int { return len(m) }
