package training

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-pkgz/pool"

	"spamfilter/core/port/out"
	"spamfilter/pkg/logger"
)

// embedJob is one text to embed into position pos.
type embedJob struct {
	pos  int
	text string
}

// embedWorker implements pool.Worker. Each job writes a distinct slot.
// After the first failure or cancellation the remaining jobs are drained
// without embedding.
type embedWorker struct {
	ctx     context.Context
	embed   func(context.Context, string) ([]float32, error)
	vectors [][]float32
	done    atomic.Int64
	total   int
	log     *logger.Logger

	errOnce sync.Once
	err     error
	failed  atomic.Bool
}

func (w *embedWorker) fail(err error) {
	w.errOnce.Do(func() {
		w.err = err
		w.failed.Store(true)
	})
}

func (w *embedWorker) Do(_ context.Context, job embedJob) error {
	if w.failed.Load() {
		return nil
	}
	if err := w.ctx.Err(); err != nil {
		w.fail(err)
		return nil
	}
	vec, err := w.embed(w.ctx, job.text)
	if err != nil {
		w.fail(fmt.Errorf("embed sample %d: %w", job.pos, err))
		return nil
	}
	w.vectors[job.pos] = vec
	if n := w.done.Add(1); n%500 == 0 || int(n) == w.total {
		w.log.Info("embedded %d/%d", n, w.total)
	}
	return nil
}

// embedAll embeds texts on a worker group and returns vectors in input order.
func embedAll(ctx context.Context, embed func(context.Context, string) ([]float32, error), texts []string, workers int, stage string) ([][]float32, error) {
	if workers < 1 {
		workers = 1
	}
	worker := &embedWorker{
		ctx:     ctx,
		embed:   embed,
		vectors: make([][]float32, len(texts)),
		total:   len(texts),
		log:     logger.WithField("component", "trainer").WithField("stage", stage),
	}

	// The group runs detached from ctx so it always drains what was
	// submitted; cancellation is observed inside Do.
	runCtx := context.WithoutCancel(ctx)
	p := pool.New[embedJob](workers, worker).
		WithWorkerChanSize(workers * 4).
		WithContinueOnError()
	if err := p.Go(runCtx); err != nil {
		return nil, fmt.Errorf("start embedding pool: %w", err)
	}
	for i, t := range texts {
		p.Submit(embedJob{pos: i, text: t})
	}
	if err := p.Close(runCtx); err != nil {
		return nil, err
	}
	if worker.err != nil {
		return nil, worker.err
	}
	return worker.vectors, nil
}

// EmbedPassages embeds reference texts in passage form.
func EmbedPassages(ctx context.Context, embedder out.Embedder, texts []string, workers int) ([][]float32, error) {
	return embedAll(ctx, embedder.EmbedPassage, texts, workers, "passages")
}

// EmbedQueries embeds held-out texts in query form, as they are seen at
// serving time.
func EmbedQueries(ctx context.Context, embedder out.Embedder, texts []string, workers int) ([][]float32, error) {
	return embedAll(ctx, embedder.Embed, texts, workers, "queries")
}
