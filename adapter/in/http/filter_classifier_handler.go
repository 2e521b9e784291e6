package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"spamfilter/core/domain"
	"spamfilter/core/port/in"
	"spamfilter/pkg/apperr"
	"spamfilter/pkg/logger"
	"spamfilter/pkg/metrics"
)

const explainTopNeighbors = 5

// ClassifierHandler serves classification, explanation and stats.
type ClassifierHandler struct {
	svc     in.ClassifierService
	latency *metrics.LatencyRegistry
	limits  Limits
}

// NewClassifierHandler creates a new classifier handler.
func NewClassifierHandler(svc in.ClassifierService, latency *metrics.LatencyRegistry, limits Limits) *ClassifierHandler {
	if limits.BatchConcurrency < 1 {
		limits.BatchConcurrency = 1
	}
	return &ClassifierHandler{svc: svc, latency: latency, limits: limits}
}

// Register registers classifier routes.
func (h *ClassifierHandler) Register(router fiber.Router) {
	router.Post("/classify", h.Classify)
	router.Post("/classify/batch", h.ClassifyBatch)
	router.Post("/explain", h.Explain)
	router.Get("/stats", h.Stats)
}

func (h *ClassifierHandler) ready() error {
	if h.svc == nil || !h.svc.Ready() {
		return apperr.ResourceNotLoaded("classifier")
	}
	return nil
}

// Classify classifies one message.
// POST /api/v1/classify
func (h *ClassifierHandler) Classify(c *fiber.Ctx) error {
	start := time.Now()
	if err := h.ready(); err != nil {
		return err
	}

	var req ClassifyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	msg, err := h.limits.message("message", req.Message)
	if err != nil {
		return err
	}
	k, err := resolveK(req.K, h.limits.DefaultK, h.limits.MaxK)
	if err != nil {
		return err
	}

	resp, err := h.classify(c, msg, k, req.Alpha, req.Explain)
	if err != nil {
		return err
	}
	resp.ProcessingTimeMs = elapsedMs(start)

	logger.WithContext(c.UserContext()).Info("classified message: %s (confidence %.3f)", resp.Prediction, resp.Confidence)
	return c.JSON(resp)
}

func (h *ClassifierHandler) classify(c *fiber.Ctx, msg string, k int, alpha *float64, explain bool) (*ClassifyResponse, error) {
	ctx := c.UserContext()
	res, err := h.svc.Classify(ctx, msg, k, alpha)
	if err != nil {
		return nil, err
	}
	resp := h.toResponse(msg, res)
	if explain {
		tokens, err := h.svc.ExplainTokens(ctx, msg, k)
		if err != nil {
			return nil, err
		}
		resp.Tokens = tokens
	}
	return resp, nil
}

// ClassifyBatch classifies up to MaxBatchSize messages concurrently.
// POST /api/v1/classify/batch
func (h *ClassifierHandler) ClassifyBatch(c *fiber.Ctx) error {
	start := time.Now()
	if err := h.ready(); err != nil {
		return err
	}
	defer h.latency.Observe(metrics.StageBatch)()

	var req BatchClassifyRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if len(req.Messages) > h.limits.MaxBatchSize {
		return apperr.InvalidInput("messages", "must contain at most "+strconv.Itoa(h.limits.MaxBatchSize)+" items")
	}
	k, err := resolveK(req.K, h.limits.DefaultK, h.limits.MaxK)
	if err != nil {
		return err
	}
	msgs := make([]string, len(req.Messages))
	for i, raw := range req.Messages {
		if msgs[i], err = h.limits.message("messages["+strconv.Itoa(i)+"]", raw); err != nil {
			return err
		}
	}

	results := make([]*ClassifyResponse, len(msgs))
	g, gctx := errgroup.WithContext(c.UserContext())
	g.SetLimit(h.limits.BatchConcurrency)
	for i, msg := range msgs {
		g.Go(func() error {
			res, err := h.svc.Classify(gctx, msg, k, req.Alpha)
			if err != nil {
				return err
			}
			results[i] = h.toResponse(msg, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	resp := BatchClassifyResponse{Results: results, Total: len(results)}
	for _, r := range results {
		if r.IsSpam {
			resp.SpamCount++
		} else {
			resp.HamCount++
		}
	}
	resp.ProcessingTimeMs = elapsedMs(start)
	logger.WithContext(c.UserContext()).Info("batch classified %d messages (%d spam)", resp.Total, resp.SpamCount)
	return c.JSON(resp)
}

func (h *ClassifierHandler) toResponse(msg string, res *domain.Classification) *ClassifyResponse {
	labels := h.svc.Labels()
	isSpam := res.Prediction == labels.Positive()
	resp := &ClassifyResponse{
		Message:        msg,
		Prediction:     labels.Name(res.Prediction),
		IsSpam:         isSpam,
		Confidence:     res.Confidence,
		VoteScores:     res.VoteScores.ToMap(labels),
		Neighbors:      toNeighbors(labels, res.Neighbors, 0),
		SaliencyWeight: res.SaliencyWeight,
		Alpha:          res.AlphaUsed,
		Degenerate:     res.Degenerate,
	}
	if isSpam {
		sub := h.svc.Subcategory(msg)
		resp.Subcategory = &sub
	}
	return resp
}

// Explain returns token saliency, top neighbors and a prose analysis.
// POST /api/v1/explain
func (h *ClassifierHandler) Explain(c *fiber.Ctx) error {
	if err := h.ready(); err != nil {
		return err
	}

	var req ExplainRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	msg, err := h.limits.message("message", req.Message)
	if err != nil {
		return err
	}
	k, err := resolveK(req.K, h.limits.DefaultExplainK, h.limits.MaxExplainK)
	if err != nil {
		return err
	}

	report, err := h.svc.Explain(c.UserContext(), msg, k)
	if err != nil {
		return err
	}
	labels := h.svc.Labels()
	return c.JSON(ExplainResponse{
		Message:        msg,
		Prediction:     labels.Name(report.Classification.Prediction),
		Confidence:     report.Classification.Confidence,
		Tokens:         report.Tokens,
		TopNeighbors:   toNeighbors(labels, report.Classification.Neighbors, explainTopNeighbors),
		SpamIndicators: nonNil(report.SpamIndicators),
		HamIndicators:  nonNil(report.HamIndicators),
		Analysis:       report.Analysis,
	})
}

// Stats returns corpus, model and latency statistics.
// GET /api/v1/stats
func (h *ClassifierHandler) Stats(c *fiber.Ctx) error {
	if err := h.ready(); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"stats":   h.svc.Stats(),
		"latency": h.latency.Snapshot(),
	})
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
