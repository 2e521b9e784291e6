package http

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"spamfilter/core/domain"
	"spamfilter/core/service/classification"
	"spamfilter/pkg/apperr"
)

// =============================================================================
// Request DTOs
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// notblank rejects whitespace-only strings.
	mustRegister(v, "notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// ClassifyRequest is the body of POST /classify.
type ClassifyRequest struct {
	Message string   `json:"message" validate:"required,notblank"`
	K       *int     `json:"k,omitempty" validate:"omitempty,min=1"`
	Alpha   *float64 `json:"alpha,omitempty" validate:"omitempty,min=0,max=1"`
	Explain bool     `json:"explain"`
}

// BatchClassifyRequest is the body of POST /classify/batch.
type BatchClassifyRequest struct {
	Messages []string `json:"messages" validate:"required,min=1,dive,required,notblank"`
	K        *int     `json:"k,omitempty" validate:"omitempty,min=1"`
	Alpha    *float64 `json:"alpha,omitempty" validate:"omitempty,min=0,max=1"`
}

// ExplainRequest is the body of POST /explain.
type ExplainRequest struct {
	Message string `json:"message" validate:"required,notblank"`
	K       *int   `json:"k,omitempty" validate:"omitempty,min=1"`
}

// Limits bounds request parameters.
type Limits struct {
	DefaultK         int
	MaxK             int
	DefaultExplainK  int
	MaxExplainK      int
	MaxMessageLength int
	MaxBatchSize     int
	BatchConcurrency int
}

// DefaultLimits mirrors the configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		DefaultK:         5,
		MaxK:             20,
		DefaultExplainK:  10,
		MaxExplainK:      50,
		MaxMessageLength: 10000,
		MaxBatchSize:     100,
		BatchConcurrency: 8,
	}
}

// SanitizeMessage strips script markers and surrounding whitespace.
func SanitizeMessage(message string) string {
	message = strings.ReplaceAll(message, "<script>", "")
	message = strings.ReplaceAll(message, "</script>", "")
	message = strings.ReplaceAll(message, "javascript:", "")
	return strings.TrimSpace(message)
}

// parseBody decodes and validates a JSON body.
func parseBody(c *fiber.Ctx, dest any) error {
	if err := c.BodyParser(dest); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if err := validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.ValidationFailed(err.Error())
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	reason := fe.Tag()
	switch fe.Tag() {
	case "required", "notblank":
		reason = "must not be empty"
	case "min":
		reason = "must be at least " + fe.Param()
	case "max":
		reason = "must be at most " + fe.Param()
	}
	return apperr.InvalidInput(field, reason)
}

func (l Limits) message(field, raw string) (string, error) {
	msg := SanitizeMessage(raw)
	if msg == "" {
		return "", apperr.InvalidInput(field, "must not be empty")
	}
	if n := len([]rune(msg)); n > l.MaxMessageLength {
		return "", apperr.InvalidInput(field, fmt.Sprintf("must be at most %d characters, got %d", l.MaxMessageLength, n))
	}
	return msg, nil
}

func resolveK(k *int, def, max int) (int, error) {
	if k == nil {
		return def, nil
	}
	if *k < 1 || *k > max {
		return 0, apperr.InvalidInput("k", fmt.Sprintf("must be within [1,%d]", max))
	}
	return *k, nil
}

// =============================================================================
// Response DTOs
// =============================================================================

const neighborPreview = 200

// NeighborResponse is one neighbor in a classification response.
type NeighborResponse struct {
	Index      int     `json:"index"`
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
	Weight     float64 `json:"weight"`
	Message    string  `json:"message"`
}

// ClassifyResponse is the result of one classification.
type ClassifyResponse struct {
	Message          string                 `json:"message"`
	Prediction       string                 `json:"prediction"`
	IsSpam           bool                   `json:"is_spam"`
	Confidence       float64                `json:"confidence"`
	Subcategory      *domain.Subcategory    `json:"subcategory,omitempty"`
	VoteScores       map[string]float64     `json:"vote_scores"`
	Neighbors        []NeighborResponse     `json:"neighbors"`
	SaliencyWeight   float64                `json:"saliency_weight"`
	Alpha            float64                `json:"alpha"`
	Degenerate       bool                   `json:"degenerate"`
	Tokens           []domain.TokenSaliency `json:"tokens,omitempty"`
	ProcessingTimeMs float64                `json:"processing_time_ms"`
}

// BatchClassifyResponse is the result of a batch.
type BatchClassifyResponse struct {
	Results          []*ClassifyResponse `json:"results"`
	Total            int                 `json:"total"`
	SpamCount        int                 `json:"spam_count"`
	HamCount         int                 `json:"ham_count"`
	ProcessingTimeMs float64             `json:"processing_time_ms"`
}

// ExplainResponse is the detailed explanation of one message.
type ExplainResponse struct {
	Message        string                 `json:"message"`
	Prediction     string                 `json:"prediction"`
	Confidence     float64                `json:"confidence"`
	Tokens         []domain.TokenSaliency `json:"tokens"`
	TopNeighbors   []NeighborResponse     `json:"top_neighbors"`
	SpamIndicators []string               `json:"spam_indicators"`
	HamIndicators  []string               `json:"ham_indicators"`
	Analysis       string                 `json:"analysis"`
}

func toNeighbors(labels *domain.LabelSet, ns []domain.Neighbor, limit int) []NeighborResponse {
	if limit > 0 && len(ns) > limit {
		ns = ns[:limit]
	}
	out := make([]NeighborResponse, len(ns))
	for i, n := range ns {
		out[i] = NeighborResponse{
			Index:      n.ID,
			Label:      labels.Name(n.Label),
			Similarity: n.Similarity,
			Weight:     n.Weight,
			Message:    classification.Preview(n.Text, neighborPreview),
		}
	}
	return out
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
