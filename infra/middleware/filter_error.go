package middleware

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"spamfilter/pkg/apperr"
	"spamfilter/pkg/logger"
)

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler is a centralized error handler for Fiber
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("request_id").(string)
		status, detail := classify(err)

		log := logger.WithField("request_id", requestID).
			WithField("error_code", detail.Code).
			WithError(err)
		switch {
		case status >= 500 && !apperr.IsAppError(err) && !isFiberError(err):
			log.WithField("stack", string(debug.Stack())).Error("Unexpected error: %s", err.Error())
		case status >= 500:
			log.Error("Server error: %s", detail.Message)
		case status != fiber.StatusNotFound:
			log.Warn("Client error: %s", detail.Message)
		}

		return c.Status(status).JSON(ErrorResponse{
			Success:   false,
			Error:     detail,
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func isFiberError(err error) bool {
	var fe *fiber.Error
	return errors.As(err, &fe)
}

// classify maps err to a status and error body.
func classify(err error) (int, ErrorDetail) {
	var appErr *apperr.AppError
	var fe *fiber.Error
	switch {
	case errors.As(err, &appErr):
		return appErr.Status, ErrorDetail{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	case errors.Is(err, context.DeadlineExceeded):
		t := apperr.Timeout("request")
		return t.Status, ErrorDetail{Code: t.Code, Message: t.Message}
	case errors.Is(err, context.Canceled):
		return 499, ErrorDetail{Code: "CANCELLED", Message: "request cancelled"}
	case errors.As(err, &fe):
		return fe.Code, ErrorDetail{Code: mapHTTPStatusToCode(fe.Code), Message: fe.Message}
	default:
		return fiber.StatusInternalServerError, ErrorDetail{Code: apperr.CodeInternalError, Message: "An unexpected error occurred"}
	}
}

// RequestID middleware adds a unique request ID to each request and to the
// request's user context.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		c.SetUserContext(context.WithValue(c.UserContext(), logger.RequestIDKey, requestID))
		return c.Next()
	}
}

// RequestLogger logs incoming requests and their responses
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID, _ := c.Locals("request_id").(string)

		err := c.Next()
		if err != nil {
			// Run the error handler first so the logged status is the final one.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		log := logger.WithFields(map[string]any{
			"request_id":  requestID,
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"ip":          c.IP(),
		})
		if sub, ok := c.Locals("subject").(string); ok && sub != "" {
			log = log.WithField("subject", sub)
		}

		switch {
		case status >= 500:
			log.Error("Request failed: %s %s -> %d", c.Method(), c.Path(), status)
		case status >= 400:
			log.Warn("Request error: %s %s -> %d", c.Method(), c.Path(), status)
		default:
			log.Info("Request completed: %s %s -> %d", c.Method(), c.Path(), status)
		}
		return nil
	}
}

// Recover middleware recovers from panics
func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Locals("request_id").(string)
				logger.WithFields(map[string]any{
					"request_id": requestID,
					"panic":      fmt.Sprintf("%v", r),
					"path":       c.Path(),
					"method":     c.Method(),
					"stack":      string(debug.Stack()),
				}).Error("Panic recovered")
				err = apperr.Internal("")
			}
		}()
		return c.Next()
	}
}

func mapHTTPStatusToCode(status int) string {
	switch status {
	case 400:
		return apperr.CodeValidationFailed
	case 401:
		return apperr.CodeUnauthorized
	case 404:
		return apperr.CodeNotFound
	case 413:
		return apperr.CodeBadRequest
	case 429:
		return apperr.CodeRateLimited
	case 500:
		return apperr.CodeInternalError
	case 502, 503, 504:
		return "SERVICE_UNAVAILABLE"
	default:
		return "UNKNOWN_ERROR"
	}
}
