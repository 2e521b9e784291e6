package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestConstructors(t *testing.T) {
	cause := errors.New("connection reset")
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
		wantCause  bool
	}{
		{"database", DatabaseError("load reference records", cause), CodeDatabaseError, http.StatusInternalServerError, true},
		{"wrap", Wrap(cause, CodeExternalError, "failed to revoke token", http.StatusBadGateway), CodeExternalError, http.StatusBadGateway, true},
		{"missing field", MissingField("jti"), CodeMissingField, http.StatusBadRequest, false},
		{"not loaded", ResourceNotLoaded("index"), CodeResourceNotLoaded, http.StatusServiceUnavailable, false},
		{"rate limited", RateLimited(), CodeRateLimited, http.StatusTooManyRequests, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode || tt.err.HTTPStatus() != tt.wantStatus {
				t.Errorf("got %s/%d, want %s/%d", tt.err.Code, tt.err.HTTPStatus(), tt.wantCode, tt.wantStatus)
			}
			if got := errors.Is(tt.err, cause); got != tt.wantCause {
				t.Errorf("errors.Is(cause) = %v, want %v", got, tt.wantCause)
			}
			if !HasCode(tt.err, tt.wantCode) || GetHTTPStatus(tt.err) != tt.wantStatus {
				t.Error("helpers disagree with the error fields")
			}
		})
	}
}

func TestHelpers_NonAppError(t *testing.T) {
	err := errors.New("plain")
	if IsAppError(err) || HasCode(err, CodeInternalError) {
		t.Error("plain error reported as AppError")
	}
	if GetHTTPStatus(err) != http.StatusInternalServerError {
		t.Errorf("GetHTTPStatus = %d", GetHTTPStatus(err))
	}
	if d := MissingField("jti").WithDetail("hint", "add a jti claim").Details; d["field"] != "jti" || d["hint"] == nil {
		t.Errorf("details = %v", d)
	}
}
