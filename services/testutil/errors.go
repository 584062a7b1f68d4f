package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidRequest      = "INVALID_REQUEST"
	ErrorCodeInvalidOrder        = "INVALID_ORDER"
	ErrorCodeUnauthorized        = "UNAUTHORIZED"
	ErrorCodeForbidden           = "FORBIDDEN"
	ErrorCodeRateLimited         = "RATE_LIMITED"
	ErrorCodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	ErrorCodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	ErrorCodeOrderNotFound       = "ORDER_NOT_FOUND"
	ErrorCodeNotFound            = "NOT_FOUND"
	ErrorCodeInvalidState        = "INVALID_STATE"
	ErrorCodeInvariantViolation  = "INVARIANT_VIOLATION"
	ErrorCodeUnavailable         = "UNAVAILABLE"
	ErrorCodeInternalError       = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if resp.Code != StatusForErrorCode(expectedCode) {
		t.Fatalf("expected status %d, got %d (%s)", StatusForErrorCode(expectedCode), resp.Code, resp.Body.String())
	}

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, errResp.Code)
	}
}

func AssertErrorMessage(t *testing.T, resp *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Message != expectedMessage {
		t.Fatalf("expected error message %q, got %q", expectedMessage, errResp.Message)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d (%s)", expectedStatus, resp.Code, resp.Body.String())
	}
}

// StatusForErrorCode mirrors the status mapping of the broker HTTP handlers.
func StatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeInvalidRequest, ErrorCodeInvalidOrder:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeOrderNotFound, ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeInvalidState:
		return http.StatusConflict
	case ErrorCodeInsufficientFunds, ErrorCodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrorCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
