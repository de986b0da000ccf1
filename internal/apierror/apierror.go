// Package apierror provides the centralized error response format for the
// weather proxy. Every component uses WriteJSON to produce consistent,
// machine-readable error bodies: at minimum an "error" message and the
// numeric HTTP "code", plus a stable "error_code" string clients can
// program against.
package apierror

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Proxy error codes. These form a public API contract; clients can program
// against these stable codes. Do not rename or remove existing codes.
const (
	MissingEndpoint       ErrorCode = "PROXY_MISSING_ENDPOINT"
	InvalidEndpoint       ErrorCode = "PROXY_INVALID_ENDPOINT"
	InvalidParameter      ErrorCode = "PROXY_INVALID_PARAMETER"
	MethodNotAllowed      ErrorCode = "PROXY_METHOD_NOT_ALLOWED"
	RateLimitExceeded     ErrorCode = "PROXY_RATE_LIMIT_EXCEEDED"
	UpstreamMisconfigured ErrorCode = "PROXY_UPSTREAM_MISCONFIGURED"
	InternalError         ErrorCode = "PROXY_INTERNAL_ERROR"
	DeadlineExceeded      ErrorCode = "PROXY_DEADLINE_EXCEEDED"
	AdminForbidden        ErrorCode = "PROXY_ADMIN_FORBIDDEN"
	AdminUnauthorized     ErrorCode = "PROXY_ADMIN_UNAUTHORIZED"
)

// DebugInfo carries request details echoed back on errors in development
// mode only. Never populated in production.
type DebugInfo struct {
	Method    string `json:"method"`
	URI       string `json:"request_uri"`
	UserAgent string `json:"user_agent"`
}

// ErrorResponse is the standardized proxy error body. Code mirrors the HTTP
// status so browser clients reading only the body can still branch on it.
type ErrorResponse struct {
	Error      string     `json:"error"`
	Code       int        `json:"code"`
	ErrorCode  string     `json:"error_code"`
	RetryAfter int        `json:"retry_after,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Debug      *DebugInfo `json:"debug,omitempty"`
}

// Pre-serialized JSON bodies for the most common rejections. Avoids
// json.Encoder allocation on every probe or bad request in the hot path.
// These carry no debug block, so they are only used outside development.
var (
	preMissingEndpoint  = mustMarshal("Missing endpoint parameter", http.StatusBadRequest, MissingEndpoint)
	preInvalidEndpoint  = mustMarshal("Invalid endpoint", http.StatusBadRequest, InvalidEndpoint)
	preMethodNotAllowed = mustMarshal("Method not allowed", http.StatusMethodNotAllowed, MethodNotAllowed)
)

func mustMarshal(message string, status int, code ErrorCode) []byte {
	b, _ := json.Marshal(ErrorResponse{
		Error:     message,
		Code:      status,
		ErrorCode: string(code),
	})
	return append(b, '\n')
}

// WriteJSON writes a structured JSON error response. For the common
// message+code combinations a pre-serialized body is used (no allocation).
func WriteJSON(w http.ResponseWriter, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if body := preSerialized(status, code, message); body != nil {
		w.Write(body) //nolint:errcheck
		return
	}

	json.NewEncoder(w).Encode(ErrorResponse{ //nolint:errcheck
		Error:     message,
		Code:      status,
		ErrorCode: string(code),
	})
}

// WriteResponse writes a fully populated ErrorResponse. Used for 429 bodies
// (retry_after, limit) and development-mode debug payloads.
func WriteResponse(w http.ResponseWriter, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}
	w.WriteHeader(resp.Code)
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

// preSerialized returns a pre-built response body for common error
// combinations, or nil if no match.
func preSerialized(status int, code ErrorCode, message string) []byte {
	switch {
	case code == MissingEndpoint && status == http.StatusBadRequest && message == "Missing endpoint parameter":
		return preMissingEndpoint
	case code == InvalidEndpoint && status == http.StatusBadRequest && message == "Invalid endpoint":
		return preInvalidEndpoint
	case code == MethodNotAllowed && status == http.StatusMethodNotAllowed && message == "Method not allowed":
		return preMethodNotAllowed
	}
	return nil
}
