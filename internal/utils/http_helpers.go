package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/metorial/custom-server/internal/svcerr"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      int            `json:"code"`
	Reason    string         `json:"reason,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
	Issues    []svcerr.Issue `json:"issues,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		Logger.Error("Error encoding JSON response", zap.Error(err))
		return err
	}
	return nil
}

// WriteJSONError writes a standardized JSON error response.
// Never exposes internal error details - use generic messages only.
func WriteJSONError(w http.ResponseWriter, message string, code int) {
	_ = WriteJSON(w, code, ErrorResponse{Error: message, Code: code})
}

// WriteServiceError maps a service-layer error to its HTTP response.
// Contract violations and unclassified errors are logged and reported as a
// generic internal error.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se, ok := svcerr.As(err)
	if !ok || se.Fatal() {
		Logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		WriteJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	status := se.HTTPStatus()
	if se.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	_ = WriteJSON(w, status, ErrorResponse{
		Error:     se.Message,
		Code:      status,
		Reason:    se.Code,
		Retryable: se.Retryable(),
		Issues:    se.Issues,
	})
}

// DecodeJSON decodes a request body into dst, rejecting unknown fields and
// trailing data.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON body: unexpected trailing data")
	}
	return nil
}

// ParseIntParam parses an integer parameter with default and maximum values.
// If the parameter is missing or invalid, returns the default value.
// If the parameter exceeds the maximum, returns the maximum value.
func ParseIntParam(vals url.Values, key string, defaultValue, maxValue int) int {
	str := vals.Get(key)
	if str == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(str)
	if err != nil || value <= 0 {
		return defaultValue
	}

	if maxValue > 0 && value > maxValue {
		return maxValue
	}

	return value
}

// LimitRequestSize wraps an http.Handler to enforce a maximum request body size.
// This prevents DoS attacks via large payloads.
func LimitRequestSize(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}
