package models

import (
	"encoding/json"
	"fmt"
)

// Result is the structured payload returned by a node capability:
// {status: success|error, data?, error?}. Nodes may add any other keys,
// which take part in handle routing.
type Result map[string]any

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error kinds attached to failed results under "error_type".
const (
	ErrorTypeCircuitBreaker = "circuit_breaker"
	ErrorTypeTimeout        = "timeout"
	ErrorTypeException      = "exception"
	ErrorTypeLogical        = "logical"
	ErrorTypeNodeNotFound   = "node_not_found"
	ErrorTypeCancelled      = "cancelled"
)

// SuccessResult wraps data in a success result.
func SuccessResult(data any) Result {
	return Result{"status": StatusSuccess, "data": data}
}

// ErrorResult builds a failed result with the given kind.
func ErrorResult(errorType, message string) Result {
	return Result{"status": StatusError, "error": message, "error_type": errorType}
}

// Status returns the declared status, or "" when absent.
func (r Result) Status() string {
	s, _ := r["status"].(string)

	return s
}

// HasError reports whether the result carries an error.
func (r Result) HasError() bool {
	v, ok := r["error"]
	if !ok || v == nil {
		return false
	}

	if s, isString := v.(string); isString && s == "" {
		return false
	}

	return true
}

// ErrorMessage returns the error value as text.
func (r Result) ErrorMessage() string {
	v, ok := r["error"]
	if !ok || v == nil {
		return ""
	}

	if s, isString := v.(string); isString {
		return s
	}

	return Stringify(v)
}

// ErrorType returns the error kind, or "" when absent.
func (r Result) ErrorType() string {
	s, _ := r["error_type"].(string)

	return s
}

// AsResult returns v as a Result when it is an object.
func AsResult(v any) (Result, bool) {
	switch typed := v.(type) {
	case Result:
		return typed, true
	case map[string]any:
		return Result(typed), true
	default:
		return nil, false
	}
}

// Stringify renders v as the text form used for run outputs and previews.
func Stringify(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case fmt.Stringer:
		return typed.String()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	return string(data)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}

	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}
