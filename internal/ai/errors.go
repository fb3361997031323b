package ai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies provider failures.
type ErrorType string

const (
	ErrTypeAuthentication ErrorType = "authentication"
	ErrTypeRateLimit      ErrorType = "rate_limit"
	ErrTypeInvalidRequest ErrorType = "invalid_request"
	ErrTypeNetwork        ErrorType = "network"
	ErrTypeTimeout        ErrorType = "timeout"
	ErrTypeServerError    ErrorType = "server_error"
	ErrTypeQuotaExceeded  ErrorType = "quota_exceeded"
	ErrTypeModelNotFound  ErrorType = "model_not_found"
	ErrTypeContentFilter  ErrorType = "content_filter"
	ErrTypeContextLength  ErrorType = "context_length"
	// ErrTypeStream is a stream that broke after the first event was delivered.
	// Retrying it would duplicate text already reduced into the message.
	ErrTypeStream  ErrorType = "stream"
	ErrTypeUnknown ErrorType = "unknown"
)

// Error is a classified provider failure. Turns surface it unchanged so the
// caller can tell an expired key from a dropped connection.
type Error struct {
	Type       ErrorType
	Message    string
	Cause      error
	Details    map[string]any
	StatusCode int
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Type, e.Message)
	if e.Cause != nil && e.Cause.Error() != e.Message {
		msg += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Type, so errors.Is(err, NewError(t, ""))
// tests the classification.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Type == t.Type
}

// NewError creates an error of the given type.
func NewError(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message, Details: make(map[string]any)}
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// IsAuthenticationError reports whether err is a rejected credential.
func IsAuthenticationError(err error) bool {
	return GetErrorType(err) == ErrTypeAuthentication
}

// IsRetryableError reports whether opening the stream again may succeed.
func IsRetryableError(err error) bool {
	switch GetErrorType(err) {
	case ErrTypeNetwork, ErrTypeTimeout, ErrTypeRateLimit, ErrTypeServerError:
		return true
	}
	return false
}

// GetErrorType returns the type of the first *Error in err's chain.
func GetErrorType(err error) ErrorType {
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr.Type
	}
	return ErrTypeUnknown
}

// messagePatterns infer a type from untyped transport errors. The first
// matching row wins.
var messagePatterns = []struct {
	errType  ErrorType
	contains []string
}{
	{ErrTypeAuthentication, []string{"unauthorized", "forbidden", "invalid api key", "authentication"}},
	{ErrTypeRateLimit, []string{"rate limit", "too many requests"}},
	{ErrTypeTimeout, []string{"timeout", "deadline exceeded"}},
	{ErrTypeNetwork, []string{"connection", "network", "dial", "dns"}},
	{ErrTypeQuotaExceeded, []string{"quota", "limit exceeded"}},
	{ErrTypeContextLength, []string{"context length", "token limit"}},
}

// WrapError classifies err, keeping an *Error already in its chain.
func WrapError(err error, defaultType ErrorType) *Error {
	if err == nil {
		return nil
	}
	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr
	}

	msg := strings.ToLower(err.Error())
	errType := defaultType
	for _, p := range messagePatterns {
		if containsAny(msg, p.contains) {
			errType = p.errType
			break
		}
	}
	return NewError(errType, err.Error()).WithCause(err)
}

// Describe turns err into the one-line notice shown at the end of a failed
// answer.
func Describe(err error) string {
	switch GetErrorType(err) {
	case ErrTypeAuthentication:
		return "the provider rejected the API key"
	case ErrTypeRateLimit:
		return "rate limited by the provider, try again shortly"
	case ErrTypeQuotaExceeded:
		return "the provider quota is exhausted"
	case ErrTypeContextLength:
		return "the conversation no longer fits the model context"
	case ErrTypeContentFilter:
		return "the provider blocked the content"
	case ErrTypeModelNotFound:
		return "the configured model is not available"
	case ErrTypeStream:
		return "the answer stream was interrupted"
	}
	return err.Error()
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
