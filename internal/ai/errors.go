package ai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized marks auth failures from the chat client. It is the only error
// class that crosses the core boundary uncaught, so session-level re-auth can react.
var ErrUnauthorized = errors.New("unauthorized")

// ErrSubAgentNotFound is raised by the scheduler before any task is created.
var ErrSubAgentNotFound = errors.New("sub-agent not found")

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

type friendlyError struct {
	message    string
	statusCode int
	cause      error
}

func (e *friendlyError) Error() string { return e.message }
func (e *friendlyError) Unwrap() error { return e.cause }

// normalizeChatError converts a transport/protocol failure into a stable, friendly
// message. Unauthorized failures are wrapped with ErrUnauthorized so callers can
// errors.Is them.
func normalizeChatError(err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var sc statusCoder
	if errors.As(err, &sc) {
		status = sc.StatusCode()
	}
	lower := strings.ToLower(err.Error())

	if status == 401 || status == 403 || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "authentication") {
		return fmt.Errorf("%w: %s", ErrUnauthorized, friendlyMessage(err, status))
	}

	return &friendlyError{message: friendlyMessage(err, status), statusCode: status, cause: err}
}

func friendlyMessage(err error, status int) string {
	lower := strings.ToLower(err.Error())
	switch {
	case status == 429 || strings.Contains(lower, "rate limit"):
		return "The model is receiving too many requests right now. Please retry in a moment."
	case status >= 500:
		return "The model service reported an internal error. Please retry."
	case strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "timeout"):
		return "The model request timed out."
	case strings.Contains(lower, "connection") || strings.Contains(lower, "network"):
		return "Could not reach the model service. Check your network connection."
	default:
		msg := strings.TrimSpace(err.Error())
		if msg == "" {
			msg = "Unknown model error."
		}
		return msg
	}
}

func errorStatusCode(err error) int {
	var fe *friendlyError
	if errors.As(err, &fe) {
		return fe.statusCode
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}
