package transport

import (
	"errors"
	"fmt"
	"strings"
)

// ServerError is an error event payload reported by the remote service.
type ServerError struct {
	Code    int
	Status  string
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("transport: server error %d %s: %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("transport: server error %d: %s", e.Code, e.Message)
}

// IsRateLimit reports whether err is a rate-limit signal from the remote
// side. Rate-limit errors are expected noise under bursty context updates and
// must not fault the session.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var se *ServerError
	if errors.As(err, &se) {
		if se.Code == 429 || se.Status == "RESOURCE_EXHAUSTED" {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit exceeded") || strings.Contains(msg, "quota exceeded")
}
