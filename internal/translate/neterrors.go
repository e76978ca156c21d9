// Copyright (c) 2025 nlcube
// Licensed under the MIT License. See LICENSE file in the project root for details.

package translate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// statusError is a non-2xx reply from an HTTP backend.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("status %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("status %d %s: %s", e.Code, http.StatusText(e.Code), body)
}

// describeNetworkError names the failure class in words a user can act on.
func describeNetworkError(err error) string {
	switch {
	case err == nil:
		return "unknown error"
	case isTimeoutError(err):
		return "timed out waiting for the model"
	case isDNSError(err):
		return "cannot resolve the model endpoint"
	case isConnectionRefusedError(err):
		return "connection refused by the model endpoint"
	case isTLSError(err):
		return "secure connection to the model endpoint failed"
	}

	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
			return "the model endpoint rejected the API key"
		case se.Code == http.StatusTooManyRequests:
			return "rate limited by the model endpoint"
		case se.Code >= 500:
			return "the model endpoint is unavailable"
		}
		return se.Error()
	}
	return err.Error()
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded")
}

func isDNSError(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isConnectionRefusedError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

func isTLSError(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "tls") ||
		strings.Contains(lower, "x509") ||
		strings.Contains(lower, "certificate")
}
