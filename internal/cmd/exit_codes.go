package cmd

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/spf13/pflag"

	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/config"
	"github.com/chatwoot/supportsync/internal/engine"
	"github.com/chatwoot/supportsync/internal/store"
	"github.com/chatwoot/supportsync/internal/validation"
)

const (
	exitOK          = 0
	exitGeneric     = 1
	exitUsage       = 2
	exitAuth        = 3
	exitNotFound    = 4
	exitForbidden   = 5
	exitRateLimited = 6
	exitServer      = 7
	exitNetwork     = 8
	exitState       = 9
)

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if handled, ok := err.(*handledError); ok {
		if handled.exitCode != 0 {
			return handled.exitCode
		}
		err = handled.err
	}

	if code := exitCodeFromEngine(err); code != 0 {
		return code
	}
	if code := exitCodeFromStructured(err); code != 0 {
		return code
	}
	if isUsageError(err) {
		return exitUsage
	}
	if isNetworkError(err) {
		return exitNetwork
	}
	return exitGeneric
}

func exitCodeFromEngine(err error) int {
	var unknownBackend *store.UnknownBackendError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return exitNotFound
	case errors.Is(err, engine.ErrInvalid),
		errors.Is(err, engine.ErrNotActive),
		errors.Is(err, engine.ErrAlreadyActive),
		errors.Is(err, engine.ErrUnknownMessage):
		return exitState
	case errors.Is(err, validation.ErrEmptyMessage),
		errors.Is(err, config.ErrNotConfigured),
		errors.As(err, &unknownBackend):
		return exitUsage
	}
	return 0
}

func exitCodeFromStructured(err error) int {
	var apiErr *api.APIError
	var rateLimitErr *api.RateLimitError
	var circuitErr *api.CircuitBreakerError
	if !errors.As(err, &apiErr) && !errors.As(err, &rateLimitErr) && !errors.As(err, &circuitErr) {
		return 0
	}
	structured := api.StructuredErrorFromError(err)
	if structured == nil {
		return 0
	}
	switch structured.Code {
	case api.ErrRefused:
		if api.StatusCode(err) == 403 {
			return exitForbidden
		}
		return exitAuth
	case api.ErrConversationGone:
		return exitNotFound
	case api.ErrRateLimited:
		return exitRateLimited
	case api.ErrServerError, api.ErrCircuitOpen:
		return exitServer
	case api.ErrTimeout:
		return exitNetwork
	case api.ErrRejected:
		return exitUsage
	default:
		return 0
	}
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "certificate") ||
		strings.Contains(msg, "i/o timeout")
}

func isUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	indicators := []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts at most",
		"invalid argument",
		"invalid value",
		"must be",
		"is required",
		"exceeds maximum",
		"invalid email",
	}
	for _, indicator := range indicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
