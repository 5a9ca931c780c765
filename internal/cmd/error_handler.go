package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chatwoot/supportsync/internal/api"
	"github.com/chatwoot/supportsync/internal/config"
	"github.com/chatwoot/supportsync/internal/engine"
	"github.com/chatwoot/supportsync/internal/store"
	"github.com/chatwoot/supportsync/internal/validation"
)

// HandleError processes an error and returns a user-friendly message with suggestions
func HandleError(err error) string {
	if err == nil {
		return ""
	}

	var msg strings.Builder

	var apiErr *api.APIError
	var rateLimitErr *api.RateLimitError
	var circuitBreakerErr *api.CircuitBreakerError
	var unknownBackend *store.UnknownBackendError

	switch {
	case errors.Is(err, engine.ErrNotFound):
		msg.WriteString("The conversation no longer exists on the server. Local state was cleared.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: supportsync start --name <name>\n")

	case errors.Is(err, engine.ErrInvalid):
		msg.WriteString("The conversation was closed by support. Local state was cleared.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: supportsync start --name <name>\n")

	case errors.Is(err, engine.ErrNotActive):
		msg.WriteString("No active conversation.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: supportsync start --name <name>\n")
		msg.WriteString("  - Check the profile: supportsync status --profile <name>\n")

	case errors.Is(err, engine.ErrAlreadyActive):
		msg.WriteString("A conversation is already active for this profile.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Continue it: supportsync chat\n")
		msg.WriteString("  - Or forget it first: supportsync reset\n")

	case errors.Is(err, errSendFailed):
		fmt.Fprintf(&msg, "Error: %s\n\n", err.Error())
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Send it again, or use /retry inside: supportsync chat\n")
		msg.WriteString("  - Use --debug to see the full request\n")

	case errors.Is(err, config.ErrNotConfigured):
		msg.WriteString("No support server configured.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Pass --base-url https://support.example.com\n")
		msg.WriteString("  - Or set SUPPORTSYNC_BASE_URL (a .env file works too)\n")

	case errors.As(err, &unknownBackend):
		fmt.Fprintf(&msg, "Error: %s\n", unknownBackend.Error())

	case errors.As(err, &rateLimitErr):
		msg.WriteString("Rate limit exceeded.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Wait a few seconds and retry\n")
		msg.WriteString("  - Raise --poll-interval\n")

	case errors.As(err, &circuitBreakerErr):
		msg.WriteString("Service temporarily unavailable (circuit breaker open).\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - The API has had multiple failures recently\n")
		msg.WriteString("  - Wait 30 seconds and retry\n")

	case errors.As(err, &apiErr):
		fmt.Fprintf(&msg, "API error (HTTP %d): %s\n\n", apiErr.StatusCode, apiErr.Body)
		msg.WriteString(suggestionsForStatusCode(apiErr.StatusCode))
		if apiErr.RequestID != "" {
			fmt.Fprintf(&msg, "\nRequest ID: %s\n", apiErr.RequestID)
		}

	case strings.Contains(err.Error(), "connection refused"):
		msg.WriteString("Connection refused.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check if the support server is running\n")
		msg.WriteString("  - Verify --base-url\n")

	case strings.Contains(err.Error(), "no such host"):
		msg.WriteString("DNS resolution failed.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the base URL spelling\n")
		msg.WriteString("  - Verify your DNS settings\n")

	default:
		fmt.Fprintf(&msg, "Error: %s\n", err.Error())
	}

	return msg.String()
}

func suggestionsForStatusCode(code int) string {
	var suggestions strings.Builder
	suggestions.WriteString("Suggestions:\n")

	switch code {
	case 400, 422:
		suggestions.WriteString("  - Check the message text and sender details\n")
		suggestions.WriteString("  - Use --debug to see the full request\n")
	case 401, 403:
		suggestions.WriteString("  - The server refused this client\n")
		suggestions.WriteString("  - Check the base URL points at the right workspace\n")
	case 404:
		suggestions.WriteString("  - The conversation may have been deleted\n")
		suggestions.WriteString("  - Run: supportsync status\n")
	case 429:
		suggestions.WriteString("  - Too many requests\n")
		suggestions.WriteString("  - Wait and retry in a few seconds\n")
	case 500, 502, 503, 504:
		suggestions.WriteString("  - Server error - not your fault\n")
		suggestions.WriteString("  - Wait and retry\n")
	default:
		suggestions.WriteString("  - Use --debug for more details\n")
	}

	return suggestions.String()
}

// engineStructuredError classifies conversation-state and local input
// errors for JSON output.
func engineStructuredError(err error) *api.StructuredError {
	var unknownBackend *store.UnknownBackendError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return api.NewStructuredError(api.ErrConversationGone, err.Error())
	case errors.Is(err, engine.ErrInvalid):
		return api.NewStructuredError(api.ErrConversationClosed, err.Error())
	case errors.Is(err, engine.ErrAlreadyActive):
		return api.NewStructuredError(api.ErrConversationActive, err.Error())
	case errors.Is(err, engine.ErrNotActive):
		return api.NewStructuredError(api.ErrNoConversation, err.Error())
	case errors.As(err, &unknownBackend):
		return api.NewChoiceError("store", unknownBackend.Name, store.Backends, err.Error())
	case errors.Is(err, config.ErrNotConfigured), errors.Is(err, validation.ErrEmptyMessage):
		return api.NewStructuredError(api.ErrInvalidInput, err.Error())
	}
	return nil
}
