// Package dryrun previews state-changing commands without touching the
// server or the identity store.
package dryrun

import (
	"context"
	"fmt"
	"io"
	"sort"
)

type contextKey struct{}

// WithDryRun returns a context with dry-run mode enabled/disabled.
func WithDryRun(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, contextKey{}, enabled)
}

// IsEnabled returns true if dry-run mode is enabled.
func IsEnabled(ctx context.Context) bool {
	v, _ := ctx.Value(contextKey{}).(bool)
	return v
}

// Preview describes what a command would have done.
type Preview struct {
	Operation   string         `json:"operation"`
	Target      string         `json:"target"`
	Description string         `json:"description,omitempty"`
	Request     string         `json:"request,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// Payload is the machine-readable form of p.
func (p *Preview) Payload() map[string]any {
	return map[string]any{
		"dryRun":  true,
		"preview": p,
	}
}

// Write prints the preview for humans. Details are sorted by key.
func (p *Preview) Write(w io.Writer) {
	_, _ = fmt.Fprintf(w, "[DRY-RUN] Would %s %s\n", p.Operation, p.Target)
	if p.Description != "" {
		_, _ = fmt.Fprintf(w, "%s\n", p.Description)
	}
	if p.Request != "" {
		_, _ = fmt.Fprintf(w, "  request: %s\n", p.Request)
	}

	keys := make([]string, 0, len(p.Details))
	for k := range p.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "  %s: %v\n", k, p.Details[k])
	}

	for _, warning := range p.Warnings {
		_, _ = fmt.Fprintf(w, "  ! %s\n", warning)
	}
	_, _ = fmt.Fprintln(w, "No changes made (dry-run mode)")
}
