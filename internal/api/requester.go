package api

import "context"

// PathResolver builds endpoint URLs so services never see the base URL.
type PathResolver interface {
	// supportPath returns the full URL for a support endpoint.
	// Example: supportPath("/conversations") -> "https://host/api/v1/support/conversations"
	supportPath(path string) string
}

// HTTPExecutor executes requests with JSON encoding, retries and error
// classification.
type HTTPExecutor interface {
	// do marshals body when non-nil and unmarshals the response into result
	// when non-nil.
	do(ctx context.Context, method, url string, body any, result any) error

	// doRaw returns the raw response bytes for callers that decode leniently.
	doRaw(ctx context.Context, method, url string, body any) ([]byte, error)
}

// Requester is the request surface the support endpoints depend on.
// Tests can satisfy it with a stub that records paths without a network.
type Requester interface {
	PathResolver
	HTTPExecutor
}
