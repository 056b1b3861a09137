package transport

import (
	"context"
	"fmt"
)

// Result carries the provider-assigned id for a successfully sent email.
type Result struct {
	ProviderID string
}

// Transport sends a single email through an external provider. The queue
// treats any returned error as a retryable delivery failure.
type Transport interface {
	Send(ctx context.Context, to, subject, html string) (*Result, error)
}

// Error describes a provider failure.
type Error struct {
	Provider string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}
