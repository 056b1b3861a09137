package transport

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/alpharace/mailqueue/internal/models"
)

// Console logs outgoing email instead of delivering it. Useful during
// development and as the default when no provider is configured.
type Console struct {
	log zerolog.Logger
}

func NewConsole(log zerolog.Logger) *Console {
	return &Console{log: log}
}

func (c *Console) Send(ctx context.Context, to, subject, html string) (*Result, error) {
	id := models.NewID("dev")
	c.log.Info().
		Str("provider_id", id).
		Str("to", to).
		Str("subject", subject).
		Int("html_bytes", len(html)).
		Msg("console transport: email not actually sent")
	return &Result{ProviderID: id}, nil
}
