package storage

import (
	"context"
	"errors"
	"time"

	"github.com/alpharace/mailqueue/internal/models"
)

var (
	// ErrNotFound is returned when the referenced email does not exist.
	ErrNotFound = errors.New("storage: email not found")
	// ErrConflict is returned by conditional updates when the stored row no
	// longer has the expected status.
	ErrConflict = errors.New("storage: email status changed concurrently")
)

// ListFilter narrows ListEmails results. Zero values mean "no filter".
type ListFilter struct {
	Status        models.Status
	Recipient     string // substring match
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

type Page struct {
	Page     int
	PageSize int
}

func (p Page) Limit() int {
	if p.PageSize <= 0 {
		return 20
	}
	return p.PageSize
}

func (p Page) Offset() int {
	page := p.Page
	if page <= 0 {
		page = 1
	}
	return (page - 1) * p.Limit()
}

// Stats aggregates queue counts per lifecycle status.
type Stats struct {
	Pending            int64   `json:"pending"`
	Sent               int64   `json:"sent"`
	Failed             int64   `json:"failed"`
	Cancelled          int64   `json:"cancelled"`
	Total              int64   `json:"total"`
	SuccessRatePercent float64 `json:"success_rate_percent"`
}

type Storage interface {
	// CreateEmail persists a new email. Recipient, subject and body must be
	// non-empty; id, status, timestamps and defaults are filled in when unset.
	CreateEmail(ctx context.Context, e *models.Email) error
	GetEmail(ctx context.Context, id string) (*models.Email, error)
	ListEmails(ctx context.Context, filter ListFilter, page Page) ([]models.Email, int64, error)
	// UpdateEmail persists the full mutable state of e.
	UpdateEmail(ctx context.Context, e *models.Email) error
	// UpdateEmailIfStatus persists e only while the stored row still has the
	// expected status. Returns ErrConflict when the row changed underneath.
	UpdateEmailIfStatus(ctx context.Context, e *models.Email, expect models.Status) error
	DeleteEmail(ctx context.Context, id string) error

	// FetchEligible returns up to limit pending emails whose next attempt is
	// due, ordered by priority descending then creation time ascending.
	FetchEligible(ctx context.Context, limit int) ([]models.Email, error)
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)
	// RecentProcessed returns the most recently finished (sent or failed)
	// emails for the operator log view.
	RecentProcessed(ctx context.Context, limit int) ([]models.Email, error)
	// PurgeOlderThan deletes emails in the given statuses created before
	// now-age and returns the number removed.
	PurgeOlderThan(ctx context.Context, age time.Duration, statuses []models.Status) (int64, error)

	Migrate(ctx context.Context) error
	Close() error
}
