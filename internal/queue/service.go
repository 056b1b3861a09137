package queue

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alpharace/mailqueue/internal/delivery"
	"github.com/alpharace/mailqueue/internal/models"
	"github.com/alpharace/mailqueue/internal/storage"
)

const (
	minPriority = 0
	maxPriority = 10
)

// EnqueueRequest is the producer-facing input for a new queued email.
type EnqueueRequest struct {
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject"`
	HTMLBody   string            `json:"html_body"`
	TemplateID string            `json:"template_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Priority   int               `json:"priority,omitempty"`
}

// Service is the producer/operator surface over the store, engine and
// scheduler. One Service instance owns the queue for the process.
type Service struct {
	store       storage.Storage
	engine      *delivery.Engine
	scheduler   *delivery.Scheduler
	maxAttempts int
	log         zerolog.Logger
}

func NewService(store storage.Storage, engine *delivery.Engine, scheduler *delivery.Scheduler, maxAttempts int, log zerolog.Logger) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{
		store:       store,
		engine:      engine,
		scheduler:   scheduler,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Enqueue validates and stores a new email, then makes sure the scheduler is
// running so the message gets picked up.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*models.Email, error) {
	recipient := strings.ToLower(strings.TrimSpace(req.Recipient))
	if recipient == "" {
		return nil, &models.ValidationError{Field: "recipient", Reason: "must not be empty"}
	}
	if _, err := mail.ParseAddress(recipient); err != nil {
		return nil, &models.ValidationError{Field: "recipient", Reason: "not a valid email address"}
	}
	if strings.TrimSpace(req.Subject) == "" {
		return nil, &models.ValidationError{Field: "subject", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.HTMLBody) == "" {
		return nil, &models.ValidationError{Field: "html_body", Reason: "must not be empty"}
	}

	priority := req.Priority
	if priority < minPriority {
		priority = minPriority
	}
	if priority > maxPriority {
		priority = maxPriority
	}

	email := &models.Email{
		Recipient:   recipient,
		Subject:     strings.TrimSpace(req.Subject),
		HTMLBody:    req.HTMLBody,
		TemplateID:  req.TemplateID,
		Metadata:    req.Metadata,
		Priority:    priority,
		Status:      models.StatusPending,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.store.CreateEmail(ctx, email); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("id", email.ID).
		Str("recipient", email.Recipient).
		Int("priority", email.Priority).
		Msg("email queued")

	s.scheduler.Start()
	return email, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Email, error) {
	return s.store.GetEmail(ctx, id)
}

func (s *Service) List(ctx context.Context, filter storage.ListFilter, page storage.Page) ([]models.Email, int64, error) {
	return s.store.ListEmails(ctx, filter, page)
}

// Requeue reopens a terminal, non-sent email: attempts reset to zero, error
// cleared, eligible immediately. Sent emails are never requeued to avoid
// delivering the same mail twice; a pending one has nothing to reopen.
func (s *Service) Requeue(ctx context.Context, id string) (*models.Email, error) {
	email, err := s.store.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	if email.Status != models.StatusFailed && email.Status != models.StatusCancelled {
		return nil, fmt.Errorf("%w: cannot requeue %s email", ErrInvalidState, email.Status)
	}

	prev := email.Status
	email.Status = models.StatusPending
	email.AttemptCount = 0
	email.LastError = ""
	email.NextAttemptAt = nil

	if err := s.store.UpdateEmailIfStatus(ctx, email, prev); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: status changed while requeueing", ErrInvalidState)
		}
		return nil, err
	}

	s.log.Info().Str("id", email.ID).Msg("email requeued")
	s.scheduler.Start()
	return email, nil
}

// Cancel withdraws a pending email. The status check is re-applied at write
// time, so a message picked up by a concurrent cycle cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Email, error) {
	email, err := s.store.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	if email.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: cannot cancel %s email", ErrInvalidState, email.Status)
	}

	email.Status = models.StatusCancelled
	if err := s.store.UpdateEmailIfStatus(ctx, email, models.StatusPending); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: status changed while cancelling", ErrInvalidState)
		}
		return nil, err
	}

	s.log.Info().Str("id", email.ID).Msg("email cancelled")
	return email, nil
}

// ForceCycle triggers one processing cycle outside the normal cadence.
// Failures are logged, not returned; from the caller's point of view the
// trigger is fire-and-forget.
func (s *Service) ForceCycle() {
	go func() {
		if _, err := s.engine.RunCycle(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("forced cycle aborted")
		}
	}()
}

// PurgeOld deletes terminal emails older than maxAgeDays and returns the
// number removed.
func (s *Service) PurgeOld(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	age := time.Duration(maxAgeDays) * 24 * time.Hour
	removed, err := s.store.PurgeOlderThan(ctx, age, []models.Status{
		models.StatusSent, models.StatusFailed, models.StatusCancelled,
	})
	if err != nil {
		return 0, err
	}
	s.log.Info().Int64("removed", removed).Int("max_age_days", maxAgeDays).Msg("purge finished")
	return removed, nil
}

// Stats aggregates per-status counts and the overall success rate.
func (s *Service) Stats(ctx context.Context) (*storage.Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &storage.Stats{
		Pending:   counts[models.StatusPending],
		Sent:      counts[models.StatusSent],
		Failed:    counts[models.StatusFailed],
		Cancelled: counts[models.StatusCancelled],
	}
	stats.Total = stats.Pending + stats.Sent + stats.Failed + stats.Cancelled
	if stats.Total > 0 {
		stats.SuccessRatePercent = float64(stats.Sent) / float64(stats.Total) * 100
	}
	return stats, nil
}

// RecentLog returns the latest sent/failed emails for the operator log view.
func (s *Service) RecentLog(ctx context.Context, limit int) ([]models.Email, error) {
	return s.store.RecentProcessed(ctx, limit)
}

// StartScheduler begins periodic processing. Enqueue also starts it lazily,
// so calling this up front is optional; double starts are no-ops.
func (s *Service) StartScheduler() {
	s.scheduler.Start()
}

// StopScheduler halts periodic processing; in-flight work finishes first.
func (s *Service) StopScheduler() {
	s.scheduler.Stop()
}
