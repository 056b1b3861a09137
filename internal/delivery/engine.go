package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/alpharace/mailqueue/internal/models"
	"github.com/alpharace/mailqueue/internal/storage"
	"github.com/alpharace/mailqueue/internal/transport"
)

// ErrCommitIndeterminate marks an attempt whose outcome could not be durably
// recorded. The send may or may not have happened; operators must resolve it.
var ErrCommitIndeterminate = errors.New("delivery: attempt outcome not durably recorded")

// CycleReport aggregates the outcomes of one processing cycle.
type CycleReport struct {
	Fetched int `json:"fetched"`
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
}

// Engine owns the per-message attempt logic and the cycle loop. At most one
// cycle runs at a time; concurrent RunCycle calls are no-ops.
type Engine struct {
	store       storage.Storage
	transport   transport.Transport
	backoff     Backoff
	batchSize   int
	concurrency int
	log         zerolog.Logger
	cycling     atomic.Bool
	now         func() time.Time
}

func NewEngine(store storage.Storage, tr transport.Transport, backoff Backoff, batchSize, concurrency int, log zerolog.Logger) *Engine {
	if batchSize <= 0 {
		batchSize = 10
	}
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Engine{
		store:       store,
		transport:   tr,
		backoff:     backoff,
		batchSize:   batchSize,
		concurrency: concurrency,
		log:         log,
		now:         time.Now,
	}
}

// RunCycle fetches one batch of eligible emails and attempts them all. A
// second call while a cycle is in flight returns an empty report without
// touching the store. Individual delivery failures are recorded on the
// message and never returned; only a failed fetch is an error.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	if !e.cycling.CompareAndSwap(false, true) {
		e.log.Debug().Msg("cycle already in progress, skipping")
		return CycleReport{}, nil
	}
	defer e.cycling.Store(false)

	batch, err := e.store.FetchEligible(ctx, e.batchSize)
	if err != nil {
		return CycleReport{}, fmt.Errorf("fetch eligible emails: %w", err)
	}
	if len(batch) == 0 {
		return CycleReport{}, nil
	}

	report := CycleReport{Fetched: len(batch)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, msg := range batch {
		msg := msg
		g.Go(func() error {
			status := e.attempt(ctx, msg)
			mu.Lock()
			switch status {
			case models.StatusSent:
				report.Sent++
			case models.StatusFailed:
				report.Failed++
			case models.StatusPending:
				report.Retried++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	e.log.Info().
		Int("fetched", report.Fetched).
		Int("sent", report.Sent).
		Int("retried", report.Retried).
		Int("failed", report.Failed).
		Msg("cycle finished")
	return report, nil
}

// attempt performs one delivery attempt and commits the resulting state
// transition. It returns the status the message ended the attempt in.
func (e *Engine) attempt(ctx context.Context, msg models.Email) models.Status {
	msg.AttemptCount++

	res, err := e.transport.Send(ctx, msg.Recipient, msg.Subject, msg.HTMLBody)
	now := e.now().UTC()

	if err == nil {
		msg.Status = models.StatusSent
		msg.SentAt = &now
		msg.NextAttemptAt = nil
		msg.LastError = ""
		e.log.Info().
			Str("id", msg.ID).
			Str("recipient", msg.Recipient).
			Str("provider_id", res.ProviderID).
			Int("attempt", msg.AttemptCount).
			Msg("email sent")
	} else if msg.AttemptCount >= msg.MaxAttempts {
		msg.Status = models.StatusFailed
		msg.NextAttemptAt = nil
		msg.LastError = err.Error()
		e.log.Warn().
			Str("id", msg.ID).
			Str("recipient", msg.Recipient).
			Int("attempts", msg.AttemptCount).
			Str("error", msg.LastError).
			Msg("email permanently failed")
	} else {
		next := now.Add(e.backoff.Next(msg.AttemptCount))
		msg.Status = models.StatusPending
		msg.NextAttemptAt = &next
		msg.LastError = err.Error()
		e.log.Info().
			Str("id", msg.ID).
			Int("attempt", msg.AttemptCount).
			Time("next_attempt", next).
			Str("error", msg.LastError).
			Msg("email scheduled for retry")
	}

	// The commit is conditional on the row still being pending. An operator
	// cancel that landed while the attempt was in flight wins; its terminal
	// state is never overwritten.
	if uerr := e.store.UpdateEmailIfStatus(ctx, &msg, models.StatusPending); uerr != nil {
		if errors.Is(uerr, storage.ErrConflict) {
			e.log.Warn().
				Str("id", msg.ID).
				Str("intended_status", string(msg.Status)).
				Msg("email cancelled mid-attempt, dropping attempt outcome")
			return models.StatusCancelled
		}
		// The attempt happened but its outcome is not on disk. This risks a
		// duplicate send or a lost failure record, so it gets the loudest log
		// we have.
		e.log.Error().
			Err(fmt.Errorf("%w: %v", ErrCommitIndeterminate, uerr)).
			Str("id", msg.ID).
			Str("intended_status", string(msg.Status)).
			Msg("failed to commit attempt outcome")
	}
	return msg.Status
}

// InFlight reports whether a cycle is currently running.
func (e *Engine) InFlight() bool {
	return e.cycling.Load()
}
