package models

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further delivery attempt will happen for a
// message in this status, barring an explicit requeue.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Email is a queued outbound email and its delivery lifecycle state.
type Email struct {
	ID            string            `json:"id"`
	Recipient     string            `json:"recipient"`
	Subject       string            `json:"subject"`
	HTMLBody      string            `json:"html_body"`
	TemplateID    string            `json:"template_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Priority      int               `json:"priority"`
	Status        Status            `json:"status"`
	AttemptCount  int               `json:"attempt_count"`
	MaxAttempts   int               `json:"max_attempts"`
	LastError     string            `json:"last_error,omitempty"`
	NextAttemptAt *time.Time        `json:"next_attempt_at,omitempty"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Eligible reports whether the message can be attempted at the given time.
func (e *Email) Eligible(now time.Time) bool {
	if e.Status != StatusPending || e.AttemptCount >= e.MaxAttempts {
		return false
	}
	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
