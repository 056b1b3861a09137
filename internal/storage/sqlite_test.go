package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpharace/mailqueue/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "mailqueue.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func newEmail(recipient string) *models.Email {
	return &models.Email{
		Recipient: recipient,
		Subject:   "Hi",
		HTMLBody:  "<p>x</p>",
	}
}

func TestCreateEmailDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := newEmail("a@b.com")
	require.NoError(t, store.CreateEmail(ctx, e))

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, models.StatusPending, e.Status)
	assert.Equal(t, 0, e.AttemptCount)
	assert.Equal(t, 3, e.MaxAttempts)
	assert.Equal(t, 0, e.Priority)
	assert.False(t, e.CreatedAt.IsZero())

	got, err := store.GetEmail(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Recipient, got.Recipient)
	assert.Nil(t, got.SentAt)
	assert.Nil(t, got.NextAttemptAt)
}

func TestCreateEmailValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		email *models.Email
		field string
	}{
		{"empty recipient", &models.Email{Subject: "s", HTMLBody: "b"}, "recipient"},
		{"empty subject", &models.Email{Recipient: "a@b.com", HTMLBody: "b"}, "subject"},
		{"empty body", &models.Email{Recipient: "a@b.com", Subject: "s"}, "html_body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := store.CreateEmail(ctx, tc.email)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestGetEmailNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetEmail(context.Background(), "eml_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchEligibleOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	a := newEmail("a@b.com")
	a.Priority = 5
	a.CreatedAt = base
	require.NoError(t, store.CreateEmail(ctx, a))

	b := newEmail("b@b.com")
	b.Priority = 5
	b.CreatedAt = base.Add(time.Minute)
	require.NoError(t, store.CreateEmail(ctx, b))

	c := newEmail("c@b.com")
	c.Priority = 9
	c.CreatedAt = base.Add(2 * time.Minute)
	require.NoError(t, store.CreateEmail(ctx, c))

	got, err := store.FetchEligible(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, c.ID, got[0].ID, "highest priority first")
	assert.Equal(t, a.ID, got[1].ID, "earlier creation breaks priority ties")
}

func TestFetchEligibleSkipsIneligible(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	backoff := newEmail("backoff@b.com")
	require.NoError(t, store.CreateEmail(ctx, backoff))
	backoff.AttemptCount = 1
	backoff.NextAttemptAt = &future
	require.NoError(t, store.UpdateEmail(ctx, backoff))

	exhausted := newEmail("exhausted@b.com")
	require.NoError(t, store.CreateEmail(ctx, exhausted))
	exhausted.AttemptCount = 3
	require.NoError(t, store.UpdateEmail(ctx, exhausted))

	cancelled := newEmail("cancelled@b.com")
	require.NoError(t, store.CreateEmail(ctx, cancelled))
	cancelled.Status = models.StatusCancelled
	require.NoError(t, store.UpdateEmail(ctx, cancelled))

	past := time.Now().UTC().Add(-time.Minute)
	due := newEmail("due@b.com")
	require.NoError(t, store.CreateEmail(ctx, due))
	due.AttemptCount = 1
	due.NextAttemptAt = &past
	require.NoError(t, store.UpdateEmail(ctx, due))

	got, err := store.FetchEligible(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestUpdateEmailIfStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := newEmail("a@b.com")
	require.NoError(t, store.CreateEmail(ctx, e))

	e.Status = models.StatusCancelled
	require.NoError(t, store.UpdateEmailIfStatus(ctx, e, models.StatusPending))

	// Row is no longer pending, a second conditional write must fail.
	e.Status = models.StatusCancelled
	err := store.UpdateEmailIfStatus(ctx, e, models.StatusPending)
	assert.ErrorIs(t, err, ErrConflict)

	missing := newEmail("b@b.com")
	missing.ID = "eml_missing"
	err = store.UpdateEmailIfStatus(ctx, missing, models.StatusPending)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListEmailsFilterAndPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := newEmail("rider@team.com")
		require.NoError(t, store.CreateEmail(ctx, e))
	}
	sent := newEmail("other@team.com")
	require.NoError(t, store.CreateEmail(ctx, sent))
	sent.Status = models.StatusSent
	require.NoError(t, store.UpdateEmail(ctx, sent))

	items, total, err := store.ListEmails(ctx, ListFilter{Status: models.StatusPending}, Page{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, items, 2)

	items, total, err = store.ListEmails(ctx, ListFilter{Recipient: "rider"}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, items, 3)

	past := time.Now().UTC().Add(time.Hour)
	items, total, err = store.ListEmails(ctx, ListFilter{CreatedAfter: &past}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, items)
}

func TestCountByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, store.CreateEmail(ctx, newEmail("a@b.com")))
	}
	sent := newEmail("b@b.com")
	require.NoError(t, store.CreateEmail(ctx, sent))
	sent.Status = models.StatusSent
	require.NoError(t, store.UpdateEmail(ctx, sent))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.StatusPending])
	assert.Equal(t, int64(1), counts[models.StatusSent])
	assert.Equal(t, int64(0), counts[models.StatusFailed])
}

func TestPurgeOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-40 * 24 * time.Hour)

	for i := 0; i < 2; i++ {
		e := newEmail("old@b.com")
		e.CreatedAt = old
		require.NoError(t, store.CreateEmail(ctx, e))
		e.Status = models.StatusSent
		require.NoError(t, store.UpdateEmail(ctx, e))
	}

	fresh := newEmail("fresh@b.com")
	require.NoError(t, store.CreateEmail(ctx, fresh))
	fresh.Status = models.StatusSent
	require.NoError(t, store.UpdateEmail(ctx, fresh))

	oldPending := newEmail("pending@b.com")
	oldPending.CreatedAt = old
	require.NoError(t, store.CreateEmail(ctx, oldPending))

	removed, err := store.PurgeOlderThan(ctx, 30*24*time.Hour, []models.Status{
		models.StatusSent, models.StatusFailed, models.StatusCancelled,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	// The fresh sent email and the old pending one survive.
	_, err = store.GetEmail(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = store.GetEmail(ctx, oldPending.ID)
	assert.NoError(t, err)
}

func TestRecentProcessed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pending := newEmail("pending@b.com")
	require.NoError(t, store.CreateEmail(ctx, pending))

	now := time.Now().UTC()
	sent := newEmail("sent@b.com")
	require.NoError(t, store.CreateEmail(ctx, sent))
	sent.Status = models.StatusSent
	sent.SentAt = &now
	require.NoError(t, store.UpdateEmail(ctx, sent))

	failed := newEmail("failed@b.com")
	require.NoError(t, store.CreateEmail(ctx, failed))
	failed.Status = models.StatusFailed
	failed.LastError = "503"
	require.NoError(t, store.UpdateEmail(ctx, failed))

	got, err := store.RecentProcessed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, e := range got {
		assert.NotEqual(t, models.StatusPending, e.Status)
	}
}

func TestDeleteEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := newEmail("a@b.com")
	require.NoError(t, store.CreateEmail(ctx, e))
	require.NoError(t, store.DeleteEmail(ctx, e.ID))

	_, err := store.GetEmail(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteEmail(ctx, e.ID), ErrNotFound)
}

func TestMetadataRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := newEmail("a@b.com")
	e.TemplateID = "welcome"
	e.Metadata = map[string]string{"name": "Ayrton", "kind": "welcome"}
	require.NoError(t, store.CreateEmail(ctx, e))

	got, err := store.GetEmail(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "welcome", got.TemplateID)
	assert.Equal(t, "Ayrton", got.Metadata["name"])
}
