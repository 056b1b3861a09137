package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alpharace/mailqueue/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			recipient TEXT NOT NULL,
			subject TEXT NOT NULL,
			html_body TEXT NOT NULL,
			template_id TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			priority INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			last_error TEXT NOT NULL DEFAULT '',
			next_attempt_at DATETIME,
			sent_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_eligible ON emails(status, next_attempt_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_emails_order ON emails(priority DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_recipient ON emails(recipient)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_created ON emails(created_at DESC)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

const emailColumns = `id, recipient, subject, html_body, template_id, metadata, priority, status,
	attempt_count, max_attempts, last_error, next_attempt_at, sent_at, created_at, updated_at`

func (s *SQLiteStorage) CreateEmail(ctx context.Context, e *models.Email) error {
	if strings.TrimSpace(e.Recipient) == "" {
		return &models.ValidationError{Field: "recipient", Reason: "must not be empty"}
	}
	if strings.TrimSpace(e.Subject) == "" {
		return &models.ValidationError{Field: "subject", Reason: "must not be empty"}
	}
	if strings.TrimSpace(e.HTMLBody) == "" {
		return &models.ValidationError{Field: "html_body", Reason: "must not be empty"}
	}

	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = models.NewID("eml")
	}
	if e.Status == "" {
		e.Status = models.StatusPending
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = 3
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	metadata, _ := json.Marshal(e.Metadata)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emails (`+emailColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Recipient, e.Subject, e.HTMLBody, e.TemplateID, string(metadata), e.Priority, e.Status,
		e.AttemptCount, e.MaxAttempts, e.LastError, e.NextAttemptAt, e.SentAt, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanEmail(row interface{ Scan(...interface{}) error }) (*models.Email, error) {
	var e models.Email
	var metadata string
	err := row.Scan(&e.ID, &e.Recipient, &e.Subject, &e.HTMLBody, &e.TemplateID, &metadata, &e.Priority, &e.Status,
		&e.AttemptCount, &e.MaxAttempts, &e.LastError, &e.NextAttemptAt, &e.SentAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if metadata != "" && metadata != "null" {
		json.Unmarshal([]byte(metadata), &e.Metadata)
	}
	return &e, nil
}

func (s *SQLiteStorage) GetEmail(ctx context.Context, id string) (*models.Email, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = ?`, id)
	e, err := s.scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *SQLiteStorage) ListEmails(ctx context.Context, filter ListFilter, page Page) ([]models.Email, int64, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Recipient != "" {
		where = append(where, "recipient LIKE ?")
		args = append(args, "%"+filter.Recipient+"%")
	}
	if filter.CreatedAfter != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.CreatedAfter.UTC())
	}
	if filter.CreatedBefore != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.CreatedBefore.UTC())
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM emails WHERE %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, emailColumns, cond)
	rows, err := s.db.QueryContext(ctx, query, append(args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var emails []models.Email
	for rows.Next() {
		e, err := s.scanEmail(rows)
		if err != nil {
			return nil, 0, err
		}
		emails = append(emails, *e)
	}
	return emails, total, rows.Err()
}

func (s *SQLiteStorage) UpdateEmail(ctx context.Context, e *models.Email) error {
	e.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE emails SET status = ?, attempt_count = ?, last_error = ?, next_attempt_at = ?, sent_at = ?, updated_at = ?
		 WHERE id = ?`,
		e.Status, e.AttemptCount, e.LastError, e.NextAttemptAt, e.SentAt, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) UpdateEmailIfStatus(ctx context.Context, e *models.Email, expect models.Status) error {
	e.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE emails SET status = ?, attempt_count = ?, last_error = ?, next_attempt_at = ?, sent_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		e.Status, e.AttemptCount, e.LastError, e.NextAttemptAt, e.SentAt, e.UpdatedAt, e.ID, expect,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails WHERE id = ?`, e.ID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *SQLiteStorage) DeleteEmail(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM emails WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) FetchEligible(ctx context.Context, limit int) ([]models.Email, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+emailColumns+` FROM emails
		 WHERE status = 'pending'
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		   AND attempt_count < max_attempts
		 ORDER BY priority DESC, created_at ASC
		 LIMIT ?`,
		time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []models.Email
	for rows.Next() {
		e, err := s.scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

func (s *SQLiteStorage) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM emails GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Status]int64)
	for rows.Next() {
		var status models.Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStorage) RecentProcessed(ctx context.Context, limit int) ([]models.Email, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+emailColumns+` FROM emails
		 WHERE status IN ('sent', 'failed')
		 ORDER BY sent_at DESC, created_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []models.Email
	for rows.Next() {
		e, err := s.scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

func (s *SQLiteStorage) PurgeOlderThan(ctx context.Context, age time.Duration, statuses []models.Status) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := []interface{}{time.Now().UTC().Add(-age)}
	for _, st := range statuses {
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM emails WHERE created_at < ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
