package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLStore is the persistence layer shared by the HTTP API and the jobs.
// Queries use $N placeholders and ON CONFLICT upserts, which both the pgx
// and the SQLite drivers accept.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) GetOption(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM options WHERE name=$1`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get option %s: %w", name, err)
	}
	return value, true, nil
}

func (s *SQLStore) SetOption(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO options (name, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at
	`, name, value, s.now().Unix())
	if err != nil {
		return fmt.Errorf("set option %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) DeleteOption(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM options WHERE name=$1`, name); err != nil {
		return fmt.Errorf("delete option %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) GetIssueCache(ctx context.Context, project, status string) (CacheEntry, bool, error) {
	var (
		entry     CacheEntry
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT project, status, payload, updated_at
		FROM issue_cache
		WHERE project=$1 AND status=$2
	`, project, status).Scan(&entry.Project, &entry.Status, &entry.Payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("get issue cache: %w", err)
	}
	entry.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return entry, true, nil
}

// UpsertIssueCache writes the payload for (project, status) in one statement.
func (s *SQLStore) UpsertIssueCache(ctx context.Context, project, status, payload string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issue_cache (project, status, payload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project, status) DO UPDATE SET payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at
	`, project, status, payload, s.now().Unix())
	if err != nil {
		return fmt.Errorf("upsert issue cache: %w", err)
	}
	return nil
}

func (s *SQLStore) ListIssueCache(ctx context.Context) ([]CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project, status, payload, updated_at
		FROM issue_cache
		ORDER BY project ASC, status ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list issue cache: %w", err)
	}
	defer rows.Close()

	items := make([]CacheEntry, 0)
	for rows.Next() {
		var (
			item      CacheEntry
			updatedAt int64
		)
		if err := rows.Scan(&item.Project, &item.Status, &item.Payload, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan issue cache: %w", err)
		}
		item.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue cache: %w", err)
	}
	return items, nil
}

func (s *SQLStore) DropIssueCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM issue_cache`); err != nil {
		return fmt.Errorf("drop issue cache: %w", err)
	}
	return nil
}

func (s *SQLStore) UpsertAccount(ctx context.Context, account Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, login, display_name, email, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET login=EXCLUDED.login, display_name=EXCLUDED.display_name, email=EXCLUDED.email, updated_at=EXCLUDED.updated_at
	`, account.ID, account.Login, account.DisplayName, account.Email, s.now().Unix())
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteAccount(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete account rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) AccountExists(ctx context.Context, id int64) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE id=$1`, id).Scan(&count); err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return count > 0, nil
}

// CountAccounts reports how many host-site accounts are mirrored.
func (s *SQLStore) CountAccounts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

func (s *SQLStore) InsertHistory(ctx context.Context, userID int64, kind, detail string) (HistoryEntry, error) {
	entry := HistoryEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (id, user_id, kind, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.UserID, entry.Kind, entry.Detail, entry.CreatedAt.Unix())
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("insert history: %w", err)
	}
	return entry, nil
}

func (s *SQLStore) ListHistory(ctx context.Context, userID int64) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, detail, created_at
		FROM history
		WHERE user_id=$1
		ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]HistoryEntry, 0)
	for rows.Next() {
		var (
			item      HistoryEntry
			createdAt int64
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.Kind, &item.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		item.CreatedAt = time.Unix(createdAt, 0).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}
