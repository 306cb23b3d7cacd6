// Package names maps Reddit usernames to the short display names ("F L")
// operators keep in the shared_name_mappings Postgres table.
package names

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
)

// rows is the subset of *sql.Rows the mapper reads.
type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// querier is the subset of *sql.DB the mapper needs.
type querier interface {
	query(ctx context.Context, q string, args ...any) (rows, error)
	exec(ctx context.Context, q string, args ...any) (int64, error)
}

type sqlDB struct{ db *sql.DB }

func (s sqlDB) query(ctx context.Context, q string, args ...any) (rows, error) {
	return s.db.QueryContext(ctx, q, args...)
}

func (s sqlDB) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("names: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("names: ping: %w", err)
	}
	return db, nil
}

// Mapper looks up display names.
type Mapper struct {
	q   querier
	log *slog.Logger
}

// New creates a Mapper on db.
func New(db *sql.DB, log *slog.Logger) *Mapper {
	if log == nil {
		log = slog.Default()
	}
	return &Mapper{q: sqlDB{db}, log: log}
}

// DisplayNames returns "F L" for each user with a mapping. Matching ignores
// case; when a user has several rows the oldest wins. The result is keyed by
// the usernames as passed in.
func (m *Mapper) DisplayNames(ctx context.Context, users []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(users) == 0 {
		return out, nil
	}
	lower := make([]string, 0, len(users))
	seen := make(map[string]bool)
	for _, u := range users {
		l := strings.ToLower(u)
		if !seen[l] {
			seen[l] = true
			lower = append(lower, l)
		}
	}

	rs, err := m.q.query(ctx, `
SELECT reddit_username, first_initial, last_initial
FROM shared_name_mappings
WHERE lower(reddit_username) = ANY($1)
ORDER BY id ASC`, pq.Array(lower))
	if err != nil {
		return nil, fmt.Errorf("names: query: %w", err)
	}
	defer rs.Close()

	byLower := make(map[string]string)
	for rs.Next() {
		var user string
		var first, last sql.NullString
		if err := rs.Scan(&user, &first, &last); err != nil {
			return nil, fmt.Errorf("names: scan: %w", err)
		}
		l := strings.ToLower(user)
		if _, dup := byLower[l]; dup {
			continue
		}
		if n := Format(first.String, last.String); n != "" {
			byLower[l] = n
		}
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("names: rows: %w", err)
	}

	for _, u := range users {
		if n, ok := byLower[strings.ToLower(u)]; ok {
			out[u] = n
		}
	}
	m.log.Debug("name mappings resolved", "requested", len(lower), "found", len(byLower))
	return out, nil
}

// Set stores the initials for a user, replacing every existing row for that
// username regardless of case.
func (m *Mapper) Set(ctx context.Context, user, first, last string) error {
	user = strings.TrimSpace(user)
	if user == "" || strings.TrimSpace(first) == "" {
		return fmt.Errorf("names: username and first initial are required")
	}
	if _, err := m.q.exec(ctx, `DELETE FROM shared_name_mappings WHERE lower(reddit_username) = $1`,
		strings.ToLower(user)); err != nil {
		return fmt.Errorf("names: set %s: %w", user, err)
	}
	if _, err := m.q.exec(ctx, `
INSERT INTO shared_name_mappings (reddit_username, first_initial, last_initial)
VALUES ($1, $2, $3)`, user, strings.TrimSpace(first), strings.TrimSpace(last)); err != nil {
		return fmt.Errorf("names: set %s: %w", user, err)
	}
	return nil
}

// CleanupDuplicates deletes every row whose username, ignoring case, already
// appears on an older row. It returns the number of rows removed.
func (m *Mapper) CleanupDuplicates(ctx context.Context) (int, error) {
	rs, err := m.q.query(ctx, `SELECT id, reddit_username FROM shared_name_mappings ORDER BY id ASC`)
	if err != nil {
		return 0, fmt.Errorf("names: cleanup: %w", err)
	}
	seen := make(map[string]bool)
	var dupes []int64
	for rs.Next() {
		var id int64
		var user string
		if err := rs.Scan(&id, &user); err != nil {
			rs.Close()
			return 0, fmt.Errorf("names: cleanup scan: %w", err)
		}
		l := strings.ToLower(user)
		if seen[l] {
			dupes = append(dupes, id)
			continue
		}
		seen[l] = true
	}
	err = rs.Err()
	rs.Close()
	if err != nil {
		return 0, fmt.Errorf("names: cleanup rows: %w", err)
	}
	if len(dupes) == 0 {
		return 0, nil
	}

	n, err := m.q.exec(ctx, `DELETE FROM shared_name_mappings WHERE id = ANY($1)`, pq.Array(dupes))
	if err != nil {
		return 0, fmt.Errorf("names: cleanup delete: %w", err)
	}
	m.log.Info("duplicate name mappings removed", "count", n)
	return int(n), nil
}

// Format renders initials as "F L", or "F" when there is no last initial.
func Format(first, last string) string {
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if last == "" {
		return first
	}
	return first + " " + last
}
