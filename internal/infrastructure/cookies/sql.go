package cookies

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
)

// SQLStore persists slots in the tracker_cookies table, partitioned by
// profile so one database can hold several independent visitors.
type SQLStore struct {
	db      *sql.DB
	profile string
}

// NewSQLStore binds a store to profile. The schema must already exist.
func NewSQLStore(db *sql.DB, profile string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("nil database")
	}
	if profile == "" {
		profile = "default"
	}
	return &SQLStore{db: db, profile: profile}, nil
}

// Profile returns the partition this store reads and writes.
func (s *SQLStore) Profile() string { return s.profile }

func (s *SQLStore) Get(name tracking.CookieName) (string, bool, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM tracker_cookies WHERE profile = ? AND name = ?`,
		s.profile, string(name),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cookie %s: %w", name, err)
	}
	return value, true, nil
}

func (s *SQLStore) Set(name tracking.CookieName, value string) error {
	if !name.IsKnown() {
		return fmt.Errorf("unknown cookie slot %q", name)
	}
	_, err := s.db.Exec(
		`INSERT INTO tracker_cookies (profile, name, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(profile, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.profile, string(name), value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cookie %s: %w", name, err)
	}
	return nil
}

// Clear removes every slot for the profile.
func (s *SQLStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM tracker_cookies WHERE profile = ?`, s.profile); err != nil {
		return fmt.Errorf("failed to clear profile %s: %w", s.profile, err)
	}
	return nil
}
