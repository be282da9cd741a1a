package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/alkfred/alkfred/internal/civic"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_evidence (
	eid        INTEGER PRIMARY KEY,
	payload    TEXT NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS curated_rules (
	key        TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	curated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS mutation_records (
	name         TEXT PRIMARY KEY,
	category     TEXT NOT NULL,
	payload      TEXT NOT NULL,
	projected_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS profile_components (
	profile_name TEXT PRIMARY KEY,
	payload      TEXT NOT NULL,
	fetched_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_mutation_records_category ON mutation_records(category);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveEvidence writes raw evidence snapshots keyed by evidence ID. Re-fetching
// replaces the stored payload for existing IDs.
func (s *SQLiteStore) SaveEvidence(ctx context.Context, records []civic.Evidence) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin save evidence")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range records {
		payload, err := json.Marshal(&records[i])
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal evidence %d", records[i].ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO raw_evidence (eid, payload, fetched_at) VALUES (?, ?, ?)`,
			records[i].ID, string(payload), now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: save evidence %d", records[i].ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit save evidence")
	}
	return len(records), nil
}

// LoadEvidence returns all stored evidence ordered by evidence ID.
func (s *SQLiteStore) LoadEvidence(ctx context.Context) ([]civic.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM raw_evidence ORDER BY eid`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load evidence")
	}
	defer rows.Close()

	var records []civic.Evidence
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence")
		}
		var ev civic.Evidence
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal evidence")
		}
		records = append(records, ev)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: load evidence iterate")
}

// SaveRules writes finalized rules keyed by their composite key.
func (s *SQLiteStore) SaveRules(ctx context.Context, rules map[string]*civic.Rule) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin save rules")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for key, rule := range rules {
		payload, err := json.Marshal(rule)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal rule %s", key)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO curated_rules (key, payload, curated_at) VALUES (?, ?, ?)`,
			key, string(payload), now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: save rule %s", key)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit save rules")
	}
	return len(rules), nil
}

// LoadRules returns all stored rules keyed by composite key.
func (s *SQLiteStore) LoadRules(ctx context.Context) (map[string]*civic.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, payload FROM curated_rules`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load rules")
	}
	defer rows.Close()

	rules := make(map[string]*civic.Rule)
	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		var rule civic.Rule
		if err := json.Unmarshal([]byte(payload), &rule); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal rule %s", key)
		}
		rules[key] = &rule
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: load rules iterate")
}

// SaveMutations writes projected mutation records keyed by variant label.
func (s *SQLiteStore) SaveMutations(ctx context.Context, mutations map[string]*civic.Mutation) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin save mutations")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for name, m := range mutations {
		payload, err := json.Marshal(m)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal mutation %s", name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO mutation_records (name, category, payload, projected_at) VALUES (?, ?, ?, ?)`,
			name, m.Category, string(payload), now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: save mutation %s", name)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit save mutations")
	}
	return len(mutations), nil
}

// LoadMutations returns all stored mutation records keyed by variant label.
func (s *SQLiteStore) LoadMutations(ctx context.Context) (map[string]*civic.Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, payload FROM mutation_records`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load mutations")
	}
	defer rows.Close()

	mutations := make(map[string]*civic.Mutation)
	for rows.Next() {
		var name, payload string
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mutation")
		}
		var m civic.Mutation
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal mutation %s", name)
		}
		mutations[name] = &m
	}
	return mutations, eris.Wrap(rows.Err(), "sqlite: load mutations iterate")
}

// GetComponents returns the cached component list for a profile. The second
// return distinguishes "cached empty" from "never looked up".
func (s *SQLiteStore) GetComponents(ctx context.Context, profileName string) ([]civic.Component, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM profile_components WHERE profile_name = ?`, profileName)

	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: get components %s", profileName)
	}

	var comps []civic.Component
	if err := json.Unmarshal([]byte(payload), &comps); err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: unmarshal components %s", profileName)
	}
	return comps, true, nil
}

// SetComponents caches the component list for a profile.
func (s *SQLiteStore) SetComponents(ctx context.Context, profileName string, comps []civic.Component) error {
	payload, err := json.Marshal(comps)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal components %s", profileName)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO profile_components (profile_name, payload, fetched_at) VALUES (?, ?, ?)`,
		profileName, string(payload), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set components %s", profileName)
}
