// Package store implements rule-table access against the shared Postgres
// source of truth, plus its embedded schema migrations.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

// RuleRow is one raw review_rules row. Trigger and Actions carry the stored
// JSON blobs; parsing into the domain model happens in the repository so a
// malformed blob can be skipped per rule.
type RuleRow struct {
	ID         int64
	FID        int64
	TargetType string
	Name       string
	Enabled    bool
	Priority   int
	Block      bool
	Trigger    []byte
	Actions    []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DSN builds a pgx connection string from discrete settings.
func DSN(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port, url.PathEscape(dbname),
	)
}

// DB wraps the rule-table connection pool.
type DB struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the pool.
func (d *DB) Close() error { return d.db.Close() }

const ruleColumns = "id, fid, target_type, name, enabled, priority, block, trigger, actions, created_at, updated_at"

// LoadEnabledRules reads every enabled rule row.
func (d *DB) LoadEnabledRules(ctx context.Context) ([]RuleRow, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+ruleColumns+" FROM review_rules WHERE enabled = TRUE")
	if err != nil {
		return nil, fmt.Errorf("load enabled rules: %w", err)
	}
	defer rows.Close()

	var result []RuleRow
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// GetRule reads a single rule row by id. A missing row returns (nil, nil).
func (d *DB) GetRule(ctx context.Context, id int64) (*RuleRow, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM review_rules WHERE id = $1", id)
	r, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rule %d: %w", id, err)
	}
	return &r, nil
}

// MaxUpdatedAt returns the newest updated_at across all rules. ok is false
// when the table is empty.
func (d *DB) MaxUpdatedAt(ctx context.Context) (t time.Time, ok bool, err error) {
	var max sql.NullTime
	if err := d.db.QueryRowContext(ctx,
		"SELECT max(updated_at) FROM review_rules").Scan(&max); err != nil {
		return time.Time{}, false, fmt.Errorf("max updated_at: %w", err)
	}
	return max.Time, max.Valid, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(s rowScanner) (RuleRow, error) {
	var r RuleRow
	err := s.Scan(
		&r.ID,
		&r.FID,
		&r.TargetType,
		&r.Name,
		&r.Enabled,
		&r.Priority,
		&r.Block,
		&r.Trigger,
		&r.Actions,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}
