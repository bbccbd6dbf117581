package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	// Registers the postgres driver used by the SQL deny list.
	_ "github.com/lib/pq"
)

// SQLDenyList stores deny entries in a relational table. Expired rows
// are logically absent and physically removed by GC.
type SQLDenyList struct {
	db  *sqlx.DB
	now func() time.Time
}

const denySchema = `
CREATE TABLE IF NOT EXISTS token_denylist (
	jti        TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ NOT NULL
)`

// OpenSQLDenyList connects and ensures the schema exists.
func OpenSQLDenyList(driver, dsn string) (*SQLDenyList, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("token: connect deny list db: %w", err)
	}
	d := &SQLDenyList{db: db, now: time.Now}
	if err := d.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// NewSQLDenyList wraps an existing connection without touching the
// schema.
func NewSQLDenyList(db *sqlx.DB) *SQLDenyList {
	return &SQLDenyList{db: db, now: time.Now}
}

// EnsureSchema creates the deny-list table when absent.
func (d *SQLDenyList) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, denySchema); err != nil {
		return fmt.Errorf("token: ensure deny list schema: %w", err)
	}
	return nil
}

func (d *SQLDenyList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	expires := d.now().Add(ttl)
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO token_denylist (jti, expires_at) VALUES ($1, $2)
		 ON CONFLICT (jti) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
		jti, expires)
	if err != nil {
		return fmt.Errorf("token: insert deny entry: %w", err)
	}
	return nil
}

func (d *SQLDenyList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var expires time.Time
	err := d.db.GetContext(ctx, &expires,
		`SELECT expires_at FROM token_denylist WHERE jti = $1`, jti)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("token: query deny entry: %w", err)
	}
	return expires.After(d.now()), nil
}

// GC removes expired deny entries. Wired to the periodic sweeper.
func (d *SQLDenyList) GC(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM token_denylist WHERE expires_at <= $1`, d.now())
	if err != nil {
		return 0, fmt.Errorf("token: gc deny list: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the underlying connection pool.
func (d *SQLDenyList) Close() error { return d.db.Close() }
