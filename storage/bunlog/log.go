// Package bunlog persists sign-in events to Postgres through bun. It is
// an optional sink; core treats event logging as best-effort.
package bunlog

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/open-rails/phonekit/core"
)

// Record is one persisted sign-in event.
type Record struct {
	bun.BaseModel `bun:"table:phoneauth_signin_events"`

	ID          int64     `bun:"id,pk,autoincrement"`
	OccurredAt  time.Time `bun:"occurred_at,notnull"`
	Issuer      string    `bun:"issuer"`
	PhoneNumber string    `bun:"phone_number,notnull"`
	UserID      string    `bun:"user_id"`
	SessionID   string    `bun:"session_id"`
	Event       string    `bun:"event,notnull"`
	Detail      *string   `bun:"detail"`
	IPAddr      *string   `bun:"ip_addr"`
}

// Log writes and reads the sign-in event table.
type Log struct {
	db *bun.DB
}

var (
	_ core.EventLogger    = (*Log)(nil)
	_ core.EventLogReader = (*Log)(nil)
)

// Open connects to Postgres with the pgdriver and wraps it in bun.
func Open(dsn string) (*Log, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Log{db: db}, nil
}

// New wraps an existing bun.DB.
func New(db *bun.DB) *Log { return &Log{db: db} }

// Migrate creates the event table if missing.
func (l *Log) Migrate(ctx context.Context) error {
	_, err := l.db.NewCreateTable().Model((*Record)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (l *Log) LogSignInEvent(ctx context.Context, e core.SignInEvent) error {
	rec := &Record{
		OccurredAt:  e.OccurredAt,
		Issuer:      e.Issuer,
		PhoneNumber: e.PhoneNumber,
		UserID:      e.UserID,
		SessionID:   e.SessionID,
		Event:       string(e.Event),
		Detail:      e.Detail,
		IPAddr:      e.IPAddr,
	}
	_, err := l.db.NewInsert().Model(rec).Exec(ctx)
	return err
}

func (l *Log) ListSignInEvents(ctx context.Context, phoneNumber string, limit int) ([]core.SignInEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []Record
	q := l.db.NewSelect().Model(&recs).Order("occurred_at DESC").Limit(limit)
	if phoneNumber != "" {
		q = q.Where("phone_number = ?", phoneNumber)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.SignInEvent, 0, len(recs))
	for _, r := range recs {
		out = append(out, core.SignInEvent{
			OccurredAt:  r.OccurredAt,
			Issuer:      r.Issuer,
			PhoneNumber: r.PhoneNumber,
			UserID:      r.UserID,
			SessionID:   r.SessionID,
			Event:       core.EventType(r.Event),
			Detail:      r.Detail,
			IPAddr:      r.IPAddr,
		})
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (l *Log) Close() error { return l.db.Close() }
