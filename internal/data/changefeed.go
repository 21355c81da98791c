package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/listpilot/listpilot/internal/data/pgxutil"
)

// ChangeFeed blocks on Postgres LISTEN/NOTIFY so dashboard readers get
// near-real-time change signals on the jobs, job_results, and queue_history
// read surfaces instead of polling.
type ChangeFeed struct {
	DB *sql.DB
}

// NewChangeFeed constructs a ChangeFeed.
func NewChangeFeed(db *sql.DB) *ChangeFeed {
	return &ChangeFeed{DB: db}
}

// WaitForChange blocks until a notification arrives on the given channel or
// the context is cancelled. Each call holds one dedicated connection.
func (f *ChangeFeed) WaitForChange(ctx context.Context, channel string) error {
	return pgxutil.WithPgxConn(ctx, f.DB, func(conn *pgx.Conn) error {
		quoted := pgx.Identifier{channel}.Sanitize()
		if _, err := conn.Exec(ctx, "LISTEN "+quoted); err != nil {
			return fmt.Errorf("listen %s: %w", channel, err)
		}
		defer func() {
			_, _ = conn.Exec(context.Background(), "UNLISTEN "+quoted)
		}()

		_, err := conn.WaitForNotification(ctx)
		return err
	})
}
