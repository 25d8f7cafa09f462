package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  Call-status
// transitions are announced on a channel so dashboards or downstream
// consumers can react without polling the call log.
type Notifier struct {
	DB      *sql.DB
	Channel string
}

// NewNotifier constructs a new Notifier.  The channel should match the
// POSTGRES_NOTIFY_CHANNEL environment variable.
func NewNotifier(db *sql.DB, channel string) *Notifier {
	return &Notifier{DB: db, Channel: channel}
}

// NotifyCallStatus announces a call-status transition.  The payload is
// "<logID>:<status>".
func (n *Notifier) NotifyCallStatus(ctx context.Context, logID int64, status string) error {
	payload := fmt.Sprintf("%d:%s", logID, status)
	_, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, payload)
	return err
}

// Listen yields call-status payloads as they arrive on the channel until
// the context is cancelled.  It opens its own connection via pq.Listener
// so it does not interfere with pooled queries.
func (n *Notifier) Listen(ctx context.Context, connStr string) (<-chan string, error) {
	listener := pq.NewListener(connStr, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Printf("call-status listener event %v: %v", ev, err)
			}
		})
	if err := listener.Listen(n.Channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen on %q: %w", n.Channel, err)
	}
	ch := make(chan string)
	go func() {
		defer func() {
			_ = listener.Close()
			close(ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ntf := <-listener.Notify:
				if ntf == nil {
					// connection reset; pq re-establishes the LISTEN
					continue
				}
				select {
				case ch <- ntf.Extra:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
