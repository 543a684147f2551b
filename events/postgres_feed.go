package events

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/Dosada05/league-portal/models"
)

const (
	ChangeChannel = "match_changes"

	// NOTIFY payloads are limited to 8000 bytes.
	maxNotifyPayload = 7900

	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// PostgresFeed uses LISTEN/NOTIFY on the match database, so every replica
// connected to it sees every committed change. After the listener reconnects
// each subscribed sport receives a resync event.
type PostgresFeed struct {
	db       *sql.DB
	listener *pq.Listener
	registry *registry
	logger   *slog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewPostgresFeed(db *sql.DB, dsn string, logger *slog.Logger) (*PostgresFeed, error) {
	f := &PostgresFeed{
		db:       db,
		registry: newRegistry(),
		logger:   logger,
		done:     make(chan struct{}),
	}
	f.listener = pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect, f.onListenerEvent)
	if err := f.listener.Listen(ChangeChannel); err != nil {
		f.listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}

	f.wg.Add(1)
	go f.listen()
	return f, nil
}

// Publish notifies outside any transaction. Stores prefer PublishTx.
func (f *PostgresFeed) Publish(ctx context.Context, event models.ChangeEvent) error {
	return f.PublishTx(ctx, f.db, event)
}

// PublishTx queues the notification on exec. On a transaction Postgres holds
// it back until commit and drops it on rollback.
func (f *PostgresFeed) PublishTx(ctx context.Context, exec Execer, event models.ChangeEvent) error {
	payload, err := encodeChange(event)
	if err != nil {
		return err
	}
	if len(payload) > maxNotifyPayload {
		// Subscribers re-read the whole sport, the id list is only a hint.
		event.MatchIDs = nil
		if payload, err = encodeChange(event); err != nil {
			return err
		}
	}
	if _, err := exec.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ChangeChannel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify %s for sport %d: %w", ChangeChannel, event.SportID, err)
	}
	return nil
}

func (f *PostgresFeed) Subscribe(sportID int, handler func(models.ChangeEvent)) (func(), error) {
	return f.registry.add(sportID, handler)
}

func (f *PostgresFeed) Resync(sportID int) {
	f.registry.resyncSport(sportID, time.Now().UTC())
}

func (f *PostgresFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.listener.Close()
		f.wg.Wait()
		f.registry.close()
	})
	return err
}

func (f *PostgresFeed) listen() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case n, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			f.handleNotification(n)
		case <-time.After(listenerPingInterval):
			go func() {
				if err := f.listener.Ping(); err != nil {
					f.logger.Warn("change listener ping failed", slog.Any("error", err))
				}
			}()
		}
	}
}

// handleNotification dispatches one notification. pq sends nil after the
// connection was re-established; anything may have been missed meanwhile.
func (f *PostgresFeed) handleNotification(n *pq.Notification) {
	if n == nil {
		f.logger.Info("change listener reconnected, requesting resync")
		f.registry.resync(time.Now().UTC())
		return
	}
	ev, err := decodeChange([]byte(n.Extra))
	if err != nil {
		f.logger.Warn("dropping malformed change notification", slog.String("channel", n.Channel), slog.Any("error", err))
		return
	}
	f.registry.dispatch(ev)
}

func (f *PostgresFeed) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		f.logger.Info("change listener connected", slog.String("channel", ChangeChannel))
	case pq.ListenerEventDisconnected:
		f.logger.Warn("change listener disconnected", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		f.logger.Info("change listener reconnected", slog.String("channel", ChangeChannel))
	case pq.ListenerEventConnectionAttemptFailed:
		f.logger.Warn("change listener connection attempt failed", slog.Any("error", err))
	}
}
