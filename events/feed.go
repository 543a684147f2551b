// Package events carries match change notifications from the store that
// committed them to every process that shows the affected sport.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dosada05/league-portal/models"
)

var ErrFeedClosed = errors.New("change feed closed")

// Feed is a pub/sub transport for change events filtered by sport. Handlers
// run on the feed's goroutine and must not block.
type Feed interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
	Subscribe(sportID int, handler func(models.ChangeEvent)) (unsubscribe func(), err error)
	// Resync tells local subscribers of sportID to re-read it. Stores call it
	// when a committed change could not be published.
	Resync(sportID int)
	Close() error
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TxPublisher is a feed whose notifications can join the writing
// transaction, so they are delivered if and only if it commits.
type TxPublisher interface {
	PublishTx(ctx context.Context, exec Execer, event models.ChangeEvent) error
}

// registry holds the local subscribers of a feed.
type registry struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[int]map[uint64]func(models.ChangeEvent)
	closed   bool
}

func newRegistry() *registry {
	return &registry{handlers: make(map[int]map[uint64]func(models.ChangeEvent))}
}

func (r *registry) add(sportID int, handler func(models.ChangeEvent)) (func(), error) {
	if handler == nil {
		return nil, errors.New("change handler is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrFeedClosed
	}
	r.nextID++
	id := r.nextID
	if r.handlers[sportID] == nil {
		r.handlers[sportID] = make(map[uint64]func(models.ChangeEvent))
	}
	r.handlers[sportID][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.handlers[sportID], id)
			if len(r.handlers[sportID]) == 0 {
				delete(r.handlers, sportID)
			}
		})
	}, nil
}

// dispatch calls the sport's handlers outside the lock so a handler may
// unsubscribe itself. It returns the number of handlers called.
func (r *registry) dispatch(ev models.ChangeEvent) int {
	r.mu.RLock()
	hs := make([]func(models.ChangeEvent), 0, len(r.handlers[ev.SportID]))
	for _, h := range r.handlers[ev.SportID] {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
	return len(hs)
}

// resync tells every subscribed sport that notifications may have been lost.
func (r *registry) resync(at time.Time) {
	r.mu.RLock()
	sports := make([]int, 0, len(r.handlers))
	for sportID := range r.handlers {
		sports = append(sports, sportID)
	}
	r.mu.RUnlock()

	for _, sportID := range sports {
		r.resyncSport(sportID, at)
	}
}

func (r *registry) resyncSport(sportID int, at time.Time) {
	r.dispatch(models.ChangeEvent{SportID: sportID, Kind: models.ChangeResync, At: at})
}

func (r *registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.handlers = make(map[int]map[uint64]func(models.ChangeEvent))
}

func encodeChange(ev models.ChangeEvent) ([]byte, error) {
	if ev.SportID <= 0 {
		return nil, fmt.Errorf("change event has invalid sport id %d", ev.SportID)
	}
	return json.Marshal(ev)
}

func decodeChange(payload []byte) (models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return models.ChangeEvent{}, fmt.Errorf("failed to decode change event: %w", err)
	}
	if ev.SportID <= 0 {
		return models.ChangeEvent{}, fmt.Errorf("change event has invalid sport id %d", ev.SportID)
	}
	return ev, nil
}
