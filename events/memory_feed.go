package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Dosada05/league-portal/models"
)

// MemoryFeed delivers events synchronously inside one process.
type MemoryFeed struct {
	registry *registry
	logger   *slog.Logger
	closed   atomic.Bool
}

func NewMemoryFeed(logger *slog.Logger) *MemoryFeed {
	return &MemoryFeed{registry: newRegistry(), logger: logger}
}

func (f *MemoryFeed) Publish(ctx context.Context, event models.ChangeEvent) error {
	if f.closed.Load() {
		return ErrFeedClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if n := f.registry.dispatch(event); n == 0 {
		f.logger.Debug("change event has no subscribers", slog.Int("sport_id", event.SportID))
	}
	return nil
}

func (f *MemoryFeed) Subscribe(sportID int, handler func(models.ChangeEvent)) (func(), error) {
	return f.registry.add(sportID, handler)
}

func (f *MemoryFeed) Resync(sportID int) {
	f.registry.resyncSport(sportID, time.Now().UTC())
}

func (f *MemoryFeed) Close() error {
	f.closed.Store(true)
	f.registry.close()
	return nil
}
