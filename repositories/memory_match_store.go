package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dosada05/league-portal/events"
	"github.com/Dosada05/league-portal/models"
)

// MemoryMatchStore keeps match rows in process. Row locks are one-slot
// semaphores so waiting honours context cancellation; staged writes become
// visible together when the transaction commits.
type MemoryMatchStore struct {
	mu      sync.RWMutex
	matches map[int]models.Match

	locksMu  sync.Mutex
	rowLocks map[int]chan struct{}

	feed   events.Feed
	logger *slog.Logger
	closed atomic.Bool
	now    func() time.Time
}

func NewMemoryMatchStore(feed events.Feed, logger *slog.Logger) *MemoryMatchStore {
	return &MemoryMatchStore{
		matches:  make(map[int]models.Match),
		rowLocks: make(map[int]chan struct{}),
		feed:     feed,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Seed inserts freshly generated rows. Ids and (sport, round, order) must be
// unique, as in the relational schema.
func (s *MemoryMatchStore) Seed(matches ...models.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	type position struct{ sport, round, order int }
	taken := make(map[position]int, len(s.matches)+len(matches))
	for _, m := range s.matches {
		taken[position{m.SportID, m.RoundID, m.MatchOrder}] = m.ID
	}

	staged := make(map[int]models.Match, len(matches))
	for _, m := range matches {
		if _, dup := s.matches[m.ID]; dup {
			return fmt.Errorf("match %d already exists", m.ID)
		}
		if _, dup := staged[m.ID]; dup {
			return fmt.Errorf("match %d listed twice", m.ID)
		}
		pos := position{m.SportID, m.RoundID, m.MatchOrder}
		if other, dup := taken[pos]; dup {
			return fmt.Errorf("matches_sport_round_order_key: match %d collides with match %d", m.ID, other)
		}
		taken[pos] = m.ID
		row := m.Clone()
		row.UpdatedAt = s.now()
		staged[m.ID] = row
	}
	for id, m := range staged {
		s.matches[id] = m
	}
	return nil
}

func (s *MemoryMatchStore) GetMatches(ctx context.Context, sportID int) ([]models.Match, error) {
	if err := s.available(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(sportID, nil), nil
}

func (s *MemoryMatchStore) GetMatch(ctx context.Context, id int) (*models.Match, error) {
	if err := s.available(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrMatchNotFound, id)
	}
	c := m.Clone()
	return &c, nil
}

func (s *MemoryMatchStore) UpdateMatchScore(ctx context.Context, id int, score1, score2 int) (*models.Match, error) {
	return updateOne(ctx, s, id, func(tx MatchTx, cur models.Match) (*models.Match, error) {
		return tx.SetScore(ctx, id, cur.Version, score1, score2)
	})
}

func (s *MemoryMatchStore) UpdateMatchTeams(ctx context.Context, id int, team1ID, team2ID *int) (*models.Match, error) {
	return updateOne(ctx, s, id, func(tx MatchTx, cur models.Match) (*models.Match, error) {
		return tx.SetTeams(ctx, id, cur.Version, team1ID, team2ID)
	})
}

func (s *MemoryMatchStore) ClearMatchScore(ctx context.Context, id int) (*models.Match, error) {
	return updateOne(ctx, s, id, func(tx MatchTx, cur models.Match) (*models.Match, error) {
		return tx.ClearScore(ctx, id, cur.Version)
	})
}

func (s *MemoryMatchStore) Subscribe(sportID int, onChange func(models.ChangeEvent)) (func(), error) {
	if s.closed.Load() {
		return nil, ErrStoreUnavailable
	}
	return subscribeFeed(s.feed, sportID, onChange)
}

func (s *MemoryMatchStore) RunInTx(ctx context.Context, fn func(tx MatchTx) error) error {
	if err := s.available(ctx); err != nil {
		return err
	}
	tx := &memoryMatchTx{
		store:   s,
		staged:  make(map[int]models.Match),
		held:    make(map[int]bool),
		changes: newChangeLog(),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := s.available(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	for id, m := range tx.staged {
		s.matches[id] = m
	}
	s.mu.Unlock()
	tx.release()

	publishCommitted(ctx, s.feed, s.logger, tx.changes.events(s.now()))
	return nil
}

// Close makes every later call fail with ErrStoreUnavailable. The feed is
// owned by the caller and stays open.
func (s *MemoryMatchStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *MemoryMatchStore) available(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreUnavailable
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// listLocked returns the sport's rows, staged ones overriding committed ones,
// sorted by round and order. Callers hold s.mu.
func (s *MemoryMatchStore) listLocked(sportID int, staged map[int]models.Match) []models.Match {
	out := make([]models.Match, 0)
	for id, m := range s.matches {
		if m.SportID != sportID {
			continue
		}
		if st, ok := staged[id]; ok {
			m = st
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoundID != out[j].RoundID {
			return out[i].RoundID < out[j].RoundID
		}
		return out[i].MatchOrder < out[j].MatchOrder
	})
	return out
}

func (s *MemoryMatchStore) rowLock(id int) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.rowLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rowLocks[id] = ch
	}
	return ch
}

type memoryMatchTx struct {
	store   *MemoryMatchStore
	staged  map[int]models.Match
	held    map[int]bool
	changes *changeLog
}

func (t *memoryMatchTx) GetMatch(ctx context.Context, id int) (*models.Match, error) {
	m, err := t.current(id)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *memoryMatchTx) GetMatches(ctx context.Context, sportID int) ([]models.Match, error) {
	if err := t.store.available(ctx); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.listLocked(sportID, t.staged), nil
}

func (t *memoryMatchTx) LockMatches(ctx context.Context, ids ...int) ([]models.Match, error) {
	out := make([]models.Match, 0, len(ids))
	for _, id := range ids {
		if _, err := t.current(id); err != nil {
			return nil, err
		}
		if err := t.lock(ctx, id); err != nil {
			return nil, err
		}
		m, err := t.current(id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (t *memoryMatchTx) SetScore(ctx context.Context, id int, version int64, score1, score2 int) (*models.Match, error) {
	if score1 < 0 || score2 < 0 {
		return nil, fmt.Errorf("%w: %d:%d", ErrMatchScoreInvalid, score1, score2)
	}
	return t.write(ctx, id, version, models.ChangeScoreUpdated, func(m *models.Match) {
		m.Team1Score = models.IntPtr(score1)
		m.Team2Score = models.IntPtr(score2)
	})
}

func (t *memoryMatchTx) SetTeams(ctx context.Context, id int, version int64, team1ID, team2ID *int) (*models.Match, error) {
	return t.write(ctx, id, version, models.ChangeTeamsUpdated, func(m *models.Match) {
		m.Team1ID = copyID(team1ID)
		m.Team2ID = copyID(team2ID)
	})
}

func (t *memoryMatchTx) ClearScore(ctx context.Context, id int, version int64) (*models.Match, error) {
	return t.write(ctx, id, version, models.ChangeScoreCleared, func(m *models.Match) {
		m.Team1Score = nil
		m.Team2Score = nil
	})
}

func (t *memoryMatchTx) write(ctx context.Context, id int, version int64, kind models.ChangeKind, apply func(m *models.Match)) (*models.Match, error) {
	if err := t.lock(ctx, id); err != nil {
		return nil, err
	}
	cur, err := t.current(id)
	if err != nil {
		return nil, err
	}
	if cur.Version != version {
		return nil, fmt.Errorf("%w: match %d is at version %d, expected %d", ErrConcurrentWriteConflict, id, cur.Version, version)
	}
	next := cur.Clone()
	apply(&next)
	next.Version++
	next.UpdatedAt = t.store.now()
	t.staged[id] = next
	t.changes.record(&next, kind)

	out := next.Clone()
	return &out, nil
}

func (t *memoryMatchTx) current(id int) (models.Match, error) {
	if m, ok := t.staged[id]; ok {
		return m.Clone(), nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	m, ok := t.store.matches[id]
	if !ok {
		return models.Match{}, fmt.Errorf("%w: id %d", ErrMatchNotFound, id)
	}
	return m.Clone(), nil
}

func (t *memoryMatchTx) lock(ctx context.Context, id int) error {
	if t.held[id] {
		return nil
	}
	select {
	case t.store.rowLock(id) <- struct{}{}:
		t.held[id] = true
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for match %d: %w", ErrConcurrentWriteConflict, id, ctx.Err())
	}
}

func (t *memoryMatchTx) release() {
	for id := range t.held {
		<-t.store.rowLock(id)
	}
	t.held = nil
}

func copyID(id *int) *int {
	if id == nil {
		return nil
	}
	return models.IntPtr(*id)
}
