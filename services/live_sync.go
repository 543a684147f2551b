package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Dosada05/league-portal/models"
)

type SessionState string

const (
	SessionIdle         SessionState = "idle"
	SessionSubscribed   SessionState = "subscribed"
	SessionRecomputing  SessionState = "recomputing"
	SessionPublishing   SessionState = "publishing"
	SessionUnsubscribed SessionState = "unsubscribed"
)

// ChangeSubscriber is the notification side of the match store.
type ChangeSubscriber interface {
	Subscribe(sportID int, onChange func(models.ChangeEvent)) (unsubscribe func(), err error)
}

// SnapshotLoader reads and derives the current snapshot of a sport.
type SnapshotLoader func(ctx context.Context, sportID int) (*Snapshot, error)

type LiveSyncConfig struct {
	Debounce           time.Duration
	RecomputeTimeout   time.Duration
	MinPublishInterval time.Duration
}

// LiveSync keeps one session per watched sport. A session turns bursts of
// change notifications into single recomputations and pushes the resulting
// snapshot to every viewer of that sport.
type LiveSync struct {
	changes ChangeSubscriber
	load    SnapshotLoader
	cfg     LiveSyncConfig
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[int]*liveSession
}

func NewLiveSync(changes ChangeSubscriber, load SnapshotLoader, cfg LiveSyncConfig, logger *slog.Logger) *LiveSync {
	if cfg.RecomputeTimeout <= 0 {
		cfg.RecomputeTimeout = 2 * time.Second
	}
	return &LiveSync{
		changes:  changes,
		load:     load,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[int]*liveSession),
	}
}

// SubscribeLive registers handler for sportID's snapshots. The handler first
// receives the session's latest snapshot, if one exists, and then every new
// one. Handlers run on the session goroutine and must not block.
func (l *LiveSync) SubscribeLive(sportID int, handler func(*Snapshot)) (func(), error) {
	if sportID <= 0 {
		return nil, ErrInvalidSportID
	}
	if handler == nil {
		return nil, errors.New("snapshot handler is required")
	}

	for {
		sess, err := l.session(sportID)
		if err != nil {
			return nil, err
		}
		id, ok := sess.join(handler)
		if !ok {
			// The session closed between lookup and join.
			continue
		}
		var once sync.Once
		return func() {
			once.Do(func() { l.leave(sess, id) })
		}, nil
	}
}

// State reports the state of a sport's session; sports nobody watches are idle.
func (l *LiveSync) State(sportID int) SessionState {
	l.mu.Lock()
	sess := l.sessions[sportID]
	l.mu.Unlock()
	if sess == nil {
		return SessionIdle
	}
	return sess.currentState()
}

// Close ends every session.
func (l *LiveSync) Close() {
	l.mu.Lock()
	sessions := make([]*liveSession, 0, len(l.sessions))
	for id, sess := range l.sessions {
		sessions = append(sessions, sess)
		delete(l.sessions, id)
	}
	l.mu.Unlock()

	for _, sess := range sessions {
		sess.stop()
	}
}

func (l *LiveSync) session(sportID int) (*liveSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sess, ok := l.sessions[sportID]; ok {
		return sess, nil
	}

	sess := newLiveSession(sportID, l)
	unsubscribe, err := l.changes.Subscribe(sportID, sess.notify)
	if err != nil {
		sess.cancel()
		return nil, translateError(fmt.Errorf("failed to subscribe to changes of sport %d: %w", sportID, err))
	}
	sess.unsubscribe = unsubscribe
	sess.setState(SessionSubscribed)
	l.sessions[sportID] = sess

	go sess.run()
	sess.notify(models.ChangeEvent{SportID: sportID, Kind: models.ChangeResync})
	l.logger.Debug("live session started", slog.Int("sport_id", sportID))
	return sess, nil
}

func (l *LiveSync) leave(sess *liveSession, viewerID int) {
	l.mu.Lock()
	last := sess.removeViewer(viewerID)
	if last && l.sessions[sess.sportID] == sess {
		delete(l.sessions, sess.sportID)
	}
	l.mu.Unlock()

	if last {
		sess.stop()
		l.logger.Debug("live session ended", slog.Int("sport_id", sess.sportID))
	}
}

type liveSession struct {
	sportID int
	owner   *LiveSync

	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	signal      chan struct{}
	limiter     *rate.Limiter
	unsubscribe func()
	stopOnce    sync.Once

	// deliverMu orders deliveries: a joining viewer gets the latest snapshot
	// before any newer one.
	deliverMu sync.Mutex

	mu         sync.Mutex
	state      SessionState
	viewers    map[int]func(*Snapshot)
	nextViewer int
	last       *Snapshot
	lastGood   *Snapshot
	seq        uint64
}

func newLiveSession(sportID int, owner *LiveSync) *liveSession {
	ctx, cancel := context.WithCancel(context.Background())
	limit := rate.Inf
	if owner.cfg.MinPublishInterval > 0 {
		limit = rate.Every(owner.cfg.MinPublishInterval)
	}
	return &liveSession{
		sportID: sportID,
		owner:   owner,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		signal:  make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
		state:   SessionIdle,
		viewers: make(map[int]func(*Snapshot)),
	}
}

// notify records that the sport changed. Pending notifications collapse into
// one.
func (s *liveSession) notify(models.ChangeEvent) {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *liveSession) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.signal:
		}

		if !s.settle() {
			return
		}
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
		// Everything signalled so far is covered by the read below.
		select {
		case <-s.signal:
		default:
		}

		s.setState(SessionRecomputing)
		snap := s.recompute()
		if snap == nil {
			return
		}
		s.setState(SessionPublishing)
		s.publish(snap)
		s.setState(SessionSubscribed)
	}
}

// settle waits out the debounce window, absorbing notifications that arrive
// during it. It reports false when the session ended.
func (s *liveSession) settle() bool {
	window := s.owner.cfg.Debounce
	if window <= 0 {
		return s.ctx.Err() == nil
	}
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return false
		case <-s.signal:
		case <-timer.C:
			return true
		}
	}
}

// recompute loads a fresh snapshot within the recompute timeout. Failures
// produce a degraded snapshot; nil means the session ended.
func (s *liveSession) recompute() *Snapshot {
	ctx, cancel := context.WithTimeout(s.ctx, s.owner.cfg.RecomputeTimeout)
	defer cancel()

	type loaded struct {
		snap *Snapshot
		err  error
	}
	result := make(chan loaded, 1)
	go func() {
		snap, err := s.owner.load(ctx, s.sportID)
		result <- loaded{snap: snap, err: err}
	}()

	var r loaded
	select {
	case r = <-result:
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	switch {
	case s.ctx.Err() != nil:
		return nil
	case r.err == nil && r.snap != nil:
		return r.snap
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.owner.logger.Warn("bracket recompute timed out",
			slog.Int("sport_id", s.sportID),
			slog.Duration("timeout", s.owner.cfg.RecomputeTimeout),
		)
		return degradedFrom(s.lastGoodSnapshot(), s.sportID, StatusTimeout, "bracket recompute timed out", s.owner.now())
	default:
		if r.err == nil {
			r.err = errors.New("loader returned no snapshot")
		}
		s.owner.logger.Error("bracket recompute failed", slog.Int("sport_id", s.sportID), slog.Any("error", r.err))
		lastGood := s.lastGoodSnapshot()
		if lastGood == nil {
			return degradedFrom(nil, s.sportID, StatusUnavailable, "bracket data unavailable", s.owner.now())
		}
		return degradedFrom(lastGood, s.sportID, StatusStale, "bracket data unavailable, showing last known state", s.owner.now())
	}
}

func (s *liveSession) publish(snap *Snapshot) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	s.seq++
	snap.Sequence = s.seq
	s.last = snap
	if snap.Status == StatusOK {
		s.lastGood = snap
	}
	handlers := s.handlersLocked()
	s.mu.Unlock()

	for _, h := range handlers {
		h(snap)
	}
}

func (s *liveSession) join(handler func(*Snapshot)) (int, bool) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.state == SessionUnsubscribed {
		s.mu.Unlock()
		return 0, false
	}
	s.nextViewer++
	id := s.nextViewer
	s.viewers[id] = handler
	last := s.last
	s.mu.Unlock()

	if last != nil {
		handler(last)
	}
	return id, true
}

// removeViewer reports whether the viewer was the last one, in which case
// the session is now unsubscribed.
func (s *liveSession) removeViewer(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.viewers[id]; !ok {
		return false
	}
	delete(s.viewers, id)
	if len(s.viewers) > 0 {
		return false
	}
	s.state = SessionUnsubscribed
	return true
}

func (s *liveSession) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = SessionUnsubscribed
		s.mu.Unlock()
		s.cancel()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

func (s *liveSession) handlersLocked() []func(*Snapshot) {
	ids := make([]int, 0, len(s.viewers))
	for id := range s.viewers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(*Snapshot), len(ids))
	for i, id := range ids {
		out[i] = s.viewers[id]
	}
	return out
}

func (s *liveSession) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionUnsubscribed {
		s.state = state
	}
}

func (s *liveSession) currentState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *liveSession) lastGoodSnapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGood
}
