package services

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Dosada05/league-portal/events"
	"github.com/Dosada05/league-portal/models"
	"github.com/Dosada05/league-portal/repositories"
	"github.com/Dosada05/league-portal/storage"
)

const (
	sport = 7
	teamA = 101
	teamB = 102
	teamC = 103
	teamD = 104
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fourTeamRows() []models.Match {
	return []models.Match{
		{ID: 1, SportID: sport, RoundID: 0, MatchOrder: 0, Team1ID: models.IntPtr(teamA), Team2ID: models.IntPtr(teamB)},
		{ID: 2, SportID: sport, RoundID: 0, MatchOrder: 1, Team1ID: models.IntPtr(teamC), Team2ID: models.IntPtr(teamD)},
		{ID: 3, SportID: sport, RoundID: 1, MatchOrder: 0, ParentMatch1ID: models.IntPtr(1), ParentMatch2ID: models.IntPtr(2)},
	}
}

func fourTeams() []models.Team {
	logo := "teams/a.png"
	return []models.Team{
		{ID: teamA, SportID: sport, ClubID: 11, Name: "A", LogoKey: &logo},
		{ID: teamB, SportID: sport, ClubID: 12, Name: "B"},
		{ID: teamC, SportID: sport, ClubID: 13, Name: "C"},
		{ID: teamD, SportID: sport, ClubID: 14, Name: "D"},
	}
}

type fixture struct {
	feed     *events.MemoryFeed
	store    *repositories.MemoryMatchStore
	teams    *repositories.MemoryTeamRepository
	uploader *fakeUploader
	svc      BracketService
}

func newFixture(t *testing.T, rows []models.Match, teams []models.Team) *fixture {
	t.Helper()
	f := &fixture{
		feed:     events.NewMemoryFeed(testLogger()),
		teams:    repositories.NewMemoryTeamRepository(teams...),
		uploader: newFakeUploader(),
	}
	f.store = repositories.NewMemoryMatchStore(f.feed, testLogger())
	require.NoError(t, f.store.Seed(rows...))

	f.svc = NewBracketService(f.store, f.teams, f.uploader, BracketServiceConfig{
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
		Points:        PlacementPoints{1: 100, 2: 70, 3: 40},
		Live:          LiveSyncConfig{RecomputeTimeout: time.Second},
	}, testLogger())
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) snapshot(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := f.svc.GetBracketSnapshot(context.Background(), sport)
	require.NoError(t, err)
	return snap
}

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	deletes []string
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: make(map[string][]byte)}
}

func (u *fakeUploader) Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*storage.UploadResult, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[key] = buf.Bytes()
	return &storage.UploadResult{Key: key, Location: u.GetPublicURL(key)}, nil
}

func (u *fakeUploader) Delete(ctx context.Context, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.objects, key)
	u.deletes = append(u.deletes, key)
	return nil
}

func (u *fakeUploader) GetPublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (u *fakeUploader) object(key string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	b, ok := u.objects[key]
	return b, ok
}

// flakyStore fails the first conflicts transactions with a write conflict.
type flakyStore struct {
	repositories.MatchStore
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (s *flakyStore) RunInTx(ctx context.Context, fn func(tx repositories.MatchTx) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.conflicts
	s.mu.Unlock()
	if fail {
		return repositories.ErrConcurrentWriteConflict
	}
	return s.MatchStore.RunInTx(ctx, fn)
}

// downStore reports the store as unavailable for reads.
type downStore struct {
	repositories.MatchStore
}

func (downStore) GetMatches(ctx context.Context, sportID int) ([]models.Match, error) {
	return nil, repositories.ErrStoreUnavailable
}
