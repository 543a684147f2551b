package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/league-portal/brackets"
	"github.com/Dosada05/league-portal/events"
	"github.com/Dosada05/league-portal/middleware"
	"github.com/Dosada05/league-portal/models"
	"github.com/Dosada05/league-portal/repositories"
	"github.com/Dosada05/league-portal/services"
)

const (
	testSecret = "handler-secret"
	sport      = 5
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	router  chi.Router
	service services.BracketService
	store   *repositories.MemoryMatchStore
	hub     *brackets.Hub
}

// newTestServer serves a four-team bracket: matches 1 and 2 feed final 3.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := testLogger()

	store := repositories.NewMemoryMatchStore(events.NewMemoryFeed(logger), logger)
	require.NoError(t, store.Seed(
		models.Match{ID: 1, SportID: sport, RoundID: 0, MatchOrder: 0, Team1ID: models.IntPtr(1), Team2ID: models.IntPtr(2)},
		models.Match{ID: 2, SportID: sport, RoundID: 0, MatchOrder: 1, Team1ID: models.IntPtr(3), Team2ID: models.IntPtr(4)},
		models.Match{ID: 3, SportID: sport, RoundID: 1, MatchOrder: 0, ParentMatch1ID: models.IntPtr(1), ParentMatch2ID: models.IntPtr(2)},
	))
	teams := repositories.NewMemoryTeamRepository(
		models.Team{ID: 1, SportID: sport, ClubID: 1, Name: "Owls"},
		models.Team{ID: 2, SportID: sport, ClubID: 2, Name: "Foxes"},
		models.Team{ID: 3, SportID: sport, ClubID: 3, Name: "Hawks"},
		models.Team{ID: 4, SportID: sport, ClubID: 4, Name: "Bears"},
	)
	svc := services.NewBracketService(store, teams, nil, services.BracketServiceConfig{
		RetryAttempts: 3,
		Live:          services.LiveSyncConfig{RecomputeTimeout: time.Second},
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	hub := brackets.NewHub(NewLiveRoomFeed(svc), logger)
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		svc.Close()
	})

	bh := NewBracketHandler(svc, logger)
	wh := NewWebSocketHandler(hub, []string{"*"}, logger)
	auth := middleware.NewAuthenticator(testSecret, logger)

	r := chi.NewRouter()
	r.Get("/healthz", bh.Health)
	r.Get("/ws/sports/{sportID}", wh.ServeWs)
	r.Get("/api/sports/{sportID}/bracket", bh.GetBracket)
	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate)
		r.With(middleware.RequireRole(models.RoleAdmin, models.RoleOrganizer, models.RoleReferee)).
			Post("/api/matches/{matchID}/score", bh.SubmitScore)
		r.With(middleware.RequireRole(models.RoleAdmin)).
			Post("/api/sports/{sportID}/bracket/reconcile", bh.ReconcileBracket)
	})

	return &testServer{router: r, service: svc, store: store, hub: hub}
}

func bearer(t *testing.T, role models.UserRole) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 12,
		"role":    string(role),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func (s *testServer) do(t *testing.T, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestGetBracket(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/sports/5/bracket", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap services.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, services.StatusOK, snap.Status)
	require.Len(t, snap.Rounds, 2)
	assert.Equal(t, "Owls", snap.Rounds[0].Matches[0].Team1.Name)
	assert.True(t, snap.Final().Team1.TBD)

	rec = s.do(t, http.MethodGet, "/api/sports/abc/bracket", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitScore(t *testing.T) {
	s := newTestServer(t)
	referee := bearer(t, models.RoleReferee)

	rec := s.do(t, http.MethodPost, "/api/matches/1/score", referee, `{"team1_score":3,"team2_score":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res services.ScoreResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, brackets.OutcomeDecided, res.Outcome)
	assert.Equal(t, []int{1, 3}, res.AffectedMatches)
	require.NotNil(t, res.WinnerTeamID)
	assert.Equal(t, 1, *res.WinnerTeamID)

	rec = s.do(t, http.MethodPost, "/api/matches/2/score", referee, `{"team1_score":2,"team2_score":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outcome":"tie_unresolved"`)
	assert.Contains(t, rec.Body.String(), "awaiting tie-break")
}

func TestSubmitScore_Errors(t *testing.T) {
	s := newTestServer(t)
	referee := bearer(t, models.RoleReferee)

	tests := []struct {
		name   string
		path   string
		auth   string
		body   string
		status int
	}{
		{"no token", "/api/matches/1/score", "", `{"team1_score":1,"team2_score":0}`, http.StatusUnauthorized},
		{"missing score", "/api/matches/1/score", referee, `{"team1_score":1}`, http.StatusBadRequest},
		{"unknown field", "/api/matches/1/score", referee, `{"team1_score":1,"team2_score":0,"x":1}`, http.StatusBadRequest},
		{"empty body", "/api/matches/1/score", referee, ``, http.StatusBadRequest},
		{"negative score", "/api/matches/1/score", referee, `{"team1_score":-1,"team2_score":0}`, http.StatusBadRequest},
		{"unknown match", "/api/matches/99/score", referee, `{"team1_score":1,"team2_score":0}`, http.StatusNotFound},
		{"final not ready", "/api/matches/3/score", referee, `{"team1_score":1,"team2_score":0}`, http.StatusConflict},
		{"bad id", "/api/matches/0/score", referee, `{"team1_score":1,"team2_score":0}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.auth, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestReconcileRequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/sports/5/bracket/reconcile", bearer(t, models.RoleReferee), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/sports/5/bracket/reconcile", bearer(t, models.RoleAdmin), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"outcome":"unchanged"`)
}

func TestMapServiceErrorToHTTP(t *testing.T) {
	rs := responder{logger: testLogger()}
	tests := []struct {
		err    error
		status int
	}{
		{services.ErrMatchNotFound, http.StatusNotFound},
		{services.ErrInvalidScore, http.StatusBadRequest},
		{services.ErrInvalidSportID, http.StatusBadRequest},
		{services.ErrMatchNotReady, http.StatusConflict},
		{services.ErrConcurrentWriteConflict, http.StatusConflict},
		{&brackets.StructuralError{SportID: 1, MatchID: 4, Reason: "orphan"}, http.StatusConflict},
		{services.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		rs.mapServiceErrorToHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
	}

	rec := httptest.NewRecorder()
	rs.mapServiceErrorToHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil),
		&brackets.StructuralError{SportID: 1, MatchID: 4, Reason: "orphan"})
	assert.Contains(t, rec.Body.String(), "bracket data inconsistent")
	assert.Contains(t, rec.Body.String(), `"match_id":4`)
}

func TestReadJSON_SingleValue(t *testing.T) {
	var dst SubmitScoreInput
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"team1_score":1,"team2_score":2}{}`))
	err := readJSON(httptest.NewRecorder(), req, &dst)
	assert.EqualError(t, err, "body must only contain a single JSON value")
}

func readSnapshot(t *testing.T, conn *websocket.Conn) services.Snapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    string            `json:"type"`
		RoomID  string            `json:"room_id"`
		Payload services.Snapshot `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, brackets.MessageBracketSnapshot, msg.Type)
	assert.Equal(t, brackets.SportRoom(sport), msg.RoomID)
	return msg.Payload
}

func TestServeWs_StreamsSnapshots(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sports/5"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readSnapshot(t, conn)
	assert.Equal(t, services.StatusOK, initial.Status)
	assert.True(t, initial.Final().Team1.TBD)

	_, err = s.service.SubmitScore(context.Background(), 1, 0, 2)
	require.NoError(t, err)

	var updated services.Snapshot
	for updated.Final() == nil || updated.Final().Team1.TBD {
		updated = readSnapshot(t, conn)
	}
	assert.Equal(t, "Foxes", updated.Final().Team1.Name)
	assert.Equal(t, 1, s.hub.ClientCount(brackets.SportRoom(sport)))
}

func TestLiveRoomFeed_RejectsForeignRooms(t *testing.T) {
	s := newTestServer(t)
	_, err := NewLiveRoomFeed(s.service).SubscribeRoom("tournament_1", func(any) {})
	assert.Error(t, err)
}
