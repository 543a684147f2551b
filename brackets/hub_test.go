package brackets

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoomFeed struct {
	mu        sync.Mutex
	opened    map[string]int
	cancelled map[string]int
	publish   map[string]func(any)
}

func newFakeRoomFeed() *fakeRoomFeed {
	return &fakeRoomFeed{
		opened:    make(map[string]int),
		cancelled: make(map[string]int),
		publish:   make(map[string]func(any)),
	}
}

func (f *fakeRoomFeed) SubscribeRoom(room string, publish func(any)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened[room]++
	f.publish[room] = publish
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancelled[room]++
	}, nil
}

func (f *fakeRoomFeed) counts(room string) (opened, cancelled int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[room], f.cancelled[room]
}

func (f *fakeRoomFeed) send(room string, msg any) {
	f.mu.Lock()
	publish := f.publish[room]
	f.mu.Unlock()
	publish(msg)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, c *Client) WebSocketMessage {
	t.Helper()
	select {
	case raw := <-c.Send:
		var msg WebSocketMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return WebSocketMessage{}
	}
}

func TestHub_RoomLifecycle(t *testing.T) {
	feed := newFakeRoomFeed()
	hub := NewHub(feed, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	room := SportRoom(3)
	first := &Client{Hub: hub, Send: make(chan []byte, 4), Room: room}
	require.True(t, hub.Join(first))

	assert.Eventually(t, func() bool {
		opened, _ := feed.counts(room)
		return opened == 1
	}, time.Second, 5*time.Millisecond)

	feed.send(room, WebSocketMessage{Type: MessageBracketSnapshot, Payload: "v1", RoomID: room})
	assert.Equal(t, "v1", receive(t, first).Payload)

	second := &Client{Hub: hub, Send: make(chan []byte, 4), Room: room}
	require.True(t, hub.Join(second))
	late := receive(t, second)
	assert.Equal(t, MessageBracketSnapshot, late.Type)
	assert.Equal(t, "v1", late.Payload)
	assert.Equal(t, 2, hub.ClientCount(room))

	hub.Leave(first)
	_, cancelled := feed.counts(room)
	assert.Equal(t, 0, cancelled)

	hub.Leave(second)
	assert.Eventually(t, func() bool {
		_, cancelled := feed.counts(room)
		return cancelled == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount(room))

	_, open := <-second.Send
	assert.False(t, open)
}

func TestHub_StopsOnContextCancel(t *testing.T) {
	feed := newFakeRoomFeed()
	hub := NewHub(feed, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := &Client{Hub: hub, Send: make(chan []byte, 1), Room: SportRoom(1)}
	require.True(t, hub.Join(client))
	cancel()
	<-done

	assert.False(t, hub.Join(&Client{Hub: hub, Send: make(chan []byte, 1), Room: SportRoom(1)}))
	hub.Leave(client)
	_, open := <-client.Send
	assert.False(t, open)
}

func TestClient_TrySendKeepsNewest(t *testing.T) {
	c := &Client{Send: make(chan []byte, 1)}

	c.trySend([]byte("old"))
	c.trySend([]byte("new"))

	assert.Equal(t, "new", string(<-c.Send))
}

func TestSportRoom(t *testing.T) {
	assert.Equal(t, "sport_42", SportRoom(42))

	id, err := SportIDFromRoom("sport_42")
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	_, err = SportIDFromRoom("tournament_42")
	assert.Error(t, err)
	_, err = SportIDFromRoom("sport_x")
	assert.Error(t, err)
}
