package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/league-portal/models"
)

type fakeConn struct {
	closed atomic.Int32
}

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	sent [][]byte
}

func (p *fakePublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg.Body)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fakeSession struct {
	conn       *fakeConn
	publisher  *fakePublisher
	deliveries chan amqp.Delivery
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
}

// fakeBroker hands out sessions whose channels the test drives directly.
type fakeBroker struct {
	failures atomic.Int32
	attempts atomic.Int32
	opened   chan *fakeSession
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{opened: make(chan *fakeSession, 8)}
}

func (b *fakeBroker) connect() (*amqpSession, error) {
	b.attempts.Add(1)
	if b.failures.Load() > 0 {
		b.failures.Add(-1)
		return nil, errors.New("connection refused")
	}
	s := &fakeSession{
		conn:       &fakeConn{},
		publisher:  &fakePublisher{},
		deliveries: make(chan amqp.Delivery, 4),
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
	}
	b.opened <- s
	return &amqpSession{
		conn:       s.conn,
		channel:    s.publisher,
		deliveries: s.deliveries,
		connClosed: s.connClosed,
		chanClosed: s.chanClosed,
	}, nil
}

func (b *fakeBroker) nextSession(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case s := <-b.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not connect")
		return nil
	}
}

func startTestAMQPFeed(t *testing.T) (*AMQPFeed, *fakeBroker, *fakeSession) {
	t.Helper()
	broker := newFakeBroker()
	f := newAMQPFeed("bracket.changes", ReconnectConfig{
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}, testLogger(), broker.connect)
	require.NoError(t, f.start())
	t.Cleanup(func() { f.Close() })
	return f, broker, broker.nextSession(t)
}

func subscribeEvents(t *testing.T, f Feed, sportID int) <-chan models.ChangeEvent {
	t.Helper()
	ch := make(chan models.ChangeEvent, 16)
	_, err := f.Subscribe(sportID, func(ev models.ChangeEvent) { ch <- ev })
	require.NoError(t, err)
	return ch
}

func nextEvent(t *testing.T, ch <-chan models.ChangeEvent) models.ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no change event delivered")
		return models.ChangeEvent{}
	}
}

func delivery(t *testing.T, ev models.ChangeEvent) amqp.Delivery {
	t.Helper()
	body, err := encodeChange(ev)
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

func TestAMQPFeed_DispatchesDeliveries(t *testing.T) {
	f, _, sess := startTestAMQPFeed(t)
	changes := subscribeEvents(t, f, 3)

	sess.deliveries <- amqp.Delivery{Body: []byte("garbage")}
	sess.deliveries <- delivery(t, models.ChangeEvent{SportID: 3, MatchIDs: []int{7}, Kind: models.ChangeScoreUpdated})

	ev := nextEvent(t, changes)
	assert.Equal(t, models.ChangeScoreUpdated, ev.Kind)
	assert.Equal(t, []int{7}, ev.MatchIDs)

	require.NoError(t, f.Publish(context.Background(), models.ChangeEvent{SportID: 3, Kind: models.ChangeScoreCleared}))
	assert.Equal(t, 1, sess.publisher.count())
}

func TestAMQPFeed_ChannelCloseReconnectsAndResyncs(t *testing.T) {
	f, broker, first := startTestAMQPFeed(t)
	changes := subscribeEvents(t, f, 3)

	// The broker kills the channel but keeps the connection.
	first.chanClosed <- &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED"}

	second := broker.nextSession(t)
	assert.Equal(t, models.ChangeResync, nextEvent(t, changes).Kind)
	assert.Equal(t, int32(1), first.conn.closed.Load())

	second.deliveries <- delivery(t, models.ChangeEvent{SportID: 3, Kind: models.ChangeTeamsUpdated})
	assert.Equal(t, models.ChangeTeamsUpdated, nextEvent(t, changes).Kind)

	require.NoError(t, f.Publish(context.Background(), models.ChangeEvent{SportID: 3, Kind: models.ChangeScoreUpdated}))
	assert.Equal(t, 0, first.publisher.count())
	assert.Equal(t, 1, second.publisher.count())
}

func TestAMQPFeed_EndedDeliveryStreamReconnects(t *testing.T) {
	f, broker, first := startTestAMQPFeed(t)
	changes := subscribeEvents(t, f, 5)

	broker.failures.Store(2)
	close(first.deliveries)

	second := broker.nextSession(t)
	assert.Equal(t, models.ChangeResync, nextEvent(t, changes).Kind)
	assert.Equal(t, int32(4), broker.attempts.Load())

	second.deliveries <- delivery(t, models.ChangeEvent{SportID: 5, Kind: models.ChangeScoreUpdated})
	assert.Equal(t, models.ChangeScoreUpdated, nextEvent(t, changes).Kind)
}

func TestAMQPFeed_ConnectionCloseReconnects(t *testing.T) {
	f, broker, first := startTestAMQPFeed(t)
	changes := subscribeEvents(t, f, 2)

	close(first.connClosed)

	broker.nextSession(t)
	assert.Equal(t, models.ChangeResync, nextEvent(t, changes).Kind)
}

func TestAMQPFeed_CloseStopsWithoutReconnecting(t *testing.T) {
	f, broker, sess := startTestAMQPFeed(t)

	require.NoError(t, f.Close())
	close(sess.deliveries)

	assert.Equal(t, int32(1), sess.conn.closed.Load())
	assert.Never(t, func() bool { return broker.attempts.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.ErrorIs(t, f.Publish(context.Background(), models.ChangeEvent{SportID: 1}), ErrFeedClosed)
}
