package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/Dosada05/league-portal/models"
)

// ReconnectConfig controls how the AMQP feed retries a lost broker connection.
type ReconnectConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
	}
}

// AMQPFeed broadcasts change events through a fanout exchange. Each process
// consumes from its own exclusive queue, so a publisher also receives its own
// events through the broker.
type AMQPFeed struct {
	exchange  string
	reconnect ReconnectConfig
	connect   func() (*amqpSession, error)
	registry  *registry
	logger    *slog.Logger

	mu      sync.Mutex
	conn    io.Closer
	channel amqpPublisher

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type amqpPublisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// amqpSession is one connection with its consuming channel. Either close
// notification or the end of deliveries means the session is gone.
type amqpSession struct {
	conn       io.Closer
	channel    amqpPublisher
	deliveries <-chan amqp.Delivery
	connClosed <-chan *amqp.Error
	chanClosed <-chan *amqp.Error
}

func NewAMQPFeed(url, exchange string, reconnect ReconnectConfig, logger *slog.Logger) (*AMQPFeed, error) {
	if exchange == "" {
		return nil, errors.New("amqp exchange name is required")
	}
	f := newAMQPFeed(exchange, reconnect, logger, nil)
	f.connect = func() (*amqpSession, error) { return dialAndConsume(url, exchange) }
	if err := f.start(); err != nil {
		return nil, fmt.Errorf("initial amqp connection failed: %w", err)
	}
	return f, nil
}

func newAMQPFeed(exchange string, reconnect ReconnectConfig, logger *slog.Logger, connect func() (*amqpSession, error)) *AMQPFeed {
	return &AMQPFeed{
		exchange:  exchange,
		reconnect: reconnect,
		connect:   connect,
		registry:  newRegistry(),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

func (f *AMQPFeed) start() error {
	sess, err := f.open()
	if err != nil {
		return err
	}
	f.wg.Add(1)
	go f.run(sess)
	return nil
}

func (f *AMQPFeed) Publish(ctx context.Context, event models.ChangeEvent) error {
	body, err := encodeChange(event)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channel == nil {
		return fmt.Errorf("%w: amqp channel not connected", ErrFeedClosed)
	}
	err = f.channel.Publish(f.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   event.At,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish change for sport %d: %w", event.SportID, err)
	}
	return nil
}

func (f *AMQPFeed) Subscribe(sportID int, handler func(models.ChangeEvent)) (func(), error) {
	return f.registry.add(sportID, handler)
}

func (f *AMQPFeed) Resync(sportID int) {
	f.registry.resyncSport(sportID, time.Now().UTC())
}

func (f *AMQPFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		if f.conn != nil {
			err = f.conn.Close()
		}
		f.channel = nil
		f.mu.Unlock()
		f.wg.Wait()
		f.registry.close()
	})
	return err
}

// open connects and makes the new session the one Publish uses.
func (f *AMQPFeed) open() (*amqpSession, error) {
	sess, err := f.connect()
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.conn = sess.conn
	f.channel = sess.channel
	f.mu.Unlock()
	return sess, nil
}

// dialAndConsume dials the broker, declares the exchange and binds a fresh
// exclusive queue to it.
func dialAndConsume(url, exchange string) (*amqpSession, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: 30 * time.Second, Locale: "en_US"})
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	if err := channel.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	queue, err := channel.QueueDeclare(
		"",    // name (auto-generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, "", exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}
	deliveries, err := channel.Consume(
		queue.Name,
		"",    // consumer
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to consume: %w", err)
	}

	return &amqpSession{
		conn:       conn,
		channel:    channel,
		deliveries: deliveries,
		connClosed: conn.NotifyClose(make(chan *amqp.Error, 1)),
		chanClosed: channel.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

// run consumes until the feed is closed. A lost session is replaced and
// every subscribed sport is told to resync, since messages may be missed.
func (f *AMQPFeed) run(sess *amqpSession) {
	defer f.wg.Done()
	for {
		lost := f.consume(sess)
		if lost == nil {
			return
		}
		f.logger.Error("amqp change feed interrupted", slog.String("exchange", f.exchange), slog.Any("error", lost))
		// A channel exception leaves the connection open.
		sess.conn.Close()

		var ok bool
		if sess, ok = f.reconnectLoop(); !ok {
			return
		}
		f.registry.resync(time.Now().UTC())
	}
}

// consume dispatches deliveries until the session ends. It returns nil when
// the feed itself is closing.
func (f *AMQPFeed) consume(sess *amqpSession) error {
	for {
		var lost error
		select {
		case <-f.done:
			return nil
		case d, ok := <-sess.deliveries:
			if ok {
				ev, err := decodeChange(d.Body)
				if err != nil {
					f.logger.Warn("dropping malformed change message", slog.Any("error", err))
					continue
				}
				f.registry.dispatch(ev)
				continue
			}
			lost = errors.New("delivery stream ended")
		case err := <-sess.connClosed:
			lost = closeReason("connection", err)
		case err := <-sess.chanClosed:
			lost = closeReason("channel", err)
		}

		select {
		case <-f.done:
			return nil
		default:
			return lost
		}
	}
}

func closeReason(what string, err *amqp.Error) error {
	if err == nil {
		return fmt.Errorf("amqp %s closed", what)
	}
	return fmt.Errorf("amqp %s closed: %w", what, err)
}

func (f *AMQPFeed) reconnectLoop() (*amqpSession, bool) {
	f.mu.Lock()
	f.channel = nil
	f.mu.Unlock()

	delay := f.reconnect.InitialDelay
	for attempt := 1; ; attempt++ {
		f.logger.Info("reconnecting amqp change feed", slog.Int("attempt", attempt), slog.Duration("delay", delay))
		select {
		case <-f.done:
			return nil, false
		case <-time.After(delay):
		}

		sess, err := f.open()
		if err == nil {
			f.logger.Info("amqp change feed reconnected", slog.String("exchange", f.exchange))
			return sess, true
		}
		f.logger.Error("amqp reconnect failed", slog.Any("error", err))
		delay = time.Duration(float64(delay) * f.reconnect.BackoffFactor)
		if delay > f.reconnect.MaxDelay {
			delay = f.reconnect.MaxDelay
		}
	}
}
