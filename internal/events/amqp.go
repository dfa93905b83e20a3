// ABOUTME: Mirrors live-update events to a RabbitMQ topic exchange for downstream consumers
// ABOUTME: A single worker drains a bounded queue; a supervisor redials with backoff when the broker drops

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

const (
	relayQueueSize      = 256
	relayPublishTimeout = 5 * time.Second
	reconnectBase       = time.Second
	reconnectCap        = 30 * time.Second
)

// errRelayDisconnected is returned by publishes attempted while redialing.
var errRelayDisconnected = errors.New("amqp relay disconnected")

// Envelope is the AMQP message body.
type Envelope struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	Room       string    `json:"room"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// RoutingKey is the topic key an event is published under.
func RoutingKey(name string) string {
	return "inbox." + name
}

type publishFunc func(ctx context.Context, key string, msg amqp091.Publishing) error

// redialFunc opens a fresh broker connection and returns its close
// notifications.
type redialFunc func() (<-chan *amqp091.Error, error)

// AMQPRelay is a Publisher that forwards events to a topic exchange.
// Events published while the broker is unreachable are dropped.
type AMQPRelay struct {
	mu   sync.RWMutex
	conn *amqp091.Connection
	url  string

	exchange string
	publish  publishFunc
	redial   redialFunc
	backoff  time.Duration
	healthy  atomic.Bool
	queue    chan *Event
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	logger   *slog.Logger
}

var _ Publisher = (*AMQPRelay)(nil)

// DialAMQPRelay connects to url, declares a durable topic exchange and
// starts the relay worker. A dropped connection is redialed in the
// background; Healthy reports false until it comes back.
func DialAMQPRelay(url, exchange string, logger *slog.Logger) (*AMQPRelay, error) {
	r := newAMQPRelay(exchange, nil, logger)
	r.url = url
	r.publish = r.publishOnConn
	r.redial = r.connect

	closed, err := r.connect()
	if err != nil {
		return nil, err
	}
	r.start()
	r.supervise(closed)
	return r, nil
}

func newAMQPRelay(exchange string, publish publishFunc, logger *slog.Logger) *AMQPRelay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &AMQPRelay{
		exchange: exchange,
		publish:  publish,
		backoff:  reconnectBase,
		queue:    make(chan *Event, relayQueueSize),
		done:     make(chan struct{}),
		logger:   logger.With("component", "amqp_relay"),
	}
	r.healthy.Store(true)
	return r
}

// connect dials the broker, declares the exchange and swaps in the new
// connection.
func (r *AMQPRelay) connect() (<-chan *amqp091.Error, error) {
	conn, err := amqp091.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(r.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", r.exchange, err)
	}

	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))
	r.mu.Lock()
	old := r.conn
	r.conn = conn
	r.mu.Unlock()
	if old != nil && !old.IsClosed() {
		_ = old.Close()
	}
	return closed, nil
}

// Healthy reports whether the broker connection is up.
func (r *AMQPRelay) Healthy() bool {
	return r.healthy.Load()
}

// supervise waits for the connection to drop and redials with jittered
// exponential backoff until it is back or the relay is closed.
func (r *AMQPRelay) supervise(closed <-chan *amqp091.Error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.done:
				return
			case amqpErr, ok := <-closed:
				if !ok {
					amqpErr = &amqp091.Error{Reason: "connection closed"}
				}
				r.healthy.Store(false)
				r.logger.Error("amqp connection lost, reconnecting", "error", amqpErr)

				var reopened bool
				closed, reopened = r.reconnect()
				if !reopened {
					return
				}
				r.healthy.Store(true)
				r.logger.Info("amqp connection restored")
			}
		}
	}()
}

func (r *AMQPRelay) reconnect() (<-chan *amqp091.Error, bool) {
	backoff := r.backoff
	limit := max(reconnectCap, r.backoff)
	for {
		closed, err := r.redial()
		if err == nil {
			return closed, true
		}
		wait := jittered(backoff, limit)
		r.logger.Warn("amqp reconnect failed", "error", err, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-r.done:
			timer.Stop()
			return nil, false
		case <-timer.C:
		}
		if backoff*2 <= limit {
			backoff *= 2
		}
	}
}

// jittered spreads base by up to 25% either way, capped at limit.
func jittered(base, limit time.Duration) time.Duration {
	delta := (rand.Float64()*2 - 1) * 0.25
	wait := time.Duration(float64(base) * (1 + delta))
	if wait <= 0 {
		wait = base
	}
	return min(wait, limit)
}

func (r *AMQPRelay) start() {
	r.wg.Add(1)
	go r.run()
}

// Publish enqueues ev. When the queue is full the event is dropped.
func (r *AMQPRelay) Publish(_ context.Context, ev *Event) {
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.queue <- ev:
	default:
		r.logger.Warn("amqp relay queue full, dropping event", "event", ev.Name)
	}
}

func (r *AMQPRelay) run() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.queue:
			r.send(ev)
		case <-r.done:
			// Drain what is already queued.
			for {
				select {
				case ev := <-r.queue:
					r.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *AMQPRelay) send(ev *Event) {
	msg, err := buildPublishing(ev, time.Now())
	if err != nil {
		r.logger.Error("encoding event for amqp", "event", ev.Name, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()

	key := RoutingKey(ev.Name)
	if err := r.publish(ctx, key, msg); err != nil {
		r.logger.Warn("amqp publish failed", "key", key, "error", err)
		return
	}
	r.logger.Debug("published", "key", key, "exchange", r.exchange)
}

func buildPublishing(ev *Event, now time.Time) (amqp091.Publishing, error) {
	id := uuid.NewString()
	body, err := json.Marshal(Envelope{
		ID:         id,
		Event:      ev.Name,
		Room:       ev.Room,
		OccurredAt: now.UTC(),
		Data:       ev.Payload,
	})
	if err != nil {
		return amqp091.Publishing{}, err
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    id,
		Timestamp:    now,
		Type:         ev.Name,
		Body:         body,
	}, nil
}

func (r *AMQPRelay) publishOnConn(ctx context.Context, key string, msg amqp091.Publishing) error {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return errRelayDisconnected
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.PublishWithContext(ctx, r.exchange, key, false, false, msg)
}

// Close stops the worker after draining queued events and closes the connection.
func (r *AMQPRelay) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.conn != nil && !r.conn.IsClosed() {
			err = r.conn.Close()
		}
	})
	return err
}
