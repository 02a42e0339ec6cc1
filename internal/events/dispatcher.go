// Package events publishes session events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/sony/gobreaker"
)

// ErrQueueFull is returned by Notify when the local queue has no room.
var ErrQueueFull = errors.New("event queue full")

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("dispatcher closed")

// Options configures a Dispatcher.
type Options struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// BreakerFailures consecutive failed sends open the circuit; while it is
	// open events are dropped without contacting the brokers.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.MaxRetry < 0 {
		o.MaxRetry = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = o.BaseBackoff
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	return o
}

// Message is the Kafka record value for one session event.
type Message struct {
	Type        session.EventType `json:"type"`
	SessionID   string            `json:"session_id"`
	UserID      string            `json:"user_id,omitempty"`
	UserName    string            `json:"user_name,omitempty"`
	OperationID string            `json:"operation_id,omitempty"`
	Operation   json.RawMessage   `json:"operation,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Dispatcher is an engine observer that queues events locally and sends
// them from background workers with bounded retry. Notify never blocks:
// when the queue is full the event is dropped.
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string
	opts     Options
	logger   *slog.Logger
	breaker  *gobreaker.CircuitBreaker

	queue chan Message

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(producer sarama.SyncProducer, topic string, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts = opts.withDefaults()
	d := &Dispatcher{
		producer: producer,
		topic:    topic,
		opts:     opts,
		logger:   logger,
		queue:    make(chan Message, opts.QueueSize),
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "kafka:" + topic,
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("kafka circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
	return d
}

// Notify enqueues ev for publishing.
func (d *Dispatcher) Notify(_ context.Context, ev session.Event) error {
	msg, err := messageFor(ev)
	if err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- msg:
		return nil
	default:
		d.logger.Warn("kafka queue full, dropping event",
			"session_id", ev.SessionID,
			"event", ev.Type)
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until queued events are sent or
// ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for msg := range d.queue {
		d.sendWithRetry(workerID, msg)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, msg Message) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.BaseBackoff
	b.MaxInterval = d.opts.MaxBackoff
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		_, err := d.breaker.Execute(func() (any, error) {
			return nil, d.sendOnce(msg)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(b, uint64(d.opts.MaxRetry)))
	if err != nil {
		d.logger.Error("kafka send failed, dropping event",
			"session_id", msg.SessionID,
			"event", msg.Type,
			"operation_id", msg.OperationID,
			"worker", workerID,
			"attempts", attempts,
			"error", err)
	}
}

func (d *Dispatcher) sendOnce(msg Message) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, _, err = d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(msg.SessionID),
		Value: sarama.ByteEncoder(b),
	})
	return err
}

func messageFor(ev session.Event) (Message, error) {
	msg := Message{
		Type:      ev.Type,
		SessionID: ev.SessionID,
		UserID:    ev.UserID,
		UserName:  ev.UserName,
		Timestamp: ev.Timestamp,
	}
	if ev.Operation != nil {
		raw, err := json.Marshal(ev.Operation)
		if err != nil {
			return Message{}, fmt.Errorf("encoding operation: %w", err)
		}
		msg.OperationID = ev.Operation.ID
		msg.Operation = raw
	}
	return msg, nil
}

// NewSyncProducer connects a synchronous producer with the acknowledgement
// settings the dispatcher expects.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting kafka: %w", err)
	}
	return producer, nil
}
