package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rpggio/atelier/internal/domain/operation"
	"github.com/rpggio/atelier/internal/domain/session"
	"github.com/rpggio/atelier/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func closeDispatcher(t *testing.T, d *events.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatcher_PublishesOperation(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg events.Message
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		assert.Equal(t, session.EventOperationApplied, msg.Type)
		assert.Equal(t, "s1", msg.SessionID)
		assert.Equal(t, "op1", msg.OperationID)

		var op operation.Operation
		if err := json.Unmarshal(msg.Operation, &op); err != nil {
			return err
		}
		assert.Equal(t, "sunset", op.Data()["value"])
		return nil
	})

	d := events.NewDispatcher(producer, "atelier.events", events.Options{Workers: 1}, nil)
	err := d.Notify(context.Background(), session.Event{
		Type:      session.EventOperationApplied,
		SessionID: "s1",
		UserID:    "u1",
		Timestamp: time.Now(),
		Operation: &operation.Operation{
			ID:       "op1",
			TargetID: operation.TargetTheme,
			Payload:  operation.Update{Fields: map[string]any{"value": "sunset"}},
			Applied:  true,
		},
	})
	require.NoError(t, err)

	closeDispatcher(t, d)
	require.NoError(t, producer.Close())
}

func TestDispatcher_RetriesFailedSend(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndSucceed()

	d := events.NewDispatcher(producer, "atelier.events", events.Options{
		Workers:     1,
		MaxRetry:    2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, nil)
	require.NoError(t, d.Notify(context.Background(), session.Event{
		Type:      session.EventUserJoined,
		SessionID: "s1",
		UserID:    "u2",
	}))

	closeDispatcher(t, d)
	require.NoError(t, producer.Close())
}

func TestDispatcher_GivesUpAfterMaxRetry(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	d := events.NewDispatcher(producer, "atelier.events", events.Options{
		Workers:     1,
		MaxRetry:    1,
		BaseBackoff: time.Millisecond,
	}, nil)
	require.NoError(t, d.Notify(context.Background(), session.Event{Type: session.EventUserLeft, SessionID: "s1"}))

	closeDispatcher(t, d)
	require.NoError(t, producer.Close())
}

type blockingProducer struct {
	sarama.SyncProducer
	release chan struct{}
}

func (p *blockingProducer) SendMessage(*sarama.ProducerMessage) (int32, int64, error) {
	<-p.release
	return 0, 0, nil
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	producer := &blockingProducer{release: make(chan struct{})}
	d := events.NewDispatcher(producer, "atelier.events", events.Options{Workers: 1, QueueSize: 1}, nil)
	ctx := context.Background()

	var full bool
	for i := 0; i < 10; i++ {
		if err := d.Notify(ctx, session.Event{Type: session.EventUserJoined, SessionID: "s1"}); err != nil {
			require.ErrorIs(t, err, events.ErrQueueFull)
			full = true
			break
		}
	}
	assert.True(t, full)

	close(producer.release)
	closeDispatcher(t, d)

	err := d.Notify(ctx, session.Event{Type: session.EventUserJoined, SessionID: "s1"})
	require.ErrorIs(t, err, events.ErrClosed)
}

func TestDispatcher_ObservesEngine(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed() // session_created
	producer.ExpectSendMessageAndSucceed() // user_joined
	producer.ExpectSendMessageAndSucceed() // operation_applied

	d := events.NewDispatcher(producer, "atelier.events", events.Options{Workers: 1}, nil)
	engine := session.NewEngine(nil, session.Options{Observers: []session.Subscriber{d}}, nil)
	ctx := context.Background()

	sessionID, err := engine.CreateSession(ctx, "Studio", "owner", "Olive", nil)
	require.NoError(t, err)
	require.NoError(t, engine.JoinSession(ctx, sessionID, "u2", "Bea"))
	_, err = engine.AddComment(ctx, "u2", "canvas", "nice")
	require.NoError(t, err)

	closeDispatcher(t, d)
	require.NoError(t, producer.Close())
}

func TestDispatcher_BreakerStopsSendsAfterFailures(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	d := events.NewDispatcher(producer, "atelier.events", events.Options{
		Workers:         1,
		MaxRetry:        0,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	}, nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Notify(context.Background(), session.Event{Type: session.EventUserJoined, SessionID: "s1"}))
	}

	// Only the first two events reach the producer; the open breaker drops the rest.
	closeDispatcher(t, d)
	require.NoError(t, producer.Close())
}

func TestDispatcher_CloseStopsWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()

	d := events.NewDispatcher(producer, "atelier.events", events.Options{Workers: 4}, nil)
	require.NoError(t, d.Notify(context.Background(), session.Event{Type: session.EventSessionCreated, SessionID: "s1"}))

	closeDispatcher(t, d)
	require.NoError(t, producer.Close())
}
