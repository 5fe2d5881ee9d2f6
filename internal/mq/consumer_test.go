package mq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type ackCall struct {
	op      string
	requeue bool
}

type fakeAcknowledger struct {
	calls []ackCall
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.calls = append(a.calls, ackCall{op: "ack"})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.calls = append(a.calls, ackCall{op: "nack", requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.calls = append(a.calls, ackCall{op: "reject", requeue: requeue})
	return nil
}

func TestConsumerHandle(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		cancelled bool
		want      ackCall
	}{
		{"processed", nil, false, ackCall{op: "ack"}},
		{"rejected reading is dead-lettered", errors.New("timestamps are out of order"), false, ackCall{op: "nack"}},
		{"shutdown requeues", context.Canceled, true, ackCall{op: "nack", requeue: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancelled {
				cancel()
			}

			var got []byte
			c := &Consumer{
				logger: zap.NewNop(),
				messageProcessor: func(_ context.Context, body []byte) error {
					got = body
					return tt.err
				},
			}
			ack := &fakeAcknowledger{}
			c.handle(ctx, amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(`{"request_id":"r1"}`)})

			assert.Equal(t, `{"request_id":"r1"}`, string(got))
			require.Len(t, ack.calls, 1)
			assert.Equal(t, tt.want, ack.calls[0])
		})
	}
}

func TestNewConsumerRequiresProcessor(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{Logger: zap.NewNop()})
	require.Error(t, err)
}
