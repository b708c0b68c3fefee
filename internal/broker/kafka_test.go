package broker

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueReader struct {
	queue     []kafka.Message
	committed []int64
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(r.queue) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *queueReader) Close() error { return nil }

func TestStartConsumingCommitsOnlyHandledMessages(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte("a")},
		{Offset: 2, Value: []byte("fail")},
		{Offset: 3, Value: []byte("c")},
	}}
	consumer := NewConsumerWithReader(reader, "fulfillment-notifications", "payment-initiator")

	var seen []string
	err := consumer.StartConsuming(context.Background(), func(_ context.Context, msg kafka.Message) error {
		seen = append(seen, string(msg.Value))
		if string(msg.Value) == "fail" {
			return errors.New("handler failed")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "fail", "c"}, seen)
	assert.Equal(t, []int64{1, 3}, reader.committed)
}

func TestStartConsumingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	consumer := NewConsumerWithReader(&queueReader{}, "t", "g")
	err := consumer.StartConsuming(ctx, func(context.Context, kafka.Message) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProducerClose(t *testing.T) {
	writer := &memoryWriter{}
	producer := NewProducerWithWriter(writer, "t")
	assert.Equal(t, "t", producer.Topic())
	require.NoError(t, producer.Close())
	assert.True(t, writer.closed)
}
