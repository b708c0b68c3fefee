package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"fulfillment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps Kafka producer
type Producer struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

// ProducerOptions tunes the underlying kafka.Writer.
type ProducerOptions struct {
	// Async hands messages to the writer's batching loop and reports delivery
	// failures through the completion callback instead of the caller.
	Async        bool
	BatchTimeout time.Duration
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string, opts ProducerOptions) *Producer {
	logger := util.GetLogger().With(zap.String("topic", topic))

	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: opts.BatchTimeout,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		Async:        opts.Async,
	}
	if opts.Async {
		writer.Completion = func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, msg := range messages {
				logger.Error("Async event delivery failed",
					zap.String("key", string(msg.Key)),
					zap.Error(err))
			}
		}
	}

	return NewProducerWithWriter(writer, topic)
}

// NewProducerWithWriter builds a producer around an existing writer.
func NewProducerWithWriter(writer MessageWriter, topic string) *Producer {
	return &Producer{
		writer: writer,
		topic:  topic,
		logger: util.GetLogger().With(zap.String("topic", topic)),
	}
}

// PublishEvent publishes an event to Kafka
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	ctx, span := util.StartSpan(ctx, "kafka.publish")
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to %s: %w", p.topic, err)
	}

	p.logger.Debug("Event published", zap.String("key", key))
	return nil
}

func (p *Producer) Topic() string {
	return p.topic
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer wraps Kafka consumer
type Consumer struct {
	reader MessageReader
	topic  string
	logger *zap.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})

	return NewConsumerWithReader(reader, topic, groupID)
}

// NewConsumerWithReader builds a consumer around an existing reader.
func NewConsumerWithReader(reader MessageReader, topic, groupID string) *Consumer {
	return &Consumer{
		reader: reader,
		topic:  topic,
		logger: util.GetLogger().With(zap.String("topic", topic), zap.String("group", groupID)),
	}
}

// ConsumeMessage consumes a single message
func (c *Consumer) ConsumeMessage(ctx context.Context) (kafka.Message, error) {
	return c.reader.FetchMessage(ctx)
}

// CommitMessage commits a message offset
func (c *Consumer) CommitMessage(ctx context.Context, msg kafka.Message) error {
	return c.reader.CommitMessages(ctx, msg)
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler processes a message
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming consumes until ctx is cancelled. A message whose handler
// fails is left uncommitted so the group redelivers it after a rebalance.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Consumer started")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopped")
			return ctx.Err()
		default:
		}

		msg, err := c.ConsumeMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.logger.Info("Consumer stopped")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("Consumer closed")
				return nil
			}
			c.logger.Error("Error fetching message", zap.Error(err))
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Error("Error handling message",
				zap.Int64("offset", msg.Offset),
				zap.String("key", string(msg.Key)),
				zap.Error(err))
			continue
		}

		if err := c.CommitMessage(ctx, msg); err != nil {
			c.logger.Error("Error committing message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}
