// Package consumer reads Kafka topics and hands each new event to a Handler.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox is satisfied by *inbox.Repository.
type Inbox interface {
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// MessageReader is satisfied by *kafka.Reader. Offsets are committed only
// after a message has been processed or given up on.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader   MessageReader
	logger   *slog.Logger
	inbox    Inbox
	handler  Handler
	attempts int
	backoff  time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, inboxRepo Inbox, cfg Config, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kafkax.SplitBrokers(cfg.Brokers),
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
	return NewWithReader(logger, inboxRepo, reader, handler)
}

func NewWithReader(logger *slog.Logger, inboxRepo Inbox, reader MessageReader, handler Handler) *Consumer {
	return &Consumer{
		reader:   reader,
		logger:   logger.With("component", "consumer"),
		inbox:    inboxRepo,
		handler:  handler,
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
}

// Run fetches until ctx is cancelled. A message that keeps failing is
// retried a few times and then committed so the partition keeps moving.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch failed", "err", err)
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}

		for attempt := 1; ; attempt++ {
			err = c.Process(ctx, msg)
			if err == nil || attempt >= c.attempts || ctx.Err() != nil {
				break
			}
			if !sleep(ctx, time.Duration(attempt)*c.backoff) {
				return
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("giving up on message", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

// Process claims the event in the inbox and runs the handler at most once
// per event id. A failed handler releases the claim so a retry can run.
func (c *Consumer) Process(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	ctx, span := otel.Tracer("kafka").Start(kafkax.ExtractTraceContext(ctx, msg), "consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message.id", meta.EventID),
		),
	)
	defer span.End()

	fail := func(msgText string, err error) error {
		c.logger.Error(msgText, "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	fresh, err := c.inbox.Record(ctx, meta.EventID, meta.EventType)
	if err != nil {
		return fail("inbox claim failed", err)
	}
	if !fresh {
		c.logger.Debug("duplicate event skipped", "event_id", meta.EventID)
		return nil
	}

	if err := c.handler(ctx, msg); err != nil {
		if relErr := c.inbox.Release(ctx, meta.EventID); relErr != nil {
			c.logger.Warn("inbox release failed", "err", relErr, "event_id", meta.EventID)
		}
		return fail("event handler failed", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
