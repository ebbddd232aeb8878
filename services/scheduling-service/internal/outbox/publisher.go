package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/kafkax"
	"github.com/md-rashed-zaman/clinicsched/libs/metrics"
	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/segmentio/kafka-go"
)

// TxBeginner is satisfied by *db.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// Retention is how long published rows are kept. Zero disables purging.
	Retention time.Duration
}

// Publisher relays outbox rows to Kafka. A row is marked published in the
// transaction that claimed it, so a crash between write and commit
// republishes; consumers dedupe by event id.
type Publisher struct {
	db      TxBeginner
	repo    *Repository
	logger  *slog.Logger
	metrics *metrics.Collector
	cfg     PublisherConfig
	now     func() time.Time
}

func NewPublisher(db TxBeginner, repo *Repository, logger *slog.Logger, m *metrics.Collector, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		db:      db,
		repo:    repo,
		logger:  logger.With("component", "outbox"),
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	brokers := kafkax.SplitBrokers(p.cfg.Brokers)
	if len(brokers) == 0 {
		p.logger.Warn("outbox publisher not started: no kafka brokers")
		return
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	defer w.Close()

	poll := time.NewTicker(p.cfg.PollEvery)
	defer poll.Stop()
	var lastPurge time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
		}
		if err := p.Drain(ctx, w); err != nil && ctx.Err() == nil {
			p.logger.Error("outbox publish failed", "err", err)
		}
		if p.cfg.Retention > 0 && p.now().Sub(lastPurge) >= time.Hour {
			lastPurge = p.now()
			p.purge(ctx)
		}
	}
}

// Drain publishes full batches until the backlog is empty.
func (p *Publisher) Drain(ctx context.Context, w MessageWriter) error {
	for {
		n, err := p.PublishBatch(ctx, w)
		if err != nil || n < p.cfg.BatchSize {
			return err
		}
	}
}

// PublishBatch sends one batch and returns how many rows it covered.
func (p *Publisher) PublishBatch(ctx context.Context, w MessageWriter) (int, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch, err := p.repo.Claim(ctx, tx, p.cfg.BatchSize)
	if err != nil || len(batch) == 0 {
		return 0, err
	}

	msgs := make([]kafka.Message, len(batch))
	ids := make([]int64, len(batch))
	for i, rec := range batch {
		msgs[i] = Message(ctx, rec)
		ids[i] = rec.ID
	}
	if err := w.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	p.metrics.Published(len(batch))
	p.logger.Debug("outbox batch published", "count", len(batch), "oldest_age", p.now().Sub(batch[0].CreatedAt))
	return len(batch), nil
}

func (p *Publisher) purge(ctx context.Context) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		p.logger.Warn("outbox purge skipped", "err", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()
	n, err := p.repo.Purge(ctx, tx, p.now().Add(-p.cfg.Retention))
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		p.logger.Warn("outbox purge failed", "err", err)
		return
	}
	if n > 0 {
		p.logger.Info("outbox purged", "rows", n)
	}
}

// Message maps a row to its Kafka message. The topic is the event type and
// the key is the aggregate id, which keeps one appointment's events ordered.
func Message(ctx context.Context, rec Record) kafka.Message {
	traced := otelx.WithTraceparent(ctx, rec.Traceparent, rec.Tracestate)
	meta := kafkax.EventMeta{EventID: rec.EventID, EventType: rec.EventType}
	return kafka.Message{
		Topic:   rec.EventType,
		Key:     []byte(rec.AggregateID),
		Value:   rec.Payload,
		Time:    rec.CreatedAt,
		Headers: kafkax.InjectTraceHeaders(traced, meta.Headers()),
	}
}
