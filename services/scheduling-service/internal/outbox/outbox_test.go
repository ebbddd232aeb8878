package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/clinicsched/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewEventMarshalsPayload(t *testing.T) {
	evt, err := NewEvent("appointment", "a1", TopicBooked, map[string]string{"code": "APT-20260128-001"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if payload["code"] != "APT-20260128-001" || evt.EventType != TopicBooked {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestNewEventRejectsUnmarshalable(t *testing.T) {
	if _, err := NewEvent("appointment", "a1", TopicBooked, make(chan int)); err == nil {
		t.Fatalf("expected marshal error")
	}
}

func TestMessageCarriesTopicKeyAndHeaders(t *testing.T) {
	msg := Message(context.Background(), Record{
		EventID:     "evt-1",
		AggregateID: "a1",
		EventType:   TopicDelayed,
		Payload:     []byte(`{}`),
	})
	if msg.Topic != TopicDelayed || string(msg.Key) != "a1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if got := kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID); got != "evt-1" {
		t.Fatalf("expected event id header, got %q", got)
	}
	if got := kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventType); got != TopicDelayed {
		t.Fatalf("expected event type header, got %q", got)
	}
}

type queue struct {
	pending   []Record
	published []int64
	commits   int
}

func (q *queue) Begin(context.Context) (pgx.Tx, error) {
	return &fakeTx{q: q}, nil
}

// fakeTx implements the handful of pgx.Tx methods the publisher uses.
type fakeTx struct {
	pgx.Tx
	q       *queue
	claimed []Record
}

func (tx *fakeTx) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	n := args[0].(int)
	if n > len(tx.q.pending) {
		n = len(tx.q.pending)
	}
	tx.claimed = tx.q.pending[:n]
	return &recordRows{recs: tx.claimed, i: -1}, nil
}

func (tx *fakeTx) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	tx.q.published = append(tx.q.published, args[0].([]int64)...)
	return pgconn.NewCommandTag("UPDATE"), nil
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.q.pending = tx.q.pending[len(tx.claimed):]
	tx.q.commits++
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error { return nil }

type recordRows struct {
	pgx.Rows
	recs []Record
	i    int
}

func (r *recordRows) Next() bool { r.i++; return r.i < len(r.recs) }
func (r *recordRows) Err() error { return nil }
func (r *recordRows) Close()     {}

func (r *recordRows) Scan(dest ...any) error {
	rec := r.recs[r.i]
	*dest[0].(*int64) = rec.ID
	*dest[1].(*string) = rec.EventID
	*dest[2].(*string) = rec.AggregateID
	*dest[3].(*string) = rec.EventType
	*dest[4].(*[]byte) = rec.Payload
	*dest[5].(*string) = rec.Traceparent
	*dest[6].(*string) = rec.Tracestate
	*dest[7].(*time.Time) = rec.CreatedAt
	return nil
}

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func pendingRecords(n int) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{
			ID:          int64(i + 1),
			EventID:     fmt.Sprintf("evt-%d", i+1),
			AggregateID: "a1",
			EventType:   TopicBooked,
			Payload:     []byte(`{}`),
			CreatedAt:   time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC),
		}
	}
	return recs
}

func TestDrainPublishesInBatches(t *testing.T) {
	q := &queue{pending: pendingRecords(3)}
	w := &captureWriter{}
	p := NewPublisher(q, NewRepository(), discard(), nil, PublisherConfig{BatchSize: 2})

	if err := p.Drain(context.Background(), w); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(w.msgs) != 3 || len(q.published) != 3 || q.commits != 2 {
		t.Fatalf("expected 3 messages over 2 commits, got msgs=%d published=%v commits=%d", len(w.msgs), q.published, q.commits)
	}
	if len(q.pending) != 0 {
		t.Fatalf("expected empty backlog, %d left", len(q.pending))
	}
}

func TestPublishBatchLeavesRowsOnWriteFailure(t *testing.T) {
	q := &queue{pending: pendingRecords(2)}
	p := NewPublisher(q, NewRepository(), discard(), nil, PublisherConfig{BatchSize: 10})

	if _, err := p.PublishBatch(context.Background(), &captureWriter{err: errors.New("broker gone")}); err == nil {
		t.Fatal("expected write error")
	}
	if len(q.pending) != 2 || len(q.published) != 0 || q.commits != 0 {
		t.Fatalf("rows must stay unpublished, got pending=%d published=%v", len(q.pending), q.published)
	}
}
