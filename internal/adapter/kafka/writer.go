package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/crop-phenology-etl/internal/domain"
)

// MessageWriter is the subset of *kafkago.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes feature records to a Kafka topic for the yield estimator.
// It implements pipeline.Sink.
type Writer struct {
	writer     MessageWriter
	batchSize  int
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewWriter creates a Kafka producer for the feature topic.
func NewWriter(brokers []string, topic string, batchSize int, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    batchSize,
	}
	return newWriter(w, batchSize, logger)
}

func newWriter(w MessageWriter, batchSize int, logger *slog.Logger) *Writer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Writer{
		writer:     w,
		batchSize:  batchSize,
		attempts:   3,
		backoff:    200 * time.Millisecond,
		maxBackoff: 5 * time.Second,
		logger:     logger,
	}
}

func (w *Writer) Name() string { return "kafka" }

// Write publishes one message per parcel with a feature record, in chunks of
// the configured batch size. Parcels without features are not published.
func (w *Writer) Write(ctx context.Context, run domain.Run, results []domain.ParcelResult) error {
	msgs := make([]kafkago.Message, 0, w.batchSize)
	published := 0
	flush := func() error {
		if len(msgs) == 0 {
			return nil
		}
		if err := w.publish(ctx, msgs); err != nil {
			return fmt.Errorf("publish features: %w", err)
		}
		published += len(msgs)
		msgs = msgs[:0]
		return nil
	}

	for _, r := range results {
		if r.Features == nil {
			continue
		}
		msg, err := serializeToMessage(run, *r.Features)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		if len(msgs) == w.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	w.logger.Info("feature records published", "run_id", run.ID, "count", published)
	return nil
}

// publish retries a failed batch with exponential backoff.
func (w *Writer) publish(ctx context.Context, msgs []kafkago.Message) error {
	backoff := w.backoff
	var err error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err = w.writer.WriteMessages(ctx, msgs...); err == nil {
			return nil
		}
		if attempt == w.attempts {
			break
		}
		w.logger.Warn("kafka publish failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, w.maxBackoff)
	}
	return err
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a FeatureRecord into a Kafka message keyed by parcel.
func serializeToMessage(run domain.Run, rec domain.FeatureRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize feature record %s: %w", rec.ParcelID, err)
	}
	return kafkago.Message{
		Key:   []byte(rec.ParcelID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(run.ID)},
			{Key: "generated_at", Value: []byte(run.StartedAt.UTC().Format(time.RFC3339))},
			{Key: "feature", Value: []byte(run.Feature)},
		},
	}, nil
}
