package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/filestore"
	"github.com/couchcryptid/prtr-penalty-etl/internal/domain"
)

// Notice is the message value announcing a stored penalty record.
type Notice struct {
	UniqueID string           `json:"unique_id"`
	Path     string           `json:"path"`
	Record   domain.RawRecord `json:"record"`
}

// Writer announces saved records on a Kafka topic, keyed by unique id so
// repeated ingestions of one record land on the same partition.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic.
func NewWriter(brokers []string, topic string, clock clockwork.Clock, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, clock: clock, logger: logger}
}

// Publish sends one message per saved record in a single WriteMessages call.
func (w *Writer) Publish(ctx context.Context, saved []filestore.Saved) error {
	if len(saved) == 0 {
		return nil
	}
	now := w.clock.Now()
	msgs := make([]kafkago.Message, len(saved))
	for i := range saved {
		msg, err := serializeToMessage(saved[i], now)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d notices: %w", len(msgs), err)
	}
	w.logger.Debug("published notices", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a saved record into a Kafka message.
func serializeToMessage(s filestore.Saved, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(Notice{UniqueID: s.UniqueID, Path: s.Path, Record: s.Record})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notice %s: %w", s.UniqueID, err)
	}
	return kafkago.Message{
		Key:   []byte(s.UniqueID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "path", Value: []byte(s.Path)},
			{Key: "published_at", Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}
