package kafka

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/couchcryptid/nao-forecast-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces index records to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for topic. Records are keyed by their
// deterministic ID, so the Hash balancer keeps every version of a record on
// one partition.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch publishes events in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, events []domain.OutputEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msgs[i] = toMessage(events[i])
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	w.logger.Debug("kafka batch written", "topic", w.writer.Topic, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// toMessage maps an output event onto a Kafka message. Headers are emitted
// in key order.
func toMessage(ev domain.OutputEvent) kafkago.Message {
	msg := kafkago.Message{Key: ev.Key, Value: ev.Value}
	for _, k := range slices.Sorted(maps.Keys(ev.Headers)) {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(ev.Headers[k])})
	}
	return msg
}
