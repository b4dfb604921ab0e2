// Package export mirrors applied deltas onto a Kafka topic so other
// systems can consume the bridge's view of the network without opening
// a dashboard connection. Delivery is best-effort and fully optional.
package export

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Exporter writes one Kafka record per delta, keyed by delta kind.
type Exporter struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// New creates an exporter targeting the given brokers and topic.
func New(brokers []string, topic string, log zerolog.Logger) *Exporter {
	return &Exporter{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			Async:                  true,
		},
		log: log.With().Str("component", "export").Logger(),
	}
}

type record struct {
	Kind    string `json:"kind"`
	Channel string `json:"channel,omitempty"`
	TS      int64  `json:"ts"`
	Payload any    `json:"payload"`
}

// Publish mirrors one delta. Failures are logged and dropped; the
// firehose never blocks or fails the pipeline.
func (e *Exporter) Publish(kind, channel string, payload any) {
	value, err := json.Marshal(record{
		Kind:    kind,
		Channel: channel,
		TS:      time.Now().UnixMilli(),
		Payload: payload,
	})
	if err != nil {
		e.log.Error().Err(err).Str("kind", kind).Msg("marshal export record")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(kind),
		Value: value,
	}); err != nil {
		e.log.Warn().Err(err).Str("kind", kind).Msg("export write failed")
	}
}

// Close flushes and closes the writer.
func (e *Exporter) Close() error {
	return e.writer.Close()
}
