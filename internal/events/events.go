package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/model"
)

// IngestEvent announces chunks that were added to the index.
type IngestEvent struct {
	Filename    string    `json:"filename"`
	Source      string    `json:"source"`
	TotalChunks int       `json:"total_chunks"`
	AddedChunks int       `json:"added_chunks"`
	IDs         []string  `json:"ids"`
	IngestedAt  time.Time `json:"ingested_at"`
}

type Publisher interface {
	PublishIngest(ctx context.Context, source string, result *model.IngestResult) error
	Close() error
}

type noopPublisher struct{}

func NewNoop() Publisher {
	return noopPublisher{}
}

func (noopPublisher) PublishIngest(context.Context, string, *model.IngestResult) error {
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher writes ingest events keyed by document source so events
// for one document stay ordered within a partition.
func NewKafkaPublisher(brokers []string, topic string) Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return &kafkaPublisher{writer: w, topic: topic}
}

func (p *kafkaPublisher) PublishIngest(ctx context.Context, source string, result *model.IngestResult) error {
	if !result.Added() {
		return nil
	}
	value, err := json.Marshal(IngestEvent{
		Filename:    result.Filename,
		Source:      source,
		TotalChunks: result.TotalChunks,
		AddedChunks: result.AddedChunks,
		IDs:         result.IDs,
		IngestedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal ingest event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(source), Value: value}); err != nil {
		return fmt.Errorf("publish to kafka: %w", err)
	}
	logutil.GetLogger(ctx).Debug("ingest event published",
		zap.String("topic", p.topic),
		zap.String("source", source),
		zap.Int("size", len(value)),
	)
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}
