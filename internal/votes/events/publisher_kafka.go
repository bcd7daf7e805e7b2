package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaPublisher produces VoteRecorded events to a single topic. Records are
// keyed by poll id so all events for one poll land on one partition, keeping
// counter snapshots in order for consumers.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

// recordedWire is the JSON wire form. UUIDs travel as strings.
type recordedWire struct {
	VoteID       string    `json:"vote_id"`
	PollID       string    `json:"poll_id"`
	OptionID     string    `json:"option_id"`
	TotalVotes   int       `json:"total_votes"`
	OptionVotes  int       `json:"option_votes"`
	UniqueVoters int       `json:"unique_voters"`
	RecordedAt   time.Time `json:"recorded_at"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, event VoteRecorded) error {
	payload, err := json.Marshal(recordedWire{
		VoteID:       event.VoteID.String(),
		PollID:       event.PollID.String(),
		OptionID:     event.OptionID.String(),
		TotalVotes:   event.TotalVotes,
		OptionVotes:  event.OptionVotes,
		UniqueVoters: event.UniqueVoters,
		RecordedAt:   event.RecordedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal vote recorded event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.PollID.String()),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce vote recorded event: %w", err)
	}
	p.logger.Debug("event published",
		"topic", p.topic,
		"vote_id", event.VoteID.String(),
		"poll_id", event.PollID.String(),
	)
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
