package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"auction-service/utils"

	rd "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// LogSink writes events to the structured log. Used when no broker is configured.
type LogSink struct{}

func (LogSink) Send(_ context.Context, event Event) error {
	fields := map[string]any{
		"event_id":   event.EventID,
		"type":       event.Type,
		"auction_id": event.AuctionID,
	}
	if event.Bid != nil {
		fields["bid_id"] = event.Bid.BidID
		fields["bidder_id"] = event.Bid.BidderID
		fields["amount"] = event.Bid.Amount.String()
	}
	if event.WinnerID != "" {
		fields["winner_id"] = event.WinnerID
	}
	utils.Info("notification", fields)
	return nil
}

func (LogSink) Close() error { return nil }

// KafkaSink produces events to a Kafka topic keyed by auction id
type KafkaSink struct {
	w *kafka.Writer
}

// NewKafkaSink configures the writer for durability:
// - Hash + Key: one auction's events land on one partition, preserving order.
// - RequireAll: wait for all in-sync replicas.
// - MaxAttempts/Timeout: the writer's own retry bound; the publisher retries on top.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  3,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Send(ctx context.Context, event Event) error {
	msg, err := kafkaMessage(event)
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, msg)
}

func (s *KafkaSink) Close() error { return s.w.Close() }

func kafkaMessage(event Event) (kafka.Message, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event %s: %w", event.EventID, err)
	}
	return kafka.Message{
		Key:   []byte(event.AuctionID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}, nil
}

// RedisStreamSink appends events to a Redis stream
type RedisStreamSink struct {
	rdb    *rd.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink writes to stream, trimming it approximately to maxLen entries (0 = unbounded)
func NewRedisStreamSink(rdb *rd.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Send(ctx context.Context, event Event) error {
	args, err := streamArgs(s.stream, s.maxLen, event)
	if err != nil {
		return err
	}
	return s.rdb.XAdd(ctx, args).Err()
}

func (s *RedisStreamSink) Close() error { return s.rdb.Close() }

func streamArgs(stream string, maxLen int64, event Event) (*rd.XAddArgs, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event.EventID, err)
	}
	return &rd.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: map[string]any{
			"event_id":   event.EventID,
			"type":       string(event.Type),
			"auction_id": event.AuctionID,
			"payload":    string(payload),
		},
	}, nil
}
