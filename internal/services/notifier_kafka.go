package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/BradenHooton/authguard/internal/models"
)

// SuspiciousActivityEventType is the event_type header and payload field on the security topic
const SuspiciousActivityEventType = "security.suspicious_activity"

// KafkaNotifierConfig configures the Kafka producer
type KafkaNotifierConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	// Timeout bounds one delivery including retries; zero keeps client defaults
	Timeout time.Duration
}

const kafkaSendRetries = 3

// suspiciousActivityEvent is the JSON payload published to Kafka
type suspiciousActivityEvent struct {
	EventType      string    `json:"event_type"`
	Identity       string    `json:"identity"`
	Kind           string    `json:"kind"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	FailedAttempts int       `json:"failed_attempts"`
	LockoutSeconds int64     `json:"lockout_seconds"`
	LockedUntil    time.Time `json:"locked_until"`
	DetectedAt     time.Time `json:"detected_at"`
}

// KafkaNotifier publishes alerts to a Kafka topic keyed by identity
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaNotifier connects a synchronous producer; the dispatcher already runs it off the request path
func NewKafkaNotifier(cfg KafkaNotifierConfig) (*KafkaNotifier, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newKafkaNotifier(producer, cfg.Topic), nil
}

// newSaramaConfig splits the delivery timeout across the send attempts so a
// SendMessage call returns within roughly cfg.Timeout
func newSaramaConfig(cfg KafkaNotifierConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.ClientID = cfg.ClientID
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = kafkaSendRetries
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Metadata.Retry.Max = kafkaSendRetries
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	if cfg.Timeout > 0 {
		perTry := cfg.Timeout / (kafkaSendRetries + 1)
		saramaConfig.Net.DialTimeout = perTry
		saramaConfig.Net.ReadTimeout = perTry
		saramaConfig.Net.WriteTimeout = perTry
		saramaConfig.Producer.Timeout = perTry
		saramaConfig.Metadata.Timeout = cfg.Timeout
		saramaConfig.Producer.Retry.Backoff = min(saramaConfig.Producer.Retry.Backoff, perTry/4)
		saramaConfig.Metadata.Retry.Backoff = min(saramaConfig.Metadata.Retry.Backoff, perTry/4)
	}
	return saramaConfig
}

func newKafkaNotifier(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

// NotifySuspiciousActivity publishes one event. The producer has no context
// support, so ctx is only checked before sending; the delivery itself is
// bounded by the producer timeouts.
func (n *KafkaNotifier) NotifySuspiciousActivity(ctx context.Context, a models.SuspiciousActivity) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish suspicious activity event: %w", err)
	}

	payload, err := json.Marshal(suspiciousActivityEvent{
		EventType:      SuspiciousActivityEventType,
		Identity:       a.Identity,
		Kind:           string(a.Kind),
		IPAddress:      a.IPAddress,
		UserAgent:      a.UserAgent,
		FailedAttempts: a.FailedAttempts,
		LockoutSeconds: int64(a.LockoutDuration / time.Second),
		LockedUntil:    a.LockedUntil.UTC(),
		DetectedAt:     a.DetectedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode suspicious activity event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(a.Identity),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(SuspiciousActivityEventType)},
		},
		Timestamp: a.DetectedAt,
	}

	if _, _, err := n.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish suspicious activity event: %w", err)
	}
	return nil
}

// Close flushes and closes the producer
func (n *KafkaNotifier) Close() error {
	if err := n.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
