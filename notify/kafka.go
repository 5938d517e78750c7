package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MrEthical07/docauth"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the outbox producer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Envelope is the JSON value written to the outbox topic.
type Envelope struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// KafkaNotifier publishes messages synchronously so that Send only returns
// nil once the broker acknowledged the write.
type KafkaNotifier struct {
	writer  MessageWriter
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

var _ docauth.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier builds a synchronous kafka.Writer for cfg.
func NewKafkaNotifier(cfg KafkaConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka notifier: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka notifier: topic required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return NewKafkaNotifierWithWriter(writer, cfg.WriteTimeout, logger), nil
}

// NewKafkaNotifierWithWriter wraps an existing writer. timeout bounds each
// Send; zero means five seconds.
func NewKafkaNotifierWithWriter(w MessageWriter, timeout time.Duration, logger *zap.Logger) *KafkaNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{
		writer:  w,
		timeout: timeout,
		logger:  logger.Named("notify.kafka"),
		now:     time.Now,
	}
}

// Send writes one envelope keyed by recipient, so messages for the same
// address stay ordered on one partition.
func (n *KafkaNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	env := Envelope{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		CreatedAt: n.now().UTC(),
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(recipient),
		Value: value,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(env.ID)},
		},
	}); err != nil {
		n.logger.Error("failed to write outbox message",
			zap.String("recipient", recipient),
			zap.String("message_id", env.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
