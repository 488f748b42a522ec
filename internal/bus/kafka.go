package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/opensource-finance/claimguard/internal/domain"
)

const (
	headerMessageID = "message_id"
	headerTimestamp = "timestamp"
)

// KafkaBus implements EventBus using Kafka.
// Each topic maps to a Kafka topic; subscribers join the configured group.
type KafkaBus struct {
	mu            sync.Mutex
	writer        kafkaWriter
	brokers       []string
	groupID       string
	subscriptions map[string]*kafkaSubscription
	closed        bool
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type kafkaSubscription struct {
	bus    *KafkaBus
	id     string
	topic  string
	reader *kafkago.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKafkaBus creates a Kafka-backed event bus.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "claimguard"
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:               &kafkago.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}

	slog.Info("kafka bus configured",
		"brokers", cfg.KafkaBrokers,
		"group_id", groupID,
	)

	return &KafkaBus{
		writer:        w,
		brokers:       cfg.KafkaBrokers,
		groupID:       groupID,
		subscriptions: make(map[string]*kafkaSubscription),
	}, nil
}

// Publish writes a message to the Kafka topic.
func (b *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("bus is closed")
	}

	if err := b.writer.WriteMessages(ctx, toKafkaMessage(newMessage(topic, payload))); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a group reader for the topic and feeds each message to
// the handler. Offsets are committed only after the handler succeeds.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  b.brokers,
		Topic:    topic,
		GroupID:  b.groupID,
		MinBytes: 1,
		MaxBytes: 10 * 1024 * 1024, // 10 MB
	})

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		bus:    b,
		id:     uuid.New().String(),
		topic:  topic,
		reader: reader,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.subscriptions[sub.id] = sub

	go sub.consume(subCtx, handler)

	return sub, nil
}

func (s *kafkaSubscription) consume(ctx context.Context, handler domain.MessageHandler) {
	defer close(s.done)

	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			slog.Error("kafka fetch failed",
				"topic", s.topic,
				"error", err,
			)
			return
		}

		msg := fromKafkaMessage(m)
		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error",
				"topic", m.Topic,
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err,
			)
			continue
		}

		if err := s.reader.CommitMessages(ctx, m); err != nil {
			slog.Error("kafka commit failed",
				"topic", m.Topic,
				"offset", m.Offset,
				"error", err,
			)
		}
	}
}

// Ping dials the first reachable broker.
func (b *KafkaBus) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range b.brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close stops all readers and flushes the writer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*kafkaSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.stop()
	}
	return b.writer.Close()
}

// Unsubscribe stops the reader and leaves the group.
func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.stop()
}

func (s *kafkaSubscription) stop() error {
	s.cancel()
	<-s.done
	return s.reader.Close()
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}

func toKafkaMessage(msg *domain.Message) kafkago.Message {
	headers := []kafkago.Header{
		{Key: headerMessageID, Value: []byte(msg.ID)},
		{Key: headerTimestamp, Value: []byte(strconv.FormatInt(msg.Timestamp, 10))},
	}
	for k, v := range msg.Metadata {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return kafkago.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.ID),
		Value:   msg.Payload,
		Headers: headers,
	}
}

func fromKafkaMessage(m kafkago.Message) *domain.Message {
	msg := &domain.Message{
		Topic:     m.Topic,
		Payload:   m.Value,
		Metadata:  make(map[string]string),
		Timestamp: m.Time.UnixNano(),
	}
	for _, h := range m.Headers {
		switch h.Key {
		case headerMessageID:
			msg.ID = string(h.Value)
		case headerTimestamp:
			if ts, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil {
				msg.Timestamp = ts
			}
		default:
			msg.Metadata[h.Key] = string(h.Value)
		}
	}
	if msg.ID == "" {
		msg.ID = string(m.Key)
	}
	return msg
}
