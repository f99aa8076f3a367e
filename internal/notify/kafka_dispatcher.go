package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// event тело сообщения в топике уведомлений
type event struct {
	Kind      Kind      `json:"kind"`
	Message   Message   `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// kafkaDispatcher реализует Dispatcher, публикуя уведомления в Kafka;
// сервис доставки почты читает топик и рендерит шаблоны
type kafkaDispatcher struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaDispatcher создает и настраивает новый продюсер уведомлений
func NewKafkaDispatcher(brokers []string, topic string, log *logger.Logger) (Dispatcher, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create dispatcher")
		return nil, errors.New("kafka brokers are not configured")
	}

	// RequiredAcks: подтверждение лидера партиции достаточно для уведомлений
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka notification dispatcher initialized", "brokers", brokers, "topic", topic)

	return &kafkaDispatcher{
		writer: writer,
		log:    log,
	}, nil
}

// Send публикует уведомление в топик Kafka.
// Ключ сообщения - ID подписки: все уведомления одной подписки попадают в одну
// партицию и сохраняют порядок доставки.
func (d *kafkaDispatcher) Send(ctx context.Context, kind Kind, message Message) error {
	value, err := json.Marshal(event{
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	})
	if err != nil {
		d.log.Errorw("Failed to marshal notification event", "error", err, "kind", kind, "subscriptionID", message.SubscriptionID)
		return fmt.Errorf("notify: failed to marshal event: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err = d.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(message.SubscriptionID.String()),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			d.log.Errorw("Kafka write timeout exceeded", "error", err, "kind", kind, "subscriptionID", message.SubscriptionID)
			return fmt.Errorf("notify: write timeout: %w", err)
		}
		d.log.Errorw("Failed to write notification to Kafka", "error", err, "kind", kind, "subscriptionID", message.SubscriptionID)
		return fmt.Errorf("notify: failed to write message: %w", err)
	}

	d.log.Debugw("Notification published", "kind", kind, "subscriptionID", message.SubscriptionID)
	return nil
}

// Close закрывает соединение продюсера Kafka
func (d *kafkaDispatcher) Close() error {
	d.log.Infow("Closing Kafka notification dispatcher...")
	if err := d.writer.Close(); err != nil {
		d.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("notify: failed to close writer: %w", err)
	}
	return nil
}
