package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/pkg/logger"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const RoutingAttemptRecorded = "scenario.attempt.recorded"

// AttemptRecordedEvent 新尝试写入后发布
type AttemptRecordedEvent struct {
	EventID           string    `json:"eventId"`
	TeacherID         uint      `json:"teacherId"`
	ScenarioID        string    `json:"scenarioId"`
	AttemptNumber     int       `json:"attemptNumber"`
	Score             *int      `json:"score"`
	SessionID         *string   `json:"sessionId,omitempty"`
	CompletedAttempts int       `json:"completedAttempts"`
	RequiredAttempts  int       `json:"requiredAttempts"`
	JustCompleted     bool      `json:"justCompleted"`
	OccurredAt        time.Time `json:"occurredAt"`
}

func NewAttemptRecordedEvent(attempt *model.ScenarioAttempt, progress ScenarioProgress, justCompleted bool) AttemptRecordedEvent {
	return AttemptRecordedEvent{
		EventID:           uuid.NewString(),
		TeacherID:         attempt.TeacherID,
		ScenarioID:        attempt.ScenarioID,
		AttemptNumber:     attempt.AttemptNumber,
		Score:             attempt.Score,
		SessionID:         attempt.SessionID,
		CompletedAttempts: progress.CompletedAttempts,
		RequiredAttempts:  progress.RequiredAttempts,
		JustCompleted:     justCompleted,
		OccurredAt:        time.Now().UTC(),
	}
}

// RabbitEventPublisher 发布到 topic 类型的 exchange
type RabbitEventPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewRabbitEventPublisher(url, exchange string) (*RabbitEventPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &RabbitEventPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *RabbitEventPublisher) PublishAttemptRecorded(ctx context.Context, event AttemptRecordedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// amqp.Channel 不支持并发发布
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(pubCtx, p.exchange, RoutingAttemptRecorded, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Timestamp:    event.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	logger.Log.Debug("published event",
		zap.String("routing_key", RoutingAttemptRecorded),
		zap.String("event_id", event.EventID),
	)
	return nil
}

func (p *RabbitEventPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NopEventPublisher events.enabled=false 时使用
type NopEventPublisher struct{}

func (NopEventPublisher) PublishAttemptRecorded(context.Context, AttemptRecordedEvent) error {
	return nil
}

func (NopEventPublisher) Close() error { return nil }
