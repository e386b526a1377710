package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lipalink/payment-service/internal/config"
	"github.com/lipalink/payment-service/internal/domain/model"
)

// PaymentEvent is the message published to the ledger once a payment
// reaches a terminal state. Delivery is at-least-once; the payment id is
// the idempotency key downstream.
type PaymentEvent struct {
	PaymentID             uuid.UUID           `json:"payment_id"`
	UserID                uuid.UUID           `json:"user_id"`
	Provider              string              `json:"provider"`
	Type                  model.PaymentType   `json:"type"`
	Status                model.PaymentStatus `json:"status"`
	Amount                decimal.Decimal     `json:"amount"`
	FeeAmount             decimal.Decimal     `json:"fee_amount"`
	Currency              string              `json:"currency"`
	ProviderTransactionID string              `json:"provider_transaction_id,omitempty"`
	FailureReason         string              `json:"failure_reason,omitempty"`
	OccurredAt            time.Time           `json:"occurred_at"`
}

// Publisher notifies downstream consumers of terminal payment states.
type Publisher interface {
	PublishPaymentEvent(ctx context.Context, event *PaymentEvent) error
	Close() error
}

type redisPublisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher creates a Redis pub/sub publisher
func NewRedisPublisher(cfg *config.RedisConfig, logger *zap.Logger) (Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &redisPublisher{
		client:  client,
		channel: cfg.Channel,
		logger:  logger,
	}, nil
}

func (p *redisPublisher) PublishPaymentEvent(ctx context.Context, event *PaymentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Error("Failed to publish payment event",
			zap.String("payment_id", event.PaymentID.String()),
			zap.String("status", string(event.Status)),
			zap.Error(err))
		return fmt.Errorf("failed to publish payment event: %w", err)
	}

	p.logger.Info("Payment event published",
		zap.String("payment_id", event.PaymentID.String()),
		zap.String("provider", event.Provider),
		zap.String("status", string(event.Status)))

	return nil
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}
