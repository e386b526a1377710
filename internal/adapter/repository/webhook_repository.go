package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domainErrors "github.com/lipalink/payment-service/internal/domain/errors"
	"github.com/lipalink/payment-service/internal/domain/model"
	domainRepo "github.com/lipalink/payment-service/internal/domain/repository"
)

type webhookRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewWebhookRepository creates a new webhook repository
func NewWebhookRepository(db *gorm.DB, logger *zap.Logger) domainRepo.WebhookRepository {
	return &webhookRepository{
		db:     db,
		logger: logger,
	}
}

// Save persists a raw event. The (provider, event_id) unique index plus ON
// CONFLICT DO NOTHING makes re-delivered events a durable no-op; the return
// value tells the caller whether this delivery was the first.
func (r *webhookRepository) Save(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)

	if result.Error != nil {
		r.logger.Error("Failed to save webhook event",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.EventID),
			zap.Error(result.Error))
		return false, fmt.Errorf("failed to save webhook event: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

func (r *webhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.WebhookEvent, error) {
	var event model.WebhookEvent

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return &event, nil
}

func (r *webhookRepository) GetByProviderEventID(ctx context.Context, provider, eventID string) (*model.WebhookEvent, error) {
	var event model.WebhookEvent

	err := r.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	return &event, nil
}

func (r *webhookRepository) List(ctx context.Context, status *model.WebhookStatus, limit, offset int) ([]*model.WebhookEvent, error) {
	query := r.db.WithContext(ctx).Model(&model.WebhookEvent{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var events []*model.WebhookEvent
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}

	return events, nil
}

// ClaimForProcessing moves received -> processing with a conditional write
// so two workers never process the same event.
func (r *webhookRepository) ClaimForProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ? AND status = ?", id, model.WebhookStatusReceived).
		Updates(map[string]interface{}{
			"status":     model.WebhookStatusProcessing,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return false, fmt.Errorf("failed to claim webhook event: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

func (r *webhookRepository) MarkProcessed(ctx context.Context, id uuid.UUID, paymentID *uuid.UUID) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       model.WebhookStatusProcessed,
		"processed_at": &now,
		"updated_at":   now,
	}
	if paymentID != nil {
		updates["payment_id"] = *paymentID
	}

	result := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook as processed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.ErrWebhookNotFound
	}

	return nil
}

func (r *webhookRepository) MarkIgnored(ctx context.Context, id uuid.UUID, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         model.WebhookStatusIgnored,
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark webhook as ignored: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.ErrWebhookNotFound
	}

	return nil
}

func (r *webhookRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         model.WebhookStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		r.logger.Error("Failed to mark webhook as failed",
			zap.String("webhook_id", id.String()),
			zap.Error(result.Error))
		return fmt.Errorf("failed to mark webhook as failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.ErrWebhookNotFound
	}

	return nil
}

// Requeue resets a webhook to received for another processing pass. Besides
// failed rows it accepts rows stranded in received or processing, so a crash
// anywhere in the pipeline never wedges an event. Without force the retry
// budget is enforced in the WHERE clause, so a concurrent sweep can never
// push retry_count past max_retries.
func (r *webhookRepository) Requeue(ctx context.Context, id uuid.UUID, force bool) error {
	query := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ? AND status IN ?", id, []model.WebhookStatus{
			model.WebhookStatusFailed,
			model.WebhookStatusReceived,
			model.WebhookStatusProcessing,
		})
	if !force {
		query = query.Where("retry_count < max_retries")
	}

	result := query.Updates(map[string]interface{}{
		"status":      model.WebhookStatusReceived,
		"retry_count": gorm.Expr("retry_count + 1"),
		"updated_at":  time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to requeue webhook event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domainErrors.ErrRetriesExhausted
	}

	return nil
}

func (r *webhookRepository) ListRetryable(ctx context.Context, stuckBefore time.Time, limit int) ([]*model.WebhookEvent, error) {
	var events []*model.WebhookEvent

	err := r.db.WithContext(ctx).
		Where("(status = ? AND retry_count < max_retries) OR (status IN ? AND updated_at < ?)",
			model.WebhookStatusFailed,
			[]model.WebhookStatus{model.WebhookStatusReceived, model.WebhookStatusProcessing},
			stuckBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable webhooks: %w", err)
	}

	return events, nil
}

func (r *webhookRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]model.WebhookStatus{model.WebhookStatusProcessed, model.WebhookStatusIgnored}, cutoff).
		Delete(&model.WebhookEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old webhook events: %w", result.Error)
	}

	return result.RowsAffected, nil
}
