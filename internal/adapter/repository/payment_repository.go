package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	domainErrors "github.com/lipalink/payment-service/internal/domain/errors"
	"github.com/lipalink/payment-service/internal/domain/model"
	domainRepo "github.com/lipalink/payment-service/internal/domain/repository"
)

type paymentRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *gorm.DB, logger *zap.Logger) domainRepo.PaymentRepository {
	return &paymentRepository{
		db:     db,
		logger: logger,
	}
}

func (r *paymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		r.logger.Error("Failed to create payment",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *paymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Payment, error) {
	var payment model.Payment

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&payment).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	return &payment, nil
}

func (r *paymentRepository) GetByProviderTransactionID(ctx context.Context, provider, transactionID string) (*model.Payment, error) {
	var payment model.Payment

	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_transaction_id = ?", provider, transactionID).
		First(&payment).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment by transaction id: %w", err)
	}

	return &payment, nil
}

func (r *paymentRepository) List(ctx context.Context, filter domainRepo.PaymentFilter) ([]*model.Payment, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Payment{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Provider != nil {
		query = query.Where("provider = ?", *filter.Provider)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	var payments []*model.Payment
	err := query.
		Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&payments).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}

	return payments, total, nil
}

// TransitionStatus is the single integration point for all status writers:
// the synchronous adapter result, webhook processing and reconciliation all
// converge here. The UPDATE is conditional on the status read by the
// caller, so the loser of a concurrent race affects zero rows and reports
// false instead of clobbering a newer state. A provider transaction id is
// only ever written into a NULL column, never overwritten.
func (r *paymentRepository) TransitionStatus(ctx context.Context, id uuid.UUID, expected, next model.PaymentStatus, update *domainRepo.StatusUpdate) (bool, error) {
	if !model.CanTransition(expected, next) {
		return false, fmt.Errorf("illegal payment transition %s -> %s", expected, next)
	}

	updates := map[string]interface{}{
		"status":     next,
		"updated_at": time.Now(),
	}

	if update != nil {
		if update.ProviderTransactionID != nil {
			updates["provider_transaction_id"] = gorm.Expr(
				"COALESCE(provider_transaction_id, ?)", *update.ProviderTransactionID)
		}
		if update.RefundID != nil {
			updates["refund_id"] = *update.RefundID
		}
		if update.FailureReason != nil {
			updates["failure_reason"] = *update.FailureReason
		}
		if update.ProcessedAt != nil {
			updates["processed_at"] = *update.ProcessedAt
		}
		if update.RefundedAt != nil {
			updates["refunded_at"] = *update.RefundedAt
		}
	}

	result := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)

	if result.Error != nil {
		r.logger.Error("Failed to transition payment status",
			zap.String("payment_id", id.String()),
			zap.String("from", string(expected)),
			zap.String("to", string(next)),
			zap.Error(result.Error))
		return false, fmt.Errorf("failed to transition payment status: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

func (r *paymentRepository) SumForUserSince(ctx context.Context, userID uuid.UUID, provider string, since time.Time) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}

	err := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Select("COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ? AND provider = ? AND created_at >= ?", userID, provider, since).
		Where("status IN ?", []model.PaymentStatus{model.PaymentStatusCompleted, model.PaymentStatusProcessing}).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payments: %w", err)
	}

	return row.Total, nil
}

func (r *paymentRepository) ListStale(ctx context.Context, provider string, olderThan time.Time, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment

	err := r.db.WithContext(ctx).
		Where("provider = ? AND updated_at < ?", provider, olderThan).
		Where("status IN ?", []model.PaymentStatus{model.PaymentStatusPending, model.PaymentStatusProcessing}).
		Where("provider_transaction_id IS NOT NULL").
		Order("updated_at ASC").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}

	return payments, nil
}

func (r *paymentRepository) Statistics(ctx context.Context, from, to time.Time) ([]domainRepo.ProviderStat, error) {
	var stats []domainRepo.ProviderStat

	err := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Select("provider, type, status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total, COALESCE(SUM(fee_amount), 0) AS fees").
		Where("created_at >= ? AND created_at < ?", from, to).
		Group("provider, type, status").
		Order("provider, type, status").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate payment statistics: %w", err)
	}

	return stats, nil
}
