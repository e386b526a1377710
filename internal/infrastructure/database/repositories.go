package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lipalink/payment-service/internal/adapter/repository"
	domainRepo "github.com/lipalink/payment-service/internal/domain/repository"
)

// Repositories holds all repository instances
type Repositories struct {
	Payment domainRepo.PaymentRepository
	Webhook domainRepo.WebhookRepository
}

// NewRepositories creates new repository instances with database connection
func NewRepositories(db *gorm.DB, logger *zap.Logger) *Repositories {
	return &Repositories{
		Payment: repository.NewPaymentRepository(db, logger),
		Webhook: repository.NewWebhookRepository(db, logger),
	}
}
