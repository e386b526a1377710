package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lipalink/payment-service/internal/config"
	"github.com/lipalink/payment-service/internal/domain/repository"
)

// Reconciler is the pull-based safety net over webhook delivery. Payments
// stuck in pending or processing past their provider's staleness threshold
// are polled directly against the rail, and the result flows through the
// same guarded transition webhooks use, so the two paths can never
// disagree about a payment's final state.
type Reconciler struct {
	paymentRepo repository.PaymentRepository
	payments    *PaymentService
	registry    ProviderRegistry
	providers   map[string]config.ProviderConfig
	interval    time.Duration
	batchSize   int
	logger      *zap.Logger

	wg sync.WaitGroup
}

// NewReconciler creates a new reconciler
func NewReconciler(
	paymentRepo repository.PaymentRepository,
	payments *PaymentService,
	registry ProviderRegistry,
	providers map[string]config.ProviderConfig,
	interval time.Duration,
	logger *zap.Logger,
) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}

	return &Reconciler{
		paymentRepo: paymentRepo,
		payments:    payments,
		registry:    registry,
		providers:   providers,
		interval:    interval,
		batchSize:   100,
		logger:      logger,
	}
}

// Start runs the reconciliation loop until the context is cancelled. Each
// provider is swept in its own goroutine so one slow rail never starves
// the others.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweepAll(ctx)
			}
		}
	}()
}

// Wait blocks until the loop has stopped after context cancellation.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

func (r *Reconciler) sweepAll(ctx context.Context) {
	var sweeps sync.WaitGroup
	for _, name := range r.registry.Names() {
		name := name
		sweeps.Add(1)
		go func() {
			defer sweeps.Done()
			if _, err := r.ReconcileProvider(ctx, name); err != nil {
				r.logger.Error("Reconciliation sweep failed",
					zap.String("provider", name),
					zap.Error(err))
			}
		}()
	}
	sweeps.Wait()
}

// ReconcileProvider polls every stale payment on one provider and returns
// the number of payments whose status actually moved.
func (r *Reconciler) ReconcileProvider(ctx context.Context, providerName string) (int, error) {
	threshold := r.providers[providerName].StalenessThreshold
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}

	stale, err := r.paymentRepo.ListStale(ctx, providerName, time.Now().Add(-threshold), r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	adapter, err := r.registry.Get(providerName)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, payment := range stale {
		resp, err := adapter.CheckStatus(ctx, *payment.ProviderTransactionID, payment.Type)
		if err != nil {
			// Transient rail failure; the payment stays stale and the
			// next sweep retries it.
			r.logger.Warn("Reconciliation status check failed",
				zap.String("payment_id", payment.ID.String()),
				zap.String("provider", providerName),
				zap.Error(err))
			continue
		}

		update := &repository.StatusUpdate{}
		if resp.FailureReason != "" {
			update.FailureReason = &resp.FailureReason
		}

		_, applied, err := r.payments.ApplyTransition(ctx, payment, resp.Status, update)
		if err != nil {
			r.logger.Error("Reconciliation transition failed",
				zap.String("payment_id", payment.ID.String()),
				zap.Error(err))
			continue
		}
		if applied {
			moved++
			r.logger.Info("Payment reconciled",
				zap.String("payment_id", payment.ID.String()),
				zap.String("provider", providerName),
				zap.String("status", string(resp.Status)))
		}
	}

	return moved, nil
}
