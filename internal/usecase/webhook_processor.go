package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainErrors "github.com/lipalink/payment-service/internal/domain/errors"
	"github.com/lipalink/payment-service/internal/domain/model"
	"github.com/lipalink/payment-service/internal/domain/provider"
	"github.com/lipalink/payment-service/internal/domain/repository"
)

// WebhookProcessorConfig tunes the asynchronous pipeline.
type WebhookProcessorConfig struct {
	Workers            int
	QueueSize          int
	RetrySweepInterval time.Duration
	// StuckThreshold is how long a webhook may sit in received or
	// processing before the sweep treats it as stranded (dropped wakeup
	// or crash) and requeues it.
	StuckThreshold  time.Duration
	RetentionDays   int
	CleanupInterval time.Duration
}

// WebhookProcessor runs the ingestion pipeline: verify -> persist -> ack,
// then asynchronous interpretation through the guarded transition. The
// webhook table is the durable queue; the channel is only a wakeup, so a
// full channel or a crash loses nothing the retry sweep cannot recover.
type WebhookProcessor struct {
	webhookRepo repository.WebhookRepository
	payments    *PaymentService
	registry    ProviderRegistry
	cfg         WebhookProcessorConfig
	logger      *zap.Logger

	queue chan uuid.UUID
	wg    sync.WaitGroup
}

// NewWebhookProcessor creates a new webhook processor
func NewWebhookProcessor(
	webhookRepo repository.WebhookRepository,
	payments *PaymentService,
	registry ProviderRegistry,
	cfg WebhookProcessorConfig,
	logger *zap.Logger,
) *WebhookProcessor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 5 * time.Minute
	}

	return &WebhookProcessor{
		webhookRepo: webhookRepo,
		payments:    payments,
		registry:    registry,
		cfg:         cfg,
		logger:      logger,
		queue:       make(chan uuid.UUID, cfg.QueueSize),
	}
}

// Ingest handles one raw provider callback. Ordering is deliberate:
// signature verification rejects forgeries before anything is stored, then
// the raw event is persisted so a crash between receipt and processing
// loses nothing, and only then is processing dispatched. The HTTP handler
// acks as soon as Ingest returns, never waiting for interpretation.
func (p *WebhookProcessor) Ingest(ctx context.Context, providerName string, payload []byte, signature string) (*model.WebhookEvent, error) {
	adapter, err := p.registry.Get(providerName)
	if err != nil {
		return nil, domainErrors.NewValidationError("provider", "unknown provider "+providerName)
	}

	if !adapter.VerifySignature(payload, signature) {
		p.logger.Warn("Webhook signature verification failed",
			zap.String("provider", providerName))
		return nil, domainErrors.ErrSignatureVerification
	}

	event := &model.WebhookEvent{
		ID:         uuid.New(),
		Provider:   providerName,
		Status:     model.WebhookStatusReceived,
		MaxRetries: model.DefaultMaxRetries,
	}
	if signature != "" {
		event.Signature = &signature
	}

	var body model.JSONB
	if err := json.Unmarshal(payload, &body); err != nil {
		body = model.JSONB{"raw": string(payload)}
	}
	event.Payload = body

	// Identity extraction only; full interpretation happens off the
	// request path. An uninterpretable payload still gets persisted under
	// a digest identity and fails during processing, where it is visible
	// and retryable.
	if interpreted, ierr := adapter.InterpretWebhook(payload); ierr == nil {
		event.EventID = interpreted.EventID
		event.EventType = interpreted.EventType
		if interpreted.ProviderTransactionID != "" {
			event.ProviderTransactionID = &interpreted.ProviderTransactionID
		}
	} else {
		sum := sha256.Sum256(payload)
		event.EventID = "digest:" + hex.EncodeToString(sum[:])
		event.EventType = "unknown"
	}

	inserted, err := p.webhookRepo.Save(ctx, event)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Re-delivery of a (provider, event_id) pair already on record:
		// acknowledge without creating or reprocessing anything.
		existing, err := p.webhookRepo.GetByProviderEventID(ctx, providerName, event.EventID)
		if err != nil {
			return nil, err
		}
		p.logger.Info("Duplicate webhook delivery acknowledged",
			zap.String("provider", providerName),
			zap.String("event_id", event.EventID),
			zap.String("status", string(existing.Status)))
		return existing, nil
	}

	p.enqueue(event.ID)

	return event, nil
}

// enqueue wakes a worker. Dropping on a full queue is safe: the row is
// durable in received state and the retry sweep will find it.
func (p *WebhookProcessor) enqueue(id uuid.UUID) {
	select {
	case p.queue <- id:
	default:
		p.logger.Warn("Webhook queue full, deferring to sweep",
			zap.String("webhook_id", id.String()))
	}
}

// Start launches the worker pool and the background sweeps.
func (p *WebhookProcessor) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-p.queue:
					if err := p.Process(ctx, id); err != nil {
						p.logger.Error("Webhook processing error",
							zap.String("webhook_id", id.String()),
							zap.Error(err))
					}
				}
			}
		}()
	}

	if p.cfg.RetrySweepInterval > 0 {
		p.wg.Add(1)
		go p.sweepLoop(ctx)
	}
	if p.cfg.CleanupInterval > 0 && p.cfg.RetentionDays > 0 {
		p.wg.Add(1)
		go p.cleanupLoop(ctx)
	}
}

// Wait blocks until all workers have drained after context cancellation.
func (p *WebhookProcessor) Wait() {
	p.wg.Wait()
}

// Process interprets one durably stored webhook and applies its status
// through the guarded transition. The claim is itself a conditional write,
// so two workers waking on the same id do the work once.
func (p *WebhookProcessor) Process(ctx context.Context, id uuid.UUID) error {
	claimed, err := p.webhookRepo.ClaimForProcessing(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	event, err := p.webhookRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	adapter, err := p.registry.Get(event.Provider)
	if err != nil {
		return p.webhookRepo.MarkFailed(ctx, id, "unknown provider "+event.Provider)
	}

	payload := rawPayload(event.Payload)
	interpreted, err := adapter.InterpretWebhook(payload)
	if err != nil {
		p.logger.Warn("Webhook interpretation failed",
			zap.String("webhook_id", id.String()),
			zap.String("provider", event.Provider),
			zap.Error(err))
		return p.webhookRepo.MarkFailed(ctx, id, err.Error())
	}

	payment, err := p.correlate(ctx, event.Provider, interpreted)
	if err != nil {
		if err == domainErrors.ErrPaymentNotFound {
			// The provider already got its 200; failing here must never
			// provoke an endless provider retry loop. The sweep retries
			// in case the payment record lands late.
			return p.webhookRepo.MarkFailed(ctx, id, "unmatched")
		}
		return p.webhookRepo.MarkFailed(ctx, id, err.Error())
	}

	update := &repository.StatusUpdate{}
	if interpreted.ProviderTransactionID != "" {
		update.ProviderTransactionID = &interpreted.ProviderTransactionID
	}
	if interpreted.FailureReason != "" {
		update.FailureReason = &interpreted.FailureReason
	}

	_, applied, err := p.payments.ApplyTransition(ctx, payment, interpreted.Status, update)
	if err != nil {
		return p.webhookRepo.MarkFailed(ctx, id, err.Error())
	}
	if !applied {
		// Duplicate or stale relative to the payment's current state; a
		// correct outcome, recorded distinctly from processed.
		return p.webhookRepo.MarkIgnored(ctx, id, "no-op transition to "+string(interpreted.Status))
	}

	return p.webhookRepo.MarkProcessed(ctx, id, &payment.ID)
}

// correlate resolves the payment a webhook refers to: the rail echoing our
// payment id back wins, the provider transaction id recorded at initiation
// is the fallback.
func (p *WebhookProcessor) correlate(ctx context.Context, providerName string, event *provider.WebhookEvent) (*model.Payment, error) {
	if event.CorrelationKey != "" {
		if paymentID, err := uuid.Parse(event.CorrelationKey); err == nil {
			payment, err := p.payments.GetPayment(ctx, paymentID)
			if err == nil {
				return payment, nil
			}
			if err != domainErrors.ErrPaymentNotFound {
				return nil, err
			}
		}
	}

	if event.ProviderTransactionID != "" {
		return p.payments.paymentRepo.GetByProviderTransactionID(ctx, providerName, event.ProviderTransactionID)
	}

	return nil, domainErrors.ErrPaymentNotFound
}

// ListWebhooks returns stored webhook events, optionally filtered by status.
func (p *WebhookProcessor) ListWebhooks(ctx context.Context, status *model.WebhookStatus, limit, offset int) ([]*model.WebhookEvent, error) {
	return p.webhookRepo.List(ctx, status, limit, offset)
}

// Retry requeues one failed or stranded webhook. force overrides the retry
// budget for manual intervention.
func (p *WebhookProcessor) Retry(ctx context.Context, id uuid.UUID, force bool) error {
	if err := p.webhookRepo.Requeue(ctx, id, force); err != nil {
		return err
	}
	p.enqueue(id)
	return nil
}

// SweepRetryable requeues every webhook eligible for another pass: failed
// rows with budget left, plus rows stranded in received or processing past
// the stuck threshold by a dropped wakeup or a crash. Returns the number
// requeued.
func (p *WebhookProcessor) SweepRetryable(ctx context.Context) (int, error) {
	stuckBefore := time.Now().Add(-p.cfg.StuckThreshold)
	events, err := p.webhookRepo.ListRetryable(ctx, stuckBefore, p.cfg.QueueSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, event := range events {
		if event.Status == model.WebhookStatusReceived {
			// Durable and still unclaimed; only the wakeup was lost. No
			// status change, no budget spent.
			p.enqueue(event.ID)
			requeued++
			continue
		}
		if err := p.webhookRepo.Requeue(ctx, event.ID, false); err != nil {
			if err == domainErrors.ErrRetriesExhausted {
				continue
			}
			return requeued, err
		}
		p.enqueue(event.ID)
		requeued++
	}

	return requeued, nil
}

// Cleanup deletes processed and ignored webhooks past retention.
func (p *WebhookProcessor) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -p.cfg.RetentionDays)
	return p.webhookRepo.DeleteProcessedBefore(ctx, cutoff)
}

func (p *WebhookProcessor) sweepLoop(ctx context.Context) {
	defer p.wg.Done()

	// One pass immediately so a restart picks up events stranded by the
	// previous process.
	p.sweepOnce(ctx)

	ticker := time.NewTicker(p.cfg.RetrySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

func (p *WebhookProcessor) sweepOnce(ctx context.Context) {
	n, err := p.SweepRetryable(ctx)
	if err != nil {
		p.logger.Error("Webhook retry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("Webhook retry sweep requeued events", zap.Int("count", n))
	}
}

func (p *WebhookProcessor) cleanupLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Cleanup(ctx)
			if err != nil {
				p.logger.Error("Webhook cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				p.logger.Info("Old webhook events deleted", zap.Int64("count", n))
			}
		}
	}
}

// rawPayload reconstructs the raw body for interpretation. Payloads that
// never parsed as JSON were stored verbatim under "raw".
func rawPayload(body model.JSONB) []byte {
	if raw, ok := body["raw"].(string); ok && len(body) == 1 {
		return []byte(raw)
	}
	payload, _ := json.Marshal(body)
	return payload
}
