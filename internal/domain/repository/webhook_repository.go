package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lipalink/payment-service/internal/domain/model"
)

type WebhookRepository interface {
	// Save persists a raw inbound event before interpretation. Duplicate
	// (provider, event_id) pairs are not an error; Save reports whether a
	// new row was actually inserted.
	Save(ctx context.Context, event *model.WebhookEvent) (bool, error)

	GetByID(ctx context.Context, id uuid.UUID) (*model.WebhookEvent, error)
	GetByProviderEventID(ctx context.Context, provider, eventID string) (*model.WebhookEvent, error)
	List(ctx context.Context, status *model.WebhookStatus, limit, offset int) ([]*model.WebhookEvent, error)

	// ClaimForProcessing moves a webhook from received to processing. It
	// returns false when the row was already claimed by another worker.
	ClaimForProcessing(ctx context.Context, id uuid.UUID) (bool, error)

	MarkProcessed(ctx context.Context, id uuid.UUID, paymentID *uuid.UUID) error
	MarkIgnored(ctx context.Context, id uuid.UUID, reason string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	// Requeue resets a webhook to received, incrementing retry_count. It
	// applies to failed rows and to rows stranded in received or processing
	// by a crash. With force it disregards the max_retries bound (manual
	// override).
	Requeue(ctx context.Context, id uuid.UUID, force bool) error

	// ListRetryable returns webhooks eligible for another pass: failed rows
	// whose retry budget is not spent, plus received or processing rows not
	// touched since stuckBefore (a lost wakeup or a crash mid-process).
	ListRetryable(ctx context.Context, stuckBefore time.Time, limit int) ([]*model.WebhookEvent, error)

	// DeleteProcessedBefore removes processed and ignored webhooks older
	// than the retention cutoff. Storage hygiene, not correctness.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
