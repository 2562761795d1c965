package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/frame/datastore/pool"
	"gorm.io/gorm"

	"github.com/spiralogic/oraclevoice/pkg/events"
)

// ErrNotFound is returned when a webhook or dead letter does not exist.
var ErrNotFound = errors.New("webhook: not found")

// DeliveryLog receives delivery outcomes and circuit changes.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, da *DeliveryAttempt) error
	CreateDeadLetter(ctx context.Context, dl *DeadLetter) error
	UpdateCircuit(ctx context.Context, webhookID, state string, failures int) error
}

// Store is the full persistence surface used by the subscriber and the API.
type Store interface {
	DeliveryLog
	CreateEndpoint(ctx context.Context, wh *WebhookEndpoint) error
	GetByID(ctx context.Context, id string) (*WebhookEndpoint, error)
	ListByEventType(ctx context.Context, et events.EventType) ([]WebhookEndpoint, error)
	ListAll(ctx context.Context) ([]WebhookEndpoint, error)
	Update(ctx context.Context, wh *WebhookEndpoint) error
	Delete(ctx context.Context, id string) error
	ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]DeliveryAttempt, error)
	GetDeadLetter(ctx context.Context, webhookID, id string) (*DeadLetter, error)
	ListDeadLetters(ctx context.Context, webhookID string) ([]DeadLetter, error)
	MarkDeadLetterReplayed(ctx context.Context, id string) error
}

// Repository provides CRUD operations for webhook-related models.
type Repository struct {
	pool pool.Pool
}

// NewRepository creates a new webhook repository.
func NewRepository(pool pool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context, readOnly bool) *gorm.DB {
	return r.pool.DB(ctx, readOnly)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Migrate creates or updates the webhook tables.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db(ctx, false).AutoMigrate(&WebhookEndpoint{}, &DeliveryAttempt{}, &DeadLetter{})
}

// CreateEndpoint persists a new webhook endpoint.
func (r *Repository) CreateEndpoint(ctx context.Context, wh *WebhookEndpoint) error {
	return r.db(ctx, false).Create(wh).Error
}

// GetByID returns a webhook endpoint by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*WebhookEndpoint, error) {
	var wh WebhookEndpoint
	if err := r.db(ctx, true).Where("id = ?", id).First(&wh).Error; err != nil {
		return nil, notFound(err)
	}
	return &wh, nil
}

// ListByEventType returns active webhooks subscribed to the given event type.
func (r *Repository) ListByEventType(ctx context.Context, et events.EventType) ([]WebhookEndpoint, error) {
	var endpoints []WebhookEndpoint
	q := r.db(ctx, true).Where("is_active = ?", true)
	if et != events.WebhookTest {
		q = q.Where("event_types @> ?", fmt.Sprintf(`[%q]`, et))
	}
	err := q.Find(&endpoints).Error
	return endpoints, err
}

// ListAll returns all webhook endpoints.
func (r *Repository) ListAll(ctx context.Context) ([]WebhookEndpoint, error) {
	var endpoints []WebhookEndpoint
	err := r.db(ctx, true).Order("created_at DESC").Find(&endpoints).Error
	return endpoints, err
}

// Update persists changes to a webhook endpoint.
func (r *Repository) Update(ctx context.Context, wh *WebhookEndpoint) error {
	return r.db(ctx, false).Save(wh).Error
}

// Delete soft-deletes a webhook endpoint.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res := r.db(ctx, false).Where("id = ?", id).Delete(&WebhookEndpoint{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCircuit stores the breaker state reported by the deliverer.
func (r *Repository) UpdateCircuit(ctx context.Context, webhookID, state string, failures int) error {
	updates := map[string]any{"circuit_state": state, "failure_count": failures}
	if failures > 0 {
		updates["last_failure_at"] = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	return r.db(ctx, false).
		Model(&WebhookEndpoint{}).
		Where("id = ?", webhookID).
		Updates(updates).Error
}

// RecordDelivery persists a delivery attempt.
func (r *Repository) RecordDelivery(ctx context.Context, da *DeliveryAttempt) error {
	return r.db(ctx, false).Create(da).Error
}

// ListDeliveries returns delivery attempts for a webhook, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, webhookID string, limit, offset int) ([]DeliveryAttempt, error) {
	var attempts []DeliveryAttempt
	q := r.db(ctx, true).
		Where("webhook_id = ?", webhookID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Find(&attempts).Error
	return attempts, err
}

// GetDeadLetter returns a replayable dead letter belonging to a webhook.
func (r *Repository) GetDeadLetter(ctx context.Context, webhookID, id string) (*DeadLetter, error) {
	var dl DeadLetter
	err := r.db(ctx, true).
		Where("id = ? AND webhook_id = ? AND replayable = ?", id, webhookID, true).
		First(&dl).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &dl, nil
}

// CreateDeadLetter persists a dead-lettered event.
func (r *Repository) CreateDeadLetter(ctx context.Context, dl *DeadLetter) error {
	return r.db(ctx, false).Create(dl).Error
}

// ListDeadLetters returns replayable dead letters for a webhook.
func (r *Repository) ListDeadLetters(ctx context.Context, webhookID string) ([]DeadLetter, error) {
	var letters []DeadLetter
	err := r.db(ctx, true).
		Where("webhook_id = ? AND replayable = ?", webhookID, true).
		Order("created_at DESC").
		Find(&letters).Error
	return letters, err
}

// MarkDeadLetterReplayed marks a dead letter as no longer replayable.
func (r *Repository) MarkDeadLetterReplayed(ctx context.Context, id string) error {
	return r.db(ctx, false).
		Model(&DeadLetter{}).
		Where("id = ?", id).
		Update("replayable", false).Error
}
