package services

import (
	"context"

	"github.com/google/uuid"

	"flowdeck/internal/repository"
	"flowdeck/pkg/models"
)

// OutboxEmitter appends domain event rows. Append must only ever be called
// with the Tx of the mutation the event describes; the row then commits or
// rolls back together with it.
type OutboxEmitter struct{}

// NewOutboxEmitter creates an OutboxEmitter.
func NewOutboxEmitter() *OutboxEmitter {
	return &OutboxEmitter{}
}

// Append writes one pending event row on tx.
func (e *OutboxEmitter) Append(ctx context.Context, tx repository.Tx, scope models.Scope, eventType, entityType, entityID string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	return tx.AppendEvent(ctx, &models.OutboxEvent{
		ID:             uuid.New().String(),
		TenantID:       scope.TenantID,
		OrganizationID: scope.OrganizationID,
		EventType:      eventType,
		EntityType:     entityType,
		EntityID:       entityID,
		Payload:        payload,
		Status:         models.OutboxStatusPending,
	})
}
