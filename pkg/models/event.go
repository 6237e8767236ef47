package models

import (
	"time"
)

// OutboxStatus is the delivery state of an outbox event. This service only
// ever writes pending rows; delivery belongs to a downstream relay.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusDelivered OutboxStatus = "delivered"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Domain event types emitted by the core. Every state-changing operation
// appends exactly one of these in its own transaction.
const (
	EventCardCreated     = "PLM.CARD.CREATED"
	EventCardMoved       = "PLM.CARD.MOVED"
	EventPipePublished   = "PLM.PIPE.PUBLISHED"
	EventPipeTestStarted = "PLM.PIPE.TEST_STARTED"
	EventPipeTestEnded   = "PLM.PIPE.TEST_ENDED"
	EventPipeUnpublished = "PLM.PIPE.UNPUBLISHED"
	EventPipeClosed      = "PLM.PIPE.CLOSED"
	EventPipeCloned      = "PLM.PIPE.CLONED"
	EventPipeDeleted     = "PLM.PIPE.DELETED"
)

// Request sources recorded in event payloads.
const (
	SourceInternal    = "internal"
	SourceExternalAPI = "external_api"
)

// OutboxEvent is a durable domain event row written in the same
// transaction as the mutation it describes.
type OutboxEvent struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	OrganizationID string         `json:"organization_id"`
	EventType      string         `json:"event_type"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Payload        map[string]any `json:"payload"`
	Status         OutboxStatus   `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}
