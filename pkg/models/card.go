package models

import (
	"time"
)

// CardStatus is the lifecycle status of a card.
type CardStatus string

const (
	CardStatusActive   CardStatus = "active"
	CardStatusClosed   CardStatus = "closed"
	CardStatusArchived CardStatus = "archived"
)

// FormStatus is the fill state of one form attached to a card. LOCKED is
// terminal for the attachment; the system never unlocks.
type FormStatus string

const (
	FormStatusToFill FormStatus = "TO_FILL"
	FormStatusFilled FormStatus = "FILLED"
	FormStatusLocked FormStatus = "LOCKED"
)

// Valid reports whether s is a known form status.
func (s FormStatus) Valid() bool {
	switch s {
	case FormStatusToFill, FormStatusFilled, FormStatusLocked:
		return true
	}
	return false
}

// Card is one tracked work item. It pins the pipeline version it was
// created under and never migrates when a newer version is published;
// CurrentStageID always references a stage of that pinned version.
type Card struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	OrganizationID  string     `json:"organization_id"`
	PipelineID      string     `json:"pipeline_id"`
	PipelineVersion int        `json:"pipeline_version"`
	CurrentStageID  string     `json:"current_stage_id"`
	Title           string     `json:"title"`
	Status          CardStatus `json:"status"`
	Priority        int        `json:"priority"`
	// SessionID is the external correlation id used by the API-key
	// surface; unique per pipeline when set.
	SessionID *string    `json:"session_id,omitempty"`
	Source    string     `json:"source"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// CardForm is one (card, form definition) attachment and its data
// document.
type CardForm struct {
	ID               string         `json:"id"`
	CardID           string         `json:"card_id"`
	FormDefinitionID string         `json:"form_definition_id"`
	Status           FormStatus     `json:"status"`
	Data             map[string]any `json:"data"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// CardMoveHistory is one append-only record of a stage transition.
type CardMoveHistory struct {
	ID          string    `json:"id"`
	CardID      string    `json:"card_id"`
	FromStageID string    `json:"from_stage_id"`
	ToStageID   string    `json:"to_stage_id"`
	Reason      string    `json:"reason,omitempty"`
	MovedBy     string    `json:"moved_by,omitempty"`
	MovedAt     time.Time `json:"moved_at"`
}
