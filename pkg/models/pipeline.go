// Package models defines the domain models for the pipeline service.
package models

import (
	"time"
)

// PipelineStatus is the lifecycle status of a pipeline as a whole.
type PipelineStatus string

const (
	PipelineStatusDraft     PipelineStatus = "draft"
	PipelineStatusTest      PipelineStatus = "test"
	PipelineStatusPublished PipelineStatus = "published"
	PipelineStatusClosed    PipelineStatus = "closed"
	PipelineStatusArchived  PipelineStatus = "archived"
)

// VersionStatus is the lifecycle status of one pipeline version.
type VersionStatus string

const (
	VersionStatusDraft     VersionStatus = "draft"
	VersionStatusTest      VersionStatus = "test"
	VersionStatusPublished VersionStatus = "published"
	VersionStatusArchived  VersionStatus = "archived"
)

// versionTransitions is the closed transition table for version statuses.
// A published version is only ever archived by being superseded.
var versionTransitions = map[VersionStatus][]VersionStatus{
	VersionStatusDraft:     {VersionStatusTest, VersionStatusPublished},
	VersionStatusTest:      {VersionStatusDraft, VersionStatusPublished},
	VersionStatusPublished: {VersionStatusArchived, VersionStatusDraft},
	VersionStatusArchived:  {},
}

// CanTransition reports whether a version may move from s to target.
func (s VersionStatus) CanTransition(target VersionStatus) bool {
	for _, t := range versionTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Pipeline represents one multi-tenant workflow board.
type Pipeline struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	OrganizationID string         `json:"organization_id"`
	Key            string         `json:"key"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Status         PipelineStatus `json:"status"`
	// PublishedVersion is nil while no version is published.
	PublishedVersion *int      `json:"published_version,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PipelineVersion is one immutable-once-published snapshot of a pipeline's
// stages, transitions, and form rules. Version numbers increase strictly
// per pipeline and never change once assigned.
type PipelineVersion struct {
	ID         string        `json:"id"`
	PipelineID string        `json:"pipeline_id"`
	Version    int           `json:"version"`
	Status     VersionStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Stage is a named position within one pipeline version.
type Stage struct {
	ID         string `json:"id"`
	VersionID  string `json:"version_id"`
	Key        string `json:"key"`
	Name       string `json:"name"`
	StageOrder int    `json:"stage_order"`
	IsInitial  bool   `json:"is_initial"`
	IsFinal    bool   `json:"is_final"`
	// WIPLimit caps the number of active cards in the stage; nil means
	// unlimited.
	WIPLimit *int `json:"wip_limit,omitempty"`
	// RequireComment forces callers to supply a reason when moving a card
	// out of this stage.
	RequireComment bool      `json:"require_comment"`
	CreatedAt      time.Time `json:"created_at"`
}

// StageTransition is a directed edge between two stages of the same
// version. Only pairs present here are legal card moves.
type StageTransition struct {
	ID          string `json:"id"`
	VersionID   string `json:"version_id"`
	FromStageID string `json:"from_stage_id"`
	ToStageID   string `json:"to_stage_id"`
}

// StageFormRule declares that cards entering a stage gain a form, with a
// default fill status, and whether leaving the stage locks that form.
type StageFormRule struct {
	ID               string     `json:"id"`
	StageID          string     `json:"stage_id"`
	FormDefinitionID string     `json:"form_definition_id"`
	DefaultStatus    FormStatus `json:"default_status"`
	LockOnLeave      bool       `json:"lock_on_leave"`
}

// FormField is one field of a form definition's schema.
type FormField struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// FormDefinition is an org-scoped reusable form schema.
type FormDefinition struct {
	ID             string      `json:"id"`
	TenantID       string      `json:"tenant_id"`
	OrganizationID string      `json:"organization_id"`
	Key            string      `json:"key"`
	Name           string      `json:"name"`
	Fields         []FormField `json:"fields"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// RequiredFields returns the ids of fields marked required.
func (d *FormDefinition) RequiredFields() []string {
	var ids []string
	for _, f := range d.Fields {
		if f.Required {
			ids = append(ids, f.ID)
		}
	}
	return ids
}
