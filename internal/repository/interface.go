// Package repository defines the storage contract for the pipeline
// service. The service layer depends only on these interfaces; the
// Postgres implementation and the in-memory test store both satisfy them.
package repository

import (
	"context"
	"errors"
	"time"

	"flowdeck/pkg/models"
)

// ErrNotFound is returned by lookups when no row matches within the
// caller's scope. Implementations must not leak rows across scopes.
var ErrNotFound = errors.New("not found")

// DuplicateError is returned when an insert violates a uniqueness
// constraint, such as a pipeline key or a card session id already in use.
type DuplicateError struct {
	Constraint string
}

func (e *DuplicateError) Error() string {
	return "duplicate row: " + e.Constraint
}

// IsDuplicate reports whether err is a uniqueness violation.
func IsDuplicate(err error) bool {
	var d *DuplicateError
	return errors.As(err, &d)
}

// Tx is the set of operations available inside one unit of work. Entity
// reads and writes performed on a Tx either all commit together or not at
// all, including the outbox append.
type Tx interface {
	// Tenancy.
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganizationByKey(ctx context.Context, tenantID, key string) (*models.Organization, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error

	// Form definitions.
	CreateFormDefinition(ctx context.Context, scope models.Scope, def *models.FormDefinition) error
	GetFormDefinition(ctx context.Context, scope models.Scope, id string) (*models.FormDefinition, error)
	GetFormDefinitionByKey(ctx context.Context, scope models.Scope, key string) (*models.FormDefinition, error)

	// Pipelines and versions. Stage, transition, and form-rule rows are
	// reached through their owning version and inherit its scope.
	CreatePipeline(ctx context.Context, pipeline *models.Pipeline) error
	GetPipeline(ctx context.Context, scope models.Scope, id string) (*models.Pipeline, error)
	GetPipelineByKey(ctx context.Context, scope models.Scope, key string) (*models.Pipeline, error)
	UpdatePipeline(ctx context.Context, pipeline *models.Pipeline) error
	DeletePipeline(ctx context.Context, scope models.Scope, id string) error
	CreateVersion(ctx context.Context, version *models.PipelineVersion) error
	GetVersion(ctx context.Context, pipelineID string, number int) (*models.PipelineVersion, error)
	ListVersions(ctx context.Context, pipelineID string) ([]*models.PipelineVersion, error)
	UpdateVersionStatus(ctx context.Context, versionID string, status models.VersionStatus) error

	CreateStage(ctx context.Context, stage *models.Stage) error
	GetStage(ctx context.Context, id string) (*models.Stage, error)
	GetStageByKey(ctx context.Context, versionID, key string) (*models.Stage, error)
	ListStages(ctx context.Context, versionID string) ([]*models.Stage, error)
	// LockStage takes a row lock on the stage for the remainder of the
	// transaction, serializing concurrent WIP-limit checks on it.
	LockStage(ctx context.Context, id string) error
	CreateTransition(ctx context.Context, tr *models.StageTransition) error
	ListTransitions(ctx context.Context, versionID string) ([]*models.StageTransition, error)
	ListTransitionsFrom(ctx context.Context, fromStageID string) ([]*models.StageTransition, error)
	CreateFormRule(ctx context.Context, rule *models.StageFormRule) error
	ListFormRules(ctx context.Context, stageID string) ([]*models.StageFormRule, error)

	// Cards.
	CreateCard(ctx context.Context, card *models.Card) error
	GetCard(ctx context.Context, scope models.Scope, id string) (*models.Card, error)
	GetCardBySessionID(ctx context.Context, scope models.Scope, pipelineID, sessionID string) (*models.Card, error)
	UpdateCard(ctx context.Context, card *models.Card) error
	ListCards(ctx context.Context, scope models.Scope, pipelineID string) ([]*models.Card, error)
	CountActiveCardsInStage(ctx context.Context, stageID string) (int, error)
	CountActiveCardsInPipeline(ctx context.Context, pipelineID string) (int, error)
	// DeleteCardsForVersion removes every card created under the given
	// pipeline version along with its forms and move history. Used only
	// by test-version teardown.
	DeleteCardsForVersion(ctx context.Context, pipelineID string, version int) (int, error)
	// DeleteCardsForPipeline removes every card of the pipeline across
	// all versions. Pipeline deletion runs this first, since cards block
	// the pipeline row from being removed.
	DeleteCardsForPipeline(ctx context.Context, pipelineID string) (int, error)

	CreateCardForm(ctx context.Context, form *models.CardForm) error
	ListCardForms(ctx context.Context, cardID string) ([]*models.CardForm, error)
	UpdateCardForm(ctx context.Context, form *models.CardForm) error
	AppendMoveHistory(ctx context.Context, entry *models.CardMoveHistory) error
	ListMoveHistory(ctx context.Context, cardID string) ([]*models.CardMoveHistory, error)

	// Outbox.
	AppendEvent(ctx context.Context, event *models.OutboxEvent) error
	ListPendingEvents(ctx context.Context, scope models.Scope, limit int) ([]*models.OutboxEvent, error)
}

// Store is the top-level storage handle. Reads outside a unit of work run
// on the shared pool; WithinTx opens one transaction, passes it to fn, and
// commits only when fn returns nil. Any error rolls back everything.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}
