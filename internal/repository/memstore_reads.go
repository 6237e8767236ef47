package repository

import (
	"context"
	"time"

	"flowdeck/pkg/models"
)

// Direct (non-transactional) Store methods. Each takes the store mutex and
// delegates to a Tx view over the live state, mirroring how the Postgres
// store serves reads straight off the pool.

func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateTenant(ctx, tenant)
}

func (s *MemoryStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetTenantByDomain(ctx, domain)
}

func (s *MemoryStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateOrganization(ctx, org)
}

func (s *MemoryStore) GetOrganizationByKey(ctx context.Context, tenantID, key string) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetOrganizationByKey(ctx, tenantID, key)
}

func (s *MemoryStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateAPIKey(ctx, key)
}

func (s *MemoryStore) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetAPIKeyByHash(ctx, hash)
}

func (s *MemoryStore) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().TouchAPIKey(ctx, id, usedAt)
}

func (s *MemoryStore) CreateFormDefinition(ctx context.Context, scope models.Scope, def *models.FormDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateFormDefinition(ctx, scope, def)
}

func (s *MemoryStore) GetFormDefinition(ctx context.Context, scope models.Scope, id string) (*models.FormDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetFormDefinition(ctx, scope, id)
}

func (s *MemoryStore) GetFormDefinitionByKey(ctx context.Context, scope models.Scope, key string) (*models.FormDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetFormDefinitionByKey(ctx, scope, key)
}

func (s *MemoryStore) CreatePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreatePipeline(ctx, pipeline)
}

func (s *MemoryStore) GetPipeline(ctx context.Context, scope models.Scope, id string) (*models.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetPipeline(ctx, scope, id)
}

func (s *MemoryStore) GetPipelineByKey(ctx context.Context, scope models.Scope, key string) (*models.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetPipelineByKey(ctx, scope, key)
}

func (s *MemoryStore) UpdatePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().UpdatePipeline(ctx, pipeline)
}

func (s *MemoryStore) DeletePipeline(ctx context.Context, scope models.Scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().DeletePipeline(ctx, scope, id)
}

func (s *MemoryStore) CreateVersion(ctx context.Context, version *models.PipelineVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateVersion(ctx, version)
}

func (s *MemoryStore) GetVersion(ctx context.Context, pipelineID string, number int) (*models.PipelineVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetVersion(ctx, pipelineID, number)
}

func (s *MemoryStore) ListVersions(ctx context.Context, pipelineID string) ([]*models.PipelineVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListVersions(ctx, pipelineID)
}

func (s *MemoryStore) UpdateVersionStatus(ctx context.Context, versionID string, status models.VersionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().UpdateVersionStatus(ctx, versionID, status)
}

func (s *MemoryStore) CreateStage(ctx context.Context, stage *models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateStage(ctx, stage)
}

func (s *MemoryStore) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetStage(ctx, id)
}

func (s *MemoryStore) GetStageByKey(ctx context.Context, versionID, key string) (*models.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetStageByKey(ctx, versionID, key)
}

func (s *MemoryStore) ListStages(ctx context.Context, versionID string) ([]*models.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListStages(ctx, versionID)
}

func (s *MemoryStore) LockStage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().LockStage(ctx, id)
}

func (s *MemoryStore) CreateTransition(ctx context.Context, tr *models.StageTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateTransition(ctx, tr)
}

func (s *MemoryStore) ListTransitions(ctx context.Context, versionID string) ([]*models.StageTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListTransitions(ctx, versionID)
}

func (s *MemoryStore) ListTransitionsFrom(ctx context.Context, fromStageID string) ([]*models.StageTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListTransitionsFrom(ctx, fromStageID)
}

func (s *MemoryStore) CreateFormRule(ctx context.Context, rule *models.StageFormRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateFormRule(ctx, rule)
}

func (s *MemoryStore) ListFormRules(ctx context.Context, stageID string) ([]*models.StageFormRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListFormRules(ctx, stageID)
}

func (s *MemoryStore) CreateCard(ctx context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateCard(ctx, card)
}

func (s *MemoryStore) GetCard(ctx context.Context, scope models.Scope, id string) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetCard(ctx, scope, id)
}

func (s *MemoryStore) GetCardBySessionID(ctx context.Context, scope models.Scope, pipelineID, sessionID string) (*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().GetCardBySessionID(ctx, scope, pipelineID, sessionID)
}

func (s *MemoryStore) UpdateCard(ctx context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().UpdateCard(ctx, card)
}

func (s *MemoryStore) ListCards(ctx context.Context, scope models.Scope, pipelineID string) ([]*models.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListCards(ctx, scope, pipelineID)
}

func (s *MemoryStore) CountActiveCardsInStage(ctx context.Context, stageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CountActiveCardsInStage(ctx, stageID)
}

func (s *MemoryStore) CountActiveCardsInPipeline(ctx context.Context, pipelineID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CountActiveCardsInPipeline(ctx, pipelineID)
}

func (s *MemoryStore) DeleteCardsForVersion(ctx context.Context, pipelineID string, version int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().DeleteCardsForVersion(ctx, pipelineID, version)
}

func (s *MemoryStore) DeleteCardsForPipeline(ctx context.Context, pipelineID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().DeleteCardsForPipeline(ctx, pipelineID)
}

func (s *MemoryStore) CreateCardForm(ctx context.Context, form *models.CardForm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().CreateCardForm(ctx, form)
}

func (s *MemoryStore) ListCardForms(ctx context.Context, cardID string) ([]*models.CardForm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListCardForms(ctx, cardID)
}

func (s *MemoryStore) UpdateCardForm(ctx context.Context, form *models.CardForm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().UpdateCardForm(ctx, form)
}

func (s *MemoryStore) AppendMoveHistory(ctx context.Context, entry *models.CardMoveHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().AppendMoveHistory(ctx, entry)
}

func (s *MemoryStore) ListMoveHistory(ctx context.Context, cardID string) ([]*models.CardMoveHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListMoveHistory(ctx, cardID)
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *models.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().AppendEvent(ctx, event)
}

func (s *MemoryStore) ListPendingEvents(ctx context.Context, scope models.Scope, limit int) ([]*models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx().ListPendingEvents(ctx, scope, limit)
}
