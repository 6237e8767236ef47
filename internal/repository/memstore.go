package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"flowdeck/pkg/models"
)

// MemoryStore is an in-memory implementation of Store used by the service
// tests and local tooling. Mutations performed inside WithinTx are applied
// to a scratch copy of the state and swapped in only on success, so
// rollback semantics match the Postgres store.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	tenants     map[string]models.Tenant
	orgs        map[string]models.Organization
	apiKeys     map[string]models.APIKey
	formDefs    map[string]models.FormDefinition
	pipelines   map[string]models.Pipeline
	versions    map[string]models.PipelineVersion
	stages      map[string]models.Stage
	transitions map[string]models.StageTransition
	formRules   map[string]models.StageFormRule
	cards       map[string]models.Card
	cardForms   map[string]models.CardForm
	history     map[string]models.CardMoveHistory
	events      map[string]models.OutboxEvent
}

func newMemState() *memState {
	return &memState{
		tenants:     map[string]models.Tenant{},
		orgs:        map[string]models.Organization{},
		apiKeys:     map[string]models.APIKey{},
		formDefs:    map[string]models.FormDefinition{},
		pipelines:   map[string]models.Pipeline{},
		versions:    map[string]models.PipelineVersion{},
		stages:      map[string]models.Stage{},
		transitions: map[string]models.StageTransition{},
		formRules:   map[string]models.StageFormRule{},
		cards:       map[string]models.Card{},
		cardForms:   map[string]models.CardForm{},
		history:     map[string]models.CardMoveHistory{},
		events:      map[string]models.OutboxEvent{},
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (m *memState) clone() *memState {
	c := newMemState()
	for k, v := range m.tenants {
		c.tenants[k] = v
	}
	for k, v := range m.orgs {
		c.orgs[k] = v
	}
	for k, v := range m.apiKeys {
		v.Scopes = append([]string(nil), v.Scopes...)
		c.apiKeys[k] = v
	}
	for k, v := range m.formDefs {
		v.Fields = append([]models.FormField(nil), v.Fields...)
		c.formDefs[k] = v
	}
	for k, v := range m.pipelines {
		v.PublishedVersion = cloneIntPtr(v.PublishedVersion)
		c.pipelines[k] = v
	}
	for k, v := range m.versions {
		c.versions[k] = v
	}
	for k, v := range m.stages {
		v.WIPLimit = cloneIntPtr(v.WIPLimit)
		c.stages[k] = v
	}
	for k, v := range m.transitions {
		c.transitions[k] = v
	}
	for k, v := range m.formRules {
		c.formRules[k] = v
	}
	for k, v := range m.cards {
		v.SessionID = cloneStrPtr(v.SessionID)
		v.ClosedAt = cloneTimePtr(v.ClosedAt)
		c.cards[k] = v
	}
	for k, v := range m.cardForms {
		v.Data = cloneDataMap(v.Data)
		c.cardForms[k] = v
	}
	for k, v := range m.history {
		c.history[k] = v
	}
	for k, v := range m.events {
		v.Payload = cloneDataMap(v.Payload)
		c.events[k] = v
	}
	return c
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneDataMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// memTx implements Tx against a memState.
type memTx struct {
	state *memState
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// WithinTx runs fn against a scratch copy of the state and installs it
// only when fn succeeds.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scratch := s.state.clone()
	if err := fn(ctx, &memTx{state: scratch}); err != nil {
		return err
	}
	s.state = scratch
	return nil
}

func (s *MemoryStore) tx() *memTx {
	return &memTx{state: s.state}
}

// --- tenancy ---

func (t *memTx) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	now := time.Now().UTC()
	tenant.CreatedAt, tenant.UpdatedAt = now, now
	t.state.tenants[tenant.ID] = *tenant
	return nil
}

func (t *memTx) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	for _, v := range t.state.tenants {
		if v.Domain == domain {
			out := v
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateOrganization(ctx context.Context, org *models.Organization) error {
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now
	t.state.orgs[org.ID] = *org
	return nil
}

func (t *memTx) GetOrganizationByKey(ctx context.Context, tenantID, key string) (*models.Organization, error) {
	for _, v := range t.state.orgs {
		if v.TenantID == tenantID && v.Key == key {
			out := v
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	key.CreatedAt = time.Now().UTC()
	t.state.apiKeys[key.ID] = *key
	return nil
}

func (t *memTx) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	for _, v := range t.state.apiKeys {
		if v.KeyHash == hash {
			out := v
			out.Scopes = append([]string(nil), v.Scopes...)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	k, ok := t.state.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	k.LastUsedAt = &usedAt
	t.state.apiKeys[id] = k
	return nil
}

// --- form definitions ---

func (t *memTx) CreateFormDefinition(ctx context.Context, scope models.Scope, def *models.FormDefinition) error {
	for _, d := range t.state.formDefs {
		if d.TenantID == scope.TenantID && d.OrganizationID == scope.OrganizationID && d.Key == def.Key {
			return &DuplicateError{Constraint: "form_definitions_organization_id_key_key"}
		}
	}
	now := time.Now().UTC()
	def.TenantID = scope.TenantID
	def.OrganizationID = scope.OrganizationID
	def.CreatedAt, def.UpdatedAt = now, now
	t.state.formDefs[def.ID] = *def
	return nil
}

func (t *memTx) GetFormDefinition(ctx context.Context, scope models.Scope, id string) (*models.FormDefinition, error) {
	d, ok := t.state.formDefs[id]
	if !ok || d.TenantID != scope.TenantID || d.OrganizationID != scope.OrganizationID {
		return nil, ErrNotFound
	}
	out := d
	out.Fields = append([]models.FormField(nil), d.Fields...)
	return &out, nil
}

func (t *memTx) GetFormDefinitionByKey(ctx context.Context, scope models.Scope, key string) (*models.FormDefinition, error) {
	for _, d := range t.state.formDefs {
		if d.Key == key && d.TenantID == scope.TenantID && d.OrganizationID == scope.OrganizationID {
			out := d
			out.Fields = append([]models.FormField(nil), d.Fields...)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// --- pipelines ---

func (t *memTx) CreatePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	for _, p := range t.state.pipelines {
		if p.TenantID == pipeline.TenantID && p.OrganizationID == pipeline.OrganizationID && p.Key == pipeline.Key {
			return &DuplicateError{Constraint: "pipelines_organization_id_key_key"}
		}
	}
	now := time.Now().UTC()
	pipeline.CreatedAt, pipeline.UpdatedAt = now, now
	t.state.pipelines[pipeline.ID] = *pipeline
	return nil
}

func (t *memTx) GetPipeline(ctx context.Context, scope models.Scope, id string) (*models.Pipeline, error) {
	p, ok := t.state.pipelines[id]
	if !ok || p.TenantID != scope.TenantID || p.OrganizationID != scope.OrganizationID {
		return nil, ErrNotFound
	}
	out := p
	out.PublishedVersion = cloneIntPtr(p.PublishedVersion)
	return &out, nil
}

func (t *memTx) GetPipelineByKey(ctx context.Context, scope models.Scope, key string) (*models.Pipeline, error) {
	for _, p := range t.state.pipelines {
		if p.Key == key && p.TenantID == scope.TenantID && p.OrganizationID == scope.OrganizationID {
			out := p
			out.PublishedVersion = cloneIntPtr(p.PublishedVersion)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdatePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	stored, ok := t.state.pipelines[pipeline.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Name = pipeline.Name
	stored.Description = pipeline.Description
	stored.Status = pipeline.Status
	stored.PublishedVersion = cloneIntPtr(pipeline.PublishedVersion)
	stored.UpdatedAt = time.Now().UTC()
	t.state.pipelines[pipeline.ID] = stored
	return nil
}

// DeletePipeline removes the pipeline and, mirroring the cascades on its
// version rows, every stage, transition, and form rule it owns.
func (t *memTx) DeletePipeline(ctx context.Context, scope models.Scope, id string) error {
	p, ok := t.state.pipelines[id]
	if !ok || p.TenantID != scope.TenantID || p.OrganizationID != scope.OrganizationID {
		return ErrNotFound
	}
	delete(t.state.pipelines, id)
	for vid, v := range t.state.versions {
		if v.PipelineID != id {
			continue
		}
		delete(t.state.versions, vid)
		for sid, s := range t.state.stages {
			if s.VersionID != vid {
				continue
			}
			delete(t.state.stages, sid)
			for rid, r := range t.state.formRules {
				if r.StageID == sid {
					delete(t.state.formRules, rid)
				}
			}
		}
		for tid, tr := range t.state.transitions {
			if tr.VersionID == vid {
				delete(t.state.transitions, tid)
			}
		}
	}
	return nil
}

// --- versions ---

func (t *memTx) CreateVersion(ctx context.Context, version *models.PipelineVersion) error {
	now := time.Now().UTC()
	version.CreatedAt, version.UpdatedAt = now, now
	t.state.versions[version.ID] = *version
	return nil
}

func (t *memTx) GetVersion(ctx context.Context, pipelineID string, number int) (*models.PipelineVersion, error) {
	for _, v := range t.state.versions {
		if v.PipelineID == pipelineID && v.Version == number {
			out := v
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) ListVersions(ctx context.Context, pipelineID string) ([]*models.PipelineVersion, error) {
	var versions []*models.PipelineVersion
	for _, v := range t.state.versions {
		if v.PipelineID == pipelineID {
			out := v
			versions = append(versions, &out)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

func (t *memTx) UpdateVersionStatus(ctx context.Context, versionID string, status models.VersionStatus) error {
	v, ok := t.state.versions[versionID]
	if !ok {
		return ErrNotFound
	}
	v.Status = status
	v.UpdatedAt = time.Now().UTC()
	t.state.versions[versionID] = v
	return nil
}

// --- stages, transitions, form rules ---

func (t *memTx) CreateStage(ctx context.Context, stage *models.Stage) error {
	for _, s := range t.state.stages {
		if s.VersionID == stage.VersionID && s.Key == stage.Key {
			return &DuplicateError{Constraint: "stages_version_id_key_key"}
		}
	}
	stage.CreatedAt = time.Now().UTC()
	stored := *stage
	stored.WIPLimit = cloneIntPtr(stage.WIPLimit)
	t.state.stages[stage.ID] = stored
	return nil
}

func (t *memTx) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	s, ok := t.state.stages[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := s
	out.WIPLimit = cloneIntPtr(s.WIPLimit)
	return &out, nil
}

func (t *memTx) GetStageByKey(ctx context.Context, versionID, key string) (*models.Stage, error) {
	for _, s := range t.state.stages {
		if s.VersionID == versionID && s.Key == key {
			out := s
			out.WIPLimit = cloneIntPtr(s.WIPLimit)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) ListStages(ctx context.Context, versionID string) ([]*models.Stage, error) {
	var stages []*models.Stage
	for _, s := range t.state.stages {
		if s.VersionID == versionID {
			out := s
			out.WIPLimit = cloneIntPtr(s.WIPLimit)
			stages = append(stages, &out)
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].StageOrder < stages[j].StageOrder })
	return stages, nil
}

// LockStage is a no-op: memory-store operations already serialize on the
// store mutex.
func (t *memTx) LockStage(ctx context.Context, id string) error {
	if _, ok := t.state.stages[id]; !ok {
		return ErrNotFound
	}
	return nil
}

func (t *memTx) CreateTransition(ctx context.Context, tr *models.StageTransition) error {
	for _, existing := range t.state.transitions {
		if existing.FromStageID == tr.FromStageID && existing.ToStageID == tr.ToStageID {
			return &DuplicateError{Constraint: "stage_transitions_from_stage_id_to_stage_id_key"}
		}
	}
	t.state.transitions[tr.ID] = *tr
	return nil
}

func (t *memTx) ListTransitions(ctx context.Context, versionID string) ([]*models.StageTransition, error) {
	var transitions []*models.StageTransition
	for _, tr := range t.state.transitions {
		if tr.VersionID == versionID {
			out := tr
			transitions = append(transitions, &out)
		}
	}
	return transitions, nil
}

func (t *memTx) ListTransitionsFrom(ctx context.Context, fromStageID string) ([]*models.StageTransition, error) {
	var transitions []*models.StageTransition
	for _, tr := range t.state.transitions {
		if tr.FromStageID == fromStageID {
			out := tr
			transitions = append(transitions, &out)
		}
	}
	return transitions, nil
}

func (t *memTx) CreateFormRule(ctx context.Context, rule *models.StageFormRule) error {
	t.state.formRules[rule.ID] = *rule
	return nil
}

func (t *memTx) ListFormRules(ctx context.Context, stageID string) ([]*models.StageFormRule, error) {
	var rules []*models.StageFormRule
	for _, r := range t.state.formRules {
		if r.StageID == stageID {
			out := r
			rules = append(rules, &out)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// --- cards ---

func (t *memTx) CreateCard(ctx context.Context, card *models.Card) error {
	if card.SessionID != nil {
		for _, existing := range t.state.cards {
			if existing.PipelineID == card.PipelineID && existing.SessionID != nil &&
				*existing.SessionID == *card.SessionID {
				return &DuplicateError{Constraint: "cards_pipeline_id_session_id_key"}
			}
		}
	}
	now := time.Now().UTC()
	card.CreatedAt, card.UpdatedAt = now, now
	stored := *card
	stored.SessionID = cloneStrPtr(card.SessionID)
	t.state.cards[card.ID] = stored
	return nil
}

func (t *memTx) GetCard(ctx context.Context, scope models.Scope, id string) (*models.Card, error) {
	c, ok := t.state.cards[id]
	if !ok || c.TenantID != scope.TenantID || c.OrganizationID != scope.OrganizationID {
		return nil, ErrNotFound
	}
	out := c
	out.SessionID = cloneStrPtr(c.SessionID)
	out.ClosedAt = cloneTimePtr(c.ClosedAt)
	return &out, nil
}

func (t *memTx) GetCardBySessionID(ctx context.Context, scope models.Scope, pipelineID, sessionID string) (*models.Card, error) {
	for _, c := range t.state.cards {
		if c.PipelineID == pipelineID && c.SessionID != nil && *c.SessionID == sessionID &&
			c.TenantID == scope.TenantID && c.OrganizationID == scope.OrganizationID {
			out := c
			out.SessionID = cloneStrPtr(c.SessionID)
			out.ClosedAt = cloneTimePtr(c.ClosedAt)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdateCard(ctx context.Context, card *models.Card) error {
	stored, ok := t.state.cards[card.ID]
	if !ok {
		return ErrNotFound
	}
	stored.CurrentStageID = card.CurrentStageID
	stored.Title = card.Title
	stored.Status = card.Status
	stored.Priority = card.Priority
	stored.ClosedAt = cloneTimePtr(card.ClosedAt)
	stored.UpdatedAt = time.Now().UTC()
	t.state.cards[card.ID] = stored
	return nil
}

func (t *memTx) ListCards(ctx context.Context, scope models.Scope, pipelineID string) ([]*models.Card, error) {
	var cards []*models.Card
	for _, c := range t.state.cards {
		if c.PipelineID == pipelineID && c.TenantID == scope.TenantID && c.OrganizationID == scope.OrganizationID {
			out := c
			out.SessionID = cloneStrPtr(c.SessionID)
			out.ClosedAt = cloneTimePtr(c.ClosedAt)
			cards = append(cards, &out)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].CreatedAt.Before(cards[j].CreatedAt) })
	return cards, nil
}

func (t *memTx) CountActiveCardsInStage(ctx context.Context, stageID string) (int, error) {
	count := 0
	for _, c := range t.state.cards {
		if c.CurrentStageID == stageID && c.Status == models.CardStatusActive {
			count++
		}
	}
	return count, nil
}

func (t *memTx) CountActiveCardsInPipeline(ctx context.Context, pipelineID string) (int, error) {
	count := 0
	for _, c := range t.state.cards {
		if c.PipelineID == pipelineID && c.Status == models.CardStatusActive {
			count++
		}
	}
	return count, nil
}

func (t *memTx) DeleteCardsForVersion(ctx context.Context, pipelineID string, version int) (int, error) {
	deleted := 0
	for id, c := range t.state.cards {
		if c.PipelineID != pipelineID || c.PipelineVersion != version {
			continue
		}
		t.purgeCard(id)
		deleted++
	}
	return deleted, nil
}

func (t *memTx) DeleteCardsForPipeline(ctx context.Context, pipelineID string) (int, error) {
	deleted := 0
	for id, c := range t.state.cards {
		if c.PipelineID != pipelineID {
			continue
		}
		t.purgeCard(id)
		deleted++
	}
	return deleted, nil
}

// purgeCard removes a card together with its forms and move history,
// mirroring the cascades on the card row.
func (t *memTx) purgeCard(id string) {
	delete(t.state.cards, id)
	for fid, f := range t.state.cardForms {
		if f.CardID == id {
			delete(t.state.cardForms, fid)
		}
	}
	for hid, h := range t.state.history {
		if h.CardID == id {
			delete(t.state.history, hid)
		}
	}
}

// --- card forms, history ---

func (t *memTx) CreateCardForm(ctx context.Context, form *models.CardForm) error {
	for _, f := range t.state.cardForms {
		if f.CardID == form.CardID && f.FormDefinitionID == form.FormDefinitionID {
			return &DuplicateError{Constraint: "card_forms_card_id_form_definition_id_key"}
		}
	}
	now := time.Now().UTC()
	form.CreatedAt, form.UpdatedAt = now, now
	stored := *form
	stored.Data = cloneDataMap(form.Data)
	t.state.cardForms[form.ID] = stored
	return nil
}

func (t *memTx) ListCardForms(ctx context.Context, cardID string) ([]*models.CardForm, error) {
	var forms []*models.CardForm
	for _, f := range t.state.cardForms {
		if f.CardID == cardID {
			out := f
			out.Data = cloneDataMap(f.Data)
			forms = append(forms, &out)
		}
	}
	sort.Slice(forms, func(i, j int) bool {
		return strings.Compare(forms[i].ID, forms[j].ID) < 0
	})
	return forms, nil
}

func (t *memTx) UpdateCardForm(ctx context.Context, form *models.CardForm) error {
	stored, ok := t.state.cardForms[form.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = form.Status
	stored.Data = cloneDataMap(form.Data)
	stored.UpdatedAt = time.Now().UTC()
	t.state.cardForms[form.ID] = stored
	return nil
}

func (t *memTx) AppendMoveHistory(ctx context.Context, entry *models.CardMoveHistory) error {
	if entry.MovedAt.IsZero() {
		entry.MovedAt = time.Now().UTC()
	}
	t.state.history[entry.ID] = *entry
	return nil
}

func (t *memTx) ListMoveHistory(ctx context.Context, cardID string) ([]*models.CardMoveHistory, error) {
	var history []*models.CardMoveHistory
	for _, h := range t.state.history {
		if h.CardID == cardID {
			out := h
			history = append(history, &out)
		}
	}
	sort.Slice(history, func(i, j int) bool { return history[i].MovedAt.Before(history[j].MovedAt) })
	return history, nil
}

// --- outbox ---

func (t *memTx) AppendEvent(ctx context.Context, event *models.OutboxEvent) error {
	event.CreatedAt = time.Now().UTC()
	stored := *event
	stored.Payload = cloneDataMap(event.Payload)
	t.state.events[event.ID] = stored
	return nil
}

func (t *memTx) ListPendingEvents(ctx context.Context, scope models.Scope, limit int) ([]*models.OutboxEvent, error) {
	var events []*models.OutboxEvent
	for _, e := range t.state.events {
		if e.TenantID == scope.TenantID && e.OrganizationID == scope.OrganizationID &&
			e.Status == models.OutboxStatusPending {
			out := e
			out.Payload = cloneDataMap(e.Payload)
			events = append(events, &out)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}
