package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowdeck/pkg/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same query
// methods serve reads on the pool and reads/writes inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	queries
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore on the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{queries: queries{db: pool}, pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithinTx runs fn inside one database transaction. The transaction
// commits only if fn returns nil; any error or panic rolls back every
// write made through the Tx, including outbox appends.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queries implements Tx against any querier.
type queries struct {
	db querier
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// mapDuplicate converts Postgres unique-violation errors (23505) into
// DuplicateError so the service layer can surface them as conflicts.
func mapDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &DuplicateError{Constraint: pgErr.ConstraintName}
	}
	return err
}

// --- tenancy ---

func (q *queries) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO tenants (id, name, domain) VALUES ($1, $2, $3)`,
		tenant.ID, tenant.Name, tenant.Domain)
	return err
}

func (q *queries) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	err := q.db.QueryRow(ctx,
		`SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1`,
		domain).Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &t, nil
}

func (q *queries) CreateOrganization(ctx context.Context, org *models.Organization) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO organizations (id, tenant_id, key, name) VALUES ($1, $2, $3, $4)`,
		org.ID, org.TenantID, org.Key, org.Name)
	return err
}

func (q *queries) GetOrganizationByKey(ctx context.Context, tenantID, key string) (*models.Organization, error) {
	var o models.Organization
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, key, name, created_at, updated_at
		 FROM organizations WHERE tenant_id = $1 AND key = $2`,
		tenantID, key).Scan(&o.ID, &o.TenantID, &o.Key, &o.Name, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &o, nil
}

func (q *queries) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, organization_id, name, key_hash, scopes)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.TenantID, key.OrganizationID, key.Name, key.KeyHash, key.Scopes)
	return err
}

func (q *queries) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	var k models.APIKey
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, organization_id, name, key_hash, scopes, created_at, last_used_at
		 FROM api_keys WHERE key_hash = $1`,
		hash).Scan(&k.ID, &k.TenantID, &k.OrganizationID, &k.Name, &k.KeyHash, &k.Scopes, &k.CreatedAt, &k.LastUsedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &k, nil
}

func (q *queries) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, usedAt, id)
	return err
}

// --- form definitions ---

func (q *queries) CreateFormDefinition(ctx context.Context, scope models.Scope, def *models.FormDefinition) error {
	fields, err := json.Marshal(def.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal form fields: %w", err)
	}
	_, err = q.db.Exec(ctx,
		`INSERT INTO form_definitions (id, tenant_id, organization_id, key, name, fields)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		def.ID, scope.TenantID, scope.OrganizationID, def.Key, def.Name, fields)
	return mapDuplicate(err)
}

func (q *queries) scanFormDefinition(row pgx.Row) (*models.FormDefinition, error) {
	var d models.FormDefinition
	var fields []byte
	err := row.Scan(&d.ID, &d.TenantID, &d.OrganizationID, &d.Key, &d.Name, &fields, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if err := json.Unmarshal(fields, &d.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal form fields: %w", err)
	}
	return &d, nil
}

func (q *queries) GetFormDefinition(ctx context.Context, scope models.Scope, id string) (*models.FormDefinition, error) {
	return q.scanFormDefinition(q.db.QueryRow(ctx,
		`SELECT id, tenant_id, organization_id, key, name, fields, created_at, updated_at
		 FROM form_definitions WHERE id = $1 AND tenant_id = $2 AND organization_id = $3`,
		id, scope.TenantID, scope.OrganizationID))
}

func (q *queries) GetFormDefinitionByKey(ctx context.Context, scope models.Scope, key string) (*models.FormDefinition, error) {
	return q.scanFormDefinition(q.db.QueryRow(ctx,
		`SELECT id, tenant_id, organization_id, key, name, fields, created_at, updated_at
		 FROM form_definitions WHERE key = $1 AND tenant_id = $2 AND organization_id = $3`,
		key, scope.TenantID, scope.OrganizationID))
}

// --- pipelines ---

const pipelineColumns = `id, tenant_id, organization_id, key, name, description, status, published_version, created_at, updated_at`

func (q *queries) scanPipeline(row pgx.Row) (*models.Pipeline, error) {
	var p models.Pipeline
	err := row.Scan(&p.ID, &p.TenantID, &p.OrganizationID, &p.Key, &p.Name, &p.Description,
		&p.Status, &p.PublishedVersion, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &p, nil
}

func (q *queries) CreatePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO pipelines (id, tenant_id, organization_id, key, name, description, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pipeline.ID, pipeline.TenantID, pipeline.OrganizationID, pipeline.Key,
		pipeline.Name, pipeline.Description, pipeline.Status)
	return mapDuplicate(err)
}

func (q *queries) GetPipeline(ctx context.Context, scope models.Scope, id string) (*models.Pipeline, error) {
	return q.scanPipeline(q.db.QueryRow(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines
		 WHERE id = $1 AND tenant_id = $2 AND organization_id = $3`,
		id, scope.TenantID, scope.OrganizationID))
}

func (q *queries) GetPipelineByKey(ctx context.Context, scope models.Scope, key string) (*models.Pipeline, error) {
	return q.scanPipeline(q.db.QueryRow(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines
		 WHERE key = $1 AND tenant_id = $2 AND organization_id = $3`,
		key, scope.TenantID, scope.OrganizationID))
}

func (q *queries) UpdatePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	_, err := q.db.Exec(ctx,
		`UPDATE pipelines SET name = $1, description = $2, status = $3, published_version = $4, updated_at = now()
		 WHERE id = $5`,
		pipeline.Name, pipeline.Description, pipeline.Status, pipeline.PublishedVersion, pipeline.ID)
	return err
}

func (q *queries) DeletePipeline(ctx context.Context, scope models.Scope, id string) error {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM pipelines WHERE id = $1 AND tenant_id = $2 AND organization_id = $3`,
		id, scope.TenantID, scope.OrganizationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- versions ---

func (q *queries) CreateVersion(ctx context.Context, version *models.PipelineVersion) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO pipeline_versions (id, pipeline_id, version, status) VALUES ($1, $2, $3, $4)`,
		version.ID, version.PipelineID, version.Version, version.Status)
	return err
}

func (q *queries) GetVersion(ctx context.Context, pipelineID string, number int) (*models.PipelineVersion, error) {
	var v models.PipelineVersion
	err := q.db.QueryRow(ctx,
		`SELECT id, pipeline_id, version, status, created_at, updated_at
		 FROM pipeline_versions WHERE pipeline_id = $1 AND version = $2`,
		pipelineID, number).Scan(&v.ID, &v.PipelineID, &v.Version, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &v, nil
}

func (q *queries) ListVersions(ctx context.Context, pipelineID string) ([]*models.PipelineVersion, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, pipeline_id, version, status, created_at, updated_at
		 FROM pipeline_versions WHERE pipeline_id = $1 ORDER BY version`,
		pipelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*models.PipelineVersion
	for rows.Next() {
		var v models.PipelineVersion
		if err := rows.Scan(&v.ID, &v.PipelineID, &v.Version, &v.Status, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
}

func (q *queries) UpdateVersionStatus(ctx context.Context, versionID string, status models.VersionStatus) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE pipeline_versions SET status = $1, updated_at = now() WHERE id = $2`,
		status, versionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- stages, transitions, form rules ---

const stageColumns = `id, version_id, key, name, stage_order, is_initial, is_final, wip_limit, require_comment, created_at`

func (q *queries) scanStage(row pgx.Row) (*models.Stage, error) {
	var s models.Stage
	err := row.Scan(&s.ID, &s.VersionID, &s.Key, &s.Name, &s.StageOrder,
		&s.IsInitial, &s.IsFinal, &s.WIPLimit, &s.RequireComment, &s.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &s, nil
}

func (q *queries) CreateStage(ctx context.Context, stage *models.Stage) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO stages (id, version_id, key, name, stage_order, is_initial, is_final, wip_limit, require_comment)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		stage.ID, stage.VersionID, stage.Key, stage.Name, stage.StageOrder,
		stage.IsInitial, stage.IsFinal, stage.WIPLimit, stage.RequireComment)
	return mapDuplicate(err)
}

func (q *queries) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	return q.scanStage(q.db.QueryRow(ctx,
		`SELECT `+stageColumns+` FROM stages WHERE id = $1`, id))
}

func (q *queries) GetStageByKey(ctx context.Context, versionID, key string) (*models.Stage, error) {
	return q.scanStage(q.db.QueryRow(ctx,
		`SELECT `+stageColumns+` FROM stages WHERE version_id = $1 AND key = $2`, versionID, key))
}

func (q *queries) ListStages(ctx context.Context, versionID string) ([]*models.Stage, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+stageColumns+` FROM stages WHERE version_id = $1 ORDER BY stage_order`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []*models.Stage
	for rows.Next() {
		var s models.Stage
		if err := rows.Scan(&s.ID, &s.VersionID, &s.Key, &s.Name, &s.StageOrder,
			&s.IsInitial, &s.IsFinal, &s.WIPLimit, &s.RequireComment, &s.CreatedAt); err != nil {
			return nil, err
		}
		stages = append(stages, &s)
	}
	return stages, rows.Err()
}

// LockStage takes a FOR UPDATE row lock on the stage, held until the
// surrounding transaction ends. Concurrent moves into the same stage
// serialize here, which is what makes the WIP count-then-insert safe.
func (q *queries) LockStage(ctx context.Context, id string) error {
	var locked string
	err := q.db.QueryRow(ctx, `SELECT id FROM stages WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	return mapNotFound(err)
}

func (q *queries) CreateTransition(ctx context.Context, tr *models.StageTransition) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO stage_transitions (id, version_id, from_stage_id, to_stage_id)
		 VALUES ($1, $2, $3, $4)`,
		tr.ID, tr.VersionID, tr.FromStageID, tr.ToStageID)
	return mapDuplicate(err)
}

func (q *queries) listTransitions(ctx context.Context, where string, arg any) ([]*models.StageTransition, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, version_id, from_stage_id, to_stage_id FROM stage_transitions WHERE `+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []*models.StageTransition
	for rows.Next() {
		var t models.StageTransition
		if err := rows.Scan(&t.ID, &t.VersionID, &t.FromStageID, &t.ToStageID); err != nil {
			return nil, err
		}
		transitions = append(transitions, &t)
	}
	return transitions, rows.Err()
}

func (q *queries) ListTransitions(ctx context.Context, versionID string) ([]*models.StageTransition, error) {
	return q.listTransitions(ctx, `version_id = $1`, versionID)
}

func (q *queries) ListTransitionsFrom(ctx context.Context, fromStageID string) ([]*models.StageTransition, error) {
	return q.listTransitions(ctx, `from_stage_id = $1`, fromStageID)
}

func (q *queries) CreateFormRule(ctx context.Context, rule *models.StageFormRule) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO stage_form_rules (id, stage_id, form_definition_id, default_status, lock_on_leave)
		 VALUES ($1, $2, $3, $4, $5)`,
		rule.ID, rule.StageID, rule.FormDefinitionID, rule.DefaultStatus, rule.LockOnLeave)
	return err
}

func (q *queries) ListFormRules(ctx context.Context, stageID string) ([]*models.StageFormRule, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, stage_id, form_definition_id, default_status, lock_on_leave
		 FROM stage_form_rules WHERE stage_id = $1`, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.StageFormRule
	for rows.Next() {
		var r models.StageFormRule
		if err := rows.Scan(&r.ID, &r.StageID, &r.FormDefinitionID, &r.DefaultStatus, &r.LockOnLeave); err != nil {
			return nil, err
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// --- cards ---

const cardColumns = `id, tenant_id, organization_id, pipeline_id, pipeline_version, current_stage_id,
	title, status, priority, session_id, source, created_at, updated_at, closed_at`

func scanCard(row pgx.Row) (*models.Card, error) {
	var c models.Card
	err := row.Scan(&c.ID, &c.TenantID, &c.OrganizationID, &c.PipelineID, &c.PipelineVersion,
		&c.CurrentStageID, &c.Title, &c.Status, &c.Priority, &c.SessionID, &c.Source,
		&c.CreatedAt, &c.UpdatedAt, &c.ClosedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &c, nil
}

func (q *queries) CreateCard(ctx context.Context, card *models.Card) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO cards (id, tenant_id, organization_id, pipeline_id, pipeline_version,
			current_stage_id, title, status, priority, session_id, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		card.ID, card.TenantID, card.OrganizationID, card.PipelineID, card.PipelineVersion,
		card.CurrentStageID, card.Title, card.Status, card.Priority, card.SessionID, card.Source)
	return mapDuplicate(err)
}

func (q *queries) GetCard(ctx context.Context, scope models.Scope, id string) (*models.Card, error) {
	return scanCard(q.db.QueryRow(ctx,
		`SELECT `+cardColumns+` FROM cards
		 WHERE id = $1 AND tenant_id = $2 AND organization_id = $3`,
		id, scope.TenantID, scope.OrganizationID))
}

func (q *queries) GetCardBySessionID(ctx context.Context, scope models.Scope, pipelineID, sessionID string) (*models.Card, error) {
	return scanCard(q.db.QueryRow(ctx,
		`SELECT `+cardColumns+` FROM cards
		 WHERE pipeline_id = $1 AND session_id = $2 AND tenant_id = $3 AND organization_id = $4`,
		pipelineID, sessionID, scope.TenantID, scope.OrganizationID))
}

func (q *queries) UpdateCard(ctx context.Context, card *models.Card) error {
	_, err := q.db.Exec(ctx,
		`UPDATE cards SET current_stage_id = $1, title = $2, status = $3, priority = $4,
			closed_at = $5, updated_at = now()
		 WHERE id = $6`,
		card.CurrentStageID, card.Title, card.Status, card.Priority, card.ClosedAt, card.ID)
	return err
}

func (q *queries) ListCards(ctx context.Context, scope models.Scope, pipelineID string) ([]*models.Card, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+cardColumns+` FROM cards
		 WHERE pipeline_id = $1 AND tenant_id = $2 AND organization_id = $3
		 ORDER BY created_at`,
		pipelineID, scope.TenantID, scope.OrganizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []*models.Card
	for rows.Next() {
		var c models.Card
		if err := rows.Scan(&c.ID, &c.TenantID, &c.OrganizationID, &c.PipelineID, &c.PipelineVersion,
			&c.CurrentStageID, &c.Title, &c.Status, &c.Priority, &c.SessionID, &c.Source,
			&c.CreatedAt, &c.UpdatedAt, &c.ClosedAt); err != nil {
			return nil, err
		}
		cards = append(cards, &c)
	}
	return cards, rows.Err()
}

func (q *queries) CountActiveCardsInStage(ctx context.Context, stageID string) (int, error) {
	var count int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM cards WHERE current_stage_id = $1 AND status = $2`,
		stageID, models.CardStatusActive).Scan(&count)
	return count, err
}

func (q *queries) CountActiveCardsInPipeline(ctx context.Context, pipelineID string) (int, error) {
	var count int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM cards WHERE pipeline_id = $1 AND status = $2`,
		pipelineID, models.CardStatusActive).Scan(&count)
	return count, err
}

func (q *queries) DeleteCardsForVersion(ctx context.Context, pipelineID string, version int) (int, error) {
	// card_forms and card_move_history cascade off cards.
	tag, err := q.db.Exec(ctx,
		`DELETE FROM cards WHERE pipeline_id = $1 AND pipeline_version = $2`,
		pipelineID, version)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (q *queries) DeleteCardsForPipeline(ctx context.Context, pipelineID string) (int, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM cards WHERE pipeline_id = $1`, pipelineID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- card forms, history ---

func (q *queries) CreateCardForm(ctx context.Context, form *models.CardForm) error {
	data, err := json.Marshal(form.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal form data: %w", err)
	}
	_, err = q.db.Exec(ctx,
		`INSERT INTO card_forms (id, card_id, form_definition_id, status, data)
		 VALUES ($1, $2, $3, $4, $5)`,
		form.ID, form.CardID, form.FormDefinitionID, form.Status, data)
	return mapDuplicate(err)
}

func (q *queries) ListCardForms(ctx context.Context, cardID string) ([]*models.CardForm, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, card_id, form_definition_id, status, data, created_at, updated_at
		 FROM card_forms WHERE card_id = $1 ORDER BY created_at`, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forms []*models.CardForm
	for rows.Next() {
		var f models.CardForm
		var data []byte
		if err := rows.Scan(&f.ID, &f.CardID, &f.FormDefinitionID, &f.Status, &data, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &f.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal form data: %w", err)
		}
		forms = append(forms, &f)
	}
	return forms, rows.Err()
}

func (q *queries) UpdateCardForm(ctx context.Context, form *models.CardForm) error {
	data, err := json.Marshal(form.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal form data: %w", err)
	}
	_, err = q.db.Exec(ctx,
		`UPDATE card_forms SET status = $1, data = $2, updated_at = now() WHERE id = $3`,
		form.Status, data, form.ID)
	return err
}

func (q *queries) AppendMoveHistory(ctx context.Context, entry *models.CardMoveHistory) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO card_move_history (id, card_id, from_stage_id, to_stage_id, reason, moved_by)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.CardID, entry.FromStageID, entry.ToStageID, entry.Reason, entry.MovedBy)
	return err
}

func (q *queries) ListMoveHistory(ctx context.Context, cardID string) ([]*models.CardMoveHistory, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, card_id, from_stage_id, to_stage_id, reason, moved_by, moved_at
		 FROM card_move_history WHERE card_id = $1 ORDER BY moved_at`, cardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*models.CardMoveHistory
	for rows.Next() {
		var h models.CardMoveHistory
		if err := rows.Scan(&h.ID, &h.CardID, &h.FromStageID, &h.ToStageID, &h.Reason, &h.MovedBy, &h.MovedAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

// --- outbox ---

func (q *queries) AppendEvent(ctx context.Context, event *models.OutboxEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	_, err = q.db.Exec(ctx,
		`INSERT INTO outbox_events (id, tenant_id, organization_id, event_type, entity_type, entity_id, payload, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.TenantID, event.OrganizationID, event.EventType,
		event.EntityType, event.EntityID, payload, event.Status)
	return err
}

func (q *queries) ListPendingEvents(ctx context.Context, scope models.Scope, limit int) ([]*models.OutboxEvent, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, tenant_id, organization_id, event_type, entity_type, entity_id, payload, status, created_at
		 FROM outbox_events
		 WHERE tenant_id = $1 AND organization_id = $2 AND status = $3
		 ORDER BY created_at LIMIT $4`,
		scope.TenantID, scope.OrganizationID, models.OutboxStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.OutboxEvent
	for rows.Next() {
		var e models.OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.OrganizationID, &e.EventType, &e.EntityType,
			&e.EntityID, &payload, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
