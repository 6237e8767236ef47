package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations is the ordered list of schema migrations. Entries are
// append-only; never edit an applied migration.
var migrations = []string{
	`CREATE TABLE tenants (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		domain TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE organizations (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id),
		key TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (tenant_id, key)
	);
	CREATE TABLE api_keys (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL REFERENCES tenants(id),
		organization_id UUID NOT NULL REFERENCES organizations(id),
		name TEXT NOT NULL,
		key_hash TEXT NOT NULL UNIQUE,
		scopes TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_used_at TIMESTAMPTZ
	);`,

	`CREATE TABLE form_definitions (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		organization_id UUID NOT NULL REFERENCES organizations(id),
		key TEXT NOT NULL,
		name TEXT NOT NULL,
		fields JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (organization_id, key)
	);`,

	`CREATE TABLE pipelines (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		organization_id UUID NOT NULL REFERENCES organizations(id),
		key TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		published_version INT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (organization_id, key)
	);
	CREATE TABLE pipeline_versions (
		id UUID PRIMARY KEY,
		pipeline_id UUID NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
		version INT NOT NULL CHECK (version > 0),
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (pipeline_id, version)
	);
	CREATE TABLE stages (
		id UUID PRIMARY KEY,
		version_id UUID NOT NULL REFERENCES pipeline_versions(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		name TEXT NOT NULL,
		stage_order INT NOT NULL DEFAULT 0,
		is_initial BOOLEAN NOT NULL DEFAULT false,
		is_final BOOLEAN NOT NULL DEFAULT false,
		wip_limit INT CHECK (wip_limit > 0),
		require_comment BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (version_id, key)
	);
	CREATE TABLE stage_transitions (
		id UUID PRIMARY KEY,
		version_id UUID NOT NULL REFERENCES pipeline_versions(id) ON DELETE CASCADE,
		from_stage_id UUID NOT NULL REFERENCES stages(id) ON DELETE CASCADE,
		to_stage_id UUID NOT NULL REFERENCES stages(id) ON DELETE CASCADE,
		UNIQUE (from_stage_id, to_stage_id),
		CHECK (from_stage_id <> to_stage_id)
	);
	CREATE TABLE stage_form_rules (
		id UUID PRIMARY KEY,
		stage_id UUID NOT NULL REFERENCES stages(id) ON DELETE CASCADE,
		form_definition_id UUID NOT NULL REFERENCES form_definitions(id),
		default_status TEXT NOT NULL DEFAULT 'TO_FILL',
		lock_on_leave BOOLEAN NOT NULL DEFAULT false,
		UNIQUE (stage_id, form_definition_id)
	);`,

	// Cards reference their stage with RESTRICT: a stage holding cards
	// cannot be deleted out from under them.
	`CREATE TABLE cards (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		organization_id UUID NOT NULL REFERENCES organizations(id),
		pipeline_id UUID NOT NULL REFERENCES pipelines(id),
		pipeline_version INT NOT NULL,
		current_stage_id UUID NOT NULL REFERENCES stages(id) ON DELETE RESTRICT,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		priority INT NOT NULL DEFAULT 0,
		session_id TEXT,
		source TEXT NOT NULL DEFAULT 'internal',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		closed_at TIMESTAMPTZ,
		UNIQUE (pipeline_id, session_id)
	);
	CREATE INDEX idx_cards_stage_status ON cards (current_stage_id, status);
	CREATE TABLE card_forms (
		id UUID PRIMARY KEY,
		card_id UUID NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
		form_definition_id UUID NOT NULL REFERENCES form_definitions(id),
		status TEXT NOT NULL,
		data JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (card_id, form_definition_id)
	);
	CREATE TABLE card_move_history (
		id UUID PRIMARY KEY,
		card_id UUID NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
		from_stage_id UUID NOT NULL,
		to_stage_id UUID NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		moved_by TEXT NOT NULL DEFAULT '',
		moved_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX idx_card_move_history_card ON card_move_history (card_id, moved_at);`,

	`CREATE TABLE outbox_events (
		id UUID PRIMARY KEY,
		tenant_id UUID NOT NULL,
		organization_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX idx_outbox_pending ON outbox_events (status, created_at);`,
}

// Migrate applies any unapplied migrations in order. It is safe to call on
// every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(ctx, migrations[i]); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, i+1); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
