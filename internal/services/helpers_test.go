package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"flowdeck/internal/repository"
	"flowdeck/pkg/models"
)

// noopLogger for testing
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// fixture wires the services onto an in-memory store with one tenant and
// organization provisioned.
type fixture struct {
	store     *repository.MemoryStore
	pipelines *PipelineService
	cards     *CardService
	scope     models.Scope
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	tenant := &models.Tenant{ID: uuid.New().String(), Name: "acme", Domain: "acme.test"}
	require.NoError(t, store.CreateTenant(ctx, tenant))
	org := &models.Organization{ID: uuid.New().String(), TenantID: tenant.ID, Key: "default", Name: "Default"}
	require.NoError(t, store.CreateOrganization(ctx, org))

	outbox := NewOutboxEmitter()
	return &fixture{
		store:     store,
		pipelines: NewPipelineService(store, outbox, noopLogger{}),
		cards:     NewCardService(store, outbox, noopLogger{}),
		scope:     models.Scope{TenantID: tenant.ID, OrganizationID: org.ID},
	}
}

// board is a published three-stage pipeline: New -> Review -> Done, with
// Review capped at one card and demanding a reason on exit, Done final,
// and an intake form attached on New that locks when the card leaves.
type board struct {
	pipeline *models.Pipeline
	form     *models.FormDefinition
	new      *models.Stage
	review   *models.Stage
	done     *models.Stage
}

func (f *fixture) newBoard(t *testing.T) *board {
	t.Helper()
	ctx := context.Background()

	form, err := f.pipelines.CreateFormDefinition(ctx, f.scope, "intake", "Intake", []models.FormField{
		{ID: "company", Label: "Company", Type: "string", Required: true},
		{ID: "notes", Label: "Notes", Type: "string"},
	})
	require.NoError(t, err)

	pipeline, err := f.pipelines.CreatePipeline(ctx, f.scope, CreatePipelineInput{
		Key:  "onboarding",
		Name: "Onboarding",
	})
	require.NoError(t, err)

	wip := 1
	b := &board{pipeline: pipeline, form: form}
	b.new = f.addStage(t, pipeline.ID, StageInput{Key: "new", Name: "New", StageOrder: 1, IsInitial: true})
	b.review = f.addStage(t, pipeline.ID, StageInput{Key: "review", Name: "Review", StageOrder: 2, WIPLimit: &wip, RequireComment: true})
	b.done = f.addStage(t, pipeline.ID, StageInput{Key: "done", Name: "Done", StageOrder: 3, IsFinal: true})

	for _, edge := range [][2]string{{b.new.ID, b.review.ID}, {b.review.ID, b.new.ID}, {b.review.ID, b.done.ID}} {
		_, err := f.pipelines.AddTransition(ctx, f.scope, pipeline.ID, 1, edge[0], edge[1])
		require.NoError(t, err)
	}

	_, err = f.pipelines.AddFormRule(ctx, f.scope, pipeline.ID, 1, b.new.ID, form.ID, models.FormStatusToFill, true)
	require.NoError(t, err)

	require.NoError(t, f.pipelines.Publish(ctx, f.scope, pipeline.ID, 1))
	return b
}

func (f *fixture) addStage(t *testing.T, pipelineID string, input StageInput) *models.Stage {
	t.Helper()
	stage, err := f.pipelines.AddStage(context.Background(), f.scope, pipelineID, 1, input)
	require.NoError(t, err)
	return stage
}

// eventTypes returns the types of all pending outbox events in order.
func (f *fixture) eventTypes(t *testing.T) []string {
	t.Helper()
	events, err := f.store.ListPendingEvents(context.Background(), f.scope, 100)
	require.NoError(t, err)
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.EventType
	}
	return types
}
