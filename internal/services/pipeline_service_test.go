package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowdeck/pkg/models"
)

func TestCreatePipelineDuplicateKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipelines.CreatePipeline(ctx, f.scope, CreatePipelineInput{Key: "p", Name: "P"})
	require.NoError(t, err)

	_, err = f.pipelines.CreatePipeline(ctx, f.scope, CreatePipelineInput{Key: "p", Name: "P again"})
	conflictErr, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, CodeKeyExists, conflictErr.Code)
}

func TestCreatePipelineStartsAtVersionOneDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pipeline, err := f.pipelines.CreatePipeline(ctx, f.scope, CreatePipelineInput{Key: "p", Name: "P"})
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusDraft, pipeline.Status)

	v, err := f.store.GetVersion(ctx, pipeline.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusDraft, v.Status)
}

func TestPublishRequiresValidStructure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pipeline, err := f.pipelines.CreatePipeline(ctx, f.scope, CreatePipelineInput{Key: "p", Name: "P"})
	require.NoError(t, err)

	// No stages at all.
	err = f.pipelines.Publish(ctx, f.scope, pipeline.ID, 1)
	assert.True(t, IsBadRequest(err))

	// Two initial stages.
	f.addStage(t, pipeline.ID, StageInput{Key: "a", Name: "A", StageOrder: 1, IsInitial: true})
	f.addStage(t, pipeline.ID, StageInput{Key: "b", Name: "B", StageOrder: 2, IsInitial: true, IsFinal: true})
	err = f.pipelines.Publish(ctx, f.scope, pipeline.ID, 1)
	assert.True(t, IsBadRequest(err))
}

func TestPublishArchivesPriorVersion(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	clone, err := f.pipelines.CloneVersion(ctx, f.scope, b.pipeline.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, clone.Version)
	assert.Equal(t, models.VersionStatusDraft, clone.Status)

	require.NoError(t, f.pipelines.Publish(ctx, f.scope, b.pipeline.ID, 2))

	v1, err := f.store.GetVersion(ctx, b.pipeline.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusArchived, v1.Status)

	pipeline, err := f.pipelines.GetPipeline(ctx, f.scope, b.pipeline.ID)
	require.NoError(t, err)
	require.NotNil(t, pipeline.PublishedVersion)
	assert.Equal(t, 2, *pipeline.PublishedVersion)
}

func TestPublishAlreadyPublished(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)

	err := f.pipelines.Publish(context.Background(), f.scope, b.pipeline.ID, 1)
	conflictErr, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, CodeAlreadyPublished, conflictErr.Code)
}

func TestCloneVersionCopiesDefinition(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	clone, err := f.pipelines.CloneVersion(ctx, f.scope, b.pipeline.ID, nil)
	require.NoError(t, err)

	detail, err := f.pipelines.GetVersionDetail(ctx, f.scope, b.pipeline.ID, clone.Version)
	require.NoError(t, err)
	assert.Len(t, detail.Stages, 3)
	assert.Len(t, detail.Transitions, 3)
	require.Len(t, detail.FormRules, 1)
	assert.Equal(t, b.form.ID, detail.FormRules[0].FormDefinitionID)

	// Stage rows are fresh copies, transitions rewired onto them.
	for _, stage := range detail.Stages {
		assert.Equal(t, detail.Version.ID, stage.VersionID)
		assert.NotEqual(t, b.new.ID, stage.ID)
	}
}

func TestCloneVersionNoSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pipeline, err := f.pipelines.CreatePipeline(ctx, f.scope, CreatePipelineInput{Key: "p", Name: "P"})
	require.NoError(t, err)

	_, err = f.pipelines.CloneVersion(ctx, f.scope, pipeline.ID, nil)
	assert.True(t, IsBadRequest(err))
}

func TestDraftOnlyEditing(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)

	// Version 1 is published; structural edits must be rejected.
	_, err := f.pipelines.AddStage(context.Background(), f.scope, b.pipeline.ID, 1,
		StageInput{Key: "late", Name: "Late", StageOrder: 9})
	assert.True(t, IsBadRequest(err))
}

func TestUnpublishBlockedByActiveCards(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID,
		Title:      "c1",
		Forms:      []FormInput{{FormDefinitionID: b.form.ID, Data: map[string]any{"company": "acme"}}},
	})
	require.NoError(t, err)

	err = f.pipelines.Unpublish(ctx, f.scope, b.pipeline.ID, 1)
	assert.True(t, IsBadRequest(err))

	// Close the card by walking it to the final stage; unpublish then
	// succeeds.
	_, err = f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.review.ID})
	require.NoError(t, err)
	_, err = f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.done.ID, Reason: "approved"})
	require.NoError(t, err)

	require.NoError(t, f.pipelines.Unpublish(ctx, f.scope, b.pipeline.ID, 1))

	pipeline, err := f.pipelines.GetPipeline(ctx, f.scope, b.pipeline.ID)
	require.NoError(t, err)
	assert.Nil(t, pipeline.PublishedVersion)
	assert.Equal(t, models.PipelineStatusDraft, pipeline.Status)
}

func TestEnterTestAndEndTestDiscard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pipeline, err := f.pipelines.CreatePipeline(ctx, f.scope, CreatePipelineInput{Key: "p", Name: "P"})
	require.NoError(t, err)
	start := f.addStage(t, pipeline.ID, StageInput{Key: "start", Name: "Start", StageOrder: 1, IsInitial: true})
	_ = f.addStage(t, pipeline.ID, StageInput{Key: "end", Name: "End", StageOrder: 2, IsFinal: true})

	require.NoError(t, f.pipelines.EnterTest(ctx, f.scope, pipeline.ID, 1))

	version := 1
	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: pipeline.ID,
		Title:      "test card",
		Version:    &version,
	})
	require.NoError(t, err)
	assert.Equal(t, start.ID, card.CurrentStageID)

	require.NoError(t, f.pipelines.EndTest(ctx, f.scope, pipeline.ID, 1, EndTestDiscard))

	// Test cards are gone, version is back to draft.
	_, err = f.cards.GetCard(ctx, f.scope, card.ID)
	assert.True(t, IsNotFound(err))

	v, err := f.store.GetVersion(ctx, pipeline.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusDraft, v.Status)
}

func TestEndTestPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pipeline, err := f.pipelines.CreatePipeline(ctx, f.scope, CreatePipelineInput{Key: "p", Name: "P"})
	require.NoError(t, err)
	f.addStage(t, pipeline.ID, StageInput{Key: "start", Name: "Start", StageOrder: 1, IsInitial: true})
	f.addStage(t, pipeline.ID, StageInput{Key: "end", Name: "End", StageOrder: 2, IsFinal: true})

	require.NoError(t, f.pipelines.EnterTest(ctx, f.scope, pipeline.ID, 1))
	require.NoError(t, f.pipelines.EndTest(ctx, f.scope, pipeline.ID, 1, EndTestPublish))

	v, err := f.store.GetVersion(ctx, pipeline.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusPublished, v.Status)

	assert.Contains(t, f.eventTypes(t), models.EventPipeTestEnded)
	assert.Contains(t, f.eventTypes(t), models.EventPipePublished)
}

func TestDeletePipelineBlockedByActiveCards(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	_, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID,
		Title:      "c1",
	})
	require.NoError(t, err)

	err = f.pipelines.DeletePipeline(ctx, f.scope, b.pipeline.ID)
	assert.True(t, IsBadRequest(err))
}

func TestDeletePipelineRemovesClosedCards(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card := f.cardInReview(t, b, "c1")
	_, err := f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.done.ID, Reason: "approved"})
	require.NoError(t, err)

	// Only active cards block deletion; closed ones go with the pipeline.
	require.NoError(t, f.pipelines.DeletePipeline(ctx, f.scope, b.pipeline.ID))

	_, err = f.pipelines.GetPipeline(ctx, f.scope, b.pipeline.ID)
	assert.True(t, IsNotFound(err))
	_, err = f.cards.GetCard(ctx, f.scope, card.ID)
	assert.True(t, IsNotFound(err))

	forms, err := f.store.ListCardForms(ctx, card.ID)
	require.NoError(t, err)
	assert.Empty(t, forms)
	history, err := f.store.ListMoveHistory(ctx, card.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestClosePipelineRejectsNewCards(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	require.NoError(t, f.pipelines.ClosePipeline(ctx, f.scope, b.pipeline.ID))

	_, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{PipelineID: b.pipeline.ID, Title: "late"})
	assert.True(t, IsBadRequest(err))
}

func TestLifecycleEmitsEvents(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	_, err := f.pipelines.CloneVersion(ctx, f.scope, b.pipeline.ID, nil)
	require.NoError(t, err)
	require.NoError(t, f.pipelines.Unpublish(ctx, f.scope, b.pipeline.ID, 1))
	require.NoError(t, f.pipelines.ClosePipeline(ctx, f.scope, b.pipeline.ID))

	types := f.eventTypes(t)
	assert.Contains(t, types, models.EventPipePublished)
	assert.Contains(t, types, models.EventPipeCloned)
	assert.Contains(t, types, models.EventPipeUnpublished)
	assert.Contains(t, types, models.EventPipeClosed)
}

func TestScopeIsolation(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	other := models.Scope{TenantID: "other-tenant", OrganizationID: "other-org"}
	_, err := f.pipelines.GetPipeline(ctx, other, b.pipeline.ID)
	assert.True(t, IsNotFound(err))
}
