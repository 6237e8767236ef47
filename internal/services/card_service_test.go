package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowdeck/pkg/models"
)

func TestCreateCardPinsVersionAndAttachesForms(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID,
		Title:      "Acme onboarding",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, card.PipelineVersion)
	assert.Equal(t, b.new.ID, card.CurrentStageID)
	assert.Equal(t, models.CardStatusActive, card.Status)
	assert.Equal(t, models.SourceInternal, card.Source)

	detail, err := f.cards.GetCard(ctx, f.scope, card.ID)
	require.NoError(t, err)
	require.Len(t, detail.Forms, 1)
	assert.Equal(t, b.form.ID, detail.Forms[0].FormDefinitionID)
	assert.Equal(t, models.FormStatusToFill, detail.Forms[0].Status)

	assert.Contains(t, f.eventTypes(t), models.EventCardCreated)
}

func TestCreateCardDuplicateSessionID(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	session := "sess-42"
	_, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID, Title: "first", SessionID: &session,
	})
	require.NoError(t, err)

	_, err = f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID, Title: "second", SessionID: &session,
	})
	conflictErr, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, CodeSessionIDExists, conflictErr.Code)
}

func TestCreateCardExternalFallsBackToTestVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pipeline, err := f.pipelines.CreatePipeline(ctx, f.scope, CreatePipelineInput{Key: "p", Name: "P"})
	require.NoError(t, err)
	start := f.addStage(t, pipeline.ID, StageInput{Key: "start", Name: "Start", StageOrder: 1, IsInitial: true})
	_ = f.addStage(t, pipeline.ID, StageInput{Key: "end", Name: "End", StageOrder: 2, IsFinal: true})
	require.NoError(t, f.pipelines.EnterTest(ctx, f.scope, pipeline.ID, 1))

	// Internal callers still need a published version.
	_, err = f.cards.CreateCard(ctx, f.scope, CreateCardInput{PipelineID: pipeline.ID, Title: "internal"})
	assert.True(t, IsNotFound(err))

	// External callers reach the version under test without naming it.
	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: pipeline.ID, Title: "external", Source: models.SourceExternalAPI,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, card.PipelineVersion)
	assert.Equal(t, start.ID, card.CurrentStageID)
}

func TestMoveCardTransitionNotAllowed(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID, Title: "c",
	})
	require.NoError(t, err)

	// new -> done has no edge.
	_, err = f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.done.ID})
	conflictErr, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, CodeTransitionNotAllowed, conflictErr.Code)
	assert.Equal(t, []string{"review"}, conflictErr.Details["allowed"])
}

func TestMoveCardFormsIncomplete(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID, Title: "c",
	})
	require.NoError(t, err)

	_, err = f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.review.ID})
	conflictErr, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, CodeFormsIncomplete, conflictErr.Code)
	assert.Equal(t, []MissingField{{FormDefinitionID: b.form.ID, FieldID: "company"}},
		conflictErr.Details["missing"])
}

func TestMoveCardFillsFormsAtMoveTime(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID, Title: "c",
	})
	require.NoError(t, err)

	// Data sent with the move satisfies the completeness gate in the same
	// request.
	_, err = f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{
		ToStageID: b.review.ID,
		Forms:     []FormInput{{FormDefinitionID: b.form.ID, Data: map[string]any{"company": "acme"}}},
	})
	require.NoError(t, err)
}

func TestMoveCardLocksFormsOnLeave(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID, Title: "c",
	})
	require.NoError(t, err)

	_, err = f.cards.UpdateForm(ctx, f.scope, card.ID, b.form.ID, map[string]any{"company": "acme"}, nil)
	require.NoError(t, err)

	_, err = f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.review.ID})
	require.NoError(t, err)

	detail, err := f.cards.GetCard(ctx, f.scope, card.ID)
	require.NoError(t, err)
	require.Len(t, detail.Forms, 1)
	assert.Equal(t, models.FormStatusLocked, detail.Forms[0].Status)

	// Locked forms reject further edits.
	_, err = f.cards.UpdateForm(ctx, f.scope, card.ID, b.form.ID, map[string]any{"company": "evil"}, nil)
	assert.True(t, IsBadRequest(err))
}

func TestMoveCardCommentRequired(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card := f.cardInReview(t, b, "c")

	_, err := f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.done.ID})
	conflictErr, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, CodeCommentRequired, conflictErr.Code)

	_, err = f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.done.ID, Reason: "approved"})
	require.NoError(t, err)
}

func TestMoveCardWIPLimitReached(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	f.cardInReview(t, b, "first")

	second, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID, Title: "second",
		Forms: []FormInput{{FormDefinitionID: b.form.ID, Data: map[string]any{"company": "acme"}}},
	})
	require.NoError(t, err)

	_, err = f.cards.MoveCard(ctx, f.scope, second.ID, MoveCardInput{ToStageID: b.review.ID})
	conflictErr, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, CodeWIPLimitReached, conflictErr.Code)
	assert.Equal(t, 1, conflictErr.Details["wip_limit"])
}

func TestMoveCardToFinalClosesIt(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card := f.cardInReview(t, b, "c")

	moved, err := f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.done.ID, Reason: "approved"})
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusClosed, moved.Status)
	assert.NotNil(t, moved.ClosedAt)

	// A closed card can no longer move.
	_, err = f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.review.ID, Reason: "reopen"})
	assert.True(t, IsBadRequest(err))
}

func TestMoveCardRecordsHistory(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card := f.cardInReview(t, b, "c")
	_, err := f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.done.ID, Reason: "approved", MovedBy: "alex"})
	require.NoError(t, err)

	detail, err := f.cards.GetCard(ctx, f.scope, card.ID)
	require.NoError(t, err)
	require.Len(t, detail.History, 2)
	assert.Equal(t, b.new.ID, detail.History[0].FromStageID)
	assert.Equal(t, b.review.ID, detail.History[0].ToStageID)
	assert.Equal(t, "approved", detail.History[1].Reason)
	assert.Equal(t, "alex", detail.History[1].MovedBy)
}

func TestMoveCardEventCarriesFormSnapshot(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card := f.cardInReview(t, b, "c")

	events, err := f.store.ListPendingEvents(ctx, f.scope, 100)
	require.NoError(t, err)
	var moved *models.OutboxEvent
	for _, e := range events {
		if e.EventType == models.EventCardMoved {
			moved = e
		}
	}
	require.NotNil(t, moved)
	assert.Equal(t, card.ID, moved.Payload["card_id"])
	assert.Equal(t, "review", moved.Payload["stage"])

	// The payload carries the post-move form snapshot: the intake form,
	// locked on leaving the initial stage, with the data it held.
	forms, ok := moved.Payload["forms"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, forms, 1)
	assert.Equal(t, b.form.ID, forms[0]["form_definition_id"])
	assert.Equal(t, string(models.FormStatusLocked), forms[0]["status"])
	data, ok := forms[0]["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "acme", data["company"])
}

func TestUpdateCardMetadata(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{PipelineID: b.pipeline.ID, Title: "c"})
	require.NoError(t, err)

	title := "renamed"
	priority := 3
	updated, err := f.cards.UpdateCard(ctx, f.scope, card.ID, UpdateCardInput{Title: &title, Priority: &priority})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, 3, updated.Priority)

	empty := ""
	_, err = f.cards.UpdateCard(ctx, f.scope, card.ID, UpdateCardInput{Title: &empty})
	assert.True(t, IsBadRequest(err))
}

func TestMoveCardStaysOnPinnedVersion(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card := f.cardInReview(t, b, "c")

	// Publishing a newer version does not migrate the open card.
	clone, err := f.pipelines.CloneVersion(ctx, f.scope, b.pipeline.ID, nil)
	require.NoError(t, err)
	require.NoError(t, f.pipelines.Publish(ctx, f.scope, b.pipeline.ID, clone.Version))

	moved, err := f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.done.ID, Reason: "approved"})
	require.NoError(t, err)
	assert.Equal(t, 1, moved.PipelineVersion)
	assert.Equal(t, b.done.ID, moved.CurrentStageID)
}

func TestUpdateFormOverlaysKeys(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID, Title: "c",
	})
	require.NoError(t, err)

	_, err = f.cards.UpdateForm(ctx, f.scope, card.ID, b.form.ID,
		map[string]any{"company": "acme", "notes": "initial"}, nil)
	require.NoError(t, err)

	// A second update touching one key leaves the rest alone.
	form, err := f.cards.UpdateForm(ctx, f.scope, card.ID, b.form.ID,
		map[string]any{"notes": "revised"}, statusPtr(models.FormStatusFilled))
	require.NoError(t, err)
	assert.Equal(t, "acme", form.Data["company"])
	assert.Equal(t, "revised", form.Data["notes"])
	assert.Equal(t, models.FormStatusFilled, form.Status)
}

func TestGetCardBySessionID(t *testing.T) {
	f := newFixture(t)
	b := f.newBoard(t)
	ctx := context.Background()

	session := "sess-7"
	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID, Title: "c", SessionID: &session, Source: models.SourceExternalAPI,
	})
	require.NoError(t, err)

	detail, err := f.cards.GetCardBySessionID(ctx, f.scope, b.pipeline.ID, session)
	require.NoError(t, err)
	assert.Equal(t, card.ID, detail.Card.ID)

	_, err = f.cards.GetCardBySessionID(ctx, f.scope, b.pipeline.ID, "missing")
	assert.True(t, IsNotFound(err))
}

// cardInReview creates a card with its intake form filled and walks it to
// the review stage.
func (f *fixture) cardInReview(t *testing.T, b *board, title string) *models.Card {
	t.Helper()
	ctx := context.Background()

	card, err := f.cards.CreateCard(ctx, f.scope, CreateCardInput{
		PipelineID: b.pipeline.ID,
		Title:      title,
		Forms:      []FormInput{{FormDefinitionID: b.form.ID, Data: map[string]any{"company": "acme"}}},
	})
	require.NoError(t, err)

	moved, err := f.cards.MoveCard(ctx, f.scope, card.ID, MoveCardInput{ToStageID: b.review.ID})
	require.NoError(t, err)
	return moved
}
