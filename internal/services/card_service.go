package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flowdeck/internal/repository"
	"flowdeck/pkg/models"
)

// CardService runs cards through the stage graph of their pinned pipeline
// version. Every mutation happens in one transaction together with its
// outbox event.
type CardService struct {
	store  repository.Store
	outbox *OutboxEmitter
	logger Logger
}

// NewCardService creates a new CardService.
func NewCardService(store repository.Store, outbox *OutboxEmitter, logger Logger) *CardService {
	return &CardService{store: store, outbox: outbox, logger: logger}
}

// CreateCardInput describes a new card. Version selects the pipeline
// version to pin; when nil the published version is used, and external
// callers additionally fall back to a version under test. Forms pre-fill
// or override the forms attached by the initial stage's rules.
type CreateCardInput struct {
	PipelineID string  `json:"pipeline_id"`
	Title      string  `json:"title"`
	SessionID  *string `json:"session_id,omitempty"`
	Source     string  `json:"source,omitempty"`
	Version    *int    `json:"version,omitempty"`
	// InitialStageID places the card on a specific initial stage instead
	// of the version's default.
	InitialStageID *string     `json:"initial_stage_id,omitempty"`
	Forms          []FormInput `json:"forms,omitempty"`
}

// MoveCardInput describes a stage transition request. Reason is mandatory
// when the departing stage requires a comment.
type MoveCardInput struct {
	ToStageID string      `json:"to_stage_id"`
	Reason    string      `json:"reason,omitempty"`
	MovedBy   string      `json:"moved_by,omitempty"`
	Forms     []FormInput `json:"forms,omitempty"`
}

// CardDetail bundles a card with its forms and move history.
type CardDetail struct {
	Card    *models.Card              `json:"card"`
	Forms   []*models.CardForm        `json:"forms"`
	History []*models.CardMoveHistory `json:"history"`
}

// CreateCard creates a card on the initial stage of the resolved pipeline
// version and attaches the stage's forms. The pinned version never changes
// for the life of the card.
func (s *CardService) CreateCard(ctx context.Context, scope models.Scope, input CreateCardInput) (*models.Card, error) {
	if input.Title == "" {
		return nil, badRequest("card title is required")
	}
	if input.Source == "" {
		input.Source = models.SourceInternal
	}

	var card *models.Card
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		pipeline, err := tx.GetPipeline(ctx, scope, input.PipelineID)
		if err == repository.ErrNotFound {
			return notFound("pipeline", input.PipelineID)
		}
		if err != nil {
			return err
		}
		if pipeline.Status == models.PipelineStatusClosed {
			return badRequest("pipeline %s is closed", pipeline.Key)
		}

		v, err := s.resolveVersion(ctx, tx, pipeline, input)
		if err != nil {
			return err
		}
		if v.Status != models.VersionStatusPublished && v.Status != models.VersionStatusTest {
			return badRequest("version %d is %s; cards require a published or test version", v.Version, v.Status)
		}

		stages, err := tx.ListStages(ctx, v.ID)
		if err != nil {
			return err
		}
		var initial *models.Stage
		for _, stage := range stages {
			if input.InitialStageID != nil {
				if stage.ID == *input.InitialStageID {
					initial = stage
					break
				}
				continue
			}
			if stage.IsInitial {
				initial = stage
				break
			}
		}
		if initial == nil {
			if input.InitialStageID != nil {
				return badRequest("stage %s does not belong to version %d", *input.InitialStageID, v.Version)
			}
			return badRequest("version %d has no initial stage", v.Version)
		}
		if input.InitialStageID != nil && !initial.IsInitial {
			return badRequest("stage %s is not an initial stage", initial.Key)
		}

		card = &models.Card{
			ID:              uuid.New().String(),
			TenantID:        scope.TenantID,
			OrganizationID:  scope.OrganizationID,
			PipelineID:      pipeline.ID,
			PipelineVersion: v.Version,
			CurrentStageID:  initial.ID,
			Title:           input.Title,
			SessionID:       input.SessionID,
			Source:          input.Source,
			Status:          models.CardStatusActive,
		}
		if err := tx.CreateCard(ctx, card); err != nil {
			if repository.IsDuplicate(err) && input.SessionID != nil {
				return conflict(CodeSessionIDExists,
					fmt.Sprintf("session id %q already has a card in this pipeline", *input.SessionID),
					map[string]any{"session_id": *input.SessionID})
			}
			return err
		}

		if err := s.attachStageForms(ctx, tx, card.ID, initial.ID, input.Forms); err != nil {
			return err
		}

		attached, err := tx.ListCardForms(ctx, card.ID)
		if err != nil {
			return err
		}
		payload := cardPayload(card, "", initial.Key)
		payload["forms"] = formsPayload(attached)
		return s.outbox.Append(ctx, tx, scope, models.EventCardCreated, "card", card.ID, payload)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("card created", "card", card.ID, "pipeline", card.PipelineID, "version", card.PipelineVersion)
	return card, nil
}

// resolveVersion picks the version a new card pins to: the explicit
// version when the caller names one, otherwise the published version.
// External callers additionally fall back to a version under test, so
// machine clients can exercise a pipeline before it is published.
func (s *CardService) resolveVersion(ctx context.Context, tx repository.Tx, pipeline *models.Pipeline, input CreateCardInput) (*models.PipelineVersion, error) {
	number := input.Version
	if number == nil {
		number = pipeline.PublishedVersion
	}
	if number != nil {
		v, err := tx.GetVersion(ctx, pipeline.ID, *number)
		if err == repository.ErrNotFound {
			return nil, notFound("pipeline version", fmt.Sprintf("%s/%d", pipeline.ID, *number))
		}
		return v, err
	}
	if input.Source == models.SourceExternalAPI {
		versions, err := tx.ListVersions(ctx, pipeline.ID)
		if err != nil {
			return nil, err
		}
		for i := len(versions) - 1; i >= 0; i-- {
			if versions[i].Status == models.VersionStatusTest {
				return versions[i], nil
			}
		}
	}
	return nil, notFound("published version for pipeline", pipeline.Key)
}

// MoveCard transitions a card to another stage of its pinned version. The
// gates run in a fixed order: transition legality, required comment, WIP
// limit on the target stage, then form completeness. The WIP check holds a
// row lock on the target stage so two concurrent moves cannot both pass.
func (s *CardService) MoveCard(ctx context.Context, scope models.Scope, cardID string, input MoveCardInput) (*models.Card, error) {
	var card *models.Card
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		card, err = tx.GetCard(ctx, scope, cardID)
		if err == repository.ErrNotFound {
			return notFound("card", cardID)
		}
		if err != nil {
			return err
		}
		if card.Status != models.CardStatusActive {
			return badRequest("card is %s; only active cards can move", card.Status)
		}

		from, err := tx.GetStage(ctx, card.CurrentStageID)
		if err != nil {
			return err
		}
		to, err := tx.GetStage(ctx, input.ToStageID)
		if err == repository.ErrNotFound {
			return notFound("stage", input.ToStageID)
		}
		if err != nil {
			return err
		}
		if to.VersionID != from.VersionID {
			return badRequest("stage %s does not belong to the card's pipeline version", input.ToStageID)
		}

		// Gate 1: the edge must exist in the version's transition graph.
		allowed, err := tx.ListTransitionsFrom(ctx, from.ID)
		if err != nil {
			return err
		}
		legal := false
		for _, tr := range allowed {
			if tr.ToStageID == to.ID {
				legal = true
				break
			}
		}
		if !legal {
			stages, err := tx.ListStages(ctx, from.VersionID)
			if err != nil {
				return err
			}
			keys := make(map[string]string, len(stages))
			for _, stage := range stages {
				keys[stage.ID] = stage.Key
			}
			targets := make([]string, 0, len(allowed))
			for _, tr := range allowed {
				targets = append(targets, keys[tr.ToStageID])
			}
			return conflict(CodeTransitionNotAllowed,
				fmt.Sprintf("no transition from %s to %s", from.Key, to.Key),
				map[string]any{"from": from.Key, "to": to.Key, "allowed": targets})
		}

		// Gate 2: a departing comment when the stage demands one.
		if from.RequireComment && input.Reason == "" {
			return conflict(CodeCommentRequired,
				fmt.Sprintf("leaving stage %s requires a reason", from.Key),
				map[string]any{"stage": from.Key})
		}

		// Gate 3: WIP limit. Lock the target stage row first so the
		// count-then-insert cannot race against a concurrent move into
		// the same stage.
		if to.WIPLimit != nil {
			if err := tx.LockStage(ctx, to.ID); err != nil {
				return err
			}
			count, err := tx.CountActiveCardsInStage(ctx, to.ID)
			if err != nil {
				return err
			}
			if count >= *to.WIPLimit {
				return conflict(CodeWIPLimitReached,
					fmt.Sprintf("stage %s is at its limit of %d cards", to.Key, *to.WIPLimit),
					map[string]any{"stage": to.Key, "wip_limit": *to.WIPLimit, "count": count})
			}
		}

		// Gate 4: every TO_FILL form on the card must have its required
		// fields set, applying any data sent with the move first.
		forms, err := tx.ListCardForms(ctx, card.ID)
		if err != nil {
			return err
		}
		forms, changed, err := applyFormInputs(forms, input.Forms)
		if err != nil {
			return err
		}
		defs, err := s.formDefinitions(ctx, tx, scope, forms)
		if err != nil {
			return err
		}
		if missing := missingRequired(forms, defs); len(missing) > 0 {
			return conflict(CodeFormsIncomplete,
				"required form fields are missing",
				map[string]any{"missing": missing})
		}
		for _, form := range changed {
			if err := tx.UpdateCardForm(ctx, form); err != nil {
				return err
			}
		}

		// All gates passed: lock departing forms, move, record history,
		// attach the target stage's forms, close on final.
		departRules, err := tx.ListFormRules(ctx, from.ID)
		if err != nil {
			return err
		}
		for _, form := range lockSet(departRules, forms) {
			form.Status = models.FormStatusLocked
			if err := tx.UpdateCardForm(ctx, form); err != nil {
				return err
			}
		}

		card.CurrentStageID = to.ID
		if to.IsFinal {
			card.Status = models.CardStatusClosed
			now := time.Now().UTC()
			card.ClosedAt = &now
		}
		if err := tx.UpdateCard(ctx, card); err != nil {
			return err
		}

		if err := tx.AppendMoveHistory(ctx, &models.CardMoveHistory{
			ID:          uuid.New().String(),
			CardID:      card.ID,
			FromStageID: from.ID,
			ToStageID:   to.ID,
			Reason:      input.Reason,
			MovedBy:     input.MovedBy,
		}); err != nil {
			return err
		}

		if err := s.attachStageForms(ctx, tx, card.ID, to.ID, input.Forms); err != nil {
			return err
		}

		snapshot, err := tx.ListCardForms(ctx, card.ID)
		if err != nil {
			return err
		}
		payload := cardPayload(card, from.Key, to.Key)
		payload["forms"] = formsPayload(snapshot)
		return s.outbox.Append(ctx, tx, scope, models.EventCardMoved, "card", card.ID, payload)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("card moved", "card", card.ID, "stage", card.CurrentStageID)
	return card, nil
}

// UpdateForm overlays data onto one of the card's forms. Locked forms
// reject writes; keys absent from the input keep their stored value.
func (s *CardService) UpdateForm(ctx context.Context, scope models.Scope, cardID, formDefinitionID string, data map[string]any, status *models.FormStatus) (*models.CardForm, error) {
	var updated *models.CardForm
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		card, err := tx.GetCard(ctx, scope, cardID)
		if err == repository.ErrNotFound {
			return notFound("card", cardID)
		}
		if err != nil {
			return err
		}
		forms, err := tx.ListCardForms(ctx, card.ID)
		if err != nil {
			return err
		}
		var form *models.CardForm
		for _, f := range forms {
			if f.FormDefinitionID == formDefinitionID {
				form = f
				break
			}
		}
		if form == nil {
			return notFound("card form", formDefinitionID)
		}
		if form.Status == models.FormStatusLocked {
			return badRequest("form is locked and can no longer be edited")
		}
		if form.Data == nil {
			form.Data = make(map[string]any)
		}
		for k, v := range data {
			form.Data[k] = v
		}
		if status != nil {
			if !status.Valid() {
				return badRequest("invalid form status %q", *status)
			}
			form.Status = *status
		}
		updated = form
		return tx.UpdateCardForm(ctx, form)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateCardInput carries card metadata edits. Nil fields keep their
// stored value.
type UpdateCardInput struct {
	Title    *string `json:"title,omitempty"`
	Priority *int    `json:"priority,omitempty"`
}

// UpdateCard edits a card's title and priority. Stage and status only
// ever change through MoveCard.
func (s *CardService) UpdateCard(ctx context.Context, scope models.Scope, cardID string, input UpdateCardInput) (*models.Card, error) {
	var card *models.Card
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		card, err = tx.GetCard(ctx, scope, cardID)
		if err == repository.ErrNotFound {
			return notFound("card", cardID)
		}
		if err != nil {
			return err
		}
		if input.Title != nil {
			if *input.Title == "" {
				return badRequest("card title is required")
			}
			card.Title = *input.Title
		}
		if input.Priority != nil {
			card.Priority = *input.Priority
		}
		return tx.UpdateCard(ctx, card)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// GetCard returns a card with its forms and move history.
func (s *CardService) GetCard(ctx context.Context, scope models.Scope, cardID string) (*CardDetail, error) {
	card, err := s.store.GetCard(ctx, scope, cardID)
	if err == repository.ErrNotFound {
		return nil, notFound("card", cardID)
	}
	if err != nil {
		return nil, err
	}
	forms, err := s.store.ListCardForms(ctx, card.ID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListMoveHistory(ctx, card.ID)
	if err != nil {
		return nil, err
	}
	return &CardDetail{Card: card, Forms: forms, History: history}, nil
}

// GetCardBySessionID resolves a card by the caller-supplied session id
// within one pipeline.
func (s *CardService) GetCardBySessionID(ctx context.Context, scope models.Scope, pipelineID, sessionID string) (*CardDetail, error) {
	card, err := s.store.GetCardBySessionID(ctx, scope, pipelineID, sessionID)
	if err == repository.ErrNotFound {
		return nil, notFound("card", sessionID)
	}
	if err != nil {
		return nil, err
	}
	return s.GetCard(ctx, scope, card.ID)
}

// ListCards returns all cards of a pipeline.
func (s *CardService) ListCards(ctx context.Context, scope models.Scope, pipelineID string) ([]*models.Card, error) {
	if _, err := s.store.GetPipeline(ctx, scope, pipelineID); err != nil {
		if err == repository.ErrNotFound {
			return nil, notFound("pipeline", pipelineID)
		}
		return nil, err
	}
	return s.store.ListCards(ctx, scope, pipelineID)
}

// attachStageForms creates any card forms the stage's rules call for that
// the card does not already carry. Re-entering a stage never resets an
// existing form.
func (s *CardService) attachStageForms(ctx context.Context, tx repository.Tx, cardID, stageID string, overrides []FormInput) error {
	rules, err := tx.ListFormRules(ctx, stageID)
	if err != nil {
		return err
	}
	existing, err := tx.ListCardForms(ctx, cardID)
	if err != nil {
		return err
	}
	for _, form := range attachSet(cardID, rules, existing, overrides) {
		if err := tx.CreateCardForm(ctx, form); err != nil {
			if repository.IsDuplicate(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// applyFormInputs overlays move-time form data onto the card's forms
// before the completeness gate runs. Locked forms reject writes here too.
func applyFormInputs(forms []*models.CardForm, inputs []FormInput) ([]*models.CardForm, []*models.CardForm, error) {
	var changed []*models.CardForm
	for _, in := range inputs {
		for _, form := range forms {
			if form.FormDefinitionID != in.FormDefinitionID {
				continue
			}
			if form.Status == models.FormStatusLocked {
				return nil, nil, badRequest("form %s is locked and can no longer be edited", in.FormDefinitionID)
			}
			if form.Data == nil {
				form.Data = make(map[string]any)
			}
			for k, v := range in.Data {
				form.Data[k] = v
			}
			if in.Status != nil {
				form.Status = *in.Status
			}
			changed = append(changed, form)
		}
	}
	return forms, changed, nil
}

// formDefinitions loads the definitions backing the card's forms, keyed by
// definition id.
func (s *CardService) formDefinitions(ctx context.Context, tx repository.Tx, scope models.Scope, forms []*models.CardForm) (map[string]*models.FormDefinition, error) {
	defs := make(map[string]*models.FormDefinition, len(forms))
	for _, form := range forms {
		if _, ok := defs[form.FormDefinitionID]; ok {
			continue
		}
		def, err := tx.GetFormDefinition(ctx, scope, form.FormDefinitionID)
		if err != nil {
			return nil, err
		}
		defs[form.FormDefinitionID] = def
	}
	return defs, nil
}

func cardPayload(card *models.Card, fromStage, toStage string) map[string]any {
	payload := map[string]any{
		"card_id":          card.ID,
		"pipeline_id":      card.PipelineID,
		"pipeline_version": card.PipelineVersion,
		"stage":            toStage,
		"status":           string(card.Status),
		"source":           card.Source,
	}
	if fromStage != "" {
		payload["from_stage"] = fromStage
	}
	if card.SessionID != nil {
		payload["session_id"] = *card.SessionID
	}
	return payload
}

// formsPayload is the form snapshot carried by card events.
func formsPayload(forms []*models.CardForm) []map[string]any {
	out := make([]map[string]any, len(forms))
	for i, f := range forms {
		out[i] = map[string]any{
			"form_definition_id": f.FormDefinitionID,
			"status":             string(f.Status),
			"data":               f.Data,
		}
	}
	return out
}
