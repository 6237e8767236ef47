package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"flowdeck/internal/repository"
	"flowdeck/pkg/models"
)

// Logger defines the logging interface compatible with the application
// logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// PipelineService manages the definition lifecycle of pipelines and their
// versions: draft editing, test, publish, unpublish, and teardown.
type PipelineService struct {
	store  repository.Store
	outbox *OutboxEmitter
	logger Logger
}

// NewPipelineService creates a new PipelineService.
func NewPipelineService(store repository.Store, outbox *OutboxEmitter, logger Logger) *PipelineService {
	return &PipelineService{store: store, outbox: outbox, logger: logger}
}

// CreatePipelineInput describes a new pipeline.
type CreatePipelineInput struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// StageInput describes one stage added to a draft version.
type StageInput struct {
	Key            string `json:"key"`
	Name           string `json:"name"`
	StageOrder     int    `json:"stage_order"`
	IsInitial      bool   `json:"is_initial"`
	IsFinal        bool   `json:"is_final"`
	WIPLimit       *int   `json:"wip_limit,omitempty"`
	RequireComment bool   `json:"require_comment"`
}

// VersionDetail bundles a version with its full definition.
type VersionDetail struct {
	Version     *models.PipelineVersion   `json:"version"`
	Stages      []*models.Stage           `json:"stages"`
	Transitions []*models.StageTransition `json:"transitions"`
	FormRules   []*models.StageFormRule   `json:"form_rules"`
}

// CreatePipeline creates a pipeline with version 1 in draft. The pipeline
// key must be unique within the organization.
func (s *PipelineService) CreatePipeline(ctx context.Context, scope models.Scope, input CreatePipelineInput) (*models.Pipeline, error) {
	if input.Key == "" || input.Name == "" {
		return nil, badRequest("pipeline key and name are required")
	}

	pipeline := &models.Pipeline{
		ID:             uuid.New().String(),
		TenantID:       scope.TenantID,
		OrganizationID: scope.OrganizationID,
		Key:            input.Key,
		Name:           input.Name,
		Description:    input.Description,
		Status:         models.PipelineStatusDraft,
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.CreatePipeline(ctx, pipeline); err != nil {
			if repository.IsDuplicate(err) {
				return conflict(CodeKeyExists,
					fmt.Sprintf("pipeline key %q already exists", input.Key),
					map[string]any{"key": input.Key})
			}
			return err
		}
		return tx.CreateVersion(ctx, &models.PipelineVersion{
			ID:         uuid.New().String(),
			PipelineID: pipeline.ID,
			Version:    1,
			Status:     models.VersionStatusDraft,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("pipeline created", "pipeline", pipeline.Key, "org", scope.OrganizationID)
	return pipeline, nil
}

// GetPipeline returns a pipeline by id.
func (s *PipelineService) GetPipeline(ctx context.Context, scope models.Scope, id string) (*models.Pipeline, error) {
	pipeline, err := s.store.GetPipeline(ctx, scope, id)
	if err == repository.ErrNotFound {
		return nil, notFound("pipeline", id)
	}
	return pipeline, err
}

// GetPipelineByKey returns a pipeline by its human-readable key.
func (s *PipelineService) GetPipelineByKey(ctx context.Context, scope models.Scope, key string) (*models.Pipeline, error) {
	pipeline, err := s.store.GetPipelineByKey(ctx, scope, key)
	if err == repository.ErrNotFound {
		return nil, notFound("pipeline", key)
	}
	return pipeline, err
}

// GetVersionDetail returns a version with its stages, transitions, and
// form rules.
func (s *PipelineService) GetVersionDetail(ctx context.Context, scope models.Scope, pipelineID string, version int) (*VersionDetail, error) {
	if _, err := s.GetPipeline(ctx, scope, pipelineID); err != nil {
		return nil, err
	}
	v, err := s.store.GetVersion(ctx, pipelineID, version)
	if err == repository.ErrNotFound {
		return nil, notFound("pipeline version", fmt.Sprintf("%s/%d", pipelineID, version))
	}
	if err != nil {
		return nil, err
	}
	stages, err := s.store.ListStages(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	transitions, err := s.store.ListTransitions(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	var rules []*models.StageFormRule
	for _, stage := range stages {
		stageRules, err := s.store.ListFormRules(ctx, stage.ID)
		if err != nil {
			return nil, err
		}
		rules = append(rules, stageRules...)
	}
	return &VersionDetail{Version: v, Stages: stages, Transitions: transitions, FormRules: rules}, nil
}

// draftVersion loads a version and verifies it is editable.
func (s *PipelineService) draftVersion(ctx context.Context, tx repository.Tx, scope models.Scope, pipelineID string, version int) (*models.PipelineVersion, error) {
	if _, err := tx.GetPipeline(ctx, scope, pipelineID); err != nil {
		if err == repository.ErrNotFound {
			return nil, notFound("pipeline", pipelineID)
		}
		return nil, err
	}
	v, err := tx.GetVersion(ctx, pipelineID, version)
	if err == repository.ErrNotFound {
		return nil, notFound("pipeline version", fmt.Sprintf("%s/%d", pipelineID, version))
	}
	if err != nil {
		return nil, err
	}
	if v.Status != models.VersionStatusDraft {
		return nil, badRequest("version %d is %s; only draft versions are editable", version, v.Status)
	}
	return v, nil
}

// AddStage adds a stage to a draft version.
func (s *PipelineService) AddStage(ctx context.Context, scope models.Scope, pipelineID string, version int, input StageInput) (*models.Stage, error) {
	if input.Key == "" || input.Name == "" {
		return nil, badRequest("stage key and name are required")
	}
	if input.WIPLimit != nil && *input.WIPLimit < 1 {
		return nil, badRequest("wip_limit must be a positive integer")
	}

	var stage *models.Stage
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		v, err := s.draftVersion(ctx, tx, scope, pipelineID, version)
		if err != nil {
			return err
		}
		stage = &models.Stage{
			ID:             uuid.New().String(),
			VersionID:      v.ID,
			Key:            input.Key,
			Name:           input.Name,
			StageOrder:     input.StageOrder,
			IsInitial:      input.IsInitial,
			IsFinal:        input.IsFinal,
			WIPLimit:       input.WIPLimit,
			RequireComment: input.RequireComment,
		}
		if err := tx.CreateStage(ctx, stage); err != nil {
			if repository.IsDuplicate(err) {
				return conflict(CodeKeyExists,
					fmt.Sprintf("stage key %q already exists in version %d", input.Key, version),
					map[string]any{"key": input.Key})
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stage, nil
}

// AddTransition adds a directed edge between two stages of a draft
// version.
func (s *PipelineService) AddTransition(ctx context.Context, scope models.Scope, pipelineID string, version int, fromStageID, toStageID string) (*models.StageTransition, error) {
	if fromStageID == toStageID {
		return nil, badRequest("a stage cannot transition to itself")
	}

	var transition *models.StageTransition
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		v, err := s.draftVersion(ctx, tx, scope, pipelineID, version)
		if err != nil {
			return err
		}
		for _, id := range []string{fromStageID, toStageID} {
			stage, err := tx.GetStage(ctx, id)
			if err == repository.ErrNotFound {
				return notFound("stage", id)
			}
			if err != nil {
				return err
			}
			if stage.VersionID != v.ID {
				return badRequest("stage %s does not belong to version %d", id, version)
			}
		}
		transition = &models.StageTransition{
			ID:          uuid.New().String(),
			VersionID:   v.ID,
			FromStageID: fromStageID,
			ToStageID:   toStageID,
		}
		if err := tx.CreateTransition(ctx, transition); err != nil {
			if repository.IsDuplicate(err) {
				return badRequest("transition already exists")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transition, nil
}

// AddFormRule attaches a form definition to a stage of a draft version.
func (s *PipelineService) AddFormRule(ctx context.Context, scope models.Scope, pipelineID string, version int, stageID, formDefinitionID string, defaultStatus models.FormStatus, lockOnLeave bool) (*models.StageFormRule, error) {
	if defaultStatus == "" {
		defaultStatus = models.FormStatusToFill
	}

	var rule *models.StageFormRule
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		v, err := s.draftVersion(ctx, tx, scope, pipelineID, version)
		if err != nil {
			return err
		}
		stage, err := tx.GetStage(ctx, stageID)
		if err == repository.ErrNotFound {
			return notFound("stage", stageID)
		}
		if err != nil {
			return err
		}
		if stage.VersionID != v.ID {
			return badRequest("stage %s does not belong to version %d", stageID, version)
		}
		if _, err := tx.GetFormDefinition(ctx, scope, formDefinitionID); err != nil {
			if err == repository.ErrNotFound {
				return notFound("form definition", formDefinitionID)
			}
			return err
		}
		rule = &models.StageFormRule{
			ID:               uuid.New().String(),
			StageID:          stageID,
			FormDefinitionID: formDefinitionID,
			DefaultStatus:    defaultStatus,
			LockOnLeave:      lockOnLeave,
		}
		return tx.CreateFormRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// validateStructure enforces the publish/test preconditions: exactly one
// initial stage and at least one final stage.
func validateStructure(stages []*models.Stage) error {
	initial, final := 0, 0
	for _, stage := range stages {
		if stage.IsInitial {
			initial++
		}
		if stage.IsFinal {
			final++
		}
	}
	if initial != 1 {
		return badRequest("version must have exactly one initial stage, found %d", initial)
	}
	if final < 1 {
		return badRequest("version must have at least one final stage")
	}
	return nil
}

// EnterTest moves a draft version into test.
func (s *PipelineService) EnterTest(ctx context.Context, scope models.Scope, pipelineID string, version int) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		pipeline, v, err := s.loadForLifecycle(ctx, tx, scope, pipelineID, version)
		if err != nil {
			return err
		}
		if v.Status == models.VersionStatusTest {
			return badRequest("version %d is already in test", version)
		}
		if !v.Status.CanTransition(models.VersionStatusTest) {
			return badRequest("version %d cannot enter test from status %s", version, v.Status)
		}
		stages, err := tx.ListStages(ctx, v.ID)
		if err != nil {
			return err
		}
		if err := validateStructure(stages); err != nil {
			return err
		}
		if err := tx.UpdateVersionStatus(ctx, v.ID, models.VersionStatusTest); err != nil {
			return err
		}
		if pipeline.Status == models.PipelineStatusDraft {
			pipeline.Status = models.PipelineStatusTest
			if err := tx.UpdatePipeline(ctx, pipeline); err != nil {
				return err
			}
		}
		return s.outbox.Append(ctx, tx, scope, models.EventPipeTestStarted, "pipeline", pipeline.ID,
			pipelinePayload(pipeline, version))
	})
	if err == nil {
		s.logger.Info("version entered test", "pipeline", pipelineID, "version", version)
	}
	return err
}

// Publish promotes a version to published, archiving any previously
// published version of the same pipeline in the same transaction.
func (s *PipelineService) Publish(ctx context.Context, scope models.Scope, pipelineID string, version int) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return s.publishInTx(ctx, tx, scope, pipelineID, version)
	})
	if err == nil {
		s.logger.Info("version published", "pipeline", pipelineID, "version", version)
	}
	return err
}

func (s *PipelineService) publishInTx(ctx context.Context, tx repository.Tx, scope models.Scope, pipelineID string, version int) error {
	pipeline, v, err := s.loadForLifecycle(ctx, tx, scope, pipelineID, version)
	if err != nil {
		return err
	}
	if v.Status == models.VersionStatusPublished {
		return conflict(CodeAlreadyPublished, fmt.Sprintf("version %d is already published", version), nil)
	}
	if !v.Status.CanTransition(models.VersionStatusPublished) {
		return badRequest("version %d cannot be published from status %s", version, v.Status)
	}
	stages, err := tx.ListStages(ctx, v.ID)
	if err != nil {
		return err
	}
	if err := validateStructure(stages); err != nil {
		return err
	}

	// Archive the previously published version; at most one version per
	// pipeline is published at a time.
	if pipeline.PublishedVersion != nil && *pipeline.PublishedVersion != version {
		prior, err := tx.GetVersion(ctx, pipelineID, *pipeline.PublishedVersion)
		if err != nil {
			return err
		}
		if err := tx.UpdateVersionStatus(ctx, prior.ID, models.VersionStatusArchived); err != nil {
			return err
		}
	}

	if err := tx.UpdateVersionStatus(ctx, v.ID, models.VersionStatusPublished); err != nil {
		return err
	}
	pipeline.Status = models.PipelineStatusPublished
	pipeline.PublishedVersion = &version
	if err := tx.UpdatePipeline(ctx, pipeline); err != nil {
		return err
	}
	return s.outbox.Append(ctx, tx, scope, models.EventPipePublished, "pipeline", pipeline.ID,
		pipelinePayload(pipeline, version))
}

// Unpublish reverts a published version to draft. Rejected while the
// pipeline has active cards.
func (s *PipelineService) Unpublish(ctx context.Context, scope models.Scope, pipelineID string, version int) error {
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		pipeline, v, err := s.loadForLifecycle(ctx, tx, scope, pipelineID, version)
		if err != nil {
			return err
		}
		if v.Status != models.VersionStatusPublished {
			return badRequest("version %d is not published", version)
		}
		active, err := tx.CountActiveCardsInPipeline(ctx, pipelineID)
		if err != nil {
			return err
		}
		if active > 0 {
			return badRequest("cannot unpublish: pipeline has %d active cards", active)
		}
		if err := tx.UpdateVersionStatus(ctx, v.ID, models.VersionStatusDraft); err != nil {
			return err
		}
		pipeline.Status = models.PipelineStatusDraft
		pipeline.PublishedVersion = nil
		if err := tx.UpdatePipeline(ctx, pipeline); err != nil {
			return err
		}
		return s.outbox.Append(ctx, tx, scope, models.EventPipeUnpublished, "pipeline", pipeline.ID,
			pipelinePayload(pipeline, version))
	})
	if err == nil {
		s.logger.Info("version unpublished", "pipeline", pipelineID, "version", version)
	}
	return err
}

// EndTestAction selects what happens to a test version on teardown.
type EndTestAction string

const (
	EndTestPublish EndTestAction = "publish"
	EndTestDiscard EndTestAction = "discard"
)

// EndTest tears down a test run: every card created under the test version
// is deleted along with its forms and history, then the version is either
// published or reverted to draft.
func (s *PipelineService) EndTest(ctx context.Context, scope models.Scope, pipelineID string, version int, action EndTestAction) error {
	if action != EndTestPublish && action != EndTestDiscard {
		return badRequest("action must be %q or %q", EndTestPublish, EndTestDiscard)
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		pipeline, v, err := s.loadForLifecycle(ctx, tx, scope, pipelineID, version)
		if err != nil {
			return err
		}
		if v.Status != models.VersionStatusTest {
			return badRequest("version %d is not in test", version)
		}
		deleted, err := tx.DeleteCardsForVersion(ctx, pipelineID, version)
		if err != nil {
			return err
		}
		s.logger.Info("test cards deleted", "pipeline", pipelineID, "version", version, "count", deleted)

		if err := s.outbox.Append(ctx, tx, scope, models.EventPipeTestEnded, "pipeline", pipeline.ID,
			map[string]any{
				"pipeline_id":   pipeline.ID,
				"pipeline_key":  pipeline.Key,
				"version":       version,
				"action":        string(action),
				"cards_deleted": deleted,
			}); err != nil {
			return err
		}

		if action == EndTestPublish {
			return s.publishInTx(ctx, tx, scope, pipelineID, version)
		}
		if err := tx.UpdateVersionStatus(ctx, v.ID, models.VersionStatusDraft); err != nil {
			return err
		}
		if pipeline.Status == models.PipelineStatusTest {
			pipeline.Status = models.PipelineStatusDraft
			return tx.UpdatePipeline(ctx, pipeline)
		}
		return nil
	})
	if err == nil {
		s.logger.Info("test ended", "pipeline", pipelineID, "version", version, "action", action)
	}
	return err
}

// CloneVersion deep-copies stages, transitions, and form rules from the
// source version (default: the current published version) into a new draft
// version with the next version number.
func (s *PipelineService) CloneVersion(ctx context.Context, scope models.Scope, pipelineID string, sourceVersion *int) (*models.PipelineVersion, error) {
	var created *models.PipelineVersion
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		pipeline, err := tx.GetPipeline(ctx, scope, pipelineID)
		if err == repository.ErrNotFound {
			return notFound("pipeline", pipelineID)
		}
		if err != nil {
			return err
		}

		source := sourceVersion
		if source == nil {
			source = pipeline.PublishedVersion
		}
		if source == nil {
			return badRequest("no source version: pipeline has no published version and none was given")
		}
		src, err := tx.GetVersion(ctx, pipelineID, *source)
		if err == repository.ErrNotFound {
			return badRequest("source version %d does not exist", *source)
		}
		if err != nil {
			return err
		}

		versions, err := tx.ListVersions(ctx, pipelineID)
		if err != nil {
			return err
		}
		next := 0
		for _, v := range versions {
			if v.Version > next {
				next = v.Version
			}
		}
		next++

		created = &models.PipelineVersion{
			ID:         uuid.New().String(),
			PipelineID: pipelineID,
			Version:    next,
			Status:     models.VersionStatusDraft,
		}
		if err := tx.CreateVersion(ctx, created); err != nil {
			return err
		}

		stages, err := tx.ListStages(ctx, src.ID)
		if err != nil {
			return err
		}
		stageIDs := make(map[string]string, len(stages))
		for _, stage := range stages {
			copied := &models.Stage{
				ID:             uuid.New().String(),
				VersionID:      created.ID,
				Key:            stage.Key,
				Name:           stage.Name,
				StageOrder:     stage.StageOrder,
				IsInitial:      stage.IsInitial,
				IsFinal:        stage.IsFinal,
				WIPLimit:       stage.WIPLimit,
				RequireComment: stage.RequireComment,
			}
			if err := tx.CreateStage(ctx, copied); err != nil {
				return err
			}
			stageIDs[stage.ID] = copied.ID

			rules, err := tx.ListFormRules(ctx, stage.ID)
			if err != nil {
				return err
			}
			for _, rule := range rules {
				if err := tx.CreateFormRule(ctx, &models.StageFormRule{
					ID:               uuid.New().String(),
					StageID:          copied.ID,
					FormDefinitionID: rule.FormDefinitionID,
					DefaultStatus:    rule.DefaultStatus,
					LockOnLeave:      rule.LockOnLeave,
				}); err != nil {
					return err
				}
			}
		}

		transitions, err := tx.ListTransitions(ctx, src.ID)
		if err != nil {
			return err
		}
		for _, tr := range transitions {
			if err := tx.CreateTransition(ctx, &models.StageTransition{
				ID:          uuid.New().String(),
				VersionID:   created.ID,
				FromStageID: stageIDs[tr.FromStageID],
				ToStageID:   stageIDs[tr.ToStageID],
			}); err != nil {
				return err
			}
		}

		return s.outbox.Append(ctx, tx, scope, models.EventPipeCloned, "pipeline", pipeline.ID,
			map[string]any{
				"pipeline_id":    pipeline.ID,
				"pipeline_key":   pipeline.Key,
				"source_version": *source,
				"new_version":    next,
			})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("version cloned", "pipeline", pipelineID, "version", created.Version)
	return created, nil
}

// ClosePipeline marks a pipeline closed. Closed pipelines accept no new
// cards.
func (s *PipelineService) ClosePipeline(ctx context.Context, scope models.Scope, pipelineID string) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		pipeline, err := tx.GetPipeline(ctx, scope, pipelineID)
		if err == repository.ErrNotFound {
			return notFound("pipeline", pipelineID)
		}
		if err != nil {
			return err
		}
		if pipeline.Status == models.PipelineStatusClosed {
			return badRequest("pipeline is already closed")
		}
		pipeline.Status = models.PipelineStatusClosed
		if err := tx.UpdatePipeline(ctx, pipeline); err != nil {
			return err
		}
		return s.outbox.Append(ctx, tx, scope, models.EventPipeClosed, "pipeline", pipeline.ID,
			pipelinePayload(pipeline, 0))
	})
}

// DeletePipeline removes a pipeline, its definition, and any closed
// cards it still holds. Rejected while active cards exist.
func (s *PipelineService) DeletePipeline(ctx context.Context, scope models.Scope, pipelineID string) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		pipeline, err := tx.GetPipeline(ctx, scope, pipelineID)
		if err == repository.ErrNotFound {
			return notFound("pipeline", pipelineID)
		}
		if err != nil {
			return err
		}
		active, err := tx.CountActiveCardsInPipeline(ctx, pipelineID)
		if err != nil {
			return err
		}
		if active > 0 {
			return badRequest("cannot delete: pipeline has %d active cards", active)
		}
		if err := s.outbox.Append(ctx, tx, scope, models.EventPipeDeleted, "pipeline", pipeline.ID,
			pipelinePayload(pipeline, 0)); err != nil {
			return err
		}
		// Closed cards still reference the pipeline and its stages; they
		// go first or the pipeline row cannot be removed.
		if _, err := tx.DeleteCardsForPipeline(ctx, pipelineID); err != nil {
			return err
		}
		return tx.DeletePipeline(ctx, scope, pipelineID)
	})
}

// CreateFormDefinition registers a reusable form schema.
func (s *PipelineService) CreateFormDefinition(ctx context.Context, scope models.Scope, key, name string, fields []models.FormField) (*models.FormDefinition, error) {
	if key == "" || name == "" {
		return nil, badRequest("form key and name are required")
	}
	def := &models.FormDefinition{
		ID:     uuid.New().String(),
		Key:    key,
		Name:   name,
		Fields: fields,
	}
	if err := s.store.CreateFormDefinition(ctx, scope, def); err != nil {
		if repository.IsDuplicate(err) {
			return nil, conflict(CodeKeyExists,
				fmt.Sprintf("form key %q already exists", key),
				map[string]any{"key": key})
		}
		return nil, err
	}
	return def, nil
}

func (s *PipelineService) loadForLifecycle(ctx context.Context, tx repository.Tx, scope models.Scope, pipelineID string, version int) (*models.Pipeline, *models.PipelineVersion, error) {
	pipeline, err := tx.GetPipeline(ctx, scope, pipelineID)
	if err == repository.ErrNotFound {
		return nil, nil, notFound("pipeline", pipelineID)
	}
	if err != nil {
		return nil, nil, err
	}
	v, err := tx.GetVersion(ctx, pipelineID, version)
	if err == repository.ErrNotFound {
		return nil, nil, notFound("pipeline version", fmt.Sprintf("%s/%d", pipelineID, version))
	}
	if err != nil {
		return nil, nil, err
	}
	return pipeline, v, nil
}

func pipelinePayload(pipeline *models.Pipeline, version int) map[string]any {
	payload := map[string]any{
		"pipeline_id":  pipeline.ID,
		"pipeline_key": pipeline.Key,
		"status":       string(pipeline.Status),
	}
	if version > 0 {
		payload["version"] = version
	}
	if pipeline.PublishedVersion != nil {
		payload["published_version"] = *pipeline.PublishedVersion
	}
	return payload
}
