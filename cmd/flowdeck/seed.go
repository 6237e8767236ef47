package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"flowdeck/internal/auth"
	"flowdeck/internal/config"
	"flowdeck/internal/logging"
	"flowdeck/internal/repository"
	"flowdeck/internal/services"
	"flowdeck/pkg/models"
)

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "seed",
		Short:        "Provision a demo tenant with a published pipeline",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd.Context())
		},
	}
}

func runSeed(ctx context.Context) error {
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	store := repository.NewPostgresStore(pool)

	// Ensure demo tenant and default org exist.
	domain := "localhost"
	tenant, err := store.GetTenantByDomain(ctx, domain)
	if err == repository.ErrNotFound {
		logger.Info("Creating demo tenant", "domain", domain)
		tenant = &models.Tenant{
			ID:     uuid.New().String(),
			Name:   "Local Dev Tenant",
			Domain: domain,
		}
		if err := store.CreateTenant(ctx, tenant); err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}
	} else if err != nil {
		return err
	} else {
		logger.Info("Found existing tenant", "id", tenant.ID)
	}

	org, err := store.GetOrganizationByKey(ctx, tenant.ID, "default")
	if err == repository.ErrNotFound {
		org = &models.Organization{
			ID:       uuid.New().String(),
			TenantID: tenant.ID,
			Key:      "default",
			Name:     "Default",
		}
		if err := store.CreateOrganization(ctx, org); err != nil {
			return fmt.Errorf("failed to create organization: %w", err)
		}
	} else if err != nil {
		return err
	}

	scope := models.Scope{TenantID: tenant.ID, OrganizationID: org.ID}

	if _, err := store.GetPipelineByKey(ctx, scope, "onboarding"); err == nil {
		logger.Info("Demo pipeline already seeded")
		return nil
	} else if err != repository.ErrNotFound {
		return err
	}

	outbox := services.NewOutboxEmitter()
	pipelines := services.NewPipelineService(store, outbox, logger)

	pipeline, err := pipelines.CreatePipeline(ctx, scope, services.CreatePipelineInput{
		Key:         "onboarding",
		Name:        "Customer Onboarding",
		Description: "Tracks new customers from intake through go-live.",
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	intakeForm, err := pipelines.CreateFormDefinition(ctx, scope, "intake", "Intake Form", []models.FormField{
		{ID: "company", Label: "Company name", Type: "string", Required: true},
		{ID: "contact", Label: "Primary contact email", Type: "string", Required: true},
		{ID: "notes", Label: "Notes", Type: "string"},
	})
	if err != nil {
		return fmt.Errorf("failed to create form definition: %w", err)
	}

	wip := 5
	stageInputs := []services.StageInput{
		{Key: "new", Name: "New", StageOrder: 1, IsInitial: true},
		{Key: "review", Name: "Review", StageOrder: 2, WIPLimit: &wip, RequireComment: true},
		{Key: "done", Name: "Done", StageOrder: 3, IsFinal: true},
	}
	stages := make(map[string]*models.Stage, len(stageInputs))
	for _, input := range stageInputs {
		stage, err := pipelines.AddStage(ctx, scope, pipeline.ID, 1, input)
		if err != nil {
			return fmt.Errorf("failed to add stage %s: %w", input.Key, err)
		}
		stages[input.Key] = stage
	}

	edges := [][2]string{{"new", "review"}, {"review", "new"}, {"review", "done"}}
	for _, edge := range edges {
		if _, err := pipelines.AddTransition(ctx, scope, pipeline.ID, 1, stages[edge[0]].ID, stages[edge[1]].ID); err != nil {
			return fmt.Errorf("failed to add transition %s->%s: %w", edge[0], edge[1], err)
		}
	}

	if _, err := pipelines.AddFormRule(ctx, scope, pipeline.ID, 1, stages["new"].ID, intakeForm.ID, models.FormStatusToFill, true); err != nil {
		return fmt.Errorf("failed to add form rule: %w", err)
	}

	if err := pipelines.Publish(ctx, scope, pipeline.ID, 1); err != nil {
		return fmt.Errorf("failed to publish pipeline: %w", err)
	}

	raw, _, err := auth.GenerateKey(ctx, store, scope, "demo-key", auth.AllKeyScopes)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	logger.Info("Demo API key (store it now, it is not shown again)", "key", raw)

	logger.Info("Seeding complete!", "pipeline", pipeline.Key)
	return nil
}
