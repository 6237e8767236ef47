package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"flowdeck/internal/auth"
	"flowdeck/internal/services"
	"flowdeck/pkg/models"
)

// CreatePipeline creates a pipeline with version 1 in draft.
// (POST /api/v1/pipelines)
func (s *Server) CreatePipeline(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	var input services.CreatePipelineInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	pipeline, err := s.Pipelines.CreatePipeline(c.Request().Context(), scope, input)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, pipeline)
}

// GetPipeline returns a pipeline by id.
// (GET /api/v1/pipelines/:id)
func (s *Server) GetPipeline(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	pipeline, err := s.Pipelines.GetPipeline(c.Request().Context(), scope, c.Param("id"))
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, pipeline)
}

// DeletePipeline deletes a pipeline with no active cards.
// (DELETE /api/v1/pipelines/:id)
func (s *Server) DeletePipeline(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	if err := s.Pipelines.DeletePipeline(c.Request().Context(), scope, c.Param("id")); err != nil {
		return problem(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ClosePipeline marks a pipeline closed.
// (POST /api/v1/pipelines/:id/close)
func (s *Server) ClosePipeline(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	if err := s.Pipelines.ClosePipeline(c.Request().Context(), scope, c.Param("id")); err != nil {
		return problem(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func versionParam(c echo.Context) (int, error) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "version must be an integer")
	}
	return version, nil
}

// GetVersionDetail returns a version with its stages, transitions, and
// form rules.
// (GET /api/v1/pipelines/:id/versions/:version)
func (s *Server) GetVersionDetail(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	version, err := versionParam(c)
	if err != nil {
		return err
	}
	detail, err := s.Pipelines.GetVersionDetail(c.Request().Context(), scope, c.Param("id"), version)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// CloneVersion creates a new draft version copied from a source version.
// (POST /api/v1/pipelines/:id/versions)
func (s *Server) CloneVersion(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	var body struct {
		SourceVersion *int `json:"source_version,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	version, err := s.Pipelines.CloneVersion(c.Request().Context(), scope, c.Param("id"), body.SourceVersion)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, version)
}

// AddStage adds a stage to a draft version.
// (POST /api/v1/pipelines/:id/versions/:version/stages)
func (s *Server) AddStage(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	version, err := versionParam(c)
	if err != nil {
		return err
	}
	var input services.StageInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	stage, err := s.Pipelines.AddStage(c.Request().Context(), scope, c.Param("id"), version, input)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, stage)
}

// AddTransition adds a directed stage transition to a draft version.
// (POST /api/v1/pipelines/:id/versions/:version/transitions)
func (s *Server) AddTransition(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	version, err := versionParam(c)
	if err != nil {
		return err
	}
	var body struct {
		FromStageID string `json:"from_stage_id"`
		ToStageID   string `json:"to_stage_id"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	transition, err := s.Pipelines.AddTransition(c.Request().Context(), scope, c.Param("id"), version, body.FromStageID, body.ToStageID)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, transition)
}

// AddFormRule attaches a form definition to a stage of a draft version.
// (POST /api/v1/pipelines/:id/versions/:version/form-rules)
func (s *Server) AddFormRule(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	version, err := versionParam(c)
	if err != nil {
		return err
	}
	var body struct {
		StageID          string            `json:"stage_id"`
		FormDefinitionID string            `json:"form_definition_id"`
		DefaultStatus    models.FormStatus `json:"default_status,omitempty"`
		LockOnLeave      bool              `json:"lock_on_leave"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	rule, err := s.Pipelines.AddFormRule(c.Request().Context(), scope, c.Param("id"), version,
		body.StageID, body.FormDefinitionID, body.DefaultStatus, body.LockOnLeave)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, rule)
}

// EnterTest moves a draft version into test.
// (POST /api/v1/pipelines/:id/versions/:version/test)
func (s *Server) EnterTest(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	version, err := versionParam(c)
	if err != nil {
		return err
	}
	if err := s.Pipelines.EnterTest(c.Request().Context(), scope, c.Param("id"), version); err != nil {
		return problem(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Publish promotes a version to published.
// (POST /api/v1/pipelines/:id/versions/:version/publish)
func (s *Server) Publish(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	version, err := versionParam(c)
	if err != nil {
		return err
	}
	if err := s.Pipelines.Publish(c.Request().Context(), scope, c.Param("id"), version); err != nil {
		return problem(c, err)
	}
	s.publishes.Add(c.Request().Context(), 1)
	return c.NoContent(http.StatusNoContent)
}

// Unpublish reverts a published version to draft.
// (POST /api/v1/pipelines/:id/versions/:version/unpublish)
func (s *Server) Unpublish(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	version, err := versionParam(c)
	if err != nil {
		return err
	}
	if err := s.Pipelines.Unpublish(c.Request().Context(), scope, c.Param("id"), version); err != nil {
		return problem(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// EndTest tears down a test version, publishing or discarding it.
// (POST /api/v1/pipelines/:id/versions/:version/end-test)
func (s *Server) EndTest(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	version, err := versionParam(c)
	if err != nil {
		return err
	}
	var body struct {
		Action services.EndTestAction `json:"action"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if err := s.Pipelines.EndTest(c.Request().Context(), scope, c.Param("id"), version, body.Action); err != nil {
		return problem(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateFormDefinition registers a reusable form schema.
// (POST /api/v1/form-definitions)
func (s *Server) CreateFormDefinition(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	var body struct {
		Key    string             `json:"key"`
		Name   string             `json:"name"`
		Fields []models.FormField `json:"fields"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	def, err := s.Pipelines.CreateFormDefinition(c.Request().Context(), scope, body.Key, body.Name, body.Fields)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, def)
}

// CreateAPIKey mints an API key for the caller's organization. The raw
// secret appears in this response only.
// (POST /api/v1/api-keys)
func (s *Server) CreateAPIKey(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	var body struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if body.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	for _, sc := range body.Scopes {
		if !auth.HasScope(auth.AllKeyScopes, sc) {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown scope: "+sc)
		}
	}
	raw, key, err := auth.GenerateKey(c.Request().Context(), s.Store, scope, body.Name, body.Scopes)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"key": raw, "api_key": key})
}
