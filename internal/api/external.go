package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"flowdeck/internal/auth"
	"flowdeck/internal/services"
	"flowdeck/pkg/models"
)

// The external surface authenticates with API keys and addresses
// pipelines and stages by their human-readable keys, and cards by the
// caller's session id, so machine clients never handle internal UUIDs.

// RegisterExternalRoutes mounts the API-key surface onto the given group.
func (s *Server) RegisterExternalRoutes(g *echo.Group) {
	g.POST("/pipelines/:pipelineKey/cards", s.ExternalCreateCard)
	g.GET("/pipelines/:pipelineKey/cards/:sessionID", s.ExternalGetCard)
	g.PATCH("/pipelines/:pipelineKey/cards/:sessionID", s.ExternalUpdateCard)
	g.POST("/pipelines/:pipelineKey/cards/:sessionID/move", s.ExternalMoveCard)
	g.PATCH("/pipelines/:pipelineKey/cards/:sessionID/forms/:formKey", s.ExternalUpdateForm)
}

func requireKeyScope(c echo.Context, wanted string) error {
	if !auth.HasScope(auth.GrantedScopes(c.Request().Context()), wanted) {
		return echo.NewHTTPError(http.StatusForbidden, "api key lacks scope "+wanted)
	}
	return nil
}

// externalPipeline resolves the path's pipeline key within the key's
// scope.
func (s *Server) externalPipeline(c echo.Context, scope models.Scope) (*models.Pipeline, error) {
	pipeline, err := s.Pipelines.GetPipelineByKey(c.Request().Context(), scope, c.Param("pipelineKey"))
	if err != nil {
		return nil, problem(c, err)
	}
	return pipeline, nil
}

// ExternalCreateCard creates a card correlated by the caller's session id.
// (POST /external/v1/pipelines/:pipelineKey/cards)
func (s *Server) ExternalCreateCard(c echo.Context) error {
	if err := requireKeyScope(c, auth.ScopeCardsCreate); err != nil {
		return err
	}
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	pipeline, err := s.externalPipeline(c, scope)
	if pipeline == nil {
		return err
	}
	var body struct {
		Title     string               `json:"title"`
		SessionID string               `json:"session_id"`
		Forms     []services.FormInput `json:"forms,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if body.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	card, err := s.Cards.CreateCard(c.Request().Context(), scope, services.CreateCardInput{
		PipelineID: pipeline.ID,
		Title:      body.Title,
		SessionID:  &body.SessionID,
		Source:     models.SourceExternalAPI,
		Forms:      body.Forms,
	})
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, card)
}

// ExternalGetCard resolves a card by session id.
// (GET /external/v1/pipelines/:pipelineKey/cards/:sessionID)
func (s *Server) ExternalGetCard(c echo.Context) error {
	if err := requireKeyScope(c, auth.ScopeCardsRead); err != nil {
		return err
	}
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	pipeline, err := s.externalPipeline(c, scope)
	if pipeline == nil {
		return err
	}
	detail, err := s.Cards.GetCardBySessionID(c.Request().Context(), scope, pipeline.ID, c.Param("sessionID"))
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// ExternalUpdateCard edits the metadata of a card addressed by session id.
// (PATCH /external/v1/pipelines/:pipelineKey/cards/:sessionID)
func (s *Server) ExternalUpdateCard(c echo.Context) error {
	if err := requireKeyScope(c, auth.ScopeCardsUpdate); err != nil {
		return err
	}
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	pipeline, err := s.externalPipeline(c, scope)
	if pipeline == nil {
		return err
	}
	var body services.UpdateCardInput
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	ctx := c.Request().Context()
	detail, err := s.Cards.GetCardBySessionID(ctx, scope, pipeline.ID, c.Param("sessionID"))
	if err != nil {
		return problem(c, err)
	}
	card, err := s.Cards.UpdateCard(ctx, scope, detail.Card.ID, body)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, card)
}

// ExternalMoveCard moves a card addressed by session id to the stage with
// the given key.
// (POST /external/v1/pipelines/:pipelineKey/cards/:sessionID/move)
func (s *Server) ExternalMoveCard(c echo.Context) error {
	if err := requireKeyScope(c, auth.ScopeCardsMove); err != nil {
		return err
	}
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	pipeline, err := s.externalPipeline(c, scope)
	if pipeline == nil {
		return err
	}
	var body struct {
		ToStage string               `json:"to_stage"`
		Reason  string               `json:"reason,omitempty"`
		Forms   []services.FormInput `json:"forms,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	ctx := c.Request().Context()
	detail, err := s.Cards.GetCardBySessionID(ctx, scope, pipeline.ID, c.Param("sessionID"))
	if err != nil {
		return problem(c, err)
	}
	current, err := s.Store.GetStage(ctx, detail.Card.CurrentStageID)
	if err != nil {
		return problem(c, err)
	}
	target, err := s.Store.GetStageByKey(ctx, current.VersionID, body.ToStage)
	if err != nil {
		return problem(c, err)
	}

	card, err := s.Cards.MoveCard(ctx, scope, detail.Card.ID, services.MoveCardInput{
		ToStageID: target.ID,
		Reason:    body.Reason,
		MovedBy:   "api-key",
		Forms:     body.Forms,
	})
	if err != nil {
		return problem(c, err)
	}
	s.cardMoves.Add(ctx, 1)
	return c.JSON(http.StatusOK, card)
}

// ExternalUpdateForm overlays data onto a card form addressed by session
// id and form key.
// (PATCH /external/v1/pipelines/:pipelineKey/cards/:sessionID/forms/:formKey)
func (s *Server) ExternalUpdateForm(c echo.Context) error {
	if err := requireKeyScope(c, auth.ScopeFormsUpdate); err != nil {
		return err
	}
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	pipeline, err := s.externalPipeline(c, scope)
	if pipeline == nil {
		return err
	}
	var body struct {
		Data   map[string]any     `json:"data"`
		Status *models.FormStatus `json:"status,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	ctx := c.Request().Context()
	detail, err := s.Cards.GetCardBySessionID(ctx, scope, pipeline.ID, c.Param("sessionID"))
	if err != nil {
		return problem(c, err)
	}
	def, err := s.Store.GetFormDefinitionByKey(ctx, scope, c.Param("formKey"))
	if err != nil {
		return problem(c, err)
	}
	form, err := s.Cards.UpdateForm(ctx, scope, detail.Card.ID, def.ID, body.Data, body.Status)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, form)
}
