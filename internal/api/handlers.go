// Package api contains the HTTP handlers for the pipeline service.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"flowdeck/internal/auth"
	"flowdeck/internal/repository"
	"flowdeck/internal/services"
	"flowdeck/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Pipelines *services.PipelineService
	Cards     *services.CardService
	Store     repository.Store
	Logger    auth.Logger

	cardMoves metric.Int64Counter
	publishes metric.Int64Counter
}

// NewServer creates a new Server.
func NewServer(pipelines *services.PipelineService, cards *services.CardService, store repository.Store, logger auth.Logger) *Server {
	meter := otel.Meter("flowdeck/api")
	cardMoves, _ := meter.Int64Counter("flowdeck.cards.moved",
		metric.WithDescription("Cards moved between stages"))
	publishes, _ := meter.Int64Counter("flowdeck.pipelines.published",
		metric.WithDescription("Pipeline versions published"))
	return &Server{
		Pipelines: pipelines,
		Cards:     cards,
		Store:     store,
		Logger:    logger,
		cardMoves: cardMoves,
		publishes: publishes,
	}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns health status, checking database reachability.
func (s *Server) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "flowdeck",
		Version:   "1.0.0",
	}
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		status.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response. Code and
// Errors carry the service layer's stable conflict code and its details.
type ProblemDetails struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail"`
	Instance string         `json:"instance,omitempty"`
	Code     string         `json:"code,omitempty"`
	Errors   map[string]any `json:"errors,omitempty"`
}

// problem maps a service-layer error onto an RFC 7807 response.
func problem(c echo.Context, err error) error {
	p := ProblemDetails{
		Type:     "about:blank",
		Instance: c.Request().URL.Path,
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		p.Status = http.StatusNotFound
		p.Title = "Not Found"
		p.Detail = "resource not found"
	case services.IsNotFound(err):
		p.Status = http.StatusNotFound
		p.Title = "Not Found"
		p.Detail = err.Error()
	case services.IsBadRequest(err):
		p.Status = http.StatusBadRequest
		p.Title = "Bad Request"
		p.Detail = err.Error()
	default:
		if conflict, ok := services.AsConflict(err); ok {
			p.Status = http.StatusConflict
			p.Title = "Conflict"
			p.Detail = conflict.Message
			p.Code = conflict.Code
			p.Errors = conflict.Details
			break
		}
		p.Status = http.StatusInternalServerError
		p.Title = "Internal Server Error"
		p.Detail = "an unexpected error occurred"
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(p.Status, p)
}

// requestScope pulls the tenant/org scope the auth middleware resolved.
func requestScope(c echo.Context) (models.Scope, error) {
	scope, ok := auth.ScopeFrom(c.Request().Context())
	if !ok {
		return models.Scope{}, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated scope")
	}
	return scope, nil
}

// RegisterInternalRoutes mounts the OIDC-authenticated internal surface
// onto the given group.
func (s *Server) RegisterInternalRoutes(g *echo.Group) {
	g.POST("/pipelines", s.CreatePipeline)
	g.GET("/pipelines/:id", s.GetPipeline)
	g.DELETE("/pipelines/:id", s.DeletePipeline)
	g.POST("/pipelines/:id/close", s.ClosePipeline)
	g.GET("/pipelines/:id/versions/:version", s.GetVersionDetail)
	g.POST("/pipelines/:id/versions", s.CloneVersion)
	g.POST("/pipelines/:id/versions/:version/stages", s.AddStage)
	g.POST("/pipelines/:id/versions/:version/transitions", s.AddTransition)
	g.POST("/pipelines/:id/versions/:version/form-rules", s.AddFormRule)
	g.POST("/pipelines/:id/versions/:version/test", s.EnterTest)
	g.POST("/pipelines/:id/versions/:version/publish", s.Publish)
	g.POST("/pipelines/:id/versions/:version/unpublish", s.Unpublish)
	g.POST("/pipelines/:id/versions/:version/end-test", s.EndTest)

	g.POST("/form-definitions", s.CreateFormDefinition)
	g.POST("/api-keys", s.CreateAPIKey)

	g.POST("/cards", s.CreateCard)
	g.GET("/cards/:id", s.GetCard)
	g.PATCH("/cards/:id", s.UpdateCard)
	g.POST("/cards/:id/move", s.MoveCard)
	g.PATCH("/cards/:id/forms/:formDefinitionID", s.UpdateCardForm)
	g.GET("/pipelines/:id/cards", s.ListCards)
}
