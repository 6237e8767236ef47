package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"flowdeck/internal/services"
	"flowdeck/pkg/models"
)

// CreateCard creates a card on the initial stage of the resolved version.
// (POST /api/v1/cards)
func (s *Server) CreateCard(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	var input services.CreateCardInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	card, err := s.Cards.CreateCard(c.Request().Context(), scope, input)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, card)
}

// GetCard returns a card with its forms and move history.
// (GET /api/v1/cards/:id)
func (s *Server) GetCard(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	detail, err := s.Cards.GetCard(c.Request().Context(), scope, c.Param("id"))
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// MoveCard transitions a card to another stage.
// (POST /api/v1/cards/:id/move)
func (s *Server) MoveCard(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	var input services.MoveCardInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	card, err := s.Cards.MoveCard(c.Request().Context(), scope, c.Param("id"), input)
	if err != nil {
		return problem(c, err)
	}
	s.cardMoves.Add(c.Request().Context(), 1)
	return c.JSON(http.StatusOK, card)
}

// UpdateCard edits a card's title and priority.
// (PATCH /api/v1/cards/:id)
func (s *Server) UpdateCard(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	var input services.UpdateCardInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	card, err := s.Cards.UpdateCard(c.Request().Context(), scope, c.Param("id"), input)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, card)
}

// UpdateCardForm overlays data onto one of the card's forms.
// (PATCH /api/v1/cards/:id/forms/:formDefinitionID)
func (s *Server) UpdateCardForm(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	var body struct {
		Data   map[string]any     `json:"data"`
		Status *models.FormStatus `json:"status,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	form, err := s.Cards.UpdateForm(c.Request().Context(), scope, c.Param("id"), c.Param("formDefinitionID"), body.Data, body.Status)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, form)
}

// ListCards returns all cards of a pipeline.
// (GET /api/v1/pipelines/:id/cards)
func (s *Server) ListCards(c echo.Context) error {
	scope, err := requestScope(c)
	if err != nil {
		return err
	}
	cards, err := s.Cards.ListCards(c.Request().Context(), scope, c.Param("id"))
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, cards)
}
