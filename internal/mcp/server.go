// Package mcp exposes the card operations as MCP tools so agent clients
// can drive cards through a pipeline.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"flowdeck/internal/services"
	"flowdeck/pkg/models"
)

type Server struct {
	mcpServer   *server.MCPServer
	cardService *services.CardService
	// scope fixes the tenant/org every tool call operates in; the MCP
	// surface runs behind process-level auth, not per-request identity.
	scope models.Scope
}

func NewServer(cardService *services.CardService, scope models.Scope) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Flowdeck",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		cardService: cardService,
		scope:       scope,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_card",
			mcp.WithDescription("Create a card on a pipeline's initial stage"),
			mcp.WithString("pipeline_id", mcp.Required(), mcp.Description("The pipeline to create the card in")),
			mcp.WithString("title", mcp.Required(), mcp.Description("The card title")),
		),
		s.handleCreateCard,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_card",
			mcp.WithDescription("Fetch a card with its forms and move history"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The card ID")),
		),
		s.handleGetCard,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"move_card",
			mcp.WithDescription("Move a card to another stage"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The card ID")),
			mcp.WithString("to_stage_id", mcp.Required(), mcp.Description("The target stage ID")),
			mcp.WithString("reason", mcp.Description("Why the card is moving; required by some stages")),
		),
		s.handleMoveCard,
	)
}

func (s *Server) handleCreateCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	pipelineID, ok := args["pipeline_id"].(string)
	if !ok || pipelineID == "" {
		return mcp.NewToolResultError("Missing required parameter: pipeline_id"), nil
	}
	title, ok := args["title"].(string)
	if !ok || title == "" {
		return mcp.NewToolResultError("Missing required parameter: title"), nil
	}

	card, err := s.cardService.CreateCard(ctx, s.scope, services.CreateCardInput{
		PipelineID: pipelineID,
		Title:      title,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create card: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(card)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	detail, err := s.cardService.GetCard(ctx, s.scope, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get card: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(detail)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleMoveCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}
	toStageID, ok := args["to_stage_id"].(string)
	if !ok || toStageID == "" {
		return mcp.NewToolResultError("Missing required parameter: to_stage_id"), nil
	}
	reason, _ := args["reason"].(string)

	card, err := s.cardService.MoveCard(ctx, s.scope, id, services.MoveCardInput{
		ToStageID: toStageID,
		Reason:    reason,
		MovedBy:   "mcp",
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to move card: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(card)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
