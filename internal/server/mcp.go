package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewMCPServer exposes read access to the stores and context management as MCP tools.
func (s *Server) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "webhook-receiver-mcp",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_events",
		Description: "Lists stored webhook events, oldest first",
	}, s.ListEventsTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_session_history",
		Description: "Returns the conversation turns recorded for session_id",
	}, s.GetSessionHistoryTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_session",
		Description: "Removes the conversation history for session_id",
	}, s.ClearSessionTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_context",
		Description: "Returns the instruction context injected into every reply",
	}, s.GetContextTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_context",
		Description: "Replaces the instruction context injected into every reply",
	}, s.SetContextTool)

	return server
}

type listEventsParams struct {
	Offset int `json:"offset,omitempty" mcp:"number of stored events to skip (default: 0)"`
	Limit  int `json:"limit,omitempty" mcp:"maximum number of events to return (default: 10, max: 100)"`
}

type sessionParams struct {
	SessionID string `json:"session_id" mcp:"session id as shown in event records, e.g. slack:C1:T1"`
}

type getContextParams struct{}

type setContextParams struct {
	Context string `json:"context" mcp:"instruction text added to the system prompt of every reply"`
}

func (s *Server) ListEventsTool(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[listEventsParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	if args.Offset < 0 {
		return errorResult("offset must be non-negative"), nil
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	items, total := s.events.List(args.Offset, limit)
	return jsonResult(eventsListResponse{Total: total, Offset: args.Offset, Limit: limit, Items: items})
}

func (s *Server) GetSessionHistoryTool(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[sessionParams]) (*mcp.CallToolResultFor[any], error) {
	id := strings.TrimSpace(params.Arguments.SessionID)
	if id == "" {
		return errorResult("session_id parameter is required"), nil
	}
	return jsonResult(sessionHistoryResponse{SessionID: id, Messages: s.conversations.Get(id)})
}

func (s *Server) ClearSessionTool(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[sessionParams]) (*mcp.CallToolResultFor[any], error) {
	id := strings.TrimSpace(params.Arguments.SessionID)
	if id == "" {
		return errorResult("session_id parameter is required"), nil
	}
	s.conversations.Reset(id)
	return textResult(fmt.Sprintf("Session %s cleared", id)), nil
}

func (s *Server) GetContextTool(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[getContextParams]) (*mcp.CallToolResultFor[any], error) {
	return jsonResult(s.currentContext())
}

func (s *Server) SetContextTool(ctx context.Context, session *mcp.ServerSession, params *mcp.CallToolParamsFor[setContextParams]) (*mcp.CallToolResultFor[any], error) {
	s.contexts.Set(params.Arguments.Context)
	return jsonResult(s.currentContext())
}

func textResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*mcp.CallToolResultFor[any], error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return textResult(string(b)), nil
}
