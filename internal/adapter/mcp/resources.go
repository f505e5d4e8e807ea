package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/GroundControl/internal/domain/decision"
	"github.com/Strob0t/GroundControl/internal/domain/drone"
	"github.com/Strob0t/GroundControl/internal/service"
)

// Resource URIs.
const (
	ResourceHistory = "groundcontrol://decisions/history"
	ResourcePending = "groundcontrol://decisions/pending"
	ResourceFleet   = "groundcontrol://fleet"
)

const mimeJSON = "application/json"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(ResourceHistory, "Decision History",
			mcplib.WithResourceDescription("Most recent resolved decisions, oldest first"),
			mcplib.WithMIMEType(mimeJSON),
		),
		s.handleHistoryResource,
	)
	s.mcpServer.AddResource(
		mcplib.NewResource(ResourcePending, "Pending Decisions",
			mcplib.WithResourceDescription("Decisions awaiting operator confirmation"),
			mcplib.WithMIMEType(mimeJSON),
		),
		s.handlePendingResource,
	)
	s.mcpServer.AddResource(
		mcplib.NewResource(ResourceFleet, "Fleet",
			mcplib.WithResourceDescription("Registered drones"),
			mcplib.WithMIMEType(mimeJSON),
		),
		s.handleFleetResource,
	)
}

func (s *Server) handleHistoryResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return notConfigured(req.Params.URI, "decision engine"), nil
	}
	records := s.deps.Decisions.ListHistory(decision.Filter{}, decision.Page{}.Normalize())
	if records == nil {
		records = []decision.Record{}
	}
	return jsonContents(req.Params.URI, records)
}

func (s *Server) handlePendingResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return notConfigured(req.Params.URI, "decision engine"), nil
	}
	pending := s.deps.Decisions.Pending()
	if pending == nil {
		pending = []service.DecisionView{}
	}
	return jsonContents(req.Params.URI, pending)
}

func (s *Server) handleFleetResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Fleet == nil {
		return notConfigured(req.Params.URI, "fleet registry"), nil
	}
	drones, err := s.deps.Fleet.ListFiltered(ctx, drone.ListFilter{})
	if err != nil {
		return nil, err
	}
	if drones == nil {
		drones = []drone.Drone{}
	}
	return jsonContents(req.Params.URI, drones)
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: uri, MIMEType: mimeJSON, Text: string(data)},
	}, nil
}

func notConfigured(uri, what string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: uri, MIMEType: mimeJSON, Text: `{"error":"` + what + ` not configured"}`},
	}
}
