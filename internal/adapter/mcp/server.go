// Package mcp exposes the decision engine to automated agents over the
// Model Context Protocol (streamable HTTP transport).
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/GroundControl/internal/domain/command"
	"github.com/Strob0t/GroundControl/internal/domain/decision"
	"github.com/Strob0t/GroundControl/internal/domain/drone"
	"github.com/Strob0t/GroundControl/internal/service"
)

// EndpointPath is where the MCP transport is mounted.
const EndpointPath = "/mcp"

// DefaultRequester is recorded as requested_by when an agent names no requester.
const DefaultRequester = "mcp-agent"

// ServerConfig holds the MCP server identity and credentials.
type ServerConfig struct {
	Name    string
	Version string
	APIKey  string // Empty disables authentication
}

// Decisions is the slice of the decision engine the MCP tools use.
type Decisions interface {
	Submit(ctx context.Context, req command.Request) (*service.Submission, error)
	Confirm(ctx context.Context, decisionID, actor string) (decision.Record, error)
	Reject(ctx context.Context, decisionID, actor string) (decision.Record, error)
	Get(decisionID string) (*service.DecisionView, error)
	Pending() []service.DecisionView
	ListHistory(filter decision.Filter, page decision.Page) []decision.Record
}

// FleetLister lists registered drones.
type FleetLister interface {
	ListFiltered(ctx context.Context, filter drone.ListFilter) ([]drone.Drone, error)
}

// ServerDeps are the services behind the tools. Nil deps make the
// corresponding tools return an error result.
type ServerDeps struct {
	Decisions Decisions
	Fleet     FleetLister
}

// Server wraps an mcp-go server with the GroundControl tools and resources.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	transport *mcpserver.StreamableHTTPServer
}

// NewServer creates the MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	if cfg.Name == "" {
		cfg.Name = "groundcontrol"
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	s.transport = mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(EndpointPath),
	)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the authenticated streamable HTTP handler for EndpointPath.
func (s *Server) Handler() http.Handler {
	return guard(s.cfg.APIKey, s.transport)
}
