package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/GroundControl/internal/domain"
	"github.com/Strob0t/GroundControl/internal/domain/command"
	"github.com/Strob0t/GroundControl/internal/domain/decision"
	"github.com/Strob0t/GroundControl/internal/domain/drone"
	"github.com/Strob0t/GroundControl/internal/logger"
	"github.com/Strob0t/GroundControl/internal/service"
)

// Tool names.
const (
	ToolSubmitCommand   = "submit_command"
	ToolConfirmDecision = "confirm_decision"
	ToolRejectDecision  = "reject_decision"
	ToolGetDecision     = "get_decision"
	ToolListPending     = "list_pending"
	ToolListHistory     = "list_history"
	ToolListDrones      = "list_drones"
)

// submitResult is the JSON body returned by submit_command.
type submitResult struct {
	DecisionID string                        `json:"decision_id"`
	Policy     decision.Policy               `json:"policy"`
	RiskScore  float64                       `json:"risk_score"`
	Threshold  float64                       `json:"threshold"`
	Record     *decision.Record              `json:"record,omitempty"`
	Pending    *decision.PendingConfirmation `json:"pending,omitempty"`
}

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.submitCommandTool(),
		s.resolveTool(ToolConfirmDecision, "Approve a decision awaiting confirmation and dispatch it to the drone"),
		s.resolveTool(ToolRejectDecision, "Refuse a decision awaiting confirmation; nothing is dispatched"),
		s.getDecisionTool(),
		s.listPendingTool(),
		s.listHistoryTool(),
		s.listDronesTool(),
	)
}

func (s *Server) submitCommandTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(ToolSubmitCommand,
		mcplib.WithDescription("Request a drone command. Low-risk commands execute immediately; "+
			"the rest wait for an operator to confirm within the confirmation timeout."),
		mcplib.WithString("drone_id", mcplib.Required(), mcplib.Description("Target drone ID")),
		mcplib.WithString("tool_name", mcplib.Required(), mcplib.Description("Command name, e.g. return_to_launch, land, goto")),
		mcplib.WithObject("parameters", mcplib.Description("Command parameters (scalar values only)")),
		mcplib.WithString("requested_by", mcplib.Description("Agent identity recorded on the decision")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSubmitCommand}
}

func (s *Server) resolveTool(name, description string) mcpserver.ServerTool {
	tool := mcplib.NewTool(name,
		mcplib.WithDescription(description),
		mcplib.WithString("decision_id", mcplib.Required(), mcplib.Description("Decision ID returned by submit_command")),
		mcplib.WithString("actor", mcplib.Description("Operator resolving the decision")),
	)
	handler := s.handleConfirm
	if name == ToolRejectDecision {
		handler = s.handleReject
	}
	return mcpserver.ServerTool{Tool: tool, Handler: handler}
}

func (s *Server) getDecisionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(ToolGetDecision,
		mcplib.WithDescription("Get a pending or recently resolved decision"),
		mcplib.WithString("decision_id", mcplib.Required(), mcplib.Description("Decision ID")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetDecision}
}

func (s *Server) listPendingTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(ToolListPending,
		mcplib.WithDescription("List decisions awaiting confirmation, oldest first"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListPending}
}

func (s *Server) listHistoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(ToolListHistory,
		mcplib.WithDescription("List resolved decisions from the in-memory ledger in resolution order"),
		mcplib.WithString("drone_id", mcplib.Description("Only decisions for this drone")),
		mcplib.WithString("outcome", mcplib.Description("auto_executed, confirmed, rejected, timed_out or dispatch_failed")),
		mcplib.WithNumber("offset", mcplib.Description("Records to skip")),
		mcplib.WithNumber("limit", mcplib.Description("Maximum records to return")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListHistory}
}

func (s *Server) listDronesTool() mcpserver.ServerTool {
	tool := mcplib.NewTool(ToolListDrones,
		mcplib.WithDescription("List drones registered with the fleet"),
		mcplib.WithBoolean("active", mcplib.Description("Only active (true) or inactive (false) drones")),
		mcplib.WithString("module", mcplib.Description("Only drones flying this mission module")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListDrones}
}

func (s *Server) handleSubmitCommand(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return mcplib.NewToolResultError("decision engine not configured"), nil
	}
	droneID, err := req.RequireString("drone_id")
	if err != nil {
		return mcplib.NewToolResultError("drone_id is required"), nil
	}
	toolName, err := req.RequireString("tool_name")
	if err != nil {
		return mcplib.NewToolResultError("tool_name is required"), nil
	}
	var params map[string]any
	if raw, ok := req.GetArguments()["parameters"]; ok && raw != nil {
		if params, ok = raw.(map[string]any); !ok {
			return mcplib.NewToolResultError("parameters must be an object"), nil
		}
	}
	requestedBy := req.GetString("requested_by", logger.Actor(ctx))
	if requestedBy == "" {
		requestedBy = DefaultRequester
	}

	sub, err := s.deps.Decisions.Submit(ctx, command.NewRequest(droneID, toolName, params, requestedBy))
	if err != nil {
		return toolError("submit command", err), nil
	}
	return toolResultJSON(submitResult{
		DecisionID: sub.Decision.ID,
		Policy:     sub.Decision.Policy,
		RiskScore:  sub.Decision.RiskScore.Value,
		Threshold:  sub.Decision.Threshold,
		Record:     sub.Record,
		Pending:    sub.Pending,
	})
}

func (s *Server) handleConfirm(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return mcplib.NewToolResultError("decision engine not configured"), nil
	}
	return s.resolve(ctx, req, "confirm", s.deps.Decisions.Confirm)
}

func (s *Server) handleReject(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return mcplib.NewToolResultError("decision engine not configured"), nil
	}
	return s.resolve(ctx, req, "reject", s.deps.Decisions.Reject)
}

func (s *Server) resolve(
	ctx context.Context,
	req mcplib.CallToolRequest, //nolint:gocritic // hugeParam: mcp-go request type
	action string,
	fn func(ctx context.Context, decisionID, actor string) (decision.Record, error),
) (*mcplib.CallToolResult, error) {
	decisionID, err := req.RequireString("decision_id")
	if err != nil {
		return mcplib.NewToolResultError("decision_id is required"), nil
	}
	actor := req.GetString("actor", logger.Actor(ctx))
	if actor == "" {
		return mcplib.NewToolResultError("actor is required"), nil
	}
	rec, err := fn(ctx, decisionID, actor)
	if err != nil {
		return toolError(action+" "+decisionID, err), nil
	}
	return toolResultJSON(rec)
}

func (s *Server) handleGetDecision(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return mcplib.NewToolResultError("decision engine not configured"), nil
	}
	decisionID, err := req.RequireString("decision_id")
	if err != nil {
		return mcplib.NewToolResultError("decision_id is required"), nil
	}
	view, err := s.deps.Decisions.Get(decisionID)
	if err != nil {
		return toolError("get decision "+decisionID, err), nil
	}
	return toolResultJSON(view)
}

func (s *Server) handleListPending(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return mcplib.NewToolResultError("decision engine not configured"), nil
	}
	pending := s.deps.Decisions.Pending()
	if pending == nil {
		pending = []service.DecisionView{}
	}
	return toolResultJSON(pending)
}

func (s *Server) handleListHistory(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Decisions == nil {
		return mcplib.NewToolResultError("decision engine not configured"), nil
	}
	filter := decision.Filter{DroneID: req.GetString("drone_id", "")}
	if o := req.GetString("outcome", ""); o != "" {
		if !decision.ValidOutcome(o) {
			return mcplib.NewToolResultError(fmt.Sprintf("unknown outcome %q", o)), nil
		}
		filter.Outcome = decision.Outcome(o)
	}
	page := decision.Page{Offset: req.GetInt("offset", 0), Limit: req.GetInt("limit", 0)}.Normalize()

	records := s.deps.Decisions.ListHistory(filter, page)
	if records == nil {
		records = []decision.Record{}
	}
	return toolResultJSON(records)
}

func (s *Server) handleListDrones(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Fleet == nil {
		return mcplib.NewToolResultError("fleet registry not configured"), nil
	}
	filter := drone.ListFilter{Module: req.GetString("module", "")}
	if v, ok := req.GetArguments()["active"]; ok {
		active, isBool := v.(bool)
		if !isBool {
			return mcplib.NewToolResultError("invalid_request: active must be a boolean"), nil
		}
		filter.Active = &active
	}
	drones, err := s.deps.Fleet.ListFiltered(ctx, filter)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list drones", err), nil
	}
	if drones == nil {
		drones = []drone.Drone{}
	}
	return toolResultJSON(drones)
}

// toolResultJSON marshals v into a text result.
func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

// toolError turns a domain error into an error result whose text starts
// with a stable code agents can branch on.
func toolError(action string, err error) *mcplib.CallToolResult {
	return mcplib.NewToolResultError(fmt.Sprintf("%s: %s failed: %v", errorCode(err), action, err))
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, domain.ErrValidation):
		return "invalid_request"
	case errors.Is(err, domain.ErrDispatchRejected):
		return "dispatch_rejected"
	case errors.Is(err, domain.ErrDispatch):
		return "dispatch_failed"
	case errors.Is(err, domain.ErrCacheRefresh), errors.Is(err, service.ErrEngineClosed):
		return "unavailable"
	default:
		return "internal"
	}
}
