package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Strob0t/GroundControl/internal/domain/command"
	"github.com/Strob0t/GroundControl/internal/domain/decision"
	"github.com/Strob0t/GroundControl/internal/domain/drone"
	"github.com/Strob0t/GroundControl/internal/logger"
	"github.com/Strob0t/GroundControl/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Engine    *service.DecisionEngine
	Fleet     *service.FleetService
	BodyLimit int64 // 0 means maxRequestBodySize
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return maxRequestBodySize
}

// ---------------------------------------------------------------------------
// Commands and decisions
// ---------------------------------------------------------------------------

type submitCommandRequest struct {
	DroneID     string         `json:"drone_id"`
	ToolName    string         `json:"tool_name"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	RequestedBy string         `json:"requested_by,omitempty"`
}

// SubmitCommandResponse is returned by POST /api/v1/commands.
type SubmitCommandResponse struct {
	DecisionID string                        `json:"decision_id"`
	Policy     decision.Policy               `json:"policy"`
	RiskScore  decision.RiskScore            `json:"risk_score"`
	Threshold  float64                       `json:"threshold"`
	Record     *decision.Record              `json:"record,omitempty"`
	Pending    *decision.PendingConfirmation `json:"pending,omitempty"`
}

// SubmitCommand handles POST /api/v1/commands
func (h *Handlers) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[submitCommandRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	requestedBy := req.RequestedBy
	if requestedBy == "" {
		requestedBy = logger.Actor(r.Context())
	}
	if !requireField(w, requestedBy, "requested_by") {
		return
	}

	sub, err := h.Engine.Submit(r.Context(), command.NewRequest(req.DroneID, req.ToolName, req.Parameters, requestedBy))
	if err != nil {
		writeDomainError(w, err, "drone not found")
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitCommandResponse{
		DecisionID: sub.Decision.ID,
		Policy:     sub.Decision.Policy,
		RiskScore:  sub.Decision.RiskScore,
		Threshold:  sub.Decision.Threshold,
		Record:     sub.Record,
		Pending:    sub.Pending,
	})
}

type resolveRequest struct {
	Actor string `json:"actor"`
}

// ConfirmDecision handles POST /api/v1/decisions/{id}/confirm
func (h *Handlers) ConfirmDecision(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.Engine.Confirm)
}

// RejectDecision handles POST /api/v1/decisions/{id}/reject
func (h *Handlers) RejectDecision(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.Engine.Reject)
}

func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, actor string) (decision.Record, error)) {
	id := urlParam(r, "id")
	var body resolveRequest
	if r.ContentLength != 0 {
		var ok bool
		if body, ok = readJSON[resolveRequest](w, r, h.bodyLimit()); !ok {
			return
		}
	}
	actor := body.Actor
	if actor == "" {
		actor = logger.Actor(r.Context())
	}
	if !requireField(w, actor, "actor") {
		return
	}

	rec, err := fn(r.Context(), id, actor)
	if err != nil {
		writeDomainError(w, err, "decision not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetDecision handles GET /api/v1/decisions/{id}
func (h *Handlers) GetDecision(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.Get(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "decision not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListPending handles GET /api/v1/decisions/pending
func (h *Handlers) ListPending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Pending())
}

// ListHistory handles GET /api/v1/decisions/history
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseHistoryQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records := h.Engine.ListHistory(filter, page)
	if records == nil {
		records = []decision.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ListArchived handles GET /api/v1/decisions/archive
func (h *Handlers) ListArchived(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseHistoryQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.Engine.ListArchived(r.Context(), filter, page)
	if err != nil {
		writeDomainError(w, err, "decision archive not configured")
		return
	}
	if records == nil {
		records = []decision.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ---------------------------------------------------------------------------
// Fleet registry
// ---------------------------------------------------------------------------

// ListDrones handles GET /api/v1/drones?active=&module=
func (h *Handlers) ListDrones(w http.ResponseWriter, r *http.Request) {
	filter, err := parseDroneFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	drones, err := h.Fleet.ListFiltered(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeDrones(w, drones)
}

// ListDronesByModule handles GET /api/v1/drones/module/{module}
func (h *Handlers) ListDronesByModule(w http.ResponseWriter, r *http.Request) {
	drones, err := h.Fleet.ListByModule(r.Context(), urlParam(r, "module"))
	if err != nil {
		writeDomainError(w, err, "module not found")
		return
	}
	writeDrones(w, drones)
}

// GetDroneBySysID handles GET /api/v1/drones/sysid/{sysid}
func (h *Handlers) GetDroneBySysID(w http.ResponseWriter, r *http.Request) {
	sysID, err := strconv.Atoi(urlParam(r, "sysid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "sysid must be an integer")
		return
	}
	d, err := h.Fleet.GetBySysID(r.Context(), sysID)
	if err != nil {
		writeDomainError(w, err, "drone not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UpdateDrone handles PATCH /api/v1/drones/{id}
func (h *Handlers) UpdateDrone(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[drone.UpdateRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	d, err := h.Fleet.Update(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "drone not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UpdateDroneModule handles PATCH /api/v1/drones/module
func (h *Handlers) UpdateDroneModule(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[drone.ModuleUpdate](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if err := h.Fleet.UpdateModule(r.Context(), req); err != nil {
		writeDomainError(w, err, "drone not found")
		return
	}
	d, err := h.Fleet.Get(r.Context(), req.DroneID)
	if err != nil {
		writeDomainError(w, err, "drone not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func writeDrones(w http.ResponseWriter, drones []drone.Drone) {
	if drones == nil {
		drones = []drone.Drone{}
	}
	writeJSON(w, http.StatusOK, drones)
}

// GetDrone handles GET /api/v1/drones/{id}
func (h *Handlers) GetDrone(w http.ResponseWriter, r *http.Request) {
	d, err := h.Fleet.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "drone not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// RegisterDrone handles POST /api/v1/drones
func (h *Handlers) RegisterDrone(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[drone.RegisterRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	d, err := h.Fleet.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// ActivateDrone handles POST /api/v1/drones/{id}/activate
func (h *Handlers) ActivateDrone(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateDrone handles POST /api/v1/drones/{id}/deactivate
func (h *Handlers) DeactivateDrone(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := urlParam(r, "id")
	if err := h.Fleet.SetActive(r.Context(), id, active); err != nil {
		writeDomainError(w, err, "drone not found")
		return
	}
	d, err := h.Fleet.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "drone not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DeleteDrone handles DELETE /api/v1/drones/{id}
func (h *Handlers) DeleteDrone(w http.ResponseWriter, r *http.Request) {
	if err := h.Fleet.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "drone not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IngestTelemetry handles POST /api/v1/telemetry for links that relay over HTTP instead of NATS.
func (h *Handlers) IngestTelemetry(w http.ResponseWriter, r *http.Request) {
	t, ok := readJSON[drone.Telemetry](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if err := h.Fleet.HandleTelemetry(r.Context(), &t); err != nil {
		writeDomainError(w, err, "drone not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
