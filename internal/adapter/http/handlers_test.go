package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	cfhttp "github.com/Strob0t/GroundControl/internal/adapter/http"
	"github.com/Strob0t/GroundControl/internal/config"
	"github.com/Strob0t/GroundControl/internal/domain"
	"github.com/Strob0t/GroundControl/internal/domain/command"
	"github.com/Strob0t/GroundControl/internal/domain/decision"
	"github.com/Strob0t/GroundControl/internal/domain/drone"
	"github.com/Strob0t/GroundControl/internal/domain/fleet"
	"github.com/Strob0t/GroundControl/internal/middleware"
	"github.com/Strob0t/GroundControl/internal/port/database"
	"github.com/Strob0t/GroundControl/internal/service"
)

// mockStore implements database.Store for testing.
type mockStore struct {
	mu     sync.Mutex
	drones map[string]*drone.Drone
}

var _ database.Store = (*mockStore)(nil)

func newMockStore(drones ...drone.Drone) *mockStore {
	m := &mockStore{drones: make(map[string]*drone.Drone)}
	for i := range drones {
		d := drones[i]
		m.drones[d.ID] = &d
	}
	return m
}

func (m *mockStore) ListDrones(_ context.Context, filter drone.ListFilter) ([]drone.Drone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]drone.Drone, 0, len(m.drones))
	for _, d := range m.drones {
		if filter.Match(d) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *mockStore) GetDroneBySysID(_ context.Context, sysID int) (*drone.Drone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drones {
		if d.SysID == sysID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("drone sysid %d: %w", sysID, domain.ErrNotFound)
}

func (m *mockStore) UpdateDrone(_ context.Context, id string, req drone.UpdateRequest) (*drone.Drone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drones[id]
	if !ok {
		return nil, fmt.Errorf("drone %s: %w", id, domain.ErrNotFound)
	}
	if req.Name != nil {
		for _, other := range m.drones {
			if other.ID != id && other.Name == *req.Name {
				return nil, fmt.Errorf("%w: name already in use", domain.ErrConflict)
			}
		}
		d.Name = *req.Name
	}
	if req.SysID != nil {
		d.SysID = *req.SysID
	}
	if req.Port != nil {
		d.Port = *req.Port
	}
	if req.Active != nil {
		d.Active = *req.Active
	}
	cp := *d
	return &cp, nil
}

func (m *mockStore) SetDroneModule(_ context.Context, id, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drones[id]
	if !ok {
		return fmt.Errorf("drone %s: %w", id, domain.ErrNotFound)
	}
	d.ActiveModule = module
	return nil
}

func (m *mockStore) GetDrone(_ context.Context, id string) (*drone.Drone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drones[id]
	if !ok {
		return nil, fmt.Errorf("drone %s: %w", id, domain.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (m *mockStore) CreateDrone(_ context.Context, req drone.RegisterRequest) (*drone.Drone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drones[req.ID]; ok {
		return nil, fmt.Errorf("drone %s: %w", req.ID, domain.ErrConflict)
	}
	d := &drone.Drone{ID: req.ID, Name: req.Name, SysID: req.SysID, IP: req.IP, Port: req.Port, ActiveModule: req.ActiveModule, Active: *req.Active}
	m.drones[d.ID] = d
	cp := *d
	return &cp, nil
}

func (m *mockStore) SetDroneActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drones[id]
	if !ok {
		return fmt.Errorf("drone %s: %w", id, domain.ErrNotFound)
	}
	d.Active = active
	return nil
}

func (m *mockStore) DeleteDrone(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drones[id]; !ok {
		return fmt.Errorf("drone %s: %w", id, domain.ErrNotFound)
	}
	delete(m.drones, id)
	return nil
}

func (m *mockStore) ApplyTelemetry(_ context.Context, t *drone.Telemetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drones[t.DroneID]
	if !ok {
		return fmt.Errorf("drone %s: %w", t.DroneID, domain.ErrNotFound)
	}
	d.Armed = t.Armed
	d.Mode = t.Mode
	d.Connected = !t.LinkLost
	return nil
}

// toolEvaluator scores by tool name; unknown tools fail evaluation.
type toolEvaluator map[string]float64

func (e toolEvaluator) Evaluate(req command.Request, _ fleet.EvaluationContext) (decision.RiskScore, error) {
	v, ok := e[req.ToolName]
	if !ok {
		return decision.RiskScore{}, fmt.Errorf("%w: unknown tool %s", domain.ErrEvaluation, req.ToolName)
	}
	return decision.RiskScore{Value: v}, nil
}

type stubDispatcher struct {
	err error
}

func (d *stubDispatcher) Dispatch(_ context.Context, dec *decision.Decision) (decision.DispatchResult, error) {
	if d.err != nil {
		return decision.DispatchResult{}, d.err
	}
	return decision.DispatchResult{DecisionID: dec.ID, DroneID: dec.Request.DroneID, Attempts: 1, Ack: "accepted", CompletedAt: time.Now()}, nil
}

type testServer struct {
	router     chi.Router
	engine     *service.DecisionEngine
	store      *mockStore
	dispatcher *stubDispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := newMockStore(
		drone.Drone{ID: "d1", Name: "Alpha", SysID: 1, Active: true, Connected: true},
		drone.Drone{ID: "d2", Name: "Bravo", SysID: 2, Active: false},
	)
	fleetSvc := service.NewFleetService(store, nil)
	contexts := service.NewContextCache(fleetSvc, time.Minute)
	fleetSvc.SetContextInvalidator(contexts)
	dispatcher := &stubDispatcher{}

	engine := service.NewDecisionEngine(config.Decision{
		AutoExecuteRiskThreshold: 0.7,
		ContextCacheTTL:          time.Minute,
		HistoryLimit:             100,
		ConfirmationTimeout:      time.Minute,
	}, service.EngineDeps{
		Contexts:   contexts,
		Evaluator:  toolEvaluator{"get_status": 1, "return_to_launch": 0.9, "land": 0.85, "takeoff": 0.5},
		Dispatcher: dispatcher,
		Registry:   fleetSvc,
	})
	t.Cleanup(engine.Shutdown)

	r := chi.NewRouter()
	r.Use(middleware.Actor)
	cfhttp.MountRoutes(r, &cfhttp.Handlers{Engine: engine, Fleet: fleetSvc})
	return &testServer{router: r, engine: engine, store: store, dispatcher: dispatcher}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
		reader = &buf
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func submit(t *testing.T, s *testServer, droneID, tool string) cfhttp.SubmitCommandResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/commands", map[string]any{
		"drone_id": droneID, "tool_name": tool, "requested_by": "agent-1",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[cfhttp.SubmitCommandResponse](t, rec)
}

func TestSubmitCommandAutoExecutes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	resp := submit(t, s, "d1", "return_to_launch")
	if resp.Policy != decision.PolicyAutoExecute {
		t.Errorf("policy = %s, want auto_execute", resp.Policy)
	}
	if resp.RiskScore.Value != 0.9 || resp.Threshold != 0.7 {
		t.Errorf("unexpected score %v / threshold %v", resp.RiskScore.Value, resp.Threshold)
	}
	if resp.Record == nil || resp.Record.Outcome != decision.OutcomeAutoExecuted {
		t.Fatalf("expected auto_executed record, got %+v", resp.Record)
	}
	if resp.Pending != nil {
		t.Error("auto-executed decision must not be pending")
	}
}

func TestSubmitCommandRequiresConfirmation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	resp := submit(t, s, "d1", "takeoff")
	if resp.Policy != decision.PolicyRequireConfirmation || resp.Pending == nil {
		t.Fatalf("expected pending confirmation, got %+v", resp)
	}
	if resp.Pending.State != decision.StatePending {
		t.Errorf("state = %s, want pending", resp.Pending.State)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/decisions/pending", nil)
	pending := decode[[]service.DecisionView](t, rec)
	if len(pending) != 1 || pending[0].Decision.ID != resp.DecisionID {
		t.Errorf("pending = %+v", pending)
	}
}

func TestSubmitCommandErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed", "not an object", http.StatusBadRequest},
		{"missing requester", map[string]any{"drone_id": "d1", "tool_name": "land"}, http.StatusBadRequest},
		{"bad tool name", map[string]any{"drone_id": "d1", "tool_name": "Land!", "requested_by": "a"}, http.StatusBadRequest},
		{"unknown drone", map[string]any{"drone_id": "zz", "tool_name": "land", "requested_by": "a"}, http.StatusNotFound},
		{"inactive drone", map[string]any{"drone_id": "d2", "tool_name": "land", "requested_by": "a"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/commands", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestSubmitCommandUsesOperatorHeader(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/commands",
		map[string]any{"drone_id": "d1", "tool_name": "land"},
		middleware.HeaderOperator, "pilot-3")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[cfhttp.SubmitCommandResponse](t, rec)
	view, err := s.engine.Get(resp.DecisionID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Decision.Request.RequestedBy != "pilot-3" {
		t.Errorf("requested_by = %q, want pilot-3", view.Decision.Request.RequestedBy)
	}
}

func TestConfirmDecision(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	resp := submit(t, s, "d1", "takeoff")

	rec := s.do(t, http.MethodPost, "/api/v1/decisions/"+resp.DecisionID+"/confirm", map[string]string{"actor": "op-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	record := decode[decision.Record](t, rec)
	if record.Outcome != decision.OutcomeConfirmed || record.ResolvedBy != "op-1" {
		t.Errorf("unexpected record %+v", record)
	}

	again := s.do(t, http.MethodPost, "/api/v1/decisions/"+resp.DecisionID+"/confirm", map[string]string{"actor": "op-2"})
	if again.Code != http.StatusConflict {
		t.Errorf("second confirm: expected 409, got %d", again.Code)
	}
	reject := s.do(t, http.MethodPost, "/api/v1/decisions/"+resp.DecisionID+"/reject", map[string]string{"actor": "op-2"})
	if reject.Code != http.StatusConflict {
		t.Errorf("reject after confirm: expected 409, got %d", reject.Code)
	}
}

func TestConfirmDispatchFailureIsRecorded(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.dispatcher.err = fmt.Errorf("link: %w", domain.ErrDispatch)
	resp := submit(t, s, "d1", "takeoff")

	rec := s.do(t, http.MethodPost, "/api/v1/decisions/"+resp.DecisionID+"/confirm", map[string]string{"actor": "op-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with dispatch_failed record, got %d", rec.Code)
	}
	if got := decode[decision.Record](t, rec); got.Outcome != decision.OutcomeDispatchFailed || got.Error == "" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestRejectDecision(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	resp := submit(t, s, "d1", "takeoff")

	rec := s.do(t, http.MethodPost, "/api/v1/decisions/"+resp.DecisionID+"/reject", nil, middleware.HeaderOperator, "op-9")
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[decision.Record](t, rec); got.Outcome != decision.OutcomeRejected || got.ResolvedBy != "op-9" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	resp := submit(t, s, "d1", "takeoff")

	if rec := s.do(t, http.MethodPost, "/api/v1/decisions/unknown/confirm", map[string]string{"actor": "op"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown decision: expected 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/decisions/"+resp.DecisionID+"/confirm", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing actor: expected 400, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/decisions/"+resp.DecisionID+"/reject", "garbage"); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestGetDecision(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	pending := submit(t, s, "d1", "takeoff")
	done := submit(t, s, "d1", "get_status")

	view := decode[service.DecisionView](t, s.do(t, http.MethodGet, "/api/v1/decisions/"+pending.DecisionID, nil))
	if view.Pending == nil || view.Record != nil {
		t.Errorf("expected pending view, got %+v", view)
	}
	view = decode[service.DecisionView](t, s.do(t, http.MethodGet, "/api/v1/decisions/"+done.DecisionID, nil))
	if view.Record == nil || view.Record.Outcome != decision.OutcomeAutoExecuted {
		t.Errorf("expected resolved view, got %+v", view)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/decisions/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListHistory(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	submit(t, s, "d1", "get_status")
	submit(t, s, "d1", "land")
	rejected := submit(t, s, "d1", "takeoff")
	s.do(t, http.MethodPost, "/api/v1/decisions/"+rejected.DecisionID+"/reject", map[string]string{"actor": "op"})

	all := decode[[]decision.Record](t, s.do(t, http.MethodGet, "/api/v1/decisions/history", nil))
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[2].Decision.ID != rejected.DecisionID {
		t.Error("history must be in insertion order")
	}

	only := decode[[]decision.Record](t, s.do(t, http.MethodGet, "/api/v1/decisions/history?outcome=rejected", nil))
	if len(only) != 1 || only[0].Outcome != decision.OutcomeRejected {
		t.Errorf("outcome filter returned %+v", only)
	}

	paged := decode[[]decision.Record](t, s.do(t, http.MethodGet, "/api/v1/decisions/history?offset=1&limit=1", nil))
	if len(paged) != 1 || paged[0].Decision.ID != all[1].Decision.ID {
		t.Errorf("page returned %+v", paged)
	}

	empty := s.do(t, http.MethodGet, "/api/v1/decisions/history?drone_id=zz", nil)
	if body := bytes.TrimSpace(empty.Body.Bytes()); string(body) != "[]" {
		t.Errorf("expected empty JSON array, got %s", body)
	}
}

func TestListHistoryBadQuery(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	for _, q := range []string{
		"outcome=exploded",
		"since=yesterday",
		"limit=-1",
		"offset=x",
		"since=2026-03-02T00:00:00Z&until=2026-03-01T00:00:00Z",
	} {
		if rec := s.do(t, http.MethodGet, "/api/v1/decisions/history?"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestListArchivedWithoutArchive(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	if rec := s.do(t, http.MethodGet, "/api/v1/decisions/archive", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without archive, got %d", rec.Code)
	}
}

func TestDroneRegistry(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/drones", map[string]any{
		"id": "d3", "name": "Charlie", "sysid": 3, "ip": "10.0.0.3", "port": 14550,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[drone.Drone](t, rec)
	if !created.Active || created.ActiveModule != drone.DefaultActiveModule {
		t.Errorf("defaults not applied: %+v", created)
	}

	if rec := s.do(t, http.MethodPost, "/api/v1/drones", map[string]any{
		"id": "d3", "name": "Charlie", "sysid": 3, "ip": "10.0.0.3", "port": 14550,
	}); rec.Code != http.StatusConflict {
		t.Errorf("duplicate: expected 409, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/drones", map[string]any{"id": "d4", "name": "x", "sysid": 999, "ip": "10.0.0.4", "port": 1}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid sysid: expected 400, got %d", rec.Code)
	}

	list := decode[[]drone.Drone](t, s.do(t, http.MethodGet, "/api/v1/drones", nil))
	if len(list) != 3 {
		t.Errorf("expected 3 drones, got %d", len(list))
	}

	got := decode[drone.Drone](t, s.do(t, http.MethodPost, "/api/v1/drones/d3/deactivate", nil))
	if got.Active {
		t.Error("expected drone to be deactivated")
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/commands", map[string]any{"drone_id": "d3", "tool_name": "land", "requested_by": "a"}); rec.Code != http.StatusBadRequest {
		t.Errorf("command to deactivated drone: expected 400, got %d", rec.Code)
	}
	got = decode[drone.Drone](t, s.do(t, http.MethodPost, "/api/v1/drones/d3/activate", nil))
	if !got.Active {
		t.Error("expected drone to be active again")
	}

	if rec := s.do(t, http.MethodDelete, "/api/v1/drones/d3", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/drones/d3", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted: expected 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/api/v1/drones/d3", nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete missing: expected 404, got %d", rec.Code)
	}
}

func TestDroneUpdateAndLookup(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodPatch, "/api/v1/drones/d1", map[string]any{"name": "Alpha Prime", "port": 14560})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[drone.Drone](t, rec); got.Name != "Alpha Prime" || got.Port != 14560 {
		t.Fatalf("patched drone = %+v", got)
	}

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"sysid owned by another drone", "/api/v1/drones/d1", map[string]any{"sysid": 2}, http.StatusConflict},
		{"name owned by another drone", "/api/v1/drones/d1", map[string]any{"name": "Bravo"}, http.StatusConflict},
		{"unknown drone", "/api/v1/drones/zz", map[string]any{"name": "Zed"}, http.StatusNotFound},
		{"nothing to update", "/api/v1/drones/d1", map[string]any{}, http.StatusBadRequest},
		{"bad port", "/api/v1/drones/d1", map[string]any{"port": 0}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := s.do(t, http.MethodPatch, tt.path, tt.body); rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	got := decode[drone.Drone](t, s.do(t, http.MethodGet, "/api/v1/drones/sysid/2", nil))
	if got.ID != "d2" {
		t.Fatalf("sysid lookup = %+v", got)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/drones/sysid/42", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown sysid: expected 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/drones/sysid/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad sysid: expected 400, got %d", rec.Code)
	}
}

func TestDroneModuleAndFilter(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodPatch, "/api/v1/drones/module", map[string]any{"drone_id": "d1", "active_module": "mapping"})
	if rec.Code != http.StatusOK {
		t.Fatalf("module: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[drone.Drone](t, rec); got.ActiveModule != "mapping" {
		t.Fatalf("module not switched: %+v", got)
	}
	if rec := s.do(t, http.MethodPatch, "/api/v1/drones/module", map[string]any{"drone_id": "zz", "active_module": "mapping"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown drone: expected 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPatch, "/api/v1/drones/module", map[string]any{"drone_id": "d1"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing module: expected 400, got %d", rec.Code)
	}

	byModule := decode[[]drone.Drone](t, s.do(t, http.MethodGet, "/api/v1/drones/module/mapping", nil))
	if len(byModule) != 1 || byModule[0].ID != "d1" {
		t.Fatalf("mapping drones = %+v", byModule)
	}

	active := decode[[]drone.Drone](t, s.do(t, http.MethodGet, "/api/v1/drones?active=true", nil))
	if len(active) != 1 || active[0].ID != "d1" {
		t.Fatalf("active drones = %+v", active)
	}
	inactive := decode[[]drone.Drone](t, s.do(t, http.MethodGet, "/api/v1/drones?active=false", nil))
	if len(inactive) != 1 || inactive[0].ID != "d2" {
		t.Fatalf("inactive drones = %+v", inactive)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/drones?active=sometimes", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad filter: expected 400, got %d", rec.Code)
	}
}

func TestIngestTelemetry(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/telemetry", map[string]any{"drone_id": "d1", "armed": true, "mode": "GUIDED"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	d, err := s.store.GetDrone(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Armed || d.Mode != "GUIDED" {
		t.Errorf("telemetry not applied: %+v", d)
	}

	if rec := s.do(t, http.MethodPost, "/api/v1/telemetry", map[string]any{"drone_id": "zz"}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown drone: expected 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/telemetry", map[string]any{"drone_id": "d1", "battery_pct": 140}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid battery: expected 400, got %d", rec.Code)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.engine.Shutdown()

	rec := s.do(t, http.MethodPost, "/api/v1/commands", map[string]any{"drone_id": "d1", "tool_name": "land", "requested_by": "a"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %d", rec.Code)
	}
}

func TestBodyTooLarge(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	r := chi.NewRouter()
	cfhttp.MountRoutes(r, &cfhttp.Handlers{Engine: s.engine, BodyLimit: 16})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/commands", bytes.NewReader(bytes.Repeat([]byte(" "), 64)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestErrorsAreJSON(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/decisions/missing", nil)
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error == "" {
		t.Errorf("expected JSON error body, got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}
