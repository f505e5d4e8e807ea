package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/GroundControl/internal/domain"
	"github.com/Strob0t/GroundControl/internal/domain/event"
	"github.com/Strob0t/GroundControl/internal/domain/fleet"
	"github.com/Strob0t/GroundControl/internal/port/cache"
	"github.com/Strob0t/GroundControl/internal/port/contextprovider"
	"github.com/Strob0t/GroundControl/internal/port/eventbus"
	"github.com/Strob0t/GroundControl/internal/port/registry"
	"github.com/Strob0t/GroundControl/internal/port/vehiclelink"
)

var (
	_ contextprovider.Provider = (*fakeProvider)(nil)
	_ cache.Cache              = (*memCache)(nil)
	_ eventbus.Publisher       = (*recordingPublisher)(nil)
	_ vehiclelink.Transport    = (*fakeTransport)(nil)
	_ registry.Registry        = (*fakeRegistry)(nil)
)

var errProviderDown = errors.New("telemetry store unavailable")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeProvider returns a snapshot with a single connected drone.
// Set gate to block fetches until it is closed.
type fakeProvider struct {
	calls   atomic.Int64
	gate    chan struct{}
	started chan struct{} // receives once per fetch, if non-nil

	mu    sync.Mutex
	errs  []error // consumed in order, nil entries mean success
	drone fleet.DroneState
}

func newFakeProvider() *fakeProvider {
	batt := 90.0
	alt := 25.0
	return &fakeProvider{drone: fleet.DroneState{
		DroneID:    "d1",
		Active:     true,
		Connected:  true,
		Armed:      true,
		BatteryPct: &batt,
		AltitudeM:  &alt,
	}}
}

func (p *fakeProvider) FetchContext(ctx context.Context, scope string) (fleet.Snapshot, error) {
	p.calls.Add(1)
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return fleet.Snapshot{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return fleet.Snapshot{}, err
		}
	}
	d := p.drone
	return fleet.Snapshot{Scope: scope, Drone: &d, FleetSize: 1, ConnectedCount: 1}, nil
}

// memCache is an in-memory cache.Cache that ignores TTLs.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets atomic.Int64
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets.Add(1)
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// recordingPublisher captures every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Outcome
}

func (p *recordingPublisher) Publish(_ context.Context, ev event.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) typesFor(decisionID string) []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []event.Type
	for _, ev := range p.events {
		if ev.DecisionID == decisionID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// fakeTransport returns errs in order, then acks.
type fakeTransport struct {
	mu    sync.Mutex
	errs  []error
	calls int
	delay time.Duration
}

func (f *fakeTransport) SendCommand(ctx context.Context, droneID, _ string, _ map[string]any) (vehiclelink.Ack, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return vehiclelink.Ack{}, ctx.Err()
		}
	}
	if err != nil {
		return vehiclelink.Ack{}, err
	}
	return vehiclelink.Ack{DroneID: droneID, Status: "accepted"}, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRegistry knows a fixed set of drones.
type fakeRegistry struct {
	drones map[string]bool // id -> active
}

func (r *fakeRegistry) ValidateDrone(_ context.Context, droneID string) error {
	active, ok := r.drones[droneID]
	if !ok {
		return domain.ErrNotFound
	}
	if !active {
		return domain.ErrValidation
	}
	return nil
}
