package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/GroundControl/internal/domain/drone"
)

// Store implements database.Store (the fleet registry) using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const droneColumns = `id, name, sysid, ip, port, color, active_module, active, metadata,
	connected, armed, mode, battery_pct, altitude_m, last_seen_at, created_at, updated_at`

func scanDrone(row scannable) (drone.Drone, error) {
	var d drone.Drone
	var meta []byte
	err := row.Scan(&d.ID, &d.Name, &d.SysID, &d.IP, &d.Port, &d.Color, &d.ActiveModule, &d.Active, &meta,
		&d.Connected, &d.Armed, &d.Mode, &d.BatteryPct, &d.AltitudeM, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &d.Metadata); err != nil {
			return d, fmt.Errorf("unmarshal drone metadata: %w", err)
		}
	}
	return d, nil
}

func (s *Store) ListDrones(ctx context.Context, filter drone.ListFilter) ([]drone.Drone, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+droneColumns+` FROM drones
		 WHERE ($1::boolean IS NULL OR active = $1) AND ($2 = '' OR active_module = $2)
		 ORDER BY sysid`,
		filter.Active, filter.Module)
	if err != nil {
		return nil, fmt.Errorf("list drones: %w", err)
	}
	defer rows.Close()

	var drones []drone.Drone
	for rows.Next() {
		d, err := scanDrone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drone: %w", err)
		}
		drones = append(drones, d)
	}
	return drones, rows.Err()
}

func (s *Store) GetDrone(ctx context.Context, id string) (*drone.Drone, error) {
	d, err := scanDrone(s.pool.QueryRow(ctx, `SELECT `+droneColumns+` FROM drones WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get drone %s", id)
	}
	return &d, nil
}

func (s *Store) GetDroneBySysID(ctx context.Context, sysID int) (*drone.Drone, error) {
	d, err := scanDrone(s.pool.QueryRow(ctx, `SELECT `+droneColumns+` FROM drones WHERE sysid = $1`, sysID))
	if err != nil {
		return nil, notFoundWrap(err, "get drone sysid %d", sysID)
	}
	return &d, nil
}

func (s *Store) CreateDrone(ctx context.Context, req drone.RegisterRequest) (*drone.Drone, error) {
	meta := req.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO drones (id, name, sysid, ip, port, color, active_module, active, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+droneColumns,
		req.ID, req.Name, req.SysID, req.IP, req.Port, req.Color, req.ActiveModule, active, metaJSON)
	d, err := scanDrone(row)
	if err != nil {
		return nil, conflictWrap(err, "create drone %s", req.ID)
	}
	return &d, nil
}

// UpdateDrone applies the non-nil fields of req. Metadata replaces the stored object.
func (s *Store) UpdateDrone(ctx context.Context, id string, req drone.UpdateRequest) (*drone.Drone, error) {
	var metaJSON []byte
	if req.Metadata != nil {
		var err error
		if metaJSON, err = json.Marshal(req.Metadata); err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE drones SET
		     name = COALESCE($2, name),
		     sysid = COALESCE($3, sysid),
		     ip = COALESCE($4, ip),
		     port = COALESCE($5, port),
		     color = COALESCE($6, color),
		     active_module = COALESCE($7, active_module),
		     active = COALESCE($8, active),
		     metadata = COALESCE($9::jsonb, metadata),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+droneColumns,
		id, req.Name, req.SysID, req.IP, req.Port, req.Color, req.ActiveModule, req.Active, metaJSON)
	d, err := scanDrone(row)
	if err != nil {
		return nil, writeWrap(err, "update drone %s", id)
	}
	return &d, nil
}

func (s *Store) SetDroneModule(ctx context.Context, id, module string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE drones SET active_module = $2, updated_at = now() WHERE id = $1`, id, module)
	return execExpectOne(tag, err, "set drone %s module", id)
}

func (s *Store) SetDroneActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE drones SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	return execExpectOne(tag, err, "set drone %s active", id)
}

func (s *Store) DeleteDrone(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM drones WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete drone %s", id)
}

// ApplyTelemetry updates the relayed state. Reports older than the stored
// last_seen_at are ignored so out-of-order delivery cannot roll state back.
func (s *Store) ApplyTelemetry(ctx context.Context, t *drone.Telemetry) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE drones
		 SET armed = $2, mode = $3, battery_pct = $4, altitude_m = $5, connected = $6,
		     last_seen_at = $7, updated_at = now()
		 WHERE id = $1 AND (last_seen_at IS NULL OR last_seen_at <= $7)`,
		t.DroneID, t.Armed, t.Mode, t.BatteryPct, t.AltitudeM, !t.LinkLost, t.ReportedAt)
	if err != nil {
		return fmt.Errorf("apply telemetry %s: %w", t.DroneID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetDrone(ctx, t.DroneID); err != nil {
			return err
		}
	}
	return nil
}
