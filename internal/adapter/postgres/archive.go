package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/GroundControl/internal/domain/decision"
)

// RecordArchive implements ledgerstore.Archive using PostgreSQL (append-only).
type RecordArchive struct {
	pool *pgxpool.Pool
}

// NewRecordArchive creates a new RecordArchive backed by the given connection pool.
func NewRecordArchive(pool *pgxpool.Pool) *RecordArchive {
	return &RecordArchive{pool: pool}
}

// AppendRecord inserts a record. Re-archiving the same decision is a no-op.
func (a *RecordArchive) AppendRecord(ctx context.Context, rec *decision.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = a.pool.Exec(ctx,
		`INSERT INTO decision_records (decision_id, drone_id, tool_name, outcome, risk_score, policy, resolved_by, resolved_at, record)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (decision_id) DO NOTHING`,
		rec.Decision.ID, rec.Decision.Request.DroneID, rec.Decision.Request.ToolName, string(rec.Outcome),
		rec.Decision.RiskScore.Value, string(rec.Decision.Policy), rec.ResolvedBy, rec.ResolvedAt, body)
	if err != nil {
		return fmt.Errorf("append record %s: %w", rec.Decision.ID, err)
	}
	return nil
}

// ListRecords returns archived records in insertion order.
func (a *RecordArchive) ListRecords(ctx context.Context, filter decision.Filter, page decision.Page) ([]decision.Record, error) {
	page = page.Normalize()
	where, args := recordWhere(filter)
	query := fmt.Sprintf(`SELECT record FROM decision_records %s ORDER BY seq ASC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset)

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	recs := []decision.Record{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec decision.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// recordWhere builds the WHERE clause for filter. Since is inclusive, Until exclusive.
func recordWhere(filter decision.Filter) (string, []any) {
	var conditions []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.DroneID != "" {
		add("drone_id = $%d", filter.DroneID)
	}
	if filter.Outcome != "" {
		add("outcome = $%d", string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		add("resolved_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("resolved_at < $%d", filter.Until)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
