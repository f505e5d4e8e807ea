// Package ledgerstore defines the durable sink for decision records evicted
// from, or mirrored out of, the in-memory ledger.
package ledgerstore

import (
	"context"

	"github.com/Strob0t/GroundControl/internal/domain/decision"
)

// Archive persists ledger records.
type Archive interface {
	AppendRecord(ctx context.Context, rec *decision.Record) error
	ListRecords(ctx context.Context, filter decision.Filter, page decision.Page) ([]decision.Record, error)
}
