package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/Strob0t/GroundControl/internal/domain/command"
	"github.com/Strob0t/GroundControl/internal/domain/decision"
)

var ledgerEpoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func testRecord(i int, droneID string, outcome decision.Outcome) decision.Record {
	return decision.Record{
		Decision: decision.Decision{
			ID:      fmt.Sprintf("dec-%d", i),
			Request: command.Request{ID: fmt.Sprintf("req-%d", i), DroneID: droneID, ToolName: "land", RequestedBy: "op"},
			Policy:  decision.PolicyAutoExecute,
		},
		Outcome:    outcome,
		ResolvedAt: ledgerEpoch.Add(time.Duration(i) * time.Second),
	}
}

func TestLedgerAppendAndFind(t *testing.T) {
	t.Parallel()

	l := NewLedger(3)
	if l.Capacity() != 3 {
		t.Fatalf("capacity = %d, want 3", l.Capacity())
	}
	l.Append(testRecord(1, "d1", decision.OutcomeAutoExecuted))

	rec, ok := l.Find("dec-1")
	if !ok {
		t.Fatal("expected dec-1 to be found")
	}
	if rec.Outcome != decision.OutcomeAutoExecuted {
		t.Errorf("outcome = %s", rec.Outcome)
	}
	if _, ok := l.Find("dec-missing"); ok {
		t.Error("unexpected record for unknown id")
	}
}

func TestLedgerFIFOEviction(t *testing.T) {
	t.Parallel()

	l := NewLedger(3)
	var evicted []string
	l.OnEvict(func(r decision.Record) { evicted = append(evicted, r.Decision.ID) })

	for i := 1; i <= 5; i++ {
		l.Append(testRecord(i, "d1", decision.OutcomeConfirmed))
	}

	if l.Len() != 3 {
		t.Fatalf("len = %d, want 3", l.Len())
	}
	if l.Evicted() != 2 {
		t.Fatalf("evicted = %d, want 2", l.Evicted())
	}
	if fmt.Sprint(evicted) != "[dec-1 dec-2]" {
		t.Fatalf("evicted order = %v", evicted)
	}
	for _, id := range []string{"dec-1", "dec-2"} {
		if _, ok := l.Find(id); ok {
			t.Errorf("%s should have been evicted", id)
		}
	}

	got := l.List(decision.Filter{}, decision.Page{})
	var ids []string
	for _, r := range got {
		ids = append(ids, r.Decision.ID)
	}
	if fmt.Sprint(ids) != "[dec-3 dec-4 dec-5]" {
		t.Fatalf("list order = %v", ids)
	}
}

func TestLedgerListFilterAndPage(t *testing.T) {
	t.Parallel()

	l := NewLedger(10)
	l.Append(testRecord(1, "d1", decision.OutcomeAutoExecuted))
	l.Append(testRecord(2, "d2", decision.OutcomeRejected))
	l.Append(testRecord(3, "d1", decision.OutcomeRejected))
	l.Append(testRecord(4, "d1", decision.OutcomeTimedOut))
	l.Append(testRecord(5, "d1", decision.OutcomeRejected))

	tests := []struct {
		name   string
		filter decision.Filter
		page   decision.Page
		want   string
	}{
		{"all", decision.Filter{}, decision.Page{}, "[dec-1 dec-2 dec-3 dec-4 dec-5]"},
		{"by drone", decision.Filter{DroneID: "d2"}, decision.Page{}, "[dec-2]"},
		{"by outcome", decision.Filter{Outcome: decision.OutcomeRejected}, decision.Page{}, "[dec-2 dec-3 dec-5]"},
		{"drone and outcome", decision.Filter{DroneID: "d1", Outcome: decision.OutcomeRejected}, decision.Page{}, "[dec-3 dec-5]"},
		{"since inclusive", decision.Filter{Since: ledgerEpoch.Add(4 * time.Second)}, decision.Page{}, "[dec-4 dec-5]"},
		{"until exclusive", decision.Filter{Until: ledgerEpoch.Add(2 * time.Second)}, decision.Page{}, "[dec-1]"},
		{"offset", decision.Filter{}, decision.Page{Offset: 3}, "[dec-4 dec-5]"},
		{"limit", decision.Filter{}, decision.Page{Limit: 2}, "[dec-1 dec-2]"},
		{"offset past end", decision.Filter{}, decision.Page{Offset: 9}, "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			for _, r := range l.List(tt.filter, tt.page) {
				ids = append(ids, r.Decision.ID)
			}
			if ids == nil {
				ids = []string{}
			}
			if got := fmt.Sprint(ids); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLedgerListReturnsCopies(t *testing.T) {
	t.Parallel()

	l := NewLedger(2)
	l.Append(testRecord(1, "d1", decision.OutcomeConfirmed))
	got := l.List(decision.Filter{}, decision.Page{})
	got[0].Outcome = decision.OutcomeRejected

	rec, _ := l.Find("dec-1")
	if rec.Outcome != decision.OutcomeConfirmed {
		t.Fatal("mutating a listed record must not change the ledger")
	}
}

func TestLedgerConcurrentAppend(t *testing.T) {
	t.Parallel()

	const writers, perWriter = 8, 50
	l := NewLedger(100)

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				l.Append(testRecord(w*perWriter+i, "d1", decision.OutcomeAutoExecuted))
				_ = l.List(decision.Filter{DroneID: "d1"}, decision.Page{Limit: 10})
			}
		}()
	}
	wg.Wait()

	if l.Len() != 100 {
		t.Fatalf("len = %d, want 100", l.Len())
	}
	if l.Evicted() != writers*perWriter-100 {
		t.Fatalf("evicted = %d, want %d", l.Evicted(), writers*perWriter-100)
	}
}

// After N appends the ledger holds exactly the last min(N, capacity) records in order.
func TestLedgerBoundProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 20).Draw(t, "capacity")
		n := rapid.IntRange(0, 60).Draw(t, "appends")

		l := NewLedger(capacity)
		for i := range n {
			l.Append(testRecord(i, "d1", decision.OutcomeAutoExecuted))
		}

		want := min(n, capacity)
		if l.Len() != want {
			t.Fatalf("len = %d, want %d", l.Len(), want)
		}
		if got := l.Evicted(); got != int64(n-want) {
			t.Fatalf("evicted = %d, want %d", got, n-want)
		}
		list := l.List(decision.Filter{}, decision.Page{Limit: decision.MaxPageLimit})
		if len(list) != want {
			t.Fatalf("list len = %d, want %d", len(list), want)
		}
		for i, r := range list {
			if id := fmt.Sprintf("dec-%d", n-want+i); r.Decision.ID != id {
				t.Fatalf("list[%d] = %s, want %s", i, r.Decision.ID, id)
			}
		}
	})
}
