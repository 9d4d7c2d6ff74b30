package escrow

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRequirementLedger(t *testing.T) {
	ledger, err := NewRequirementLedger([]string{"wireframes", "api", "deploy"})
	if err != nil {
		t.Fatalf("NewRequirementLedger() error = %v", err)
	}

	if ledger.Len() != 3 {
		t.Errorf("Len() = %d, want 3", ledger.Len())
	}
	if got := ledger.Pending(); !cmp.Equal(got, []uint64{0, 1, 2}) {
		t.Errorf("Pending() = %v", got)
	}

	req, err := ledger.complete(2, 1234)
	if err != nil {
		t.Fatalf("complete() error = %v", err)
	}
	if !req.Completed || req.CompletedAt != 1234 {
		t.Errorf("complete() returned %+v", req)
	}

	want := []Requirement{
		{Index: 0, Description: "wireframes"},
		{Index: 1, Description: "api"},
		{Index: 2, Description: "deploy", Completed: true, CompletedAt: 1234},
	}
	if diff := cmp.Diff(want, ledger.All()); diff != "" {
		t.Errorf("All() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, ledger.Columns().Requirements()); diff != "" {
		t.Errorf("Columns() round trip mismatch (-want +got):\n%s", diff)
	}
	if ledger.CompletedCount() != 1 {
		t.Errorf("CompletedCount() = %d, want 1", ledger.CompletedCount())
	}

	// copies returned by All must not alias the ledger
	all := ledger.All()
	all[0].Completed = true
	if r, _ := ledger.Get(0); r.Completed {
		t.Error("All() returned an aliased slice")
	}

	if _, err := ledger.complete(2, 9999); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("second complete() error = %v, want %v", err, ErrAlreadyCompleted)
	}
	if r, _ := ledger.Get(2); r.CompletedAt != 1234 {
		t.Errorf("completion time overwritten: %d", r.CompletedAt)
	}
	if _, err := ledger.Get(3); !errors.Is(err, ErrRequirementNotFound) {
		t.Errorf("Get(3) error = %v, want %v", err, ErrRequirementNotFound)
	}
}

func TestRequirementLedger_Clone(t *testing.T) {
	ledger, _ := NewRequirementLedger([]string{"a", "b"})
	clone := ledger.Clone()

	if _, err := ledger.complete(0, 1); err != nil {
		t.Fatal(err)
	}
	if clone.CompletedCount() != 0 {
		t.Errorf("clone CompletedCount() = %d, want 0", clone.CompletedCount())
	}
	if r, _ := clone.Get(0); r.Completed {
		t.Error("clone shares entries with the original")
	}
}
