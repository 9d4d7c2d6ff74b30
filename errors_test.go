package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestError_Is(t *testing.T) {
	detailed := ErrAlreadyCompleted.WithDetail("index", 2)
	wrapped := fmt.Errorf("complete requirement: %w", detailed)

	if !errors.Is(wrapped, ErrAlreadyCompleted) {
		t.Error("Expected wrapped detailed error to match sentinel")
	}
	if errors.Is(wrapped, ErrUnauthorized) {
		t.Error("Expected different codes not to match")
	}
	if ErrAlreadyCompleted.Details != nil {
		t.Error("WithDetail mutated the sentinel")
	}
}

func TestWaitAbortedError(t *testing.T) {
	err := WaitAbortedError("0xfeed", context.Canceled)
	if !errors.Is(err, ErrWaitAborted) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected %v to match the sentinel and its cause", err)
	}
	if err.Details["transaction"] != "0xfeed" {
		t.Errorf("details.transaction = %v, want 0xfeed", err.Details["transaction"])
	}
	if ErrWaitAborted.Details != nil || ErrWaitAborted.Err != nil {
		t.Error("WaitAbortedError mutated the sentinel")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      ErrorKind
		retryable bool
	}{
		{"validation", ErrInvalidAmount, KindValidation, false},
		{"authorization", ErrUnauthorized, KindAuthorization, false},
		{"state", stateError(StateCompleted), KindStateConflict, false},
		{"idempotency", ErrAlreadyCompleted, KindIdempotency, false},
		{"not found", ErrNotFound, KindNotFound, false},
		{"transient", NewTransientError("rpc", errors.New("eof")), KindTransient, true},
		{"execution failed", ErrExecutionFailed, KindTransient, true},
		{"wait aborted", WaitAbortedError("0x01", context.DeadlineExceeded), KindTransient, true},
		{"wrapped transient", fmt.Errorf("send: %w", NewTransientError("rpc", nil)), KindTransient, true},
		{"foreign", errors.New("boom"), KindInternal, false},
		{"nil", nil, KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestError_JSON(t *testing.T) {
	err := stateError(StateCancelled)
	raw, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatal(jerr)
	}

	var decoded map[string]interface{}
	if jerr := json.Unmarshal(raw, &decoded); jerr != nil {
		t.Fatal(jerr)
	}
	if decoded["kind"] != "state_conflict" || decoded["code"] != ErrCodeInvalidState {
		t.Errorf("unexpected encoding %s", raw)
	}
	details := decoded["details"].(map[string]interface{})
	if details["state"] != "CANCELLED" {
		t.Errorf("details.state = %v, want CANCELLED", details["state"])
	}
}

func TestState_Text(t *testing.T) {
	for s := StateCreated; s <= StateCancelled; s++ {
		text, _ := s.MarshalText()
		var parsed State
		if err := parsed.UnmarshalText(text); err != nil || parsed != s {
			t.Errorf("round trip of %s gave %s, %v", s, parsed, err)
		}
	}
	if _, err := ParseState("settled"); err == nil {
		t.Error("Expected unknown state name to fail")
	}
	if State(9).Valid() {
		t.Error("Expected code 9 to be invalid")
	}
	if !StateCancelled.Terminal() || StateInProgress.Terminal() {
		t.Error("Terminal() misclassified")
	}
}

func TestEvents_JSON(t *testing.T) {
	raw, err := json.Marshal([]Event{
		RequirementCompleted{Index: 1, Description: "api", Arbiter: testArbiter, Timestamp: 7},
	})
	if err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded[0]["event"] != EventRequirementCompleted {
		t.Errorf("event = %v, want %s", decoded[0]["event"], EventRequirementCompleted)
	}
	if decoded[0]["requirementId"] != float64(1) {
		t.Errorf("requirementId = %v", decoded[0]["requirementId"])
	}
}
