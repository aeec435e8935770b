package audit

import (
	"reflect"
	"testing"
	"time"
)

func TestChainHash_Deterministic(t *testing.T) {
	canon := []byte(`{"action":"APPROVED"}`)
	if ChainHash("abc", canon) != ChainHash("abc", canon) {
		t.Error("non-deterministic chain hash")
	}
	if ChainHash("", []byte("a")) == ChainHash("", []byte("b")) {
		t.Error("different payloads should produce different hashes")
	}
}

func buildHistory(t *testing.T) []Event {
	t.Helper()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var history []Event
	var err error
	history, err = Append(history, NewEvent(ActionSubmitted, "Operator (OP-7)", at, "", nil))
	if err != nil {
		t.Fatalf("append submitted: %v", err)
	}
	history, err = Append(history, NewEvent(ActionApproved, "Admin (SA-001)", at.Add(time.Hour), "", nil))
	if err != nil {
		t.Fatalf("append approved: %v", err)
	}
	history, err = Append(history, NewEvent(ActionTokenIssued, "Admin (SA-001)", at.Add(time.Hour), "",
		map[string]string{MetaTokenID: "AT-1"}))
	if err != nil {
		t.Fatalf("append token: %v", err)
	}
	return history
}

func TestAppend_LinksAndPreservesPrefix(t *testing.T) {
	history := buildHistory(t)
	if len(history) != 3 {
		t.Fatalf("expected 3 events, got %d", len(history))
	}
	if history[0].PrevHash != "" {
		t.Errorf("first event prev_hash = %q, want empty", history[0].PrevHash)
	}
	for i := 1; i < len(history); i++ {
		if history[i].PrevHash != history[i-1].Hash {
			t.Errorf("event %d not linked to predecessor", i)
		}
	}

	before := append([]Event(nil), history...)
	next, err := Append(history, NewEvent(ActionTokenConsumed, "system", time.Now(), "", nil))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(next) != len(history)+1 {
		t.Fatalf("expected length %d, got %d", len(history)+1, len(next))
	}
	if !reflect.DeepEqual(next[:len(history)], before) {
		t.Error("prefix changed after append")
	}
	if !reflect.DeepEqual(history, before) {
		t.Error("input history mutated by append")
	}
}

func TestAppend_DoesNotAliasSpareCapacity(t *testing.T) {
	history := make([]Event, 0, 8)
	history, _ = Append(history, NewEvent(ActionSubmitted, "a", time.Now(), "", nil))

	left, _ := Append(history, NewEvent(ActionApproved, "a", time.Now(), "", nil))
	right, _ := Append(history, NewEvent(ActionRejected, "a", time.Now(), "no", nil))
	if left[1].Action != ActionApproved || right[1].Action != ActionRejected {
		t.Fatalf("branches share storage: %s / %s", left[1].Action, right[1].Action)
	}
}

func TestAppend_RequiresIDAndAction(t *testing.T) {
	if _, err := Append(nil, Event{Action: ActionApproved}); err == nil {
		t.Error("expected error for missing id")
	}
	if _, err := Append(nil, Event{ID: "x"}); err == nil {
		t.Error("expected error for missing action")
	}
}

func TestNewEvent_CopiesMetadata(t *testing.T) {
	meta := map[string]string{MetaTokenID: "AT-1"}
	ev := NewEvent(ActionTokenIssued, "a", time.Now(), "", meta)
	meta[MetaTokenID] = "changed"
	if ev.Metadata[MetaTokenID] != "AT-1" {
		t.Errorf("metadata aliased: %q", ev.Metadata[MetaTokenID])
	}
}

func TestVerify(t *testing.T) {
	history := buildHistory(t)
	if err := Verify(history); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tampered := append([]Event(nil), history...)
	tampered[1].Remarks = "edited after the fact"
	if err := Verify(tampered); err == nil {
		t.Fatal("expected verification to fail after editing an entry")
	}

	reordered := []Event{history[0], history[2], history[1]}
	if err := Verify(reordered); err == nil {
		t.Fatal("expected verification to fail after reordering")
	}

	if err := VerifyFrom(history[0].Hash, history[1:]); err != nil {
		t.Fatalf("segment verification: %v", err)
	}
}
