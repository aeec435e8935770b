package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bturcanu/fleetgov/pkg/approvals"
	"github.com/bturcanu/fleetgov/pkg/audit"
	"github.com/bturcanu/fleetgov/pkg/client"
	"github.com/bturcanu/fleetgov/pkg/governance"
)

type fakeSource struct {
	reqs   []governance.ApprovalRequest
	trails map[string][]audit.Event
	err    error
}

func (f *fakeSource) List(context.Context, client.ListOptions) ([]governance.ApprovalRequest, error) {
	return f.reqs, nil
}

func (f *fakeSource) Audit(_ context.Context, id string) (*approvals.AuditTrail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &approvals.AuditTrail{RequestID: id, Events: f.trails[id], ChainValid: true}, nil
}

type fakeUploader struct {
	keys   []string
	bodies [][]byte
}

func (f *fakeUploader) Upload(_ context.Context, key string, body []byte) error {
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, body)
	return nil
}

func buildHistory(t *testing.T, actions ...audit.Action) []audit.Event {
	t.Helper()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var h []audit.Event
	for i, a := range actions {
		var err error
		h, err = audit.Append(h, audit.NewEvent(a, "admin", at.Add(time.Duration(i)*time.Minute), "", nil))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return h
}

func busRequest(id string) governance.ApprovalRequest {
	return governance.ApprovalRequest{ID: id, Kind: governance.KindBus, CompanyID: "CMP-1", Status: governance.StatusPending}
}

func newTestService(src Source, up Uploader) *Service {
	s := New(src, up, nil)
	s.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestArchiveRequestBuildsBundleAndAdvancesCheckpoint(t *testing.T) {
	history := buildHistory(t, audit.ActionSubmitted, audit.ActionApproved, audit.ActionTokenIssued)
	src := &fakeSource{trails: map[string][]audit.Event{"BR-001": history}}
	up := &fakeUploader{}
	s := newTestService(src, up)

	key, err := s.ArchiveRequest(context.Background(), busRequest("BR-001"))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	last := history[len(history)-1]
	want := "audit/CMP-1/bus/BR-001/2026/03/02/" + last.Hash + ".json"
	if key != want {
		t.Fatalf("key = %q, want %q", key, want)
	}

	var b Bundle
	if err := json.Unmarshal(up.bodies[0], &b); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if b.EventCount != 3 || b.FromHash != "" || b.Checkpoint != last.Hash {
		t.Fatalf("unexpected bundle header: %+v", b)
	}
	if err := audit.Verify(b.ChainRecords); err != nil {
		t.Fatalf("bundle chain does not verify: %v", err)
	}

	cp, ok, _ := s.checkpoints.Get(context.Background(), "BR-001")
	if !ok || cp.Hash != last.Hash || cp.EventCount != 3 {
		t.Fatalf("checkpoint = %+v ok=%v", cp, ok)
	}
}

func TestArchiveRequestNothingNew(t *testing.T) {
	history := buildHistory(t, audit.ActionSubmitted)
	src := &fakeSource{trails: map[string][]audit.Event{"BR-001": history}}
	up := &fakeUploader{}
	s := newTestService(src, up)

	if _, err := s.ArchiveRequest(context.Background(), busRequest("BR-001")); err != nil {
		t.Fatalf("first archive: %v", err)
	}
	key, err := s.ArchiveRequest(context.Background(), busRequest("BR-001"))
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if key != "" || len(up.keys) != 1 {
		t.Fatalf("expected no second upload, got key %q and %d uploads", key, len(up.keys))
	}
}

func TestArchiveRequestIncremental(t *testing.T) {
	full := buildHistory(t, audit.ActionSubmitted, audit.ActionApproved, audit.ActionTokenIssued, audit.ActionTokenConsumed)
	src := &fakeSource{trails: map[string][]audit.Event{"BR-001": full[:2]}}
	up := &fakeUploader{}
	s := newTestService(src, up)
	ctx := context.Background()

	if _, err := s.ArchiveRequest(ctx, busRequest("BR-001")); err != nil {
		t.Fatalf("first archive: %v", err)
	}
	src.trails["BR-001"] = full
	if _, err := s.ArchiveRequest(ctx, busRequest("BR-001")); err != nil {
		t.Fatalf("second archive: %v", err)
	}

	var b Bundle
	if err := json.Unmarshal(up.bodies[1], &b); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if b.EventCount != 2 || b.FromHash != full[1].Hash || b.Checkpoint != full[3].Hash {
		t.Fatalf("unexpected incremental bundle: %+v", b)
	}
	if b.ChainRecords[0].Action != audit.ActionTokenIssued {
		t.Fatalf("first record = %s, want TOKEN_ISSUED", b.ChainRecords[0].Action)
	}
}

func TestArchiveRequestRejectsBrokenChains(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h []audit.Event) []audit.Event
	}{
		{
			name: "tampered remarks",
			mutate: func(h []audit.Event) []audit.Event {
				h[1].Remarks = "edited"
				return h
			},
		},
		{
			name: "dropped event",
			mutate: func(h []audit.Event) []audit.Event {
				return append([]audit.Event{h[0]}, h[2:]...)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := buildHistory(t, audit.ActionSubmitted, audit.ActionApproved, audit.ActionTokenIssued)
			src := &fakeSource{trails: map[string][]audit.Event{"BR-001": tt.mutate(history)}}
			up := &fakeUploader{}
			s := newTestService(src, up)

			_, err := s.ArchiveRequest(context.Background(), busRequest("BR-001"))
			if !errors.Is(err, ErrChainBroken) {
				t.Fatalf("expected ErrChainBroken, got %v", err)
			}
			if len(up.keys) != 0 {
				t.Fatal("broken chain must not be uploaded")
			}
			if _, ok, _ := s.checkpoints.Get(context.Background(), "BR-001"); ok {
				t.Fatal("checkpoint must not advance")
			}
		})
	}
}

func TestArchiveRequestDetectsRewrittenPrefix(t *testing.T) {
	history := buildHistory(t, audit.ActionSubmitted, audit.ActionRejected)
	src := &fakeSource{trails: map[string][]audit.Event{"BR-001": history[:1]}}
	s := newTestService(src, &fakeUploader{})
	ctx := context.Background()

	if _, err := s.ArchiveRequest(ctx, busRequest("BR-001")); err != nil {
		t.Fatalf("first archive: %v", err)
	}
	src.trails["BR-001"] = buildHistory(t, audit.ActionSubmitted, audit.ActionApproved)
	if _, err := s.ArchiveRequest(ctx, busRequest("BR-001")); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
}

func TestArchiveAllJoinsErrors(t *testing.T) {
	good := buildHistory(t, audit.ActionSubmitted)
	bad := buildHistory(t, audit.ActionSubmitted, audit.ActionApproved)
	bad[0].PerformedBy = "mallory"
	src := &fakeSource{
		reqs:   []governance.ApprovalRequest{busRequest("BR-001"), busRequest("BR-002")},
		trails: map[string][]audit.Event{"BR-001": good, "BR-002": bad},
	}
	up := &fakeUploader{}
	s := newTestService(src, up)

	keys, err := s.ArchiveAll(context.Background(), client.ListOptions{})
	if len(keys) != 1 || !strings.Contains(keys[0], "BR-001") {
		t.Fatalf("keys = %v", keys)
	}
	if !errors.Is(err, ErrChainBroken) || !strings.Contains(err.Error(), "BR-002") {
		t.Fatalf("expected joined chain error for BR-002, got %v", err)
	}
}

func TestArchiveRequestSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	s := newTestService(src, &fakeUploader{})
	if _, err := s.ArchiveRequest(context.Background(), busRequest("BR-001")); err == nil {
		t.Fatal("expected source error")
	}
}
