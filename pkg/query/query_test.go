package query

import (
	"reflect"
	"testing"

	"github.com/bturcanu/fleetgov/pkg/governance"
)

func fixtures() []governance.ApprovalRequest {
	return []governance.ApprovalRequest{
		{ID: "BR-001", Kind: governance.KindBus, CompanyName: "Metro Express", Status: governance.StatusPending,
			Bus: &governance.BusDetails{BusNumber: "MH-12-AB-1234"}},
		{ID: "BR-002", Kind: governance.KindBus, CompanyName: "Sunrise Travels", Status: governance.StatusApproved,
			Bus: &governance.BusDetails{BusNumber: "KA-01-XY-9876"}},
		{ID: "RR-001", Kind: governance.KindRoute, CompanyName: "Metro Express", Status: governance.StatusRejected,
			Route: &governance.RouteDetails{Origin: "Pune", Destination: "Goa"}},
		{ID: "RR-002", Kind: governance.KindRoute, CompanyName: "Royal Coaches", Status: governance.StatusPending,
			Route: &governance.RouteDetails{Origin: "Mumbai", Destination: "Nashik"}},
	}
}

func ids(reqs []governance.ApprovalRequest) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.ID)
	}
	return out
}

func TestFilterByStatus(t *testing.T) {
	reqs := fixtures()
	tests := []struct {
		status string
		want   []string
	}{
		{"", []string{"BR-001", "BR-002", "RR-001", "RR-002"}},
		{"all", []string{"BR-001", "BR-002", "RR-001", "RR-002"}},
		{"pending", []string{"BR-001", "RR-002"}},
		{"approved", []string{"BR-002"}},
		{"rejected", []string{"RR-001"}},
		{"archived", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := ids(FilterByStatus(reqs, tt.status)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	reqs := fixtures()
	tests := []struct {
		name string
		q    string
		want []string
	}{
		{"company name any case", "metro", []string{"BR-001", "RR-001"}},
		{"request id", "rr-002", []string{"RR-002"}},
		{"bus number", "ka-01", []string{"BR-002"}},
		{"route origin", "PUNE", []string{"RR-001"}},
		{"route destination", "nashik", []string{"RR-002"}},
		{"no match", "chennai", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ids(Search(reqs, tt.q)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmptyFiltersReturnInput(t *testing.T) {
	reqs := fixtures()
	got := Apply(reqs, Params{Status: "all", Search: "   "})
	if len(got) != len(reqs) || &got[0] != &reqs[0] {
		t.Error("empty filters should return the input slice itself")
	}
}

func TestApply_DoesNotModifyInput(t *testing.T) {
	reqs := fixtures()
	before := fixtures()
	got := Apply(reqs, Params{Status: "pending", Search: "royal"})
	if !reflect.DeepEqual(ids(got), []string{"RR-002"}) {
		t.Errorf("got %v", ids(got))
	}
	if !reflect.DeepEqual(reqs, before) {
		t.Error("input slice was modified")
	}
}

func TestCountByStatus(t *testing.T) {
	got := CountByStatus(fixtures())
	want := Summary{Total: 4, Pending: 2, Approved: 1, Rejected: 1}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if CountByStatus(nil) != (Summary{}) {
		t.Error("empty input should give zero summary")
	}
}
