// Package query derives filtered views from store snapshots. Every function
// is pure and returns either its input or a freshly allocated slice; inputs
// are never modified.
package query

import (
	"strings"

	"github.com/bturcanu/fleetgov/pkg/governance"
)

// StatusAll disables status filtering.
const StatusAll = "all"

// Params is a consumer's view selection. Empty fields select everything.
type Params struct {
	Status string
	Search string
}

// FilterByStatus keeps requests whose status equals status. An empty status
// or "all" returns reqs unchanged.
func FilterByStatus(reqs []governance.ApprovalRequest, status string) []governance.ApprovalRequest {
	if status == "" || status == StatusAll {
		return reqs
	}
	out := make([]governance.ApprovalRequest, 0, len(reqs))
	for _, r := range reqs {
		if string(r.Status) == status {
			out = append(out, r)
		}
	}
	return out
}

// Search keeps requests where q appears, ignoring case, in the company
// name, the request id, the bus number, or the route's origin or
// destination. A blank q returns reqs unchanged.
func Search(reqs []governance.ApprovalRequest, q string) []governance.ApprovalRequest {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return reqs
	}
	out := make([]governance.ApprovalRequest, 0, len(reqs))
	for _, r := range reqs {
		if matches(r, q) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r governance.ApprovalRequest, q string) bool {
	fields := []string{r.CompanyName, r.ID}
	if r.Bus != nil {
		fields = append(fields, r.Bus.BusNumber)
	}
	if r.Route != nil {
		fields = append(fields, r.Route.Origin, r.Route.Destination)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// Apply filters by status, then by search text.
func Apply(reqs []governance.ApprovalRequest, p Params) []governance.ApprovalRequest {
	return Search(FilterByStatus(reqs, p.Status), p.Search)
}

// Summary counts requests per status for dashboard stat cards.
type Summary struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

func CountByStatus(reqs []governance.ApprovalRequest) Summary {
	s := Summary{Total: len(reqs)}
	for _, r := range reqs {
		switch r.Status {
		case governance.StatusPending:
			s.Pending++
		case governance.StatusApproved:
			s.Approved++
		case governance.StatusRejected:
			s.Rejected++
		}
	}
	return s
}
