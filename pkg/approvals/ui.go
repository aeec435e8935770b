package approvals

import (
	"html/template"
	"net/http"

	"github.com/bturcanu/fleetgov/pkg/governance"
	"github.com/bturcanu/fleetgov/pkg/query"
)

type pendingRow struct {
	Request governance.ApprovalRequest
	Usage   governance.Usage
	Subject string
	Blocked string
}

// PendingPage handles GET /ui/pending?type=bus|route, a minimal reviewer
// queue rendered on the server.
func (h *Handlers) PendingPage(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	reqs, err := h.svc.List(r.Context(), kind, query.Params{Status: string(governance.StatusPending)})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rows := make([]pendingRow, 0, len(reqs))
	for _, req := range reqs {
		row := pendingRow{Request: req, Usage: governance.ProjectedUsage(req), Subject: subjectOf(req)}
		if err := governance.CheckApprovable(req); err != nil {
			row.Blocked = violationReason(err)
		}
		rows = append(rows, row)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pendingTmpl.Execute(w, struct {
		Kind string
		Rows []pendingRow
	}{Kind: kind, Rows: rows}); err != nil {
		h.log.ErrorContext(r.Context(), "template execute failed", "error", err)
	}
}

func subjectOf(req governance.ApprovalRequest) string {
	switch {
	case req.Bus != nil:
		return req.Bus.BusNumber
	case req.Route != nil:
		return req.Route.Origin + " → " + req.Route.Destination
	}
	return ""
}

var pendingTmpl = template.Must(template.New("pending").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Pending expansion requests</title>
  <style>
    body { font-family: system-ui, sans-serif; max-width: 1000px; margin: 2rem auto; padding: 0 1rem; }
    table { width: 100%; border-collapse: collapse; margin-top: 1rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border-bottom: 1px solid #e2e8f0; }
    th { background: #f7fafc; font-weight: 600; }
    tr:hover { background: #edf2f7; }
    .blocked { color: #c53030; font-weight: 600; }
    .over { color: #c53030; }
    h1 { color: #2d3748; }
    .empty { color: #718096; padding: 2rem 0; }
  </style>
</head>
<body>
  <h1>Pending expansion requests</h1>
  {{if .Kind}}<p>Type: <strong>{{.Kind}}</strong></p>{{end}}
  {{if .Rows}}
  <table>
    <thead>
      <tr><th>ID</th><th>Type</th><th>Company</th><th>Subject</th><th>Usage after approval</th><th>Gate</th><th>Submitted</th></tr>
    </thead>
    <tbody>
      {{range .Rows}}
      <tr>
        <td><code>{{.Request.ID}}</code></td>
        <td>{{.Request.Kind}}</td>
        <td>{{.Request.CompanyName}}</td>
        <td>{{.Subject}}</td>
        <td {{if gt .Usage.Percentage 100}}class="over"{{end}}>{{.Usage.Count}}/{{.Request.Entitlement.Limit}} ({{.Usage.Percentage}}%)</td>
        <td>{{if .Blocked}}<span class="blocked">{{.Blocked}}</span>{{else}}ok{{end}}</td>
        <td>{{.Request.SubmittedAt.Format "2006-01-02 15:04"}}</td>
      </tr>
      {{end}}
    </tbody>
  </table>
  {{else}}
  <p class="empty">No pending requests.</p>
  {{end}}
</body>
</html>`))
