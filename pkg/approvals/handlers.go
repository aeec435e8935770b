package approvals

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bturcanu/fleetgov/pkg/auth"
	"github.com/bturcanu/fleetgov/pkg/governance"
	"github.com/bturcanu/fleetgov/pkg/query"
	"github.com/bturcanu/fleetgov/pkg/types"
)

const maxBodyBytes = 1 << 20 // 1 MB

// Handlers groups the HTTP handlers for the approvals service.
type Handlers struct {
	svc       *Service
	hub       *Hub
	throttle  func(http.Handler) http.Handler
	wsOrigins []string
	log       *slog.Logger
}

// NewHandlers creates handlers backed by svc. hub may be nil to disable the
// change feed; throttle, when set, wraps every mutating route.
func NewHandlers(svc *Service, hub *Hub, throttle func(http.Handler) http.Handler, wsOrigins []string, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{svc: svc, hub: hub, throttle: throttle, wsOrigins: wsOrigins, log: log}
}

// RegisterRoutes mounts the approval routes on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/v1/requests", h.ListRequests)
	r.Get("/v1/requests/summary", h.Summary)
	r.Get("/v1/requests/{id}", h.GetRequest)
	r.Get("/v1/audit/{id}", h.GetAudit)
	r.Get("/ui/pending", h.PendingPage)
	if h.hub != nil {
		r.Get("/v1/stream", h.hub.ServeWS(h.wsOrigins))
	}

	r.Group(func(r chi.Router) {
		if h.throttle != nil {
			r.Use(h.throttle)
		}
		r.Post("/v1/requests", h.SubmitRequest)
		r.Patch("/v1/requests/{id}/approve", h.ApproveRequest)
		r.Patch("/v1/requests/{id}/reject", h.RejectRequest)
		r.Patch("/v1/requests/{id}/limit", h.OverrideLimit)
		r.Post("/v1/requests/{id}/token/consume", h.ConsumeToken)
		r.Post("/v1/requests/{id}/token/revoke", h.RevokeToken)
	})
}

// ListRequests handles GET /v1/requests?type=bus|route&status=...&search=...
func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reqs, err := h.svc.List(r.Context(), q.Get("type"), query.Params{Status: q.Get("status"), Search: q.Get("search")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reqs)
}

// Summary handles GET /v1/requests/summary?type=...
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sum)
}

// GetRequest handles GET /v1/requests/{id}
func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// GetAudit handles GET /v1/audit/{id}
func (h *Handlers) GetAudit(w http.ResponseWriter, r *http.Request) {
	trail, err := h.svc.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, trail)
}

// SubmitRequest handles POST /v1/requests
func (h *Handlers) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in governance.SubmitInput
	if !h.decode(w, r, &in) {
		return
	}
	req, err := h.svc.Submit(r.Context(), in, principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, req)
}

// ApproveRequest handles PATCH /v1/requests/{id}/approve
func (h *Handlers) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, err := h.svc.Approve(r.Context(), chi.URLParam(r, "id"), principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// RejectRequest handles PATCH /v1/requests/{id}/reject
func (h *Handlers) RejectRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in RejectInput
	if !h.decode(w, r, &in) {
		return
	}
	req, err := h.svc.Reject(r.Context(), chi.URLParam(r, "id"), in.Remarks, principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// OverrideLimit handles PATCH /v1/requests/{id}/limit
func (h *Handlers) OverrideLimit(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in LimitInput
	if !h.decode(w, r, &in) {
		return
	}
	req, err := h.svc.OverrideLimit(r.Context(), chi.URLParam(r, "id"), in.Limit, in.Remarks, principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// ConsumeToken handles POST /v1/requests/{id}/token/consume
func (h *Handlers) ConsumeToken(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, err := h.svc.ConsumeToken(r.Context(), chi.URLParam(r, "id"), principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// RevokeToken handles POST /v1/requests/{id}/token/revoke
func (h *Handlers) RevokeToken(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var in RevokeInput
	if !h.decode(w, r, &in) {
		return
	}
	req, err := h.svc.RevokeToken(r.Context(), chi.URLParam(r, "id"), in.Remarks, principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

func (h *Handlers) principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := auth.PrincipalFromContext(r.Context())
	if p == "" {
		types.ErrUnauthorized("no authenticated principal").WriteJSON(w)
		return "", false
	}
	return p, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		types.ErrInvalidInput("invalid JSON body").WriteJSON(w)
		return false
	}
	return true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("response encode failed", "error", err)
	}
}

// writeError maps service errors onto API errors. Unclassified errors are
// logged and reported as internal.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	APIErrorFor(err, func(err error) {
		h.log.ErrorContext(r.Context(), "approvals request failed", "path", r.URL.Path, "error", err)
	}).WriteJSON(w)
}

// APIErrorFor converts err into its wire form. onInternal is called for
// errors that do not match a known class.
func APIErrorFor(err error, onInternal func(error)) *types.APIError {
	switch {
	case errors.Is(err, ErrForbidden):
		return types.ErrForbidden(err.Error())
	case errors.Is(err, governance.ErrNotFound):
		return types.ErrNotFound(err.Error())
	case errors.Is(err, governance.ErrConflict), errors.Is(err, governance.ErrInvalidTransition):
		return types.ErrConflict(err.Error())
	case errors.Is(err, governance.ErrPolicyViolation):
		return types.ErrPolicyViolation(err.Error())
	case errors.Is(err, governance.ErrInvalidInput), errors.Is(err, governance.ErrUnknownKind):
		return types.ErrInvalidInput(err.Error())
	default:
		if onInternal != nil {
			onInternal(err)
		}
		return types.ErrInternal("internal error")
	}
}
