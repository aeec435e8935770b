package approvals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/bturcanu/fleetgov/pkg/audit"
	"github.com/bturcanu/fleetgov/pkg/governance"
	"github.com/bturcanu/fleetgov/pkg/query"
	"github.com/bturcanu/fleetgov/pkg/store"
)

const instrumentationName = "github.com/bturcanu/fleetgov/pkg/approvals"

// SystemPrincipal is recorded as performed_by for transitions the service
// makes on its own, such as token expiry.
const SystemPrincipal = "system:token-sweeper"

// ErrForbidden means the principal is not an approver for the request's company.
var ErrForbidden = errors.New("approver not allowed for company")

// Notifier receives every audit event a successful operation appended.
type Notifier interface {
	Enqueue(ctx context.Context, req governance.ApprovalRequest, ev audit.Event)
}

// Service is the write and read API of the approval engine. It resolves a
// request id to its collection, checks the approver allowlist and runs the
// state machine transition inside store.Mutate.
type Service struct {
	store      *store.Store
	machine    *governance.Machine
	authorizer *ApproverAuthorizer
	notifier   Notifier
	now        func() time.Time
	log        *slog.Logger

	// submitMu keeps ids unique across both collections.
	submitMu sync.Mutex

	tracer     trace.Tracer
	decisions  metric.Int64Counter
	violations metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

func WithAuthorizer(a *ApproverAuthorizer) Option { return func(s *Service) { s.authorizer = a } }
func WithNotifier(n Notifier) Option              { return func(s *Service) { s.notifier = n } }
func WithClock(now func() time.Time) Option       { return func(s *Service) { s.now = now } }
func WithLogger(log *slog.Logger) Option          { return func(s *Service) { s.log = log } }

// NewService wires a service around st. A nil machine uses the default
// token TTL.
func NewService(st *store.Store, m *governance.Machine, opts ...Option) *Service {
	if m == nil {
		m = governance.NewMachine(nil)
	}
	s := &Service{
		store:   st,
		machine: m,
		now:     time.Now,
		log:     slog.Default(),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if s.decisions, err = meter.Int64Counter("fleetgov.decisions",
		metric.WithDescription("Approval engine operations by kind and outcome")); err != nil {
		s.log.Warn("decisions counter unavailable", "error", err)
		s.decisions = noop.Int64Counter{}
	}
	if s.violations, err = meter.Int64Counter("fleetgov.policy_violations",
		metric.WithDescription("Transitions refused by entitlement or license rules")); err != nil {
		s.log.Warn("policy violations counter unavailable", "error", err)
		s.violations = noop.Int64Counter{}
	}
	return s
}

// Store exposes the underlying store for read-side consumers.
func (s *Service) Store() *store.Store { return s.store }

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// Get returns the request with id from whichever collection holds it.
func (s *Service) Get(_ context.Context, id string) (governance.ApprovalRequest, error) {
	_, req, err := s.locate(id)
	return req, err
}

// List returns the requests of kind (both kinds, bus first, when kind is
// empty) filtered by p.
func (s *Service) List(_ context.Context, kind string, p query.Params) ([]governance.ApprovalRequest, error) {
	if p.Status != "" && p.Status != query.StatusAll {
		if _, err := governance.ParseStatus(p.Status); err != nil {
			return nil, err
		}
	}
	kinds, err := selectKinds(kind)
	if err != nil {
		return nil, err
	}
	if len(kinds) == 1 {
		return query.Apply(s.store.Snapshot(kinds[0]), p), nil
	}
	out := make([]governance.ApprovalRequest, 0)
	for _, k := range kinds {
		out = append(out, query.Apply(s.store.Snapshot(k), p)...)
	}
	return out, nil
}

// Summary counts requests per status for each selected kind.
func (s *Service) Summary(_ context.Context, kind string) (map[governance.Kind]query.Summary, error) {
	kinds, err := selectKinds(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[governance.Kind]query.Summary, len(kinds))
	for _, k := range kinds {
		out[k] = query.CountByStatus(s.store.Snapshot(k))
	}
	return out, nil
}

// AuditTrail is the ordered history of one request plus the result of
// re-verifying its hash chain.
type AuditTrail struct {
	RequestID  string          `json:"request_id"`
	Kind       governance.Kind `json:"kind"`
	Events     []audit.Event   `json:"events"`
	ChainValid bool            `json:"chain_valid"`
	ChainError string          `json:"chain_error,omitempty"`
}

// Audit returns the audit trail of id.
func (s *Service) Audit(_ context.Context, id string) (AuditTrail, error) {
	kind, req, err := s.locate(id)
	if err != nil {
		return AuditTrail{}, err
	}
	trail := AuditTrail{RequestID: req.ID, Kind: kind, Events: req.AuditHistory, ChainValid: true}
	if trail.Events == nil {
		trail.Events = []audit.Event{}
	}
	if err := audit.Verify(req.AuditHistory); err != nil {
		trail.ChainValid = false
		trail.ChainError = err.Error()
	}
	return trail, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Writes
// ──────────────────────────────────────────────────────────────────────────────

// Submit creates a pending request. Ids are unique across both kinds.
func (s *Service) Submit(ctx context.Context, in governance.SubmitInput, performedBy string) (governance.ApprovalRequest, error) {
	ctx, span := s.tracer.Start(ctx, "approvals.Submit", trace.WithAttributes(
		attribute.String("request.id", in.ID),
		attribute.String("request.kind", string(in.Kind)),
	))
	defer span.End()

	req, err := s.machine.Submit(in, performedBy, s.now())
	if err != nil {
		s.finish(ctx, span, "submit", in.Kind, err)
		return governance.ApprovalRequest{}, err
	}

	s.submitMu.Lock()
	if _, _, lookErr := s.locate(req.ID); lookErr == nil {
		err = fmt.Errorf("approvals.Submit: request %s: %w", req.ID, governance.ErrConflict)
	} else {
		err = s.store.Insert(req.Kind, req)
	}
	s.submitMu.Unlock()
	if err != nil {
		s.finish(ctx, span, "submit", in.Kind, err)
		return governance.ApprovalRequest{}, err
	}

	s.finish(ctx, span, "submit", req.Kind, nil)
	s.publish(ctx, req, 0)
	s.log.InfoContext(ctx, "request submitted", "request_id", req.ID, "kind", req.Kind, "company_id", req.CompanyID, "performed_by", performedBy)
	return req, nil
}

// Approve approves a pending request and mints its token.
func (s *Service) Approve(ctx context.Context, id, performedBy string) (governance.ApprovalRequest, error) {
	return s.transition(ctx, "approve", id, performedBy, true,
		func(r governance.ApprovalRequest, now time.Time) (governance.ApprovalRequest, error) {
			return s.machine.Approve(r, performedBy, now)
		})
}

// Reject rejects a pending request with mandatory remarks.
func (s *Service) Reject(ctx context.Context, id, remarks, performedBy string) (governance.ApprovalRequest, error) {
	return s.transition(ctx, "reject", id, performedBy, true,
		func(r governance.ApprovalRequest, now time.Time) (governance.ApprovalRequest, error) {
			return s.machine.Reject(r, remarks, performedBy, now)
		})
}

// OverrideLimit changes the entitlement cap of a pending request.
func (s *Service) OverrideLimit(ctx context.Context, id string, newLimit int, remarks, performedBy string) (governance.ApprovalRequest, error) {
	return s.transition(ctx, "override_limit", id, performedBy, true,
		func(r governance.ApprovalRequest, now time.Time) (governance.ApprovalRequest, error) {
			return s.machine.OverrideLimit(r, newLimit, remarks, performedBy, now)
		})
}

// ConsumeToken marks the request's token as used. Any authenticated
// principal may consume; downstream systems do this on activation.
func (s *Service) ConsumeToken(ctx context.Context, id, performedBy string) (governance.ApprovalRequest, error) {
	return s.transition(ctx, "consume_token", id, performedBy, false,
		func(r governance.ApprovalRequest, now time.Time) (governance.ApprovalRequest, error) {
			return s.machine.ConsumeToken(r, performedBy, now)
		})
}

// RevokeToken withdraws the request's token.
func (s *Service) RevokeToken(ctx context.Context, id, remarks, performedBy string) (governance.ApprovalRequest, error) {
	return s.transition(ctx, "revoke_token", id, performedBy, true,
		func(r governance.ApprovalRequest, now time.Time) (governance.ApprovalRequest, error) {
			return s.machine.RevokeToken(r, remarks, performedBy, now)
		})
}

// ExpireTokens records TOKEN_EXPIRED for every active token past its expiry
// and returns how many it expired.
func (s *Service) ExpireTokens(ctx context.Context) (int, error) {
	now := s.now()
	expired := 0
	for _, k := range governance.Kinds {
		for _, r := range s.store.Snapshot(k) {
			if r.Token == nil || r.Token.State != governance.TokenActive || now.Before(r.Token.ExpiresAt) {
				continue
			}
			_, err := s.transition(ctx, "expire_token", r.ID, SystemPrincipal, false,
				func(req governance.ApprovalRequest, now time.Time) (governance.ApprovalRequest, error) {
					return s.machine.ExpireToken(req, SystemPrincipal, now)
				})
			switch {
			case err == nil:
				expired++
			case errors.Is(err, governance.ErrInvalidTransition):
				// consumed or revoked since the snapshot was taken
			default:
				return expired, fmt.Errorf("approvals.ExpireTokens: %w", err)
			}
		}
	}
	return expired, nil
}

type transitionFunc func(governance.ApprovalRequest, time.Time) (governance.ApprovalRequest, error)

func (s *Service) transition(ctx context.Context, op, id, performedBy string, authorize bool, fn transitionFunc) (governance.ApprovalRequest, error) {
	ctx, span := s.tracer.Start(ctx, "approvals."+op, trace.WithAttributes(attribute.String("request.id", id)))
	defer span.End()

	kind, current, err := s.locate(id)
	if err != nil {
		s.finish(ctx, span, op, "", err)
		return governance.ApprovalRequest{}, err
	}
	span.SetAttributes(attribute.String("request.kind", string(kind)))

	if authorize && s.authorizer != nil && !s.authorizer.Allow(current.CompanyID, performedBy) {
		err := fmt.Errorf("approvals.%s: %w: %q for %s", op, ErrForbidden, performedBy, current.CompanyID)
		s.finish(ctx, span, op, kind, err)
		return governance.ApprovalRequest{}, err
	}

	now := s.now()
	var before int
	updated, err := s.store.Mutate(kind, current.ID, func(r governance.ApprovalRequest) (governance.ApprovalRequest, error) {
		before = len(r.AuditHistory)
		return fn(r, now)
	})
	s.finish(ctx, span, op, kind, err)
	if err != nil {
		s.log.WarnContext(ctx, "transition refused", "op", op, "request_id", current.ID, "kind", kind, "performed_by", performedBy, "error", err)
		return governance.ApprovalRequest{}, err
	}

	s.publish(ctx, updated, before)
	s.log.InfoContext(ctx, "transition applied", "op", op, "request_id", current.ID, "kind", kind, "status", updated.Status, "performed_by", performedBy)
	return updated, nil
}

// publish hands the events appended after index from to the notifier.
func (s *Service) publish(ctx context.Context, req governance.ApprovalRequest, from int) {
	if s.notifier == nil {
		return
	}
	for _, ev := range req.AuditHistory[from:] {
		s.notifier.Enqueue(ctx, req, ev)
	}
}

func (s *Service) finish(ctx context.Context, span trace.Span, op string, kind governance.Kind, err error) {
	outcome := Outcome(err)
	s.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
	if errors.Is(err, governance.ErrPolicyViolation) {
		s.violations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(kind)),
			attribute.String("reason", violationReason(err)),
		))
	}
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		span.RecordError(err)
	}
}

// Outcome classifies err into a short label for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, governance.ErrNotFound):
		return "not_found"
	case errors.Is(err, governance.ErrConflict), errors.Is(err, governance.ErrInvalidTransition):
		return "conflict"
	case errors.Is(err, governance.ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, governance.ErrInvalidInput), errors.Is(err, governance.ErrUnknownKind):
		return "invalid_input"
	default:
		return "error"
	}
}

func violationReason(err error) string {
	switch {
	case errors.Is(err, governance.ErrEntitlementExceeded):
		return "entitlement_exceeded"
	case errors.Is(err, governance.ErrLicenseExpired):
		return "license_expired"
	case errors.Is(err, governance.ErrNotPending):
		return "not_pending"
	default:
		return "other"
	}
}

func (s *Service) locate(id string) (governance.Kind, governance.ApprovalRequest, error) {
	id = strings.TrimSpace(id)
	for _, k := range governance.Kinds {
		if r, ok := s.store.Get(k, id); ok {
			return k, r, nil
		}
	}
	return "", governance.ApprovalRequest{}, fmt.Errorf("approvals: request %q: %w", id, governance.ErrNotFound)
}

func selectKinds(kind string) ([]governance.Kind, error) {
	if kind == "" {
		return governance.Kinds, nil
	}
	k, err := governance.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", governance.ErrInvalidInput, err)
	}
	return []governance.Kind{k}, nil
}
