package governance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bturcanu/fleetgov/pkg/audit"
)

// Machine owns the legal transitions of an approval request. Transitions are
// pure: they take a request value and return a new one, never modifying the
// input and never touching a store. A transition that fails returns the
// zero request and leaves no trace (no audit event, no token).
type Machine struct {
	issuer *TokenIssuer
}

// NewMachine returns a state machine that mints tokens with issuer.
func NewMachine(issuer *TokenIssuer) *Machine {
	if issuer == nil {
		issuer = NewTokenIssuer(DefaultTokenTTL)
	}
	return &Machine{issuer: issuer}
}

// TokenTTL is the lifetime of tokens minted by Approve.
func (m *Machine) TokenTTL() time.Duration { return m.issuer.TTL() }

// Submit validates in and builds a pending request carrying one SUBMITTED event.
func (m *Machine) Submit(in SubmitInput, performedBy string, now time.Time) (ApprovalRequest, error) {
	if err := validateSubmit(in, performedBy); err != nil {
		return ApprovalRequest{}, err
	}

	req := ApprovalRequest{
		ID:          strings.TrimSpace(in.ID),
		Kind:        in.Kind,
		CompanyID:   strings.TrimSpace(in.CompanyID),
		CompanyName: strings.TrimSpace(in.CompanyName),
		Entitlement: in.Entitlement,
		Status:      StatusPending,
		SubmittedAt: now.UTC(),
	}
	if in.Bus != nil {
		bus := *in.Bus
		req.Bus = &bus
	}
	if in.Route != nil {
		route := *in.Route
		req.Route = &route
	}

	history, err := audit.Append(nil, audit.NewEvent(audit.ActionSubmitted, performedBy, now, "", nil))
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("governance.Submit: %w", err)
	}
	req.AuditHistory = history
	return req, nil
}

func validateSubmit(in SubmitInput, performedBy string) error {
	switch {
	case strings.TrimSpace(performedBy) == "":
		return fmt.Errorf("%w: performed_by is required", ErrInvalidInput)
	case strings.TrimSpace(in.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	case strings.TrimSpace(in.CompanyID) == "":
		return fmt.Errorf("%w: company_id is required", ErrInvalidInput)
	case in.Entitlement.Current < 0 || in.Entitlement.Limit < 0:
		return fmt.Errorf("%w: entitlement counts must be non-negative", ErrInvalidInput)
	}

	switch in.Kind {
	case KindBus:
		if in.Bus == nil || strings.TrimSpace(in.Bus.BusNumber) == "" {
			return fmt.Errorf("%w: bus request requires bus.bus_number", ErrInvalidInput)
		}
		if in.Route != nil {
			return fmt.Errorf("%w: bus request must not carry route details", ErrInvalidInput)
		}
		if in.Bus.Capacity < 0 {
			return fmt.Errorf("%w: bus capacity must be non-negative", ErrInvalidInput)
		}
		if err := validateBus(*in.Bus); err != nil {
			return err
		}
	case KindRoute:
		if in.Route == nil || strings.TrimSpace(in.Route.Origin) == "" || strings.TrimSpace(in.Route.Destination) == "" {
			return fmt.Errorf("%w: route request requires route.origin and route.destination", ErrInvalidInput)
		}
		if in.Bus != nil {
			return fmt.Errorf("%w: route request must not carry bus details", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: %w %q", ErrInvalidInput, ErrUnknownKind, in.Kind)
	}
	return nil
}

// validateBus keeps license and risk values inside their enums so the
// expired-license gate cannot be sidestepped by an unknown status.
func validateBus(b BusDetails) error {
	status, err := ParseLicenseStatus(string(b.License.Status))
	if err != nil {
		return err
	}
	if b.License.DaysRemaining < 0 && status != LicenseExpired {
		return fmt.Errorf("%w: license %s is %s with %d days remaining", ErrInvalidInput, b.License.Number, status, b.License.DaysRemaining)
	}
	if _, err := ParseRiskLevel(string(b.RiskLevel)); err != nil {
		return err
	}
	return nil
}

// Approve moves a pending request to approved, mints its token and records
// APPROVED followed by TOKEN_ISSUED. It refuses with ErrPolicyViolation when
// the request is not pending or fails the entitlement gate.
func (m *Machine) Approve(req ApprovalRequest, performedBy string, now time.Time) (ApprovalRequest, error) {
	if req.Status != StatusPending {
		return ApprovalRequest{}, fmt.Errorf("%w: %w (%s is %s)", ErrPolicyViolation, ErrNotPending, req.ID, req.Status)
	}
	if err := CheckApprovable(req); err != nil {
		return ApprovalRequest{}, err
	}
	if strings.TrimSpace(performedBy) == "" {
		return ApprovalRequest{}, fmt.Errorf("%w: performed_by is required", ErrInvalidInput)
	}

	tok, err := m.issuer.Issue(now)
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("governance.Approve: %w", err)
	}

	history, err := audit.Append(req.AuditHistory, audit.NewEvent(audit.ActionApproved, performedBy, now, "", nil))
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("governance.Approve: %w", err)
	}
	history, err = audit.Append(history, audit.NewEvent(audit.ActionTokenIssued, performedBy, now, "", map[string]string{
		audit.MetaTokenID:   tok.ID,
		audit.MetaExpiresAt: tok.ExpiresAt.Format(time.RFC3339),
	}))
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("governance.Approve: %w", err)
	}

	req.Status = StatusApproved
	req.Token = &tok
	req.AuditHistory = history
	return req, nil
}

// Reject moves a pending request to rejected, storing the trimmed remarks
// and recording one REJECTED event that carries them.
func (m *Machine) Reject(req ApprovalRequest, remarks, performedBy string, now time.Time) (ApprovalRequest, error) {
	if req.Status != StatusPending {
		return ApprovalRequest{}, fmt.Errorf("%w: %w (%s is %s)", ErrInvalidInput, ErrNotPending, req.ID, req.Status)
	}
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return ApprovalRequest{}, fmt.Errorf("%w: rejection remarks are required", ErrInvalidInput)
	}
	if strings.TrimSpace(performedBy) == "" {
		return ApprovalRequest{}, fmt.Errorf("%w: performed_by is required", ErrInvalidInput)
	}

	history, err := audit.Append(req.AuditHistory, audit.NewEvent(audit.ActionRejected, performedBy, now, remarks, nil))
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("governance.Reject: %w", err)
	}

	req.Status = StatusRejected
	req.Remarks = remarks
	req.AuditHistory = history
	return req, nil
}

// OverrideLimit raises or lowers the entitlement cap of a pending request
// and records LIMIT_OVERRIDE with the previous and new limits.
func (m *Machine) OverrideLimit(req ApprovalRequest, newLimit int, remarks, performedBy string, now time.Time) (ApprovalRequest, error) {
	if req.Status != StatusPending {
		return ApprovalRequest{}, fmt.Errorf("%w: %w (%s is %s)", ErrInvalidInput, ErrNotPending, req.ID, req.Status)
	}
	remarks = strings.TrimSpace(remarks)
	switch {
	case newLimit <= 0:
		return ApprovalRequest{}, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	case newLimit == req.Entitlement.Limit:
		return ApprovalRequest{}, fmt.Errorf("%w: limit is already %d", ErrInvalidInput, newLimit)
	case remarks == "":
		return ApprovalRequest{}, fmt.Errorf("%w: override remarks are required", ErrInvalidInput)
	case strings.TrimSpace(performedBy) == "":
		return ApprovalRequest{}, fmt.Errorf("%w: performed_by is required", ErrInvalidInput)
	}

	history, err := audit.Append(req.AuditHistory, audit.NewEvent(audit.ActionLimitOverride, performedBy, now, remarks, map[string]string{
		audit.MetaPreviousLimit: strconv.Itoa(req.Entitlement.Limit),
		audit.MetaNewLimit:      strconv.Itoa(newLimit),
	}))
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("governance.OverrideLimit: %w", err)
	}

	req.Entitlement.Limit = newLimit
	req.AuditHistory = history
	return req, nil
}

// ConsumeToken marks the request's active token as used by the downstream system.
func (m *Machine) ConsumeToken(req ApprovalRequest, performedBy string, now time.Time) (ApprovalRequest, error) {
	return m.transitionToken(req, TokenConsumed, audit.ActionTokenConsumed, "", performedBy, now)
}

// RevokeToken withdraws the request's active token.
func (m *Machine) RevokeToken(req ApprovalRequest, remarks, performedBy string, now time.Time) (ApprovalRequest, error) {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return ApprovalRequest{}, fmt.Errorf("%w: revocation remarks are required", ErrInvalidInput)
	}
	return m.transitionToken(req, TokenRevoked, audit.ActionTokenRevoked, remarks, performedBy, now)
}

// ExpireToken records the expiry of an active token whose ExpiresAt has passed.
func (m *Machine) ExpireToken(req ApprovalRequest, performedBy string, now time.Time) (ApprovalRequest, error) {
	return m.transitionToken(req, TokenExpired, audit.ActionTokenExpired, "", performedBy, now)
}

func (m *Machine) transitionToken(req ApprovalRequest, to TokenState, action audit.Action, remarks, performedBy string, now time.Time) (ApprovalRequest, error) {
	if req.Status != StatusApproved || req.Token == nil {
		return ApprovalRequest{}, fmt.Errorf("%w: %w (%s)", ErrInvalidTransition, ErrNoToken, req.ID)
	}
	if strings.TrimSpace(performedBy) == "" {
		return ApprovalRequest{}, fmt.Errorf("%w: performed_by is required", ErrInvalidInput)
	}

	tok, err := TransitionToken(*req.Token, to, now)
	if err != nil {
		return ApprovalRequest{}, err
	}
	history, err := audit.Append(req.AuditHistory, audit.NewEvent(action, performedBy, now, remarks, map[string]string{
		audit.MetaTokenID: tok.ID,
	}))
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("governance.transitionToken: %w", err)
	}

	req.Token = &tok
	req.AuditHistory = history
	return req, nil
}
