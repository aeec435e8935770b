// Package governance holds the approval data model for operator expansion
// requests together with the pure rules that govern it: the entitlement
// validator, the token issuer and the approval state machine.
package governance

import (
	"fmt"
	"time"

	"github.com/bturcanu/fleetgov/pkg/audit"
)

// Kind selects one of the two request collections.
type Kind string

const (
	KindBus   Kind = "bus"
	KindRoute Kind = "route"
)

// Kinds lists every collection in a stable order.
var Kinds = []Kind{KindBus, KindRoute}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindBus, KindRoute:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Status is the lifecycle state of a request. Pending is the only
// non-terminal status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool { return s == StatusApproved || s == StatusRejected }

type LicenseStatus string

const (
	LicenseValid    LicenseStatus = "valid"
	LicenseExpiring LicenseStatus = "expiring"
	LicenseExpired  LicenseStatus = "expired"
)

// ParseLicenseStatus validates a license status string. Matching is exact.
func ParseLicenseStatus(s string) (LicenseStatus, error) {
	switch LicenseStatus(s) {
	case LicenseValid, LicenseExpiring, LicenseExpired:
		return LicenseStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown license status %q", ErrInvalidInput, s)
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ParseRiskLevel validates a risk level string. Empty means unscored.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case "", RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), nil
	}
	return "", fmt.Errorf("%w: unknown risk level %q", ErrInvalidInput, s)
}

// License describes the operator's permit as seen at submission time.
type License struct {
	Number        string        `json:"number"`
	ValidUntil    time.Time     `json:"valid_until"`
	Status        LicenseStatus `json:"status"`
	DaysRemaining int           `json:"days_remaining"`
}

// BusDetails is the subject of a bus request.
type BusDetails struct {
	BusNumber string    `json:"bus_number"`
	Layout    string    `json:"layout"`
	Capacity  int       `json:"capacity"`
	Route     string    `json:"route"`
	RiskLevel RiskLevel `json:"risk_level"`
	RiskScore int       `json:"risk_score"`
	License   License   `json:"license"`
}

// RouteDetails is the subject of a route request.
type RouteDetails struct {
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	DistanceKM  float64 `json:"distance_km"`
	Duration    string  `json:"duration"`
}

// Entitlement is the operator's usage and hard cap for the requested
// resource, captured when the request was submitted.
type Entitlement struct {
	Current int `json:"current"`
	Limit   int `json:"limit"`
}

// ApprovalRequest is an operator's request to add a bus or a route.
//
// Values handed out by the store are shared snapshots: treat them, and the
// slices and pointers they hold, as read-only. Change state only through
// the Machine transitions wrapped in store.Mutate.
type ApprovalRequest struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	CompanyID    string         `json:"company_id"`
	CompanyName  string         `json:"company_name"`
	Bus          *BusDetails    `json:"bus,omitempty"`
	Route        *RouteDetails  `json:"route,omitempty"`
	Entitlement  Entitlement    `json:"entitlement"`
	Status       Status         `json:"status"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	Remarks      string         `json:"remarks,omitempty"`
	Token        *ApprovalToken `json:"approval_token,omitempty"`
	AuditHistory []audit.Event  `json:"audit_history"`
}

// SubmitInput is the payload of a new expansion request.
type SubmitInput struct {
	ID          string        `json:"id"`
	Kind        Kind          `json:"kind"`
	CompanyID   string        `json:"company_id"`
	CompanyName string        `json:"company_name"`
	Bus         *BusDetails   `json:"bus,omitempty"`
	Route       *RouteDetails `json:"route,omitempty"`
	Entitlement Entitlement   `json:"entitlement"`
}
