// Package approvals exposes the governance engine over HTTP: the service
// layer that runs transitions against the store, the chi handlers, the
// websocket change feed and the outbound decision webhooks.
package approvals

import (
	"time"

	"github.com/bturcanu/fleetgov/pkg/audit"
	"github.com/bturcanu/fleetgov/pkg/governance"
)

// ──────────────────────────────────────────────────────────────────────────────
// API payloads
// ──────────────────────────────────────────────────────────────────────────────

type RejectInput struct {
	Remarks string `json:"remarks"`
}

type LimitInput struct {
	Limit   int    `json:"limit"`
	Remarks string `json:"remarks"`
}

type RevokeInput struct {
	Remarks string `json:"remarks"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Notification is one webhook delivery of one audit event.
// ──────────────────────────────────────────────────────────────────────────────

type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "pending"
	NotificationProcessing NotificationStatus = "processing"
	NotificationSent       NotificationStatus = "sent"
	NotificationFailed     NotificationStatus = "failed"
)

type Notification struct {
	ID           string            `json:"id"`
	RequestID    string            `json:"request_id"`
	Kind         governance.Kind   `json:"kind"`
	CompanyID    string            `json:"company_id"`
	CompanyName  string            `json:"company_name"`
	Status       governance.Status `json:"status"`
	AuditEventID string            `json:"audit_event_id"`
	Action       audit.Action      `json:"action"`
	PerformedBy  string            `json:"performed_by"`
	Remarks      string            `json:"remarks,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`

	NotifyURL string `json:"notify_url"`
	SecretRef string `json:"secret_ref,omitempty"`

	Attempts      int                `json:"attempts"`
	State         NotificationStatus `json:"state"`
	NextAttemptAt time.Time          `json:"next_attempt_at"`
	LastError     string             `json:"last_error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// WebhookTarget is one configured receiver. Ref names both the target and
// the secret used to sign its deliveries.
type WebhookTarget struct {
	Ref string
	URL string
}
