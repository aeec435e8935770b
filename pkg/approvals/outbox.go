package approvals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bturcanu/fleetgov/pkg/audit"
	"github.com/bturcanu/fleetgov/pkg/governance"
)

// DefaultOutboxRetention bounds how many delivered or failed notifications
// the outbox keeps for inspection.
const DefaultOutboxRetention = 1000

// Outbox is the in-memory queue between the service and the Dispatcher. It
// fans every audit event out to each configured webhook target.
type Outbox struct {
	mu      sync.Mutex
	items   []*Notification
	byID    map[string]*Notification
	targets []WebhookTarget
	retain  int
	now     func() time.Time
}

func NewOutbox(targets []WebhookTarget) *Outbox {
	return &Outbox{
		byID:    make(map[string]*Notification),
		targets: targets,
		retain:  DefaultOutboxRetention,
		now:     time.Now,
	}
}

// ParseWebhookTargets reads "ref=https://host/path,..." into targets sorted by ref.
func ParseWebhookTargets(raw string) []WebhookTarget {
	m := ParseSecretRefMap(raw)
	out := make([]WebhookTarget, 0, len(m))
	for ref, u := range m {
		out = append(out, WebhookTarget{Ref: ref, URL: u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Enqueue records one pending delivery of ev per target.
func (o *Outbox) Enqueue(_ context.Context, req governance.ApprovalRequest, ev audit.Event) {
	if len(o.targets) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now().UTC()
	for _, t := range o.targets {
		n := &Notification{
			ID:            uuid.NewString(),
			RequestID:     req.ID,
			Kind:          req.Kind,
			CompanyID:     req.CompanyID,
			CompanyName:   req.CompanyName,
			Status:        req.Status,
			AuditEventID:  ev.ID,
			Action:        ev.Action,
			PerformedBy:   ev.PerformedBy,
			Remarks:       ev.Remarks,
			Metadata:      ev.Metadata,
			OccurredAt:    ev.At,
			NotifyURL:     t.URL,
			SecretRef:     t.Ref,
			State:         NotificationPending,
			NextAttemptAt: now,
			CreatedAt:     now,
		}
		o.items = append(o.items, n)
		o.byID[n.ID] = n
	}
}

// ClaimDueNotifications moves up to limit due items to processing, bumps
// their attempt count and returns copies in creation order.
func (o *Outbox) ClaimDueNotifications(_ context.Context, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultDispatchBatchSize
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now().UTC()
	out := make([]Notification, 0)
	for _, n := range o.items {
		if len(out) == limit {
			break
		}
		if n.State != NotificationPending || n.NextAttemptAt.After(now) {
			continue
		}
		n.State = NotificationProcessing
		n.Attempts++
		out = append(out, *n)
	}
	return out, nil
}

// MarkNotificationSent marks an outbox record as delivered.
func (o *Outbox) MarkNotificationSent(_ context.Context, id string) error {
	return o.update(id, func(n *Notification) {
		n.State = NotificationSent
		n.LastError = ""
	})
}

// MarkNotificationRetry schedules another delivery attempt with backoff.
func (o *Outbox) MarkNotificationRetry(_ context.Context, id string, attempts int, nextAttemptAt time.Time, lastErr string) error {
	return o.update(id, func(n *Notification) {
		n.State = NotificationPending
		n.Attempts = attempts
		n.NextAttemptAt = nextAttemptAt
		n.LastError = lastErr
	})
}

// MarkNotificationFailed marks an outbox record terminally failed.
func (o *Outbox) MarkNotificationFailed(_ context.Context, id string, lastErr string) error {
	return o.update(id, func(n *Notification) {
		n.State = NotificationFailed
		n.LastError = lastErr
	})
}

func (o *Outbox) update(id string, fn func(*Notification)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, ok := o.byID[id]
	if !ok {
		return fmt.Errorf("approvals.Outbox: notification %s: %w", id, governance.ErrNotFound)
	}
	fn(n)
	o.prune()
	return nil
}

// prune drops the oldest finished items beyond the retention limit.
func (o *Outbox) prune() {
	finished := 0
	for _, n := range o.items {
		if n.State == NotificationSent || n.State == NotificationFailed {
			finished++
		}
	}
	excess := finished - o.retain
	if excess <= 0 {
		return
	}
	kept := o.items[:0]
	for _, n := range o.items {
		if excess > 0 && (n.State == NotificationSent || n.State == NotificationFailed) {
			delete(o.byID, n.ID)
			excess--
			continue
		}
		kept = append(kept, n)
	}
	for i := len(kept); i < len(o.items); i++ {
		o.items[i] = nil
	}
	o.items = kept
}

// List returns a copy of every retained notification in creation order.
func (o *Outbox) List() []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Notification, 0, len(o.items))
	for _, n := range o.items {
		out = append(out, *n)
	}
	return out
}

// Counts returns the number of retained notifications per state.
func (o *Outbox) Counts() map[NotificationStatus]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[NotificationStatus]int, 4)
	for _, n := range o.items {
		out[n.State]++
	}
	return out
}
