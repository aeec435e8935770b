package approvals

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultDispatchBatchSize = 100
	maxDispatchBackoff       = 5 * time.Minute
	maxNotificationAttempts  = 10
)

// Summarizer builds human-friendly notification summaries.
type Summarizer interface {
	Summarize(Notification) string
}

// TemplateSummarizer renders a fixed sentence per notification.
type TemplateSummarizer struct{}

func (TemplateSummarizer) Summarize(n Notification) string {
	s := fmt.Sprintf("%s request %s for %s: %s by %s (status=%s)",
		n.Kind, n.RequestID, n.CompanyName, n.Action, n.PerformedBy, n.Status)
	if n.Remarks != "" {
		s += ": " + n.Remarks
	}
	return s
}

// Dispatcher delivers due outbox items as signed CloudEvents webhooks.
type Dispatcher struct {
	store                 notificationStore
	httpClient            *http.Client
	source                string
	secrets               map[string]string
	summarizer            Summarizer
	log                   *slog.Logger
	SkipWebhookValidation bool // testing only: disables SSRF URL checks
}

type notificationStore interface {
	ClaimDueNotifications(context.Context, int) ([]Notification, error)
	MarkNotificationSent(context.Context, string) error
	MarkNotificationRetry(context.Context, string, int, time.Time, string) error
	MarkNotificationFailed(context.Context, string, string) error
}

func NewDispatcher(store notificationStore, source string, secrets map[string]string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:      store,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		source:     source,
		secrets:    secrets,
		summarizer: TemplateSummarizer{},
		log:        log,
	}
}

// DispatchOnce claims one batch of due notifications and attempts each once.
func (d *Dispatcher) DispatchOnce(ctx context.Context) error {
	items, err := d.store.ClaimDueNotifications(ctx, defaultDispatchBatchSize)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.NotifyURL == "" {
			_ = d.store.MarkNotificationFailed(ctx, item.ID, "webhook notify_url is empty")
			continue
		}
		if err := d.deliverWebhook(ctx, item); err != nil {
			if item.Attempts >= maxNotificationAttempts {
				if markErr := d.store.MarkNotificationFailed(ctx, item.ID, "max retries exceeded: "+err.Error()); markErr != nil {
					d.log.Error("mark notification failed error", "id", item.ID, "error", markErr)
				}
				continue
			}
			next := time.Now().UTC().Add(backoffForAttempt(item.Attempts))
			if markErr := d.store.MarkNotificationRetry(ctx, item.ID, item.Attempts, next, err.Error()); markErr != nil {
				d.log.Error("mark notification retry error", "id", item.ID, "error", markErr)
			}
			d.log.Warn("notification delivery failed", "id", item.ID, "request_id", item.RequestID, "attempt", item.Attempts, "error", err)
			continue
		}
		if markErr := d.store.MarkNotificationSent(ctx, item.ID); markErr != nil {
			d.log.Error("mark notification sent error", "id", item.ID, "error", markErr)
		}
	}
	return nil
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.DispatchOnce(ctx); err != nil {
				d.log.Error("notification dispatch failed", "error", err)
			}
		}
	}
}

func ValidateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("only https scheme allowed, got %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty hostname")
	}
	ip := net.ParseIP(host)
	if ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/loopback IP not allowed: %s", ip)
		}
	}
	return nil
}

func (d *Dispatcher) deliverWebhook(ctx context.Context, item Notification) error {
	if !d.SkipWebhookValidation {
		if err := ValidateWebhookURL(item.NotifyURL); err != nil {
			return fmt.Errorf("webhook URL validation: %w", err)
		}
	}
	body, err := BuildDecisionCloudEvent(item, d.source, d.summarizer.Summarize(item))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.NotifyURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/cloudevents+json")
	req.Header.Set("Ce-Specversion", "1.0")
	req.Header.Set("Ce-Type", cloudEventType(item))
	req.Header.Set("Ce-Id", item.ID)
	req.Header.Set("Ce-Source", d.source)
	if secret, ok := d.secrets[item.SecretRef]; ok && secret != "" {
		req.Header.Set("X-Fleetgov-Signature-256", SignBodyHMACSHA256(body, secret))
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook status=%d", resp.StatusCode)
}

func backoffForAttempt(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	d := time.Second * time.Duration(1<<min(attempt, 8))
	if d > maxDispatchBackoff {
		return maxDispatchBackoff
	}
	return d
}

func SignBodyHMACSHA256(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type cloudEvent struct {
	SpecVersion     string         `json:"specversion"`
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Subject         string         `json:"subject"`
	Time            string         `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            map[string]any `json:"data"`
}

// cloudEventType maps an audit action onto an event type, for example
// TOKEN_ISSUED becomes fleetgov.request.token_issued.
func cloudEventType(n Notification) string {
	return "fleetgov.request." + strings.ToLower(string(n.Action))
}

func BuildDecisionCloudEvent(n Notification, source, summary string) ([]byte, error) {
	data := map[string]any{
		"request_id":     n.RequestID,
		"kind":           n.Kind,
		"company_id":     n.CompanyID,
		"company_name":   n.CompanyName,
		"status":         n.Status,
		"action":         n.Action,
		"audit_event_id": n.AuditEventID,
		"performed_by":   n.PerformedBy,
		"occurred_at":    n.OccurredAt.Format(time.RFC3339),
		"summary":        summary,
	}
	if n.Remarks != "" {
		data["remarks"] = n.Remarks
	}
	if len(n.Metadata) > 0 {
		data["metadata"] = n.Metadata
	}
	ev := cloudEvent{
		SpecVersion:     "1.0",
		ID:              n.ID,
		Type:            cloudEventType(n),
		Source:          source,
		Subject:         n.RequestID,
		Time:            time.Now().UTC().Format(time.RFC3339Nano),
		DataContentType: "application/json",
		Data:            data,
	}
	return json.Marshal(ev)
}

// ParseSecretRefMap parses "ref=value,ref=value" pairs. It reads both the
// webhook target list and the signing secret list.
func ParseSecretRefMap(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}
