// Package seed loads demo requests from YAML and replays them through the
// state machine so every seeded trail is a real, verifiable audit chain.
package seed

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bturcanu/fleetgov/pkg/governance"
	"github.com/bturcanu/fleetgov/pkg/store"
)

//go:embed default.yaml
var defaultYAML []byte

// File is the root of a seed document. Times are expressed in days
// relative to the moment the seed is applied.
type File struct {
	Requests []Request `yaml:"requests"`
}

type Request struct {
	ID               string    `yaml:"id"`
	Kind             string    `yaml:"kind"`
	CompanyID        string    `yaml:"company_id"`
	CompanyName      string    `yaml:"company_name"`
	SubmittedBy      string    `yaml:"submitted_by"`
	SubmittedDaysAgo int       `yaml:"submitted_days_ago"`
	Current          int       `yaml:"current"`
	Limit            int       `yaml:"limit"`
	Bus              *Bus      `yaml:"bus,omitempty"`
	Route            *Route    `yaml:"route,omitempty"`
	Override         *Override `yaml:"override,omitempty"`
	Decision         *Decision `yaml:"decision,omitempty"`
}

type Bus struct {
	Number       string `yaml:"number"`
	Layout       string `yaml:"layout"`
	Capacity     int    `yaml:"capacity"`
	Route        string `yaml:"route"`
	RiskLevel    string `yaml:"risk_level"`
	RiskScore    int    `yaml:"risk_score"`
	License      string `yaml:"license"`
	LicenseDays  int    `yaml:"license_days"`
	LicenseState string `yaml:"license_status"`
}

type Route struct {
	Origin      string  `yaml:"origin"`
	Destination string  `yaml:"destination"`
	DistanceKM  float64 `yaml:"distance_km"`
	Duration    string  `yaml:"duration"`
}

type Override struct {
	Limit   int    `yaml:"limit"`
	By      string `yaml:"by"`
	Remarks string `yaml:"remarks"`
}

// Decision replays an approval or rejection. Token names the follow-up
// transition for an approved request: active, consumed, revoked or expired.
type Decision struct {
	Status  string `yaml:"status"`
	By      string `yaml:"by"`
	DaysAgo int    `yaml:"days_ago"`
	Remarks string `yaml:"remarks"`
	Token   string `yaml:"token"`
}

// Default returns the embedded demo data set.
func Default() (File, error) {
	return Parse(defaultYAML)
}

// Load reads a seed document from path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("seed.Load: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("seed.Parse: %w", err)
	}
	seen := make(map[string]bool, len(f.Requests))
	for _, r := range f.Requests {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return File{}, fmt.Errorf("seed.Parse: request without id")
		}
		if seen[id] {
			return File{}, fmt.Errorf("seed.Parse: duplicate id %q", id)
		}
		seen[id] = true
	}
	return f, nil
}

// Apply builds every request of f with m and inserts it into st. It returns
// the number of requests inserted before the first failure.
func Apply(st *store.Store, m *governance.Machine, f File, now time.Time) (int, error) {
	for i, r := range f.Requests {
		req, err := Build(m, r, now)
		if err != nil {
			return i, err
		}
		if err := st.Insert(req.Kind, req); err != nil {
			return i, fmt.Errorf("seed.Apply %s: %w", r.ID, err)
		}
	}
	return len(f.Requests), nil
}

// Build replays r through the machine: submit, optional limit override,
// then the decision and its token follow-up.
func Build(m *governance.Machine, r Request, now time.Time) (governance.ApprovalRequest, error) {
	now = now.UTC()
	kind, err := governance.ParseKind(r.Kind)
	if err != nil {
		return governance.ApprovalRequest{}, fmt.Errorf("seed %s: %w", r.ID, err)
	}

	decidedAt := now.Add(-days(r.decisionDaysAgo()))
	if r.Decision != nil && r.Decision.Token == string(governance.TokenExpired) {
		// The token must already be past its expiry when the seed runs.
		decidedAt = now.Add(-m.TokenTTL() - time.Hour)
	}
	submittedAt := now.Add(-days(r.SubmittedDaysAgo))
	if r.Decision != nil && !submittedAt.Before(decidedAt) {
		submittedAt = decidedAt.Add(-time.Hour)
	}

	submitter := r.SubmittedBy
	if submitter == "" {
		submitter = r.CompanyName
	}
	req, err := m.Submit(r.input(kind, now), submitter, submittedAt)
	if err != nil {
		return governance.ApprovalRequest{}, fmt.Errorf("seed %s: %w", r.ID, err)
	}

	if o := r.Override; o != nil {
		at := submittedAt.Add(time.Minute)
		if req, err = m.OverrideLimit(req, o.Limit, o.Remarks, o.By, at); err != nil {
			return governance.ApprovalRequest{}, fmt.Errorf("seed %s override: %w", r.ID, err)
		}
	}

	d := r.Decision
	if d == nil {
		return req, nil
	}
	switch governance.Status(d.Status) {
	case governance.StatusApproved:
		req, err = m.Approve(req, d.By, decidedAt)
	case governance.StatusRejected:
		req, err = m.Reject(req, d.Remarks, d.By, decidedAt)
	default:
		err = fmt.Errorf("%w: unknown decision %q", governance.ErrInvalidInput, d.Status)
	}
	if err != nil {
		return governance.ApprovalRequest{}, fmt.Errorf("seed %s decision: %w", r.ID, err)
	}

	followUp := decidedAt.Add(min(30*time.Minute, now.Sub(decidedAt)))
	switch governance.TokenState(d.Token) {
	case "", governance.TokenActive:
	case governance.TokenConsumed:
		req, err = m.ConsumeToken(req, "system:depot", followUp)
	case governance.TokenRevoked:
		req, err = m.RevokeToken(req, d.Remarks, d.By, followUp)
	case governance.TokenExpired:
		req, err = m.ExpireToken(req, "system:seed", now)
	default:
		err = fmt.Errorf("%w: unknown token state %q", governance.ErrInvalidInput, d.Token)
	}
	if err != nil {
		return governance.ApprovalRequest{}, fmt.Errorf("seed %s token: %w", r.ID, err)
	}
	return req, nil
}

func (r Request) decisionDaysAgo() int {
	if r.Decision == nil {
		return 0
	}
	return r.Decision.DaysAgo
}

func (r Request) input(kind governance.Kind, now time.Time) governance.SubmitInput {
	in := governance.SubmitInput{
		ID:          r.ID,
		Kind:        kind,
		CompanyID:   r.CompanyID,
		CompanyName: r.CompanyName,
		Entitlement: governance.Entitlement{Current: r.Current, Limit: r.Limit},
	}
	if b := r.Bus; b != nil {
		validUntil := now.Add(days(b.LicenseDays)).Truncate(24 * time.Hour)
		in.Bus = &governance.BusDetails{
			BusNumber: b.Number,
			Layout:    b.Layout,
			Capacity:  b.Capacity,
			Route:     b.Route,
			RiskLevel: governance.RiskLevel(b.RiskLevel),
			RiskScore: b.RiskScore,
			License: governance.License{
				Number:        b.License,
				ValidUntil:    validUntil,
				Status:        licenseStatus(b),
				DaysRemaining: max(b.LicenseDays, 0),
			},
		}
	}
	if rt := r.Route; rt != nil {
		in.Route = &governance.RouteDetails{
			Origin:      rt.Origin,
			Destination: rt.Destination,
			DistanceKM:  rt.DistanceKM,
			Duration:    rt.Duration,
		}
	}
	return in
}

// licenseStatus derives the status from the remaining days unless the file
// pins it explicitly.
func licenseStatus(b *Bus) governance.LicenseStatus {
	if b.LicenseState != "" {
		return governance.LicenseStatus(b.LicenseState)
	}
	switch {
	case b.LicenseDays <= 0:
		return governance.LicenseExpired
	case b.LicenseDays <= 30:
		return governance.LicenseExpiring
	default:
		return governance.LicenseValid
	}
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
