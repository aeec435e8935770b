package approvals

import "strings"

// AnyCompany keys allowlist entries that apply to every company.
const AnyCompany = "*"

// ApproverAuthorizer restricts who may decide requests for a company.
type ApproverAuthorizer struct {
	byCompany map[string]map[string]struct{}
}

// NewApproverAuthorizer parses "company:principal|principal,..." entries.
// Example: "CMP-1:admin|metro-lead,*:superadmin"
func NewApproverAuthorizer(allowlist string) *ApproverAuthorizer {
	return &ApproverAuthorizer{byCompany: parseCompanyList(allowlist)}
}

// Allow reports whether principal may decide requests of companyID. A
// company with no entries falls back to the "*" entries; with neither,
// every authenticated principal is allowed.
func (a *ApproverAuthorizer) Allow(companyID, principal string) bool {
	principal = strings.ToLower(strings.TrimSpace(principal))
	if principal == "" {
		return false
	}
	allowed, ok := a.byCompany[companyID]
	if !ok || len(allowed) == 0 {
		allowed, ok = a.byCompany[AnyCompany]
		if !ok || len(allowed) == 0 {
			return true
		}
	}
	if _, ok := allowed[principal]; ok {
		return true
	}
	_, ok = a.byCompany[AnyCompany][principal]
	return ok
}

func parseCompanyList(raw string) map[string]map[string]struct{} {
	out := map[string]map[string]struct{}{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		companyID, values, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		companyID = strings.TrimSpace(companyID)
		if companyID == "" {
			continue
		}
		if _, ok := out[companyID]; !ok {
			out[companyID] = map[string]struct{}{}
		}
		for _, v := range strings.Split(values, "|") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			out[companyID][strings.ToLower(v)] = struct{}{}
		}
	}
	return out
}
