package governance

import (
	"fmt"
	"math"
)

// CanApprove reports whether a request passes the governance gate: usage
// strictly below the cap and, for buses, a license that has not expired.
// It evaluates the request's own entitlement snapshot only.
func CanApprove(req ApprovalRequest) bool {
	return CheckApprovable(req) == nil
}

// CheckApprovable is CanApprove with the refusal reason attached.
func CheckApprovable(req ApprovalRequest) error {
	if req.Entitlement.Current >= req.Entitlement.Limit {
		return fmt.Errorf("%w: %w (%d/%d)", ErrPolicyViolation, ErrEntitlementExceeded,
			req.Entitlement.Current, req.Entitlement.Limit)
	}
	if req.Kind == KindBus && req.Bus != nil && req.Bus.License.Status == LicenseExpired {
		return fmt.Errorf("%w: %w (%s)", ErrPolicyViolation, ErrLicenseExpired, req.Bus.License.Number)
	}
	return nil
}

// Usage is the projected resource usage if a request were approved.
type Usage struct {
	Count      int `json:"count"`
	Percentage int `json:"percentage"`
}

// ProjectedUsage returns Current+1 and its rounded share of Limit. It is a
// display hint and carries no enforcement weight.
func ProjectedUsage(req ApprovalRequest) Usage {
	count := req.Entitlement.Current + 1
	if req.Entitlement.Limit <= 0 {
		return Usage{Count: count, Percentage: 100}
	}
	pct := math.Round(float64(count) / float64(req.Entitlement.Limit) * 100)
	return Usage{Count: count, Percentage: int(pct)}
}
