package governance

import "errors"

// Error taxonomy. Callers classify with errors.Is; transitions wrap the
// category together with the specific cause, e.g.
// fmt.Errorf("%w: %w", ErrPolicyViolation, ErrLicenseExpired).
var (
	// ErrPolicyViolation means a governance check (entitlement, license,
	// lifecycle) refused an approval.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrInvalidInput means the caller supplied unusable input and must re-prompt.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound means no request with the given id exists.
	ErrNotFound = errors.New("approval request not found")

	// ErrConflict means a request with the same id already exists.
	ErrConflict = errors.New("approval request already exists")

	ErrNotPending          = errors.New("request is not pending")
	ErrEntitlementExceeded = errors.New("entitlement cap reached")
	ErrLicenseExpired      = errors.New("operator license expired")
	ErrInvalidTransition   = errors.New("invalid token state transition")
	ErrNoToken             = errors.New("request has no approval token")
	ErrUnknownKind         = errors.New("unknown request kind")

	// ErrMutationAborted means an update function panicked; the store kept
	// its prior state.
	ErrMutationAborted = errors.New("mutation aborted")
)
