package governance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL is how long an approval token stays valid after issuance.
const DefaultTokenTTL = 7 * 24 * time.Hour

type TokenState string

const (
	TokenActive   TokenState = "active"
	TokenConsumed TokenState = "consumed"
	TokenExpired  TokenState = "expired"
	TokenRevoked  TokenState = "revoked"
)

// ApprovalToken authorizes a downstream system to accept the resource an
// approval granted. It belongs to the request it was issued for.
type ApprovalToken struct {
	ID        string     `json:"id"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	State     TokenState `json:"state"`
}

// EffectiveState reports expired for an active token whose expiry has
// passed, without changing the token.
func (t ApprovalToken) EffectiveState(now time.Time) TokenState {
	if t.State == TokenActive && !now.Before(t.ExpiresAt) {
		return TokenExpired
	}
	return t.State
}

// TransitionToken moves an active token to consumed, revoked or expired.
// Expiry is only legal once ExpiresAt has passed; consumption is only legal
// before it. Every non-active state is terminal.
func TransitionToken(tok ApprovalToken, to TokenState, now time.Time) (ApprovalToken, error) {
	if tok.State != TokenActive {
		return tok, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tok.State, to)
	}
	switch to {
	case TokenConsumed:
		if !now.Before(tok.ExpiresAt) {
			return tok, fmt.Errorf("%w: token %s expired at %s", ErrInvalidTransition, tok.ID, tok.ExpiresAt.Format(time.RFC3339))
		}
	case TokenRevoked:
	case TokenExpired:
		if now.Before(tok.ExpiresAt) {
			return tok, fmt.Errorf("%w: token %s valid until %s", ErrInvalidTransition, tok.ID, tok.ExpiresAt.Format(time.RFC3339))
		}
	default:
		return tok, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tok.State, to)
	}
	tok.State = to
	return tok, nil
}

// TokenIssuer mints approval tokens.
type TokenIssuer struct {
	ttl   time.Duration
	newID func() (uuid.UUID, error)
}

// NewTokenIssuer returns an issuer; a non-positive ttl selects DefaultTokenTTL.
func NewTokenIssuer(ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{ttl: ttl, newID: uuid.NewV7}
}

// TTL returns the configured token lifetime.
func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Issue mints an active token valid from now for the issuer's TTL. Ids are
// time-ordered UUIDv7 values, unique for the life of the process.
func (i *TokenIssuer) Issue(now time.Time) (ApprovalToken, error) {
	id, err := i.newID()
	if err != nil {
		return ApprovalToken{}, fmt.Errorf("governance.Issue: %w", err)
	}
	now = now.UTC()
	return ApprovalToken{
		ID:        "AT-" + id.String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
		State:     TokenActive,
	}, nil
}
