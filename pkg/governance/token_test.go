package governance

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssue(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	tok, err := NewTokenIssuer(0).Issue(now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(tok.ID, "AT-") {
		t.Errorf("token id %q missing prefix", tok.ID)
	}
	if !tok.IssuedAt.Equal(now) {
		t.Errorf("issued_at = %s, want %s", tok.IssuedAt, now)
	}
	if want := now.Add(7 * 24 * time.Hour); !tok.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %s, want %s", tok.ExpiresAt, want)
	}
	if tok.State != TokenActive {
		t.Errorf("state = %s, want active", tok.State)
	}
}

func TestIssue_CustomTTL(t *testing.T) {
	now := time.Now()
	tok, err := NewTokenIssuer(time.Hour).Issue(now)
	if err != nil {
		t.Fatal(err)
	}
	if got := tok.ExpiresAt.Sub(tok.IssuedAt); got != time.Hour {
		t.Errorf("ttl = %s, want 1h", got)
	}
}

func TestIssue_UniqueIDs(t *testing.T) {
	issuer := NewTokenIssuer(0)
	seen := make(map[string]struct{}, 10_000)
	now := time.Now()
	for i := 0; i < 10_000; i++ {
		tok, err := issuer.Issue(now)
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[tok.ID]; dup {
			t.Fatalf("duplicate token id %s after %d issues", tok.ID, i)
		}
		seen[tok.ID] = struct{}{}
	}
}

func TestTransitionToken(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	active := ApprovalToken{ID: "AT-1", IssuedAt: issued, ExpiresAt: issued.Add(DefaultTokenTTL), State: TokenActive}
	before := issued.Add(time.Hour)
	after := issued.Add(DefaultTokenTTL + time.Minute)

	tests := []struct {
		name    string
		from    TokenState
		to      TokenState
		now     time.Time
		wantErr bool
	}{
		{"consume before expiry", TokenActive, TokenConsumed, before, false},
		{"consume after expiry", TokenActive, TokenConsumed, after, true},
		{"revoke before expiry", TokenActive, TokenRevoked, before, false},
		{"revoke after expiry", TokenActive, TokenRevoked, after, false},
		{"expire after expiry", TokenActive, TokenExpired, after, false},
		{"expire at exact expiry", TokenActive, TokenExpired, active.ExpiresAt, false},
		{"expire too early", TokenActive, TokenExpired, before, true},
		{"back to active", TokenActive, TokenActive, before, true},
		{"consumed is terminal", TokenConsumed, TokenRevoked, before, true},
		{"revoked is terminal", TokenRevoked, TokenConsumed, before, true},
		{"expired is terminal", TokenExpired, TokenRevoked, after, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := active
			tok.State = tt.from
			got, err := TransitionToken(tok, tt.to, tt.now)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				if got.State != tt.from {
					t.Errorf("state changed on failure: %s", got.State)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.State != tt.to {
				t.Errorf("state = %s, want %s", got.State, tt.to)
			}
		})
	}
}

func TestEffectiveState(t *testing.T) {
	issued := time.Now()
	tok := ApprovalToken{IssuedAt: issued, ExpiresAt: issued.Add(time.Hour), State: TokenActive}
	if got := tok.EffectiveState(issued.Add(time.Minute)); got != TokenActive {
		t.Errorf("before expiry = %s, want active", got)
	}
	if got := tok.EffectiveState(issued.Add(2 * time.Hour)); got != TokenExpired {
		t.Errorf("after expiry = %s, want expired", got)
	}
	tok.State = TokenConsumed
	if got := tok.EffectiveState(issued.Add(2 * time.Hour)); got != TokenConsumed {
		t.Errorf("consumed token = %s, want consumed", got)
	}
}
