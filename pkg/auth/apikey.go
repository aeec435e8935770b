package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// KeyStore resolves an API key to the principal name that the approvals
// service writes into audit events as performed_by. Only SHA-256 digests
// of the keys are held.
type KeyStore struct {
	mu         sync.RWMutex
	principals map[string]string // hex SHA-256 of key -> principal
}

// NewKeyStore parses API_KEYS, a comma separated list of "principal:key"
// pairs. The principal may contain spaces and parentheses, e.g.
// "Admin (SA-001):sk-abc,metro-ops:sk-def". Pairs missing either half are
// skipped.
func NewKeyStore(raw string) *KeyStore {
	ks := &KeyStore{principals: make(map[string]string)}
	for _, pair := range strings.Split(raw, ",") {
		principal, key, ok := strings.Cut(strings.TrimSpace(pair), ":")
		principal, key = strings.TrimSpace(principal), strings.TrimSpace(key)
		if !ok || principal == "" || key == "" {
			continue
		}
		ks.principals[digest(key)] = principal
	}
	return ks
}

// Lookup returns the principal bound to apiKey.
func (ks *KeyStore) Lookup(apiKey string) (principal string, ok bool) {
	if apiKey == "" {
		return "", false
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	principal, ok = ks.principals[digest(apiKey)]
	return
}

// Len reports how many keys are configured.
func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.principals)
}

func digest(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
