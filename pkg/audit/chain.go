package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChainHash computes the next hash in a request's audit chain.
//
//	hash = SHA-256( prevHash || canonicalEvent )
func ChainHash(prevHash string, canonEvent []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonEvent)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify walks a history and checks every hash link from the first event.
func Verify(history []Event) error {
	return VerifyFrom("", history)
}

// VerifyFrom checks a history segment whose first event links to prevHash.
func VerifyFrom(prevHash string, history []Event) error {
	prev := prevHash
	for i, ev := range history {
		if ev.PrevHash != prev {
			return fmt.Errorf("audit chain broken at index %d (event %s): prev_hash %q, want %q",
				i, ev.ID, ev.PrevHash, prev)
		}
		canon, err := CanonicalJSON(ev.body())
		if err != nil {
			return fmt.Errorf("audit chain index %d: %w", i, err)
		}
		expected := ChainHash(prev, canon)
		if ev.Hash != expected {
			return fmt.Errorf("audit chain broken at index %d (event %s): expected %s, got %s",
				i, ev.ID, expected, ev.Hash)
		}
		prev = ev.Hash
	}
	return nil
}
