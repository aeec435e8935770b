package auth

import "testing"

func TestNewKeyStore(t *testing.T) {
	ks := NewKeyStore("Admin (SA-001):sk-abc,metro-ops:sk-def")

	tests := []struct {
		key       string
		principal string
		ok        bool
	}{
		{"sk-abc", "Admin (SA-001)", true},
		{"sk-def", "metro-ops", true},
		{"sk-unknown", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		principal, ok := ks.Lookup(tt.key)
		if ok != tt.ok {
			t.Errorf("Lookup(%q) ok=%v, want %v", tt.key, ok, tt.ok)
		}
		if principal != tt.principal {
			t.Errorf("Lookup(%q) principal=%q, want %q", tt.key, principal, tt.principal)
		}
	}
	if ks.Len() != 2 {
		t.Errorf("Len = %d, want 2", ks.Len())
	}
}

func TestNewKeyStore_Empty(t *testing.T) {
	ks := NewKeyStore("")
	if _, ok := ks.Lookup("anything"); ok {
		t.Error("empty store should not match")
	}
}

func TestNewKeyStore_Whitespace(t *testing.T) {
	ks := NewKeyStore(" admin : sk-abc , ops : sk-def ")
	if principal, ok := ks.Lookup("sk-abc"); !ok || principal != "admin" {
		t.Error("should handle whitespace in key pairs")
	}
}

func TestNewKeyStore_SkipsMalformedPairs(t *testing.T) {
	ks := NewKeyStore("no-colon,:sk-orphan,admin:,ops:sk-ok")
	if ks.Len() != 1 {
		t.Errorf("Len = %d, want 1", ks.Len())
	}
	if _, ok := ks.Lookup("sk-orphan"); ok {
		t.Error("key without principal should be ignored")
	}
}
