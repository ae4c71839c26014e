package util

import "testing"

func TestNewShareTokenLength(t *testing.T) {
	token := NewShareToken()
	if len(token) != ShareTokenLength {
		t.Fatalf("expected token length %d, got %d", ShareTokenLength, len(token))
	}
}

func TestNewShareTokenAlphabet(t *testing.T) {
	token := NewShareToken()
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			t.Fatalf("unexpected character %q in token %s", r, token)
		}
	}
}

func TestNewShareTokenUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		token := NewShareToken()
		if _, dup := seen[token]; dup {
			t.Fatalf("duplicate token generated: %s", token)
		}
		seen[token] = struct{}{}
	}
}

func TestNewIDPrefix(t *testing.T) {
	id := NewID("proj")
	if len(id) != len("proj")+1+32 {
		t.Fatalf("unexpected id length: %s", id)
	}
	if id[:5] != "proj_" {
		t.Fatalf("expected proj_ prefix, got %s", id)
	}
}
