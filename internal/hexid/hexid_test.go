package hexid

import (
	"strings"
	"testing"
)

func TestNewShape(t *testing.T) {
	id := New()
	if len(id) != 8 {
		t.Fatalf("length = %d, want 8: %q", len(id), id)
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("not lowercase hex: %q", id)
		}
	}
}

func TestNewDoesNotRepeat(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id after %d draws: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}
