// internal/utils/id_test.go
package utils

import (
	"strings"
	"testing"
)

func TestMintIDFormat(t *testing.T) {
	id := MintID("scene")
	if !strings.HasPrefix(id, "scene_") {
		t.Fatalf("id %q missing prefix", id)
	}
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		t.Fatalf("id %q has %d parts, want 3", id, len(parts))
	}
	if len(parts[2]) != 8 {
		t.Errorf("random suffix %q not 8 hex chars", parts[2])
	}
}

func TestMintIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := MintID("node")
		if seen[id] {
			t.Fatalf("duplicate id after %d mints: %s", i, id)
		}
		seen[id] = true
	}
}
