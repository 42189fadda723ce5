package generator

import (
	"strings"
	"testing"
	"time"
)

func TestReceiptNumber(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	n := ReceiptNumber(now)
	if !strings.HasPrefix(n, "EDU-2025-") {
		t.Errorf("receipt number %q missing prefix", n)
	}
	if len(n) != len("EDU-2025-")+10 {
		t.Errorf("receipt number %q has unexpected code length", n)
	}

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		v := ReceiptNumber(now)
		if seen[v] {
			t.Fatalf("duplicate receipt number %q", v)
		}
		seen[v] = true
	}
}
