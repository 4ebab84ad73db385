package browser

import "testing"

func TestBlockedType(t *testing.T) {
	block := map[string]bool{"images": true, "stylesheets": true, "ping": true}
	tests := map[string]bool{
		"Image":      true,
		"Stylesheet": true,
		"Font":       false,
		"Ping":       true,
		"Document":   false,
	}
	for typ, want := range tests {
		if got := blockedType(block, typ); got != want {
			t.Errorf("blockedType(%q) = %v, want %v", typ, got, want)
		}
	}
}

func TestEmbeddedScripts(t *testing.T) {
	// WHAT: The serializer and click scripts are embedded.
	// WHY: Snapshot and Click evaluate them verbatim in the page.
	if captureJS == "" || clickJS == "" {
		t.Fatal("embedded scripts are empty")
	}
}
