//go:build !debug

package remap

import "testing"

// Under the debug tag the hop cap panics instead.
func TestResolve_CycleTerminates(t *testing.T) {
	tbl := New(map[string]string{"p": "q", "q": "p"})
	got := tbl.Resolve("p")
	if got != "p" && got != "q" {
		t.Fatalf("Resolve on cycle = %q", got)
	}
}
