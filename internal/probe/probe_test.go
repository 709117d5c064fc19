package probe

import "testing"

// Scan/WarnIfConflicting read the real /proc on whatever machine runs the
// test; there is no fake filesystem seam in package probe, so the only
// thing exercised here is that neither panics and Scan's result only ever
// contains names drawn from knownPainters.
func TestScanNeverPanicsAndOnlyReturnsKnownPainters(t *testing.T) {
	found := Scan()
	for _, name := range found {
		ok := false
		for _, painter := range knownPainters {
			if name == painter {
				ok = true
			}
		}
		if !ok {
			t.Fatalf("Scan reported unexpected process name %q", name)
		}
	}
}
