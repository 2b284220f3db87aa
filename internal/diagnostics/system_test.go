package diagnostics

import "testing"

func TestCollect(t *testing.T) {
	r := Collect(0)

	if r.OS == "" || r.Arch == "" {
		t.Fatalf("missing runtime identity: %+v", r)
	}
	if r.CPUThreads < r.CPUCores {
		t.Fatalf("threads %d below cores %d", r.CPUThreads, r.CPUCores)
	}
	if r.MemTotalMB <= 0 {
		t.Fatalf("expected positive memory total, got %f", r.MemTotalMB)
	}
	if r.MemUsedMB > r.MemTotalMB {
		t.Fatalf("used memory %f exceeds total %f", r.MemUsedMB, r.MemTotalMB)
	}
	if r.DiskPercent < 0 || r.DiskPercent > 100 {
		t.Fatalf("disk percent out of range: %f", r.DiskPercent)
	}
}
