package capacity

import "testing"

func TestCombine_BottleneckScenario(t *testing.T) {
	// S7: cpu=200, ram=40, net=300, io=100. hard_cap = min(40, 300) = 40,
	// clamped axes stay within bounds, so the harmonic mean must not
	// exceed 40.
	got := combine(200, 40, 300, 100)
	if got > 40 {
		t.Fatalf("combine() = %d, want <= 40", got)
	}
	if got < 10 {
		t.Fatalf("combine() = %d, want >= 10 (floor)", got)
	}
}

func TestCombine_FloorAppliesWhenAxesAreTiny(t *testing.T) {
	got := combine(1, 1, 1, 1)
	if got != 10 {
		t.Fatalf("combine() = %d, want floor of 10", got)
	}
}

func TestCombine_RAMAndNetBoundTheHardCap(t *testing.T) {
	// A huge CPU axis must not push the result above min(ram, net).
	got := combine(100000, 20, 25, 20)
	if got > 20 {
		t.Fatalf("combine() = %d, want <= hard cap of 20", got)
	}
}

func TestCombine_IOAndNetClampingDoesNotPanic(t *testing.T) {
	// io/net far larger than ram*3 / ram*2 must be clamped, not divide by
	// a raw huge number that would make the harmonic mean misleadingly high.
	got := combine(50, 10, 100000, 100000)
	if got < 10 {
		t.Fatalf("combine() = %d, want >= 10", got)
	}
}
