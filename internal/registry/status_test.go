package registry

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusScanning, true},
		{StatusPending, StatusOptimizing, false},
		{StatusPending, StatusOptimized, false},
		{StatusScanning, StatusOptimized, true},
		{StatusScanning, StatusUnoptimized, true},
		{StatusScanning, StatusError, true},
		{StatusScanning, StatusOptimizing, false},
		{StatusUnoptimized, StatusOptimizing, true},
		{StatusOptimizing, StatusOptimized, true},
		{StatusOptimizing, StatusError, true},
		{StatusOptimizing, StatusUnoptimized, false},
		{StatusError, StatusScanning, true},
		{StatusError, StatusOptimizing, true},
		{StatusOptimized, StatusScanning, true},
		{StatusOptimized, StatusOptimizing, true},
		{StatusUnoptimized, StatusScanning, true},
		{StatusOptimized, StatusUnoptimized, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus(" Unoptimized "); !ok || s != StatusUnoptimized {
		t.Fatalf("unexpected parse result %q %v", s, ok)
	}
	if _, ok := ParseStatus("done"); ok {
		t.Fatal("expected unknown status to fail")
	}
	if _, ok := ParseStatus(""); ok {
		t.Fatal("expected empty status to fail")
	}
}

func TestTransientStatuses(t *testing.T) {
	for _, status := range AllStatuses() {
		want := status == StatusScanning || status == StatusOptimizing
		if IsTransient(status) != want {
			t.Fatalf("IsTransient(%s) = %v", status, !want)
		}
	}
}

func TestEntryHelpers(t *testing.T) {
	var e Entry
	e.SetOptimizing()
	e.SetProgress(40)
	e.SetProgress(20)
	if e.Progress != 40 {
		t.Fatalf("progress must not regress, got %v", e.Progress)
	}
	e.SetProgress(150)
	if e.Progress != 100 {
		t.Fatalf("progress must clamp to 100, got %v", e.Progress)
	}
	e.SetFailed("disk full")
	e.SetProgress(50)
	if e.Progress != 0 {
		t.Fatalf("progress ignored outside optimizing, got %v", e.Progress)
	}
	e.SetMetadata(Metadata{SizeBytes: 10})
	if e.Size != 10 || e.Status != StatusError {
		t.Fatalf("metadata must not touch status: %+v", e)
	}
}
