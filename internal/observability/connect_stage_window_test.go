package observability

import "testing"

func TestConnectStageWindowSnapshot(t *testing.T) {
	w := newConnectStageWindow(8)
	w.Observe(StageConnectTotal, 800)
	w.Observe(StageConnectTotal, 1200)
	w.Observe(StageConnectTotal, 1600)
	w.ObserveIndicator("grace_remount")
	w.ObserveIndicator("grace_remount")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageConnectTotal {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageConnectTotal)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 1600 {
		t.Fatalf("LastMS = %.2f, want 1600", s.LastMS)
	}
	if s.P50MS != 1200 {
		t.Fatalf("P50MS = %.2f, want 1200", s.P50MS)
	}
	if s.P95MS != 1600 {
		t.Fatalf("P95MS = %.2f, want nearest-rank 1600", s.P95MS)
	}
	if s.MinMS != 800 || s.MaxMS != 1600 {
		t.Fatalf("MinMS/MaxMS = %.2f/%.2f, want 800/1600", s.MinMS, s.MaxMS)
	}
	if s.TargetP95MS != 2000 {
		t.Fatalf("TargetP95MS = %.2f, want 2000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "grace_remount" {
		t.Fatalf("Indicators[0].Name = %q, want %q", snap.Indicators[0].Name, "grace_remount")
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want %d", snap.Indicators[0].Count, 2)
	}
}

func TestConnectStageWindowWraps(t *testing.T) {
	w := newConnectStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe(StageTokenExchange, float64(100+i*10))
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Samples != 4 {
		t.Fatalf("Samples = %d, want 4 after wrap", s.Samples)
	}
	if s.LastMS != 190 {
		t.Fatalf("LastMS = %.2f, want 190", s.LastMS)
	}
	// Only the most recent window of observations survives the wrap.
	if s.MinMS != 160 || s.MaxMS != 190 {
		t.Fatalf("MinMS/MaxMS = %.2f/%.2f, want 160/190", s.MinMS, s.MaxMS)
	}
}

func TestConnectStageWindowIgnoresInvalid(t *testing.T) {
	w := newConnectStageWindow(4)
	w.Observe("", 100)
	w.Observe(StagePermission, -1)
	if snap := w.Snapshot(); len(snap.Stages) != 0 {
		t.Fatalf("len(Stages) = %d, want 0", len(snap.Stages))
	}
}
