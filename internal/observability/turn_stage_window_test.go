package observability

import "testing"

func TestTurnStageWindowSnapshot(t *testing.T) {
	w := newTurnStageWindow(4)
	w.Observe("flush_to_reply", 100)
	w.Observe("flush_to_reply", 200)
	w.Observe("flush_to_reply", 300)

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(snap.Stages))
	}
	st := snap.Stages[0]
	if st.Stage != "flush_to_reply" {
		t.Fatalf("stage = %q", st.Stage)
	}
	if st.Samples != 3 {
		t.Fatalf("samples = %d, want 3", st.Samples)
	}
	if st.LastMS != 300 {
		t.Fatalf("last = %v, want 300", st.LastMS)
	}
	if st.AvgMS != 200 {
		t.Fatalf("avg = %v, want 200", st.AvgMS)
	}
	if st.P50MS != 200 {
		t.Fatalf("p50 = %v, want 200", st.P50MS)
	}
	if st.TargetP95MS != 2500 {
		t.Fatalf("target = %v, want 2500", st.TargetP95MS)
	}
}

func TestTurnStageWindowWraps(t *testing.T) {
	w := newTurnStageWindow(2)
	w.Observe("turn_total", 10)
	w.Observe("turn_total", 20)
	w.Observe("turn_total", 30)

	snap := w.Snapshot()
	if snap.Stages[0].Samples != 2 {
		t.Fatalf("samples = %d, want window size 2", snap.Stages[0].Samples)
	}
	if snap.Stages[0].LastMS != 30 {
		t.Fatalf("last = %v, want 30", snap.Stages[0].LastMS)
	}
}

func TestTurnStageWindowIndicators(t *testing.T) {
	w := newTurnStageWindow(8)
	w.ObserveIndicator("degraded_start")
	w.ObserveIndicator("degraded_start")
	w.ObserveIndicator("  ")

	snap := w.Snapshot()
	if len(snap.Indicators) != 1 {
		t.Fatalf("indicators = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "degraded_start" || snap.Indicators[0].Count != 2 {
		t.Fatalf("unexpected indicator: %+v", snap.Indicators[0])
	}
}
