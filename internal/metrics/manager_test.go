package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestTimingSnapshot(t *testing.T) {
	m := New()
	for i := 1; i <= 100; i++ {
		m.RecordDuration("stt", "transcribe", time.Duration(i)*time.Millisecond)
	}

	snap := m.GetSnapshot()["stt/transcribe"]
	if snap == nil || snap.Type != TypeTiming {
		t.Fatalf("missing timing snapshot: %+v", snap)
	}
	ts := snap.Data.(TimingSnapshot)
	if ts.Count != 100 {
		t.Errorf("count = %d", ts.Count)
	}
	if ts.MinMs != 1 || ts.MaxMs != 100 || ts.LastMs != 100 {
		t.Errorf("min/max/last = %v/%v/%v", ts.MinMs, ts.MaxMs, ts.LastMs)
	}
	if ts.AvgMs != 50.5 {
		t.Errorf("avg = %v", ts.AvgMs)
	}
	if ts.P95Ms != 95 {
		t.Errorf("p95 = %v", ts.P95Ms)
	}
}

func TestCountersGaugesSuccessFail(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("http", "requests")
		}()
	}
	wg.Wait()

	m.SetGauge("queue", "depth", 3)
	m.SetGauge("queue", "depth", 1)

	m.RecordSuccess("transcribe", "")
	m.RecordSuccess("transcribe", "")
	m.RecordFailure("transcribe", "", "busy")
	m.RecordFailure("transcribe", "", "")

	snap := m.GetSnapshot()

	if c := snap["http/requests"].Data.(CounterSnapshot); c.Value != 50 {
		t.Errorf("counter = %d", c.Value)
	}
	if g := snap["queue/depth"].Data.(GaugeSnapshot); g.Value != 1 || g.Max != 3 {
		t.Errorf("gauge = %+v", g)
	}
	sf := snap["transcribe"].Data.(SuccessFailSnapshot)
	if sf.Success != 2 || sf.Failures != 2 || sf.SuccessRate != 0.5 {
		t.Errorf("success/fail = %+v", sf)
	}
	if sf.FailureReasons["busy"] != 1 || len(sf.FailureReasons) != 1 {
		t.Errorf("reasons = %v", sf.FailureReasons)
	}
}

func TestTimeHelper(t *testing.T) {
	m := New()
	done := m.Time("x", "y")
	time.Sleep(time.Millisecond)
	done()
	ts := m.GetSnapshot()["x/y"].Data.(TimingSnapshot)
	if ts.Count != 1 || ts.LastMs <= 0 {
		t.Errorf("unexpected timing: %+v", ts)
	}
}
