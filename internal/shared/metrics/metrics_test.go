package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderIncludesCaptureCounters(t *testing.T) {
	before := capturesSubmittedTotal.Load()
	IncCapturesSubmitted()
	IncCaptureJobsDeletedUnrecoverable()

	out := Render()
	for _, name := range []string{
		"captures_submitted_total",
		"captures_completed_total",
		"capture_poll_ticks_total",
		"capture_jobs_deleted_unrecoverable_total",
		"capture_duration_ms_count",
	} {
		if !strings.Contains(out, "# TYPE "+strings.TrimSuffix(name, "_count")) {
			t.Fatalf("expected %s in output:\n%s", name, out)
		}
	}
	if capturesSubmittedTotal.Load() != before+1 {
		t.Fatalf("expected submitted counter to advance")
	}
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	snap := h.Snapshot()
	if snap.count != 3 || snap.sum != 555 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	var buf bytes.Buffer
	writeHistogram(&buf, "x", "test", snap)
	out := buf.String()
	for _, want := range []string{
		`x_bucket{le="10"} 1`,
		`x_bucket{le="100"} 2`,
		`x_bucket{le="+Inf"} 3`,
		"x_sum 555",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
}

func TestObserveClampsNegativeDuration(t *testing.T) {
	before := captureDuration.Snapshot()
	ObserveCaptureDurationMs(-20)
	after := captureDuration.Snapshot()
	if after.count != before.count+1 || after.sum != before.sum {
		t.Fatalf("expected a zero observation, got sum %v -> %v", before.sum, after.sum)
	}
}
