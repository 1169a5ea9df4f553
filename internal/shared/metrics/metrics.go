package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	capturesSubmittedTotal atomic.Uint64
	capturesCompletedTotal atomic.Uint64
	capturesFailedTotal    atomic.Uint64
	captureDispatchErrors  atomic.Uint64
	capturePollTicksTotal  atomic.Uint64
	capturePollErrorsTotal atomic.Uint64
	capturesResumedTotal   atomic.Uint64

	captureJobsReceived             atomic.Uint64
	captureJobsCompleted            atomic.Uint64
	captureJobsFailed               atomic.Uint64
	captureJobsDeletedUnrecoverable atomic.Uint64

	captureDuration = newHistogram([]float64{5000, 10000, 30000, 60000, 120000, 180000, 240000, 300000})
)

// IncCapturesSubmitted increments the submitted counter.
func IncCapturesSubmitted() {
	capturesSubmittedTotal.Add(1)
}

// IncCapturesCompleted increments the completed counter.
func IncCapturesCompleted() {
	capturesCompletedTotal.Add(1)
}

// IncCapturesFailed increments the terminal failure counter.
func IncCapturesFailed() {
	capturesFailedTotal.Add(1)
}

// IncCaptureDispatchErrors counts enqueue calls rejected by the estimator.
func IncCaptureDispatchErrors() {
	captureDispatchErrors.Add(1)
}

// IncCapturePollTicks counts status poll ticks.
func IncCapturePollTicks() {
	capturePollTicksTotal.Add(1)
}

// IncCapturePollErrors counts transient poll tick failures.
func IncCapturePollErrors() {
	capturePollErrorsTotal.Add(1)
}

// IncCapturesResumed counts pollers restarted by the sweeper.
func IncCapturesResumed() {
	capturesResumedTotal.Add(1)
}

func IncCaptureJobsReceived()             { captureJobsReceived.Add(1) }
func IncCaptureJobsCompleted()            { captureJobsCompleted.Add(1) }
func IncCaptureJobsFailed()               { captureJobsFailed.Add(1) }
func IncCaptureJobsDeletedUnrecoverable() { captureJobsDeletedUnrecoverable.Add(1) }

// ObserveCaptureDurationMs records submit-to-terminal time in milliseconds.
func ObserveCaptureDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	captureDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "captures_submitted_total", "Total captures accepted by the estimator", capturesSubmittedTotal.Load())
	writeCounter(&buf, "captures_completed_total", "Total captures completed with a volume", capturesCompletedTotal.Load())
	writeCounter(&buf, "captures_failed_total", "Total captures that ended failed", capturesFailedTotal.Load())
	writeCounter(&buf, "capture_dispatch_errors_total", "Total enqueue calls rejected upstream", captureDispatchErrors.Load())
	writeCounter(&buf, "capture_poll_ticks_total", "Total status poll ticks", capturePollTicksTotal.Load())
	writeCounter(&buf, "capture_poll_errors_total", "Total status poll ticks that errored", capturePollErrorsTotal.Load())
	writeCounter(&buf, "captures_resumed_total", "Total pollers resumed by the sweeper", capturesResumedTotal.Load())
	writeCounter(&buf, "capture_jobs_received_total", "Total poll jobs received by the worker", captureJobsReceived.Load())
	writeCounter(&buf, "capture_jobs_completed_total", "Total poll jobs finished by the worker", captureJobsCompleted.Load())
	writeCounter(&buf, "capture_jobs_failed_total", "Total poll jobs the worker failed to run", captureJobsFailed.Load())
	writeCounter(&buf, "capture_jobs_deleted_unrecoverable_total", "Total malformed poll jobs dropped", captureJobsDeletedUnrecoverable.Load())
	writeHistogram(&buf, "capture_duration_ms", "Capture submit-to-terminal duration in milliseconds", captureDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
