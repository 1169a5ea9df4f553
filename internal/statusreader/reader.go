// Package statusreader follows one (measurement, side) pair until its volume is known.
package statusreader

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"breva-backend/internal/analyses"
)

// State is the read model state.
type State string

const (
	StateLoading State = "loading"
	StatePending State = "pending"
	StateValue   State = "value"
	StateFailed  State = "failed"
	StateEmpty   State = "empty"
	StateError   State = "error"
)

// Final reports whether the reader stops polling in this state.
func (s State) Final() bool {
	return s == StateValue || s == StateFailed || s == StateEmpty || s == StateError
}

const (
	DefaultPendingInterval = 3 * time.Second
	DefaultCompletedDelay  = time.Second
)

// ErrNoCapture is returned by a Fetcher when no capture exists for the pair.
var ErrNoCapture = errors.New("no capture for measurement side")

// Key identifies what the reader follows.
type Key struct {
	MeasurementID string
	Side          analyses.Side
}

// Snapshot is the reader's current view.
type Snapshot struct {
	Key     Key
	State   State
	Volume  *float64
	Status  string
	Message string
}

// Fetcher reads the server state the reader needs.
type Fetcher interface {
	// Volume returns the AI volume for the side, nil when none is stored yet.
	Volume(ctx context.Context, measurementID string, side analyses.Side) (*float64, error)
	// CaptureStatus returns the latest capture status; ErrNoCapture when there is none.
	CaptureStatus(ctx context.Context, measurementID string, side analyses.Side) (string, error)
}

// Timer is the handle of a scheduled re-check.
type Timer interface {
	Stop() bool
}

// Option configures a Reader.
type Option func(*Reader)

// WithIntervals overrides the pending re-check interval and the post-COMPLETED delay.
func WithIntervals(pending, completed time.Duration) Option {
	return func(r *Reader) {
		if pending > 0 {
			r.pendingInterval = pending
		}
		if completed > 0 {
			r.completedDelay = completed
		}
	}
}

// WithAfterFunc replaces time.AfterFunc for scheduling re-checks.
func WithAfterFunc(fn func(d time.Duration, f func()) Timer) Option {
	return func(r *Reader) { r.afterFunc = fn }
}

// WithGo replaces the goroutine launcher used for the first check after SetKey.
func WithGo(fn func(f func())) Option {
	return func(r *Reader) { r.spawn = fn }
}

// OnChange registers a callback invoked with every new snapshot, outside the reader's lock.
func OnChange(fn func(Snapshot)) Option {
	return func(r *Reader) { r.onChange = fn }
}

// Reader is restartable: SetKey discards the previous loop and its timers.
type Reader struct {
	fetcher         Fetcher
	pendingInterval time.Duration
	completedDelay  time.Duration
	afterFunc       func(d time.Duration, f func()) Timer
	spawn           func(f func())
	onChange        func(Snapshot)

	mu           sync.Mutex
	gen          uint64
	snap         Snapshot
	timer        Timer
	cancel       context.CancelFunc
	sawCompleted bool
	closed       bool
}

// New constructs an idle Reader.
func New(fetcher Fetcher, opts ...Option) *Reader {
	r := &Reader{
		fetcher:         fetcher,
		pendingInterval: DefaultPendingInterval,
		completedDelay:  DefaultCompletedDelay,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		spawn: func(f func()) { go f() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetKey resets the reader to loading for key and starts a new read loop.
func (r *Reader) SetKey(key Key) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.stopLocked()
	r.gen++
	gen := r.gen
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.sawCompleted = false
	r.snap = Snapshot{Key: key, State: StateLoading}
	snap := r.snap
	r.mu.Unlock()

	r.emit(snap)
	r.spawn(func() { r.check(ctx, gen, key) })
}

// Snapshot returns the current view.
func (r *Reader) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Close cancels in-flight fetches and pending re-checks. No callback fires afterwards.
func (r *Reader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.gen++
	r.stopLocked()
}

func (r *Reader) stopLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Reader) check(ctx context.Context, gen uint64, key Key) {
	volume, err := r.fetcher.Volume(ctx, key.MeasurementID, key.Side)
	if err != nil {
		r.resolve(gen, Snapshot{Key: key, State: StateError, Message: err.Error()}, 0)
		return
	}
	if volume != nil && !math.IsNaN(*volume) && !math.IsInf(*volume, 0) {
		v := *volume
		r.resolve(gen, Snapshot{Key: key, State: StateValue, Volume: &v}, 0)
		return
	}

	status, err := r.fetcher.CaptureStatus(ctx, key.MeasurementID, key.Side)
	switch {
	case errors.Is(err, ErrNoCapture):
		r.resolve(gen, Snapshot{Key: key, State: StateEmpty}, 0)
	case err != nil:
		r.resolve(gen, Snapshot{Key: key, State: StateError, Message: err.Error()}, 0)
	case status == "FAILED":
		r.resolve(gen, Snapshot{Key: key, State: StateFailed, Status: status}, 0)
	case status == "COMPLETED":
		// The volume read may trail the status read; look again shortly.
		r.resolveCompleted(gen, key, status)
	default:
		r.resolve(gen, Snapshot{Key: key, State: StatePending, Status: status}, r.pendingInterval)
	}
}

func (r *Reader) resolveCompleted(gen uint64, key Key, status string) {
	r.mu.Lock()
	delay := r.completedDelay
	if gen == r.gen {
		if r.sawCompleted {
			delay = r.pendingInterval
		}
		r.sawCompleted = true
	}
	r.mu.Unlock()
	r.resolve(gen, Snapshot{Key: key, State: StatePending, Status: status}, delay)
}

// resolve applies snap if gen is still current and schedules another check when recheck > 0.
func (r *Reader) resolve(gen uint64, snap Snapshot, recheck time.Duration) {
	r.mu.Lock()
	if gen != r.gen || r.closed {
		r.mu.Unlock()
		return
	}
	r.snap = snap
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.timer = nil
	if recheck > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		key := snap.Key
		r.timer = r.afterFunc(recheck, func() { r.check(ctx, gen, key) })
	}
	r.mu.Unlock()
	r.emit(snap)
}

func (r *Reader) emit(snap Snapshot) {
	if r.onChange != nil {
		r.onChange(snap)
	}
}
