// Package mock is a stand-in estimation service that returns random volumes.
package mock

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"breva-backend/internal/estimator"
	"breva-backend/internal/shared/server/respond"
	"breva-backend/internal/shared/telemetry"
)

const (
	DefaultMinVolume = 150.0
	DefaultMaxVolume = 650.0
)

// Options controls how jobs resolve.
type Options struct {
	// Delay is how long a job reports PENDING.
	Delay time.Duration
	// FailureRate is the probability in [0,1] that a job ends FAILED.
	FailureRate float64
	MinVolume   float64
	MaxVolume   float64
	Seed        int64
	Now         func() time.Time
}

type job struct {
	createdAt time.Time
	failed    bool
	volume    float64
}

// Server keeps jobs in memory.
type Server struct {
	mu     sync.Mutex
	opts   Options
	rnd    *rand.Rand
	nextID int64
	jobs   map[int64]job
}

func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MinVolume == 0 && opts.MaxVolume == 0 {
		opts.MinVolume, opts.MaxVolume = DefaultMinVolume, DefaultMaxVolume
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Server{
		opts: opts,
		rnd:  rand.New(rand.NewSource(opts.Seed)),
		jobs: make(map[int64]job),
	}
}

// Routes mounts the estimator contract on r.
func (s *Server) Routes(r gin.IRouter) {
	r.POST("/enqueue", s.enqueue)
	r.GET("/status/:requestId", s.status)
	r.GET("/health", func(c *gin.Context) {
		respond.OK(c, gin.H{"ok": true})
	})
}

func (s *Server) enqueue(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid capture payload", nil)
		return
	}
	id := s.create()
	telemetry.Info("mock_estimator.enqueued", map[string]any{
		"estimation_request_id": id,
		"side":                  body["side"],
	})
	respond.OK(c, gin.H{"requestId": id})
}

func (s *Server) status(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("requestId"), 10, 64)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "requestId must be an integer", nil)
		return
	}
	st, ok := s.Lookup(id)
	if !ok {
		respond.Error(c, http.StatusNotFound, "not_found", "unknown requestId", nil)
		return
	}
	respond.OK(c, st)
}

func (s *Server) create() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	j := job{createdAt: s.opts.Now()}
	if s.opts.FailureRate > 0 && s.rnd.Float64() < s.opts.FailureRate {
		j.failed = true
	} else {
		span := s.opts.MaxVolume - s.opts.MinVolume
		j.volume = math.Round((s.opts.MinVolume+s.rnd.Float64()*span)*10) / 10
	}
	s.jobs[s.nextID] = j
	return s.nextID
}

// Lookup reports the job's status as the estimator contract describes it.
func (s *Server) Lookup(id int64) (estimator.StatusResponse, bool) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return estimator.StatusResponse{}, false
	}
	out := estimator.StatusResponse{RequestID: id, Status: estimator.StatusPending}
	if s.opts.Now().Sub(j.createdAt) < s.opts.Delay {
		return out, true
	}
	if j.failed {
		out.Status = estimator.StatusFailed
		return out, true
	}
	v := j.volume
	out.Status = estimator.StatusCompleted
	out.EstimatedVolume = &v
	return out, true
}
