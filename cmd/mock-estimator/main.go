package main

import (
	"flag"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"breva-backend/internal/estimator/mock"
	"breva-backend/internal/shared/server"
	"breva-backend/internal/shared/server/middleware"
)

func main() {
	port := flag.String("port", "8090", "listen port")
	delay := flag.Duration("delay", 10*time.Second, "how long each job stays PENDING")
	failureRate := flag.Float64("failure-rate", 0, "probability in [0,1] that a job ends FAILED")
	minVolume := flag.Float64("min-volume", mock.DefaultMinVolume, "smallest generated volume in ml")
	maxVolume := flag.Float64("max-volume", mock.DefaultMaxVolume, "largest generated volume in ml")
	seed := flag.Int64("seed", 0, "random seed, 0 for time based")
	flag.Parse()

	if *failureRate < 0 || *failureRate > 1 {
		log.Fatalf("failure-rate must lie in [0,1]")
	}
	if *minVolume >= *maxVolume {
		log.Fatalf("min-volume must be below max-volume")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(), middleware.Recovery())
	mock.New(mock.Options{
		Delay:       *delay,
		FailureRate: *failureRate,
		MinVolume:   *minVolume,
		MaxVolume:   *maxVolume,
		Seed:        *seed,
	}).Routes(r)

	addr := server.Addr(*port)
	log.Printf("mock estimator listening on %s delay=%s failure_rate=%.2f", addr, *delay, *failureRate)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
