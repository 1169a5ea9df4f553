package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"breva-backend/internal/analyses"
	"breva-backend/internal/statusreader"
)

func main() {
	api := flag.String("api", "http://localhost:8080", "API base URL")
	token := flag.String("token", os.Getenv("BREVA_TOKEN"), "bearer JWT")
	measurement := flag.String("measurement", "", "measurement id")
	sideRaw := flag.String("side", "", "left or right")
	interval := flag.Duration("interval", statusreader.DefaultPendingInterval, "re-check interval while pending")
	flag.Parse()

	side, err := analyses.ParseSide(*sideRaw)
	if err != nil || *measurement == "" {
		fmt.Fprintln(os.Stderr, "usage: statuswatch -api URL -token JWT -measurement ID -side left|right")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	final := make(chan statusreader.Snapshot, 1)
	reader := statusreader.New(statusreader.NewHTTPFetcher(*api, *token),
		statusreader.WithIntervals(*interval, 0),
		statusreader.OnChange(func(s statusreader.Snapshot) {
			fmt.Println(describe(s))
			if s.State.Final() {
				select {
				case final <- s:
				default:
				}
			}
		}),
	)
	defer reader.Close()
	reader.SetKey(statusreader.Key{MeasurementID: *measurement, Side: side})

	select {
	case s := <-final:
		if s.State == statusreader.StateError || s.State == statusreader.StateFailed {
			os.Exit(1)
		}
	case <-ctx.Done():
		os.Exit(130)
	}
}

func describe(s statusreader.Snapshot) string {
	ts := time.Now().Format(time.TimeOnly)
	switch s.State {
	case statusreader.StateValue:
		return fmt.Sprintf("%s %s volume=%.1f ml", ts, s.State, *s.Volume)
	case statusreader.StatePending:
		return fmt.Sprintf("%s %s status=%s", ts, s.State, s.Status)
	case statusreader.StateError:
		return fmt.Sprintf("%s %s %s", ts, s.State, s.Message)
	}
	return fmt.Sprintf("%s %s", ts, s.State)
}
