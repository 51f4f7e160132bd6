package main

import (
	"time"

	"github.com/feedpulse/feedpulse/internal/scheduler"
)

// startMetricsCollector keeps the scheduler job gauges fresh even when the
// status endpoint is never queried.
func startMetricsCollector(sched *scheduler.Scheduler) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		sched.GetStatus()
	}
}
