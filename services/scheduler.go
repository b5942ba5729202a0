// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartMaintenanceScheduler runs the minute-cadence jobs: expiring overdue
// raids and retrying pending settlements. The per-second session polling
// lives in the workers package; these jobs only touch durable state.
func StartMaintenanceScheduler(ctx context.Context, completion *CompletionDetector, claims *ClaimService) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			completion.ExpireOverdue(ctx)
		}),
	); err != nil {
		return nil, err
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(2*time.Minute),
		gocron.NewTask(func() {
			claims.RetryPendingSettlements(ctx)
		}),
	); err != nil {
		return nil, err
	}

	sched.Start()
	log.Println("✅ Maintenance scheduler running (expiry sweep 1m, settlement retry 2m)")
	return sched, nil
}
