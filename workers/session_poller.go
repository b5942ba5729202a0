// workers/session_poller.go
package workers

import (
	"context"
	"log"
	"sync"
	"time"

	"listening-raid-system/services"
)

// SessionPoller drives the engine: on every tick it snapshots the registry
// and evaluates each active session on a bounded goroutine pool. The bound
// caps concurrent calls against the streaming APIs; evaluation of distinct
// sessions never serializes on each other.
type SessionPoller struct {
	Registry    *services.SessionRegistry
	Tracker     *services.Tracker
	Interval    time.Duration
	MaxInFlight int
}

func NewSessionPoller(registry *services.SessionRegistry, tracker *services.Tracker, interval time.Duration, maxInFlight int) *SessionPoller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	return &SessionPoller{
		Registry:    registry,
		Tracker:     tracker,
		Interval:    interval,
		MaxInFlight: maxInFlight,
	}
}

// Run blocks until ctx is cancelled.
func (p *SessionPoller) Run(ctx context.Context) {
	log.Printf("Starting session poller (every %s, max %d in flight)...", p.Interval, p.MaxInFlight)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Session poller stopped.")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick evaluates every session in the current snapshot and waits for the
// pass to finish. Each verifier call carries its own timeout, so one stuck
// platform cannot pin the pass open indefinitely.
func (p *SessionPoller) Tick(ctx context.Context) {
	sessions := p.Registry.ListActive()
	if len(sessions) == 0 {
		return
	}

	sem := make(chan struct{}, p.MaxInFlight)
	var wg sync.WaitGroup

	for _, session := range sessions {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(s *services.TrackingSession) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("❌ [Poller] panic evaluating session %s/%s: %v", s.ParticipantID, s.RaidID, r)
				}
			}()
			p.Tracker.Evaluate(ctx, s)
		}(session)
	}

	wg.Wait()
}
