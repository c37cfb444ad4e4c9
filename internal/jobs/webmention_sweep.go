package jobs

import (
	"context"
	"log"
	"time"
)

// DefaultWebmentionSweepInterval is how often the sweep looks for
// stuck outgoing webmentions.
const DefaultWebmentionSweepInterval = 5 * time.Minute

// DefaultWebmentionStaleAfter is how long an Outgoing Webmention may sit
// in "processing" before the sweeper considers its delivery attempt lost
// (e.g. to a process restart) and retries it.
const DefaultWebmentionStaleAfter = 10 * time.Minute

// StaleOutgoingWebmentionLister lists Outgoing Webmentions stuck in
// "processing" past a threshold.
type StaleOutgoingWebmentionLister interface {
	ListStale(ctx context.Context, olderThan time.Duration) ([]StaleWebmention, error)
}

// StaleWebmention is the minimal shape the sweeper needs to restart a
// delivery attempt.
type StaleWebmention struct {
	Source string
	Target string
}

// WebmentionResender restarts the send-side delivery state machine for a
// single (source, target) pair.
type WebmentionResender interface {
	Send(ctx context.Context, source string, targets []string)
}

// WebmentionSweepJob is the supplemental background task named in section
// 4.4.3: restart deliveries that were interrupted mid-flight by a process
// restart, using the same retry machinery as a fresh send.
type WebmentionSweepJob struct {
	lister   StaleOutgoingWebmentionLister
	resender WebmentionResender
	after    time.Duration
}

// NewWebmentionSweepJob creates a WebmentionSweepJob. after defaults to
// DefaultWebmentionStaleAfter when zero.
func NewWebmentionSweepJob(lister StaleOutgoingWebmentionLister, resender WebmentionResender, after time.Duration) *WebmentionSweepJob {
	if after <= 0 {
		after = DefaultWebmentionStaleAfter
	}
	return &WebmentionSweepJob{lister: lister, resender: resender, after: after}
}

// RunOnce resends every stale Outgoing Webmention once. Returns the count
// restarted.
func (j *WebmentionSweepJob) RunOnce(ctx context.Context) int {
	stale, err := j.lister.ListStale(ctx, j.after)
	if err != nil {
		log.Printf("Webmention sweep: list stale: %v", err)
		return 0
	}
	for _, wm := range stale {
		j.resender.Send(ctx, wm.Source, []string{wm.Target})
	}
	return len(stale)
}

// RunScheduled runs the sweep on a schedule, immediately and then every
// interval, until ctx is cancelled.
func (j *WebmentionSweepJob) RunScheduled(ctx context.Context, interval time.Duration) {
	if n := j.RunOnce(ctx); n > 0 {
		log.Printf("Webmention sweep: restarted %d deliveries", n)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Webmention sweep job stopped")
			return
		case <-ticker.C:
			if n := j.RunOnce(ctx); n > 0 {
				log.Printf("Webmention sweep: restarted %d deliveries", n)
			}
		}
	}
}
