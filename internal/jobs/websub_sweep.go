package jobs

import (
	"context"
	"log"
	"time"
)

// DefaultLeaseSweepInterval is how often the WebSub lease sweeper runs.
const DefaultLeaseSweepInterval = 1 * time.Hour

// ExpiredSubscriptionDeleter deletes WebSub subscriptions whose lease has
// passed.
type ExpiredSubscriptionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// LeaseSweepJob is the supplemental background task named in section 4.5:
// "deletes subscriptions whose expires_at has passed ... keeps
// ListActiveSubscriptions bounded".
type LeaseSweepJob struct {
	subs ExpiredSubscriptionDeleter
}

// NewLeaseSweepJob creates a LeaseSweepJob.
func NewLeaseSweepJob(subs ExpiredSubscriptionDeleter) *LeaseSweepJob {
	return &LeaseSweepJob{subs: subs}
}

// RunOnce deletes every expired subscription once. Returns the count deleted.
func (j *LeaseSweepJob) RunOnce(ctx context.Context) int64 {
	deleted, err := j.subs.DeleteExpired(ctx)
	if err != nil {
		log.Printf("Lease sweep: delete expired subscriptions: %v", err)
		return 0
	}
	return deleted
}

// RunScheduled runs the sweep on a schedule, immediately and then every
// interval, until ctx is cancelled.
func (j *LeaseSweepJob) RunScheduled(ctx context.Context, interval time.Duration) {
	if n := j.RunOnce(ctx); n > 0 {
		log.Printf("Lease sweep: deleted %d expired subscriptions", n)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Lease sweep job stopped")
			return
		case <-ticker.C:
			if n := j.RunOnce(ctx); n > 0 {
				log.Printf("Lease sweep: deleted %d expired subscriptions", n)
			}
		}
	}
}
