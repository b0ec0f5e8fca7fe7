package ban

import (
	"context"
	"log"
	"time"
)

// DefaultSweepInterval is how often the expiry sweep runs.
const DefaultSweepInterval = 60 * time.Second

// Notifier delivers the "you are unbanned" notice to a user. Failures
// are isolated per user: one unreachable user never aborts the sweep
// for the others.
type Notifier func(userID int64) error

// Sweep removes every expired block and notifies the affected users.
// It is idempotent: a second run finds nothing to expire and sends no
// duplicate notifications. Returns the number of users unblocked.
func (s *Store) Sweep(notify Notifier) int {
	expired := s.collectExpired()
	for _, r := range expired {
		if notify == nil {
			continue
		}
		if err := notify(r.UserID); err != nil {
			log.Printf("[ban] sweep: notify user %d: %v", r.UserID, err)
		}
	}
	if len(expired) > 0 {
		log.Printf("[ban] sweep: unblocked %d users", len(expired))
	}
	return len(expired)
}

// StartSweep runs the expiry sweep on a fixed interval until the
// context is cancelled.
func (s *Store) StartSweep(ctx context.Context, interval time.Duration, notify Notifier) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ban] sweep loop stopped")
			return
		case <-ticker.C:
			s.Sweep(notify)
		}
	}
}
