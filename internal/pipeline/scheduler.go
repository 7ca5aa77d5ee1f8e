package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/TobiSchelling/scoopfeed/internal/database"
)

// Scheduler runs the pipeline whenever the collector setting says it is due.
type Scheduler struct {
	Pipeline *Pipeline
	DB       *database.DB
	Setting  string
	Tick     time.Duration
}

// Start checks the setting every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	tick := s.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	log.Printf("Scheduler started, checking %s every %s", s.Setting, tick)
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			log.Println("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs the pipeline if the setting is active and its interval has
// elapsed. It reports whether a run happened.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	ok, err := s.DB.ClaimRun(s.Setting, true)
	if err != nil {
		log.Printf("Scheduler: checking %s: %v", s.Setting, err)
		return false
	}
	if !ok {
		return false
	}
	if _, err := s.Pipeline.Run(ctx, Options{}); err != nil {
		log.Printf("Scheduled run failed: %v", err)
	}
	return true
}
