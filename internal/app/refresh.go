package service

import (
	"context"
	"time"

	"github.com/okian/cfcache/pkg/logger"
)

// startLoops launches the background refresh loops. Each loop logs and
// continues on failure; transient remote errors never crash the process.
func (s *Service) startLoops(ctx context.Context) {
	s.wg.Add(3)

	go func() {
		defer s.wg.Done()
		s.contests.Run(ctx)
	}()

	go func() {
		defer s.wg.Done()
		s.problems.Run(ctx)
	}()

	go func() {
		defer s.wg.Done()
		s.repairLoop(ctx)
	}()
}

// repairLoop periodically fetches rating changes for finished rated contests
// that lack them, so histories stay complete without manual intervention.
func (s *Service) repairLoop(ctx context.Context) {
	ticker := time.NewTicker(s.repairInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.ratings.FetchMissingContests(ctx)
			if err != nil {
				s.logger.Error(ctx, "rating repair pass aborted", logger.Error(err))
				continue
			}
			if count > 0 {
				s.logger.Info(ctx, "rating repair pass completed", logger.Int("fetched", count))
			}
		}
	}
}
