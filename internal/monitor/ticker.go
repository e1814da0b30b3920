package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunTicker sweeps every interval until ctx is done. It returns
// immediately when interval is not positive.
func (s *Sweeper) RunTicker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.logger.Info(ctx, "proactive sweep ticker started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "proactive sweep ticker stopped")
			return
		case <-ticker.C:
			alerts, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Warn(ctx, "sweep completed with errors", zap.Error(err))
			}
			s.logger.Debug(ctx, "sweep complete", zap.Int("alerts", len(alerts)))
		}
	}
}
