package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StatsSource provides the current counts for gauge metrics. Nil functions
// are skipped.
type StatsSource struct {
	GuildCount       func() int
	StatChannelCount func() int
	LogRouteCount    func() int
}

// StartCollector updates the gauges every interval until ctx is cancelled.
func StartCollector(ctx context.Context, src StatsSource, interval time.Duration, logger *zap.Logger) {
	collect(src)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect(src)
			}
		}
	}()

	logger.Info("metrics collector started", zap.Duration("interval", interval))
}

func collect(src StatsSource) {
	if src.GuildCount != nil {
		GuildsTracked.Set(float64(src.GuildCount()))
	}
	if src.StatChannelCount != nil {
		StatChannelGuilds.Set(float64(src.StatChannelCount()))
	}
	if src.LogRouteCount != nil {
		LogRoutes.Set(float64(src.LogRouteCount()))
	}
}
