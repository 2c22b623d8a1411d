package eventlog

import (
	"context"
	"fmt"

	"guildpulse/internal/metrics"

	"go.uber.org/zap"
)

// Deliverer sends a record to the route's channel.
type Deliverer interface {
	Deliver(ctx context.Context, guildID string, route Route, record Record) error
}

// Dispatcher is the outbound notification sink. Failures are logged and
// counted, never returned.
type Dispatcher struct {
	router    *Router
	deliverer Deliverer
	logger    *zap.Logger
}

func NewDispatcher(router *Router, deliverer Deliverer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{router: router, deliverer: deliverer, logger: logger}
}

// SetDeliverer replaces the deliverer, for wiring after the session exists.
func (d *Dispatcher) SetDeliverer(deliverer Deliverer) {
	d.deliverer = deliverer
}

// Notify delivers record when the guild routes its kind somewhere. It
// reports whether a delivery succeeded.
func (d *Dispatcher) Notify(ctx context.Context, guildID string, record Record) (delivered bool) {
	route, ok := d.router.Get(guildID)
	if !ok || !route.Accepts(record.Kind) || d.deliverer == nil {
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			delivered = false
			metrics.NotificationsTotal.WithLabelValues("error").Inc()
			d.logger.Error("event log delivery panicked", zap.String("guild_id", guildID), zap.String("kind", record.Kind), zap.Error(fmt.Errorf("panic: %v", r)))
		}
	}()

	if err := d.deliverer.Deliver(ctx, guildID, route, record); err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		d.logger.Warn("event log delivery failed", zap.String("guild_id", guildID), zap.String("kind", record.Kind), zap.String("channel_id", route.ChannelID), zap.Error(err))
		return false
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	d.logger.Info("event log", zap.String("guild_id", guildID), zap.String("kind", record.Kind), zap.String("channel_id", route.ChannelID))
	return true
}
