// Package metrics exposes Prometheus counters and gauges for the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event metrics
var (
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildpulse_events_total",
		Help: "Total number of platform events processed",
	}, []string{"kind"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildpulse_commands_total",
		Help: "Total number of slash commands invoked",
	}, []string{"command"})

	AutomodHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildpulse_automod_hits_total",
		Help: "Total number of messages removed by an auto-moderation rule",
	}, []string{"rule"})
)

// Storage metrics
var (
	DocumentWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildpulse_document_writes_total",
		Help: "Total number of document writes by outcome (ok, error, conflict)",
	}, []string{"document", "result"})
)

// Delivery metrics
var (
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildpulse_notifications_total",
		Help: "Total number of event-log notifications by outcome",
	}, []string{"result"})

	StatChannelRenamesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildpulse_stat_channel_renames_total",
		Help: "Total number of statistic channel renames by outcome",
	}, []string{"result"})
)

// Gauges set by the collector
var (
	GuildsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guildpulse_guilds_tracked",
		Help: "Number of guilds with analytics data",
	})

	StatChannelGuilds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guildpulse_stat_channel_guilds",
		Help: "Number of guilds with statistic channels enabled",
	})

	LogRoutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guildpulse_log_routes",
		Help: "Number of guilds with an event-log channel",
	})
)

// ObserveDocumentWrite matches storage.WriteObserver.
func ObserveDocumentWrite(document, result string) {
	DocumentWritesTotal.WithLabelValues(document, result).Inc()
}
