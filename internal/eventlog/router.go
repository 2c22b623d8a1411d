// Package eventlog routes moderation, member, message and role events to
// the log channel a guild configured.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guildpulse/internal/storage"
)

var (
	ErrNotConfigured = errors.New("logging is not configured for this guild")
	ErrUnknownType   = errors.New("unknown log type")
)

// Record kinds, also accepted as route types.
const (
	KindModeration = "moderation"
	KindMembers    = "members"
	KindMessages   = "messages"
	KindRoles      = "roles"

	TypeAll = "all"
)

var routeTypes = map[string]bool{
	TypeAll: true, KindModeration: true, KindMembers: true, KindMessages: true, KindRoles: true,
}

// Record is one structured log event. Rendering is left to the deliverer.
type Record struct {
	Kind   string
	Fields map[string]any
}

// Route is a guild's log channel configuration.
type Route struct {
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	Types       string    `json:"types"`
	Enabled     bool      `json:"enabled"`
	SetupBy     string    `json:"setup_by"`
	SetupAt     time.Time `json:"setup_at"`
}

// Accepts reports whether a record of kind should go to this route.
func (r Route) Accepts(kind string) bool {
	if !r.Enabled {
		return false
	}
	return r.Types == TypeAll || r.Types == kind
}

// Config is the root of the logging document.
type Config struct {
	Servers map[string]Route `json:"servers"`
}

func (c *Config) Normalize() {
	if c.Servers == nil {
		c.Servers = map[string]Route{}
	}
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Router struct {
	doc   *storage.Document[Config]
	clock Clock
}

func NewRouter(doc *storage.Document[Config]) *Router {
	return &Router{doc: doc, clock: realClock{}}
}

func (r *Router) WithClock(clock Clock) {
	r.clock = clock
}

// Setup enables logging for the guild, replacing any previous route. An
// empty type means all.
func (r *Router) Setup(ctx context.Context, guildID string, route Route) (Route, error) {
	if route.Types == "" {
		route.Types = TypeAll
	}
	if !routeTypes[route.Types] {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownType, route.Types)
	}
	route.Enabled = true
	route.SetupAt = r.clock.Now().UTC().Truncate(time.Millisecond)
	err := r.doc.Update(ctx, func(cfg *Config) error {
		cfg.Servers[guildID] = route
		return nil
	})
	return route, err
}

// Disable removes the guild's route.
func (r *Router) Disable(ctx context.Context, guildID string) error {
	return r.doc.Update(ctx, func(cfg *Config) error {
		if _, ok := cfg.Servers[guildID]; !ok {
			return ErrNotConfigured
		}
		delete(cfg.Servers, guildID)
		return nil
	})
}

func (r *Router) Get(guildID string) (Route, bool) {
	var (
		route Route
		ok    bool
	)
	r.doc.View(func(cfg *Config) {
		route, ok = cfg.Servers[guildID]
	})
	return route, ok
}

// Count returns how many guilds have a route.
func (r *Router) Count() int {
	var n int
	r.doc.View(func(cfg *Config) {
		n = len(cfg.Servers)
	})
	return n
}
