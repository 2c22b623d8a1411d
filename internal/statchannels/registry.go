// Package statchannels mirrors guild member statistics into the names of
// three voice channels.
package statchannels

import (
	"context"
	"errors"
	"sort"
	"time"

	"guildpulse/internal/storage"
)

var (
	ErrNotConfigured     = errors.New("statistic channels are not set up for this guild")
	ErrAlreadyConfigured = errors.New("statistic channels are already set up for this guild")
)

// Channels maps each statistic to its channel id.
type Channels struct {
	TotalMembers  string `json:"total_members"`
	OnlineMembers string `json:"online_members"`
	Bots          string `json:"bots"`
}

// IDs returns the channel ids in members, online, bots order.
func (c Channels) IDs() []string {
	return []string{c.TotalMembers, c.OnlineMembers, c.Bots}
}

type Registration struct {
	Enabled    bool      `json:"enabled"`
	Channels   Channels  `json:"channels"`
	CategoryID *string   `json:"category_id"`
	SetupBy    string    `json:"setup_by"`
	SetupAt    time.Time `json:"setup_at"`
	LastUpdate time.Time `json:"last_update"`
}

// Registrations is the root of the analyticsvc document, keyed by guild.
type Registrations map[string]*Registration

func (r *Registrations) Normalize() {
	if *r == nil {
		*r = Registrations{}
	}
	for guildID, reg := range *r {
		if reg == nil {
			delete(*r, guildID)
		}
	}
}

type Entry struct {
	GuildID string
	Registration
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Registry struct {
	doc   *storage.Document[Registrations]
	clock Clock
}

func NewRegistry(doc *storage.Document[Registrations]) *Registry {
	return &Registry{doc: doc, clock: realClock{}}
}

func (r *Registry) WithClock(clock Clock) {
	r.clock = clock
}

func (r *Registry) now() time.Time {
	return r.clock.Now().UTC().Truncate(time.Millisecond)
}

// Register stores an enabled registration for the guild.
func (r *Registry) Register(ctx context.Context, guildID string, reg Registration) (Registration, error) {
	now := r.now()
	reg.Enabled = true
	reg.SetupAt = now
	reg.LastUpdate = now
	err := r.doc.Update(ctx, func(regs *Registrations) error {
		if _, ok := (*regs)[guildID]; ok {
			return ErrAlreadyConfigured
		}
		stored := reg
		(*regs)[guildID] = &stored
		return nil
	})
	return reg, err
}

// Remove deletes the guild's registration and returns it.
func (r *Registry) Remove(ctx context.Context, guildID string) (Registration, error) {
	var removed Registration
	err := r.doc.Update(ctx, func(regs *Registrations) error {
		reg, ok := (*regs)[guildID]
		if !ok {
			return ErrNotConfigured
		}
		removed = *reg
		delete(*regs, guildID)
		return nil
	})
	return removed, err
}

func (r *Registry) Get(guildID string) (Registration, bool) {
	var (
		reg Registration
		ok  bool
	)
	r.doc.View(func(regs *Registrations) {
		var stored *Registration
		if stored, ok = (*regs)[guildID]; ok {
			reg = *stored
		}
	})
	return reg, ok
}

// List returns every registration ordered by guild id.
func (r *Registry) List() []Entry {
	var entries []Entry
	r.doc.View(func(regs *Registrations) {
		for guildID, reg := range *regs {
			entries = append(entries, Entry{GuildID: guildID, Registration: *reg})
		}
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].GuildID < entries[j].GuildID
	})
	return entries
}

// Touch sets last_update to now. Missing guilds are ignored.
func (r *Registry) Touch(ctx context.Context, guildID string) error {
	now := r.now()
	exists := false
	r.doc.View(func(regs *Registrations) {
		_, exists = (*regs)[guildID]
	})
	if !exists {
		return nil
	}
	return r.doc.Update(ctx, func(regs *Registrations) error {
		if reg, ok := (*regs)[guildID]; ok {
			reg.LastUpdate = now
		}
		return nil
	})
}

// EnabledCount returns how many guilds have enabled statistic channels.
func (r *Registry) EnabledCount() int {
	n := 0
	r.doc.View(func(regs *Registrations) {
		for _, reg := range *regs {
			if reg.Enabled {
				n++
			}
		}
	})
	return n
}
