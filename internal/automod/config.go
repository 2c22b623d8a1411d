// Package automod stores per-guild auto-moderation settings and scans
// messages against them.
package automod

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"guildpulse/internal/storage"
)

var (
	ErrUnknownFeature = errors.New("unknown auto-moderation feature")
	ErrDuplicateWord  = errors.New("word is already filtered")
	ErrWordNotFound   = errors.New("word is not in the filtered list")
	ErrEmptyWord      = errors.New("word must not be empty")
	ErrOutOfRange     = errors.New("value out of range")
)

// Feature names.
const (
	FeatureSpam     = "spam"
	FeatureCaps     = "caps"
	FeatureLinks    = "links"
	FeatureWords    = "words"
	FeatureMentions = "mentions"
)

var Features = []string{FeatureSpam, FeatureCaps, FeatureLinks, FeatureWords, FeatureMentions}

// FeatureLabel is the display name of a feature.
func FeatureLabel(feature string) string {
	switch feature {
	case FeatureSpam:
		return "Spam Detection"
	case FeatureCaps:
		return "Caps Detection"
	case FeatureLinks:
		return "Link Filtering"
	case FeatureWords:
		return "Word Filtering"
	case FeatureMentions:
		return "Mention Spam"
	default:
		return feature
	}
}

// Setting bounds and defaults.
const (
	DefaultSpamThreshold = 5
	DefaultCapsThreshold = 80
	DefaultLinkCooldown  = 60
	DefaultMentionLimit  = 5

	MinSpamThreshold = 3
	MaxSpamThreshold = 10
	MinCapsThreshold = 70
	MaxCapsThreshold = 100
	MinLinkCooldown  = 30
	MaxLinkCooldown  = 300
	MinMentionLimit  = 1
	MaxMentionLimit  = 50
)

type Enabled struct {
	Spam     bool `json:"spam"`
	Caps     bool `json:"caps"`
	Links    bool `json:"links"`
	Words    bool `json:"words"`
	Mentions bool `json:"mentions"`
}

func (e *Enabled) flag(feature string) *bool {
	switch feature {
	case FeatureSpam:
		return &e.Spam
	case FeatureCaps:
		return &e.Caps
	case FeatureLinks:
		return &e.Links
	case FeatureWords:
		return &e.Words
	case FeatureMentions:
		return &e.Mentions
	default:
		return nil
	}
}

// IsEnabled reports the flag for feature; unknown features are off.
func (e Enabled) IsEnabled(feature string) bool {
	if flag := e.flag(feature); flag != nil {
		return *flag
	}
	return false
}

type Settings struct {
	SpamThreshold int     `json:"spamThreshold"`
	CapsThreshold int     `json:"capsThreshold"`
	LinkCooldown  int     `json:"linkCooldown"`
	MentionLimit  int     `json:"mentionLimit"`
	LogChannel    *string `json:"logChannel"`
}

// Config is one guild's auto-moderation configuration.
type Config struct {
	Enabled       Enabled        `json:"enabled"`
	Settings      Settings       `json:"settings"`
	FilteredWords []string       `json:"filteredWords"`
	UserWarnings  map[string]any `json:"userWarnings"`
}

// DefaultConfig has every feature on and no filtered words.
func DefaultConfig() Config {
	return Config{
		Enabled: Enabled{Spam: true, Caps: true, Links: true, Words: true, Mentions: true},
		Settings: Settings{
			SpamThreshold: DefaultSpamThreshold,
			CapsThreshold: DefaultCapsThreshold,
			LinkCooldown:  DefaultLinkCooldown,
			MentionLimit:  DefaultMentionLimit,
		},
		FilteredWords: []string{},
		UserWarnings:  map[string]any{},
	}
}

func (c Config) clone() Config {
	out := c
	out.FilteredWords = slices.Clone(c.FilteredWords)
	if out.FilteredWords == nil {
		out.FilteredWords = []string{}
	}
	out.UserWarnings = make(map[string]any, len(c.UserWarnings))
	for key, value := range c.UserWarnings {
		out.UserWarnings[key] = value
	}
	if c.Settings.LogChannel != nil {
		channel := *c.Settings.LogChannel
		out.Settings.LogChannel = &channel
	}
	return out
}

// Configs is the root of the automod document, keyed by guild.
type Configs map[string]*Config

func (c *Configs) Normalize() {
	if *c == nil {
		*c = Configs{}
	}
	for guildID, cfg := range *c {
		if cfg == nil {
			defaults := DefaultConfig()
			(*c)[guildID] = &defaults
			continue
		}
		if cfg.FilteredWords == nil {
			cfg.FilteredWords = []string{}
		}
		if cfg.UserWarnings == nil {
			cfg.UserWarnings = map[string]any{}
		}
	}
}

// ThresholdUpdate carries a partial settings update. Nil fields are left
// untouched.
type ThresholdUpdate struct {
	LogChannel    *string
	SpamThreshold *int
	CapsThreshold *int
	LinkCooldown  *int
	MentionLimit  *int
}

func (u ThresholdUpdate) validate() error {
	checks := []struct {
		name      string
		value     *int
		low, high int
	}{
		{"spam threshold", u.SpamThreshold, MinSpamThreshold, MaxSpamThreshold},
		{"caps threshold", u.CapsThreshold, MinCapsThreshold, MaxCapsThreshold},
		{"link cooldown", u.LinkCooldown, MinLinkCooldown, MaxLinkCooldown},
		{"mention limit", u.MentionLimit, MinMentionLimit, MaxMentionLimit},
	}
	for _, check := range checks {
		if check.value == nil {
			continue
		}
		if *check.value < check.low || *check.value > check.high {
			return fmt.Errorf("%w: %s must be between %d and %d, got %d", ErrOutOfRange, check.name, check.low, check.high, *check.value)
		}
	}
	return nil
}

// Manager is the CRUD surface over the automod document.
type Manager struct {
	doc *storage.Document[Configs]
}

func NewManager(doc *storage.Document[Configs]) *Manager {
	return &Manager{doc: doc}
}

// Get returns the guild's configuration, or the defaults when none is stored.
func (m *Manager) Get(guildID string) Config {
	cfg := DefaultConfig()
	m.doc.View(func(configs *Configs) {
		if stored, ok := (*configs)[guildID]; ok && stored != nil {
			cfg = stored.clone()
		}
	})
	return cfg
}

// Lookup returns the stored configuration and whether the guild has one.
// Scanning only applies to guilds that ran setup.
func (m *Manager) Lookup(guildID string) (Config, bool) {
	var (
		cfg Config
		ok  bool
	)
	m.doc.View(func(configs *Configs) {
		var stored *Config
		if stored, ok = (*configs)[guildID]; ok && stored != nil {
			cfg = stored.clone()
		}
	})
	return cfg, ok
}

// EnsureGuildConfig stores the default configuration if the guild has none.
func (m *Manager) EnsureGuildConfig(ctx context.Context, guildID string) (Config, error) {
	exists := false
	m.doc.View(func(configs *Configs) {
		_, exists = (*configs)[guildID]
	})
	if exists {
		return m.Get(guildID), nil
	}
	var out Config
	err := m.update(ctx, guildID, func(cfg *Config) error {
		out = cfg.clone()
		return nil
	})
	return out, err
}

func (m *Manager) SetThresholds(ctx context.Context, guildID string, update ThresholdUpdate) (Config, error) {
	if err := update.validate(); err != nil {
		return Config{}, err
	}
	var out Config
	err := m.update(ctx, guildID, func(cfg *Config) error {
		if update.LogChannel != nil {
			channel := *update.LogChannel
			cfg.Settings.LogChannel = &channel
		}
		if update.SpamThreshold != nil {
			cfg.Settings.SpamThreshold = *update.SpamThreshold
		}
		if update.CapsThreshold != nil {
			cfg.Settings.CapsThreshold = *update.CapsThreshold
		}
		if update.LinkCooldown != nil {
			cfg.Settings.LinkCooldown = *update.LinkCooldown
		}
		if update.MentionLimit != nil {
			cfg.Settings.MentionLimit = *update.MentionLimit
		}
		out = cfg.clone()
		return nil
	})
	return out, err
}

// ToggleFeature flips the feature and returns its new state.
func (m *Manager) ToggleFeature(ctx context.Context, guildID, feature string) (bool, error) {
	var enabled bool
	err := m.update(ctx, guildID, func(cfg *Config) error {
		flag := cfg.Enabled.flag(feature)
		if flag == nil {
			return fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
		}
		*flag = !*flag
		enabled = *flag
		return nil
	})
	return enabled, err
}

func (m *Manager) AddFilteredWord(ctx context.Context, guildID, word string) error {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return ErrEmptyWord
	}
	return m.update(ctx, guildID, func(cfg *Config) error {
		if slices.Contains(cfg.FilteredWords, word) {
			return fmt.Errorf("%w: %q", ErrDuplicateWord, word)
		}
		cfg.FilteredWords = append(cfg.FilteredWords, word)
		return nil
	})
}

func (m *Manager) RemoveFilteredWord(ctx context.Context, guildID, word string) error {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return ErrEmptyWord
	}
	return m.update(ctx, guildID, func(cfg *Config) error {
		index := slices.Index(cfg.FilteredWords, word)
		if index < 0 {
			return fmt.Errorf("%w: %q", ErrWordNotFound, word)
		}
		cfg.FilteredWords = slices.Delete(cfg.FilteredWords, index, index+1)
		return nil
	})
}

// ListFilteredWords returns the guild's words in the order they were added.
func (m *Manager) ListFilteredWords(guildID string) []string {
	return m.Get(guildID).FilteredWords
}

// update runs fn on the guild's stored configuration, creating the default
// one first when needed.
func (m *Manager) update(ctx context.Context, guildID string, fn func(*Config) error) error {
	return m.doc.Update(ctx, func(configs *Configs) error {
		cfg, ok := (*configs)[guildID]
		if !ok || cfg == nil {
			defaults := DefaultConfig()
			cfg = &defaults
			(*configs)[guildID] = cfg
		}
		return fn(cfg)
	})
}
