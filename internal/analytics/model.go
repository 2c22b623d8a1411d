package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Store is the root of the analytics document.
type Store struct {
	GlobalStats GlobalStats                                     `json:"global_stats"`
	Servers     *orderedmap.OrderedMap[string, *GuildAnalytics] `json:"servers"`
}

// GlobalStats aggregates counters across every guild.
type GlobalStats struct {
	TotalMessages    int `json:"total_messages"`
	TotalCommands    int `json:"total_commands"`
	TotalModerations int `json:"total_moderations"`
}

// GuildAnalytics holds the counters and records of one guild.
type GuildAnalytics struct {
	TotalMessages    int `json:"total_messages"`
	TotalCommands    int `json:"total_commands"`
	TotalModerations int `json:"total_moderations"`
	MemberJoins      int `json:"member_joins"`
	MemberLeaves     int `json:"member_leaves"`
	MessageEdits     int `json:"message_edits"`
	MessageDeletes   int `json:"message_deletes"`
	RoleChanges      int `json:"role_changes"`

	Users          *orderedmap.OrderedMap[string, *UserRecord]    `json:"users"`
	Channels       *orderedmap.OrderedMap[string, *ChannelRecord] `json:"channels"`
	DailyStats     *orderedmap.OrderedMap[string, *DailyRecord]   `json:"daily_stats"`
	ModerationLogs []ModerationLogEntry                           `json:"moderation_logs"`
}

type UserRecord struct {
	Username     string     `json:"username"`
	Tag          string     `json:"tag"`
	JoinedAt     time.Time  `json:"joined_at"`
	MessageCount int        `json:"message_count"`
	CommandCount int        `json:"command_count"`
	LastMessage  *time.Time `json:"last_message"`
	FirstMessage *time.Time `json:"first_message"`
	Left         bool       `json:"left,omitempty"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
}

type ChannelRecord struct {
	Name         string     `json:"name"`
	MessageCount int        `json:"message_count"`
	LastMessage  *time.Time `json:"last_message"`
}

type DailyRecord struct {
	Messages    int `json:"messages"`
	Commands    int `json:"commands"`
	Moderations int `json:"moderations"`
	Joins       int `json:"joins"`
	Leaves      int `json:"leaves"`
}

// ModerationLogEntry is one logged moderation action. Extra fields are
// flattened into the entry object when encoded and never share a key with
// the fixed fields.
type ModerationLogEntry struct {
	ID          string
	Timestamp   time.Time
	ModeratorID string
	TargetID    string
	Action      string
	Reason      string
	Extra       map[string]any
}

var entryKeys = map[string]bool{
	"id":           true,
	"timestamp":    true,
	"moderator_id": true,
	"target_id":    true,
	"action":       true,
	"reason":       true,
}

func (e ModerationLogEntry) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return err
		}
		encodedValue, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		buf.Write(encodedValue)
		return nil
	}

	fixed := []struct {
		key   string
		value any
	}{
		{"id", e.ID},
		{"timestamp", e.Timestamp},
		{"moderator_id", e.ModeratorID},
		{"target_id", e.TargetID},
		{"action", e.Action},
		{"reason", e.Reason},
	}
	for _, field := range fixed {
		if err := write(field.key, field.value); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(e.Extra))
	for key := range e.Extra {
		if entryKeys[key] {
			return nil, fmt.Errorf("moderation log entry %s: extra key %q shadows a fixed field", e.ID, key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := write(key, e.Extra[key]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (e *ModerationLogEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = ModerationLogEntry{}
	fields := map[string]any{
		"id":           &e.ID,
		"timestamp":    &e.Timestamp,
		"moderator_id": &e.ModeratorID,
		"target_id":    &e.TargetID,
		"action":       &e.Action,
		"reason":       &e.Reason,
	}
	for key, value := range raw {
		if target, ok := fields[key]; ok {
			if err := json.Unmarshal(value, target); err != nil {
				return err
			}
			continue
		}
		var extra any
		if err := json.Unmarshal(value, &extra); err != nil {
			return err
		}
		if e.Extra == nil {
			e.Extra = map[string]any{}
		}
		e.Extra[key] = extra
	}
	return nil
}

// Normalize fills collections and records left nil by decoding.
func (s *Store) Normalize() {
	if s.Servers == nil {
		s.Servers = orderedmap.New[string, *GuildAnalytics]()
	}
	for pair := s.Servers.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			s.Servers.Set(pair.Key, newGuildAnalytics())
			continue
		}
		pair.Value.normalize()
	}
}

func newGuildAnalytics() *GuildAnalytics {
	guild := &GuildAnalytics{}
	guild.normalize()
	return guild
}

func (g *GuildAnalytics) normalize() {
	if g.Users == nil {
		g.Users = orderedmap.New[string, *UserRecord]()
	}
	if g.Channels == nil {
		g.Channels = orderedmap.New[string, *ChannelRecord]()
	}
	if g.DailyStats == nil {
		g.DailyStats = orderedmap.New[string, *DailyRecord]()
	}
	if g.ModerationLogs == nil {
		g.ModerationLogs = []ModerationLogEntry{}
	}
	for pair := g.Users.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			pair.Value = &UserRecord{}
		}
	}
	for pair := g.Channels.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			pair.Value = &ChannelRecord{}
		}
	}
	for pair := g.DailyStats.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			pair.Value = &DailyRecord{}
		}
	}
}

// Clone returns a deep copy safe to read after the document lock is released.
func (g *GuildAnalytics) Clone() *GuildAnalytics {
	out := *g
	out.Users = orderedmap.New[string, *UserRecord]()
	for pair := g.Users.Oldest(); pair != nil; pair = pair.Next() {
		record := *pair.Value
		record.LastMessage = cloneTime(record.LastMessage)
		record.FirstMessage = cloneTime(record.FirstMessage)
		record.LeftAt = cloneTime(record.LeftAt)
		out.Users.Set(pair.Key, &record)
	}
	out.Channels = orderedmap.New[string, *ChannelRecord]()
	for pair := g.Channels.Oldest(); pair != nil; pair = pair.Next() {
		record := *pair.Value
		record.LastMessage = cloneTime(record.LastMessage)
		out.Channels.Set(pair.Key, &record)
	}
	out.DailyStats = orderedmap.New[string, *DailyRecord]()
	for pair := g.DailyStats.Oldest(); pair != nil; pair = pair.Next() {
		record := *pair.Value
		out.DailyStats.Set(pair.Key, &record)
	}
	out.ModerationLogs = make([]ModerationLogEntry, len(g.ModerationLogs))
	for i, entry := range g.ModerationLogs {
		entry.Extra = maps.Clone(entry.Extra)
		out.ModerationLogs[i] = entry
	}
	return &out
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
