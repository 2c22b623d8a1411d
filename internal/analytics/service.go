// Package analytics records per-guild activity counters, daily rollups and
// the moderation log, and answers reporting queries over them.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"guildpulse/internal/eventlog"
	"guildpulse/internal/storage"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
)

var ErrUnknownAction = errors.New("unknown moderation action")

// ErrReservedExtraKey is returned when a moderation extra would shadow a
// field of the log entry or its notification.
var ErrReservedExtraKey = errors.New("reserved moderation extra key")

const (
	ActionBan     = "ban"
	ActionKick    = "kick"
	ActionTimeout = "timeout"
	ActionWarn    = "warn"
	ActionUnban   = "unban"
	ActionClear   = "clear"
	ActionAutomod = "automod"
)

var actions = map[string]bool{
	ActionBan:     true,
	ActionKick:    true,
	ActionTimeout: true,
	ActionWarn:    true,
	ActionUnban:   true,
	ActionClear:   true,
	ActionAutomod: true,
}

// ValidAction reports whether action belongs to the moderation vocabulary.
func ValidAction(action string) bool {
	return actions[action]
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Notifier receives a record after the mutation that produced it was applied.
type Notifier func(ctx context.Context, guildID string, record eventlog.Record)

type MessageEvent struct {
	GuildID     string
	UserID      string
	ChannelID   string
	Username    string
	Tag         string
	ChannelName string
	JoinedAt    time.Time
}

// Profile is the member snapshot stored on join.
type Profile struct {
	Username string
	Tag      string
	JoinedAt time.Time
}

type ModerationEvent struct {
	GuildID      string
	ModeratorID  string
	ModeratorTag string
	TargetID     string
	TargetTag    string
	Action       string
	Reason       string
	Extra        map[string]any
}

type Service struct {
	doc    *storage.Document[Store]
	logger *zap.Logger
	clock  Clock
	notify Notifier
}

func New(doc *storage.Document[Store], logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{doc: doc, logger: logger, clock: realClock{}}
}

func (s *Service) WithClock(clock Clock) {
	s.clock = clock
}

func (s *Service) SetNotifier(notify Notifier) {
	s.notify = notify
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

func dayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// RecordMessage counts one message and creates the author and channel
// records on first sight.
func (s *Service) RecordMessage(ctx context.Context, event MessageEvent) error {
	now := s.now()
	return s.doc.Update(ctx, func(store *Store) error {
		guild := ensureGuild(store, event.GuildID)
		user := ensureUser(guild, event.UserID, func() *UserRecord {
			joinedAt := event.JoinedAt
			if joinedAt.IsZero() {
				joinedAt = now
			}
			first := now
			return &UserRecord{
				Username:     event.Username,
				Tag:          event.Tag,
				JoinedAt:     joinedAt.UTC(),
				FirstMessage: &first,
			}
		})
		channel := ensureChannel(guild, event.ChannelID, event.ChannelName)

		store.GlobalStats.TotalMessages++
		guild.TotalMessages++
		user.MessageCount++
		last := now
		user.LastMessage = &last
		channel.MessageCount++
		channelLast := now
		channel.LastMessage = &channelLast
		ensureDay(guild, dayKey(now)).Messages++
		return nil
	})
}

func (s *Service) RecordMessageEdit(ctx context.Context, guildID string) error {
	return s.doc.Update(ctx, func(store *Store) error {
		ensureGuild(store, guildID).MessageEdits++
		return nil
	})
}

func (s *Service) RecordMessageDelete(ctx context.Context, guildID string) error {
	return s.doc.Update(ctx, func(store *Store) error {
		ensureGuild(store, guildID).MessageDeletes++
		return nil
	})
}

// RecordCommand counts a command invocation. The user's command count only
// moves when the user already has a record.
func (s *Service) RecordCommand(ctx context.Context, guildID, userID, commandName string) error {
	now := s.now()
	err := s.doc.Update(ctx, func(store *Store) error {
		guild := ensureGuild(store, guildID)
		store.GlobalStats.TotalCommands++
		guild.TotalCommands++
		if user, ok := guild.Users.Get(userID); ok {
			user.CommandCount++
		}
		ensureDay(guild, dayKey(now)).Commands++
		return nil
	})
	if err == nil {
		s.logger.Debug("command recorded", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("command", commandName))
	}
	return err
}

// RecordModeration appends a moderation log entry and notifies the event log
// once the entry is stored.
func (s *Service) RecordModeration(ctx context.Context, event ModerationEvent) (ModerationLogEntry, error) {
	if !ValidAction(event.Action) {
		return ModerationLogEntry{}, fmt.Errorf("%w: %q", ErrUnknownAction, event.Action)
	}
	for key := range event.Extra {
		if entryKeys[key] || key == "target_tag" || key == "moderator_tag" {
			return ModerationLogEntry{}, fmt.Errorf("%w: %q", ErrReservedExtraKey, key)
		}
	}
	now := s.now()
	var entry ModerationLogEntry
	err := s.doc.Update(ctx, func(store *Store) error {
		guild := ensureGuild(store, event.GuildID)
		entry = ModerationLogEntry{
			ID:          nextEntryID(guild, now),
			Timestamp:   now,
			ModeratorID: event.ModeratorID,
			TargetID:    event.TargetID,
			Action:      event.Action,
			Reason:      event.Reason,
			Extra:       maps.Clone(event.Extra),
		}
		guild.ModerationLogs = append(guild.ModerationLogs, entry)
		store.GlobalStats.TotalModerations++
		guild.TotalModerations++
		ensureDay(guild, dayKey(now)).Moderations++
		return nil
	})
	if err != nil {
		return ModerationLogEntry{}, err
	}

	targetTag := event.TargetTag
	if targetTag == "" {
		targetTag = "Unknown User"
	}
	moderatorTag := event.ModeratorTag
	if moderatorTag == "" {
		moderatorTag = "Unknown Moderator"
	}
	fields := map[string]any{}
	for key, value := range event.Extra {
		fields[key] = value
	}
	fields["action"] = event.Action
	fields["target_tag"] = targetTag
	fields["target_id"] = event.TargetID
	fields["moderator_tag"] = moderatorTag
	fields["reason"] = event.Reason
	s.emit(ctx, event.GuildID, eventlog.Record{Kind: eventlog.KindModeration, Fields: fields})
	return entry, nil
}

// RecordMemberJoin counts a join and replaces any earlier record of the
// member, including the left flag and accumulated counts.
func (s *Service) RecordMemberJoin(ctx context.Context, guildID, userID string, profile Profile) error {
	now := s.now()
	return s.doc.Update(ctx, func(store *Store) error {
		guild := ensureGuild(store, guildID)
		guild.MemberJoins++
		ensureDay(guild, dayKey(now)).Joins++
		joinedAt := profile.JoinedAt
		if joinedAt.IsZero() {
			joinedAt = now
		}
		guild.Users.Set(userID, &UserRecord{
			Username: profile.Username,
			Tag:      profile.Tag,
			JoinedAt: joinedAt.UTC(),
		})
		return nil
	})
}

// RecordMemberLeave counts a leave and marks the member's record as left.
// It returns a copy of that record when one exists.
func (s *Service) RecordMemberLeave(ctx context.Context, guildID, userID string) (UserRecord, bool, error) {
	now := s.now()
	var (
		record UserRecord
		found  bool
	)
	err := s.doc.Update(ctx, func(store *Store) error {
		guild := ensureGuild(store, guildID)
		guild.MemberLeaves++
		ensureDay(guild, dayKey(now)).Leaves++
		if user, ok := guild.Users.Get(userID); ok {
			leftAt := now
			user.Left = true
			user.LeftAt = &leftAt
			record, found = *user, true
		}
		return nil
	})
	return record, found, err
}

// RecordRoleCountChange counts a role change when the member's role count
// moved. It reports whether anything was counted.
func (s *Service) RecordRoleCountChange(ctx context.Context, guildID, userID string, previous, current int) (bool, error) {
	if previous == current {
		return false, nil
	}
	err := s.doc.Update(ctx, func(store *Store) error {
		ensureGuild(store, guildID).RoleChanges++
		return nil
	})
	if err != nil {
		return false, err
	}
	s.logger.Debug("role change recorded", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Int("roles", current))
	return true, nil
}

// Guild returns a copy of the guild's analytics, or false when the guild
// has never been seen.
func (s *Service) Guild(guildID string) (*GuildAnalytics, bool) {
	var out *GuildAnalytics
	s.doc.View(func(store *Store) {
		if guild, ok := store.Servers.Get(guildID); ok {
			out = guild.Clone()
		}
	})
	return out, out != nil
}

func (s *Service) Global() GlobalStats {
	var out GlobalStats
	s.doc.View(func(store *Store) {
		out = store.GlobalStats
	})
	return out
}

// GuildCount returns how many guilds have analytics data.
func (s *Service) GuildCount() int {
	var n int
	s.doc.View(func(store *Store) {
		if store.Servers != nil {
			n = store.Servers.Len()
		}
	})
	return n
}

// Version exposes the document version for callers that read, suspend and
// then write.
func (s *Service) Version() uint64 {
	return s.doc.Version()
}

func (s *Service) emit(ctx context.Context, guildID string, record eventlog.Record) {
	if s.notify == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("analytics notifier panicked", zap.String("guild_id", guildID), zap.String("kind", record.Kind), zap.Any("panic", r))
		}
	}()
	s.notify(ctx, guildID, record)
}

func ensureGuild(store *Store, guildID string) *GuildAnalytics {
	if store.Servers == nil {
		store.Servers = orderedmap.New[string, *GuildAnalytics]()
	}
	guild, ok := store.Servers.Get(guildID)
	if !ok || guild == nil {
		guild = newGuildAnalytics()
		store.Servers.Set(guildID, guild)
	}
	return guild
}

func ensureUser(guild *GuildAnalytics, userID string, create func() *UserRecord) *UserRecord {
	user, ok := guild.Users.Get(userID)
	if !ok || user == nil {
		user = create()
		guild.Users.Set(userID, user)
	}
	return user
}

func ensureChannel(guild *GuildAnalytics, channelID, name string) *ChannelRecord {
	channel, ok := guild.Channels.Get(channelID)
	if !ok || channel == nil {
		channel = &ChannelRecord{Name: name}
		guild.Channels.Set(channelID, channel)
	}
	return channel
}

func ensureDay(guild *GuildAnalytics, day string) *DailyRecord {
	record, ok := guild.DailyStats.Get(day)
	if !ok || record == nil {
		record = &DailyRecord{}
		guild.DailyStats.Set(day, record)
	}
	return record
}

// nextEntryID derives the id from the creation time and steps past the
// guild's last id so ids stay unique within the guild.
func nextEntryID(guild *GuildAnalytics, now time.Time) string {
	millis := now.UnixMilli()
	if n := len(guild.ModerationLogs); n > 0 {
		last := guild.ModerationLogs[n-1].ID
		if previous, err := strconv.ParseInt(strings.TrimPrefix(last, "mod-"), 10, 64); err == nil && previous >= millis {
			millis = previous + 1
		}
	}
	return "mod-" + strconv.FormatInt(millis, 10)
}
