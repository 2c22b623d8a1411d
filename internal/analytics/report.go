package analytics

import "sort"

const (
	DefaultListLimit = 10
	MaxListLimit     = 25
	DefaultDays      = 7
	MaxDays          = 30
)

type RankedUser struct {
	UserID string
	UserRecord
}

type RankedChannel struct {
	ChannelID string
	ChannelRecord
}

type DailyEntry struct {
	Date string
	DailyRecord
}

// Overview summarizes a guild's all-time counters.
type Overview struct {
	TotalMessages    int
	TotalCommands    int
	TotalModerations int
	MemberJoins      int
	MemberLeaves     int
	MessageEdits     int
	MessageDeletes   int
	RoleChanges      int
	// Growth is joins minus leaves; GrowthPercent is Growth over joins.
	Growth        int
	GrowthPercent float64
	MostActive    RankedUser
	HasMostActive bool
}

// ClampLimit bounds a list size to 1..25, with 0 meaning the default of 10.
func ClampLimit(limit int) int {
	return clamp(limit, DefaultListLimit, MaxListLimit)
}

// ClampDays bounds a day count to 1..30, with 0 meaning the default of 7.
func ClampDays(days int) int {
	return clamp(days, DefaultDays, MaxDays)
}

func clamp(value, fallback, upper int) int {
	switch {
	case value == 0:
		return fallback
	case value < 1:
		return 1
	case value > upper:
		return upper
	default:
		return value
	}
}

// TopUsers ranks members still in the guild by message count. Equal counts
// keep first-seen order.
func TopUsers(guild *GuildAnalytics, limit int) []RankedUser {
	limit = ClampLimit(limit)
	var users []RankedUser
	for pair := guild.Users.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil || pair.Value.Left {
			continue
		}
		users = append(users, RankedUser{UserID: pair.Key, UserRecord: *pair.Value})
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].MessageCount > users[j].MessageCount
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users
}

func TopChannels(guild *GuildAnalytics, limit int) []RankedChannel {
	limit = ClampLimit(limit)
	var channels []RankedChannel
	for pair := guild.Channels.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			continue
		}
		channels = append(channels, RankedChannel{ChannelID: pair.Key, ChannelRecord: *pair.Value})
	}
	sort.SliceStable(channels, func(i, j int) bool {
		return channels[i].MessageCount > channels[j].MessageCount
	})
	if len(channels) > limit {
		channels = channels[:limit]
	}
	return channels
}

// RecentModerationLogs returns the newest entries first. The guild's log is
// left in insertion order.
func RecentModerationLogs(guild *GuildAnalytics, limit int) []ModerationLogEntry {
	limit = ClampLimit(limit)
	logs := make([]ModerationLogEntry, len(guild.ModerationLogs))
	copy(logs, guild.ModerationLogs)
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Timestamp.After(logs[j].Timestamp)
	})
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs
}

func DailyStats(guild *GuildAnalytics, days int) []DailyEntry {
	days = ClampDays(days)
	var entries []DailyEntry
	for pair := guild.DailyStats.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			continue
		}
		entries = append(entries, DailyEntry{Date: pair.Key, DailyRecord: *pair.Value})
	}
	// YYYY-MM-DD sorts lexically in date order
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date > entries[j].Date
	})
	if len(entries) > days {
		entries = entries[:days]
	}
	return entries
}

// MostActiveUser returns the user with the most messages, departed members
// included. The earliest seen user wins a tie. It reports false when the
// guild has no users.
func MostActiveUser(guild *GuildAnalytics) (RankedUser, bool) {
	var (
		best  RankedUser
		found bool
	)
	for pair := guild.Users.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value == nil {
			continue
		}
		if !found || pair.Value.MessageCount > best.MessageCount {
			best = RankedUser{UserID: pair.Key, UserRecord: *pair.Value}
			found = true
		}
	}
	return best, found
}

func BuildOverview(guild *GuildAnalytics) Overview {
	overview := Overview{
		TotalMessages:    guild.TotalMessages,
		TotalCommands:    guild.TotalCommands,
		TotalModerations: guild.TotalModerations,
		MemberJoins:      guild.MemberJoins,
		MemberLeaves:     guild.MemberLeaves,
		MessageEdits:     guild.MessageEdits,
		MessageDeletes:   guild.MessageDeletes,
		RoleChanges:      guild.RoleChanges,
		Growth:           guild.MemberJoins - guild.MemberLeaves,
	}
	if guild.MemberJoins > 0 {
		overview.GrowthPercent = float64(overview.Growth) / float64(guild.MemberJoins) * 100
	}
	overview.MostActive, overview.HasMostActive = MostActiveUser(guild)
	return overview
}
