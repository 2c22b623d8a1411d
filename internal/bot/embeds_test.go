package bot

import (
	"testing"
	"time"

	"guildpulse/internal/analytics"
	"guildpulse/internal/config"
	"guildpulse/internal/eventlog"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEmbeds = config.EmbedConfig{
	Brand: "Test Brand",
	Colors: config.EmbedColors{
		Primary: 0x0099FF,
		Success: 0x00FF00,
		Warning: 0xFFD700,
		Error:   0xFF6B6B,
	},
}

func fieldValue(t *testing.T, embed *discordgo.MessageEmbed, name string) string {
	t.Helper()
	for _, f := range embed.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	t.Fatalf("field %q not found", name)
	return ""
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "1,234,567", formatCount(1234567))
	assert.Equal(t, "12", formatCount(12))
	assert.Equal(t, "Mar 9", dayLabel("2024-03-09"))
	assert.Equal(t, "not-a-date", dayLabel("not-a-date"))
	assert.Equal(t, "0", formatPercent(0))
	assert.Equal(t, "66.7", formatPercent(66.666))
	assert.Equal(t, "<t:86400:R>", timestampTag(time.Unix(86400, 0), "R"))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
	assert.Equal(t, "abc", truncate("abc", 3))
}

func TestActionWording(t *testing.T) {
	assert.Equal(t, "timed out", pastTense(analytics.ActionTimeout))
	assert.Equal(t, "unbanned", pastTense(analytics.ActionUnban))
	assert.Equal(t, "actioned", pastTense("other"))
	assert.Equal(t, "Timed Out", titleText(pastTense(analytics.ActionTimeout)))
	assert.Equal(t, "BAN", upperText(analytics.ActionBan))
	assert.Equal(t, "🛡️", actionEmoji("other"))
	assert.Equal(t, 42, actionColor("other", 42))
	assert.Equal(t, colorRed, actionColor(analytics.ActionBan, 42))
}

func TestFieldAndFooter(t *testing.T) {
	assert.Equal(t, "-", field("name", "", true).Value)
	assert.Equal(t, "Test Brand Logging System", footer("Test Brand", footerLogging).Text)
	assert.Equal(t, "Logging System", footer("", footerLogging).Text)
}

func TestLogEmbedModeration(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	embed := logEmbed(eventlog.Record{Kind: eventlog.KindModeration, Fields: map[string]any{
		"action":           analytics.ActionTimeout,
		"target_tag":       "target#0001",
		"target_id":        "42",
		"moderator_tag":    "mod#0001",
		"reason":           "",
		"duration_minutes": 30,
	}}, testEmbeds, now)

	assert.Equal(t, "⏰ TIMEOUT", embed.Title)
	assert.Equal(t, "**target#0001** has been timed out", embed.Description)
	assert.Equal(t, colorOrange, embed.Color)
	assert.Equal(t, "Test Brand Logging System", embed.Footer.Text)
	assert.Equal(t, now.Format(time.RFC3339), embed.Timestamp)
	assert.Equal(t, "target#0001 (42)", fieldValue(t, embed, "👤 Target"))
	assert.Equal(t, "No reason provided", fieldValue(t, embed, "📝 Reason"))
	assert.Equal(t, "30 minutes", fieldValue(t, embed, "⏱️ Duration"))
	assert.Len(t, embed.Fields, 4)
}

func TestLogEmbedClearIncludesChannel(t *testing.T) {
	embed := logEmbed(eventlog.Record{Kind: eventlog.KindModeration, Fields: map[string]any{
		"action":         analytics.ActionClear,
		"target_tag":     "All Users",
		"amount_deleted": 7,
		"channel_id":     "c1",
	}}, testEmbeds, time.Now())

	assert.Equal(t, "7 messages", fieldValue(t, embed, "📊 Messages Cleared"))
	assert.Equal(t, "<#c1>", fieldValue(t, embed, "📝 Channel"))
}

func TestLogEmbedMembers(t *testing.T) {
	joined := time.Unix(1700000000, 0)
	leave := logEmbed(eventlog.Record{Kind: eventlog.KindMembers, Fields: map[string]any{
		"event":     "leave",
		"user_tag":  "gone#0001",
		"user_id":   "7",
		"joined_at": joined,
	}}, testEmbeds, time.Now())
	assert.Equal(t, "👋 Member Left", leave.Title)
	assert.Equal(t, testEmbeds.Colors.Error, leave.Color)
	assert.Equal(t, "<t:1700000000:R>", fieldValue(t, leave, "📅 Joined At"))

	join := logEmbed(eventlog.Record{Kind: eventlog.KindMembers, Fields: map[string]any{
		"event":    "join",
		"user_tag": "new#0001",
		"user_id":  "8",
	}}, testEmbeds, time.Now())
	assert.Equal(t, "👋 Member Joined", join.Title)
	assert.Equal(t, testEmbeds.Colors.Success, join.Color)
	assert.Equal(t, "Unknown", fieldValue(t, join, "📅 Account Created"))
}

func TestLogEmbedMessages(t *testing.T) {
	deleted := logEmbed(eventlog.Record{Kind: eventlog.KindMessages, Fields: map[string]any{
		"event":      "delete",
		"author_tag": "a#0001",
		"channel":    "<#c1>",
	}}, testEmbeds, time.Now())
	assert.Equal(t, "🗑️ Message Deleted", deleted.Title)
	assert.Equal(t, "No content available", fieldValue(t, deleted, "📝 Content"))

	edited := logEmbed(eventlog.Record{Kind: eventlog.KindMessages, Fields: map[string]any{
		"event":       "edit",
		"author_tag":  "a#0001",
		"channel":     "<#c1>",
		"message_url": "https://discord.com/channels/g/c1/m",
	}}, testEmbeds, time.Now())
	assert.Equal(t, "✏️ Message Edited", edited.Title)
	assert.Equal(t, "https://discord.com/channels/g/c1/m", fieldValue(t, edited, "🔗 Message Link"))
}

func TestLogEmbedRolesAndUnknownKinds(t *testing.T) {
	roles := logEmbed(eventlog.Record{Kind: eventlog.KindRoles, Fields: map[string]any{
		"user_tag":   "r#0001",
		"role_count": 3,
	}}, testEmbeds, time.Now())
	assert.Equal(t, "3 roles", fieldValue(t, roles, "📊 Role Count"))

	other := logEmbed(eventlog.Record{Kind: "custom", Fields: map[string]any{"b": 2, "a": "x"}}, testEmbeds, time.Now())
	require.Len(t, other.Fields, 2)
	assert.Equal(t, "a", other.Fields[0].Name)
	assert.Equal(t, "b", other.Fields[1].Name)
	assert.Equal(t, "2", other.Fields[1].Value)
}

func TestOverviewFields(t *testing.T) {
	created := time.Unix(1600000000, 0)
	fields := overviewFields(analytics.Overview{
		TotalMessages: 1500,
		MemberJoins:   3,
		MemberLeaves:  1,
		Growth:        2,
		GrowthPercent: 200.0 / 3,
	}, 10, 4, 2, created)

	embed := &discordgo.MessageEmbed{Fields: fields}
	assert.Equal(t, "1,500", fieldValue(t, embed, "📝 Total Messages"))
	assert.Equal(t, "+3 / -1 (66.7%)", fieldValue(t, embed, "📈 Member Growth"))
	assert.Equal(t, "No data", fieldValue(t, embed, "🏆 Most Active User"))
	assert.Equal(t, "<t:1600000000:F>", fieldValue(t, embed, "📅 Server Created"))
}

func TestReportValues(t *testing.T) {
	assert.Equal(t, "**Messages:** 1,200\n**Commands:** 3\n**Moderations:** 0\n**Joins:** 2\n**Leaves:** 1",
		dailyValue(analytics.DailyEntry{Date: "2024-01-01", DailyRecord: analytics.DailyRecord{Messages: 1200, Commands: 3, Joins: 2, Leaves: 1}}))

	entry := analytics.ModerationLogEntry{ModeratorID: "m", TargetID: "t", Reason: "spam", Timestamp: time.Unix(100, 0)}
	assert.Equal(t, "**Moderator:** <@m>\n**Target:** <@t>\n**Reason:** spam\n**Time:** <t:100:R>", moderationLogValue(entry))
}
