package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"guildpulse/internal/analytics"
	"guildpulse/internal/config"
	"guildpulse/internal/eventlog"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	colorRed    = 0xFF0000
	colorOrange = 0xFFA500
	colorPurple = 0x9B59B6
	colorPink   = 0xFF69B4
)

// Footers per feature, appended to the configured brand.
const (
	footerAnalytics  = "Analytics System"
	footerAutomod    = "Auto-Moderation"
	footerLogging    = "Logging System"
	footerModeration = "Moderation"
	footerSupport    = "Support System"
)

// Casers hold state, so each call builds its own.
func upperText(s string) string {
	return cases.Upper(language.English).String(s)
}

func titleText(s string) string {
	return cases.Title(language.English).String(s)
}

var actionEmojis = map[string]string{
	analytics.ActionBan:     "🔨",
	analytics.ActionKick:    "👢",
	analytics.ActionTimeout: "⏰",
	analytics.ActionWarn:    "⚠️",
	analytics.ActionUnban:   "🔓",
	analytics.ActionClear:   "🧹",
	analytics.ActionAutomod: "🤖",
}

var actionColors = map[string]int{
	analytics.ActionBan:     colorRed,
	analytics.ActionKick:    0xFF6B6B,
	analytics.ActionTimeout: colorOrange,
	analytics.ActionWarn:    0xFFD700,
	analytics.ActionUnban:   0x00FF00,
	analytics.ActionClear:   0x00FF00,
	analytics.ActionAutomod: colorPink,
}

func actionEmoji(action string) string {
	if emoji, ok := actionEmojis[action]; ok {
		return emoji
	}
	return "🛡️"
}

func actionColor(action string, fallback int) int {
	if color, ok := actionColors[action]; ok {
		return color
	}
	return fallback
}

// pastTense turns an action into "banned", "kicked", "unbanned".
func pastTense(action string) string {
	switch action {
	case analytics.ActionBan:
		return "banned"
	case analytics.ActionUnban:
		return "unbanned"
	case analytics.ActionTimeout:
		return "timed out"
	case analytics.ActionWarn:
		return "warned"
	case analytics.ActionKick:
		return "kicked"
	case analytics.ActionClear:
		return "cleared"
	default:
		return "actioned"
	}
}

func formatCount(n int) string {
	return message.NewPrinter(language.English).Sprintf("%d", n)
}

func timestampTag(t time.Time, style string) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}

func footer(brand, feature string) *discordgo.MessageEmbedFooter {
	if brand == "" {
		return &discordgo.MessageEmbedFooter{Text: feature}
	}
	return &discordgo.MessageEmbedFooter{Text: brand + " " + feature}
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	if value == "" {
		value = "-"
	}
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// positive reports whether a numeric record field is set and above zero.
func positive(fields map[string]any, key string) bool {
	switch v := fields[key].(type) {
	case int:
		return v > 0
	case int64:
		return v > 0
	case float64:
		return v > 0
	default:
		return false
	}
}

// logEmbed renders an event-log record.
func logEmbed(record eventlog.Record, embeds config.EmbedConfig, now time.Time) *discordgo.MessageEmbed {
	f := record.Fields
	embed := &discordgo.MessageEmbed{
		Timestamp: now.UTC().Format(time.RFC3339),
		Footer:    footer(embeds.Brand, footerLogging),
		Color:     embeds.Colors.Primary,
	}

	switch record.Kind {
	case eventlog.KindModeration:
		action := stringField(f, "action")
		target := stringField(f, "target_tag")
		reason := stringField(f, "reason")
		if reason == "" {
			reason = "No reason provided"
		}
		embed.Color = actionColor(action, embeds.Colors.Primary)
		embed.Title = actionEmoji(action) + " " + upperText(action)
		embed.Description = fmt.Sprintf("**%s** has been %s", target, pastTense(action))
		embed.Fields = []*discordgo.MessageEmbedField{
			field("👤 Target", fmt.Sprintf("%s (%s)", target, stringField(f, "target_id")), true),
			field("🛡️ Moderator", stringField(f, "moderator_tag"), true),
			field("📝 Reason", reason, false),
		}
		if positive(f, "duration_minutes") {
			embed.Fields = append(embed.Fields, field("⏱️ Duration", stringField(f, "duration_minutes")+" minutes", true))
		}
		if positive(f, "delete_message_days") {
			embed.Fields = append(embed.Fields, field("🗑️ Messages Deleted", stringField(f, "delete_message_days")+" days", true))
		}
		if positive(f, "amount_deleted") {
			embed.Fields = append(embed.Fields,
				field("📊 Messages Cleared", stringField(f, "amount_deleted")+" messages", true),
				field("📝 Channel", "<#"+stringField(f, "channel_id")+">", true),
			)
		}
	case eventlog.KindMembers:
		user := stringField(f, "user_tag")
		userField := field("👤 User", fmt.Sprintf("%s (%s)", user, stringField(f, "user_id")), true)
		if stringField(f, "event") == "leave" {
			joined := "Unknown"
			if at, ok := f["joined_at"].(time.Time); ok && !at.IsZero() {
				joined = timestampTag(at, "R")
			}
			embed.Color = embeds.Colors.Error
			embed.Title = "👋 Member Left"
			embed.Description = fmt.Sprintf("**%s** has left the server", user)
			embed.Fields = []*discordgo.MessageEmbedField{userField, field("📅 Joined At", joined, true)}
			break
		}
		created := "Unknown"
		if at, ok := f["user_created_at"].(time.Time); ok && !at.IsZero() {
			created = timestampTag(at, "R")
		}
		embed.Color = embeds.Colors.Success
		embed.Title = "👋 Member Joined"
		embed.Description = fmt.Sprintf("**%s** has joined the server", user)
		embed.Fields = []*discordgo.MessageEmbedField{userField, field("📅 Account Created", created, true)}
	case eventlog.KindMessages:
		author := field("👤 Author", stringField(f, "author_tag"), true)
		channel := field("📝 Channel", stringField(f, "channel"), true)
		if stringField(f, "event") == "delete" {
			content := stringField(f, "content")
			if content == "" {
				content = "No content available"
			}
			embed.Color = colorRed
			embed.Title = "🗑️ Message Deleted"
			embed.Description = "A message was deleted from " + stringField(f, "channel")
			embed.Fields = []*discordgo.MessageEmbedField{author, channel, field("📝 Content", truncate(content, 1000), false)}
			break
		}
		link := stringField(f, "message_url")
		if link == "" {
			link = "No link available"
		}
		embed.Color = colorOrange
		embed.Title = "✏️ Message Edited"
		embed.Description = "A message was edited in " + stringField(f, "channel")
		embed.Fields = []*discordgo.MessageEmbedField{author, channel, field("🔗 Message Link", link, false)}
	case eventlog.KindRoles:
		user := stringField(f, "user_tag")
		embed.Color = colorPurple
		embed.Title = "🔄 Role Updated"
		embed.Description = fmt.Sprintf("Roles were updated for **%s**", user)
		embed.Fields = []*discordgo.MessageEmbedField{
			field("👤 User", user, true),
			field("📊 Role Count", stringField(f, "role_count")+" roles", true),
		}
	default:
		embed.Title = record.Kind
		keys := make([]string, 0, len(f))
		for key := range f {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			embed.Fields = append(embed.Fields, field(key, stringField(f, key), true))
		}
	}
	return embed
}

// overviewFields renders the analytics overview.
func overviewFields(o analytics.Overview, members, channels, roles int, created time.Time) []*discordgo.MessageEmbedField {
	mostActive := "No data"
	if o.HasMostActive {
		mostActive = fmt.Sprintf("%s (%d messages)", o.MostActive.Username, o.MostActive.MessageCount)
	}
	return []*discordgo.MessageEmbedField{
		field("👥 Members", fmt.Sprint(members), true),
		field("📝 Total Messages", formatCount(o.TotalMessages), true),
		field("⚡ Total Commands", formatCount(o.TotalCommands), true),
		field("🛡️ Total Moderations", formatCount(o.TotalModerations), true),
		field("📈 Member Growth", fmt.Sprintf("+%d / -%d (%s%%)", o.MemberJoins, o.MemberLeaves, formatPercent(o.GrowthPercent)), true),
		field("📊 Channels", fmt.Sprint(channels), true),
		field("🎭 Roles", fmt.Sprint(roles), true),
		field("✏️ Message Edits", formatCount(o.MessageEdits), true),
		field("🗑️ Message Deletes", formatCount(o.MessageDeletes), true),
		field("🔄 Role Changes", formatCount(o.RoleChanges), true),
		field("🏆 Most Active User", mostActive, true),
		field("📅 Server Created", timestampTag(created, "F"), true),
	}
}

// formatPercent prints one decimal, or a bare 0 when there were no joins.
func formatPercent(p float64) string {
	if p == 0 {
		return "0"
	}
	return fmt.Sprintf("%.1f", p)
}

func userStatsValue(u analytics.RankedUser) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Messages:** %s\n", formatCount(u.MessageCount))
	fmt.Fprintf(&b, "**Commands:** %s\n", formatCount(u.CommandCount))
	fmt.Fprintf(&b, "**User:** <@%s>\n", u.UserID)
	fmt.Fprintf(&b, "**Joined:** %s", timestampTag(u.JoinedAt, "R"))
	return b.String()
}

func moderationLogValue(entry analytics.ModerationLogEntry) string {
	return fmt.Sprintf("**Moderator:** <@%s>\n**Target:** <@%s>\n**Reason:** %s\n**Time:** %s",
		entry.ModeratorID, entry.TargetID, entry.Reason, timestampTag(entry.Timestamp, "R"))
}

func dailyValue(day analytics.DailyEntry) string {
	return fmt.Sprintf("**Messages:** %s\n**Commands:** %s\n**Moderations:** %s\n**Joins:** %d\n**Leaves:** %d",
		formatCount(day.Messages), formatCount(day.Commands), formatCount(day.Moderations), day.Joins, day.Leaves)
}

// dayLabel turns 2024-03-09 into "Mar 9".
func dayLabel(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Jan 2")
}
