package bot

import (
	"context"
	"fmt"
	"time"

	"guildpulse/internal/analytics"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	maxTimeoutMinutes = 40320
	maxClearAmount    = 100
	bulkDeleteMaxAge  = 14 * 24 * time.Hour
	noReason          = "No reason provided"
)

// validSnowflake reports whether id looks like a platform id.
func validSnowflake(id string) bool {
	if id == "" || len(id) > 20 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// clearTargets picks up to amount message ids, newest first, skipping
// messages too old for bulk deletion and, when userID is set, messages by
// anyone else.
func clearTargets(messages []*discordgo.Message, userID string, amount int, now time.Time) []string {
	ids := make([]string, 0, amount)
	for _, m := range messages {
		if len(ids) == amount {
			break
		}
		if m == nil || now.Sub(m.Timestamp) >= bulkDeleteMaxAge {
			continue
		}
		if userID != "" && (m.Author == nil || m.Author.ID != userID) {
			continue
		}
		ids = append(ids, m.ID)
	}
	return ids
}

func (b *Bot) handleModerationCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, action string, opts commandOptions) {
	moderator := interactionUser(interaction)
	guildID := interaction.GuildID

	switch action {
	case analytics.ActionUnban:
		b.unban(ctx, session, interaction, moderator, opts)
		return
	case analytics.ActionClear:
		b.clearMessages(ctx, session, interaction, moderator, opts)
		return
	}

	target := opts.user(session, "user")
	if target == nil {
		b.respondError(session, interaction, "Please choose a user.")
		return
	}
	if target.ID == moderator.ID {
		b.respondError(session, interaction, fmt.Sprintf("You cannot %s yourself.", action))
		return
	}
	if target.ID == session.State.User.ID {
		b.respondError(session, interaction, fmt.Sprintf("You cannot %s me.", action))
		return
	}
	reason := opts.str("reason")
	if reason == "" {
		reason = noReason
	}

	extra := map[string]any{}
	var err error
	switch action {
	case analytics.ActionBan:
		days, _ := opts.integer("delete_messages")
		extra["delete_message_days"] = days
		err = session.GuildBanCreateWithReason(guildID, target.ID, reason, days)
	case analytics.ActionKick:
		err = session.GuildMemberDeleteWithReason(guildID, target.ID, reason)
	case analytics.ActionTimeout:
		minutes, _ := opts.integer("duration")
		if minutes < 1 || minutes > maxTimeoutMinutes {
			b.respondError(session, interaction, fmt.Sprintf("Duration must be between 1 and %d minutes.", maxTimeoutMinutes))
			return
		}
		extra["duration_minutes"] = minutes
		until := time.Now().Add(time.Duration(minutes) * time.Minute)
		err = session.GuildMemberTimeout(guildID, target.ID, &until)
	case analytics.ActionWarn:
		b.sendWarning(session, guildID, target, moderator, reason)
	}
	if err != nil {
		b.logger.Warn("moderation action failed", zap.String("guild_id", guildID), zap.String("action", action), zap.String("target_id", target.ID), zap.Error(err))
		b.respondError(session, interaction, fmt.Sprintf("Failed to %s the user. Check my permissions and role position.", action))
		return
	}

	b.recordModeration(ctx, analytics.ModerationEvent{
		GuildID:      guildID,
		ModeratorID:  moderator.ID,
		ModeratorTag: moderator.String(),
		TargetID:     target.ID,
		TargetTag:    target.String(),
		Action:       action,
		Reason:       reason,
		Extra:        extra,
	})
	b.respondEmbed(session, interaction, b.moderationEmbed(action, target.String(), target.ID, moderator.ID, reason, extra), true)
}

func (b *Bot) recordModeration(ctx context.Context, event analytics.ModerationEvent) {
	if _, err := b.analytics.RecordModeration(ctx, event); err != nil {
		b.logger.Warn("record moderation failed", zap.String("guild_id", event.GuildID), zap.String("action", event.Action), zap.Error(err))
	}
}

func (b *Bot) moderationEmbed(action, targetTag, targetID, moderatorID, reason string, extra map[string]any) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		field("👤 User", fmt.Sprintf("%s (%s)", targetTag, targetID), true),
		field("🛡️ Moderator", "<@"+moderatorID+">", true),
		field("📝 Reason", reason, false),
	}
	if positive(extra, "duration_minutes") {
		fields = append(fields, field("⏱️ Duration", stringField(extra, "duration_minutes")+" minutes", true))
	}
	if positive(extra, "delete_message_days") {
		fields = append(fields, field("🗑️ Messages Deleted", stringField(extra, "delete_message_days")+" days", true))
	}
	return b.brandedEmbed(footerModeration, fmt.Sprintf("%s User %s", actionEmoji(action), titleText(pastTense(action))),
		fmt.Sprintf("**%s** has been %s.", targetTag, pastTense(action)), actionColor(action, b.cfg.Embeds.Colors.Primary), fields...)
}

func (b *Bot) sendWarning(session *discordgo.Session, guildID string, target, moderator *discordgo.User, reason string) {
	dm, err := session.UserChannelCreate(target.ID)
	if err != nil {
		b.logger.Debug("warning dm channel failed", zap.String("user_id", target.ID), zap.Error(err))
		return
	}
	embed := b.brandedEmbed(footerModeration, "⚠️ Warning Received",
		fmt.Sprintf("You have received a warning in **%s**.", b.guildName(guildID)), actionColor(analytics.ActionWarn, b.cfg.Embeds.Colors.Warning),
		field("📝 Reason", reason, false),
		field("🛡️ Moderator", moderator.String(), true),
	)
	if _, err := session.ChannelMessageSendEmbed(dm.ID, embed); err != nil {
		b.logger.Debug("warning dm failed", zap.String("user_id", target.ID), zap.Error(err))
	}
}

func (b *Bot) unban(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, moderator *discordgo.User, opts commandOptions) {
	userID := opts.str("user_id")
	if !validSnowflake(userID) {
		b.respondError(session, interaction, "Please provide a valid user ID.")
		return
	}
	reason := opts.str("reason")
	if reason == "" {
		reason = noReason
	}
	if err := session.GuildBanDelete(interaction.GuildID, userID); err != nil {
		b.logger.Warn("unban failed", zap.String("guild_id", interaction.GuildID), zap.String("target_id", userID), zap.Error(err))
		b.respondError(session, interaction, "Failed to unban the user. They may not be banned.")
		return
	}
	targetTag := "Unknown User"
	if user, err := session.User(userID); err == nil {
		targetTag = user.String()
	}
	b.recordModeration(ctx, analytics.ModerationEvent{
		GuildID:      interaction.GuildID,
		ModeratorID:  moderator.ID,
		ModeratorTag: moderator.String(),
		TargetID:     userID,
		TargetTag:    targetTag,
		Action:       analytics.ActionUnban,
		Reason:       reason,
	})
	b.respondEmbed(session, interaction, b.moderationEmbed(analytics.ActionUnban, targetTag, userID, moderator.ID, reason, nil), true)
}

func (b *Bot) clearMessages(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, moderator *discordgo.User, opts commandOptions) {
	amount, _ := opts.integer("amount")
	if amount < 1 || amount > maxClearAmount {
		b.respondError(session, interaction, fmt.Sprintf("Amount must be between 1 and %d.", maxClearAmount))
		return
	}
	target := opts.user(session, "user")
	if !b.deferReply(session, interaction) {
		return
	}

	fetch, userID := amount, ""
	if target != nil {
		fetch, userID = maxClearAmount, target.ID
	}
	messages, err := session.ChannelMessages(interaction.ChannelID, fetch, "", "", "")
	if err != nil {
		b.logger.Warn("clear fetch failed", zap.String("channel_id", interaction.ChannelID), zap.Error(err))
		b.followUp(session, interaction, &discordgo.WebhookParams{Content: "❌ Failed to fetch messages."})
		return
	}
	ids := clearTargets(messages, userID, amount, time.Now())
	if len(ids) == 0 {
		b.followUp(session, interaction, &discordgo.WebhookParams{Content: "❌ No messages found to delete. Messages older than 14 days cannot be bulk deleted."})
		return
	}
	if len(ids) == 1 {
		err = session.ChannelMessageDelete(interaction.ChannelID, ids[0])
	} else {
		err = session.ChannelMessagesBulkDelete(interaction.ChannelID, ids)
	}
	if err != nil {
		b.logger.Warn("clear failed", zap.String("channel_id", interaction.ChannelID), zap.Error(err))
		b.followUp(session, interaction, &discordgo.WebhookParams{Content: "❌ Failed to delete messages."})
		return
	}

	channelName := ""
	if channel, err := session.State.Channel(interaction.ChannelID); err == nil {
		channelName = channel.Name
	}
	targetID, targetTag, targetLabel := "all_users", "All Users", "All users"
	if target != nil {
		targetID, targetTag, targetLabel = target.ID, target.String(), "<@"+target.ID+">"
	}
	b.recordModeration(ctx, analytics.ModerationEvent{
		GuildID:      interaction.GuildID,
		ModeratorID:  moderator.ID,
		ModeratorTag: moderator.String(),
		TargetID:     targetID,
		TargetTag:    targetTag,
		Action:       analytics.ActionClear,
		Reason:       fmt.Sprintf("Cleared %d messages", len(ids)),
		Extra: map[string]any{
			"amount_requested": amount,
			"amount_deleted":   len(ids),
			"channel_id":       interaction.ChannelID,
			"channel_name":     channelName,
			"target_user":      targetID,
		},
	})

	embed := b.brandedEmbed(footerModeration, "🧹 Messages Cleared",
		fmt.Sprintf("Successfully deleted **%d** messages.", len(ids)), actionColor(analytics.ActionClear, b.cfg.Embeds.Colors.Success),
		field("📊 Requested", fmt.Sprint(amount), true),
		field("🗑️ Deleted", fmt.Sprint(len(ids)), true),
		field("👤 Target", targetLabel, true),
		field("🛡️ Moderator", "<@"+moderator.ID+">", true),
	)
	b.followUp(session, interaction, &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{embed}})
}
