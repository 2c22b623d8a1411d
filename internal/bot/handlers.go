package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guildpulse/internal/analytics"
	"guildpulse/internal/automod"
	"guildpulse/internal/eventlog"
	"guildpulse/internal/metrics"
	"guildpulse/internal/statchannels"
	"guildpulse/internal/tickets"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// requiredPermissions backs up the default member permissions, which a
// guild can override.
var requiredPermissions = map[string]struct {
	flag int64
	name string
}{
	"analytics":   {discordgo.PermissionManageServer, "Manage Server"},
	"automod":     {discordgo.PermissionManageServer, "Manage Server"},
	"logging":     {discordgo.PermissionManageServer, "Manage Server"},
	"analyticsvc": {discordgo.PermissionManageChannels, "Manage Channels"},
	"ticketpanel": {discordgo.PermissionManageChannels, "Manage Channels"},
	"ban":         {discordgo.PermissionBanMembers, "Ban Members"},
	"unban":       {discordgo.PermissionBanMembers, "Ban Members"},
	"kick":        {discordgo.PermissionKickMembers, "Kick Members"},
	"timeout":     {discordgo.PermissionModerateMembers, "Timeout Members"},
	"warn":        {discordgo.PermissionModerateMembers, "Timeout Members"},
	"clear":       {discordgo.PermissionManageMessages, "Manage Messages"},
}

type commandOptions map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) commandOptions {
	out := make(commandOptions, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}

func (o commandOptions) str(name string) string {
	if opt, ok := o[name]; ok {
		return strings.TrimSpace(opt.StringValue())
	}
	return ""
}

func (o commandOptions) integer(name string) (int, bool) {
	if opt, ok := o[name]; ok {
		return int(opt.IntValue()), true
	}
	return 0, false
}

// intPtr is integer for partial updates.
func (o commandOptions) intPtr(name string) *int {
	if v, ok := o.integer(name); ok {
		return &v
	}
	return nil
}

func (o commandOptions) user(session *discordgo.Session, name string) *discordgo.User {
	if opt, ok := o[name]; ok {
		return opt.UserValue(session)
	}
	return nil
}

func (o commandOptions) channel(session *discordgo.Session, name string) *discordgo.Channel {
	if opt, ok := o[name]; ok {
		return opt.ChannelValue(session)
	}
	return nil
}

// splitSubcommand splits the first option off as the subcommand name.
func splitSubcommand(options []*discordgo.ApplicationCommandInteractionDataOption) (string, commandOptions) {
	if len(options) == 0 || options[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		return "", optionMap(options)
	}
	return options[0].Name, optionMap(options[0].Options)
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	ctx := context.Background()
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(ctx, session, interaction)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, session, interaction)
	case discordgo.InteractionModalSubmit:
		b.handleModal(ctx, session, interaction)
	}
}

func (b *Bot) handleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.ApplicationCommandData()
	metrics.CommandsTotal.WithLabelValues(data.Name).Inc()

	if interaction.GuildID == "" {
		b.respondError(session, interaction, "This command can only be used in a server.")
		return
	}
	user := interactionUser(interaction)
	if user == nil {
		return
	}
	if err := b.analytics.RecordCommand(ctx, interaction.GuildID, user.ID, data.Name); err != nil {
		b.logger.Warn("record command failed", zap.String("guild_id", interaction.GuildID), zap.String("command", data.Name), zap.Error(err))
	}

	if required, ok := requiredPermissions[data.Name]; ok && !hasPermission(memberPermissions(interaction), required.flag) {
		b.respondError(session, interaction, fmt.Sprintf("You need the **%s** permission to use this command.", required.name))
		return
	}

	switch data.Name {
	case "analytics":
		b.handleAnalyticsCommand(session, interaction, data.Options)
	case "automod":
		b.handleAutomodCommand(ctx, session, interaction, data.Options)
	case "logging":
		b.handleLoggingCommand(ctx, session, interaction, data.Options)
	case "analyticsvc":
		b.handleStatChannelsCommand(ctx, session, interaction, data.Options)
	case "ticket":
		b.handleTicketCommand(ctx, session, interaction, optionMap(data.Options))
	case "ticketpanel":
		b.handleTicketPanelCommand(session, interaction, optionMap(data.Options))
	case "ban", "kick", "timeout", "warn", "unban", "clear":
		b.handleModerationCommand(ctx, session, interaction, data.Name, optionMap(data.Options))
	case "help":
		b.respondEmbed(session, interaction, b.helpEmbed(), true)
	default:
		b.respondError(session, interaction, "Unknown command.")
	}
}

func (b *Bot) handleComponent(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.MessageComponentData()
	switch data.CustomID {
	case tickets.CreateButtonID:
		b.showCategorySelect(session, interaction)
	case tickets.CategorySelectID:
		b.onCategorySelected(session, interaction, data.Values)
	case tickets.CloseButtonID:
		b.closeTicket(session, interaction)
	case tickets.ClaimButtonID:
		b.claimTicket(session, interaction)
	case tickets.TranscriptButtonID:
		b.saveTranscript(session, interaction)
	}
}

func (b *Bot) handleModal(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.ModalSubmitData()
	if data.CustomID == tickets.ModalID {
		b.onTicketModal(ctx, session, interaction, data)
	}
}

func (b *Bot) handleAnalyticsCommand(session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	sub, opts := splitSubcommand(options)
	guild, ok := b.analytics.Guild(interaction.GuildID)
	if !ok {
		b.respondError(session, interaction, "No analytics data available for this server.")
		return
	}
	limit, _ := opts.integer("limit")

	switch sub {
	case "overview":
		members, channels, roles := 0, 0, 0
		if g, err := session.State.Guild(interaction.GuildID); err == nil {
			members, channels, roles = g.MemberCount, len(g.Channels), len(g.Roles)
		}
		created, _ := discordgo.SnowflakeTimestamp(interaction.GuildID)
		embed := b.brandedEmbed(footerAnalytics, "📊 Server Analytics Overview",
			fmt.Sprintf("Analytics for **%s**", b.guildName(interaction.GuildID)), b.cfg.Embeds.Colors.Primary,
			overviewFields(analytics.BuildOverview(guild), members, channels, roles, created)...)
		b.respondEmbed(session, interaction, embed, false)
	case "users":
		users := analytics.TopUsers(guild, limit)
		if len(users) == 0 {
			b.respondError(session, interaction, "No user activity recorded yet.")
			return
		}
		fields := make([]*discordgo.MessageEmbedField, 0, len(users))
		for i, u := range users {
			fields = append(fields, field(fmt.Sprintf("#%d %s", i+1, u.Username), userStatsValue(u), true))
		}
		embed := b.brandedEmbed(footerAnalytics, "👥 Top Active Users", fmt.Sprintf("Most active users in **%s**", b.guildName(interaction.GuildID)), b.cfg.Embeds.Colors.Success, fields...)
		embed.Footer = footer(b.cfg.Embeds.Brand, fmt.Sprintf("%s • Showing top %d users", footerAnalytics, len(users)))
		b.respondEmbed(session, interaction, embed, false)
	case "channels":
		channels := analytics.TopChannels(guild, limit)
		if len(channels) == 0 {
			b.respondError(session, interaction, "No channel activity recorded yet.")
			return
		}
		fields := make([]*discordgo.MessageEmbedField, 0, len(channels))
		for i, c := range channels {
			value := fmt.Sprintf("**Messages:** %s\n**Channel:** <#%s>", formatCount(c.MessageCount), c.ChannelID)
			if c.LastMessage != nil {
				value += "\n**Last Activity:** " + timestampTag(*c.LastMessage, "R")
			}
			fields = append(fields, field(fmt.Sprintf("#%d #%s", i+1, c.Name), value, true))
		}
		embed := b.brandedEmbed(footerAnalytics, "📊 Channel Activity", fmt.Sprintf("Most active channels in **%s**", b.guildName(interaction.GuildID)), colorOrange, fields...)
		embed.Footer = footer(b.cfg.Embeds.Brand, fmt.Sprintf("%s • Showing top %d channels", footerAnalytics, len(channels)))
		b.respondEmbed(session, interaction, embed, false)
	case "moderation":
		logs := analytics.RecentModerationLogs(guild, limit)
		if len(logs) == 0 {
			b.respondError(session, interaction, "No moderation actions recorded yet.")
			return
		}
		fields := make([]*discordgo.MessageEmbedField, 0, len(logs))
		for _, entry := range logs {
			fields = append(fields, field(actionEmoji(entry.Action)+" "+upperText(entry.Action), moderationLogValue(entry), true))
		}
		embed := b.brandedEmbed(footerAnalytics, "🛡️ Recent Moderation Actions",
			fmt.Sprintf("Total moderation actions: **%s**", formatCount(guild.TotalModerations)), colorRed, fields...)
		embed.Footer = footer(b.cfg.Embeds.Brand, fmt.Sprintf("%s • Showing %d recent actions", footerAnalytics, len(logs)))
		b.respondEmbed(session, interaction, embed, false)
	case "daily":
		days, _ := opts.integer("days")
		entries := analytics.DailyStats(guild, days)
		if len(entries) == 0 {
			b.respondError(session, interaction, "No daily statistics recorded yet.")
			return
		}
		fields := make([]*discordgo.MessageEmbedField, 0, len(entries))
		for _, day := range entries {
			fields = append(fields, field("📅 "+dayLabel(day.Date), dailyValue(day), true))
		}
		embed := b.brandedEmbed(footerAnalytics, fmt.Sprintf("📅 Daily Activity (Last %d Days)", analytics.ClampDays(days)),
			fmt.Sprintf("Daily statistics for **%s**", b.guildName(interaction.GuildID)), colorPurple, fields...)
		b.respondEmbed(session, interaction, embed, false)
	default:
		b.respondError(session, interaction, "Unknown analytics view.")
	}
}

func (b *Bot) handleAutomodCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	sub, opts := splitSubcommand(options)
	guildID := interaction.GuildID

	switch sub {
	case "setup":
		update := automod.ThresholdUpdate{
			SpamThreshold: opts.intPtr("spam_threshold"),
			CapsThreshold: opts.intPtr("caps_threshold"),
			LinkCooldown:  opts.intPtr("link_cooldown"),
			MentionLimit:  opts.intPtr("mention_limit"),
		}
		if channel := opts.channel(session, "log_channel"); channel != nil {
			update.LogChannel = &channel.ID
		}
		cfg, err := b.automod.SetThresholds(ctx, guildID, update)
		if err != nil {
			if errors.Is(err, automod.ErrOutOfRange) {
				b.respondError(session, interaction, err.Error())
				return
			}
			b.logger.Warn("automod setup failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondError(session, interaction, "Failed to save auto-moderation settings.")
			return
		}
		embed := b.brandedEmbed(footerAutomod, "🛡️ Auto-Moderation Setup Complete", "Auto-moderation has been configured for this server.",
			b.cfg.Embeds.Colors.Success, automodSettingsFields(cfg)...)
		b.respondEmbed(session, interaction, embed, true)
	case "status":
		cfg, ok := b.automod.Lookup(guildID)
		if !ok {
			b.respondError(session, interaction, "Auto-moderation is not set up for this server. Use `/automod setup` first.")
			return
		}
		fields := make([]*discordgo.MessageEmbedField, 0, len(automod.Features)+5)
		for _, feature := range automod.Features {
			state := "❌ Disabled"
			if cfg.Enabled.IsEnabled(feature) {
				state = "✅ Enabled"
			}
			fields = append(fields, field(automod.FeatureLabel(feature), state, true))
		}
		fields = append(fields, automodSettingsFields(cfg)...)
		fields = append(fields, field("🚫 Filtered Words", fmt.Sprint(len(cfg.FilteredWords)), true))
		embed := b.brandedEmbed(footerAutomod, "🛡️ Auto-Moderation Status", "Current auto-moderation settings", b.cfg.Embeds.Colors.Primary, fields...)
		b.respondEmbed(session, interaction, embed, true)
	case "toggle":
		feature := opts.str("feature")
		enabled, err := b.automod.ToggleFeature(ctx, guildID, feature)
		if err != nil {
			if errors.Is(err, automod.ErrUnknownFeature) {
				b.respondError(session, interaction, "Unknown feature.")
				return
			}
			b.logger.Warn("automod toggle failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondError(session, interaction, "Failed to update auto-moderation settings.")
			return
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		b.respond(session, interaction, fmt.Sprintf("✅ **%s** has been %s.", automod.FeatureLabel(feature), state), true)
	case "words":
		b.handleFilteredWords(ctx, session, interaction, opts.str("action"), opts.str("word"))
	default:
		b.respondError(session, interaction, "Unknown auto-moderation action.")
	}
}

func (b *Bot) handleFilteredWords(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, action, word string) {
	guildID := interaction.GuildID
	switch action {
	case "list":
		words := b.automod.ListFilteredWords(guildID)
		if len(words) == 0 {
			b.respond(session, interaction, "📝 No filtered words configured.", true)
			return
		}
		quoted := make([]string, len(words))
		for i, w := range words {
			quoted[i] = "`" + w + "`"
		}
		embed := b.brandedEmbed(footerAutomod, "🚫 Filtered Words", truncate(strings.Join(quoted, ", "), 4000), b.cfg.Embeds.Colors.Warning)
		b.respondEmbed(session, interaction, embed, true)
		return
	case "add", "remove":
	default:
		b.respondError(session, interaction, "Unknown word action.")
		return
	}

	var err error
	if action == "add" {
		err = b.automod.AddFilteredWord(ctx, guildID, word)
	} else {
		err = b.automod.RemoveFilteredWord(ctx, guildID, word)
	}
	normalized := strings.ToLower(strings.TrimSpace(word))
	switch {
	case errors.Is(err, automod.ErrEmptyWord):
		b.respondError(session, interaction, "Please provide a word.")
	case errors.Is(err, automod.ErrDuplicateWord):
		b.respondError(session, interaction, "That word is already in the filter list.")
	case errors.Is(err, automod.ErrWordNotFound):
		b.respondError(session, interaction, "That word is not in the filter list.")
	case err != nil:
		b.logger.Warn("filtered word update failed", zap.String("guild_id", guildID), zap.String("action", action), zap.Error(err))
		b.respondError(session, interaction, "Failed to update the filter list.")
	case action == "add":
		b.respond(session, interaction, fmt.Sprintf("✅ Added `%s` to the filter list.", normalized), true)
	default:
		b.respond(session, interaction, fmt.Sprintf("✅ Removed `%s` from the filter list.", normalized), true)
	}
}

func automodSettingsFields(cfg automod.Config) []*discordgo.MessageEmbedField {
	logChannel := "Not set"
	if cfg.Settings.LogChannel != nil && *cfg.Settings.LogChannel != "" {
		logChannel = "<#" + *cfg.Settings.LogChannel + ">"
	}
	return []*discordgo.MessageEmbedField{
		field("📝 Log Channel", logChannel, true),
		field("📨 Spam Threshold", fmt.Sprintf("%d messages / %s", cfg.Settings.SpamThreshold, automod.SpamWindow), true),
		field("🔠 Caps Threshold", fmt.Sprintf("%d%%", cfg.Settings.CapsThreshold), true),
		field("🔗 Link Cooldown", fmt.Sprintf("%d seconds", cfg.Settings.LinkCooldown), true),
		field("📢 Mention Limit", fmt.Sprint(cfg.Settings.MentionLimit), true),
	}
}

func (b *Bot) handleLoggingCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	sub, opts := splitSubcommand(options)
	guildID := interaction.GuildID

	switch sub {
	case "setup":
		channel := opts.channel(session, "channel")
		if channel == nil {
			b.respondError(session, interaction, "Please choose a text channel.")
			return
		}
		route, err := b.router.Setup(ctx, guildID, eventlog.Route{
			ChannelID:   channel.ID,
			ChannelName: channel.Name,
			Types:       opts.str("types"),
			SetupBy:     interactionUser(interaction).ID,
		})
		if err != nil {
			if errors.Is(err, eventlog.ErrUnknownType) {
				b.respondError(session, interaction, "Unknown log type.")
				return
			}
			b.logger.Warn("logging setup failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondError(session, interaction, "Failed to save logging settings.")
			return
		}
		welcome := b.brandedEmbed(footerLogging, "📝 Logging Enabled", "This channel will now receive server logs.", b.cfg.Embeds.Colors.Success,
			field("📋 Log Types", route.Types, true),
			field("👤 Set Up By", "<@"+route.SetupBy+">", true),
		)
		if _, err := session.ChannelMessageSendEmbed(route.ChannelID, welcome); err != nil {
			b.logger.Warn("logging welcome failed", zap.String("guild_id", guildID), zap.Error(err))
		}
		b.respond(session, interaction, fmt.Sprintf("✅ Logging has been set up in <#%s> for **%s** events.", route.ChannelID, route.Types), true)
	case "disable":
		if err := b.router.Disable(ctx, guildID); err != nil {
			if errors.Is(err, eventlog.ErrNotConfigured) {
				b.respondError(session, interaction, "Logging is not currently enabled for this server.")
				return
			}
			b.logger.Warn("logging disable failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondError(session, interaction, "Failed to disable logging.")
			return
		}
		b.respond(session, interaction, "✅ Logging has been disabled for this server.", true)
	case "status":
		route, ok := b.router.Get(guildID)
		if !ok {
			b.respondError(session, interaction, "Logging is not currently enabled for this server.")
			return
		}
		embed := b.brandedEmbed(footerLogging, "📝 Logging Status", "Logging is enabled for this server.", b.cfg.Embeds.Colors.Primary,
			field("📝 Channel", "<#"+route.ChannelID+">", true),
			field("📋 Log Types", route.Types, true),
			field("👤 Set Up By", "<@"+route.SetupBy+">", true),
			field("📅 Set Up", timestampTag(route.SetupAt, "R"), true),
		)
		b.respondEmbed(session, interaction, embed, true)
	default:
		b.respondError(session, interaction, "Unknown logging action.")
	}
}

func (b *Bot) handleStatChannelsCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	sub, opts := splitSubcommand(options)
	guildID := interaction.GuildID

	switch sub {
	case "setup":
		categoryID := ""
		if category := opts.channel(session, "category"); category != nil {
			categoryID = category.ID
		}
		if !b.deferReply(session, interaction) {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		reg, snap, err := b.stats.Setup(ctx, guildID, categoryID, interactionUser(interaction).ID)
		if err != nil {
			content := "❌ Failed to create the analytics voice channels. Check that I have the Manage Channels permission."
			if errors.Is(err, statchannels.ErrAlreadyConfigured) {
				content = "❌ Analytics voice channels are already set up for this server. Use `/analyticsvc disable` first."
			} else {
				b.logger.Warn("stat channel setup failed", zap.String("guild_id", guildID), zap.Error(err))
			}
			b.followUp(session, interaction, &discordgo.WebhookParams{Content: content})
			return
		}
		embed := b.brandedEmbed(footerAnalytics, "📊 Analytics Voice Channels Created", "Voice channels now show live server statistics.", b.cfg.Embeds.Colors.Success,
			statChannelFields(reg.Channels, snap)...)
		b.followUp(session, interaction, &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{embed}})
	case "disable":
		if !b.deferReply(session, interaction) {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		content := "✅ Analytics voice channels have been removed."
		if err := b.stats.Teardown(ctx, guildID); err != nil {
			if errors.Is(err, statchannels.ErrNotConfigured) {
				content = "❌ Analytics voice channels are not set up for this server."
			} else {
				b.logger.Warn("stat channel teardown failed", zap.String("guild_id", guildID), zap.Error(err))
				content = "⚠️ Analytics voice channels were disabled, but some channels could not be deleted."
			}
		}
		b.followUp(session, interaction, &discordgo.WebhookParams{Content: content})
	case "status":
		reg, ok := b.stats.Registry().Get(guildID)
		if !ok {
			b.respondError(session, interaction, "Analytics voice channels are not set up for this server. Use `/analyticsvc setup` first.")
			return
		}
		fields := []*discordgo.MessageEmbedField{
			field("👥 Members Channel", "<#"+reg.Channels.TotalMembers+">", true),
			field("🟢 Online Channel", "<#"+reg.Channels.OnlineMembers+">", true),
			field("🤖 Bots Channel", "<#"+reg.Channels.Bots+">", true),
			field("👤 Set Up By", "<@"+reg.SetupBy+">", true),
			field("🔄 Last Update", timestampTag(reg.LastUpdate, "R"), true),
		}
		embed := b.brandedEmbed(footerAnalytics, "📊 Analytics Voice Channels", "Statistic channels are active.", b.cfg.Embeds.Colors.Primary, fields...)
		b.respondEmbed(session, interaction, embed, true)
	default:
		b.respondError(session, interaction, "Unknown analyticsvc action.")
	}
}

func statChannelFields(channels statchannels.Channels, snap statchannels.Snapshot) []*discordgo.MessageEmbedField {
	return []*discordgo.MessageEmbedField{
		field(snap.MembersLabel(), "<#"+channels.TotalMembers+">", true),
		field(snap.OnlineLabel(), "<#"+channels.OnlineMembers+">", true),
		field(snap.BotsLabel(), "<#"+channels.Bots+">", true),
	}
}

func (b *Bot) helpEmbed() *discordgo.MessageEmbed {
	return b.brandedEmbed(footerSupport, "📚 Bot Commands", "Here are all the available commands:", b.cfg.Embeds.Colors.Primary,
		field("🔨 Moderation", strings.Join([]string{
			"`/ban` - Ban a user from the server",
			"`/kick` - Kick a user from the server",
			"`/timeout` - Timeout a user",
			"`/warn` - Warn a user",
			"`/unban` - Unban a user by ID",
			"`/clear` - Bulk delete recent messages",
		}, "\n"), false),
		field("📊 Analytics", strings.Join([]string{
			"`/analytics` - Server activity reports",
			"`/analyticsvc` - Live statistic voice channels",
		}, "\n"), false),
		field("🛡️ Server Management", strings.Join([]string{
			"`/automod` - Configure auto-moderation",
			"`/logging` - Configure the log channel",
		}, "\n"), false),
		field("🎫 Support", strings.Join([]string{
			"`/ticket` - Create a support ticket",
			"`/ticketpanel` - Post a ticket creation panel",
		}, "\n"), false),
	)
}
