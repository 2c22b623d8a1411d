package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guildpulse/internal/analytics"
	"guildpulse/internal/automod"
	"guildpulse/internal/config"
	"guildpulse/internal/eventlog"
	"guildpulse/internal/metrics"
	"guildpulse/internal/statchannels"
	"guildpulse/internal/tickets"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	scannerSweepInterval = time.Minute
	scannerIdle          = 5 * time.Minute
)

// Services are the stateful components the bot drives.
type Services struct {
	Analytics  *analytics.Service
	Automod    *automod.Manager
	Scanner    *automod.Scanner
	Router     *eventlog.Router
	Dispatcher *eventlog.Dispatcher
	Stats      *statchannels.Service
}

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	session    *discordgo.Session
	analytics  *analytics.Service
	automod    *automod.Manager
	scanner    *automod.Scanner
	router     *eventlog.Router
	dispatcher *eventlog.Dispatcher
	stats      *statchannels.Service
	selections *tickets.Selections
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *zap.Logger, services Services) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	// Keeps recent messages so edits and deletes carry their author and content.
	session.State.MaxMessageCount = 200

	b := &Bot{
		cfg:        cfg,
		logger:     logger,
		session:    session,
		analytics:  services.Analytics,
		automod:    services.Automod,
		scanner:    services.Scanner,
		router:     services.Router,
		dispatcher: services.Dispatcher,
		stats:      services.Stats,
		selections: tickets.NewSelections(),
	}

	if b.dispatcher != nil {
		b.dispatcher.SetDeliverer(&channelDeliverer{session: session, embeds: cfg.Embeds})
	}
	if b.stats != nil {
		b.stats.SetGuilds(&sessionGuilds{session: session})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageUpdate)
	b.session.AddHandler(b.onMessageDelete)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.stop = cancel
	b.wg.Add(1)
	go b.sweepScanner(ctx)

	return nil
}

// Run starts the bot and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(); err != nil {
		return fmt.Errorf("start bot: %w", err)
	}
	b.logger.Info("bot started")
	<-ctx.Done()
	b.Close()
	return nil
}

func (b *Bot) Close() {
	if b.stop != nil {
		b.stop()
	}
	b.wg.Wait()
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) sweepScanner(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(scannerSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.scanner.Sweep(scannerIdle); n > 0 {
				b.logger.Debug("automod windows swept", zap.Int("count", n))
			}
		}
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	metrics.EventsTotal.WithLabelValues("message_create").Inc()
	ctx := context.Background()

	channelName := ""
	if channel, err := session.State.Channel(msg.ChannelID); err == nil {
		channelName = channel.Name
	}
	var joinedAt time.Time
	if msg.Member != nil {
		joinedAt = msg.Member.JoinedAt
	}
	err := b.analytics.RecordMessage(ctx, analytics.MessageEvent{
		GuildID:     msg.GuildID,
		UserID:      msg.Author.ID,
		ChannelID:   msg.ChannelID,
		Username:    msg.Author.Username,
		Tag:         msg.Author.String(),
		ChannelName: channelName,
		JoinedAt:    joinedAt,
	})
	if err != nil {
		b.logger.Warn("record message failed", zap.String("guild_id", msg.GuildID), zap.Error(err))
	}

	b.moderateMessage(ctx, session, msg)
}

// moderateMessage runs the guild's auto-moderation rules and removes the
// message when one fires.
func (b *Bot) moderateMessage(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate) {
	cfg, ok := b.automod.Lookup(msg.GuildID)
	if !ok {
		return
	}
	verdict, hit := b.scanner.Scan(cfg, automod.Message{
		GuildID:  msg.GuildID,
		UserID:   msg.Author.ID,
		Content:  msg.Content,
		Mentions: len(msg.Mentions) + len(msg.MentionRoles),
	})
	if !hit {
		return
	}
	metrics.AutomodHitsTotal.WithLabelValues(verdict.Rule).Inc()

	if err := session.ChannelMessageDelete(msg.ChannelID, msg.ID); err != nil {
		b.logger.Warn("automod delete failed", zap.String("guild_id", msg.GuildID), zap.String("rule", verdict.Rule), zap.Error(err))
	}

	botUser := session.State.User
	entry, err := b.analytics.RecordModeration(ctx, analytics.ModerationEvent{
		GuildID:      msg.GuildID,
		ModeratorID:  botUser.ID,
		ModeratorTag: botUser.String(),
		TargetID:     msg.Author.ID,
		TargetTag:    msg.Author.String(),
		Action:       analytics.ActionAutomod,
		Reason:       verdict.Detail,
		Extra:        map[string]any{"rule": verdict.Rule, "channel_id": msg.ChannelID},
	})
	if err != nil {
		b.logger.Warn("record automod action failed", zap.String("guild_id", msg.GuildID), zap.Error(err))
	}

	if cfg.Settings.LogChannel == nil || *cfg.Settings.LogChannel == "" {
		return
	}
	embed := b.commandEmbed("🤖 Auto-Moderation", fmt.Sprintf("Removed a message from <@%s> in <#%s>", msg.Author.ID, msg.ChannelID), colorPink, []*discordgo.MessageEmbedField{
		field("📋 Rule", automod.FeatureLabel(verdict.Rule), true),
		field("📝 Detail", verdict.Detail, true),
		field("🆔 Entry", entry.ID, true),
	})
	embed.Footer = footer(b.cfg.Embeds.Brand, footerAutomod)
	if _, err := session.ChannelMessageSendEmbed(*cfg.Settings.LogChannel, embed); err != nil {
		b.logger.Warn("automod notice failed", zap.String("guild_id", msg.GuildID), zap.Error(err))
	}
}

func (b *Bot) onMessageUpdate(session *discordgo.Session, event *discordgo.MessageUpdate) {
	if event.Message == nil || event.GuildID == "" {
		return
	}
	author := event.Author
	if author == nil && event.BeforeUpdate != nil {
		author = event.BeforeUpdate.Author
	}
	if author == nil || author.Bot {
		return
	}
	// Embed unfurls arrive as updates without an edit timestamp.
	if event.EditedTimestamp == nil {
		return
	}
	metrics.EventsTotal.WithLabelValues("message_update").Inc()
	ctx := context.Background()

	if err := b.analytics.RecordMessageEdit(ctx, event.GuildID); err != nil {
		b.logger.Warn("record message edit failed", zap.String("guild_id", event.GuildID), zap.Error(err))
	}
	b.dispatcher.Notify(ctx, event.GuildID, eventlog.Record{Kind: eventlog.KindMessages, Fields: map[string]any{
		"event":       "edit",
		"author_tag":  author.String(),
		"channel":     "<#" + event.ChannelID + ">",
		"message_url": fmt.Sprintf("https://discord.com/channels/%s/%s/%s", event.GuildID, event.ChannelID, event.ID),
	}})
}

func (b *Bot) onMessageDelete(session *discordgo.Session, event *discordgo.MessageDelete) {
	if event.Message == nil || event.GuildID == "" {
		return
	}
	before := event.BeforeDelete
	if before != nil && before.Author != nil && before.Author.Bot {
		return
	}
	metrics.EventsTotal.WithLabelValues("message_delete").Inc()
	ctx := context.Background()

	if err := b.analytics.RecordMessageDelete(ctx, event.GuildID); err != nil {
		b.logger.Warn("record message delete failed", zap.String("guild_id", event.GuildID), zap.Error(err))
	}
	authorTag, content := "Unknown", ""
	if before != nil {
		content = before.Content
		if before.Author != nil {
			authorTag = before.Author.String()
		}
	}
	b.dispatcher.Notify(ctx, event.GuildID, eventlog.Record{Kind: eventlog.KindMessages, Fields: map[string]any{
		"event":      "delete",
		"author_tag": authorTag,
		"channel":    "<#" + event.ChannelID + ">",
		"content":    content,
	}})
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	metrics.EventsTotal.WithLabelValues("member_add").Inc()
	ctx := context.Background()

	err := b.analytics.RecordMemberJoin(ctx, event.GuildID, event.User.ID, analytics.Profile{
		Username: event.User.Username,
		Tag:      event.User.String(),
		JoinedAt: event.JoinedAt,
	})
	if err != nil {
		b.logger.Warn("record member join failed", zap.String("guild_id", event.GuildID), zap.Error(err))
	}

	fields := map[string]any{
		"event":    "join",
		"user_tag": event.User.String(),
		"user_id":  event.User.ID,
	}
	if created, err := discordgo.SnowflakeTimestamp(event.User.ID); err == nil {
		fields["user_created_at"] = created
	}
	b.dispatcher.Notify(ctx, event.GuildID, eventlog.Record{Kind: eventlog.KindMembers, Fields: fields})
	b.refreshStats(event.GuildID)
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	metrics.EventsTotal.WithLabelValues("member_remove").Inc()
	ctx := context.Background()

	record, known, err := b.analytics.RecordMemberLeave(ctx, event.GuildID, event.User.ID)
	if err != nil {
		b.logger.Warn("record member leave failed", zap.String("guild_id", event.GuildID), zap.Error(err))
	}

	fields := map[string]any{
		"event":    "leave",
		"user_tag": event.User.String(),
		"user_id":  event.User.ID,
	}
	if known {
		fields["joined_at"] = record.JoinedAt
	}
	b.dispatcher.Notify(ctx, event.GuildID, eventlog.Record{Kind: eventlog.KindMembers, Fields: fields})
	b.refreshStats(event.GuildID)
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.User == nil || event.GuildID == "" || event.BeforeUpdate == nil {
		return
	}
	metrics.EventsTotal.WithLabelValues("member_update").Inc()
	ctx := context.Background()

	changed, err := b.analytics.RecordRoleCountChange(ctx, event.GuildID, event.User.ID, len(event.BeforeUpdate.Roles), len(event.Roles))
	if err != nil {
		b.logger.Warn("record role change failed", zap.String("guild_id", event.GuildID), zap.Error(err))
	}
	if !changed {
		return
	}
	b.dispatcher.Notify(ctx, event.GuildID, eventlog.Record{Kind: eventlog.KindRoles, Fields: map[string]any{
		"user_tag":   event.User.String(),
		"role_count": len(event.Roles),
	}})
}

// refreshStats updates the guild's statistic channels off the event goroutine.
func (b *Bot) refreshStats(guildID string) {
	if b.stats == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := b.stats.RefreshGuild(ctx, guildID); err != nil {
			b.logger.Warn("stat channel refresh failed", zap.String("guild_id", guildID), zap.Error(err))
		}
	}()
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
	if err != nil {
		b.logger.Warn("interaction response failed", zap.Error(err))
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
	if err != nil {
		b.logger.Warn("interaction response failed", zap.Error(err))
	}
}

// respondError replies with an ephemeral "❌ ..." message.
func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, message string) {
	b.respond(session, interaction, "❌ "+message, true)
}

// deferReply acknowledges a slow interaction; the answer goes through followUp.
func (b *Bot) deferReply(session *discordgo.Session, interaction *discordgo.InteractionCreate) bool {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.logger.Warn("interaction defer failed", zap.Error(err))
		return false
	}
	return true
}

func (b *Bot) followUp(session *discordgo.Session, interaction *discordgo.InteractionCreate, params *discordgo.WebhookParams) {
	params.Flags = discordgo.MessageFlagsEphemeral
	if _, err := session.FollowupMessageCreate(interaction.Interaction, true, params); err != nil {
		b.logger.Warn("interaction follow-up failed", zap.Error(err))
	}
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

// brandedEmbed is commandEmbed with the feature footer.
func (b *Bot) brandedEmbed(feature, title, description string, color int, fields ...*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	embed := b.commandEmbed(title, description, color, fields)
	embed.Footer = footer(b.cfg.Embeds.Brand, feature)
	return embed
}

func interactionUser(interaction *discordgo.InteractionCreate) *discordgo.User {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User
	}
	return interaction.User
}

func memberPermissions(interaction *discordgo.InteractionCreate) int64 {
	if interaction.Member == nil {
		return 0
	}
	return interaction.Member.Permissions
}

func hasPermission(perms, flag int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 || perms&flag == flag
}

func (b *Bot) guildName(guildID string) string {
	if guild, err := b.session.State.Guild(guildID); err == nil {
		return guild.Name
	}
	return "this server"
}
