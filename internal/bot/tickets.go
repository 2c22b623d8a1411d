package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guildpulse/internal/tickets"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const claimedFieldName = "✋ Claimed By"

func ticketButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "🔒 Close Ticket", Style: discordgo.DangerButton, CustomID: tickets.CloseButtonID},
			discordgo.Button{Label: "✋ Claim Ticket", Style: discordgo.SuccessButton, CustomID: tickets.ClaimButtonID},
			discordgo.Button{Label: "📄 Transcript", Style: discordgo.SecondaryButton, CustomID: tickets.TranscriptButtonID},
		}},
	}
}

func ticketActor(interaction *discordgo.InteractionCreate) tickets.Actor {
	perms := memberPermissions(interaction)
	actor := tickets.Actor{
		ManageChannels: hasPermission(perms, discordgo.PermissionManageChannels),
		ModerateMember: hasPermission(perms, discordgo.PermissionModerateMembers),
	}
	if user := interactionUser(interaction); user != nil {
		actor.UserID = user.ID
		actor.Username = user.Username
	}
	return actor
}

func (b *Bot) handleTicketCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts commandOptions) {
	b.openTicket(ctx, session, interaction, opts.str("category"), opts.str("description"))
}

func (b *Bot) handleTicketPanelCommand(session *discordgo.Session, interaction *discordgo.InteractionCreate, opts commandOptions) {
	title := opts.str("title")
	if title == "" {
		title = "🎫 Support Tickets"
	}
	description := opts.str("description")
	if description == "" {
		description = "Need help? Click the button below to create a support ticket.\n\nOur support team will assist you as soon as possible."
	}
	embed := b.brandedEmbed(footerSupport, title, description, b.cfg.Embeds.Colors.Primary)
	_, err := session.ChannelMessageSendComplex(interaction.ChannelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "🎫 Create Ticket", Style: discordgo.PrimaryButton, CustomID: tickets.CreateButtonID},
			}},
		},
	})
	if err != nil {
		b.logger.Warn("ticket panel failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondError(session, interaction, "Failed to post the ticket panel.")
		return
	}
	b.respond(session, interaction, "✅ Ticket panel created!", true)
}

func (b *Bot) showCategorySelect(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	options := make([]discordgo.SelectMenuOption, 0, len(tickets.Categories))
	for _, c := range tickets.Categories {
		options = append(options, discordgo.SelectMenuOption{
			Label:       c.Emoji + " " + c.Label,
			Value:       c.Value,
			Description: c.Description,
		})
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "🎫 **Select a ticket category:**",
			Flags:   discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						MenuType:    discordgo.StringSelectMenu,
						CustomID:    tickets.CategorySelectID,
						Placeholder: "Choose a category...",
						Options:     options,
					},
				}},
			},
		},
	})
	if err != nil {
		b.logger.Warn("ticket category menu failed", zap.Error(err))
	}
}

func (b *Bot) onCategorySelected(session *discordgo.Session, interaction *discordgo.InteractionCreate, values []string) {
	user := interactionUser(interaction)
	if user == nil || len(values) == 0 {
		return
	}
	b.selections.Put(user.ID, values[0])
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: tickets.ModalID,
			Title:    "Create Support Ticket",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    tickets.DescriptionInputID,
						Label:       "Describe your issue",
						Style:       discordgo.TextInputParagraph,
						Placeholder: "Please provide details about your issue...",
						Required:    true,
						MaxLength:   tickets.MaxDescription,
					},
				}},
			},
		},
	})
	if err != nil {
		b.logger.Warn("ticket modal failed", zap.Error(err))
	}
}

func (b *Bot) onTicketModal(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ModalSubmitInteractionData) {
	user := interactionUser(interaction)
	if user == nil {
		return
	}
	category := b.selections.Take(user.ID)
	b.openTicket(ctx, session, interaction, category, modalValue(data.Components, tickets.DescriptionInputID))
}

// modalValue finds a text input's value in submitted modal rows.
func modalValue(rows []discordgo.MessageComponent, customID string) string {
	for _, row := range rows {
		var inner []discordgo.MessageComponent
		switch r := row.(type) {
		case *discordgo.ActionsRow:
			inner = r.Components
		case discordgo.ActionsRow:
			inner = r.Components
		}
		for _, component := range inner {
			switch input := component.(type) {
			case *discordgo.TextInput:
				if input.CustomID == customID {
					return input.Value
				}
			case discordgo.TextInput:
				if input.CustomID == customID {
					return input.Value
				}
			}
		}
	}
	return ""
}

// existingTicket returns the id of the user's open ticket channel, if any.
func (b *Bot) existingTicket(session *discordgo.Session, guildID, name string) (string, bool) {
	var channels []*discordgo.Channel
	if guild, err := session.State.Guild(guildID); err == nil {
		channels = guild.Channels
	} else if fetched, err := session.GuildChannels(guildID); err == nil {
		channels = fetched
	}
	for _, channel := range channels {
		if channel.Type == discordgo.ChannelTypeGuildText && channel.Name == name {
			return channel.ID, true
		}
	}
	return "", false
}

func (b *Bot) openTicket(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, categoryValue, description string) {
	user := interactionUser(interaction)
	if user == nil {
		return
	}
	category, ok := tickets.LookupCategory(categoryValue)
	if !ok {
		category, _ = tickets.LookupCategory(tickets.FallbackCategory)
	}
	if strings.TrimSpace(description) == "" {
		b.respondError(session, interaction, "Please describe your issue.")
		return
	}
	if !b.deferReply(session, interaction) {
		return
	}

	name := tickets.ChannelName(user.Username)
	if id, ok := b.existingTicket(session, interaction.GuildID, name); ok {
		b.followUp(session, interaction, &discordgo.WebhookParams{Content: fmt.Sprintf("❌ You already have an open ticket: <#%s>", id)})
		return
	}

	member := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory)
	channel, err := session.GuildChannelCreateComplex(interaction.GuildID, discordgo.GuildChannelCreateData{
		Name:  name,
		Type:  discordgo.ChannelTypeGuildText,
		Topic: fmt.Sprintf("Support ticket for %s (%s) | Category: %s", user.String(), user.ID, category.Label),
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: interaction.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
			{ID: user.ID, Type: discordgo.PermissionOverwriteTypeMember, Allow: member},
			{ID: session.State.User.ID, Type: discordgo.PermissionOverwriteTypeMember, Allow: member | discordgo.PermissionManageChannels},
		},
	})
	if err != nil {
		b.logger.Warn("ticket channel create failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.followUp(session, interaction, &discordgo.WebhookParams{Content: "❌ Failed to create your ticket. Please contact a moderator."})
		return
	}

	embed := b.brandedEmbed(footerSupport, category.Emoji+" Support Ticket",
		fmt.Sprintf("Hello <@%s>! Thank you for creating a support ticket.\n\nOur support team will be with you shortly. Please provide any additional details about your issue.", user.ID),
		b.cfg.Embeds.Colors.Primary,
		field("📋 Category", category.Label, true),
		field("👤 Created By", "<@"+user.ID+">", true),
		field("📅 Created", timestampTag(time.Now(), "F"), true),
		field("📝 Description", truncate(description, tickets.MaxDescription), false),
	)
	_, err = session.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
		Content:    "<@" + user.ID + ">",
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: ticketButtons(),
	})
	if err != nil {
		b.logger.Warn("ticket welcome failed", zap.String("channel_id", channel.ID), zap.Error(err))
	}
	b.logger.Info("ticket opened", zap.String("guild_id", interaction.GuildID), zap.String("user_id", user.ID), zap.String("category", category.Value))
	b.followUp(session, interaction, &discordgo.WebhookParams{Content: fmt.Sprintf("✅ Ticket created: <#%s>", channel.ID)})
}

func (b *Bot) ticketChannel(session *discordgo.Session, channelID string) (*discordgo.Channel, error) {
	if channel, err := session.State.Channel(channelID); err == nil {
		return channel, nil
	}
	return session.Channel(channelID)
}

func (b *Bot) closeTicket(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	channel, err := b.ticketChannel(session, interaction.ChannelID)
	if err != nil {
		b.respondError(session, interaction, "Could not read this ticket channel.")
		return
	}
	actor := ticketActor(interaction)
	if !tickets.CanClose(actor, channel.Topic, channel.Name) {
		b.respondError(session, interaction, "You don't have permission to close this ticket.")
		return
	}

	delay := b.cfg.TicketCloseDelay()
	embed := b.brandedEmbed(footerSupport, "🔒 Ticket Closing",
		fmt.Sprintf("This ticket will be deleted in %d seconds.", int(delay.Seconds())), b.cfg.Embeds.Colors.Error,
		field("👤 Closed By", "<@"+actor.UserID+">", true),
	)
	b.respondEmbed(session, interaction, embed, false)

	channelID := channel.ID
	time.AfterFunc(delay, func() {
		if _, err := session.ChannelDelete(channelID); err != nil {
			b.logger.Warn("ticket delete failed", zap.String("channel_id", channelID), zap.Error(err))
		}
	})
}

// claimed reports whether a ticket message already names a claimer.
func claimed(embed *discordgo.MessageEmbed) bool {
	if embed == nil {
		return false
	}
	for _, f := range embed.Fields {
		if f != nil && f.Name == claimedFieldName {
			return true
		}
	}
	return false
}

func (b *Bot) claimTicket(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	actor := ticketActor(interaction)
	if !tickets.CanClaim(actor) {
		b.respondError(session, interaction, "Only moderators can claim tickets.")
		return
	}
	msg := interaction.Message
	if msg == nil || len(msg.Embeds) == 0 {
		b.respondError(session, interaction, "This is not a ticket message.")
		return
	}
	if claimed(msg.Embeds[0]) {
		b.respondError(session, interaction, "This ticket has already been claimed.")
		return
	}

	updated := *msg.Embeds[0]
	updated.Fields = append(append([]*discordgo.MessageEmbedField{}, updated.Fields...), field(claimedFieldName, "<@"+actor.UserID+">", true))
	updated.Color = b.cfg.Embeds.Colors.Success
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{&updated},
			Components: msg.Components,
		},
	})
	if err != nil {
		b.logger.Warn("ticket claim update failed", zap.Error(err))
		return
	}

	notice := b.brandedEmbed(footerSupport, "✋ Ticket Claimed",
		fmt.Sprintf("<@%s> has claimed this ticket and will assist you.", actor.UserID), b.cfg.Embeds.Colors.Success)
	if _, err := session.ChannelMessageSendEmbed(interaction.ChannelID, notice); err != nil {
		b.logger.Warn("ticket claim notice failed", zap.Error(err))
	}
}

func (b *Bot) saveTranscript(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	channel, err := b.ticketChannel(session, interaction.ChannelID)
	if err != nil {
		b.respondError(session, interaction, "Could not read this ticket channel.")
		return
	}
	if !tickets.CanClose(ticketActor(interaction), channel.Topic, channel.Name) {
		b.respondError(session, interaction, "You don't have permission to save this transcript.")
		return
	}
	if !b.deferReply(session, interaction) {
		return
	}

	fetched, err := session.ChannelMessages(channel.ID, tickets.MaxTranscriptMessages, "", "", "")
	if err != nil {
		b.logger.Warn("ticket transcript fetch failed", zap.String("channel_id", channel.ID), zap.Error(err))
		b.followUp(session, interaction, &discordgo.WebhookParams{Content: "❌ Failed to fetch the ticket messages."})
		return
	}
	messages := make([]tickets.Message, 0, len(fetched))
	for _, m := range fetched {
		author := "Unknown"
		if m.Author != nil {
			author = m.Author.String()
		}
		messages = append(messages, tickets.Message{AuthorTag: author, Content: m.Content, Timestamp: m.Timestamp})
	}
	created, _ := discordgo.SnowflakeTimestamp(channel.ID)
	body, count := tickets.Transcript(channel.Name, messages, created)

	now := time.Now()
	embed := b.brandedEmbed(footerSupport, "📄 Transcript Saved",
		fmt.Sprintf("Saved %d messages from %s.", count, channel.Mention()), b.cfg.Embeds.Colors.Success)
	b.followUp(session, interaction, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
		Files: []*discordgo.File{{
			Name:        tickets.TranscriptFileName(channel.Name, now),
			ContentType: "text/plain",
			Reader:      strings.NewReader(body),
		}},
	})
}
