package bot

import (
	"guildpulse/internal/analytics"
	"guildpulse/internal/automod"
	"guildpulse/internal/eventlog"
	"guildpulse/internal/tickets"

	"github.com/bwmarrin/discordgo"
)

func permission(flag int64) *int64 {
	return &flag
}

func minValue(v float64) *float64 {
	return &v
}

func limitOption(name, description string, upper int) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: description,
		MinValue:    minValue(1),
		MaxValue:    float64(upper),
	}
}

func userOption(description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: description,
		Required:    required,
	}
}

func reasonOption(description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: description,
		Required:    required,
	}
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func featureChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(automod.Features))
	for _, feature := range automod.Features {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: automod.FeatureLabel(feature), Value: feature})
	}
	return choices
}

func categoryChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(tickets.Categories))
	for _, c := range tickets.Categories {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: c.Emoji + " " + c.Label, Value: c.Value})
	}
	return choices
}

func applicationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "analytics",
			Description:              "View server analytics and statistics",
			DefaultMemberPermissions: permission(discordgo.PermissionManageServer),
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("overview", "Show server overview statistics"),
				subcommand("users", "Show user activity statistics",
					limitOption("limit", "Number of users to show (default: 10)", analytics.MaxListLimit)),
				subcommand("channels", "Show channel activity statistics",
					limitOption("limit", "Number of channels to show (default: 10)", analytics.MaxListLimit)),
				subcommand("moderation", "Show moderation logs and statistics",
					limitOption("limit", "Number of logs to show (default: 10)", analytics.MaxListLimit)),
				subcommand("daily", "Show daily activity statistics",
					limitOption("days", "Number of days to show (default: 7)", analytics.MaxDays)),
			},
		},
		{
			Name:                     "automod",
			Description:              "Configure auto-moderation settings",
			DefaultMemberPermissions: permission(discordgo.PermissionManageServer),
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("setup", "Setup auto-moderation system",
					&discordgo.ApplicationCommandOption{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         "log_channel",
						Description:  "Channel for auto-moderation logs",
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "spam_threshold",
						Description: "Number of messages in 10 seconds to trigger spam detection (3-10)",
						MinValue:    minValue(automod.MinSpamThreshold),
						MaxValue:    automod.MaxSpamThreshold,
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "caps_threshold",
						Description: "Percentage of caps to trigger detection (70-100)",
						MinValue:    minValue(automod.MinCapsThreshold),
						MaxValue:    automod.MaxCapsThreshold,
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "link_cooldown",
						Description: "Cooldown between links in seconds (30-300)",
						MinValue:    minValue(automod.MinLinkCooldown),
						MaxValue:    automod.MaxLinkCooldown,
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "mention_limit",
						Description: "Mentions allowed in one message (1-50)",
						MinValue:    minValue(automod.MinMentionLimit),
						MaxValue:    automod.MaxMentionLimit,
					},
				),
				subcommand("status", "Show current auto-moderation settings"),
				subcommand("toggle", "Toggle auto-moderation features",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "feature",
						Description: "Feature to toggle",
						Required:    true,
						Choices:     featureChoices(),
					},
				),
				subcommand("words", "Manage filtered words",
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "action",
						Description: "Action to perform",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "Add Word", Value: "add"},
							{Name: "Remove Word", Value: "remove"},
							{Name: "List Words", Value: "list"},
						},
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "word",
						Description: "Word to add/remove",
					},
				),
			},
		},
		{
			Name:                     "logging",
			Description:              "Manage logging channels for server activity",
			DefaultMemberPermissions: permission(discordgo.PermissionManageServer),
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("setup", "Set up a logging channel",
					&discordgo.ApplicationCommandOption{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         "channel",
						Description:  "Channel to send logs to",
						Required:     true,
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					},
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "types",
						Description: "Types of logs to send",
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "All Logs", Value: eventlog.TypeAll},
							{Name: "Moderation Only", Value: eventlog.KindModeration},
							{Name: "Member Activity", Value: eventlog.KindMembers},
							{Name: "Message Activity", Value: eventlog.KindMessages},
							{Name: "Role Changes", Value: eventlog.KindRoles},
						},
					},
				),
				subcommand("disable", "Disable logging for this server"),
				subcommand("status", "Check current logging status"),
			},
		},
		{
			Name:                     "analyticsvc",
			Description:              "Manage analytics voice channels for real-time server statistics",
			DefaultMemberPermissions: permission(discordgo.PermissionManageChannels),
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("setup", "Set up analytics voice channels",
					&discordgo.ApplicationCommandOption{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         "category",
						Description:  "Category to create channels in (optional)",
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory},
					},
				),
				subcommand("disable", "Remove analytics voice channels"),
				subcommand("status", "Check analytics voice channels status"),
			},
		},
		{
			Name:        "ticket",
			Description: "Create a support ticket",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "category",
					Description: "Select the category for your ticket",
					Required:    true,
					Choices:     categoryChoices(),
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "description",
					Description: "Brief description of your issue",
					Required:    true,
					MaxLength:   tickets.MaxDescription,
				},
			},
		},
		{
			Name:                     "ticketpanel",
			Description:              "Create a ticket creation panel (Moderators only)",
			DefaultMemberPermissions: permission(discordgo.PermissionManageChannels),
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "title", Description: "Title for the ticket panel"},
				{Type: discordgo.ApplicationCommandOptionString, Name: "description", Description: "Description for the ticket panel"},
			},
		},
		{
			Name:                     "ban",
			Description:              "Ban a user from the server",
			DefaultMemberPermissions: permission(discordgo.PermissionBanMembers),
			Options: []*discordgo.ApplicationCommandOption{
				userOption("The user to ban", true),
				reasonOption("Reason for banning the user", false),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "delete_messages",
					Description: "Number of days of messages to delete (0-7)",
					MinValue:    minValue(0),
					MaxValue:    7,
				},
			},
		},
		{
			Name:                     "kick",
			Description:              "Kick a user from the server",
			DefaultMemberPermissions: permission(discordgo.PermissionKickMembers),
			Options: []*discordgo.ApplicationCommandOption{
				userOption("The user to kick", true),
				reasonOption("Reason for kicking the user", false),
			},
		},
		{
			Name:                     "timeout",
			Description:              "Timeout a user for a specified duration",
			DefaultMemberPermissions: permission(discordgo.PermissionModerateMembers),
			Options: []*discordgo.ApplicationCommandOption{
				userOption("The user to timeout", true),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "duration",
					Description: "Duration in minutes (1-40320)",
					Required:    true,
					MinValue:    minValue(1),
					MaxValue:    maxTimeoutMinutes,
				},
				reasonOption("Reason for the timeout", false),
			},
		},
		{
			Name:                     "warn",
			Description:              "Warn a user for breaking server rules",
			DefaultMemberPermissions: permission(discordgo.PermissionModerateMembers),
			Options: []*discordgo.ApplicationCommandOption{
				userOption("The user to warn", true),
				reasonOption("Reason for the warning", true),
			},
		},
		{
			Name:                     "unban",
			Description:              "Unban a user from the server",
			DefaultMemberPermissions: permission(discordgo.PermissionBanMembers),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "user_id",
					Description: "The ID of the user to unban",
					Required:    true,
				},
				reasonOption("Reason for unbanning the user", false),
			},
		},
		{
			Name:                     "clear",
			Description:              "Clear a specified number of messages from the channel",
			DefaultMemberPermissions: permission(discordgo.PermissionManageMessages),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Number of messages to delete (1-100)",
					Required:    true,
					MinValue:    minValue(1),
					MaxValue:    maxClearAmount,
				},
				userOption("Only delete messages from this user", false),
			},
		},
		{
			Name:        "help",
			Description: "Show all available moderation and support commands",
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := applicationCommands()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		if err := b.session.ApplicationCommandDelete(appID, "", cmd.ID); err != nil {
			return err
		}
	}
	return nil
}
