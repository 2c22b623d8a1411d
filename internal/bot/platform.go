package bot

import (
	"context"
	"errors"
	"time"

	"guildpulse/internal/config"
	"guildpulse/internal/eventlog"

	"github.com/bwmarrin/discordgo"
)

// channelDeliverer posts event-log records into the route's channel.
type channelDeliverer struct {
	session *discordgo.Session
	embeds  config.EmbedConfig
}

func (d *channelDeliverer) Deliver(ctx context.Context, guildID string, route eventlog.Route, record eventlog.Record) error {
	if route.ChannelID == "" {
		return errors.New("route has no channel")
	}
	_, err := d.session.ChannelMessageSendEmbed(route.ChannelID, logEmbed(record, d.embeds, time.Now()))
	return err
}

// sessionGuilds gives the statistic channels access to guilds through the
// gateway state, falling back to REST.
type sessionGuilds struct {
	session *discordgo.Session
}

func (g *sessionGuilds) MemberCount(ctx context.Context, guildID string) (int, error) {
	if guild, err := g.session.State.Guild(guildID); err == nil && guild.MemberCount > 0 {
		return guild.MemberCount, nil
	}
	guild, err := g.session.Guild(guildID)
	if err != nil {
		return 0, err
	}
	if guild.MemberCount > 0 {
		return guild.MemberCount, nil
	}
	return guild.ApproximateMemberCount, nil
}

func (g *sessionGuilds) ChannelName(ctx context.Context, channelID string) (string, bool) {
	if channel, err := g.session.State.Channel(channelID); err == nil {
		return channel.Name, true
	}
	channel, err := g.session.Channel(channelID)
	if err != nil {
		return "", false
	}
	return channel.Name, true
}

func (g *sessionGuilds) RenameChannel(ctx context.Context, channelID, name string) error {
	_, err := g.session.ChannelEditComplex(channelID, &discordgo.ChannelEdit{Name: name})
	return err
}

// CreateStatChannel creates a voice channel nobody can join.
func (g *sessionGuilds) CreateStatChannel(ctx context.Context, guildID, categoryID, name string) (string, error) {
	channel, err := g.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildVoice,
		ParentID: categoryID,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{
				ID:    guildID,
				Type:  discordgo.PermissionOverwriteTypeRole,
				Deny:  discordgo.PermissionVoiceConnect,
				Allow: discordgo.PermissionViewChannel,
			},
		},
	})
	if err != nil {
		return "", err
	}
	return channel.ID, nil
}

func (g *sessionGuilds) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := g.session.ChannelDelete(channelID)
	return err
}
