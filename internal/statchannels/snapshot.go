package statchannels

import "fmt"

// No presence data is available, so online members and bots are fixed
// shares of the member count.
const (
	botShare    = 10
	onlineShare = 30
)

type Snapshot struct {
	Members int
	Online  int
	Bots    int
}

// Compute estimates the statistics from the guild's member count.
func Compute(memberCount int) Snapshot {
	if memberCount < 0 {
		memberCount = 0
	}
	return Snapshot{
		Members: memberCount,
		Online:  memberCount * onlineShare / 100,
		Bots:    memberCount * botShare / 100,
	}
}

func (s Snapshot) MembersLabel() string { return fmt.Sprintf("👥 Members: %d", s.Members) }
func (s Snapshot) OnlineLabel() string  { return fmt.Sprintf("🟢 Online: %d", s.Online) }
func (s Snapshot) BotsLabel() string    { return fmt.Sprintf("🤖 Bots: %d", s.Bots) }

// Target is a channel and the name it should carry.
type Target struct {
	ChannelID string
	Name      string
}

// Targets pairs each configured channel with its label.
func (s Snapshot) Targets(channels Channels) []Target {
	candidates := []Target{
		{ChannelID: channels.TotalMembers, Name: s.MembersLabel()},
		{ChannelID: channels.OnlineMembers, Name: s.OnlineLabel()},
		{ChannelID: channels.Bots, Name: s.BotsLabel()},
	}
	targets := candidates[:0]
	for _, target := range candidates {
		if target.ChannelID != "" {
			targets = append(targets, target)
		}
	}
	return targets
}
