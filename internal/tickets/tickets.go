// Package tickets holds the platform-independent parts of the support
// ticket flow: categories, channel naming, close permissions and
// transcripts.
package tickets

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Component ids shared by the panel, the ticket message and the modal.
const (
	CreateButtonID     = "create_ticket"
	CloseButtonID      = "close_ticket"
	ClaimButtonID      = "claim_ticket"
	TranscriptButtonID = "transcript_ticket"
	CategorySelectID   = "ticket_category_select"
	ModalID            = "ticket_modal"
	DescriptionInputID = "description"
)

const (
	// MaxDescription is the longest description a ticket accepts.
	MaxDescription = 1000
	// MaxTranscriptMessages bounds how many messages a transcript holds.
	MaxTranscriptMessages = 100
	// DefaultCloseDelay is how long a closing ticket stays before deletion.
	DefaultCloseDelay = 10 * time.Second
)

type Category struct {
	Value       string
	Label       string
	Emoji       string
	Description string
}

// Categories lists the ticket categories in menu order.
var Categories = []Category{
	{Value: "technical", Label: "Technical Support", Emoji: "🛠️", Description: "Bot issues, server problems, technical difficulties"},
	{Value: "game", Label: "Game Support", Emoji: "🎮", Description: "Game-related questions and assistance"},
	{Value: "general", Label: "General Support", Emoji: "📋", Description: "General questions and information"},
	{Value: "report", Label: "Report Issue", Emoji: "🚨", Description: "Report rule violations or problems"},
	{Value: "suggestion", Label: "Suggestion", Emoji: "💡", Description: "Suggestions for server improvements"},
}

// FallbackCategory is used when no category was picked.
const FallbackCategory = "general"

// LookupCategory finds a category by value.
func LookupCategory(value string) (Category, bool) {
	for _, c := range Categories {
		if c.Value == value {
			return c, true
		}
	}
	return Category{}, false
}

// SanitizeUsername lower-cases the name and keeps only a-z and 0-9.
func SanitizeUsername(username string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(username) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ChannelName is the ticket channel name for a user. One open ticket per
// user is enforced by looking this name up among the guild's channels.
func ChannelName(username string) string {
	return "ticket-" + SanitizeUsername(username)
}

// Actor is the member pressing a ticket button.
type Actor struct {
	UserID         string
	Username       string
	ManageChannels bool
	ModerateMember bool
}

// CanClose reports whether the actor may close or transcribe the ticket:
// channel managers always can, the owner can when the topic carries their
// id or the channel name carries their sanitized username.
func CanClose(actor Actor, topic, channelName string) bool {
	if actor.ManageChannels {
		return true
	}
	if actor.UserID != "" && strings.Contains(topic, actor.UserID) {
		return true
	}
	name := SanitizeUsername(actor.Username)
	return name != "" && strings.Contains(channelName, name)
}

// CanClaim reports whether the actor may claim a ticket.
func CanClaim(actor Actor) bool {
	return actor.ModerateMember
}

// Selections remembers the category a user picked in the select menu until
// the description modal is submitted.
type Selections struct {
	mu      sync.Mutex
	pending map[string]string
}

func NewSelections() *Selections {
	return &Selections{pending: make(map[string]string)}
}

func (s *Selections) Put(userID, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[userID] = category
}

// Take returns and forgets the user's pending category, falling back to
// general when none was stored.
func (s *Selections) Take(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	category, ok := s.pending[userID]
	delete(s.pending, userID)
	if !ok || category == "" {
		return FallbackCategory
	}
	return category
}

func (s *Selections) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Message is one channel message as it appears in a transcript.
type Message struct {
	AuthorTag string
	Content   string
	Timestamp time.Time
}

const transcriptTimeLayout = "2006-01-02 15:04:05 UTC"

// Transcript renders messages oldest first as markdown. Only the newest
// MaxTranscriptMessages are kept. It returns the body and how many messages
// it contains.
func Transcript(channelName string, messages []Message, createdAt time.Time) (string, int) {
	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if len(sorted) > MaxTranscriptMessages {
		sorted = sorted[len(sorted)-MaxTranscriptMessages:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Ticket Transcript - %s\n", channelName)
	fmt.Fprintf(&b, "**Created:** %s\n", createdAt.UTC().Format(transcriptTimeLayout))
	fmt.Fprintf(&b, "**Channel:** %s\n\n", channelName)
	b.WriteString("---\n\n")
	for _, msg := range sorted {
		fmt.Fprintf(&b, "**[%s] %s:** %s\n\n", msg.Timestamp.UTC().Format(transcriptTimeLayout), msg.AuthorTag, msg.Content)
	}
	return b.String(), len(sorted)
}

// TranscriptFileName names the transcript attachment.
func TranscriptFileName(channelName string, at time.Time) string {
	return fmt.Sprintf("transcript-%s-%d.txt", channelName, at.UnixMilli())
}
