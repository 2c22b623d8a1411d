package automod

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"guildpulse/internal/utils"
)

// SpamWindow is the trailing window the spam threshold is counted over.
const SpamWindow = 10 * time.Second

// minCapsLetters keeps short shouts like "OK" or "LOL" from tripping the caps rule.
const minCapsLetters = 10

// Message is the part of a chat message the scanner looks at.
type Message struct {
	GuildID  string
	UserID   string
	Content  string
	Mentions int
}

// Verdict names the rule a message broke.
type Verdict struct {
	Rule   string
	Detail string
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Scanner applies a guild's enabled rules to incoming messages. It keeps
// per-user message windows and link timestamps in memory.
type Scanner struct {
	mu       sync.Mutex
	clock    Clock
	windows  map[string]*utils.SlidingWindow
	lastLink map[string]time.Time
}

func NewScanner() *Scanner {
	return &Scanner{
		clock:    realClock{},
		windows:  make(map[string]*utils.SlidingWindow),
		lastLink: make(map[string]time.Time),
	}
}

func (s *Scanner) WithClock(clock Clock) {
	s.clock = clock
}

// Scan returns the first rule msg breaks under cfg. Every message counts
// toward the spam window and every link starts the link cooldown, even when
// those rules are off or an earlier rule fires.
func (s *Scanner) Scan(cfg Config, msg Message) (Verdict, bool) {
	now := s.clock.Now()
	key := msg.GuildID + ":" + msg.UserID

	window := s.window(key)
	count := window.Add(now)

	links := utils.Links(msg.Content)
	var lastLink time.Time
	var linkedBefore bool
	if len(links) > 0 {
		lastLink, linkedBefore = s.linkSeen(key, now)
	}

	if cfg.Enabled.Spam && count >= cfg.Settings.SpamThreshold {
		window.Reset()
		return Verdict{Rule: FeatureSpam, Detail: fmt.Sprintf("%d messages in %s", count, SpamWindow)}, true
	}

	if cfg.Enabled.Words && len(cfg.FilteredWords) > 0 {
		if word, ok := utils.ContainsAny(msg.Content, cfg.FilteredWords); ok {
			return Verdict{Rule: FeatureWords, Detail: fmt.Sprintf("filtered word %q", word)}, true
		}
	}

	if cfg.Enabled.Mentions && msg.Mentions > cfg.Settings.MentionLimit {
		return Verdict{Rule: FeatureMentions, Detail: fmt.Sprintf("%d mentions (limit %d)", msg.Mentions, cfg.Settings.MentionLimit)}, true
	}

	if cfg.Enabled.Caps {
		letters, percent := utils.UpperShare(msg.Content)
		if letters >= minCapsLetters && percent >= cfg.Settings.CapsThreshold {
			return Verdict{Rule: FeatureCaps, Detail: fmt.Sprintf("%d%% capital letters", percent)}, true
		}
	}

	if cfg.Enabled.Links && linkedBefore {
		cooldown := time.Duration(cfg.Settings.LinkCooldown) * time.Second
		if now.Sub(lastLink) < cooldown {
			urls := make([]string, 0, len(links))
			for _, link := range links {
				urls = append(urls, link.URL)
			}
			return Verdict{Rule: FeatureLinks, Detail: fmt.Sprintf("link to %s within %s cooldown", strings.Join(urls, ", "), cooldown)}, true
		}
	}
	return Verdict{}, false
}

// Sweep forgets users whose last message and last link are both older than
// idle. It returns the number of spam windows dropped.
func (s *Scanner) Sweep(idle time.Duration) int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, window := range s.windows {
		if now.Sub(window.LastHit()) > idle {
			delete(s.windows, key)
			removed++
		}
	}
	for key, last := range s.lastLink {
		if now.Sub(last) > idle {
			delete(s.lastLink, key)
		}
	}
	return removed
}

func (s *Scanner) window(key string) *utils.SlidingWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.windows[key]
	if window == nil {
		window = utils.NewSlidingWindow(SpamWindow)
		s.windows[key] = window
	}
	return window
}

// linkSeen records a link at now and returns the previous one.
func (s *Scanner) linkSeen(key string, now time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastLink[key]
	s.lastLink[key] = now
	return last, ok
}
