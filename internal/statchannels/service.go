package statchannels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"guildpulse/internal/metrics"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// DefaultInterval is how often every registered guild is refreshed.
const DefaultInterval = 5 * time.Minute

// Guilds is the slice of the platform the mirrors need.
type Guilds interface {
	MemberCount(ctx context.Context, guildID string) (int, error)
	// ChannelName reports false when the channel no longer exists.
	ChannelName(ctx context.Context, channelID string) (string, bool)
	RenameChannel(ctx context.Context, channelID, name string) error
	CreateStatChannel(ctx context.Context, guildID, categoryID, name string) (string, error)
	DeleteChannel(ctx context.Context, channelID string) error
}

type Service struct {
	registry *Registry
	guilds   Guilds
	logger   *zap.Logger
	interval time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewService(registry *Registry, guilds Guilds, interval time.Duration, logger *zap.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		guilds:   guilds,
		logger:   logger,
		interval: interval,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Service) guildLock(guildID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock := s.locks[guildID]
	if lock == nil {
		lock = &sync.Mutex{}
		s.locks[guildID] = lock
	}
	return lock
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// SetGuilds swaps the platform handle, for wiring once a session exists.
func (s *Service) SetGuilds(guilds Guilds) {
	s.guilds = guilds
}

// Setup creates the three channels and registers them. Channels created
// before a failure are deleted again.
func (s *Service) Setup(ctx context.Context, guildID, categoryID, setupBy string) (Registration, Snapshot, error) {
	if _, ok := s.registry.Get(guildID); ok {
		return Registration{}, Snapshot{}, ErrAlreadyConfigured
	}
	count, err := s.guilds.MemberCount(ctx, guildID)
	if err != nil {
		return Registration{}, Snapshot{}, fmt.Errorf("member count: %w", err)
	}
	snapshot := Compute(count)

	var created []string
	create := func(name string) (string, error) {
		id, err := s.guilds.CreateStatChannel(ctx, guildID, categoryID, name)
		if err != nil {
			return "", err
		}
		created = append(created, id)
		return id, nil
	}
	rollback := func(cause error) (Registration, Snapshot, error) {
		for _, id := range created {
			if err := s.guilds.DeleteChannel(ctx, id); err != nil {
				s.logger.Warn("stat channel rollback failed", zap.String("guild_id", guildID), zap.String("channel_id", id), zap.Error(err))
			}
		}
		return Registration{}, Snapshot{}, cause
	}

	var channels Channels
	if channels.TotalMembers, err = create(snapshot.MembersLabel()); err != nil {
		return rollback(fmt.Errorf("create members channel: %w", err))
	}
	if channels.OnlineMembers, err = create(snapshot.OnlineLabel()); err != nil {
		return rollback(fmt.Errorf("create online channel: %w", err))
	}
	if channels.Bots, err = create(snapshot.BotsLabel()); err != nil {
		return rollback(fmt.Errorf("create bots channel: %w", err))
	}

	reg := Registration{Channels: channels, SetupBy: setupBy}
	if categoryID != "" {
		reg.CategoryID = &categoryID
	}
	reg, err = s.registry.Register(ctx, guildID, reg)
	if err != nil {
		return rollback(err)
	}
	s.logger.Info("stat channels set up", zap.String("guild_id", guildID), zap.Strings("channels", channels.IDs()))
	return reg, snapshot, nil
}

// Teardown unregisters the guild and deletes its channels. Channels that
// are already gone are not an error.
func (s *Service) Teardown(ctx context.Context, guildID string) error {
	reg, err := s.registry.Remove(ctx, guildID)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range reg.Channels.IDs() {
		if id == "" {
			continue
		}
		if _, ok := s.guilds.ChannelName(ctx, id); !ok {
			continue
		}
		if err := s.guilds.DeleteChannel(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RefreshGuild renames the guild's channels whose label changed and returns
// how many were renamed. Missing channels are skipped. Refreshes of one
// guild run one at a time.
func (s *Service) RefreshGuild(ctx context.Context, guildID string) (int, error) {
	lock := s.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	reg, ok := s.registry.Get(guildID)
	if !ok || !reg.Enabled {
		return 0, nil
	}
	count, err := s.guilds.MemberCount(ctx, guildID)
	if err != nil {
		return 0, fmt.Errorf("member count: %w", err)
	}
	snapshot := Compute(count)

	var renamed atomic.Int32
	p := pool.New().WithContext(ctx)
	for _, target := range snapshot.Targets(reg.Channels) {
		current, exists := s.guilds.ChannelName(ctx, target.ChannelID)
		if !exists || current == target.Name {
			continue
		}
		p.Go(func(ctx context.Context) error {
			if err := s.guilds.RenameChannel(ctx, target.ChannelID, target.Name); err != nil {
				metrics.StatChannelRenamesTotal.WithLabelValues("error").Inc()
				return fmt.Errorf("rename %s: %w", target.ChannelID, err)
			}
			metrics.StatChannelRenamesTotal.WithLabelValues("ok").Inc()
			renamed.Add(1)
			return nil
		})
	}
	err = p.Wait()

	if renamed.Load() > 0 {
		if touchErr := s.registry.Touch(ctx, guildID); touchErr != nil {
			err = errors.Join(err, touchErr)
		}
		s.logger.Info("stat channels updated", zap.String("guild_id", guildID), zap.Int32("renamed", renamed.Load()))
	}
	return int(renamed.Load()), err
}

// RefreshAll refreshes every enabled guild, logging failures.
func (s *Service) RefreshAll(ctx context.Context) {
	for _, entry := range s.registry.List() {
		if !entry.Enabled {
			continue
		}
		if _, err := s.RefreshGuild(ctx, entry.GuildID); err != nil {
			s.logger.Warn("stat channel refresh failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
		}
	}
}

// Run refreshes on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("stat channel refresher started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RefreshAll(ctx)
		}
	}
}
