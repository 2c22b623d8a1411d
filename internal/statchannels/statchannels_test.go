package statchannels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"guildpulse/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type fakeGuilds struct {
	mu        sync.Mutex
	members   map[string]int
	names     map[string]string
	renames   []string
	deleted   []string
	nextID    int
	failAfter int
	renameErr error
}

func newFakeGuilds() *fakeGuilds {
	return &fakeGuilds{members: map[string]int{}, names: map[string]string{}, failAfter: -1}
}

func (f *fakeGuilds) MemberCount(ctx context.Context, guildID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.members[guildID]
	if !ok {
		return 0, errors.New("unknown guild")
	}
	return n, nil
}

func (f *fakeGuilds) ChannelName(ctx context.Context, channelID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[channelID]
	return name, ok
}

func (f *fakeGuilds) RenameChannel(ctx context.Context, channelID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renameErr != nil {
		return f.renameErr
	}
	f.names[channelID] = name
	f.renames = append(f.renames, channelID)
	return nil
}

func (f *fakeGuilds) CreateStatChannel(ctx context.Context, guildID, categoryID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && f.nextID >= f.failAfter {
		return "", errors.New("missing permissions")
	}
	f.nextID++
	id := fmt.Sprintf("vc%d", f.nextID)
	f.names[id] = name
	return id, nil
}

func (f *fakeGuilds) DeleteChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.names, channelID)
	f.deleted = append(f.deleted, channelID)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeGuilds, *fakeClock, storage.Backend) {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	doc := storage.OpenDocument[Registrations](context.Background(), backend, storage.DocAnalyticsVC, zap.NewNop())
	registry := NewRegistry(doc)
	clock := &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	registry.WithClock(clock)
	guilds := newFakeGuilds()
	return NewService(registry, guilds, time.Minute, zap.NewNop()), guilds, clock, backend
}

func TestComputeFloorsShares(t *testing.T) {
	tests := []struct {
		members int
		want    Snapshot
	}{
		{members: 0, want: Snapshot{}},
		{members: 9, want: Snapshot{Members: 9, Online: 2, Bots: 0}},
		{members: 100, want: Snapshot{Members: 100, Online: 30, Bots: 10}},
		{members: 157, want: Snapshot{Members: 157, Online: 47, Bots: 15}},
		{members: -3, want: Snapshot{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Compute(tt.members), "members=%d", tt.members)
	}
}

func TestSnapshotLabels(t *testing.T) {
	s := Compute(200)
	assert.Equal(t, "👥 Members: 200", s.MembersLabel())
	assert.Equal(t, "🟢 Online: 60", s.OnlineLabel())
	assert.Equal(t, "🤖 Bots: 20", s.BotsLabel())

	targets := s.Targets(Channels{TotalMembers: "a", Bots: "c"})
	require.Len(t, targets, 2)
	assert.Equal(t, Target{ChannelID: "a", Name: "👥 Members: 200"}, targets[0])
	assert.Equal(t, Target{ChannelID: "c", Name: "🤖 Bots: 20"}, targets[1])
}

func TestSetupCreatesAndRegisters(t *testing.T) {
	ctx := context.Background()
	service, guilds, _, backend := newTestService(t)
	guilds.members["g1"] = 50

	reg, snapshot, err := service.Setup(ctx, "g1", "cat1", "admin")
	require.NoError(t, err)
	assert.Equal(t, 50, snapshot.Members)
	assert.True(t, reg.Enabled)
	assert.Equal(t, Channels{TotalMembers: "vc1", OnlineMembers: "vc2", Bots: "vc3"}, reg.Channels)
	require.NotNil(t, reg.CategoryID)
	assert.Equal(t, "cat1", *reg.CategoryID)
	assert.Equal(t, "👥 Members: 50", guilds.names["vc1"])
	assert.Equal(t, "🟢 Online: 15", guilds.names["vc2"])
	assert.Equal(t, "🤖 Bots: 5", guilds.names["vc3"])

	_, _, err = service.Setup(ctx, "g1", "", "admin")
	assert.ErrorIs(t, err, ErrAlreadyConfigured)

	data, err := backend.Load(ctx, storage.DocAnalyticsVC)
	require.NoError(t, err)
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "g1")
	assert.Equal(t, "admin", raw["g1"]["setup_by"])
	assert.Equal(t, "vc2", raw["g1"]["channels"].(map[string]any)["online_members"])
}

func TestSetupWithoutCategoryStoresNull(t *testing.T) {
	ctx := context.Background()
	service, guilds, _, _ := newTestService(t)
	guilds.members["g1"] = 10

	reg, _, err := service.Setup(ctx, "g1", "", "admin")
	require.NoError(t, err)
	assert.Nil(t, reg.CategoryID)
}

func TestSetupRollsBackCreatedChannels(t *testing.T) {
	ctx := context.Background()
	service, guilds, _, _ := newTestService(t)
	guilds.members["g1"] = 10
	guilds.failAfter = 2

	_, _, err := service.Setup(ctx, "g1", "", "admin")
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"vc1", "vc2"}, guilds.deleted)
	assert.Empty(t, guilds.names)
	_, ok := service.Registry().Get("g1")
	assert.False(t, ok)
}

func TestTeardownDeletesExistingChannels(t *testing.T) {
	ctx := context.Background()
	service, guilds, _, _ := newTestService(t)
	guilds.members["g1"] = 10
	_, _, err := service.Setup(ctx, "g1", "", "admin")
	require.NoError(t, err)
	delete(guilds.names, "vc2")

	require.NoError(t, service.Teardown(ctx, "g1"))
	assert.ElementsMatch(t, []string{"vc1", "vc3"}, guilds.deleted)
	_, ok := service.Registry().Get("g1")
	assert.False(t, ok)

	assert.ErrorIs(t, service.Teardown(ctx, "g1"), ErrNotConfigured)
}

func TestRefreshRenamesOnlyChangedChannels(t *testing.T) {
	ctx := context.Background()
	service, guilds, clock, _ := newTestService(t)
	guilds.members["g1"] = 100
	_, _, err := service.Setup(ctx, "g1", "", "admin")
	require.NoError(t, err)

	n, err := service.RefreshGuild(ctx, "g1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, guilds.renames)

	guilds.members["g1"] = 105
	clock.now = clock.now.Add(5 * time.Minute)
	n, err = service.RefreshGuild(ctx, "g1")
	require.NoError(t, err)
	// 105 moves members and online (31) but bots stay at 10.
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"vc1", "vc2"}, guilds.renames)
	assert.Equal(t, "👥 Members: 105", guilds.names["vc1"])

	reg, ok := service.Registry().Get("g1")
	require.True(t, ok)
	assert.Equal(t, clock.now, reg.LastUpdate)
	assert.True(t, reg.LastUpdate.After(reg.SetupAt))
}

func TestRefreshSkipsMissingChannels(t *testing.T) {
	ctx := context.Background()
	service, guilds, _, _ := newTestService(t)
	guilds.members["g1"] = 100
	_, _, err := service.Setup(ctx, "g1", "", "admin")
	require.NoError(t, err)
	delete(guilds.names, "vc1")
	guilds.members["g1"] = 300

	n, err := service.RefreshGuild(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, exists := guilds.names["vc1"]
	assert.False(t, exists)
}

func TestRefreshFailureLeavesLastUpdate(t *testing.T) {
	ctx := context.Background()
	service, guilds, clock, _ := newTestService(t)
	guilds.members["g1"] = 100
	reg, _, err := service.Setup(ctx, "g1", "", "admin")
	require.NoError(t, err)

	guilds.members["g1"] = 500
	guilds.renameErr = errors.New("rate limited")
	clock.now = clock.now.Add(time.Hour)
	n, err := service.RefreshGuild(ctx, "g1")
	require.Error(t, err)
	assert.Zero(t, n)

	after, ok := service.Registry().Get("g1")
	require.True(t, ok)
	assert.Equal(t, reg.LastUpdate, after.LastUpdate)
}

func TestRefreshAllVisitsEveryGuild(t *testing.T) {
	ctx := context.Background()
	service, guilds, _, _ := newTestService(t)
	guilds.members["g1"] = 10
	guilds.members["g2"] = 20
	_, _, err := service.Setup(ctx, "g1", "", "admin")
	require.NoError(t, err)
	_, _, err = service.Setup(ctx, "g2", "", "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, service.Registry().EnabledCount())

	guilds.members["g1"] = 11
	guilds.members["g2"] = 21
	service.RefreshAll(ctx)
	assert.Equal(t, "👥 Members: 11", guilds.names["vc1"])
	assert.Equal(t, "👥 Members: 21", guilds.names["vc4"])
}

type countingGuilds struct {
	*fakeGuilds
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (c *countingGuilds) MemberCount(ctx context.Context, guildID string) (int, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		seen := c.maxInFlight.Load()
		if n <= seen || c.maxInFlight.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return c.fakeGuilds.MemberCount(ctx, guildID)
}

func TestRefreshGuildSerializesPerGuild(t *testing.T) {
	ctx := context.Background()
	service, guilds, _, _ := newTestService(t)
	guilds.members["g1"] = 100
	_, _, err := service.Setup(ctx, "g1", "", "admin")
	require.NoError(t, err)

	counting := &countingGuilds{fakeGuilds: guilds}
	service.guilds = counting

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.RefreshGuild(ctx, "g1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, counting.maxInFlight.Load())
}

func TestRunStopsOnCancel(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestRegistryListIsSorted(t *testing.T) {
	ctx := context.Background()
	service, _, _, _ := newTestService(t)
	registry := service.Registry()
	for _, id := range []string{"g3", "g1", "g2"} {
		_, err := registry.Register(ctx, id, Registration{SetupBy: "admin"})
		require.NoError(t, err)
	}

	entries := registry.List()
	require.Len(t, entries, 3)
	assert.Equal(t, "g1", entries[0].GuildID)
	assert.Equal(t, "g3", entries[2].GuildID)

	_, err := registry.Remove(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotConfigured)
	require.NoError(t, registry.Touch(ctx, "missing"))
}
