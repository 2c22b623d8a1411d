package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"guildpulse/internal/eventlog"
	"guildpulse/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestService(t *testing.T) (*Service, *fakeClock, storage.Backend) {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	doc := storage.OpenDocument[Store](context.Background(), backend, storage.DocAnalytics, zap.NewNop())
	service := New(doc, zap.NewNop())
	clock := &fakeClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	service.WithClock(clock)
	return service, clock, backend
}

func message(guildID, userID, channelID string) MessageEvent {
	return MessageEvent{
		GuildID:     guildID,
		UserID:      userID,
		ChannelID:   channelID,
		Username:    "user-" + userID,
		Tag:         "user-" + userID + "#0001",
		ChannelName: "chan-" + channelID,
	}
}

func TestRecordMessageCountsEverywhere(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	const n = 7
	for i := 0; i < n; i++ {
		require.NoError(t, service.RecordMessage(ctx, message("g1", "u1", "c1")))
	}

	guild, ok := service.Guild("g1")
	require.True(t, ok)
	user, ok := guild.Users.Get("u1")
	require.True(t, ok)
	channel, ok := guild.Channels.Get("c1")
	require.True(t, ok)
	day, ok := guild.DailyStats.Get("2024-03-10")
	require.True(t, ok)

	assert.Equal(t, n, user.MessageCount)
	assert.Equal(t, n, guild.TotalMessages)
	assert.Equal(t, n, service.Global().TotalMessages)
	assert.Equal(t, n, channel.MessageCount)
	assert.Equal(t, n, day.Messages)
	assert.Equal(t, "chan-c1", channel.Name)
	require.NotNil(t, user.FirstMessage)
	require.NotNil(t, user.LastMessage)
	assert.Equal(t, 1, service.GuildCount())
}

func TestRecordMessageKeepsFirstSnapshot(t *testing.T) {
	ctx := context.Background()
	service, clock, _ := newTestService(t)
	first := clock.now

	require.NoError(t, service.RecordMessage(ctx, message("g1", "u1", "c1")))
	clock.Advance(time.Hour)
	renamed := message("g1", "u1", "c1")
	renamed.Username = "renamed"
	renamed.ChannelName = "renamed-channel"
	require.NoError(t, service.RecordMessage(ctx, renamed))

	guild, _ := service.Guild("g1")
	user, _ := guild.Users.Get("u1")
	channel, _ := guild.Channels.Get("c1")
	assert.Equal(t, "user-u1", user.Username)
	assert.Equal(t, "chan-c1", channel.Name)
	assert.True(t, user.FirstMessage.Equal(first))
	assert.True(t, user.LastMessage.Equal(clock.now))
	assert.True(t, user.JoinedAt.Equal(first), "joined_at falls back to the first message time")
}

func TestRecordMessageConcurrentNoLostIncrements(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			guildID := "g1"
			if i%2 == 1 {
				guildID = "g2"
			}
			assert.NoError(t, service.RecordMessage(ctx, message(guildID, "u1", "c1")))
		}(i)
	}
	wg.Wait()

	g1, _ := service.Guild("g1")
	g2, _ := service.Guild("g2")
	assert.Equal(t, 25, g1.TotalMessages)
	assert.Equal(t, 25, g2.TotalMessages)
	assert.Equal(t, 50, service.Global().TotalMessages)
}

func TestRecordCommandOnlyAttributesKnownUsers(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	require.NoError(t, service.RecordCommand(ctx, "g1", "u1", "analytics"))
	guild, _ := service.Guild("g1")
	_, exists := guild.Users.Get("u1")
	assert.False(t, exists, "commands never create user records")
	assert.Equal(t, 1, guild.TotalCommands)

	require.NoError(t, service.RecordMessage(ctx, message("g1", "u1", "c1")))
	require.NoError(t, service.RecordCommand(ctx, "g1", "u1", "analytics"))

	guild, _ = service.Guild("g1")
	user, _ := guild.Users.Get("u1")
	day, _ := guild.DailyStats.Get("2024-03-10")
	assert.Equal(t, 1, user.CommandCount)
	assert.Equal(t, 2, guild.TotalCommands)
	assert.Equal(t, 2, day.Commands)
	assert.Equal(t, 2, service.Global().TotalCommands)
}

func TestRecordModerationBan(t *testing.T) {
	ctx := context.Background()
	service, clock, _ := newTestService(t)

	var got []eventlog.Record
	service.SetNotifier(func(ctx context.Context, guildID string, record eventlog.Record) {
		assert.Equal(t, "G1", guildID)
		got = append(got, record)
	})

	entry, err := service.RecordModeration(ctx, ModerationEvent{
		GuildID:      "G1",
		ModeratorID:  "modA",
		ModeratorTag: "mod#0001",
		TargetID:     "userB",
		Action:       ActionBan,
		Reason:       "spam",
		Extra:        map[string]any{"delete_message_days": 3},
	})
	require.NoError(t, err)

	assert.Equal(t, "ban", entry.Action)
	assert.Equal(t, 3, entry.Extra["delete_message_days"])
	assert.Equal(t, "mod-"+strconv.FormatInt(clock.now.UnixMilli(), 10), entry.ID)

	guild, _ := service.Guild("G1")
	require.Len(t, guild.ModerationLogs, 1)
	assert.Equal(t, 1, guild.TotalModerations)
	assert.Equal(t, 1, service.Global().TotalModerations)
	day, _ := guild.DailyStats.Get("2024-03-10")
	assert.Equal(t, 1, day.Moderations)

	require.Len(t, got, 1)
	assert.Equal(t, eventlog.KindModeration, got[0].Kind)
	assert.Equal(t, "ban", got[0].Fields["action"])
	assert.Equal(t, "Unknown User", got[0].Fields["target_tag"])
	assert.Equal(t, "mod#0001", got[0].Fields["moderator_tag"])
	assert.Equal(t, 3, got[0].Fields["delete_message_days"])
}

func TestRecordModerationRejectsUnknownAction(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	_, err := service.RecordModeration(ctx, ModerationEvent{GuildID: "g1", Action: "yeet"})
	assert.ErrorIs(t, err, ErrUnknownAction)
	_, ok := service.Guild("g1")
	assert.False(t, ok)
	assert.Zero(t, service.Global().TotalModerations)
}

func TestRecordModerationRejectsReservedExtraKeys(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	for _, key := range []string{"reason", "id", "target_tag", "moderator_tag"} {
		_, err := service.RecordModeration(ctx, ModerationEvent{
			GuildID: "g1",
			Action:  ActionWarn,
			Reason:  "spam",
			Extra:   map[string]any{key: "other"},
		})
		assert.ErrorIs(t, err, ErrReservedExtraKey, key)
	}
	_, ok := service.Guild("g1")
	assert.False(t, ok)

	_, err := json.Marshal(ModerationLogEntry{ID: "1", Extra: map[string]any{"action": "ban"}})
	assert.Error(t, err)
}

func TestRecordModerationIDsUniqueWithinMillisecond(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		entry, err := service.RecordModeration(ctx, ModerationEvent{GuildID: "g1", Action: ActionWarn})
		require.NoError(t, err)
		assert.False(t, seen[entry.ID], "duplicate id %s", entry.ID)
		seen[entry.ID] = true
	}
}

func TestRecordModerationSurvivesNotifierPanic(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)
	service.SetNotifier(func(context.Context, string, eventlog.Record) {
		panic("delivery exploded")
	})

	_, err := service.RecordModeration(ctx, ModerationEvent{GuildID: "g1", Action: ActionKick})
	require.NoError(t, err)
	guild, _ := service.Guild("g1")
	assert.Len(t, guild.ModerationLogs, 1)
}

func TestMemberLeaveAndRejoin(t *testing.T) {
	ctx := context.Background()
	service, clock, _ := newTestService(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, service.RecordMessage(ctx, message("G1", "U1", "c1")))
	}
	record, found, err := service.RecordMemberLeave(ctx, "G1", "U1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, record.Left)

	guild, _ := service.Guild("G1")
	user, _ := guild.Users.Get("U1")
	day, _ := guild.DailyStats.Get("2024-03-10")
	assert.Equal(t, 3, user.MessageCount)
	assert.True(t, user.Left)
	require.NotNil(t, user.LeftAt)
	assert.Equal(t, 3, day.Messages)
	assert.Equal(t, 1, day.Leaves)

	// rejoining replaces the record and its history
	clock.Advance(time.Minute)
	require.NoError(t, service.RecordMemberJoin(ctx, "G1", "U1", Profile{Username: "u1", Tag: "u1#0001"}))
	guild, _ = service.Guild("G1")
	user, _ = guild.Users.Get("U1")
	assert.Equal(t, 0, user.MessageCount)
	assert.False(t, user.Left)
	assert.Nil(t, user.LeftAt)
	assert.Nil(t, user.FirstMessage)
	assert.Equal(t, 1, guild.MemberJoins)
}

func TestDoubleLeaveCountsTwice(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	_, found, err := service.RecordMemberLeave(ctx, "g1", "ghost")
	require.NoError(t, err)
	assert.False(t, found)
	_, _, err = service.RecordMemberLeave(ctx, "g1", "ghost")
	require.NoError(t, err)

	guild, _ := service.Guild("g1")
	assert.Equal(t, 2, guild.MemberLeaves)
	_, exists := guild.Users.Get("ghost")
	assert.False(t, exists)
}

func TestRecordRoleCountChange(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	counted, err := service.RecordRoleCountChange(ctx, "g1", "u1", 2, 2)
	require.NoError(t, err)
	assert.False(t, counted)

	counted, err = service.RecordRoleCountChange(ctx, "g1", "u1", 2, 3)
	require.NoError(t, err)
	assert.True(t, counted)

	guild, _ := service.Guild("g1")
	assert.Equal(t, 1, guild.RoleChanges)
}

func TestEditsAndDeletes(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	require.NoError(t, service.RecordMessageEdit(ctx, "g1"))
	require.NoError(t, service.RecordMessageEdit(ctx, "g1"))
	require.NoError(t, service.RecordMessageDelete(ctx, "g1"))

	guild, _ := service.Guild("g1")
	assert.Equal(t, 2, guild.MessageEdits)
	assert.Equal(t, 1, guild.MessageDeletes)
	assert.Equal(t, 0, guild.TotalMessages)
}

func TestDailyBucketsFollowClock(t *testing.T) {
	ctx := context.Background()
	service, clock, _ := newTestService(t)

	require.NoError(t, service.RecordMessage(ctx, message("g1", "u1", "c1")))
	clock.Advance(24 * time.Hour)
	require.NoError(t, service.RecordMessage(ctx, message("g1", "u1", "c1")))

	guild, _ := service.Guild("g1")
	assert.Equal(t, 2, guild.DailyStats.Len())
	next, ok := guild.DailyStats.Get("2024-03-11")
	require.True(t, ok)
	assert.Equal(t, 1, next.Messages)
}

func TestSnapshotIsDetached(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)
	require.NoError(t, service.RecordMessage(ctx, message("g1", "u1", "c1")))

	snapshot, _ := service.Guild("g1")
	user, _ := snapshot.Users.Get("u1")
	user.MessageCount = 1000

	fresh, _ := service.Guild("g1")
	original, _ := fresh.Users.Get("u1")
	assert.Equal(t, 1, original.MessageCount)
}

func TestDocumentShapeOnDisk(t *testing.T) {
	ctx := context.Background()
	service, _, backend := newTestService(t)

	require.NoError(t, service.RecordMessage(ctx, message("g1", "u1", "c1")))
	_, err := service.RecordModeration(ctx, ModerationEvent{
		GuildID: "g1", ModeratorID: "m", TargetID: "u1", Action: ActionTimeout, Reason: "calm down",
		Extra:   map[string]any{"duration_minutes": 10},
	})
	require.NoError(t, err)

	data, err := backend.Load(ctx, storage.DocAnalytics)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "global_stats")
	servers := raw["servers"].(map[string]any)
	guild := servers["g1"].(map[string]any)
	for _, key := range []string{"total_messages", "member_joins", "role_changes", "users", "channels", "daily_stats", "moderation_logs"} {
		assert.Contains(t, guild, key)
	}
	entry := guild["moderation_logs"].([]any)[0].(map[string]any)
	assert.Equal(t, "timeout", entry["action"])
	assert.EqualValues(t, 10, entry["duration_minutes"])
	user := guild["users"].(map[string]any)["u1"].(map[string]any)
	assert.NotContains(t, user, "left")

	reopened := New(storage.OpenDocument[Store](ctx, backend, storage.DocAnalytics, zap.NewNop()), zap.NewNop())
	restored, ok := reopened.Guild("g1")
	require.True(t, ok)
	require.Len(t, restored.ModerationLogs, 1)
	assert.EqualValues(t, 10, restored.ModerationLogs[0].Extra["duration_minutes"])
	assert.Equal(t, 1, reopened.Global().TotalMessages)
}

func TestStoreUnavailableStillMutatesInMemory(t *testing.T) {
	ctx := context.Background()
	backend := failingBackend{}
	doc := storage.OpenDocument[Store](ctx, backend, storage.DocAnalytics, zap.NewNop())
	service := New(doc, zap.NewNop())

	err := service.RecordMessage(ctx, message("g1", "u1", "c1"))
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
	assert.Equal(t, 1, service.Global().TotalMessages)
}

func TestNullRecordsLoadAsZeroRecords(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	corrupt := `{"servers":{"g1":{"users":{"u1":null},"channels":{"c1":null},"daily_stats":{"2024-03-10":null}}}}`
	require.NoError(t, backend.Save(ctx, storage.DocAnalytics, []byte(corrupt)))

	service := New(storage.OpenDocument[Store](ctx, backend, storage.DocAnalytics, zap.NewNop()), zap.NewNop())
	var guild *GuildAnalytics
	var ok bool
	require.NotPanics(t, func() { guild, ok = service.Guild("g1") })
	require.True(t, ok)

	user, _ := guild.Users.Get("u1")
	require.NotNil(t, user)
	assert.Zero(t, user.MessageCount)
	channel, _ := guild.Channels.Get("c1")
	require.NotNil(t, channel)
	day, _ := guild.DailyStats.Get("2024-03-10")
	require.NotNil(t, day)
	assert.NotPanics(t, func() { BuildOverview(guild) })

	service.WithClock(&fakeClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)})
	require.NoError(t, service.RecordMessage(ctx, message("g1", "u1", "c1")))
	guild, _ = service.Guild("g1")
	user, _ = guild.Users.Get("u1")
	assert.Equal(t, 1, user.MessageCount)
}

type failingBackend struct{}

func (failingBackend) Load(context.Context, string) ([]byte, error) {
	return nil, errors.New("unreadable")
}

func (failingBackend) Save(context.Context, string, []byte) error {
	return errors.New("read-only")
}

func (failingBackend) Close() error { return nil }
