package automod

import (
	"context"
	"encoding/json"
	"testing"

	"guildpulse/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newManager(t *testing.T) (*Manager, storage.Backend) {
	t.Helper()
	backend, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	doc := storage.OpenDocument[Configs](context.Background(), backend, storage.DocAutomod, zap.NewNop())
	return NewManager(doc), backend
}

func intPtr(v int) *int { return &v }

func TestEnsureGuildConfigDefaults(t *testing.T) {
	ctx := context.Background()
	manager, backend := newManager(t)

	cfg, err := manager.EnsureGuildConfig(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Nil(t, cfg.Settings.LogChannel)

	data, err := backend.Load(ctx, storage.DocAutomod)
	require.NoError(t, err)
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	guild := raw["g1"]
	assert.Contains(t, guild, "userWarnings")
	settings := guild["settings"].(map[string]any)
	assert.Nil(t, settings["logChannel"])
	assert.EqualValues(t, 5, settings["spamThreshold"])
	assert.EqualValues(t, 80, settings["capsThreshold"])
	assert.EqualValues(t, 60, settings["linkCooldown"])
	assert.EqualValues(t, 5, settings["mentionLimit"])
}

func TestSetThresholdsPartialUpdate(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t)

	logChannel := "c42"
	cfg, err := manager.SetThresholds(ctx, "g1", ThresholdUpdate{SpamThreshold: intPtr(8), LogChannel: &logChannel})
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Settings.SpamThreshold)
	assert.Equal(t, DefaultCapsThreshold, cfg.Settings.CapsThreshold)
	require.NotNil(t, cfg.Settings.LogChannel)
	assert.Equal(t, "c42", *cfg.Settings.LogChannel)

	cfg, err = manager.SetThresholds(ctx, "g1", ThresholdUpdate{LinkCooldown: intPtr(120)})
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Settings.SpamThreshold, "absent fields are untouched")
	assert.Equal(t, 120, cfg.Settings.LinkCooldown)
	assert.Equal(t, "c42", *cfg.Settings.LogChannel)
}

func TestSetThresholdsRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t)

	cases := []ThresholdUpdate{
		{SpamThreshold: intPtr(2)},
		{SpamThreshold: intPtr(11)},
		{CapsThreshold: intPtr(69)},
		{LinkCooldown: intPtr(301)},
		{MentionLimit: intPtr(0)},
	}
	for _, update := range cases {
		_, err := manager.SetThresholds(ctx, "g1", update)
		assert.ErrorIs(t, err, ErrOutOfRange)
	}
	assert.Equal(t, DefaultConfig(), manager.Get("g1"))
}

func TestToggleFeatureTwiceRestores(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t)

	for _, feature := range Features {
		enabled, err := manager.ToggleFeature(ctx, "g1", feature)
		require.NoError(t, err)
		assert.False(t, enabled)

		enabled, err = manager.ToggleFeature(ctx, "g1", feature)
		require.NoError(t, err)
		assert.True(t, enabled)
	}
	assert.Equal(t, DefaultConfig().Enabled, manager.Get("g1").Enabled)
}

func TestToggleUnknownFeature(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t)

	_, err := manager.ToggleFeature(ctx, "g1", "emoji")
	assert.ErrorIs(t, err, ErrUnknownFeature)
}

func TestFilteredWords(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t)

	require.NoError(t, manager.AddFilteredWord(ctx, "g1", "Foo"))
	assert.Equal(t, []string{"foo"}, manager.ListFilteredWords("g1"))

	assert.ErrorIs(t, manager.AddFilteredWord(ctx, "g1", "FOO"), ErrDuplicateWord)
	assert.Equal(t, []string{"foo"}, manager.ListFilteredWords("g1"))

	require.NoError(t, manager.AddFilteredWord(ctx, "g1", "bar"))
	require.NoError(t, manager.AddFilteredWord(ctx, "g1", "baz"))
	require.NoError(t, manager.RemoveFilteredWord(ctx, "g1", "BAR"))
	assert.Equal(t, []string{"foo", "baz"}, manager.ListFilteredWords("g1"))

	assert.ErrorIs(t, manager.RemoveFilteredWord(ctx, "g1", "bar"), ErrWordNotFound)
	assert.ErrorIs(t, manager.AddFilteredWord(ctx, "g1", "  "), ErrEmptyWord)
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t)
	require.NoError(t, manager.AddFilteredWord(ctx, "g1", "foo"))

	cfg := manager.Get("g1")
	cfg.FilteredWords[0] = "mutated"
	assert.Equal(t, []string{"foo"}, manager.ListFilteredWords("g1"))
}

func TestConfigsSurviveReload(t *testing.T) {
	ctx := context.Background()
	manager, backend := newManager(t)
	_, err := manager.ToggleFeature(ctx, "g1", FeatureCaps)
	require.NoError(t, err)
	require.NoError(t, manager.AddFilteredWord(ctx, "g1", "spoiler"))

	reloaded := NewManager(storage.OpenDocument[Configs](ctx, backend, storage.DocAutomod, zap.NewNop()))
	cfg := reloaded.Get("g1")
	assert.False(t, cfg.Enabled.Caps)
	assert.True(t, cfg.Enabled.Spam)
	assert.Equal(t, []string{"spoiler"}, cfg.FilteredWords)
}

func TestLookupOnlyFindsStoredConfigs(t *testing.T) {
	ctx := context.Background()
	manager, _ := newManager(t)

	_, ok := manager.Lookup("g1")
	assert.False(t, ok)
	assert.Equal(t, DefaultConfig(), manager.Get("g1"))

	_, err := manager.ToggleFeature(ctx, "g1", FeatureCaps)
	require.NoError(t, err)
	cfg, ok := manager.Lookup("g1")
	require.True(t, ok)
	assert.False(t, cfg.Enabled.Caps)
}
