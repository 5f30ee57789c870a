package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kitconfig "github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.toml")

	_, _, err := Load(missing, false)
	require.Error(t, err)

	cfg, used, err := Load(missing, true)
	require.NoError(t, err)
	require.True(t, used)
	require.Equal(t, kitconfig.LengthBounds{MinLen: 1, MaxLen: 500}, cfg.Moderation.Contexts["comment"])
	require.Equal(t, kitconfig.LengthBounds{MinLen: 15, MaxLen: 3000}, cfg.Moderation.Contexts["entry"])
	require.Equal(t, "Unknown Trainer", cfg.Visibility.UnknownDisplayName)
	require.Equal(t, []string{"ContentFilter:too_short", "ContentFilter:too_long"}, cfg.Filters.AutoBan.ExcludeFilters)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
[log]
level = "debug"
rejection_levels = { ContentFilter = "info" }

[policy]
moderator_ids = ["mod-1"]
ban_duration = "48h"

[moderation.contexts.bio]
min_length = 0
max_length = 160

[[moderation.rule]]
description = "insults"
words = ["ass"]

[visibility]
unknown_display_name = "Mystery Researcher"
`)

	cfg, used, err := Load(path, false)
	require.NoError(t, err)
	require.False(t, used)
	require.Equal(t, DebugLevel, cfg.Log.Level)
	require.Equal(t, InfoLevel, cfg.Log.RejectionLevels["ContentFilter"])
	require.Equal(t, 48*time.Hour, cfg.Policy.BanDuration)
	require.True(t, cfg.Policy.IsModerator("mod-1"))
	require.False(t, cfg.Policy.IsModerator(""))

	// Defaults survive alongside the added context.
	require.Equal(t, 500, cfg.Moderation.Contexts["comment"].MaxLen)
	require.Equal(t, 160, cfg.Moderation.Contexts["bio"].MaxLen)
	require.Len(t, cfg.Moderation.Rules, 1)
	require.Equal(t, "Mystery Researcher", cfg.Visibility.UnknownDisplayName)
	require.Equal(t, kitconfig.DefaultPictureURL, cfg.Visibility.DefaultPictureURL)
}

func TestLoad_Wordlist(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "words.json", `[{"match": "b[a4]d"}, {"match": "gloom"}]`)
	path := writeFile(t, dir, "config.toml", `
[moderation]
wordlist_path = "words.json"
`)

	cfg, _, err := Load(path, false)
	require.NoError(t, err)
	require.Len(t, cfg.Moderation.Rules, 1)
	require.Equal(t, []string{"b[a4]d", "gloom"}, cfg.Moderation.Rules[0].Patterns)
	require.Equal(t, filepath.Join(dir, "words.json"), cfg.WordlistPath(path))
}

func TestLoad_WordlistErrors(t *testing.T) {
	dir := t.TempDir()

	missing := writeFile(t, dir, "missing.toml", `
[moderation]
wordlist_path = "absent.json"
`)
	_, _, err := Load(missing, false)
	require.Error(t, err)

	writeFile(t, dir, "broken.json", `{"match": "x"}`)
	broken := writeFile(t, dir, "broken.toml", `
[moderation]
wordlist_path = "broken.json"
`)
	_, _, err = Load(broken, false)
	require.Error(t, err)

	writeFile(t, dir, "blank.json", `[{"match": "  "}]`)
	blank := writeFile(t, dir, "blank.toml", `
[moderation]
wordlist_path = "blank.json"
`)
	_, _, err = Load(blank, false)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "non-positive ban duration",
			mutate:  func(c *Config) { c.Policy.BanDuration = 0 },
			wantErr: "policy.ban_duration",
		},
		{
			name:    "empty moderator id",
			mutate:  func(c *Config) { c.Policy.ModeratorIDs = []string{" "} },
			wantErr: "policy.moderator_ids[0]",
		},
		{
			name:    "missing required context",
			mutate:  func(c *Config) { delete(c.Moderation.Contexts, "entry") },
			wantErr: "moderation.contexts.entry",
		},
		{
			name: "inverted bounds",
			mutate: func(c *Config) {
				c.Moderation.Contexts["comment"] = kitconfig.LengthBounds{MinLen: 10, MaxLen: 1}
			},
			wantErr: "moderation.contexts.comment",
		},
		{
			name:    "empty rule",
			mutate:  func(c *Config) { c.Moderation.Rules = []kitconfig.ModerationRule{{Description: "nothing"}} },
			wantErr: "moderation.rule[0]",
		},
		{
			name: "rate limiter without burst",
			mutate: func(c *Config) {
				c.Filters.RateLimiter = kitconfig.RateLimiterConfig{Enabled: true, DefaultRate: 1}
			},
			wantErr: "filters.rate_limiter",
		},
		{
			name:    "default tag not allowed",
			mutate:  func(c *Config) { c.Filters.Tags.DefaultTag = "Misc" },
			wantErr: "filters.tags.default_tag",
		},
		{
			name: "spam caps ratio out of range",
			mutate: func(c *Config) {
				c.Filters.Spam = kitconfig.SpamFilterConfig{Enabled: true, MaxCapsRatio: 1.5}
			},
			wantErr: "filters.spam.max_caps_ratio",
		},
		{
			name: "language without allowed languages",
			mutate: func(c *Config) {
				c.Filters.Language = kitconfig.LanguageFilterConfig{Enabled: true}
			},
			wantErr: "filters.language.allowed_languages",
		},
		{
			name: "language threshold for disallowed primary",
			mutate: func(c *Config) {
				c.Filters.Language = kitconfig.LanguageFilterConfig{
					Enabled:                true,
					AllowedLanguages:       []string{"english"},
					PrimaryAcceptThreshold: map[string]map[string]float64{"german": {"default": 0.5}},
				}
			},
			wantErr: "primary language 'german'",
		},
		{
			name: "autoban without strikes",
			mutate: func(c *Config) {
				c.Filters.AutoBan.Enabled = true
				c.Filters.AutoBan.MaxStrikes = 0
			},
			wantErr: "filters.autoban.max_strikes",
		},
		{
			name: "metrics path without slash",
			mutate: func(c *Config) {
				c.Metrics.ListenAddr = "127.0.0.1:9100"
				c.Metrics.Path = "metrics"
			},
			wantErr: "metrics.path",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			err := cfg.validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLogLevel_UnmarshalText(t *testing.T) {
	var l LogLevel
	require.NoError(t, l.UnmarshalText([]byte("warn")))
	require.Equal(t, WarnLevel, l)
	require.Error(t, l.UnmarshalText([]byte("verbose")))
}

func TestStartWatcher_ReloadsOnWordlistChange(t *testing.T) {
	dir := t.TempDir()
	wordlist := writeFile(t, dir, "words.json", `[{"match": "gloom"}]`)
	path := writeFile(t, dir, "config.toml", `
[moderation]
wordlist_path = "words.json"
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	go StartWatcher(ctx, path, []string{wordlist}, func(c *Config) { reloaded <- c }, 20*time.Millisecond)

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(wordlist, []byte(`[{"match": "gloom"}, {"match": "doom"}]`), 0o600))

	select {
	case cfg := <-reloaded:
		require.Equal(t, []string{"gloom", "doom"}, cfg.Moderation.Rules[0].Patterns)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded after the wordlist changed")
	}
}
