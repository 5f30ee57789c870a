package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	kitconfig "github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
)

type Config struct {
	Log        LogConfig                  `toml:"log"`
	DB         DBConfig                   `toml:"database"`
	Purge      PurgeConfig                `toml:"purge"`
	Policy     PolicyConfig               `toml:"policy"`
	Moderation kitconfig.ModerationConfig `toml:"moderation"`
	Visibility kitconfig.VisibilityConfig `toml:"visibility"`
	Filters    FiltersConfig              `toml:"filters"`
	Metrics    MetricsConfig              `toml:"metrics"`
}

// MetricsConfig enables the Prometheus endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
	Path       string `toml:"path"`
}

type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func (l *LogLevel) UnmarshalText(text []byte) error {
	v := string(text)
	switch LogLevel(v) {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		*l = LogLevel(v)
		return nil
	default:
		return fmt.Errorf("invalid log.level: %q (must be debug, info, warn, error)", v)
	}
}

func (l LogLevel) String() string { return string(l) }

func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type LogConfig struct {
	Level           LogLevel            `toml:"level"`
	RejectionLevels map[string]LogLevel `toml:"rejection_levels"`
}

type DBConfig struct {
	Path string `toml:"path"`
}

// PurgeConfig points at the optional hook that removes a banned author's
// content from the backend.
type PurgeConfig struct {
	ExecutablePath string        `toml:"executable_path"`
	ConfigPath     string        `toml:"config_path"`
	Timeout        time.Duration `toml:"timeout"`
}

type PolicyConfig struct {
	ModeratorIDs []string      `toml:"moderator_ids"`
	BanDuration  time.Duration `toml:"ban_duration"`
}

func (p PolicyConfig) IsModerator(userID string) bool {
	return userID != "" && slices.Contains(p.ModeratorIDs, userID)
}

type FiltersConfig struct {
	RateLimiter kitconfig.RateLimiterConfig    `toml:"rate_limiter"`
	Tags        kitconfig.TagsFilterConfig     `toml:"tags"`
	Spam        kitconfig.SpamFilterConfig     `toml:"spam"`
	Language    kitconfig.LanguageFilterConfig `toml:"language"`

	BannedAuthor BannedAuthorFilterConfig `toml:"banned_author"`
	AutoBan      AutoBanFilterConfig      `toml:"autoban"`
}

type BannedAuthorFilterConfig struct {
	CacheSize int           `toml:"cache_size"`
	CacheTTL  time.Duration `toml:"cache_ttl"`
}

type AutoBanFilterConfig struct {
	Enabled           bool          `toml:"enabled"`
	MaxStrikes        int           `toml:"max_strikes"`
	StrikeWindow      time.Duration `toml:"strike_window"`
	BanDuration       time.Duration `toml:"ban_duration"`
	StrikesCacheSize  int           `toml:"strikes_cache_size"`
	CooldownCacheSize int           `toml:"cooldown_cache_size"`
	CooldownDuration  time.Duration `toml:"cooldown_duration"`
	BanTimeout        time.Duration `toml:"ban_timeout"`
	// Entries are a filter name ("SpamFilter"), a filter name and reason
	// ("ContentFilter:too_short") or such a key with a trailing "*".
	ExcludeFilters []string `toml:"exclude_filters_from_strikes"`
}

func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: InfoLevel,
		},
		DB: DBConfig{
			Path: "./researchlog-db",
		},
		Purge: PurgeConfig{
			Timeout: 30 * time.Second,
		},
		Policy: PolicyConfig{
			BanDuration: 30 * 24 * time.Hour,
		},
		Moderation: kitconfig.DefaultModerationConfig(),
		Visibility: kitconfig.DefaultVisibilityConfig(),
		Filters: FiltersConfig{
			Tags: kitconfig.DefaultTagsFilterConfig(),
			BannedAuthor: BannedAuthorFilterConfig{
				CacheSize: 8192,
				CacheTTL:  5 * time.Minute,
			},
			AutoBan: AutoBanFilterConfig{
				MaxStrikes:        5,
				StrikeWindow:      10 * time.Minute,
				BanDuration:       24 * time.Hour,
				StrikesCacheSize:  10000,
				CooldownCacheSize: 1000,
				CooldownDuration:  time.Minute,
				ExcludeFilters:    []string{"ContentFilter:too_short", "ContentFilter:too_long"},
			},
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

func (c *Config) validate() error {
	// --- [policy] ---
	if c.Policy.BanDuration <= 0 {
		return errors.New("policy.ban_duration must be a positive duration (e.g., '24h')")
	}
	for i, id := range c.Policy.ModeratorIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("policy.moderator_ids[%d] must not be empty", i)
		}
	}

	// --- [purge] ---
	if c.Purge.Timeout < 0 {
		return errors.New("purge.timeout must not be negative")
	}

	// --- [moderation] ---
	for _, ctx := range []kitconfig.ContentContext{kitconfig.ContextComment, kitconfig.ContextEntry} {
		if _, ok := c.Moderation.Contexts[string(ctx)]; !ok {
			return fmt.Errorf("moderation.contexts.%s must be defined", ctx)
		}
	}
	for name, b := range c.Moderation.Contexts {
		if b.MinLen < 0 || b.MaxLen < b.MinLen {
			return fmt.Errorf("moderation.contexts.%s: need 0 <= min_length <= max_length, got [%d, %d]", name, b.MinLen, b.MaxLen)
		}
	}
	for i, rule := range c.Moderation.Rules {
		if len(rule.Words) == 0 && len(rule.Patterns) == 0 {
			return fmt.Errorf("moderation.rule[%d] ('%s'): must contain at least one word or pattern", i, rule.Description)
		}
	}

	// --- [filters] ---

	// [filters.banned_author]
	if c.Filters.BannedAuthor.CacheSize < 0 {
		return errors.New("filters.banned_author.cache_size must not be negative")
	}
	if c.Filters.BannedAuthor.CacheTTL < 0 {
		return errors.New("filters.banned_author.cache_ttl must not be a negative duration")
	}

	// [filters.rate_limiter]
	if c.Filters.RateLimiter.Enabled {
		if c.Filters.RateLimiter.DefaultRate < 0 || c.Filters.RateLimiter.DefaultBurst <= 0 {
			return errors.New("filters.rate_limiter: default_rate must be >= 0 and default_burst must be > 0")
		}
		for i, rule := range c.Filters.RateLimiter.Rules {
			if rule.Rate < 0 || rule.Burst <= 0 {
				return fmt.Errorf("filters.rate_limiter.rule[%d] ('%s'): rate must be >= 0 and burst must be > 0", i, rule.Description)
			}
			if len(rule.Contexts) == 0 {
				return fmt.Errorf("filters.rate_limiter.rule[%d] ('%s'): must specify contexts", i, rule.Description)
			}
		}
	}

	// [filters.tags]
	tags := c.Filters.Tags
	if tags.MaxTags < 0 {
		return errors.New("filters.tags.max_tags must not be negative")
	}
	if tags.DefaultTag != "" && len(tags.Allowed) > 0 &&
		!slices.ContainsFunc(tags.Allowed, func(t string) bool { return strings.EqualFold(t, tags.DefaultTag) }) {
		return fmt.Errorf("filters.tags.default_tag '%s' must be one of filters.tags.allowed", tags.DefaultTag)
	}

	// [filters.spam]
	sp := c.Filters.Spam
	if sp.Enabled {
		if sp.MinDelay < 0 {
			return errors.New("filters.spam.min_delay_between_submissions must not be negative")
		}
		if sp.MaxCapsRatio < 0.0 || sp.MaxCapsRatio > 1.0 {
			return errors.New("filters.spam.max_caps_ratio must be between 0.0 and 1.0")
		}
		// Zero disables each of these checks.
		if sp.MinLettersForCapsCheck < 0 || sp.MaxWordLength < 0 || sp.MaxRepeatChars < 0 {
			return errors.New("filters.spam: min_letters_for_caps_check, max_word_length and max_character_repetitions must not be negative")
		}
	}

	// [filters.language]
	lang := c.Filters.Language
	if lang.Enabled {
		if len(lang.AllowedLanguages) == 0 {
			return errors.New("filters.language.allowed_languages must not be empty when enabled")
		}
		if lang.MinLengthForCheck < 0 {
			return errors.New("filters.language.min_length_for_check must not be negative")
		}
		if lang.ApprovedCacheTTL < 0 {
			return errors.New("filters.language.approved_cache_ttl must not be a negative duration")
		}
		if lang.ApprovedCacheSize < 0 {
			return errors.New("filters.language.approved_cache_size must not be negative")
		}
		if len(lang.PrimaryAcceptThreshold) > 0 {
			allowedSet := make(map[string]struct{}, len(lang.AllowedLanguages))
			for _, allowed := range lang.AllowedLanguages {
				allowedSet[strings.ToLower(allowed)] = struct{}{}
			}

			for primary, similarMap := range lang.PrimaryAcceptThreshold {
				if _, ok := allowedSet[strings.ToLower(primary)]; !ok {
					return fmt.Errorf(
						"filters.language.primary_accept_threshold: primary language '%s' is not in allowed_languages",
						primary,
					)
				}
				for similar, confidence := range similarMap {
					if confidence < 0.0 || confidence > 1.0 {
						return fmt.Errorf(
							"filters.language.primary_accept_threshold['%s']: confidence for '%s' is out of range [0.0, 1.0], got %f",
							primary,
							similar,
							confidence,
						)
					}
				}
			}
		}
	}

	// [metrics]
	if c.Metrics.ListenAddr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics.path must start with '/'")
	}

	// [filters.autoban]
	ab := c.Filters.AutoBan
	if ab.Enabled {
		if ab.MaxStrikes <= 0 {
			return errors.New("filters.autoban.max_strikes must be > 0")
		}
		if ab.StrikeWindow <= 0 {
			return errors.New("filters.autoban.strike_window must be a positive duration")
		}
		if ab.BanDuration <= 0 {
			return errors.New("filters.autoban.ban_duration must be a positive duration")
		}
		if ab.StrikesCacheSize <= 0 {
			return errors.New("filters.autoban.strikes_cache_size must be > 0")
		}
		if ab.CooldownCacheSize <= 0 {
			return errors.New("filters.autoban.cooldown_cache_size must be > 0")
		}
		if ab.CooldownDuration <= 0 {
			return errors.New("filters.autoban.cooldown_duration must be a positive duration")
		}
		// 0 means the internal default.
		if ab.BanTimeout < 0 {
			return errors.New("filters.autoban.ban_timeout must not be negative")
		}
	}

	return nil
}

// WordlistPath returns the wordlist location resolved against the
// directory of the config file, or "" when none is configured.
func (c *Config) WordlistPath(configPath string) string {
	p := c.Moderation.WordlistPath
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// Load reads the config file at path. With useDefaults a missing file is
// not an error and the built-in defaults are returned; the second return
// value reports that case.
func Load(path string, useDefaults bool) (*Config, bool, error) {
	cfg := defaultConfig()
	defaultsUsed := false

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if useDefaults {
				defaultsUsed = true
				if err := cfg.validate(); err != nil {
					return nil, true, err
				}
				return cfg, defaultsUsed, nil
			}
			return nil, false, fmt.Errorf("config file not found at %s", path)
		}
		return nil, false, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if wl := cfg.WordlistPath(path); wl != "" {
		rule, err := LoadWordlist(wl)
		if err != nil {
			return nil, false, err
		}
		if len(rule.Patterns) > 0 {
			cfg.Moderation.Rules = append(cfg.Moderation.Rules, rule)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, defaultsUsed, nil
}
