// config/config.go
package config

import "time"

// ContentContext names the kind of submission being moderated.
type ContentContext string

const (
	ContextComment ContentContext = "comment"
	ContextEntry   ContentContext = "entry"
)

func (c ContentContext) String() string { return string(c) }

// LengthBounds is an inclusive [MinLen, MaxLen] range measured in characters.
type LengthBounds struct {
	MinLen int `toml:"min_length"`
	MaxLen int `toml:"max_length"`
}

// ModerationRule is a group of banned terms. Words are matched literally,
// Patterns are match expressions. Both are whole-word and case-insensitive.
// An empty Contexts list applies the rule to every context.
type ModerationRule struct {
	Description string           `toml:"description"`
	Contexts    []ContentContext `toml:"contexts"`
	Words       []string         `toml:"words"`
	Patterns    []string         `toml:"patterns"`
}

type ModerationConfig struct {
	Contexts     map[string]LengthBounds `toml:"contexts"`
	WordlistPath string                  `toml:"wordlist_path"`
	Rules        []ModerationRule        `toml:"rule"`
}

// DefaultModerationConfig returns the historical bounds of the research log.
func DefaultModerationConfig() ModerationConfig {
	return ModerationConfig{
		Contexts: map[string]LengthBounds{
			string(ContextComment): {MinLen: 1, MaxLen: 500},
			string(ContextEntry):   {MinLen: 15, MaxLen: 3000},
		},
	}
}

type VisibilityConfig struct {
	UnknownDisplayName string `toml:"unknown_display_name"`
	DefaultPictureURL  string `toml:"default_picture_url"`
}

const (
	DefaultUnknownDisplayName = "Unknown Trainer"
	DefaultPictureURL         = "/images/default-avatar.png"
)

func DefaultVisibilityConfig() VisibilityConfig {
	return VisibilityConfig{
		UnknownDisplayName: DefaultUnknownDisplayName,
		DefaultPictureURL:  DefaultPictureURL,
	}
}

type TagsFilterConfig struct {
	Contexts   []ContentContext `toml:"contexts"`
	Allowed    []string         `toml:"allowed"`
	DefaultTag string           `toml:"default_tag"`
	MaxTags    int              `toml:"max_tags"`
}

func DefaultTagsFilterConfig() TagsFilterConfig {
	return TagsFilterConfig{
		Contexts:   []ContentContext{ContextEntry},
		Allowed:    []string{"General", "Q&A", "Brags", "Fails"},
		DefaultTag: "General",
		MaxTags:    4,
	}
}

type RateLimitRule struct {
	Description string           `toml:"description"`
	Contexts    []ContentContext `toml:"contexts"`
	Rate        float64          `toml:"rate"`
	Burst       int              `toml:"burst"`
}

type RateLimiterConfig struct {
	Enabled      bool            `toml:"enabled"`
	CacheSize    int             `toml:"cache_size"`
	TTL          time.Duration   `toml:"ttl"`
	DefaultRate  float64         `toml:"default_rate"`
	DefaultBurst int             `toml:"default_burst"`
	Rules        []RateLimitRule `toml:"rule"`
}

type SpamFilterConfig struct {
	Enabled                bool             `toml:"enabled"`
	Contexts               []ContentContext `toml:"contexts"`
	MinDelay               time.Duration    `toml:"min_delay_between_submissions"`
	MaxCapsRatio           float64          `toml:"max_caps_ratio"`
	MinLettersForCapsCheck int              `toml:"min_letters_for_caps_check"`
	MaxRepeatChars         int              `toml:"max_character_repetitions"`
	MaxWordLength          int              `toml:"max_word_length"`
	BlockZalgo             bool             `toml:"block_zalgo_text"`
	CacheSize              int              `toml:"cache_size"`
}

type LanguageFilterConfig struct {
	Enabled                bool                          `toml:"enabled"`
	AllowedLanguages       []string                      `toml:"allowed_languages"`
	Contexts               []ContentContext              `toml:"contexts"`
	MinLengthForCheck      int                           `toml:"min_length_for_check"`
	ApprovedCacheTTL       time.Duration                 `toml:"approved_cache_ttl"`
	ApprovedCacheSize      int                           `toml:"approved_cache_size"`
	PrimaryAcceptThreshold map[string]map[string]float64 `toml:"primary_accept_threshold"`
}
