package policy

import (
	"context"
	"fmt"
	"regexp"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
)

const (
	spamFilterName = "SpamFilter"
)

// SpamFilter rejects shouting, keyboard mashing, overlong words, zalgo text
// and authors posting faster than the configured delay.
type SpamFilter struct {
	cfg        *config.SpamFilterConfig
	zalgoRegex *regexp.Regexp
	wordRegex  *regexp.Regexp
	lastSeen   *lru.LRU[string, time.Time]
}

func NewSpamFilter(cfg *config.SpamFilterConfig) (*SpamFilter, error) {
	if !cfg.Enabled {
		return &SpamFilter{cfg: cfg}, nil
	}

	var zalgoRegex, wordRegex *regexp.Regexp
	var err error

	if cfg.BlockZalgo {
		zalgoRegex = regexp.MustCompile("[\u0300-\u036F\u1AB0-\u1AFF\u1DC0-\u1DFF\u20D0-\u20FF\uFE20-\uFE2F]")
	}
	if cfg.MaxWordLength > 0 {
		wordRegex, err = regexp.Compile(fmt.Sprintf(`\S{%d,}`, cfg.MaxWordLength+1))
		if err != nil {
			return nil, fmt.Errorf("invalid max_word_length generates bad regexp: %w", err)
		}
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 10000
	}

	filter := &SpamFilter{
		cfg:        cfg,
		zalgoRegex: zalgoRegex,
		wordRegex:  wordRegex,
		lastSeen:   lru.NewLRU[string, time.Time](size, nil, 5*time.Minute),
	}
	return filter, nil
}

func (f *SpamFilter) Match(_ context.Context, sub *Submission, meta map[string]any) (FilterResult, error) {
	newResult := NewResultFunc(spamFilterName)

	if !f.cfg.Enabled || !appliesTo(f.cfg.Contexts, sub.Context) {
		return newResult(true, "filter_disabled_or_context_not_matched", nil)
	}

	if f.cfg.MinDelay > 0 && sub.AuthorID != "" {
		key := string(sub.Context) + ":" + sub.AuthorID
		now := time.Now()
		if last, ok := f.lastSeen.Get(key); ok {
			if delay := now.Sub(last); delay < f.cfg.MinDelay {
				reason := fmt.Sprintf("posting_too_frequently:delay_%.1fs,limit_%.1fs", delay.Seconds(), f.cfg.MinDelay.Seconds())
				return newResult(false, reason, nil)
			}
		}
		f.lastSeen.Add(key, now)
	}

	text := sub.Text

	if f.cfg.MaxCapsRatio > 0 {
		letters, caps := 0, 0
		for _, r := range text {
			if unicode.IsLetter(r) {
				letters++
				if unicode.IsUpper(r) {
					caps++
				}
			}
		}
		minLetters := f.cfg.MinLettersForCapsCheck
		if minLetters <= 0 {
			minLetters = 20
		}
		if letters > minLetters {
			if ratio := float64(caps) / float64(letters); ratio > f.cfg.MaxCapsRatio {
				reason := fmt.Sprintf("excessive_caps:ratio_%.2f,limit_%.2f", ratio, f.cfg.MaxCapsRatio)
				return newResult(false, reason, nil)
			}
		}
	}

	if f.cfg.MaxRepeatChars > 0 {
		runes := []rune(text)
		count := 1
		for i := 1; i < len(runes); i++ {
			if runes[i] == runes[i-1] {
				count++
			} else {
				count = 1
			}
			if count > f.cfg.MaxRepeatChars {
				reason := fmt.Sprintf("excessive_char_repetition:count_%d,limit_%d", count, f.cfg.MaxRepeatChars)
				return newResult(false, reason, nil)
			}
		}
	}

	if f.wordRegex != nil && f.wordRegex.MatchString(text) {
		return newResult(false, fmt.Sprintf("word_too_long:limit_%d", f.cfg.MaxWordLength), nil)
	}

	if f.zalgoRegex != nil && f.zalgoRegex.MatchString(text) {
		return newResult(false, "zalgo_text_detected", nil)
	}

	return newResult(true, "spam_checks_ok", nil)
}
