package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
)

// RejectionReason tags a user-correctable moderation outcome.
type RejectionReason string

const (
	ReasonTooShort      RejectionReason = "too_short"
	ReasonTooLong       RejectionReason = "too_long"
	ReasonInappropriate RejectionReason = "inappropriate"
)

// Rejection is returned by Evaluate when a submission is refused.
// Message is safe to show to the author; it never names a matched term.
type Rejection struct {
	Reason  RejectionReason
	Message string
}

func (r *Rejection) Error() string { return string(r.Reason) + ": " + r.Message }

// ErrUnknownContext is returned for a context with no configured bounds.
var ErrUnknownContext = errors.New("unknown moderation context")

// RE2's \s is ASCII only; the sets below also cover \v, Unicode spaces
// and separators (NBSP, EM SPACE, U+2028) and the BOM.
var (
	matchStripRegex      = regexp.MustCompile(`[^\w\s\x0B\p{Z}\x{FEFF}]|_`)
	matchWhitespaceRegex = regexp.MustCompile(`[\s\x0B\p{Z}\x{FEFF}]+`)
)

type compiledTermRule struct {
	contexts []config.ContentContext
	regex    *regexp.Regexp
}

// TextModerationPolicy validates free text against per-context length bounds
// and a banned-term list. It holds no mutable state after construction and is
// safe for concurrent use.
type TextModerationPolicy struct {
	bounds map[config.ContentContext]config.LengthBounds
	rules  []compiledTermRule
}

// NewTextModerationPolicy compiles every rule once. Per-call evaluation never
// builds a regexp.
func NewTextModerationPolicy(cfg *config.ModerationConfig) (*TextModerationPolicy, error) {
	bounds := make(map[config.ContentContext]config.LengthBounds, len(cfg.Contexts))
	for name, b := range cfg.Contexts {
		if b.MinLen < 0 || b.MaxLen < b.MinLen {
			return nil, fmt.Errorf("invalid bounds for context '%s': [%d, %d]", name, b.MinLen, b.MaxLen)
		}
		bounds[config.ContentContext(name)] = b
	}

	var rules []compiledTermRule
	for _, rule := range cfg.Rules {
		for _, word := range rule.Words {
			if strings.TrimSpace(word) == "" {
				return nil, fmt.Errorf("empty word in rule '%s'", rule.Description)
			}
			compiled, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("internal error compiling word '%s': %w", word, err)
			}
			rules = append(rules, compiledTermRule{contexts: rule.Contexts, regex: compiled})
		}
		for _, pattern := range rule.Patterns {
			if strings.TrimSpace(pattern) == "" {
				return nil, fmt.Errorf("empty pattern in rule '%s'", rule.Description)
			}
			compiled, err := regexp.Compile(`(?i)\b(?:` + pattern + `)\b`)
			if err != nil {
				return nil, fmt.Errorf("failed to compile pattern '%s' for rule '%s': %w", pattern, rule.Description, err)
			}
			rules = append(rules, compiledTermRule{contexts: rule.Contexts, regex: compiled})
		}
	}

	return &TextModerationPolicy{bounds: bounds, rules: rules}, nil
}

// Evaluate returns text unchanged when it is accepted. A refused submission
// yields a *Rejection; an unconfigured context yields ErrUnknownContext.
//
// Length checks run first and short-circuit term matching. Text made only of
// whitespace counts as empty for the minimum check.
func (p *TextModerationPolicy) Evaluate(text string, ctx config.ContentContext) (string, error) {
	bounds, ok := p.bounds[ctx]
	if !ok {
		return "", fmt.Errorf("%w: '%s'", ErrUnknownContext, ctx)
	}

	length := utf8.RuneCountInString(text)
	if strings.TrimSpace(text) == "" {
		length = 0
	}
	if length < bounds.MinLen {
		return "", &Rejection{
			Reason:  ReasonTooShort,
			Message: fmt.Sprintf("Your %s must be at least %d %s long.", ctx, bounds.MinLen, characters(bounds.MinLen)),
		}
	}
	if length > bounds.MaxLen {
		return "", &Rejection{
			Reason:  ReasonTooLong,
			Message: fmt.Sprintf("Your %s exceeds the %d-character limit.", ctx, bounds.MaxLen),
		}
	}

	normalized := normalizeForMatching(text)
	for _, rule := range p.rules {
		if !appliesTo(rule.contexts, ctx) {
			continue
		}
		if rule.regex.MatchString(normalized) {
			return "", &Rejection{
				Reason:  ReasonInappropriate,
				Message: fmt.Sprintf("Your %s contains inappropriate language.", ctx),
			}
		}
	}

	return text, nil
}

// AsRejection unwraps a moderation rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// normalizeForMatching removes punctuation, underscores and markup so that
// "b.a.d" and "b_a_d" are seen as "bad". Any whitespace run becomes one space. The result is only ever matched against, never returned.
func normalizeForMatching(text string) string {
	stripped := matchStripRegex.ReplaceAllString(text, "")
	return strings.TrimSpace(matchWhitespaceRegex.ReplaceAllString(stripped, " "))
}

func characters(n int) string {
	if n == 1 {
		return "character"
	}
	return "characters"
}
