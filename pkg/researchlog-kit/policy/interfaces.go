package policy

import (
	"context"
	"slices"
	"time"

	"github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
)

// Submission is a user-submitted entry or comment awaiting moderation.
type Submission struct {
	ID       string                `json:"id,omitempty"`
	AuthorID string                `json:"author_id"`
	Context  config.ContentContext `json:"context"`
	Text     string                `json:"text"`
	Tags     []string              `json:"tags,omitempty"`
}

// FilterResult is the structured return type for all filters.
// Message is the user-facing explanation and is only set by filters
// whose reason is meant to be shown back to the author.
type FilterResult struct {
	Allowed  bool
	Filter   string
	Reason   string
	Message  string
	Duration time.Duration
}

// Filter is the interface that all kit filters must implement.
type Filter interface {
	Match(ctx context.Context, sub *Submission, meta map[string]any) (FilterResult, error)
}

// NewResultFunc returns a helper function for creating FilterResult objects.
func NewResultFunc(filterName string) func(allowed bool, reason string, err error) (FilterResult, error) {
	start := time.Now()
	return func(allowed bool, reason string, err error) (FilterResult, error) {
		return FilterResult{
			Allowed:  allowed,
			Filter:   filterName,
			Reason:   reason,
			Duration: time.Since(start),
		}, err
	}
}

// appliesTo reports whether a context list selects ctx. An empty list selects all.
func appliesTo(contexts []config.ContentContext, ctx config.ContentContext) bool {
	return len(contexts) == 0 || slices.Contains(contexts, ctx)
}
