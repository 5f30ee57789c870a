package policy

import (
	"context"
	"errors"

	"github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
)

const (
	contentFilterName = "ContentFilter"
)

// ContentFilter runs TextModerationPolicy as a pipeline stage.
type ContentFilter struct {
	policy *TextModerationPolicy
}

func NewContentFilter(cfg *config.ModerationConfig) (*ContentFilter, error) {
	p, err := NewTextModerationPolicy(cfg)
	if err != nil {
		return nil, err
	}
	return &ContentFilter{policy: p}, nil
}

func (f *ContentFilter) Match(_ context.Context, sub *Submission, meta map[string]any) (FilterResult, error) {
	newResult := NewResultFunc(contentFilterName)

	if _, err := f.policy.Evaluate(sub.Text, sub.Context); err != nil {
		if rej, ok := AsRejection(err); ok {
			res, _ := newResult(false, string(rej.Reason), nil)
			res.Message = rej.Message
			return res, nil
		}
		if errors.Is(err, ErrUnknownContext) {
			res, _ := newResult(false, "unknown_context", nil)
			res.Message = "This kind of submission is not supported."
			return res, nil
		}
		return newResult(false, "internal_moderation_failed", err)
	}

	return newResult(true, "content_ok", nil)
}
