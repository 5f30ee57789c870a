package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
)

const (
	tagsFilterName = "TagsFilter"
)

// TagsFilter checks entry tags against a closed set and stores the
// normalized tag list in meta["tags"].
type TagsFilter struct {
	contexts   []config.ContentContext
	allowed    map[string]string
	defaultTag string
	maxTags    int
}

func NewTagsFilter(cfg *config.TagsFilterConfig) (*TagsFilter, error) {
	allowed := make(map[string]string, len(cfg.Allowed))
	for _, tag := range cfg.Allowed {
		allowed[strings.ToLower(strings.TrimSpace(tag))] = tag
	}

	defaultTag := cfg.DefaultTag
	if defaultTag != "" && len(allowed) > 0 {
		canonical, ok := allowed[strings.ToLower(defaultTag)]
		if !ok {
			return nil, fmt.Errorf("default tag '%s' is not in the allowed list", defaultTag)
		}
		defaultTag = canonical
	}

	contexts := cfg.Contexts
	if len(contexts) == 0 {
		contexts = []config.ContentContext{config.ContextEntry}
	}

	filter := &TagsFilter{
		contexts:   contexts,
		allowed:    allowed,
		defaultTag: defaultTag,
		maxTags:    cfg.MaxTags,
	}
	return filter, nil
}

func (f *TagsFilter) Match(_ context.Context, sub *Submission, meta map[string]any) (FilterResult, error) {
	newResult := NewResultFunc(tagsFilterName)

	if !appliesTo(f.contexts, sub.Context) {
		return newResult(true, "context_not_checked", nil)
	}

	seen := make(map[string]struct{}, len(sub.Tags))
	tags := make([]string, 0, len(sub.Tags))
	for _, raw := range sub.Tags {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			continue
		}
		if len(f.allowed) > 0 {
			canonical, ok := f.allowed[strings.ToLower(tag)]
			if !ok {
				return newResult(false, fmt.Sprintf("unknown_tag:'%s'", tag), nil)
			}
			tag = canonical
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	if f.maxTags > 0 && len(tags) > f.maxTags {
		reason := fmt.Sprintf("too_many_tags:got_%d,max_%d", len(tags), f.maxTags)
		return newResult(false, reason, nil)
	}

	if len(tags) == 0 && f.defaultTag != "" {
		tags = append(tags, f.defaultTag)
	}
	if meta != nil {
		meta["tags"] = tags
	}

	return newResult(true, "tags_ok", nil)
}
