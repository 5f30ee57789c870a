package policy

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	kitconfig "github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
	kitpolicy "github.com/lessucettes/researchlog/pkg/researchlog-kit/policy"

	"github.com/lessucettes/researchlog/internal/config"
	"github.com/lessucettes/researchlog/testutils"
)

type funcFilter func(ctx context.Context, sub *kitpolicy.Submission, meta map[string]any) (kitpolicy.FilterResult, error)

func (f funcFilter) Match(ctx context.Context, sub *kitpolicy.Submission, meta map[string]any) (kitpolicy.FilterResult, error) {
	return f(ctx, sub, meta)
}

type recordingHandler struct {
	mu      sync.Mutex
	results []kitpolicy.FilterResult
}

func (h *recordingHandler) HandleRejection(_ context.Context, _ *kitpolicy.Submission, res kitpolicy.FilterResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, res)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.results)
}

func newContentPipeline(t *testing.T, handlers ...RejectionHandler) *Pipeline {
	t.Helper()
	mod := kitconfig.DefaultModerationConfig()
	mod.Rules = []kitconfig.ModerationRule{{Words: []string{"ass"}}}
	content, err := kitpolicy.NewContentFilter(&mod)
	require.NoError(t, err)

	tagsCfg := kitconfig.DefaultTagsFilterConfig()
	tags, err := kitpolicy.NewTagsFilter(&tagsCfg)
	require.NoError(t, err)

	banned, err := NewBannedAuthorFilter(testutils.NewInMemoryStore(), nil)
	require.NoError(t, err)

	stages := []PipelineStage{{Filter: banned}, {Filter: content}, {Filter: tags}}
	return NewPipeline(&config.Config{}, stages, handlers, nil)
}

func TestPipeline_ProcessSubmission(t *testing.T) {
	ctx := context.Background()
	handler := &recordingHandler{}
	p := newContentPipeline(t, handler)

	testCases := []struct {
		name     string
		sub      *kitpolicy.Submission
		action   string
		reason   string
		msg      string
		wantTags []string
	}{
		{
			name:   "clean comment is accepted",
			sub:    testutils.MakeComment(testutils.TestAuthorID, "Nice catch!"),
			action: ActionAccept,
		},
		{
			name:     "entry gets default tag",
			sub:      testutils.MakeEntry(testutils.TestAuthorID, "Found a shiny Pikachu near the park today"),
			action:   ActionAccept,
			wantTags: []string{"General"},
		},
		{
			name:   "short entry is rejected with a user message",
			sub:    testutils.MakeEntry(testutils.TestAuthorID, "too short"),
			action: ActionReject,
			reason: "too_short",
			msg:    "Your entry must be at least 15 characters long.",
		},
		{
			name:   "inappropriate comment is rejected",
			sub:    testutils.MakeComment(testutils.TestAuthorID, "what an ass"),
			action: ActionReject,
			reason: "inappropriate",
			msg:    "Your comment contains inappropriate language.",
		},
		{
			name:   "unknown tag is rejected with a generic message",
			sub:    testutils.MakeEntry(testutils.TestAuthorID, "Found a shiny Pikachu near the park today", "Shiny"),
			action: ActionReject,
			reason: "unknown_tag:'Shiny'",
			msg:    filterMessages["TagsFilter"],
		},
		{
			name:   "anonymous submission is rejected",
			sub:    testutils.MakeComment("", "Nice catch!"),
			action: ActionReject,
			reason: "author_missing",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := p.ProcessSubmission(ctx, tc.sub, false)
			require.NoError(t, err)
			require.Equal(t, tc.sub.ID, resp.ID)
			require.Equal(t, tc.action, resp.Action)
			if tc.action == ActionAccept {
				require.Equal(t, tc.sub.Text, resp.Text)
				require.Equal(t, tc.wantTags, resp.Tags)
				return
			}
			require.Equal(t, tc.reason, resp.Reason)
			require.NotEmpty(t, resp.Msg)
			if tc.msg != "" {
				require.Equal(t, tc.msg, resp.Msg)
			}
			require.Empty(t, resp.Text, "rejected text must not be echoed")
		})
	}

	require.Equal(t, 4, handler.count(), "every rejection reaches the handlers")
}

func TestPipeline_DryRun(t *testing.T) {
	handler := &recordingHandler{}
	p := newContentPipeline(t, handler)

	sub := testutils.MakeComment(testutils.TestAuthorID, "what an ass")
	resp, err := p.ProcessSubmission(context.Background(), sub, true)
	require.NoError(t, err)
	require.Equal(t, ActionAccept, resp.Action)
	require.Equal(t, 0, handler.count(), "handlers do not run in dry-run mode")
}

func TestPipeline_StopsAtFirstRejection(t *testing.T) {
	var secondCalled bool
	first := funcFilter(func(ctx context.Context, sub *kitpolicy.Submission, meta map[string]any) (kitpolicy.FilterResult, error) {
		return kitpolicy.NewResultFunc("First")(false, "nope", nil)
	})
	second := funcFilter(func(ctx context.Context, sub *kitpolicy.Submission, meta map[string]any) (kitpolicy.FilterResult, error) {
		secondCalled = true
		return kitpolicy.NewResultFunc("Second")(true, "ok", nil)
	})

	p := NewPipeline(&config.Config{}, []PipelineStage{{Filter: first}, {Filter: second}}, nil, nil)
	resp, err := p.ProcessSubmission(context.Background(), testutils.MakeComment("a", "b"), false)
	require.NoError(t, err)
	require.Equal(t, ActionReject, resp.Action)
	require.Equal(t, "nope", resp.Reason)
	require.Equal(t, "Your submission was rejected.", resp.Msg)
	require.False(t, secondCalled)
}

func TestPipeline_FilterErrorAndPanic(t *testing.T) {
	failing := funcFilter(func(ctx context.Context, sub *kitpolicy.Submission, meta map[string]any) (kitpolicy.FilterResult, error) {
		return kitpolicy.NewResultFunc("Failing")(false, "boom", errors.New("backend unavailable"))
	})
	panicking := funcFilter(func(ctx context.Context, sub *kitpolicy.Submission, meta map[string]any) (kitpolicy.FilterResult, error) {
		panic("unexpected")
	})

	p := NewPipeline(&config.Config{}, []PipelineStage{{Filter: failing}}, nil, nil)
	resp, err := p.ProcessSubmission(context.Background(), testutils.MakeComment("a", "b"), false)
	require.Error(t, err)
	require.Equal(t, ActionReject, resp.Action)
	require.True(t, strings.HasPrefix(resp.Reason, "internal:"))

	p = NewPipeline(&config.Config{}, []PipelineStage{{Filter: panicking}}, nil, nil)
	resp, err = p.ProcessSubmission(context.Background(), testutils.MakeComment("a", "b"), false)
	require.NoError(t, err)
	require.Equal(t, ActionReject, resp.Action)
	require.Equal(t, "internal_error", resp.Reason)
	require.NoError(t, p.Close())
}

func TestPipeline_NilSubmission(t *testing.T) {
	p := NewPipeline(&config.Config{}, nil, nil, nil)
	resp, err := p.ProcessSubmission(context.Background(), nil, false)
	require.NoError(t, err)
	require.Equal(t, ActionReject, resp.Action)
}

type recordingCollector struct {
	mu      sync.Mutex
	reports []kitpolicy.FilterResult
}

func (c *recordingCollector) Report(res kitpolicy.FilterResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, res)
}

func TestPipeline_ReportsEveryStage(t *testing.T) {
	allow := funcFilter(func(ctx context.Context, sub *kitpolicy.Submission, meta map[string]any) (kitpolicy.FilterResult, error) {
		return kitpolicy.NewResultFunc("Allow")(true, "ok", nil)
	})
	deny := funcFilter(func(ctx context.Context, sub *kitpolicy.Submission, meta map[string]any) (kitpolicy.FilterResult, error) {
		return kitpolicy.NewResultFunc("Deny")(false, "nope", nil)
	})

	collector := &recordingCollector{}
	p := NewPipeline(&config.Config{}, []PipelineStage{{Filter: allow}, {Filter: deny}}, nil, collector)
	_, err := p.ProcessSubmission(context.Background(), testutils.MakeComment("a", "b"), false)
	require.NoError(t, err)

	require.Len(t, collector.reports, 2)
	require.Equal(t, "Allow", collector.reports[0].Filter)
	require.False(t, collector.reports[1].Allowed)
}

func TestMatchesRejection(t *testing.T) {
	res := kitpolicy.FilterResult{Filter: "ContentFilter", Reason: "too_short"}
	require.True(t, matchesRejection([]string{"ContentFilter"}, res))
	require.True(t, matchesRejection([]string{"ContentFilter:too_short"}, res))
	require.True(t, matchesRejection([]string{"ContentFilter:too_*"}, res))
	require.False(t, matchesRejection([]string{"ContentFilter:too_long"}, res))
	require.False(t, matchesRejection(nil, res))
}
