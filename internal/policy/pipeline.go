package policy

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	kitpolicy "github.com/lessucettes/researchlog/pkg/researchlog-kit/policy"

	"github.com/lessucettes/researchlog/internal/config"
)

const internalErrorMsg = "Something went wrong while checking your submission. Please try again."

// Messages shown to authors for filters that do not produce their own.
var filterMessages = map[string]string{
	"BannedAuthorFilter": "Your account is not allowed to post right now.",
	"RateLimiterFilter":  "You are posting too quickly. Please wait a moment and try again.",
	"SpamFilter":         "Your submission looks like spam.",
	"TagsFilter":         "Your entry has tags that are not allowed.",
	"LanguageFilter":     "Your submission is not in a supported language.",
}

type MetricsCollector interface {
	Report(res kitpolicy.FilterResult)
}

type PipelineStage struct {
	Filter kitpolicy.Filter
}

type Pipeline struct {
	stages            []PipelineStage
	rejectionHandlers []RejectionHandler
	rejectionLevels   map[string]config.LogLevel
	collector         MetricsCollector
	wg                sync.WaitGroup
}

func NewPipeline(
	cfg *config.Config,
	stages []PipelineStage,
	handlers []RejectionHandler,
	collector MetricsCollector,
) *Pipeline {
	return &Pipeline{
		stages:            stages,
		rejectionHandlers: handlers,
		rejectionLevels:   cfg.Log.RejectionLevels,
		collector:         collector,
	}
}

// ProcessSubmission runs sub through every stage in order and stops at the
// first rejection. A returned error means a stage failed internally; the
// response is still a valid rejection in that case.
func (p *Pipeline) ProcessSubmission(
	ctx context.Context,
	sub *kitpolicy.Submission,
	dryRun bool,
) (response PolicyResponse, err error) {
	p.wg.Add(1)
	defer p.wg.Done()

	if sub == nil {
		return PolicyResponse{Action: ActionReject, Reason: "invalid_submission", Msg: internalErrorMsg}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic recovered in filter pipeline",
				"panic", r, "submission_id", sub.ID, "author_id", sub.AuthorID, "stack", string(debug.Stack()),
			)
			response = PolicyResponse{ID: sub.ID, Action: ActionReject, Reason: "internal_error", Msg: internalErrorMsg}
			err = nil
		}
	}()

	meta := map[string]any{}

	for _, stage := range p.stages {
		res, filterErr := stage.Filter.Match(ctx, sub, meta)
		if filterErr != nil {
			slog.Error("Filter execution failed", "error", filterErr, "filter_name", res.Filter, "submission_id", sub.ID)
			return PolicyResponse{
				ID:     sub.ID,
				Action: ActionReject,
				Reason: "internal: error in filter " + res.Filter,
				Msg:    internalErrorMsg,
			}, filterErr
		}

		if p.collector != nil {
			p.collector.Report(res)
		}

		if !res.Allowed {
			// The submission text is never logged.
			logAttrs := []slog.Attr{
				slog.String("filter_name", res.Filter),
				slog.String("submission_id", sub.ID),
				slog.String("context", sub.Context.String()),
				slog.String("author_id", sub.AuthorID),
				slog.String("reason", res.Reason),
				slog.Duration("duration", res.Duration),
			}
			logLevel := slog.LevelWarn
			if level, ok := p.rejectionLevels[res.Filter]; ok {
				logLevel = level.ToSlogLevel()
			}
			slog.LogAttrs(ctx, logLevel, "Submission rejected by filter", logAttrs...)

			if dryRun {
				slog.LogAttrs(ctx, slog.LevelInfo, "Dry-run: Submission would be rejected", logAttrs...)
				return acceptResponse(sub, meta), nil
			}

			for _, handler := range p.rejectionHandlers {
				handler.HandleRejection(ctx, sub, res)
			}

			return PolicyResponse{ID: sub.ID, Action: ActionReject, Reason: res.Reason, Msg: userMessage(res)}, nil
		}
	}

	slog.Debug("Submission accepted by all filters", "submission_id", sub.ID, "author_id", sub.AuthorID)
	return acceptResponse(sub, meta), nil
}

func acceptResponse(sub *kitpolicy.Submission, meta map[string]any) PolicyResponse {
	resp := PolicyResponse{ID: sub.ID, Action: ActionAccept, Text: sub.Text, Tags: sub.Tags}
	if tags, ok := meta["tags"].([]string); ok {
		resp.Tags = tags
	}
	if lang, ok := meta["language"].(string); ok {
		resp.Language = lang
	}
	return resp
}

func userMessage(res kitpolicy.FilterResult) string {
	if res.Message != "" {
		return res.Message
	}
	if msg, ok := filterMessages[res.Filter]; ok {
		return msg
	}
	return "Your submission was rejected."
}

// Close waits for in-flight submissions and closes stages that hold resources.
func (p *Pipeline) Close() error {
	p.wg.Wait()

	for _, stage := range p.stages {
		if closer, ok := stage.Filter.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				slog.Error("Failed to close a filter component", "filter", stage.Filter, "error", err)
			}
		}
	}
	for _, handler := range p.rejectionHandlers {
		if closer, ok := handler.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				slog.Error("Failed to close a rejection handler", "handler", handler, "error", err)
			}
		}
	}
	return nil
}

// rejectionKey is how exclude lists name a rejection: "Filter:reason".
func rejectionKey(res kitpolicy.FilterResult) string {
	return res.Filter + ":" + res.Reason
}

func matchesRejection(patterns []string, res kitpolicy.FilterResult) bool {
	key := rejectionKey(res)
	for _, p := range patterns {
		if p == res.Filter || p == key || (strings.HasSuffix(p, "*") && strings.HasPrefix(key, strings.TrimSuffix(p, "*"))) {
			return true
		}
	}
	return false
}
