package policy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	kitpolicy "github.com/lessucettes/researchlog/pkg/researchlog-kit/policy"

	"github.com/lessucettes/researchlog/internal/config"
	"github.com/lessucettes/researchlog/internal/store"
)

const defaultBanTimeout = 5 * time.Second

// AutoBanFilter bans authors who collect too many rejections within the
// strike window. It runs as a RejectionHandler, never as a stage.
type AutoBanFilter struct {
	mu      sync.Mutex
	strikes *lru.LRU[string, *RejectionStats]
	store   store.Store
	cache   BanCache
	cfg     *config.AutoBanFilterConfig
	wg      sync.WaitGroup

	// Authors banned recently; new strikes are ignored until it expires.
	banningCooldown *lru.LRU[string, struct{}]
}

// RejectionStats stores the violation history for an author.
type RejectionStats struct {
	StrikeCount     int
	FirstStrikeTime time.Time
}

var _ RejectionHandler = (*AutoBanFilter)(nil)

func NewAutoBanFilter(s store.Store, cfg *config.AutoBanFilterConfig, cache BanCache) (*AutoBanFilter, error) {
	if cfg == nil {
		return nil, errors.New("autoban config is nil")
	}
	f := &AutoBanFilter{store: s, cache: cache, cfg: cfg}
	if !cfg.Enabled {
		return f, nil
	}

	f.strikes = lru.NewLRU[string, *RejectionStats](cfg.StrikesCacheSize, nil, cfg.StrikeWindow)
	f.banningCooldown = lru.NewLRU[string, struct{}](cfg.CooldownCacheSize, nil, cfg.CooldownDuration)
	return f, nil
}

func (f *AutoBanFilter) HandleRejection(ctx context.Context, sub *kitpolicy.Submission, res kitpolicy.FilterResult) {
	if !f.cfg.Enabled || sub == nil || sub.AuthorID == "" {
		return
	}
	if matchesRejection(f.cfg.ExcludeFilters, res) {
		return
	}

	authorID := sub.AuthorID

	if _, onCooldown := f.banningCooldown.Get(authorID); onCooldown {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, onCooldown := f.banningCooldown.Get(authorID); onCooldown {
		return
	}

	stats, ok := f.strikes.Get(authorID)
	if !ok {
		stats = &RejectionStats{StrikeCount: 1, FirstStrikeTime: time.Now()}
	} else {
		stats.StrikeCount++
	}

	f.strikes.Add(authorID, stats)

	if stats.StrikeCount >= f.cfg.MaxStrikes {
		slog.Warn("Auto-banning author for repeated violations",
			"author_id", authorID,
			"strike_count", stats.StrikeCount,
			"last_filter", res.Filter,
			"ban_duration", f.cfg.BanDuration)

		f.wg.Add(1)
		go f.banAuthor(authorID)

		f.strikes.Remove(authorID)
		f.banningCooldown.Add(authorID, struct{}{})
	}
}

// banAuthor is not bound to the request context.
func (f *AutoBanFilter) banAuthor(authorID string) {
	defer f.wg.Done()

	timeout := f.cfg.BanTimeout
	if timeout <= 0 {
		timeout = defaultBanTimeout
	}
	banCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := f.store.BanAuthor(banCtx, authorID, f.cfg.BanDuration); err != nil {
		slog.Error("Failed to auto-ban author", "author_id", authorID, "error", err)
		return
	}
	if f.cache != nil {
		f.cache.Invalidate(authorID)
	}
}

// Close waits for pending bans.
func (f *AutoBanFilter) Close() error {
	f.wg.Wait()
	return nil
}
