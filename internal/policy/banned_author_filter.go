package policy

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	kitpolicy "github.com/lessucettes/researchlog/pkg/researchlog-kit/policy"

	"github.com/lessucettes/researchlog/internal/config"
	"github.com/lessucettes/researchlog/internal/store"
)

const (
	defaultCacheSize       = 8192
	defaultCacheTTL        = 5 * time.Minute
	bannedAuthorFilterName = "BannedAuthorFilter"
)

// BanCache is implemented by components that cache ban lookups and must
// forget an author when their ban state changes.
type BanCache interface {
	Invalidate(authorID string)
}

type BannedAuthorFilter struct {
	store store.Store
	cache *lru.LRU[string, bool]
	sf    singleflight.Group
}

var _ BanCache = (*BannedAuthorFilter)(nil)

func NewBannedAuthorFilter(s store.Store, cfg *config.BannedAuthorFilterConfig) (*BannedAuthorFilter, error) {
	size, ttl := defaultCacheSize, defaultCacheTTL
	if cfg != nil {
		if cfg.CacheSize > 0 {
			size = cfg.CacheSize
		}
		if cfg.CacheTTL > 0 {
			ttl = cfg.CacheTTL
		}
	}
	return &BannedAuthorFilter{
		store: s,
		cache: lru.NewLRU[string, bool](size, nil, ttl),
	}, nil
}

func (f *BannedAuthorFilter) isBanned(ctx context.Context, authorID string) (bool, error) {
	if isBanned, ok := f.cache.Get(authorID); ok {
		return isBanned, nil
	}

	v, err, _ := f.sf.Do(authorID, func() (any, error) {
		if isBanned, ok := f.cache.Get(authorID); ok {
			return isBanned, nil
		}
		isBanned, err := f.store.IsAuthorBanned(ctx, authorID)
		if err != nil {
			return false, err
		}
		f.cache.Add(authorID, isBanned)
		return isBanned, nil
	})

	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (f *BannedAuthorFilter) Invalidate(authorID string) {
	f.cache.Remove(authorID)
}

func (f *BannedAuthorFilter) Match(ctx context.Context, sub *kitpolicy.Submission, meta map[string]any) (kitpolicy.FilterResult, error) {
	newResult := kitpolicy.NewResultFunc(bannedAuthorFilterName)

	if sub == nil {
		return newResult(false, "invalid_submission", nil)
	}
	// Only signed-in trainers can post.
	if sub.AuthorID == "" {
		return newResult(false, "author_missing", nil)
	}

	banned, err := f.isBanned(ctx, sub.AuthorID)
	if err != nil {
		return newResult(false, "internal_author_check_failed", err)
	}
	if banned {
		return newResult(false, "author_banned", nil)
	}

	return newResult(true, "author_not_banned", nil)
}
