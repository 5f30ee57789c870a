package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
)

const (
	rateLimiterFilterName = "RateLimiterFilter"
	defaultLimiterCache   = 65536
	defaultLimiterTTL     = 10 * time.Minute
)

type RateLimiterFilter struct {
	cfg           *config.RateLimiterConfig
	limiters      *lru.LRU[string, *rate.Limiter]
	contextToRule map[config.ContentContext]*config.RateLimitRule
	mu            sync.Mutex
}

func NewRateLimiterFilter(cfg *config.RateLimiterConfig) (*RateLimiterFilter, error) {
	if !cfg.Enabled {
		return &RateLimiterFilter{cfg: cfg}, nil
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = defaultLimiterCache
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultLimiterTTL
	}

	contextMap := make(map[config.ContentContext]*config.RateLimitRule, len(cfg.Rules))
	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		for _, ctx := range rule.Contexts {
			contextMap[ctx] = rule
		}
	}

	filter := &RateLimiterFilter{
		cfg:           cfg,
		limiters:      lru.NewLRU[string, *rate.Limiter](size, nil, ttl),
		contextToRule: contextMap,
	}
	return filter, nil
}

func (f *RateLimiterFilter) Match(_ context.Context, sub *Submission, meta map[string]any) (FilterResult, error) {
	newResult := NewResultFunc(rateLimiterFilterName)

	if !f.cfg.Enabled {
		return newResult(true, "filter_disabled", nil)
	}
	if sub.AuthorID == "" {
		return newResult(true, "author_empty", nil)
	}

	currentRate := f.cfg.DefaultRate
	currentBurst := f.cfg.DefaultBurst
	ruleDescription := "default"
	if rule, exists := f.contextToRule[sub.Context]; exists {
		currentRate = rule.Rate
		currentBurst = rule.Burst
		ruleDescription = rule.Description
	}

	if currentRate <= 0 {
		return newResult(true, "rate_unlimited_for_context", nil)
	}

	// Each rule keeps its own bucket per author.
	cacheKey := fmt.Sprintf("%s:%s:%s", ruleDescription, sub.Context, sub.AuthorID)
	if !f.getLimiter(cacheKey, currentRate, currentBurst).Allow() {
		reason := fmt.Sprintf("rate_limit_exceeded:'%s'", ruleDescription)
		return newResult(false, reason, nil)
	}

	return newResult(true, "rate_limit_ok", nil)
}

func (f *RateLimiterFilter) getLimiter(key string, r float64, b int) *rate.Limiter {
	if limiter, ok := f.limiters.Get(key); ok {
		return limiter
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if limiter, ok := f.limiters.Get(key); ok {
		return limiter
	}

	limiter := rate.NewLimiter(rate.Limit(r), b)
	f.limiters.Add(key, limiter)
	return limiter
}
