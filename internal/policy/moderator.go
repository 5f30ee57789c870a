package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lessucettes/researchlog/internal/config"
	"github.com/lessucettes/researchlog/internal/purge"
	"github.com/lessucettes/researchlog/internal/store"
)

var (
	ErrNotModerator  = errors.New("caller is not a moderator")
	ErrInvalidTarget = errors.New("invalid ban target")
)

// Moderator executes ban and unban requests issued by configured moderators.
type Moderator struct {
	cfg         config.PolicyConfig
	store       store.Store
	purge       purge.ClientInterface
	cache       BanCache
	banDuration time.Duration
	wg          sync.WaitGroup
}

func NewModerator(cfg config.PolicyConfig, s store.Store, p purge.ClientInterface, cache BanCache) *Moderator {
	if len(cfg.ModeratorIDs) == 0 {
		slog.Warn("policy.moderator_ids is not set in config, moderator actions will be refused.")
	}
	return &Moderator{
		cfg:         cfg,
		store:       s,
		purge:       p,
		cache:       cache,
		banDuration: cfg.BanDuration,
	}
}

func (m *Moderator) authorize(moderatorID, targetID string) error {
	if !m.cfg.IsModerator(moderatorID) {
		return ErrNotModerator
	}
	if targetID == "" || targetID == moderatorID || m.cfg.IsModerator(targetID) {
		return ErrInvalidTarget
	}
	return nil
}

// Ban bans targetID for the configured duration and then purges the
// author's content in the background.
func (m *Moderator) Ban(ctx context.Context, moderatorID, targetID string) error {
	if err := m.authorize(moderatorID, targetID); err != nil {
		return err
	}

	slog.Info("Moderator action: banning author", "moderator_id", moderatorID, "banned_author_id", targetID)
	if err := m.store.BanAuthor(ctx, targetID, m.banDuration); err != nil {
		return fmt.Errorf("failed to ban author %s: %w", targetID, err)
	}
	if m.cache != nil {
		m.cache.Invalidate(targetID)
	}

	if m.purge != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.purge.PurgeAuthor(context.Background(), targetID); err != nil {
				slog.Error("Failed to purge content after moderator ban", "error", err, "author_id", targetID)
			}
		}()
	}
	return nil
}

func (m *Moderator) Unban(ctx context.Context, moderatorID, targetID string) error {
	if err := m.authorize(moderatorID, targetID); err != nil {
		return err
	}

	slog.Info("Moderator action: unbanning author", "moderator_id", moderatorID, "unbanned_author_id", targetID)
	if err := m.store.UnbanAuthor(ctx, targetID); err != nil {
		return fmt.Errorf("failed to unban author %s: %w", targetID, err)
	}
	if m.cache != nil {
		m.cache.Invalidate(targetID)
	}
	return nil
}

// Close waits for running purges.
func (m *Moderator) Close() error {
	m.wg.Wait()
	return nil
}
