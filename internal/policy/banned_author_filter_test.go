package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lessucettes/researchlog/internal/config"
	"github.com/lessucettes/researchlog/testutils"
)

func TestBannedAuthorFilter_Logic(t *testing.T) {
	ctx := context.Background()
	bannedID := "banned-trainer"
	cleanID := "clean-trainer"

	testCases := []struct {
		name       string
		authorID   string
		setupStore func(context.Context, *testutils.MockStore)
		allowed    bool
		reason     string
		wantErr    bool
	}{
		{
			name:       "accepts submission from a non-banned author",
			authorID:   cleanID,
			setupStore: func(ctx context.Context, s *testutils.MockStore) {},
			allowed:    true,
			reason:     "author_not_banned",
		},
		{
			name:     "rejects submission from a banned author",
			authorID: bannedID,
			setupStore: func(ctx context.Context, s *testutils.MockStore) {
				_ = s.BanAuthor(ctx, bannedID, time.Minute)
			},
			reason: "author_banned",
		},
		{
			name:       "rejects anonymous submission",
			authorID:   "",
			setupStore: func(ctx context.Context, s *testutils.MockStore) {},
			reason:     "author_missing",
		},
		{
			name:     "rejects submission if store returns an error",
			authorID: "any-trainer",
			setupStore: func(ctx context.Context, s *testutils.MockStore) {
				s.SetError(errors.New("db is down"))
			},
			reason:  "internal_author_check_failed",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := testutils.NewMockStore()
			tc.setupStore(ctx, s)

			filter, err := NewBannedAuthorFilter(s, &config.BannedAuthorFilterConfig{})
			require.NoError(t, err)

			res, err := filter.Match(ctx, testutils.MakeComment(tc.authorID, "content"), nil)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.allowed, res.Allowed)
			require.Equal(t, tc.reason, res.Reason)
			require.Equal(t, bannedAuthorFilterName, res.Filter)
		})
	}
}

func TestBannedAuthorFilter_Caching(t *testing.T) {
	ctx := context.Background()
	s := testutils.NewMockStore()

	filter, err := NewBannedAuthorFilter(s, nil)
	require.NoError(t, err)

	bannedID := "banned-trainer-for-cache-test"
	_ = s.BanAuthor(ctx, bannedID, time.Minute)
	sub := testutils.MakeComment(bannedID, "x")

	_, _ = filter.Match(ctx, sub, nil)
	require.Equal(t, 1, s.Calls(), "store should be queried once")

	_, _ = filter.Match(ctx, sub, nil)
	require.Equal(t, 1, s.Calls(), "second lookup should come from the cache")

	filter.Invalidate(bannedID)
	_, _ = filter.Match(ctx, sub, nil)
	require.Equal(t, 2, s.Calls(), "invalidated author should be looked up again")
}

func TestBannedAuthorFilter_Concurrency(t *testing.T) {
	ctx := context.Background()
	s := testutils.NewMockStore()

	filter, err := NewBannedAuthorFilter(s, nil)
	require.NoError(t, err)

	bannedID := "concurrent-banned"
	cleanID := "concurrent-clean"
	_ = s.BanAuthor(ctx, bannedID, time.Minute)

	// Warm both keys so the assertion below is independent of scheduling.
	_, _ = filter.Match(ctx, testutils.MakeComment(bannedID, "x"), nil)
	_, _ = filter.Match(ctx, testutils.MakeComment(cleanID, "x"), nil)

	var wg sync.WaitGroup
	const N = 100
	wg.Add(N)
	for i := range N {
		go func(i int) {
			defer wg.Done()
			id := cleanID
			if i%2 == 0 {
				id = bannedID
			}
			res, _ := filter.Match(ctx, testutils.MakeComment(id, "x"), nil)
			if (id == bannedID) == res.Allowed {
				t.Errorf("unexpected verdict for %s: %+v", id, res)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 2, s.Calls(), "store should be queried exactly once per author")
}
