package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/lessucettes/researchlog/internal/config"
)

const banPrefix = "ban:"

// Store is the ban list shared by the submission pipeline and moderator actions.
type Store interface {
	IsAuthorBanned(ctx context.Context, authorID string) (bool, error)
	BanAuthor(ctx context.Context, authorID string, duration time.Duration) error
	UnbanAuthor(ctx context.Context, authorID string) error
	Close() error
}

// BadgerStore keeps bans as TTL'd keys in BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// badgerLogger adapts slog.Logger to be used as a logger for BadgerDB.
type badgerLogger struct {
	*slog.Logger
}

func (l *badgerLogger) Warningf(f string, v ...any) { l.Warn(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Errorf(f string, v ...any)   { l.Error(fmt.Sprintf(f, v...)) }
func (l *badgerLogger) Infof(f string, v ...any)    {}
func (l *badgerLogger) Debugf(f string, v ...any)   {}

func NewBadgerStore(cfg *config.DBConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.ValueThreshold = 1024
	opts.Logger = &badgerLogger{slog.Default()}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) IsAuthorBanned(ctx context.Context, authorID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := []byte(banPrefix + authorID)
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BanAuthor adds authorID to the ban list. A non-positive duration bans
// without expiry.
func (s *BadgerStore) BanAuthor(ctx context.Context, authorID string, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("Banning author", "author_id", authorID, "duration", duration.String())
	key := []byte(banPrefix + authorID)
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, nil)
		if duration > 0 {
			entry = entry.WithTTL(duration)
		}
		return txn.SetEntry(entry)
	})
}

func (s *BadgerStore) UnbanAuthor(ctx context.Context, authorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slog.Info("Unbanning author", "author_id", authorID)
	key := []byte(banPrefix + authorID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}
