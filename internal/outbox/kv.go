package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// KV is the durable key-value store the outbox persists into.
type KV interface {
	// Get returns nil, nil when key is absent.
	Get(key string) ([]byte, error)
	// Write stores every entry in one transaction.
	Write(entries map[string][]byte) error
	Close() error
}

type BadgerConfig struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// BadgerKV is a KV on an embedded badger database.
type BadgerKV struct {
	db *badger.DB
}

type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func OpenBadger(cfg BadgerConfig) (*BadgerKV, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("outbox path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create outbox directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox database: %w", err)
	}
	return &BadgerKV{db: db}, nil
}

func (k *BadgerKV) Get(key string) ([]byte, error) {
	var val []byte
	err := k.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return val, nil
}

func (k *BadgerKV) Write(entries map[string][]byte) error {
	return k.db.Update(func(txn *badger.Txn) error {
		for key, val := range entries {
			if err := txn.Set([]byte(key), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (k *BadgerKV) Close() error {
	return k.db.Close()
}

// RunGC reclaims value log space until ctx is done. In-memory
// databases have no value log and return immediately.
func (k *BadgerKV) RunGC(ctx context.Context, interval time.Duration, ratio float64, log *slog.Logger) {
	if k.db.Opts().InMemory {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := k.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				log.Warn("outbox value log gc failed", slog.Any("error", err))
			}
		}
	}
}
