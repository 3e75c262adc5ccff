package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"channel-sub-bot/logger"
	"channel-sub-bot/metrics"
	"channel-sub-bot/model"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the ledger. Every call goes through the retrier, so a dropped
// connection is re-dialed and the call repeated once.
type Store struct {
	mu      sync.RWMutex
	db      *gorm.DB
	dsn     string
	timeout time.Duration
	metrics *metrics.Metrics
	retrier Retrier
}

type Option func(*Store)

// WithTimeout bounds every store call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Open dials the database named by dsn, migrates the schema and seeds the
// default settings. postgres:// and postgresql:// URLs select PostgreSQL,
// anything else is treated as a SQLite path or URI.
func Open(dsn string, opts ...Option) (*Store, error) {
	s := &Store{dsn: dsn}
	for _, opt := range opts {
		opt(s)
	}
	s.retrier = Retrier{Reconnect: s.reconnect, Metrics: s.metrics}

	db, err := dial(dsn)
	if err != nil {
		return nil, err
	}
	s.db = db

	if err := db.AutoMigrate(model.All()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := seedSettings(db); err != nil {
		return nil, err
	}

	return s, nil
}

func dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

func dial(dsn string) (*gorm.DB, error) {
	d := dialector(dsn)
	db, err := gorm.Open(d, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}

	if d.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func seedSettings(db *gorm.DB) error {
	for _, key := range model.SettingKeys {
		err := db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.Setting{Key: key, Value: model.DefaultSettings[key]}).Error
		if err != nil {
			return fmt.Errorf("seed setting %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) conn() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// reconnect dials a fresh pool before closing the old one.
func (s *Store) reconnect(context.Context) error {
	db, err := dial(s.dsn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.db
	s.db = db
	s.mu.Unlock()

	if sqlDB, err := old.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Log.Warn("closing stale connection pool", logger.Error(err))
		}
	}
	logger.Log.Info("store reconnected")
	return nil
}

func (s *Store) do(ctx context.Context, op string, fn func(db *gorm.DB) error) error {
	return s.retrier.Do(ctx, op, func(ctx context.Context) error {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return fn(s.conn().WithContext(ctx))
	})
}

// Transact runs fn inside one database transaction. A transaction that dies
// with the connection is rolled back, so it is safe to run fn again.
func (s *Store) Transact(ctx context.Context, fn func(tx *Tx) error) error {
	return s.do(ctx, "transact", func(db *gorm.DB) error {
		return db.Transaction(func(gtx *gorm.DB) error {
			return fn(&Tx{db: gtx})
		})
	})
}

// Ping checks the database is reachable, reconnecting once if it is not.
func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
}

func (s *Store) Close() error {
	sqlDB, err := s.conn().DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
