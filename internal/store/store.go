// Package store is the durable local state of the agent: pending changes,
// the cached wishlist, coupon history, the error queue and two key-value
// scopes (sync for settings, local for everything device-specific).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopsavr-agent/internal/model"
)

// Scope names a key-value namespace.
type Scope string

const (
	ScopeSync  Scope = "sync"
	ScopeLocal Scope = "local"
)

const (
	keyPreferences = "preferences"
	keySyncState   = "sync_state"
)

type kvEntry struct {
	Scope     Scope  `gorm:"primaryKey"`
	Key       string `gorm:"primaryKey;column:name"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (kvEntry) TableName() string { return "kv_entries" }

// Store wraps a GORM handle. A Store obtained inside Transaction is bound
// to that transaction.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the SQLite database at path. ":memory:"
// gives a private in-memory database.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: NewGormLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store handle: %w", err)
	}
	// SQLite allows one writer; serialising here avoids SQLITE_BUSY and
	// keeps an in-memory database on a single connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&model.PendingChange{},
		&model.WishlistItem{},
		&model.CouponUsage{},
		&model.ErrorEntry{},
		&kvEntry{},
	); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn atomically. fn must use the Store it is given.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, log: s.log})
	})
}

// --- pending changes ---

func (s *Store) AppendChange(ctx context.Context, c *model.PendingChange) error {
	if !c.Kind.Valid() {
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
	return s.db.WithContext(ctx).Create(c).Error
}

// PendingChanges returns the queue oldest first.
func (s *Store) PendingChanges(ctx context.Context) ([]model.PendingChange, error) {
	var out []model.PendingChange
	err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.PendingChange{}).Count(&n).Error
	return n, err
}

// DeleteChange removes a change once its remote call succeeded.
func (s *Store) DeleteChange(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&model.PendingChange{}, "id = ?", id).Error
}

// MarkAttempt records a failed push and returns the new attempt count.
func (s *Store) MarkAttempt(ctx context.Context, id, lastErr string) (int, error) {
	db := s.db.WithContext(ctx)
	err := db.Model(&model.PendingChange{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": lastErr,
	}).Error
	if err != nil {
		return 0, err
	}
	var c model.PendingChange
	if err := db.First(&c, "id = ?", id).Error; err != nil {
		return 0, err
	}
	return c.Attempts, nil
}

// --- wishlist ---

func (s *Store) Wishlist(ctx context.Context) ([]model.WishlistItem, error) {
	var out []model.WishlistItem
	err := s.db.WithContext(ctx).Order("created_at ASC, product_key ASC").Find(&out).Error
	return out, err
}

func (s *Store) WishlistItem(ctx context.Context, key string) (model.WishlistItem, bool, error) {
	var item model.WishlistItem
	err := s.db.WithContext(ctx).First(&item, "product_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return item, false, nil
	}
	return item, err == nil, err
}

func (s *Store) UpsertWishlistItem(ctx context.Context, item model.WishlistItem) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&item).Error
}

func (s *Store) DeleteWishlistItem(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&model.WishlistItem{}, "product_key = ?", key).Error
}

// ReplaceWishlist swaps the cached wishlist for items in one transaction.
func (s *Store) ReplaceWishlist(ctx context.Context, items []model.WishlistItem) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.Where("1 = 1").Delete(&model.WishlistItem{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.db.Create(&items).Error
	})
}

// --- coupon history ---

func (s *Store) AddCouponUsage(ctx context.Context, u *model.CouponUsage) error {
	return s.db.WithContext(ctx).Create(u).Error
}

// CouponHistory returns the newest limit entries, newest first. A limit of
// zero returns everything.
func (s *Store) CouponHistory(ctx context.Context, limit int) ([]model.CouponUsage, error) {
	q := s.db.WithContext(ctx).Order("applied_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.CouponUsage
	return out, q.Find(&out).Error
}

// --- error queue ---

func (s *Store) AppendError(ctx context.Context, e *model.ErrorEntry) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *Store) Errors(ctx context.Context) ([]model.ErrorEntry, error) {
	var out []model.ErrorEntry
	return out, s.db.WithContext(ctx).Order("id ASC").Find(&out).Error
}

// --- key-value scopes ---

// Get decodes the JSON value stored under (scope, key) into dst.
func (s *Store) Get(ctx context.Context, scope Scope, key string, dst interface{}) (bool, error) {
	var e kvEntry
	err := s.db.WithContext(ctx).First(&e, "scope = ? AND name = ?", scope, key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(e.Value), dst); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", scope, key, err)
	}
	return true, nil
}

// Put stores v as JSON under (scope, key).
func (s *Store) Put(ctx context.Context, scope Scope, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", scope, key, err)
	}
	e := kvEntry{Scope: scope, Key: key, Value: string(raw), UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&e).Error
}

// Preferences returns the stored settings, or the defaults before the
// first write.
func (s *Store) Preferences(ctx context.Context) (model.Preferences, error) {
	p := model.DefaultPreferences()
	if _, err := s.Get(ctx, ScopeSync, keyPreferences, &p); err != nil {
		return model.DefaultPreferences(), err
	}
	return p, nil
}

func (s *Store) SavePreferences(ctx context.Context, p model.Preferences) error {
	return s.Put(ctx, ScopeSync, keyPreferences, p)
}

// SeedPreferences stores p only if no settings were written yet.
func (s *Store) SeedPreferences(ctx context.Context, p model.Preferences) (bool, error) {
	var existing model.Preferences
	found, err := s.Get(ctx, ScopeSync, keyPreferences, &existing)
	if err != nil || found {
		return false, err
	}
	return true, s.SavePreferences(ctx, p)
}

func (s *Store) SyncState(ctx context.Context) (model.SyncState, error) {
	var st model.SyncState
	_, err := s.Get(ctx, ScopeLocal, keySyncState, &st)
	return st, err
}

func (s *Store) SaveSyncState(ctx context.Context, st model.SyncState) error {
	return s.Put(ctx, ScopeLocal, keySyncState, st)
}
