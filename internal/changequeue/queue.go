// Package changequeue applies local mutations and records them as pending
// changes for the sync engine. The local write and the queue append share
// one transaction, so a change is never visible locally without also being
// queued for the backend.
package changequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"shopsavr-agent/internal/model"
	"shopsavr-agent/internal/store"
)

// ErrInvalidProduct is returned for product data without an id or a URL.
var ErrInvalidProduct = errors.New("product data needs a productId or url")

// Queue is the local mutation API.
type Queue struct {
	store  *store.Store
	log    zerolog.Logger
	signal chan struct{}
	now    func() time.Time
}

// New returns a queue writing to st.
func New(st *store.Store, log zerolog.Logger) *Queue {
	return &Queue{
		store:  st,
		log:    log.With().Str("component", "changequeue").Logger(),
		signal: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Signals delivers one value after new changes were queued. Bursts collapse
// into a single pending signal.
func (q *Queue) Signals() <-chan struct{} { return q.signal }

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pending lists queued changes, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]model.PendingChange, error) {
	return q.store.PendingChanges(ctx)
}

// AddToWishlist caches the product locally and queues its remote creation.
// productData is the JSON captured from the product page.
func (q *Queue) AddToWishlist(ctx context.Context, productData []byte) (model.WishlistItem, error) {
	if !gjson.ValidBytes(productData) {
		return model.WishlistItem{}, fmt.Errorf("product data is not valid JSON")
	}
	now := q.now()
	item := itemFromProduct(gjson.ParseBytes(productData), now)
	if item.Key == "" {
		return model.WishlistItem{}, ErrInvalidProduct
	}

	payload, err := sjson.SetBytes(productData, "key", item.Key)
	if err != nil {
		return model.WishlistItem{}, err
	}
	if payload, err = sjson.SetBytes(payload, "createdAt", now.UnixMilli()); err != nil {
		return model.WishlistItem{}, err
	}

	err = q.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.UpsertWishlistItem(ctx, item); err != nil {
			return err
		}
		return tx.AppendChange(ctx, q.change(model.ChangeWishlistAdd, payload, now))
	})
	if err != nil {
		return model.WishlistItem{}, fmt.Errorf("add to wishlist: %w", err)
	}
	q.log.Debug().Str("key", item.Key).Msg("wishlist add queued")
	q.notify()
	return item, nil
}

// RemoveFromWishlist drops the cached item and queues its remote deletion.
// Removing an unknown key still queues the deletion; the backend may hold
// an item this device never cached.
func (q *Queue) RemoveFromWishlist(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidProduct
	}
	now := q.now()
	err := q.store.Transaction(ctx, func(tx *store.Store) error {
		item, _, err := tx.WishlistItem(ctx, key)
		if err != nil {
			return err
		}
		if err := tx.DeleteWishlistItem(ctx, key); err != nil {
			return err
		}
		payload, _ := sjson.SetBytes([]byte(`{}`), "key", key)
		if item.RemoteID != "" {
			payload, _ = sjson.SetBytes(payload, "id", item.RemoteID)
		}
		return tx.AppendChange(ctx, q.change(model.ChangeWishlistRemove, payload, now))
	})
	if err != nil {
		return fmt.Errorf("remove from wishlist: %w", err)
	}
	q.notify()
	return nil
}

// RecordCouponUsage appends to the local history and queues the report.
func (q *Queue) RecordCouponUsage(ctx context.Context, u model.CouponUsage) error {
	now := q.now()
	if u.AppliedAt.IsZero() {
		u.AppliedAt = now
	}
	payload, err := json.Marshal(map[string]interface{}{
		"couponId":    u.CouponID,
		"storeId":     u.StoreID,
		"amountSaved": u.AmountSaved,
		"code":        u.Code,
		"url":         u.PageURL,
	})
	if err != nil {
		return err
	}
	err = q.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.AddCouponUsage(ctx, &u); err != nil {
			return err
		}
		return tx.AppendChange(ctx, q.change(model.ChangeCouponUsage, payload, now))
	})
	if err != nil {
		return fmt.Errorf("record coupon usage: %w", err)
	}
	q.notify()
	return nil
}

// UpdatePreferences merges patch (a partial preferences object) into the
// stored settings, stamps them, and queues the full result.
func (q *Queue) UpdatePreferences(ctx context.Context, patch []byte) (model.Preferences, error) {
	if !gjson.ValidBytes(patch) || !gjson.ParseBytes(patch).IsObject() {
		return model.Preferences{}, fmt.Errorf("preferences patch must be a JSON object")
	}
	now := q.now()
	var updated model.Preferences
	err := q.store.Transaction(ctx, func(tx *store.Store) error {
		current, err := tx.Preferences(ctx)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(patch, &current); err != nil {
			return fmt.Errorf("decode preferences patch: %w", err)
		}
		current.UpdatedAt = now
		if err := tx.SavePreferences(ctx, current); err != nil {
			return err
		}
		payload, err := json.Marshal(current)
		if err != nil {
			return err
		}
		updated = current
		return tx.AppendChange(ctx, q.change(model.ChangePreferenceUpdate, payload, now))
	})
	if err != nil {
		return model.Preferences{}, fmt.Errorf("update preferences: %w", err)
	}
	q.notify()
	return updated, nil
}

func (q *Queue) change(kind model.ChangeKind, payload []byte, at time.Time) *model.PendingChange {
	return &model.PendingChange{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   string(payload),
		CreatedAt: at,
	}
}

// itemFromProduct reads the fields product pages commonly expose.
func itemFromProduct(p gjson.Result, now time.Time) model.WishlistItem {
	first := func(paths ...string) gjson.Result {
		for _, path := range paths {
			if r := p.Get(path); r.Exists() && r.String() != "" {
				return r
			}
		}
		return gjson.Result{}
	}

	item := model.WishlistItem{
		Key:       first("productId", "id", "sku").String(),
		Title:     first("title", "name").String(),
		URL:       first("url", "link").String(),
		ImageURL:  first("imageUrl", "image").String(),
		Store:     first("store", "storeName", "domain").String(),
		Currency:  first("currency").String(),
		CreatedAt: now,
	}
	if item.Key == "" {
		item.Key = item.URL
	}
	if price := first("price", "currentPrice"); price.Exists() {
		item.Price = price.Float()
	}
	return item
}
