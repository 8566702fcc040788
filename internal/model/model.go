// Package model holds the records shared by the store, the change queue,
// the sync engine and the backend client.
package model

import "time"

// ChangeKind identifies the remote operation a pending change stands for.
type ChangeKind string

const (
	ChangeWishlistAdd      ChangeKind = "wishlist_add"
	ChangeWishlistRemove   ChangeKind = "wishlist_remove"
	ChangeCouponUsage      ChangeKind = "coupon_usage"
	ChangePreferenceUpdate ChangeKind = "preference_update"
)

// Valid reports whether k is one of the known change kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeWishlistAdd, ChangeWishlistRemove, ChangeCouponUsage, ChangePreferenceUpdate:
		return true
	}
	return false
}

// PendingChange is a local mutation waiting for remote confirmation.
// Payload holds the JSON body of the remote call.
type PendingChange struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	Kind      ChangeKind `gorm:"index;not null" json:"kind"`
	Payload   string     `gorm:"not null" json:"payload"`
	CreatedAt time.Time  `gorm:"index" json:"createdAt"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"lastError,omitempty"`
}

// WishlistItem is keyed by product key (product id, or the product URL when
// the retailer exposes no id). RemoteID is assigned by the backend.
type WishlistItem struct {
	Key       string    `gorm:"primaryKey;column:product_key" json:"key"`
	RemoteID  string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Store     string    `json:"store,omitempty"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CouponUsage is one applied-coupon history entry.
type CouponUsage struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	CouponID    string    `json:"couponId"`
	StoreID     string    `json:"storeId"`
	Code        string    `json:"code"`
	PageURL     string    `json:"url,omitempty"`
	AmountSaved float64   `json:"amountSaved"`
	AppliedAt   time.Time `gorm:"index" json:"appliedAt"`
}

// ErrorEntry records a pending change that ran out of attempts. The change
// itself stays queued.
type ErrorEntry struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"-"`
	ChangeID  string     `gorm:"index" json:"changeId"`
	Kind      ChangeKind `json:"kind"`
	Attempts  int        `json:"attempts"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"createdAt"`
}

// SyncState is the persisted half of the process-wide sync state. The
// in-progress flag lives in memory on the sync engine.
type SyncState struct {
	LastSyncTime time.Time `json:"lastSyncTime"`
	RetryCount   int       `json:"retryCount"`
}

// Preferences are the user settings kept in the device-synced scope.
// Written by the change queue (local edits) and the sync engine (remote
// wins); read by the checkout flow.
type Preferences struct {
	AutoApplyEnabled  bool      `json:"autoApplyEnabled"`
	AutoApplyDelayMs  int       `json:"autoApplyDelay"`
	MaxCouponsToTest  int       `json:"maxCouponsToTest"`
	ShowNotifications bool      `json:"showNotifications"`
	SyncIntervalMs    int       `json:"syncIntervalMs"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// DefaultPreferences returns the settings used before the user changes anything.
func DefaultPreferences() Preferences {
	return Preferences{
		AutoApplyEnabled:  true,
		AutoApplyDelayMs:  3000,
		MaxCouponsToTest:  10,
		ShowNotifications: true,
		SyncIntervalMs:    300000,
	}
}

// AutoApplyDelay returns the configured delay as a duration.
func (p Preferences) AutoApplyDelay() time.Duration {
	if p.AutoApplyDelayMs < 0 {
		return 0
	}
	return time.Duration(p.AutoApplyDelayMs) * time.Millisecond
}

// SyncInterval returns the sync interval, falling back to five minutes.
func (p Preferences) SyncInterval() time.Duration {
	if p.SyncIntervalMs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.SyncIntervalMs) * time.Millisecond
}
