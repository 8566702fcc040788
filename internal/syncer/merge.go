package syncer

import (
	"sort"
	"time"

	"shopsavr-agent/internal/model"
)

// Side names the copy a merge kept.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Conflict is a key present on both sides with differing content. It is
// resolved by the recency rule and only reported for logging.
type Conflict struct {
	Key  string
	Kept Side
}

// MergeResult is the reconciled wishlist, sorted by key.
type MergeResult struct {
	Items     []model.WishlistItem
	Conflicts []Conflict
}

// Merge reconciles the remote and local wishlists. A local item wins only
// when it was created strictly after lastSync; otherwise the remote copy is
// authoritative and a local item missing remotely is dropped. The result
// does not depend on the order of either input.
func Merge(remote, local []model.WishlistItem, lastSync time.Time) MergeResult {
	byKey := make(map[string]model.WishlistItem, len(remote)+len(local))
	for _, r := range remote {
		byKey[r.Key] = r
	}

	var conflicts []Conflict
	for _, l := range local {
		fresh := l.CreatedAt.After(lastSync)
		r, both := byKey[l.Key]
		switch {
		case both && fresh:
			byKey[l.Key] = l
			if !sameContent(l, r) {
				conflicts = append(conflicts, Conflict{Key: l.Key, Kept: SideLocal})
			}
		case both:
			if !sameContent(l, r) {
				conflicts = append(conflicts, Conflict{Key: l.Key, Kept: SideRemote})
			}
		case fresh:
			byKey[l.Key] = l
		}
	}

	items := make([]model.WishlistItem, 0, len(byKey))
	for _, it := range byKey {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Key < conflicts[j].Key })
	return MergeResult{Items: items, Conflicts: conflicts}
}

func sameContent(a, b model.WishlistItem) bool {
	return a.Title == b.Title && a.URL == b.URL && a.Price == b.Price && a.Currency == b.Currency
}

// mergePreferences keeps the local settings only when they changed after
// the last sync. A nil remote means the backend has none yet.
func mergePreferences(remote *model.Preferences, local model.Preferences, lastSync time.Time) (model.Preferences, Side) {
	if remote == nil || local.UpdatedAt.After(lastSync) {
		return local, SideLocal
	}
	return *remote, SideRemote
}
