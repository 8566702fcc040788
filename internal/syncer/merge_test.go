package syncer

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopsavr-agent/internal/model"
)

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func keys(items []model.WishlistItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key)
	}
	return out
}

func TestMergeKeepsFreshLocalItem(t *testing.T) {
	local := []model.WishlistItem{{Key: "lamp", Title: "Lamp", CreatedAt: at(100)}}
	res := Merge(nil, local, at(50))
	assert.Equal(t, []string{"lamp"}, keys(res.Items))
}

func TestMergeDropsStaleLocalItem(t *testing.T) {
	local := []model.WishlistItem{{Key: "lamp", Title: "Lamp", CreatedAt: at(10)}}
	res := Merge(nil, local, at(50))
	assert.Empty(t, res.Items)
}

func TestMergeRecencyRule(t *testing.T) {
	lastSync := at(50)
	remote := model.WishlistItem{Key: "k", Title: "remote", CreatedAt: at(40)}

	tests := []struct {
		name      string
		localAt   time.Time
		wantTitle string
	}{
		{"local newer wins", at(51), "local"},
		{"tie goes to remote", at(50), "remote"},
		{"local older loses", at(49), "remote"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := model.WishlistItem{Key: "k", Title: "local", CreatedAt: tt.localAt}
			res := Merge([]model.WishlistItem{remote}, []model.WishlistItem{local}, lastSync)
			require.Len(t, res.Items, 1)
			assert.Equal(t, tt.wantTitle, res.Items[0].Title)
			require.Len(t, res.Conflicts, 1)
		})
	}
}

func TestMergeIndependentOfOrder(t *testing.T) {
	lastSync := at(50)
	remote := []model.WishlistItem{
		{Key: "a", Title: "ra", CreatedAt: at(1)},
		{Key: "b", Title: "rb", CreatedAt: at(2)},
		{Key: "c", Title: "rc", CreatedAt: at(3)},
	}
	local := []model.WishlistItem{
		{Key: "a", Title: "la", CreatedAt: at(60)},
		{Key: "b", Title: "lb", CreatedAt: at(50)},
		{Key: "d", Title: "ld", CreatedAt: at(70)},
		{Key: "e", Title: "le", CreatedAt: at(20)},
	}
	want := Merge(remote, local, lastSync)
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys(want.Items))
	assert.Equal(t, "la", want.Items[0].Title)
	assert.Equal(t, "rb", want.Items[1].Title)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		r := append([]model.WishlistItem(nil), remote...)
		l := append([]model.WishlistItem(nil), local...)
		rng.Shuffle(len(r), func(i, j int) { r[i], r[j] = r[j], r[i] })
		rng.Shuffle(len(l), func(i, j int) { l[i], l[j] = l[j], l[i] })
		assert.Equal(t, want, Merge(r, l, lastSync))
	}
}

func TestMergeIdenticalItemsAreNotConflicts(t *testing.T) {
	item := model.WishlistItem{Key: "k", Title: "same", Price: 3, CreatedAt: at(10)}
	res := Merge([]model.WishlistItem{item}, []model.WishlistItem{item}, at(50))
	assert.Empty(t, res.Conflicts)
	assert.Len(t, res.Items, 1)
}

func TestMergePreferences(t *testing.T) {
	lastSync := at(50)
	remote := model.DefaultPreferences()
	remote.MaxCouponsToTest = 2
	local := model.DefaultPreferences()
	local.MaxCouponsToTest = 7

	local.UpdatedAt = at(60)
	got, side := mergePreferences(&remote, local, lastSync)
	assert.Equal(t, SideLocal, side)
	assert.Equal(t, 7, got.MaxCouponsToTest)

	local.UpdatedAt = at(50)
	got, side = mergePreferences(&remote, local, lastSync)
	assert.Equal(t, SideRemote, side)
	assert.Equal(t, 2, got.MaxCouponsToTest)

	got, side = mergePreferences(nil, local, lastSync)
	assert.Equal(t, SideLocal, side)
	assert.Equal(t, 7, got.MaxCouponsToTest)
}
