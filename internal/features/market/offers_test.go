package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/items"
)

func newOfferFixture(t *testing.T) (*OfferService, *memStore, *memItems) {
	t.Helper()
	store := newMemStore()
	itemStore := newMemItems()
	svc := NewOfferService(stubRunner{}, store, itemStore, 7*24*time.Hour)
	return svc, store, itemStore
}

func galaxyRef(id int64) items.Ref {
	return items.Ref{Type: items.TypeGalaxy, ID: id}
}

func validOfferInput(sellerID int64) CreateOfferInput {
	return CreateOfferInput{
		SellerID:  sellerID,
		ItemType:  items.TypeGalaxy,
		ItemID:    1,
		Price:     dec("100"),
		Currency:  common.CurrencyStardust,
		OfferType: OfferP2P,
	}
}

func TestCreateOfferValidation(t *testing.T) {
	svc, _, itemStore := newOfferFixture(t)
	itemStore.add(galaxyRef(1), 10)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateOfferInput)
		want   error
	}{
		{"нулевая цена", func(in *CreateOfferInput) { in.Price = dec("0") }, common.ErrInvalidOfferData},
		{"отрицательная цена", func(in *CreateOfferInput) { in.Price = dec("-5") }, common.ErrInvalidOfferData},
		{"цена точнее шкалы валюты", func(in *CreateOfferInput) { in.Price = dec("10.001") }, common.ErrInvalidOfferData},
		{"дробные Stars", func(in *CreateOfferInput) {
			in.Currency = common.CurrencyTgStars
			in.Price = dec("10.5")
		}, common.ErrInvalidOfferData},
		{"неизвестная валюта", func(in *CreateOfferInput) { in.Currency = "gold" }, common.ErrUnsupportedCurrency},
		{"неизвестный тип предмета", func(in *CreateOfferInput) { in.ItemType = "planet" }, common.ErrUnsupportedItemType},
		{"отрицательный ttl", func(in *CreateOfferInput) { in.TTL = -time.Hour }, common.ErrInvalidOfferData},
		{"ttl больше максимума", func(in *CreateOfferInput) { in.TTL = 8 * 24 * time.Hour }, common.ErrInvalidOfferData},
		{"p2p без продавца", func(in *CreateOfferInput) { in.SellerID = SystemSellerID }, common.ErrInvalidOfferData},
		{"system с продавцом-игроком", func(in *CreateOfferInput) { in.OfferType = OfferSystem }, common.ErrInvalidOfferData},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validOfferInput(10)
			tc.mutate(&in)
			_, err := svc.CreateOffer(ctx, in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateOfferLocksItem(t *testing.T) {
	svc, _, itemStore := newOfferFixture(t)
	itemStore.add(galaxyRef(1), 10)

	offer, err := svc.CreateOffer(context.Background(), validOfferInput(10))
	require.NoError(t, err)

	assert.Equal(t, OfferActive, offer.Status)
	assert.True(t, offer.IsItemLocked)
	assert.NotEmpty(t, offer.LockToken)

	it, err := itemStore.Get(context.Background(), nil, galaxyRef(1))
	require.NoError(t, err)
	assert.True(t, it.Locked)
}

func TestCreateOfferRejectsNonOwner(t *testing.T) {
	svc, _, itemStore := newOfferFixture(t)
	itemStore.add(galaxyRef(1), 10)

	in := validOfferInput(99) // предмет принадлежит 10
	_, err := svc.CreateOffer(context.Background(), in)
	assert.ErrorIs(t, err, common.ErrNotOwner)
}

func TestCreateOfferRejectsMissingItem(t *testing.T) {
	svc, _, _ := newOfferFixture(t)

	_, err := svc.CreateOffer(context.Background(), validOfferInput(10))
	assert.ErrorIs(t, err, common.ErrItemNotFound)
}

func TestCreateOfferRejectsLockedItem(t *testing.T) {
	svc, _, itemStore := newOfferFixture(t)
	itemStore.add(galaxyRef(1), 10)
	ctx := context.Background()

	_, err := svc.CreateOffer(ctx, validOfferInput(10))
	require.NoError(t, err)

	// Второй лот на тот же предмет
	_, err = svc.CreateOffer(ctx, validOfferInput(10))
	assert.ErrorIs(t, err, common.ErrItemLocked)
}

func TestCancelOffer(t *testing.T) {
	svc, _, itemStore := newOfferFixture(t)
	itemStore.add(galaxyRef(1), 10)
	ctx := context.Background()

	offer, err := svc.CreateOffer(ctx, validOfferInput(10))
	require.NoError(t, err)

	// Чужой запрос отклоняется
	_, err = svc.CancelOffer(ctx, offer.ID, 99)
	assert.ErrorIs(t, err, common.ErrNotOwner)

	cancelled, err := svc.CancelOffer(ctx, offer.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, OfferCancelled, cancelled.Status)
	assert.False(t, cancelled.IsItemLocked)

	// Предмет разблокирован, его можно выставить снова
	it, err := itemStore.Get(ctx, nil, galaxyRef(1))
	require.NoError(t, err)
	assert.False(t, it.Locked)

	// Повторная отмена — недопустимый переход
	_, err = svc.CancelOffer(ctx, offer.ID, 10)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestCancelOfferBlockedByPendingDeal(t *testing.T) {
	svc, store, itemStore := newOfferFixture(t)
	itemStore.add(galaxyRef(1), 10)
	ctx := context.Background()

	offer, err := svc.CreateOffer(ctx, validOfferInput(10))
	require.NoError(t, err)

	deal := &Deal{ID: newUUID(t), OfferID: offer.ID, BuyerID: 20, SellerID: 10, Status: DealPending}
	require.NoError(t, store.InsertDeal(ctx, nil, deal))

	_, err = svc.CancelOffer(ctx, offer.ID, 10)
	assert.ErrorIs(t, err, common.ErrDealInProgress)
}

func TestExpireOffers(t *testing.T) {
	svc, store, itemStore := newOfferFixture(t)
	itemStore.add(galaxyRef(1), 10)
	itemStore.add(galaxyRef(2), 10)
	itemStore.add(galaxyRef(3), 10)
	ctx := context.Background()

	short := validOfferInput(10)
	short.TTL = time.Minute
	expired1, err := svc.CreateOffer(ctx, short)
	require.NoError(t, err)

	short.ItemID = 2
	expired2, err := svc.CreateOffer(ctx, short)
	require.NoError(t, err)

	forever := validOfferInput(10)
	forever.ItemID = 3
	alive, err := svc.CreateOffer(ctx, forever)
	require.NoError(t, err)

	// По второму истёкшему лоту висит сделка — уборка его не трогает
	deal := &Deal{ID: newUUID(t), OfferID: expired2.ID, BuyerID: 20, SellerID: 10, Status: DealPending}
	require.NoError(t, store.InsertDeal(ctx, nil, deal))

	n, err := svc.ExpireOffers(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o1, _ := svc.GetOffer(ctx, expired1.ID)
	assert.Equal(t, OfferExpired, o1.Status)
	it1, _ := itemStore.Get(ctx, nil, galaxyRef(1))
	assert.False(t, it1.Locked)

	o2, _ := svc.GetOffer(ctx, expired2.ID)
	assert.Equal(t, OfferActive, o2.Status)

	o3, _ := svc.GetOffer(ctx, alive.ID)
	assert.Equal(t, OfferActive, o3.Status)
}

func TestListOffersFilters(t *testing.T) {
	svc, _, itemStore := newOfferFixture(t)
	itemStore.add(galaxyRef(1), 10)
	itemStore.add(items.Ref{Type: items.TypeArtifact, ID: 2}, 10)
	ctx := context.Background()

	_, err := svc.CreateOffer(ctx, validOfferInput(10))
	require.NoError(t, err)

	art := validOfferInput(10)
	art.ItemType = items.TypeArtifact
	art.ItemID = 2
	art.Currency = common.CurrencyTgStars
	_, err = svc.CreateOffer(ctx, art)
	require.NoError(t, err)

	all, err := svc.ListOffers(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	artType := items.TypeArtifact
	filtered, err := svc.ListOffers(ctx, ListFilter{ItemType: &artType})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, items.TypeArtifact, filtered[0].ItemType)
}
