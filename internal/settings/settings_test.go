package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/example/storefront/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListSettings(ctx context.Context) ([]models.Setting, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Setting), args.Error(1)
}

func (m *mockStore) UpsertSetting(ctx context.Context, setting models.Setting) error {
	return m.Called(ctx, setting).Error(0)
}

func TestCurrentCachesUntilTTL(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("ListSettings", ctx).Return([]models.Setting{
		{Key: KeyCurrency, Value: "pen"},
		{Key: KeyShippingFee, Value: "12.50"},
	}, nil).Twice()

	svc := NewService(store, time.Minute)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	snap, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PEN", snap.Currency())
	assert.True(t, decimal.RequireFromString("12.50").Equal(snap.ShippingFee()))
	assert.Equal(t, "Storefront", snap.StoreName())

	_, err = svc.Current(ctx)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = svc.Current(ctx)
	require.NoError(t, err)

	store.AssertNumberOfCalls(t, "ListSettings", 2)
}

func TestCurrentPropagatesStoreError(t *testing.T) {
	store := new(mockStore)
	store.On("ListSettings", mock.Anything).Return(nil, errors.New("db down"))

	_, err := NewService(store, time.Minute).Current(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestSetValidatesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("ListSettings", ctx).Return([]models.Setting{}, nil)
	store.On("UpsertSetting", ctx, models.Setting{Key: KeyShippingFee, Value: "5.00"}).Return(nil)

	svc := NewService(store, time.Hour)
	_, err := svc.Current(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Set(ctx, KeyShippingFee, "5.00"))

	var verr *ValidationError
	assert.ErrorAs(t, svc.Set(ctx, KeyShippingFee, "-1"), &verr)
	assert.ErrorAs(t, svc.Set(ctx, "colour", "red"), &verr)
	assert.ErrorAs(t, svc.Set(ctx, KeyCurrency, "EURO"), &verr)
	assert.ErrorAs(t, svc.Set(ctx, KeyManualPaymentMethods, "bank_transfer, card"), &verr)
	assert.Equal(t, KeyManualPaymentMethods, verr.Key)

	_, err = svc.Current(ctx)
	require.NoError(t, err)
	store.AssertNumberOfCalls(t, "ListSettings", 2)
	store.AssertNumberOfCalls(t, "UpsertSetting", 1)
}

func TestManualMethodsAndShipping(t *testing.T) {
	snap := newSnapshot([]models.Setting{
		{Key: KeyManualPaymentMethods, Value: " yape , bank_transfer,"},
		{Key: KeyShippingFee, Value: "10"},
		{Key: KeyFreeShippingThreshold, Value: "100"},
	})

	assert.Equal(t, []string{"yape", "bank_transfer"}, snap.ManualPaymentMethods())
	assert.True(t, snap.IsManualMethod("yape"))
	assert.False(t, snap.IsManualMethod("card"))

	assert.True(t, decimal.NewFromInt(10).Equal(ShippingFor(snap, decimal.NewFromInt(99))))
	assert.True(t, ShippingFor(snap, decimal.NewFromInt(100)).IsZero())
}

func TestCardIsNeverManual(t *testing.T) {
	snap := newSnapshot([]models.Setting{
		{Key: KeyManualPaymentMethods, Value: "card,bank_transfer"},
	})

	assert.False(t, snap.IsManualMethod("card"))
	assert.True(t, snap.IsManualMethod("bank_transfer"))
}

func TestFromContextFallsBackToDefaults(t *testing.T) {
	p := FromContext(context.Background())
	assert.Equal(t, "USD", p.Currency())

	custom := newSnapshot([]models.Setting{{Key: KeyStoreName, Value: "Tienda"}})
	ctx := WithContext(context.Background(), custom)
	assert.Equal(t, "Tienda", FromContext(ctx).StoreName())
}
