package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/uticoin/internal/model"
)

const (
	orderCode      = "1000000000000000000000001"
	otherOrderCode = "1000000000000000000000002"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func item(productID, lineTotal string) model.OrderItem {
	return model.OrderItem{
		ProductID:   productID,
		ProductName: productID,
		Quantity:    1,
		UnitPrice:   dec(lineTotal),
		LineTotal:   dec(lineTotal),
	}
}

func setRewards(t *testing.T, svc *Service, productID, cashback, discount string) {
	t.Helper()
	_, err := svc.UpsertProductRewards(context.Background(), model.ProductRewardAttributes{
		ProductID:          productID,
		CashbackPercentage: dec(cashback),
		DiscountPercentage: dec(discount),
	})
	require.NoError(t, err)
}

func registerOrder(t *testing.T, svc *Service, code string, useCoins bool, items ...model.OrderItem) model.Order {
	t.Helper()
	o, err := svc.RegisterOrder(context.Background(), model.Order{
		Code:     code,
		BuyerID:  "u1",
		Items:    items,
		UseCoins: useCoins,
	})
	require.NoError(t, err)
	return o
}

func TestComputeExpectedReward(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	setRewards(t, svc, "p1", "5", "0")

	got, err := svc.ComputeExpectedReward(ctx, []model.OrderItem{item("p1", "100")}, DefaultRewardCoins)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.CashbackCoins)
	assert.Equal(t, int64(520), got.TotalCoins)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(500), got.Items[0].CashbackCoins)
}

func TestComputeExpectedReward_RoundsHalfUpAndSkipsUnconfigured(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	setRewards(t, svc, "p1", "2.5", "0")

	got, err := svc.ComputeExpectedReward(ctx, []model.OrderItem{item("p1", "0.99"), item("p2", "1000")}, 0)
	require.NoError(t, err)
	// 0.99 * 2.5% = 0.02475 -> 2.475 коина
	assert.Equal(t, int64(2), got.Items[0].CashbackCoins)
	assert.Equal(t, int64(0), got.Items[1].CashbackCoins)
	assert.Equal(t, int64(2), got.TotalCoins)

	got, err = svc.ComputeExpectedReward(ctx, []model.OrderItem{item("p1", "1.00")}, 0)
	require.NoError(t, err)
	// 1.00 * 2.5% = 0.025 -> 2.5 коина
	assert.Equal(t, int64(3), got.TotalCoins)
}

func TestComputeCoinDiscountSplit(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	setRewards(t, svc, "p1", "0", "10")
	setRewards(t, svc, "p2", "0", "10")

	split, err := svc.ComputeCoinDiscountSplit(ctx, []model.OrderItem{item("p1", "100"), item("p2", "50")}, 700)
	require.NoError(t, err)

	require.Len(t, split.Items, 2)
	assert.Equal(t, int64(1000), split.Items[0].CoinsNeeded)
	assert.Equal(t, int64(700), split.Items[0].CoinsUsed)
	assert.True(t, split.Items[0].DiscountApplied.Equal(dec("7")))
	assert.Equal(t, int64(0), split.Items[1].CoinsUsed)
	assert.Equal(t, int64(700), split.TotalCoinsUsed)
	assert.True(t, split.TotalDiscountAmount.Equal(dec("7")))
	assert.True(t, split.FinalCashAmount.Equal(dec("143")), split.FinalCashAmount.String())
}

func TestComputeCoinDiscountSplit_ListOrderDeterminesPriority(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	setRewards(t, svc, "p1", "0", "10")
	setRewards(t, svc, "p2", "0", "20")

	split, err := svc.ComputeCoinDiscountSplit(ctx, []model.OrderItem{item("p2", "50"), item("p1", "100")}, 1500)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), split.Items[0].CoinsUsed)
	assert.Equal(t, int64(500), split.Items[1].CoinsUsed)
	assert.True(t, split.FinalCashAmount.Equal(dec("135")), split.FinalCashAmount.String())

	split, err = svc.ComputeCoinDiscountSplit(ctx, []model.OrderItem{item("p2", "50")}, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), split.TotalCoinsUsed)
	assert.True(t, split.FinalCashAmount.Equal(dec("40")))
}

func TestComputeCoinDiscountSplit_Validation(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	_, err := svc.ComputeCoinDiscountSplit(ctx, nil, 10)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.ComputeCoinDiscountSplit(ctx, []model.OrderItem{item("p1", "10")}, -1)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.ComputeCoinDiscountSplit(ctx, []model.OrderItem{item("p1", "-10")}, 10)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCompleteOrder_CreditsOnce(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	setRewards(t, svc, "p1", "5", "0")
	registerOrder(t, svc, orderCode, false, item("p1", "100"))

	res, err := svc.CompleteOrder(ctx, orderCode)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, res.Order.Status)
	require.NotNil(t, res.Order.Rewards)
	assert.Equal(t, int64(520), res.Order.Rewards.Coins)
	assert.Equal(t, int64(520), res.Account.Balance)

	_, err = svc.CompleteOrder(ctx, orderCode)
	require.ErrorIs(t, err, ErrAlreadyCompleted)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(520), acc.Balance)

	stored, err := svc.GetOrder(ctx, orderCode)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	txs, err := svc.ListTransactions(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.ActionOrderReward, txs[0].Action)
	require.NotNil(t, txs[0].Reference)
	assert.Equal(t, orderCode, *txs[0].Reference)
}

func TestCompleteOrder_ConcurrentCallersCreditOnce(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	registerOrder(t, svc, orderCode, false, item("p1", "100"))

	var (
		wg      sync.WaitGroup
		winners atomic.Int64
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CompleteOrder(ctx, orderCode)
			switch {
			case err == nil:
				winners.Add(1)
			case !errors.Is(err, ErrAlreadyCompleted):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), winners.Load())
	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultRewardCoins), acc.Balance)
}

func TestCompleteOrder_DebitsDiscountWhenUsingCoins(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	setRewards(t, svc, "p1", "0", "10")
	setRewards(t, svc, "p2", "0", "10")
	fund(t, svc, "u1", 700)
	registerOrder(t, svc, orderCode, true, item("p1", "100"), item("p2", "50"))

	res, err := svc.CompleteOrder(ctx, orderCode)
	require.NoError(t, err)
	require.NotNil(t, res.Order.Rewards)
	assert.Equal(t, int64(700), res.Order.Rewards.CoinsSpent)
	assert.True(t, res.Order.Rewards.DiscountAmount.Equal(dec("7")))
	assert.Equal(t, int64(DefaultRewardCoins), res.Order.Rewards.Coins)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultRewardCoins), acc.Balance)
	assert.Equal(t, int64(700), acc.TotalSpent)
	assert.True(t, acc.Consistent())
}

func TestCompleteOrder_Expired(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	o := registerOrder(t, svc, orderCode, false, item("p1", "100"))

	clock.Set(o.ExpiresAt.Add(time.Second))
	_, err := svc.CompleteOrder(ctx, orderCode)
	require.ErrorIs(t, err, ErrExpired)

	stored, err := svc.GetOrder(ctx, orderCode)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusExpired, stored.Status)

	_, err = svc.CompleteOrder(ctx, orderCode)
	require.ErrorIs(t, err, ErrExpired)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)
}

func TestCompleteOrder_AtExpiryBoundary(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, clock)

	o := registerOrder(t, svc, orderCode, false, item("p1", "100"))
	clock.Set(o.ExpiresAt)

	_, err := svc.CompleteOrder(context.Background(), orderCode)
	require.NoError(t, err)
}

func TestCompleteOrder_InactiveRewardRuleCompletesWithoutCoins(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	saveRule(t, svc, model.Rule{Action: model.ActionOrderReward, Kind: model.RuleKindManual, IsActive: false})
	registerOrder(t, svc, orderCode, false, item("p1", "100"))

	res, err := svc.CompleteOrder(ctx, orderCode)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Order.Rewards.Coins)
	assert.Equal(t, int64(0), res.Account.Balance)
}

func TestCompleteOrder_CreditsExpectedRewardForFixedRule(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, repo := newTestService(t, clock)
	ctx := context.Background()

	require.NoError(t, repo.UpsertRule(ctx, model.Rule{
		Action: model.ActionOrderReward, Kind: model.RuleKindFixed, Amount: 1, IsActive: true,
	}))
	setRewards(t, svc, "p1", "10", "0")
	registerOrder(t, svc, orderCode, false, item("p1", "500"))

	res, err := svc.CompleteOrder(ctx, orderCode)
	require.NoError(t, err)
	assert.Equal(t, int64(5000+DefaultRewardCoins), res.Order.Rewards.Coins)
	assert.Equal(t, int64(5000+DefaultRewardCoins), res.Account.Balance)
}

func TestCompleteOrder_Validation(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	_, err := svc.CompleteOrder(ctx, "123")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CompleteOrder(ctx, orderCode)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterOrder(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	o, err := svc.RegisterOrder(ctx, model.Order{
		Code:    orderCode,
		BuyerID: "u1",
		Items: []model.OrderItem{
			{ProductID: "p1", ProductName: "Футболка", Quantity: 2, UnitPrice: dec("15.50")},
			item("p2", "4"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.True(t, o.Items[0].LineTotal.Equal(dec("31")))
	assert.True(t, o.TotalAmount.Equal(dec("35")))
	assert.Equal(t, clock.Now().Add(DefaultOrderTTL), o.ExpiresAt)

	_, err = svc.RegisterOrder(ctx, model.Order{Code: orderCode, BuyerID: "u1", Items: []model.OrderItem{item("p1", "1")}})
	require.ErrorIs(t, err, ErrAlreadyExists)

	bad := []model.Order{
		{Code: "12", BuyerID: "u1", Items: []model.OrderItem{item("p1", "1")}},
		{Code: otherOrderCode, Items: []model.OrderItem{item("p1", "1")}},
		{Code: otherOrderCode, BuyerID: "u1"},
		{Code: otherOrderCode, BuyerID: "u1", Items: []model.OrderItem{{ProductID: "p1", Quantity: 0}}},
		{Code: otherOrderCode, BuyerID: "u1", Items: []model.OrderItem{item("p1", "1")}, ExpiresAt: clock.Now().Add(-time.Minute)},
	}
	for _, b := range bad {
		_, err := svc.RegisterOrder(ctx, b)
		require.ErrorIs(t, err, ErrValidation)
	}
}

func TestPreviewOrder(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	setRewards(t, svc, "p1", "5", "10")
	fund(t, svc, "u1", 300)
	registerOrder(t, svc, orderCode, true, item("p1", "100"))

	p, err := svc.PreviewOrder(ctx, orderCode)
	require.NoError(t, err)
	assert.Equal(t, int64(300), p.Balance)
	assert.Equal(t, int64(520), p.Reward.TotalCoins)
	assert.Equal(t, int64(300), p.Split.TotalCoinsUsed)
	assert.True(t, p.Split.FinalCashAmount.Equal(dec("97")))

	stored, err := svc.GetOrder(ctx, orderCode)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, stored.Status)
}

func TestExpireOverdue(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	registerOrder(t, svc, orderCode, false, item("p1", "100"))
	registerOrder(t, svc, otherOrderCode, false, item("p1", "100"))
	_, err := svc.CompleteOrder(ctx, otherOrderCode)
	require.NoError(t, err)

	n, err := svc.ExpireOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock.Advance(DefaultOrderTTL + time.Minute)
	n, err = svc.ExpireOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	o, err := svc.GetOrder(ctx, orderCode)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusExpired, o.Status)

	done, err := svc.GetOrder(ctx, otherOrderCode)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, done.Status)
}

func TestUpsertProductRewards_Validation(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	_, err := svc.UpsertProductRewards(ctx, model.ProductRewardAttributes{CashbackPercentage: dec("1")})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpsertProductRewards(ctx, model.ProductRewardAttributes{ProductID: "p1", CashbackPercentage: dec("101")})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpsertProductRewards(ctx, model.ProductRewardAttributes{ProductID: "p1", DiscountPercentage: dec("-1")})
	require.ErrorIs(t, err, ErrValidation)
}

type invalidatingLookup struct {
	invalidated []string
}

func (l *invalidatingLookup) GetProductRewardAttributes(ctx context.Context, productID string) (model.ProductRewardAttributes, error) {
	return model.ProductRewardAttributes{ProductID: productID}, nil
}

func (l *invalidatingLookup) Invalidate(ctx context.Context, productID string) error {
	l.invalidated = append(l.invalidated, productID)
	return nil
}

func TestUpsertProductRewards_InvalidatesCache(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	lookup := &invalidatingLookup{}
	svc.OrderEngine.products = lookup

	setRewards(t, svc, "p1", "1", "2")
	assert.Equal(t, []string{"p1"}, lookup.invalidated)
}

type failingLookup struct{}

func (failingLookup) GetProductRewardAttributes(ctx context.Context, productID string) (model.ProductRewardAttributes, error) {
	return model.ProductRewardAttributes{}, errors.New("catalog unavailable")
}

func TestCompleteOrder_LookupFailureLeavesOrderPending(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	registerOrder(t, svc, orderCode, false, item("p1", "100"))
	svc.OrderEngine.products = failingLookup{}

	_, err := svc.CompleteOrder(ctx, orderCode)
	require.Error(t, err)

	o, err := svc.GetOrder(ctx, orderCode)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, o.Status)
}
