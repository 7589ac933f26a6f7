package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/uticoin/internal/model"
	"github.com/mmeshcher/uticoin/internal/validation"
)

func addProduct(t *testing.T, svc *Service, p model.CatalogProduct) {
	t.Helper()
	_, err := svc.UpsertCatalogProduct(context.Background(), p)
	require.NoError(t, err)
}

func TestIssueCode_DebitsAndCreatesPendingCode(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	addProduct(t, svc, model.CatalogProduct{ID: "mug", Title: "Кружка", Cost: 300, Type: model.ProductTypePhysical, IsActive: true})
	fund(t, svc, "u1", 500)

	code, err := svc.IssueCode(ctx, "mug", "u1")
	require.NoError(t, err)
	assert.True(t, validation.IsValidRedemptionCode(code.Code))
	assert.Equal(t, model.CodeStatusPending, code.Status)
	assert.Equal(t, int64(300), code.Cost)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), acc.Balance)
	assert.Equal(t, int64(300), acc.TotalSpent)

	txs, err := svc.ListTransactions(ctx, "u1", 1, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.ActionRewardPurchase, txs[0].Action)
	require.NotNil(t, txs[0].Reference)
	assert.Equal(t, code.Code, *txs[0].Reference)

	codes, err := svc.ListCodes(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, code.Code, codes[0].Code)
}

func TestIssueCode_InsufficientBalanceCreatesNothing(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	stock := int64(1)
	addProduct(t, svc, model.CatalogProduct{ID: "mug", Title: "Кружка", Cost: 300, Type: model.ProductTypePhysical, Stock: &stock, IsActive: true})
	fund(t, svc, "u1", 100)

	_, err := svc.IssueCode(ctx, "mug", "u1")
	require.ErrorIs(t, err, ErrInsufficientBalance)

	codes, err := svc.ListCodes(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, codes)

	fund(t, svc, "u2", 1000)
	_, err = svc.IssueCode(ctx, "mug", "u2")
	require.NoError(t, err, "stock must not be consumed by a failed purchase")
}

func TestIssueCode_ProductChecks(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	stock := int64(1)
	addProduct(t, svc, model.CatalogProduct{ID: "limited", Title: "Limited", Cost: 10, Type: model.ProductTypeDigital, Stock: &stock, IsActive: true})
	addProduct(t, svc, model.CatalogProduct{ID: "hidden", Title: "Hidden", Cost: 10, Type: model.ProductTypeCoupon, IsActive: false})
	fund(t, svc, "u1", 100)

	_, err := svc.IssueCode(ctx, "limited", "u1")
	require.NoError(t, err)
	_, err = svc.IssueCode(ctx, "limited", "u1")
	require.ErrorIs(t, err, ErrOutOfStock)

	_, err = svc.IssueCode(ctx, "hidden", "u1")
	require.ErrorIs(t, err, ErrProductInactive)

	_, err = svc.IssueCode(ctx, "missing", "u1")
	require.ErrorIs(t, err, ErrNotFound)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), acc.Balance)
}

func TestIssueCode_RetriesOnCollision(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	addProduct(t, svc, model.CatalogProduct{ID: "mug", Title: "Кружка", Cost: 10, Type: model.ProductTypePhysical, IsActive: true})
	fund(t, svc, "u1", 100)

	values := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	var i int
	svc.RedemptionManager.generate = func() (string, error) {
		v := values[i]
		i++
		return v, nil
	}

	first, err := svc.IssueCode(ctx, "mug", "u1")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", first.Code)

	second, err := svc.IssueCode(ctx, "mug", "u1")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", second.Code)
}

func TestIssueCode_GivesUpAfterPersistentCollisions(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	addProduct(t, svc, model.CatalogProduct{ID: "mug", Title: "Кружка", Cost: 10, Type: model.ProductTypePhysical, IsActive: true})
	fund(t, svc, "u1", 100)
	svc.RedemptionManager.generate = func() (string, error) { return "AAAAAAAA", nil }

	_, err := svc.IssueCode(ctx, "mug", "u1")
	require.NoError(t, err)

	_, err = svc.IssueCode(ctx, "mug", "u1")
	require.ErrorIs(t, err, ErrConcurrencyConflict)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), acc.Balance)
}

func TestIssueCode_ConcurrentIssuesProduceUniqueCodes(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	addProduct(t, svc, model.CatalogProduct{ID: "sticker", Title: "Стикер", Cost: 1, Type: model.ProductTypeDigital, IsActive: true})
	fund(t, svc, "u1", 1000)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]struct{})
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := svc.IssueCode(ctx, "sticker", "u1")
			if err != nil {
				t.Errorf("issue: %v", err)
				return
			}
			mu.Lock()
			codes[c.Code] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, codes, 50)
	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(950), acc.Balance)
}

func TestRedeemCode_AtMostOnce(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	addProduct(t, svc, model.CatalogProduct{ID: "mug", Title: "Кружка", Cost: 10, Type: model.ProductTypePhysical, IsActive: true})
	fund(t, svc, "u1", 100)
	code, err := svc.IssueCode(ctx, "mug", "u1")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	redeemed, err := svc.RedeemCode(ctx, code.Code, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, model.CodeStatusRedeemed, redeemed.Status)
	require.NotNil(t, redeemed.RedeemedBy)
	assert.Equal(t, "admin-1", *redeemed.RedeemedBy)

	after, err := svc.VerifyCode(ctx, code.Code)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	again, err := svc.RedeemCode(ctx, code.Code, "admin-2")
	require.ErrorIs(t, err, ErrAlreadyRedeemed)
	assert.Equal(t, after, again)

	stored, err := svc.VerifyCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Equal(t, after, stored)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), acc.Balance)
}

func TestRedeemCode_ConcurrentCallersSingleWinner(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	addProduct(t, svc, model.CatalogProduct{ID: "mug", Title: "Кружка", Cost: 10, Type: model.ProductTypePhysical, IsActive: true})
	fund(t, svc, "u1", 100)
	code, err := svc.IssueCode(ctx, "mug", "u1")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		winners atomic.Int64
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RedeemCode(ctx, code.Code, "admin")
			switch {
			case err == nil:
				winners.Add(1)
			case !errors.Is(err, ErrAlreadyRedeemed):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), winners.Load())
}

func TestVerifyCode(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	_, err := svc.VerifyCode(ctx, "bad")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.VerifyCode(ctx, "ZZZZZZZZ")
	require.ErrorIs(t, err, ErrNotFound)

	addProduct(t, svc, model.CatalogProduct{ID: "mug", Title: "Кружка", Cost: 10, Type: model.ProductTypePhysical, IsActive: true})
	fund(t, svc, "u1", 100)
	code, err := svc.IssueCode(ctx, "mug", "u1")
	require.NoError(t, err)

	for range 3 {
		got, err := svc.VerifyCode(ctx, " "+code.Code+" ")
		require.NoError(t, err)
		assert.Equal(t, model.CodeStatusPending, got.Status)
	}
}

func TestUpsertCatalogProduct_Validation(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	negative := int64(-1)
	bad := []model.CatalogProduct{
		{Title: "no id", Cost: 1, Type: model.ProductTypeDigital},
		{ID: "p", Cost: 0, Type: model.ProductTypeDigital},
		{ID: "p", Cost: 1, Type: "service"},
		{ID: "p", Cost: 1, Type: model.ProductTypeDigital, Stock: &negative},
	}
	for _, p := range bad {
		_, err := svc.UpsertCatalogProduct(ctx, p)
		require.ErrorIs(t, err, ErrValidation)
	}
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{})
	for range 200 {
		c, err := generateCode()
		require.NoError(t, err)
		require.True(t, validation.IsValidRedemptionCode(c), c)
		seen[c] = struct{}{}
	}
	assert.Greater(t, len(seen), 190)
}
