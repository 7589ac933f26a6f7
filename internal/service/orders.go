package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/uticoin/internal/model"
	"github.com/mmeshcher/uticoin/internal/repository"
	"github.com/mmeshcher/uticoin/internal/validation"
)

const (
	// DefaultRewardCoins задаёт базовое начисление за любой завершённый заказ.
	DefaultRewardCoins = 20
	// DefaultOrderTTL задаёт время жизни заказа на проверке, если витрина не передала срок.
	DefaultOrderTTL = 30 * time.Minute
)

var (
	coinsPerUnit = decimal.NewFromInt(model.CoinsPerUnit)
	hundred      = decimal.NewFromInt(100)
)

// ItemReward описывает кэшбэк по одной строке заказа.
type ItemReward struct {
	ProductID          string          `json:"product_id"`
	LineTotal          decimal.Decimal `json:"line_total"`
	CashbackPercentage decimal.Decimal `json:"cashback_percentage"`
	CashbackCoins      int64           `json:"cashback_coins"`
}

// ExpectedReward описывает ожидаемое начисление за заказ.
type ExpectedReward struct {
	CashbackCoins int64        `json:"cashback_coins"`
	TotalCoins    int64        `json:"total_coins"`
	Items         []ItemReward `json:"items"`
}

// ItemDiscount описывает скидку коинами по одной строке заказа.
type ItemDiscount struct {
	ProductID          string          `json:"product_id"`
	LineTotal          decimal.Decimal `json:"line_total"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	CoinsNeeded        int64           `json:"coins_needed"`
	CoinsUsed          int64           `json:"coins_used"`
	DiscountApplied    decimal.Decimal `json:"discount_applied"`
}

// CoinDiscountSplit описывает разбиение оплаты заказа на деньги и коины.
type CoinDiscountSplit struct {
	FinalCashAmount     decimal.Decimal `json:"final_cash_amount"`
	TotalDiscountAmount decimal.Decimal `json:"total_discount_amount"`
	TotalCoinsUsed      int64           `json:"total_coins_used"`
	Items               []ItemDiscount  `json:"items"`
}

// OrderPreview показывает оператору заказ с расчётом начислений и скидки.
type OrderPreview struct {
	Order   model.Order       `json:"order"`
	Balance int64             `json:"balance"`
	Reward  ExpectedReward    `json:"reward"`
	Split   CoinDiscountSplit `json:"split"`
}

// CompletionResult содержит итог завершения заказа.
type CompletionResult struct {
	Order   model.Order   `json:"order"`
	Account model.Account `json:"account"`
}

type rewardAttributes map[string]model.ProductRewardAttributes

// OrderEngine рассчитывает кэшбэк и скидки по заказам витрины и завершает их.
type OrderEngine struct {
	repo     Repository
	products ProductLookup
	rules    *RuleEngine
	ledger   *Ledger
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrderEngine создаёт движок заказов.
func NewOrderEngine(repo Repository, products ProductLookup, rules *RuleEngine, ledger *Ledger, logger *zap.Logger, settings Settings) *OrderEngine {
	settings = settings.withDefaults()
	return &OrderEngine{
		repo:     repo,
		products: products,
		rules:    rules,
		ledger:   ledger,
		logger:   logger,
		now:      settings.Now,
	}
}

// ComputeExpectedReward считает кэшбэк по строкам заказа и итоговое начисление с учётом базовых коинов.
func (e *OrderEngine) ComputeExpectedReward(ctx context.Context, items []model.OrderItem, defaultCoins int64) (ExpectedReward, error) {
	if err := validateItems(items); err != nil {
		return ExpectedReward{}, err
	}
	attrs, err := e.attributesFor(ctx, items)
	if err != nil {
		return ExpectedReward{}, err
	}
	return expectedReward(items, attrs, defaultCoins), nil
}

// ComputeCoinDiscountSplit распределяет баланс коинов по строкам заказа в порядке их следования.
func (e *OrderEngine) ComputeCoinDiscountSplit(ctx context.Context, items []model.OrderItem, balance int64) (CoinDiscountSplit, error) {
	if err := validateItems(items); err != nil {
		return CoinDiscountSplit{}, err
	}
	if balance < 0 {
		return CoinDiscountSplit{}, fmt.Errorf("%w: balance must not be negative", ErrValidation)
	}
	attrs, err := e.attributesFor(ctx, items)
	if err != nil {
		return CoinDiscountSplit{}, err
	}
	return coinDiscountSplit(items, attrs, balance), nil
}

// UpsertProductRewards сохраняет проценты кэшбэка и скидки товара витрины.
func (e *OrderEngine) UpsertProductRewards(ctx context.Context, a model.ProductRewardAttributes) (model.ProductRewardAttributes, error) {
	a.ProductID = strings.TrimSpace(a.ProductID)
	if a.ProductID == "" {
		return model.ProductRewardAttributes{}, fmt.Errorf("%w: product id is required", ErrValidation)
	}
	if !validPercentage(a.CashbackPercentage) || !validPercentage(a.DiscountPercentage) {
		return model.ProductRewardAttributes{}, fmt.Errorf("%w: percentages must be within [0, 100]", ErrValidation)
	}

	if err := e.repo.UpsertProductRewardAttributes(ctx, a); err != nil {
		return model.ProductRewardAttributes{}, err
	}
	if inv, ok := e.products.(interface {
		Invalidate(ctx context.Context, productID string) error
	}); ok {
		if err := inv.Invalidate(ctx, a.ProductID); err != nil {
			e.logger.Warn("product rewards cache invalidation failed", zap.String("product_id", a.ProductID), zap.Error(err))
		}
	}
	return a, nil
}

// RegisterOrder сохраняет заказ витрины в статусе pending.
func (e *OrderEngine) RegisterOrder(ctx context.Context, o model.Order) (model.Order, error) {
	if !validation.IsValidOrderCode(o.Code) {
		return model.Order{}, fmt.Errorf("%w: malformed order code", ErrValidation)
	}
	if strings.TrimSpace(o.BuyerID) == "" {
		return model.Order{}, fmt.Errorf("%w: buyer id is required", ErrValidation)
	}

	items := make([]model.OrderItem, len(o.Items))
	copy(items, o.Items)
	total := decimal.Zero
	for i := range items {
		if items[i].LineTotal.IsZero() {
			items[i].LineTotal = items[i].UnitPrice.Mul(decimal.NewFromInt(int64(items[i].Quantity)))
		}
		total = total.Add(items[i].LineTotal)
	}
	if err := validateItems(items); err != nil {
		return model.Order{}, err
	}

	now := e.now()
	o.Items = items
	o.TotalAmount = total
	o.Status = model.OrderStatusPending
	o.CreatedAt = now
	o.CompletedAt = nil
	o.Rewards = nil
	if o.ExpiresAt.IsZero() {
		o.ExpiresAt = now.Add(DefaultOrderTTL)
	}
	if !o.ExpiresAt.After(now) {
		return model.Order{}, fmt.Errorf("%w: expiry must be in the future", ErrValidation)
	}

	if err := e.repo.CreateOrder(ctx, o); err != nil {
		return model.Order{}, err
	}
	e.logger.Info("order registered", zap.String("code", o.Code), zap.String("buyer_id", o.BuyerID))
	return o, nil
}

// GetOrder возвращает заказ по коду.
func (e *OrderEngine) GetOrder(ctx context.Context, code string) (model.Order, error) {
	if !validation.IsValidOrderCode(code) {
		return model.Order{}, fmt.Errorf("%w: malformed order code", ErrValidation)
	}
	return e.repo.GetOrder(ctx, code)
}

// PreviewOrder рассчитывает начисление и скидку по заказу без изменений.
func (e *OrderEngine) PreviewOrder(ctx context.Context, code string) (OrderPreview, error) {
	o, err := e.GetOrder(ctx, code)
	if err != nil {
		return OrderPreview{}, err
	}
	acc, err := e.repo.GetAccount(ctx, o.BuyerID)
	if err != nil {
		return OrderPreview{}, err
	}
	attrs, err := e.attributesFor(ctx, o.Items)
	if err != nil {
		return OrderPreview{}, err
	}

	return OrderPreview{
		Order:   o,
		Balance: acc.Balance,
		Reward:  expectedReward(o.Items, attrs, DefaultRewardCoins),
		Split:   coinDiscountSplit(o.Items, attrs, acc.Balance),
	}, nil
}

// CompleteOrder завершает заказ: начисляет награду покупателю и, если заказ оплачивается коинами, списывает скидку.
func (e *OrderEngine) CompleteOrder(ctx context.Context, code string) (CompletionResult, error) {
	o, err := e.GetOrder(ctx, code)
	if err != nil {
		return CompletionResult{}, err
	}
	if err := terminalError(o); err != nil {
		return CompletionResult{Order: o}, err
	}

	now := e.now()
	if now.After(o.ExpiresAt) {
		expired, err := e.repo.ExpireOrder(ctx, o.Code)
		if err != nil {
			return CompletionResult{}, err
		}
		if !expired {
			return e.conflictResult(ctx, o.Code, ErrConcurrencyConflict)
		}
		e.logger.Info("order expired on completion", zap.String("code", o.Code))
		return CompletionResult{}, fmt.Errorf("%w: expired at %s", ErrExpired, o.ExpiresAt.Format(time.RFC3339))
	}

	attrs, err := e.attributesFor(ctx, o.Items)
	if err != nil {
		return CompletionResult{}, err
	}
	rule, err := e.rules.rule(ctx, model.ActionOrderReward)
	if errors.Is(err, ErrRuleInactive) {
		rule = model.Rule{Action: model.ActionOrderReward}
	} else if err != nil {
		return CompletionResult{}, err
	}
	if !rule.IsActive {
		e.logger.Warn("order reward rule inactive, completing without coins", zap.String("code", o.Code))
	}
	reward := expectedReward(o.Items, attrs, DefaultRewardCoins)

	var res CompletionResult
	err = e.repo.WithAccount(ctx, o.BuyerID, func(tx repository.Tx) error {
		rewards := model.OrderRewards{Coins: reward.TotalCoins, DiscountAmount: decimal.Zero}

		acc, err := tx.GetAccount(ctx)
		if err != nil {
			return err
		}

		if o.UseCoins {
			split := coinDiscountSplit(o.Items, attrs, acc.Balance)
			if split.TotalCoinsUsed > 0 {
				acc, err = e.ledger.spendTx(ctx, tx, Entry{
					UserID:      o.BuyerID,
					Action:      model.ActionOrderDiscount,
					Amount:      split.TotalCoinsUsed,
					Description: "Скидка коинами по заказу",
					Reference:   o.Code,
				}, now)
				if err != nil {
					return err
				}
			}
			rewards.CoinsSpent = split.TotalCoinsUsed
			rewards.DiscountAmount = split.TotalDiscountAmount
		}

		if !rule.IsActive {
			rewards.Coins = 0
		} else if reward.TotalCoins > 0 {
			acc, err = e.rules.creditTx(ctx, tx, rule, AwardRequest{
				UserID:      o.BuyerID,
				Action:      model.ActionOrderReward,
				Amount:      reward.TotalCoins,
				Description: "Награда за заказ",
				Reference:   o.Code,
			}, now)
			if err != nil {
				return err
			}
		}

		if err := tx.CompleteOrder(ctx, o.Code, rewards, now); err != nil {
			return err
		}

		completed := o
		completed.Status = model.OrderStatusCompleted
		completed.CompletedAt = &now
		completed.Rewards = &rewards
		res = CompletionResult{Order: completed, Account: acc}
		return nil
	})
	if errors.Is(err, ErrConcurrencyConflict) {
		return e.conflictResult(ctx, o.Code, err)
	}
	if err != nil {
		return CompletionResult{}, err
	}

	e.logger.Info("order completed",
		zap.String("code", o.Code),
		zap.String("buyer_id", o.BuyerID),
		zap.Int64("coins", res.Order.Rewards.Coins),
		zap.Int64("coins_spent", res.Order.Rewards.CoinsSpent),
	)
	return res, nil
}

// conflictResult объясняет проигранную гонку за статус заказа текущим состоянием заказа.
func (e *OrderEngine) conflictResult(ctx context.Context, code string, cause error) (CompletionResult, error) {
	o, err := e.repo.GetOrder(ctx, code)
	if err != nil {
		return CompletionResult{}, cause
	}
	if err := terminalError(o); err != nil {
		return CompletionResult{Order: o}, err
	}
	return CompletionResult{}, cause
}

// ExpireOverdue переводит просроченные заказы в expired и возвращает их количество.
func (e *OrderEngine) ExpireOverdue(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}
	n, err := e.repo.ExpireOverdueOrders(ctx, e.now(), limit)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("overdue orders expired", zap.Int64("count", n))
	}
	return n, nil
}

// StartOrderSweeper запускает фоновый перевод просроченных заказов в expired.
func (e *OrderEngine) StartOrderSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.ExpireOverdue(ctx, 100); err != nil && ctx.Err() == nil {
					e.logger.Error("expire overdue orders", zap.Error(err))
				}
			}
		}
	}()
}

func terminalError(o model.Order) error {
	switch o.Status {
	case model.OrderStatusCompleted:
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, o.Code)
	case model.OrderStatusExpired:
		return fmt.Errorf("%w: %s", ErrExpired, o.Code)
	}
	return nil
}

func (e *OrderEngine) attributesFor(ctx context.Context, items []model.OrderItem) (rewardAttributes, error) {
	attrs := make(rewardAttributes, len(items))
	if e.products == nil {
		return attrs, nil
	}
	for _, it := range items {
		if _, ok := attrs[it.ProductID]; ok {
			continue
		}
		a, err := e.products.GetProductRewardAttributes(ctx, it.ProductID)
		if err != nil {
			return nil, fmt.Errorf("product %s rewards: %w", it.ProductID, err)
		}
		attrs[it.ProductID] = a
	}
	return attrs, nil
}

func expectedReward(items []model.OrderItem, attrs rewardAttributes, defaultCoins int64) ExpectedReward {
	res := ExpectedReward{Items: make([]ItemReward, 0, len(items))}
	for _, it := range items {
		pct := attrs[it.ProductID].CashbackPercentage
		ir := ItemReward{ProductID: it.ProductID, LineTotal: it.LineTotal, CashbackPercentage: pct}
		if pct.IsPositive() {
			cashback := it.LineTotal.Mul(pct).Div(hundred)
			ir.CashbackCoins = toCoins(cashback)
		}
		res.CashbackCoins += ir.CashbackCoins
		res.Items = append(res.Items, ir)
	}
	res.TotalCoins = defaultCoins + res.CashbackCoins
	return res
}

func coinDiscountSplit(items []model.OrderItem, attrs rewardAttributes, balance int64) CoinDiscountSplit {
	res := CoinDiscountSplit{
		TotalDiscountAmount: decimal.Zero,
		Items:               make([]ItemDiscount, 0, len(items)),
	}
	remaining := balance
	total := decimal.Zero

	for _, it := range items {
		total = total.Add(it.LineTotal)
		pct := attrs[it.ProductID].DiscountPercentage
		id := ItemDiscount{
			ProductID:          it.ProductID,
			LineTotal:          it.LineTotal,
			DiscountPercentage: pct,
			DiscountApplied:    decimal.Zero,
		}

		if pct.IsPositive() && remaining > 0 {
			maxDiscount := it.LineTotal.Mul(pct).Div(hundred)
			id.CoinsNeeded = toCoins(maxDiscount)
			id.CoinsUsed = min(remaining, id.CoinsNeeded)
			id.DiscountApplied = decimal.NewFromInt(id.CoinsUsed).Div(coinsPerUnit)

			remaining -= id.CoinsUsed
			res.TotalCoinsUsed += id.CoinsUsed
			res.TotalDiscountAmount = res.TotalDiscountAmount.Add(id.DiscountApplied)
		}
		res.Items = append(res.Items, id)
	}

	res.FinalCashAmount = total.Sub(res.TotalDiscountAmount)
	return res
}

// toCoins переводит денежную сумму в коины с округлением половины вверх.
func toCoins(amount decimal.Decimal) int64 {
	return amount.Mul(coinsPerUnit).Round(0).IntPart()
}

func validPercentage(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}

func validateItems(items []model.OrderItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrValidation)
	}
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("%w: item %d has no product id", ErrValidation, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, i)
		}
		if it.UnitPrice.IsNegative() || it.LineTotal.IsNegative() {
			return fmt.Errorf("%w: item %d has negative price", ErrValidation, i)
		}
	}
	return nil
}
