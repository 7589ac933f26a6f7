// Package model содержит доменные сущности движка UTI-коинов.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CoinsPerUnit задаёт фиксированный курс: 100 коинов равны одной денежной единице.
const CoinsPerUnit = 100

// Account описывает коин-счёт пользователя.
type Account struct {
	UserID      string    `json:"user_id"`
	Balance     int64     `json:"balance"`
	TotalEarned int64     `json:"total_earned"`
	TotalSpent  int64     `json:"total_spent"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Consistent проверяет инвариант balance == earned - spent.
func (a Account) Consistent() bool {
	return a.Balance == a.TotalEarned-a.TotalSpent
}

// Transaction описывает неизменяемую запись журнала операций со счётом.
type Transaction struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	Action      string    `json:"action"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Reference   *string   `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RuleKind определяет, как правило вычисляет сумму начисления.
type RuleKind string

const (
	// RuleKindFixed начисляет Amount из правила.
	RuleKindFixed RuleKind = "fixed"
	// RuleKindManual начисляет сумму, переданную вызывающим (ручной бонус администратора).
	RuleKindManual RuleKind = "manual"
)

// Valid сообщает, является ли значение известным видом правила.
func (k RuleKind) Valid() bool {
	switch k {
	case RuleKindFixed, RuleKindManual:
		return true
	}
	return false
}

// Стандартные действия, для которых движок сам начисляет или списывает коины.
const (
	ActionAdminManual    = "admin_manual"
	ActionDailyBonus     = "daily_bonus"
	ActionOrderReward    = "order_reward"
	ActionOrderDiscount  = "order_discount"
	ActionRewardPurchase = "reward_purchase"
)

// Rule описывает правило начисления коинов за действие.
type Rule struct {
	Action          string    `json:"action"`
	Kind            RuleKind  `json:"kind"`
	Amount          int64     `json:"amount"`
	MaxPerDay       *int64    `json:"max_per_day,omitempty"`
	MaxPerMonth     *int64    `json:"max_per_month,omitempty"`
	CooldownMinutes int       `json:"cooldown_minutes"`
	IsActive        bool      `json:"is_active"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CodeStatus описывает статус кода погашения.
type CodeStatus string

const (
	CodeStatusPending  CodeStatus = "pending"
	CodeStatusRedeemed CodeStatus = "redeemed"
)

// RedemptionCode описывает одноразовый код на получение товара из каталога наград.
type RedemptionCode struct {
	Code       string     `json:"code"`
	ProductID  string     `json:"product_id"`
	UserID     string     `json:"user_id"`
	Cost       int64      `json:"cost"`
	Status     CodeStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy *string    `json:"redeemed_by,omitempty"`
}

// ProductType описывает тип товара в каталоге наград.
type ProductType string

const (
	ProductTypePhysical ProductType = "physical"
	ProductTypeDigital  ProductType = "digital"
	ProductTypeCoupon   ProductType = "coupon"
)

// Valid сообщает, является ли значение известным типом товара.
func (t ProductType) Valid() bool {
	switch t {
	case ProductTypePhysical, ProductTypeDigital, ProductTypeCoupon:
		return true
	}
	return false
}

// CatalogProduct описывает товар каталога наград, покупаемый за коины.
type CatalogProduct struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Cost     int64       `json:"cost"`
	Type     ProductType `json:"type"`
	Stock    *int64      `json:"stock,omitempty"`
	IsActive bool        `json:"is_active"`
}

// OrderStatus описывает статус заказа на проверке.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusExpired   OrderStatus = "expired"
)

// OrderItem описывает строку заказа.
type OrderItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// OrderRewards фиксирует итог начислений и списаний по завершённому заказу.
type OrderRewards struct {
	Coins          int64           `json:"coins"`
	CoinsSpent     int64           `json:"coins_spent"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

// Order описывает заказ витрины, ожидающий подтверждения оператором.
type Order struct {
	Code        string          `json:"code"`
	BuyerID     string          `json:"buyer_id"`
	Items       []OrderItem     `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	UseCoins    bool            `json:"use_coins"`
	Status      OrderStatus     `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Rewards     *OrderRewards   `json:"rewards,omitempty"`
}

// IncrementType задаёт способ роста ежедневного бонуса.
type IncrementType string

const (
	IncrementCalculated IncrementType = "calculated"
	IncrementFixed      IncrementType = "fixed"
)

// DailyBonusConfig хранит глобальную версию настроек ежедневного бонуса.
type DailyBonusConfig struct {
	Version        int64         `json:"version"`
	BaseAmount     int64         `json:"base_amount"`
	MaxAmount      int64         `json:"max_amount"`
	StreakDays     int           `json:"streak_days"`
	IncrementType  IncrementType `json:"increment_type"`
	FixedIncrement int64         `json:"fixed_increment"`
	CreatedAt      time.Time     `json:"created_at"`
}

// DailyClaim хранит состояние серии ежедневных бонусов пользователя.
type DailyClaim struct {
	UserID      string    `json:"user_id"`
	Streak      int       `json:"streak"`
	LastClaimAt time.Time `json:"last_claim_at"`
}

// ProductRewardAttributes хранит проценты кэшбэка и скидки коинами для товара витрины.
type ProductRewardAttributes struct {
	ProductID          string          `json:"product_id"`
	CashbackPercentage decimal.Decimal `json:"cashback_percentage"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
}
