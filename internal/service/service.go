// Package service реализует движок UTI-коинов: журнал счетов, правила начислений,
// ежедневный бонус, коды погашения и проверку заказов.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/uticoin/internal/model"
	"github.com/mmeshcher/uticoin/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый движком.
type Repository interface {
	Close() error

	WithAccount(ctx context.Context, userID string, fn func(repository.Tx) error) error
	GetAccount(ctx context.Context, userID string) (model.Account, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error)

	GetRule(ctx context.Context, action string) (model.Rule, error)
	UpsertRule(ctx context.Context, rule model.Rule) error
	ListRules(ctx context.Context) ([]model.Rule, error)

	GetDailyBonusConfig(ctx context.Context) (model.DailyBonusConfig, error)
	SaveDailyBonusConfig(ctx context.Context, cfg model.DailyBonusConfig) (model.DailyBonusConfig, error)

	GetCatalogProduct(ctx context.Context, id string) (model.CatalogProduct, error)
	UpsertCatalogProduct(ctx context.Context, p model.CatalogProduct) error
	GetCode(ctx context.Context, code string) (model.RedemptionCode, error)
	SetCodeRedeemed(ctx context.Context, code, adminID string, at time.Time) (model.RedemptionCode, error)
	ListCodesByUser(ctx context.Context, userID string) ([]model.RedemptionCode, error)

	CreateOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, code string) (model.Order, error)
	ExpireOrder(ctx context.Context, code string) (bool, error)
	ExpireOverdueOrders(ctx context.Context, now time.Time, limit int) (int64, error)
	UpsertProductRewardAttributes(ctx context.Context, a model.ProductRewardAttributes) error
}

// ProductLookup возвращает проценты кэшбэка и скидки товара витрины по его идентификатору.
type ProductLookup interface {
	GetProductRewardAttributes(ctx context.Context, productID string) (model.ProductRewardAttributes, error)
}

// Settings содержит параметры времени, общие для компонентов движка.
type Settings struct {
	// Location задаёт часовой пояс календарных суток, месяцев и окна ежедневного бонуса.
	Location *time.Location
	// ResetHour задаёт час начала окна ежедневного бонуса.
	ResetHour int
	// Now подменяет источник времени в тестах.
	Now func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.ResetHour < 0 || s.ResetHour > 23 {
		s.ResetHour = 0
	}
	return s
}

// Service объединяет компоненты движка за одним фасадом для HTTP-слоя.
type Service struct {
	*Ledger
	*RuleEngine
	*DailyBonus
	*RedemptionManager
	*OrderEngine

	repo Repository
}

// NewService создаёт движок поверх репозитория и источника процентов товаров.
func NewService(repo Repository, products ProductLookup, logger *zap.Logger, settings Settings) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings = settings.withDefaults()

	ledger := NewLedger(repo, logger, settings)
	rules := NewRuleEngine(repo, ledger, logger, settings)

	return &Service{
		Ledger:            ledger,
		RuleEngine:        rules,
		DailyBonus:        NewDailyBonus(repo, rules, logger, settings),
		RedemptionManager: NewRedemptionManager(repo, ledger, logger, settings),
		OrderEngine:       NewOrderEngine(repo, products, rules, ledger, logger, settings),
		repo:              repo,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}
