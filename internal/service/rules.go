package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/uticoin/internal/model"
	"github.com/mmeshcher/uticoin/internal/repository"
)

// AwardRequest описывает начисление коинов за действие по правилу.
type AwardRequest struct {
	UserID      string
	Action      string
	Amount      int64
	Description string
	Reference   string
}

// Authorization содержит результат проверки правила без начисления.
type Authorization struct {
	Rule   model.Rule `json:"rule"`
	Amount int64      `json:"amount"`
}

// RuleEngine проверяет правила начислений и начисляет коины через Ledger.
type RuleEngine struct {
	repo   Repository
	ledger *Ledger
	logger *zap.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewRuleEngine создаёт движок правил.
func NewRuleEngine(repo Repository, ledger *Ledger, logger *zap.Logger, settings Settings) *RuleEngine {
	settings = settings.withDefaults()
	return &RuleEngine{
		repo:   repo,
		ledger: ledger,
		logger: logger,
		loc:    settings.Location,
		now:    settings.Now,
	}
}

// Authorize проверяет, можно ли начислить коины за действие, ничего не записывая.
func (r *RuleEngine) Authorize(ctx context.Context, req AwardRequest) (Authorization, error) {
	rule, err := r.loadRule(ctx, req)
	if err != nil {
		return Authorization{}, err
	}
	return r.authorize(ctx, rule, req)
}

// AuthorizeAction проверяет внешнее событие витрины. Доступны только
// фиксированные правила, не относящиеся к системным действиям.
func (r *RuleEngine) AuthorizeAction(ctx context.Context, req AwardRequest) (Authorization, error) {
	rule, err := r.loadEventRule(ctx, req)
	if err != nil {
		return Authorization{}, err
	}
	return r.authorize(ctx, rule, req)
}

// Award проверяет правило и начисляет коины в одной единице работы.
func (r *RuleEngine) Award(ctx context.Context, req AwardRequest) (model.Account, error) {
	rule, err := r.loadRule(ctx, req)
	if err != nil {
		return model.Account{}, err
	}
	return r.award(ctx, rule, req)
}

// AwardAction начисляет коины за внешнее событие витрины.
// Ручные и системные правила через этот путь недоступны.
func (r *RuleEngine) AwardAction(ctx context.Context, req AwardRequest) (model.Account, error) {
	rule, err := r.loadEventRule(ctx, req)
	if err != nil {
		return model.Account{}, err
	}
	return r.award(ctx, rule, req)
}

func (r *RuleEngine) authorize(ctx context.Context, rule model.Rule, req AwardRequest) (Authorization, error) {
	var auth Authorization
	err := r.repo.WithAccount(ctx, req.UserID, func(tx repository.Tx) error {
		amount := ruleAmount(rule, req.Amount)
		if err := r.check(ctx, tx, rule, amount, r.now()); err != nil {
			return err
		}
		auth = Authorization{Rule: rule, Amount: amount}
		return errRollback
	})
	if err != nil && !errors.Is(err, errRollback) {
		return Authorization{}, err
	}
	return auth, nil
}

func (r *RuleEngine) award(ctx context.Context, rule model.Rule, req AwardRequest) (model.Account, error) {
	var acc model.Account
	err := r.repo.WithAccount(ctx, req.UserID, func(tx repository.Tx) error {
		var err error
		acc, err = r.awardTx(ctx, tx, rule, req, r.now())
		return err
	})
	if err != nil {
		return model.Account{}, err
	}
	return acc, nil
}

// GetRule возвращает правило по действию.
func (r *RuleEngine) GetRule(ctx context.Context, action string) (model.Rule, error) {
	return r.repo.GetRule(ctx, action)
}

// ListRules возвращает все правила.
func (r *RuleEngine) ListRules(ctx context.Context) ([]model.Rule, error) {
	return r.repo.ListRules(ctx)
}

// UpsertRule создаёт или обновляет правило.
func (r *RuleEngine) UpsertRule(ctx context.Context, rule model.Rule) (model.Rule, error) {
	rule.Action = strings.TrimSpace(rule.Action)
	if err := validateRule(rule); err != nil {
		return model.Rule{}, err
	}
	rule.UpdatedAt = r.now()

	if err := r.repo.UpsertRule(ctx, rule); err != nil {
		return model.Rule{}, err
	}
	r.logger.Info("rule saved",
		zap.String("action", rule.Action),
		zap.String("kind", string(rule.Kind)),
		zap.Bool("active", rule.IsActive),
	)
	return rule, nil
}

func validateRule(rule model.Rule) error {
	if rule.Action == "" {
		return fmt.Errorf("%w: action is required", ErrValidation)
	}
	if !rule.Kind.Valid() {
		return fmt.Errorf("%w: unknown rule kind %q", ErrValidation, rule.Kind)
	}
	if isSystemAction(rule.Action) && rule.Kind != model.RuleKindManual {
		return fmt.Errorf("%w: system rule %s must stay manual", ErrValidation, rule.Action)
	}
	if rule.Kind == model.RuleKindFixed && rule.Amount <= 0 {
		return fmt.Errorf("%w: fixed rule amount must be positive", ErrValidation)
	}
	if rule.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	if rule.MaxPerDay != nil && *rule.MaxPerDay <= 0 {
		return fmt.Errorf("%w: max per day must be positive", ErrValidation)
	}
	if rule.MaxPerMonth != nil && *rule.MaxPerMonth <= 0 {
		return fmt.Errorf("%w: max per month must be positive", ErrValidation)
	}
	if rule.CooldownMinutes < 0 {
		return fmt.Errorf("%w: cooldown must not be negative", ErrValidation)
	}
	return nil
}

// isSystemAction сообщает, начисляет ли действие сам движок (бонус, заказ, администратор).
func isSystemAction(action string) bool {
	switch action {
	case model.ActionAdminManual, model.ActionDailyBonus, model.ActionOrderReward:
		return true
	default:
		return false
	}
}

func (r *RuleEngine) loadRule(ctx context.Context, req AwardRequest) (model.Rule, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return model.Rule{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(req.Action) == "" {
		return model.Rule{}, fmt.Errorf("%w: action is required", ErrValidation)
	}
	return r.rule(ctx, req.Action)
}

func (r *RuleEngine) loadEventRule(ctx context.Context, req AwardRequest) (model.Rule, error) {
	rule, err := r.loadRule(ctx, req)
	if err != nil {
		return model.Rule{}, err
	}
	if isSystemAction(rule.Action) || rule.Kind != model.RuleKindFixed {
		return model.Rule{}, fmt.Errorf("%w: %s is not available for action events", ErrRuleInactive, rule.Action)
	}
	return rule, nil
}

// rule загружает правило. Отсутствующее правило равносильно выключенному.
func (r *RuleEngine) rule(ctx context.Context, action string) (model.Rule, error) {
	rule, err := r.repo.GetRule(ctx, action)
	if errors.Is(err, ErrNotFound) {
		return model.Rule{}, fmt.Errorf("%w: rule %s not found", ErrRuleInactive, action)
	}
	if err != nil {
		return model.Rule{}, err
	}
	return rule, nil
}

func (r *RuleEngine) awardTx(ctx context.Context, tx repository.Tx, rule model.Rule, req AwardRequest, at time.Time) (model.Account, error) {
	req.Amount = ruleAmount(rule, req.Amount)
	return r.creditTx(ctx, tx, rule, req, at)
}

// creditTx начисляет сумму, рассчитанную движком, независимо от типа правила.
// Активность, пауза и лимиты правила применяются как обычно.
func (r *RuleEngine) creditTx(ctx context.Context, tx repository.Tx, rule model.Rule, req AwardRequest, at time.Time) (model.Account, error) {
	if err := r.check(ctx, tx, rule, req.Amount, at); err != nil {
		return model.Account{}, err
	}
	return r.ledger.earnTx(ctx, tx, Entry{
		UserID:      req.UserID,
		Action:      rule.Action,
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   req.Reference,
	}, at)
}

// check применяет ограничения правила к сумме начисления.
func (r *RuleEngine) check(ctx context.Context, tx repository.Tx, rule model.Rule, amount int64, at time.Time) error {
	if !rule.IsActive {
		return fmt.Errorf("%w: %s", ErrRuleInactive, rule.Action)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrValidation, amount)
	}

	if rule.CooldownMinutes > 0 {
		last, ok, err := tx.LastActionAt(ctx, rule.Action)
		if err != nil {
			return err
		}
		cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
		if ok && at.Sub(last) < cooldown {
			return fmt.Errorf("%w: next award after %s", ErrCooldownActive, last.Add(cooldown).Format(time.RFC3339))
		}
	}

	if rule.MaxPerDay != nil {
		earned, err := tx.SumActionAmountSince(ctx, rule.Action, startOfDay(at, r.loc))
		if err != nil {
			return err
		}
		if earned+amount > *rule.MaxPerDay {
			return fmt.Errorf("%w: earned %d of %d today", ErrDailyCapExceeded, earned, *rule.MaxPerDay)
		}
	}

	if rule.MaxPerMonth != nil {
		earned, err := tx.SumActionAmountSince(ctx, rule.Action, startOfMonth(at, r.loc))
		if err != nil {
			return err
		}
		if earned+amount > *rule.MaxPerMonth {
			return fmt.Errorf("%w: earned %d of %d this month", ErrMonthlyCapExceeded, earned, *rule.MaxPerMonth)
		}
	}

	return nil
}

// ruleAmount возвращает сумму правила: фиксированную или запрошенную.
func ruleAmount(rule model.Rule, requested int64) int64 {
	if rule.Kind == model.RuleKindFixed {
		return rule.Amount
	}
	return requested
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func startOfMonth(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}
