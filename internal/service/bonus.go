package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/uticoin/internal/model"
	"github.com/mmeshcher/uticoin/internal/repository"
)

// ValidateDailyBonusConfig проверяет настройки ежедневного бонуса.
func ValidateDailyBonusConfig(cfg model.DailyBonusConfig) error {
	if cfg.StreakDays < 1 {
		return fmt.Errorf("%w: streak days must be at least 1", ErrValidation)
	}
	if cfg.BaseAmount <= 0 {
		return fmt.Errorf("%w: base amount must be positive", ErrValidation)
	}
	if cfg.MaxAmount < cfg.BaseAmount {
		return fmt.Errorf("%w: max amount %d is less than base amount %d", ErrValidation, cfg.MaxAmount, cfg.BaseAmount)
	}
	if cfg.FixedIncrement < 0 {
		return fmt.Errorf("%w: fixed increment must not be negative", ErrValidation)
	}
	switch cfg.IncrementType {
	case model.IncrementCalculated, model.IncrementFixed, "":
	default:
		return fmt.Errorf("%w: unknown increment type %q", ErrValidation, cfg.IncrementType)
	}
	return nil
}

// AmountForDay возвращает размер ежедневного бонуса для дня серии (нумерация с 1).
// Дни за пределами StreakDays переходят в следующий цикл.
func AmountForDay(day int, cfg model.DailyBonusConfig) (int64, error) {
	if day < 1 {
		return 0, fmt.Errorf("%w: day must be at least 1, got %d", ErrValidation, day)
	}
	if err := ValidateDailyBonusConfig(cfg); err != nil {
		return 0, err
	}

	day = cycleDay(day, cfg.StreakDays)
	steps := int64(day - 1)

	var amount int64
	switch cfg.IncrementType {
	case model.IncrementFixed:
		amount = cfg.BaseAmount + steps*cfg.FixedIncrement
	default:
		amount = cfg.BaseAmount
		if cfg.StreakDays > 1 {
			amount += roundDiv((cfg.MaxAmount-cfg.BaseAmount)*steps, int64(cfg.StreakDays-1))
		}
	}

	return min(max(amount, cfg.BaseAmount), cfg.MaxAmount), nil
}

// Schedule возвращает суммы бонуса для всех дней одного цикла.
func Schedule(cfg model.DailyBonusConfig) ([]int64, error) {
	if err := ValidateDailyBonusConfig(cfg); err != nil {
		return nil, err
	}
	res := make([]int64, 0, cfg.StreakDays)
	for day := 1; day <= cfg.StreakDays; day++ {
		amount, err := AmountForDay(day, cfg)
		if err != nil {
			return nil, err
		}
		res = append(res, amount)
	}
	return res, nil
}

func cycleDay(day, streakDays int) int {
	return (day-1)%streakDays + 1
}

// roundDiv делит неотрицательные числа с округлением половины вверх.
func roundDiv(num, den int64) int64 {
	return (2*num + den) / (2 * den)
}

// ClaimResult содержит итог получения ежедневного бонуса.
type ClaimResult struct {
	Day     int           `json:"day"`
	Streak  int           `json:"streak"`
	Amount  int64         `json:"amount"`
	Account model.Account `json:"account"`
}

// DailyBonus ведёт серии ежедневных бонусов и их настройки.
type DailyBonus struct {
	repo      Repository
	rules     *RuleEngine
	logger    *zap.Logger
	loc       *time.Location
	resetHour int
	now       func() time.Time
}

// NewDailyBonus создаёт компонент ежедневного бонуса.
func NewDailyBonus(repo Repository, rules *RuleEngine, logger *zap.Logger, settings Settings) *DailyBonus {
	settings = settings.withDefaults()
	return &DailyBonus{
		repo:      repo,
		rules:     rules,
		logger:    logger,
		loc:       settings.Location,
		resetHour: settings.ResetHour,
		now:       settings.Now,
	}
}

// DailyBonusConfig возвращает действующие настройки.
func (d *DailyBonus) DailyBonusConfig(ctx context.Context) (model.DailyBonusConfig, error) {
	return d.repo.GetDailyBonusConfig(ctx)
}

// SaveDailyBonusConfig сохраняет новую версию настроек.
func (d *DailyBonus) SaveDailyBonusConfig(ctx context.Context, cfg model.DailyBonusConfig) (model.DailyBonusConfig, error) {
	if cfg.IncrementType == "" {
		cfg.IncrementType = model.IncrementCalculated
	}
	if err := ValidateDailyBonusConfig(cfg); err != nil {
		return model.DailyBonusConfig{}, err
	}
	cfg.CreatedAt = d.now()

	saved, err := d.repo.SaveDailyBonusConfig(ctx, cfg)
	if err != nil {
		return model.DailyBonusConfig{}, err
	}
	d.logger.Info("daily bonus config saved", zap.Int64("version", saved.Version))
	return saved, nil
}

// DailyBonusSchedule возвращает суммы по дням цикла для действующих настроек.
func (d *DailyBonus) DailyBonusSchedule(ctx context.Context) ([]int64, error) {
	cfg, err := d.repo.GetDailyBonusConfig(ctx)
	if err != nil {
		return nil, err
	}
	return Schedule(cfg)
}

// ClaimDailyBonus начисляет ежедневный бонус, если он ещё не получен в текущем окне.
func (d *DailyBonus) ClaimDailyBonus(ctx context.Context, userID string) (ClaimResult, error) {
	if strings.TrimSpace(userID) == "" {
		return ClaimResult{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	cfg, err := d.repo.GetDailyBonusConfig(ctx)
	if err != nil {
		return ClaimResult{}, err
	}
	rule, err := d.rules.rule(ctx, model.ActionDailyBonus)
	if err != nil {
		return ClaimResult{}, err
	}

	now := d.now()
	window := d.windowStart(now)

	var res ClaimResult
	err = d.repo.WithAccount(ctx, userID, func(tx repository.Tx) error {
		last, ok, err := tx.GetDailyClaim(ctx)
		if err != nil {
			return err
		}
		if ok && !last.LastClaimAt.Before(window) {
			return fmt.Errorf("%w: next claim after %s", ErrAlreadyClaimed, window.AddDate(0, 0, 1).Format(time.RFC3339))
		}

		streak := 1
		if ok && !last.LastClaimAt.Before(window.AddDate(0, 0, -1)) {
			streak = last.Streak + 1
		}
		day := cycleDay(streak, cfg.StreakDays)

		amount, err := AmountForDay(day, cfg)
		if err != nil {
			return err
		}

		acc, err := d.rules.creditTx(ctx, tx, rule, AwardRequest{
			UserID:      userID,
			Action:      model.ActionDailyBonus,
			Amount:      amount,
			Description: fmt.Sprintf("Ежедневный бонус, день %d", day),
		}, now)
		if err != nil {
			return err
		}

		if err := tx.SaveDailyClaim(ctx, model.DailyClaim{UserID: userID, Streak: streak, LastClaimAt: now}); err != nil {
			return err
		}

		res = ClaimResult{Day: day, Streak: streak, Amount: amount, Account: acc}
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}
	return res, nil
}

// windowStart возвращает начало текущего окна ежедневного бонуса.
func (d *DailyBonus) windowStart(now time.Time) time.Time {
	local := now.In(d.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), d.resetHour, 0, 0, 0, d.loc)
	if local.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}
