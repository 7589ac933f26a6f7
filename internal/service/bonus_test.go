package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/uticoin/internal/model"
	"github.com/mmeshcher/uticoin/internal/repository"
)

func TestAmountForDay(t *testing.T) {
	calculated := model.DailyBonusConfig{BaseAmount: 10, MaxAmount: 100, StreakDays: 7, IncrementType: model.IncrementCalculated}
	fixed := model.DailyBonusConfig{BaseAmount: 10, MaxAmount: 100, StreakDays: 7, IncrementType: model.IncrementFixed, FixedIncrement: 10}

	tests := []struct {
		name string
		cfg  model.DailyBonusConfig
		day  int
		want int64
	}{
		{name: "calculated first day", cfg: calculated, day: 1, want: 10},
		{name: "calculated middle day", cfg: calculated, day: 4, want: 55},
		{name: "calculated last day", cfg: calculated, day: 7, want: 100},
		{name: "calculated wraps", cfg: calculated, day: 8, want: 10},
		{name: "calculated rounds half up", cfg: model.DailyBonusConfig{BaseAmount: 1, MaxAmount: 5, StreakDays: 3}, day: 2, want: 3},
		{name: "fixed fifth day", cfg: fixed, day: 5, want: 50},
		{name: "fixed wraps to fifth day", cfg: fixed, day: 12, want: 50},
		{name: "fixed clamped to max", cfg: model.DailyBonusConfig{BaseAmount: 10, MaxAmount: 30, StreakDays: 7, IncrementType: model.IncrementFixed, FixedIncrement: 10}, day: 7, want: 30},
		{name: "single day streak", cfg: model.DailyBonusConfig{BaseAmount: 15, MaxAmount: 50, StreakDays: 1}, day: 3, want: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AmountForDay(tt.day, tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountForDay_Invalid(t *testing.T) {
	valid := model.DailyBonusConfig{BaseAmount: 10, MaxAmount: 100, StreakDays: 7}

	_, err := AmountForDay(0, valid)
	require.ErrorIs(t, err, ErrValidation)

	bad := []model.DailyBonusConfig{
		{BaseAmount: 10, MaxAmount: 100, StreakDays: 0},
		{BaseAmount: 0, MaxAmount: 100, StreakDays: 7},
		{BaseAmount: 0, MaxAmount: 0, StreakDays: 1},
		{BaseAmount: 100, MaxAmount: 10, StreakDays: 7},
		{BaseAmount: 10, MaxAmount: 100, StreakDays: 7, IncrementType: model.IncrementFixed, FixedIncrement: -1},
		{BaseAmount: 10, MaxAmount: 100, StreakDays: 7, IncrementType: "random"},
	}
	for _, cfg := range bad {
		_, err := AmountForDay(1, cfg)
		require.ErrorIs(t, err, ErrValidation)
	}
}

func TestSchedule_MonotonicWithinBounds(t *testing.T) {
	configs := []model.DailyBonusConfig{
		{BaseAmount: 10, MaxAmount: 100, StreakDays: 7, IncrementType: model.IncrementCalculated},
		{BaseAmount: 3, MaxAmount: 17, StreakDays: 11, IncrementType: model.IncrementCalculated},
		{BaseAmount: 5, MaxAmount: 40, StreakDays: 10, IncrementType: model.IncrementFixed, FixedIncrement: 7},
	}

	for _, cfg := range configs {
		schedule, err := Schedule(cfg)
		require.NoError(t, err)
		require.Len(t, schedule, cfg.StreakDays)

		for i, amount := range schedule {
			assert.GreaterOrEqual(t, amount, cfg.BaseAmount)
			assert.LessOrEqual(t, amount, cfg.MaxAmount)
			if i > 0 {
				assert.GreaterOrEqual(t, amount, schedule[i-1])
			}
		}
	}
}

func setupDailyBonus(t *testing.T, clock *testClock) *Service {
	t.Helper()

	svc, _ := newTestService(t, clock)
	_, err := svc.SaveDailyBonusConfig(context.Background(), model.DailyBonusConfig{
		BaseAmount: 10,
		MaxAmount:  100,
		StreakDays: 7,
	})
	require.NoError(t, err)
	return svc
}

func TestClaimDailyBonus_Streak(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := setupDailyBonus(t, clock)
	ctx := context.Background()

	res, err := svc.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Day)
	assert.Equal(t, int64(10), res.Amount)
	assert.Equal(t, int64(10), res.Account.Balance)

	clock.Advance(time.Hour)
	_, err = svc.ClaimDailyBonus(ctx, "u1")
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	clock.Set(time.Date(2026, 3, 11, 23, 0, 0, 0, time.UTC))
	res, err = svc.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Day)
	assert.Equal(t, int64(25), res.Amount)

	clock.Set(time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC))
	res, err = svc.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Day)
	assert.Equal(t, 1, res.Streak)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(45), acc.Balance)
	assert.True(t, acc.Consistent())
}

func TestClaimDailyBonus_WrapsAfterFullCycle(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := setupDailyBonus(t, clock)
	ctx := context.Background()

	var last ClaimResult
	for range 8 {
		res, err := svc.ClaimDailyBonus(ctx, "u1")
		require.NoError(t, err)
		last = res
		clock.Advance(24 * time.Hour)
	}

	assert.Equal(t, 8, last.Streak)
	assert.Equal(t, 1, last.Day)
	assert.Equal(t, int64(10), last.Amount)
}

func TestClaimDailyBonus_ResetHour(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC))
	repo := repository.NewMemoryRepository()
	svc := NewService(repo, repo, nil, Settings{Location: time.UTC, ResetHour: 6, Now: clock.Now})
	ctx := context.Background()

	_, err := svc.SaveDailyBonusConfig(ctx, model.DailyBonusConfig{BaseAmount: 10, MaxAmount: 100, StreakDays: 7})
	require.NoError(t, err)

	_, err = svc.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)

	clock.Set(time.Date(2026, 3, 10, 5, 59, 0, 0, time.UTC))
	_, err = svc.ClaimDailyBonus(ctx, "u1")
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	clock.Set(time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC))
	res, err := svc.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Day)
}

func TestClaimDailyBonus_RequiresConfigAndActiveRule(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	_, err := svc.ClaimDailyBonus(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.SaveDailyBonusConfig(ctx, model.DailyBonusConfig{BaseAmount: 10, MaxAmount: 100, StreakDays: 7})
	require.NoError(t, err)
	saveRule(t, svc, model.Rule{Action: model.ActionDailyBonus, Kind: model.RuleKindManual, IsActive: false})

	_, err = svc.ClaimDailyBonus(ctx, "u1")
	require.ErrorIs(t, err, ErrRuleInactive)

	acc, err := svc.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance)

	// неудачная попытка не должна засчитываться в серию
	saveRule(t, svc, model.Rule{Action: model.ActionDailyBonus, Kind: model.RuleKindManual, IsActive: true})
	res, err := svc.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Day)
}

func TestSaveDailyBonusConfig_RejectsZeroBaseAmount(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := setupDailyBonus(t, clock)
	ctx := context.Background()

	_, err := svc.SaveDailyBonusConfig(ctx, model.DailyBonusConfig{BaseAmount: 0, MaxAmount: 100, StreakDays: 7})
	require.ErrorIs(t, err, ErrValidation)

	// первый день серии по-прежнему начисляет базовую сумму действующей версии
	res, err := svc.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Amount)
}

func TestClaimDailyBonus_CreditsCalculatedAmountForFixedRule(t *testing.T) {
	clock := newTestClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	svc, repo := newTestService(t, clock)
	ctx := context.Background()

	_, err := svc.SaveDailyBonusConfig(ctx, model.DailyBonusConfig{BaseAmount: 10, MaxAmount: 100, StreakDays: 7})
	require.NoError(t, err)
	// правило, сохранённое в обход валидации, не должно менять сумму бонуса
	require.NoError(t, repo.UpsertRule(ctx, model.Rule{
		Action: model.ActionDailyBonus, Kind: model.RuleKindFixed, Amount: 999, IsActive: true,
	}))

	res, err := svc.ClaimDailyBonus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Amount)
	assert.Equal(t, int64(10), res.Account.Balance)
}

func TestSaveDailyBonusConfig_Versions(t *testing.T) {
	clock := newTestClock(time.Now())
	svc, _ := newTestService(t, clock)
	ctx := context.Background()

	first, err := svc.SaveDailyBonusConfig(ctx, model.DailyBonusConfig{BaseAmount: 10, MaxAmount: 100, StreakDays: 7})
	require.NoError(t, err)
	assert.Equal(t, model.IncrementCalculated, first.IncrementType)

	second, err := svc.SaveDailyBonusConfig(ctx, model.DailyBonusConfig{
		BaseAmount: 5, MaxAmount: 50, StreakDays: 5, IncrementType: model.IncrementFixed, FixedIncrement: 10,
	})
	require.NoError(t, err)
	assert.Greater(t, second.Version, first.Version)

	current, err := svc.DailyBonusConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Version, current.Version)

	schedule, err := svc.DailyBonusSchedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 15, 25, 35, 45}, schedule)

	_, err = svc.SaveDailyBonusConfig(ctx, model.DailyBonusConfig{BaseAmount: 10, MaxAmount: 5, StreakDays: 5})
	require.ErrorIs(t, err, ErrValidation)
}
