package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/uticoin/internal/model"
	"github.com/mmeshcher/uticoin/internal/repository"
)

const (
	defaultTransactionsLimit = 50
	maxTransactionsLimit     = 500
)

// Entry описывает одну операцию со счётом.
type Entry struct {
	UserID      string
	Action      string
	Amount      int64
	Description string
	Reference   string
}

func (e Entry) validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("%w: action is required", ErrValidation)
	}
	if e.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrValidation, e.Amount)
	}
	return nil
}

// Ledger ведёт коин-счета пользователей и журнал операций.
type Ledger struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger создаёт журнал поверх репозитория.
func NewLedger(repo Repository, logger *zap.Logger, settings Settings) *Ledger {
	settings = settings.withDefaults()
	return &Ledger{repo: repo, logger: logger, now: settings.Now}
}

// Earn начисляет коины без проверки правил.
func (l *Ledger) Earn(ctx context.Context, e Entry) (model.Account, error) {
	if err := e.validate(); err != nil {
		return model.Account{}, err
	}

	var acc model.Account
	err := l.repo.WithAccount(ctx, e.UserID, func(tx repository.Tx) error {
		var err error
		acc, err = l.earnTx(ctx, tx, e, l.now())
		return err
	})
	if err != nil {
		return model.Account{}, err
	}
	return acc, nil
}

// Spend списывает коины, если на счёте достаточно средств.
func (l *Ledger) Spend(ctx context.Context, e Entry) (model.Account, error) {
	if err := e.validate(); err != nil {
		return model.Account{}, err
	}

	var acc model.Account
	err := l.repo.WithAccount(ctx, e.UserID, func(tx repository.Tx) error {
		var err error
		acc, err = l.spendTx(ctx, tx, e, l.now())
		return err
	})
	if err != nil {
		return model.Account{}, err
	}
	return acc, nil
}

// GetAccount возвращает счёт пользователя; для нового пользователя все суммы нулевые.
func (l *Ledger) GetAccount(ctx context.Context, userID string) (model.Account, error) {
	if strings.TrimSpace(userID) == "" {
		return model.Account{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return l.repo.GetAccount(ctx, userID)
}

// ListTransactions возвращает историю операций пользователя от новых к старым.
func (l *Ledger) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if limit <= 0 {
		limit = defaultTransactionsLimit
	}
	if limit > maxTransactionsLimit {
		limit = maxTransactionsLimit
	}
	if offset < 0 {
		offset = 0
	}
	return l.repo.ListTransactions(ctx, userID, limit, offset)
}

func (l *Ledger) earnTx(ctx context.Context, tx repository.Tx, e Entry, at time.Time) (model.Account, error) {
	if e.Amount <= 0 {
		return model.Account{}, fmt.Errorf("%w: amount must be positive, got %d", ErrValidation, e.Amount)
	}

	if err := tx.AppendTransaction(ctx, newTransaction(e, e.Amount, at)); err != nil {
		return model.Account{}, err
	}
	acc, err := tx.UpdateAccountTotals(ctx, e.Amount, e.Amount, 0, at)
	if err != nil {
		return model.Account{}, err
	}

	l.logger.Info("coins earned",
		zap.String("user_id", e.UserID),
		zap.String("action", e.Action),
		zap.Int64("amount", e.Amount),
		zap.Int64("balance", acc.Balance),
	)
	return acc, nil
}

func (l *Ledger) spendTx(ctx context.Context, tx repository.Tx, e Entry, at time.Time) (model.Account, error) {
	if e.Amount <= 0 {
		return model.Account{}, fmt.Errorf("%w: amount must be positive, got %d", ErrValidation, e.Amount)
	}

	current, err := tx.GetAccount(ctx)
	if err != nil {
		return model.Account{}, err
	}
	if current.Balance < e.Amount {
		return model.Account{}, fmt.Errorf("%w: balance %d, required %d", ErrInsufficientBalance, current.Balance, e.Amount)
	}

	if err := tx.AppendTransaction(ctx, newTransaction(e, -e.Amount, at)); err != nil {
		return model.Account{}, err
	}
	acc, err := tx.UpdateAccountTotals(ctx, -e.Amount, 0, e.Amount, at)
	if err != nil {
		return model.Account{}, err
	}

	l.logger.Info("coins spent",
		zap.String("user_id", e.UserID),
		zap.String("action", e.Action),
		zap.Int64("amount", e.Amount),
		zap.Int64("balance", acc.Balance),
	)
	return acc, nil
}

func newTransaction(e Entry, signed int64, at time.Time) model.Transaction {
	t := model.Transaction{
		ID:          uuid.New(),
		UserID:      e.UserID,
		Action:      e.Action,
		Amount:      signed,
		Description: e.Description,
		CreatedAt:   at,
	}
	if e.Reference != "" {
		ref := e.Reference
		t.Reference = &ref
	}
	return t
}
