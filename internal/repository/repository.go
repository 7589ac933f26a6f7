// Package repository содержит реализации хранилища движка UTI-коинов: PostgreSQL и in-memory.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/uticoin/internal/model"
)

var (
	// ErrNotFound возвращается, если запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyRedeemed возвращается, если код уже погашен.
	ErrAlreadyRedeemed = errors.New("code already redeemed")
	// ErrOutOfStock возвращается, если товар каталога закончился.
	ErrOutOfStock = errors.New("product out of stock")
	// ErrAlreadyExists возвращается при попытке создать запись с существующим ключом.
	ErrAlreadyExists = errors.New("already exists")
	// ErrConcurrencyConflict возвращается, если условное обновление не применилось из-за изменения состояния.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Tx представляет единицу работы, сериализованную по счёту одного пользователя.
// Все записи через Tx применяются целиком при успешном завершении функции или не применяются вовсе.
// Внутри функции, переданной в WithAccount, нельзя обращаться к методам репозитория напрямую.
type Tx interface {
	// GetAccount возвращает заблокированный счёт пользователя (нулевой, если операций ещё не было).
	GetAccount(ctx context.Context) (model.Account, error)
	AppendTransaction(ctx context.Context, t model.Transaction) error
	UpdateAccountTotals(ctx context.Context, balanceDelta, earnedDelta, spentDelta int64, at time.Time) (model.Account, error)

	SumActionAmountSince(ctx context.Context, action string, since time.Time) (int64, error)
	// LastActionAt возвращает время последней операции пользователя с указанным действием.
	LastActionAt(ctx context.Context, action string) (time.Time, bool, error)

	GetDailyClaim(ctx context.Context) (model.DailyClaim, bool, error)
	SaveDailyClaim(ctx context.Context, c model.DailyClaim) error

	// ReserveStock уменьшает остаток товара на единицу, если остаток ограничен.
	ReserveStock(ctx context.Context, productID string) error
	// CreateCode сохраняет код погашения и возвращает false при коллизии значения кода.
	CreateCode(ctx context.Context, c model.RedemptionCode) (bool, error)

	// CompleteOrder переводит заказ из pending в completed. При несовпадении статуса возвращает ErrConcurrencyConflict.
	CompleteOrder(ctx context.Context, code string, rewards model.OrderRewards, at time.Time) error
}
