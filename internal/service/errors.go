package service

import (
	"errors"

	"github.com/mmeshcher/uticoin/internal/repository"
)

// Ошибки движка. Все сравниваются через errors.Is и не скрываются от вызывающего.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = repository.ErrNotFound
	ErrAlreadyRedeemed     = repository.ErrAlreadyRedeemed
	ErrAlreadyExists       = repository.ErrAlreadyExists
	ErrOutOfStock          = repository.ErrOutOfStock
	ErrConcurrencyConflict = repository.ErrConcurrencyConflict

	ErrAlreadyCompleted    = errors.New("order already completed")
	ErrExpired             = errors.New("order expired")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCooldownActive      = errors.New("cooldown active")
	ErrDailyCapExceeded    = errors.New("daily cap exceeded")
	ErrMonthlyCapExceeded  = errors.New("monthly cap exceeded")
	ErrRuleInactive        = errors.New("rule inactive")
	ErrAlreadyClaimed      = errors.New("daily bonus already claimed")
	ErrProductInactive     = errors.New("product inactive")
)

// errRollback отменяет единицу работы без ошибки для вызывающего.
var errRollback = errors.New("rollback")
