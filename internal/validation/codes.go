// Package validation содержит функции валидации входных данных.
package validation

import "strings"

const (
	// RedemptionCodeLength задаёт длину кода погашения из каталога наград.
	RedemptionCodeLength = 8
	// OrderCodeLength задаёт длину кода проверки заказа витрины.
	OrderCodeLength = 25
)

// NormalizeCode убирает пробелы по краям и приводит код к верхнему регистру.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidRedemptionCode проверяет, что код состоит из 8 заглавных латинских букв и цифр.
func IsValidRedemptionCode(code string) bool {
	if len(code) != RedemptionCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return false
		}
	}
	return true
}

// IsValidOrderCode проверяет, что код заказа состоит ровно из 25 цифр.
func IsValidOrderCode(code string) bool {
	if len(code) != OrderCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
