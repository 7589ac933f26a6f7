// Package handler содержит HTTP-обработчики API движка UTI-коинов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mmeshcher/uticoin/internal/middleware"
	"github.com/mmeshcher/uticoin/internal/model"
	"github.com/mmeshcher/uticoin/internal/service"
	"github.com/mmeshcher/uticoin/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	GetAccount(ctx context.Context, userID string) (model.Account, error)
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error)

	Award(ctx context.Context, req service.AwardRequest) (model.Account, error)
	AuthorizeAction(ctx context.Context, req service.AwardRequest) (service.Authorization, error)
	AwardAction(ctx context.Context, req service.AwardRequest) (model.Account, error)
	ListRules(ctx context.Context) ([]model.Rule, error)
	UpsertRule(ctx context.Context, rule model.Rule) (model.Rule, error)

	DailyBonusConfig(ctx context.Context) (model.DailyBonusConfig, error)
	SaveDailyBonusConfig(ctx context.Context, cfg model.DailyBonusConfig) (model.DailyBonusConfig, error)
	DailyBonusSchedule(ctx context.Context) ([]int64, error)
	ClaimDailyBonus(ctx context.Context, userID string) (service.ClaimResult, error)

	UpsertCatalogProduct(ctx context.Context, p model.CatalogProduct) (model.CatalogProduct, error)
	IssueCode(ctx context.Context, productID, userID string) (model.RedemptionCode, error)
	VerifyCode(ctx context.Context, code string) (model.RedemptionCode, error)
	RedeemCode(ctx context.Context, code, adminID string) (model.RedemptionCode, error)
	ListCodes(ctx context.Context, userID string) ([]model.RedemptionCode, error)

	UpsertProductRewards(ctx context.Context, a model.ProductRewardAttributes) (model.ProductRewardAttributes, error)
	ComputeExpectedReward(ctx context.Context, items []model.OrderItem, defaultCoins int64) (service.ExpectedReward, error)
	ComputeCoinDiscountSplit(ctx context.Context, items []model.OrderItem, balance int64) (service.CoinDiscountSplit, error)
	RegisterOrder(ctx context.Context, o model.Order) (model.Order, error)
	PreviewOrder(ctx context.Context, code string) (service.OrderPreview, error)
	CompleteOrder(ctx context.Context, code string) (service.CompletionResult, error)
}

// Handler реализует HTTP-обработчики API движка UTI-коинов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	allowedOrigins []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, allowedOrigins ...string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		allowedOrigins: allowedOrigins,
	}
}

type errorBody struct {
	Error errorInfo `json:"error"`
	// Redemption содержит сохранённую запись при повторном погашении кода.
	Redemption *model.RedemptionCode `json:"redemption,omitempty"`
}

type errorInfo struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	writeJSON(w, status, errorBody{Error: errorInfo{Code: code, Message: message, Details: details}})
}

// errorStatus сопоставляет ошибку движка с HTTP-статусом и машиночитаемым кодом.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, service.ErrAlreadyRedeemed):
		return http.StatusConflict, "already_redeemed"
	case errors.Is(err, service.ErrAlreadyCompleted):
		return http.StatusConflict, "already_completed"
	case errors.Is(err, service.ErrAlreadyClaimed):
		return http.StatusConflict, "already_claimed"
	case errors.Is(err, service.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, service.ErrOutOfStock):
		return http.StatusConflict, "out_of_stock"
	case errors.Is(err, service.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict"
	case errors.Is(err, service.ErrExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, service.ErrCooldownActive):
		return http.StatusTooManyRequests, "cooldown_active"
	case errors.Is(err, service.ErrDailyCapExceeded):
		return http.StatusTooManyRequests, "daily_cap_exceeded"
	case errors.Is(err, service.ErrMonthlyCapExceeded):
		return http.StatusTooManyRequests, "monthly_cap_exceeded"
	case errors.Is(err, service.ErrRuleInactive):
		return http.StatusForbidden, "rule_inactive"
	case errors.Is(err, service.ErrProductInactive):
		return http.StatusForbidden, "product_inactive"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError пишет ошибку движка в едином формате. Неизвестные ошибки логируются и скрываются.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		)
		writeErrorBody(w, status, code, http.StatusText(status), nil)
		return
	}
	writeErrorBody(w, status, code, err.Error(), nil)
}

// decode читает JSON-тело запроса и проверяет его по тегам validate.
// При ошибке ответ уже записан и возвращается false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "bad_request", "malformed JSON body", nil)
		return false
	}
	if details := validation.Struct(v); details != nil {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", "request validation failed", details)
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
