package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/uticoin/internal/middleware"
	"github.com/mmeshcher/uticoin/internal/model"
	"github.com/mmeshcher/uticoin/internal/service"
	"github.com/mmeshcher/uticoin/internal/validation"
)

// GetAccount возвращает баланс пользователя.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// ListTransactions возвращает журнал операций пользователя, новые записи первыми.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, okLimit := queryInt(r, "limit", 0)
	offset, okOffset := queryInt(r, "offset", 0)
	if !okLimit || !okOffset {
		writeErrorBody(w, http.StatusBadRequest, "bad_request", "limit and offset must be non-negative integers", nil)
		return
	}

	txs, err := h.service.ListTransactions(r.Context(), chi.URLParam(r, "userID"), limit, offset)
	if err != nil {
		h.writeError(w, r, "list transactions", err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

type manualBonusRequest struct {
	Amount      int64  `json:"amount" validate:"gt=0"`
	Description string `json:"description" validate:"max=255"`
}

// GrantBonus начисляет ручной бонус администратора.
func (h *Handler) GrantBonus(w http.ResponseWriter, r *http.Request) {
	var req manualBonusRequest
	if !decode(w, r, &req) {
		return
	}

	adminID, _ := middleware.GetSubjectFromContext(r.Context())
	description := req.Description
	if description == "" {
		description = "Бонус администратора"
	}

	acc, err := h.service.Award(r.Context(), service.AwardRequest{
		UserID:      chi.URLParam(r, "userID"),
		Action:      model.ActionAdminManual,
		Amount:      req.Amount,
		Description: description,
		Reference:   adminID,
	})
	if err != nil {
		h.writeError(w, r, "grant bonus", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// ListRules возвращает все правила начислений.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		h.writeError(w, r, "list rules", err)
		return
	}
	if rules == nil {
		rules = []model.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

type ruleRequest struct {
	Kind            string `json:"kind" validate:"required,oneof=fixed manual"`
	Amount          int64  `json:"amount" validate:"gte=0"`
	MaxPerDay       *int64 `json:"max_per_day" validate:"omitempty,gt=0"`
	MaxPerMonth     *int64 `json:"max_per_month" validate:"omitempty,gt=0"`
	CooldownMinutes int    `json:"cooldown_minutes" validate:"gte=0"`
	IsActive        *bool  `json:"is_active" validate:"required"`
}

// UpsertRule создаёт или заменяет правило для действия.
func (h *Handler) UpsertRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !decode(w, r, &req) {
		return
	}

	rule, err := h.service.UpsertRule(r.Context(), model.Rule{
		Action:          chi.URLParam(r, "action"),
		Kind:            model.RuleKind(req.Kind),
		Amount:          req.Amount,
		MaxPerDay:       req.MaxPerDay,
		MaxPerMonth:     req.MaxPerMonth,
		CooldownMinutes: req.CooldownMinutes,
		IsActive:        *req.IsActive,
	})
	if err != nil {
		h.writeError(w, r, "upsert rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// GetDailyBonusConfig возвращает действующую версию настроек ежедневного бонуса.
func (h *Handler) GetDailyBonusConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.DailyBonusConfig(r.Context())
	if err != nil {
		h.writeError(w, r, "get daily bonus config", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type dailyBonusConfigRequest struct {
	BaseAmount     int64  `json:"base_amount" validate:"gt=0"`
	MaxAmount      int64  `json:"max_amount" validate:"gtefield=BaseAmount"`
	StreakDays     int    `json:"streak_days" validate:"gte=1,lte=365"`
	IncrementType  string `json:"increment_type" validate:"omitempty,oneof=calculated fixed"`
	FixedIncrement int64  `json:"fixed_increment" validate:"gte=0"`
}

// SaveDailyBonusConfig сохраняет новую версию настроек ежедневного бонуса.
func (h *Handler) SaveDailyBonusConfig(w http.ResponseWriter, r *http.Request) {
	var req dailyBonusConfigRequest
	if !decode(w, r, &req) {
		return
	}

	cfg, err := h.service.SaveDailyBonusConfig(r.Context(), model.DailyBonusConfig{
		BaseAmount:     req.BaseAmount,
		MaxAmount:      req.MaxAmount,
		StreakDays:     req.StreakDays,
		IncrementType:  model.IncrementType(req.IncrementType),
		FixedIncrement: req.FixedIncrement,
	})
	if err != nil {
		h.writeError(w, r, "save daily bonus config", err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

type scheduleResponse struct {
	Day    int   `json:"day"`
	Amount int64 `json:"amount"`
}

// GetDailyBonusSchedule возвращает суммы бонуса по дням серии.
func (h *Handler) GetDailyBonusSchedule(w http.ResponseWriter, r *http.Request) {
	amounts, err := h.service.DailyBonusSchedule(r.Context())
	if err != nil {
		h.writeError(w, r, "get daily bonus schedule", err)
		return
	}

	resp := make([]scheduleResponse, 0, len(amounts))
	for i, a := range amounts {
		resp = append(resp, scheduleResponse{Day: i + 1, Amount: a})
	}
	writeJSON(w, http.StatusOK, resp)
}

type catalogProductRequest struct {
	Title    string `json:"title" validate:"required,max=200"`
	Cost     int64  `json:"cost" validate:"gt=0"`
	Type     string `json:"type" validate:"required,oneof=physical digital coupon"`
	Stock    *int64 `json:"stock" validate:"omitempty,gte=0"`
	IsActive *bool  `json:"is_active" validate:"required"`
}

// UpsertCatalogProduct создаёт или заменяет товар каталога наград.
func (h *Handler) UpsertCatalogProduct(w http.ResponseWriter, r *http.Request) {
	var req catalogProductRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := h.service.UpsertCatalogProduct(r.Context(), model.CatalogProduct{
		ID:       chi.URLParam(r, "productID"),
		Title:    req.Title,
		Cost:     req.Cost,
		Type:     model.ProductType(req.Type),
		Stock:    req.Stock,
		IsActive: *req.IsActive,
	})
	if err != nil {
		h.writeError(w, r, "upsert catalog product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type productRewardsRequest struct {
	CashbackPercentage decimal.Decimal `json:"cashback_percentage"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
}

// UpsertProductRewards задаёт проценты кэшбэка и скидки коинами для товара витрины.
func (h *Handler) UpsertProductRewards(w http.ResponseWriter, r *http.Request) {
	var req productRewardsRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := h.service.UpsertProductRewards(r.Context(), model.ProductRewardAttributes{
		ProductID:          chi.URLParam(r, "productID"),
		CashbackPercentage: req.CashbackPercentage,
		DiscountPercentage: req.DiscountPercentage,
	})
	if err != nil {
		h.writeError(w, r, "upsert product rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// VerifyCode показывает код погашения без изменения его статуса.
func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	code, ok := codeParam(w, r)
	if !ok {
		return
	}

	rc, err := h.service.VerifyCode(r.Context(), code)
	if err != nil {
		h.writeError(w, r, "verify code", err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// RedeemCode погашает код от имени администратора из токена.
// Повторное погашение возвращает 409 вместе с сохранённой записью.
func (h *Handler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.GetSubjectFromContext(r.Context())
	if !ok {
		writeErrorBody(w, http.StatusUnauthorized, "unauthorized", http.StatusText(http.StatusUnauthorized), nil)
		return
	}
	code, ok := codeParam(w, r)
	if !ok {
		return
	}

	rc, err := h.service.RedeemCode(r.Context(), code, adminID)
	if errors.Is(err, service.ErrAlreadyRedeemed) {
		status, kind := errorStatus(err)
		writeJSON(w, status, errorBody{
			Error:      errorInfo{Code: kind, Message: err.Error()},
			Redemption: &rc,
		})
		return
	}
	if err != nil {
		h.writeError(w, r, "redeem code", err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

type codeRequest struct {
	Code string `json:"code" validate:"redemption_code"`
}

// codeParam проверяет код погашения из пути и пишет 400, если он некорректен.
func codeParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	req := codeRequest{Code: strings.TrimSpace(chi.URLParam(r, "code"))}
	if details := validation.Struct(req); details != nil {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", "request validation failed", details)
		return "", false
	}
	return req.Code, true
}

// ListCodes возвращает коды погашения пользователя.
func (h *Handler) ListCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.service.ListCodes(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, "list codes", err)
		return
	}
	if codes == nil {
		codes = []model.RedemptionCode{}
	}
	writeJSON(w, http.StatusOK, codes)
}

// PreviewOrder показывает заказ с расчётом начислений и скидки перед подтверждением.
func (h *Handler) PreviewOrder(w http.ResponseWriter, r *http.Request) {
	preview, err := h.service.PreviewOrder(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, "preview order", err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// CompleteOrder подтверждает заказ и начисляет коины покупателю.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CompleteOrder(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, "complete order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
