package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/uticoin/internal/model"
	"github.com/mmeshcher/uticoin/internal/service"
)

type actionRequest struct {
	Amount      int64  `json:"amount" validate:"gte=0"`
	Description string `json:"description" validate:"max=255"`
	Reference   string `json:"reference" validate:"max=128"`
}

func (req actionRequest) award(r *http.Request) service.AwardRequest {
	return service.AwardRequest{
		UserID:      chi.URLParam(r, "userID"),
		Action:      chi.URLParam(r, "action"),
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   req.Reference,
	}
}

// AwardAction начисляет коины за действие пользователя по фиксированному правилу.
func (h *Handler) AwardAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decode(w, r, &req) {
		return
	}

	acc, err := h.service.AwardAction(r.Context(), req.award(r))
	if err != nil {
		h.writeError(w, r, "award action", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// AuthorizeAction проверяет правило без начисления и возвращает сумму, которая была бы начислена.
func (h *Handler) AuthorizeAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decode(w, r, &req) {
		return
	}

	auth, err := h.service.AuthorizeAction(r.Context(), req.award(r))
	if err != nil {
		h.writeError(w, r, "authorize action", err)
		return
	}
	writeJSON(w, http.StatusOK, auth)
}

// ClaimDailyBonus начисляет ежедневный бонус пользователю.
func (h *Handler) ClaimDailyBonus(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ClaimDailyBonus(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, "claim daily bonus", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// IssueCode покупает товар каталога за коины и выдаёт код погашения.
func (h *Handler) IssueCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.service.IssueCode(r.Context(), chi.URLParam(r, "productID"), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, "issue code", err)
		return
	}
	writeJSON(w, http.StatusCreated, code)
}

type orderItemRequest struct {
	ProductID   string          `json:"product_id" validate:"required,max=128"`
	ProductName string          `json:"product_name" validate:"max=255"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

func toItems(in []orderItemRequest) []model.OrderItem {
	items := make([]model.OrderItem, 0, len(in))
	for _, it := range in {
		items = append(items, model.OrderItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   it.LineTotal,
		})
	}
	return items
}

type createOrderRequest struct {
	Code      string             `json:"code" validate:"order_code"`
	BuyerID   string             `json:"buyer_id" validate:"required,max=128"`
	Items     []orderItemRequest `json:"items" validate:"required,min=1,dive"`
	UseCoins  bool               `json:"use_coins"`
	ExpiresAt *time.Time         `json:"expires_at"`
}

// CreateOrder регистрирует заказ витрины для последующего подтверждения оператором.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decode(w, r, &req) {
		return
	}

	o := model.Order{
		Code:     req.Code,
		BuyerID:  req.BuyerID,
		Items:    toItems(req.Items),
		UseCoins: req.UseCoins,
	}
	if req.ExpiresAt != nil {
		o.ExpiresAt = *req.ExpiresAt
	}

	order, err := h.service.RegisterOrder(r.Context(), o)
	if err != nil {
		h.writeError(w, r, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

type quoteRequest struct {
	Items   []orderItemRequest `json:"items" validate:"required,min=1,dive"`
	Balance int64              `json:"balance" validate:"gte=0"`
}

type quoteResponse struct {
	Reward service.ExpectedReward    `json:"reward"`
	Split  service.CoinDiscountSplit `json:"split"`
}

// QuoteOrder рассчитывает ожидаемый кэшбэк и скидку коинами для корзины.
func (h *Handler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decode(w, r, &req) {
		return
	}

	items := toItems(req.Items)
	reward, err := h.service.ComputeExpectedReward(r.Context(), items, service.DefaultRewardCoins)
	if err != nil {
		h.writeError(w, r, "compute expected reward", err)
		return
	}
	split, err := h.service.ComputeCoinDiscountSplit(r.Context(), items, req.Balance)
	if err != nil {
		h.writeError(w, r, "compute coin discount split", err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Reward: reward, Split: split})
}
