// Package catalog предоставляет источники процентов кэшбэка и скидки товаров витрины:
// HTTP-клиент каталога витрины и кэш поверх Redis.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/uticoin/internal/model"
)

const (
	maxAttempts   = 3
	maxRetryAfter = 5 * time.Second
)

// ErrRateLimited возвращается, если каталог продолжает отвечать 429 после всех попыток.
var ErrRateLimited = errors.New("catalog rate limited")

// Client инкапсулирует HTTP-взаимодействие с каталогом витрины.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ProductRewards описывает ответ каталога по одному товару.
type ProductRewards struct {
	ProductID          string          `json:"product_id"`
	CashbackPercentage decimal.Decimal `json:"cashback_percentage"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
}

// NewClient создаёт HTTP-клиент для обращения к каталогу витрины по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetProductRewardAttributes запрашивает проценты кэшбэка и скидки товара.
// Неизвестный каталогу товар получает нулевые проценты.
func (c *Client) GetProductRewardAttributes(ctx context.Context, productID string) (model.ProductRewardAttributes, error) {
	empty := model.ProductRewardAttributes{ProductID: productID}
	if c == nil || c.baseURL == "" {
		return empty, fmt.Errorf("catalog client not configured")
	}

	for attempt := 1; ; attempt++ {
		res, retryAfter, err := c.fetch(ctx, productID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrRateLimited) || attempt == maxAttempts {
			return empty, err
		}

		timer := time.NewTimer(min(retryAfter, maxRetryAfter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return empty, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) fetch(ctx context.Context, productID string) (model.ProductRewardAttributes, time.Duration, error) {
	res := model.ProductRewardAttributes{ProductID: productID}
	endpoint := fmt.Sprintf("%s/api/products/%s/rewards", c.baseURL, url.PathEscape(productID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return res, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return res, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return res, 0, nil
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return res, retryAfter, ErrRateLimited
	default:
		return res, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var body ProductRewards
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return res, 0, fmt.Errorf("decode response: %w", err)
	}

	res.CashbackPercentage = body.CashbackPercentage
	res.DiscountPercentage = body.DiscountPercentage
	return res, 0, nil
}
