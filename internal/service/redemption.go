package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/uticoin/internal/model"
	"github.com/mmeshcher/uticoin/internal/repository"
	"github.com/mmeshcher/uticoin/internal/validation"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts = 10
)

// RedemptionManager выдаёт и погашает одноразовые коды на товары каталога наград.
type RedemptionManager struct {
	repo     Repository
	ledger   *Ledger
	logger   *zap.Logger
	now      func() time.Time
	generate func() (string, error)
}

// NewRedemptionManager создаёт менеджер кодов погашения.
func NewRedemptionManager(repo Repository, ledger *Ledger, logger *zap.Logger, settings Settings) *RedemptionManager {
	settings = settings.withDefaults()
	return &RedemptionManager{
		repo:     repo,
		ledger:   ledger,
		logger:   logger,
		now:      settings.Now,
		generate: generateCode,
	}
}

// UpsertCatalogProduct создаёт или обновляет товар каталога наград.
func (m *RedemptionManager) UpsertCatalogProduct(ctx context.Context, p model.CatalogProduct) (model.CatalogProduct, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return model.CatalogProduct{}, fmt.Errorf("%w: product id is required", ErrValidation)
	}
	if p.Cost <= 0 {
		return model.CatalogProduct{}, fmt.Errorf("%w: cost must be positive", ErrValidation)
	}
	if !p.Type.Valid() {
		return model.CatalogProduct{}, fmt.Errorf("%w: unknown product type %q", ErrValidation, p.Type)
	}
	if p.Stock != nil && *p.Stock < 0 {
		return model.CatalogProduct{}, fmt.Errorf("%w: stock must not be negative", ErrValidation)
	}

	if err := m.repo.UpsertCatalogProduct(ctx, p); err != nil {
		return model.CatalogProduct{}, err
	}
	return p, nil
}

// IssueCode списывает стоимость товара и выдаёт пользователю новый код в статусе pending.
func (m *RedemptionManager) IssueCode(ctx context.Context, productID, userID string) (model.RedemptionCode, error) {
	if strings.TrimSpace(productID) == "" || strings.TrimSpace(userID) == "" {
		return model.RedemptionCode{}, fmt.Errorf("%w: product id and user id are required", ErrValidation)
	}

	product, err := m.repo.GetCatalogProduct(ctx, productID)
	if err != nil {
		return model.RedemptionCode{}, err
	}
	if !product.IsActive {
		return model.RedemptionCode{}, fmt.Errorf("%w: %s", ErrProductInactive, productID)
	}

	var issued model.RedemptionCode
	err = m.repo.WithAccount(ctx, userID, func(tx repository.Tx) error {
		now := m.now()

		if err := tx.ReserveStock(ctx, product.ID); err != nil {
			return err
		}

		code, err := m.createCode(ctx, tx, model.RedemptionCode{
			ProductID: product.ID,
			UserID:    userID,
			Cost:      product.Cost,
			Status:    model.CodeStatusPending,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}

		_, err = m.ledger.spendTx(ctx, tx, Entry{
			UserID:      userID,
			Action:      model.ActionRewardPurchase,
			Amount:      product.Cost,
			Description: "Покупка награды: " + product.Title,
			Reference:   code.Code,
		}, now)
		if err != nil {
			return err
		}

		issued = code
		return nil
	})
	if err != nil {
		return model.RedemptionCode{}, err
	}

	m.logger.Info("redemption code issued",
		zap.String("user_id", userID),
		zap.String("product_id", product.ID),
		zap.Int64("cost", product.Cost),
	)
	return issued, nil
}

func (m *RedemptionManager) createCode(ctx context.Context, tx repository.Tx, c model.RedemptionCode) (model.RedemptionCode, error) {
	for range maxCodeAttempts {
		value, err := m.generate()
		if err != nil {
			return model.RedemptionCode{}, err
		}
		c.Code = value

		ok, err := tx.CreateCode(ctx, c)
		if err != nil {
			return model.RedemptionCode{}, err
		}
		if ok {
			return c, nil
		}
		m.logger.Warn("redemption code collision, regenerating")
	}
	return model.RedemptionCode{}, fmt.Errorf("%w: no unique code after %d attempts", ErrConcurrencyConflict, maxCodeAttempts)
}

// VerifyCode возвращает код без изменения его состояния.
func (m *RedemptionManager) VerifyCode(ctx context.Context, code string) (model.RedemptionCode, error) {
	code, err := parseRedemptionCode(code)
	if err != nil {
		return model.RedemptionCode{}, err
	}
	return m.repo.GetCode(ctx, code)
}

// RedeemCode переводит код из pending в redeemed. Повторный вызов возвращает ErrAlreadyRedeemed
// вместе с сохранённой записью.
func (m *RedemptionManager) RedeemCode(ctx context.Context, code, adminID string) (model.RedemptionCode, error) {
	code, err := parseRedemptionCode(code)
	if err != nil {
		return model.RedemptionCode{}, err
	}
	if strings.TrimSpace(adminID) == "" {
		return model.RedemptionCode{}, fmt.Errorf("%w: admin id is required", ErrValidation)
	}

	rc, err := m.repo.SetCodeRedeemed(ctx, code, adminID, m.now())
	if err != nil {
		if errors.Is(err, ErrAlreadyRedeemed) {
			return rc, err
		}
		return model.RedemptionCode{}, err
	}

	m.logger.Info("redemption code redeemed", zap.String("code", rc.Code), zap.String("admin_id", adminID))
	return rc, nil
}

// ListCodes возвращает коды пользователя от новых к старым.
func (m *RedemptionManager) ListCodes(ctx context.Context, userID string) ([]model.RedemptionCode, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	return m.repo.ListCodesByUser(ctx, userID)
}

func parseRedemptionCode(code string) (string, error) {
	code = validation.NormalizeCode(code)
	if !validation.IsValidRedemptionCode(code) {
		return "", fmt.Errorf("%w: malformed redemption code", ErrValidation)
	}
	return code, nil
}

// generateCode возвращает случайный код из заглавных букв и цифр.
func generateCode() (string, error) {
	const limit = 256 - 256%len(codeAlphabet)

	buf := make([]byte, 0, validation.RedemptionCodeLength)
	b := make([]byte, 1)
	for len(buf) < validation.RedemptionCodeLength {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		if int(b[0]) >= limit {
			continue
		}
		buf = append(buf, codeAlphabet[int(b[0])%len(codeAlphabet)])
	}
	return string(buf), nil
}
