package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/uticoin/internal/model"
)

// MemoryRepository хранит состояние движка в памяти процесса.
// Все операции сериализуются одним мьютексом, поэтому блокировка счёта покрывает и коды, и заказы.
type MemoryRepository struct {
	mu sync.Mutex

	accounts     map[string]model.Account
	transactions []model.Transaction
	rules        map[string]model.Rule
	configs      []model.DailyBonusConfig
	claims       map[string]model.DailyClaim
	products     map[string]model.CatalogProduct
	codes        map[string]model.RedemptionCode
	orders       map[string]model.Order
	attributes   map[string]model.ProductRewardAttributes
}

// NewMemoryRepository создаёт пустое хранилище с правилами по умолчанию.
func NewMemoryRepository() *MemoryRepository {
	r := &MemoryRepository{
		accounts:   make(map[string]model.Account),
		rules:      make(map[string]model.Rule),
		claims:     make(map[string]model.DailyClaim),
		products:   make(map[string]model.CatalogProduct),
		codes:      make(map[string]model.RedemptionCode),
		orders:     make(map[string]model.Order),
		attributes: make(map[string]model.ProductRewardAttributes),
	}
	r.seedDefaults()
	return r
}

// seedDefaults повторяет начальные данные миграций PostgreSQL.
func (r *MemoryRepository) seedDefaults() {
	for _, rule := range DefaultRules() {
		r.rules[rule.Action] = rule
	}
}

// DefaultRules возвращает системные правила, без которых движок не может начислять коины.
func DefaultRules() []model.Rule {
	return []model.Rule{
		{Action: model.ActionAdminManual, Kind: model.RuleKindManual, IsActive: true},
		{Action: model.ActionDailyBonus, Kind: model.RuleKindManual, IsActive: true},
		{Action: model.ActionOrderReward, Kind: model.RuleKindManual, IsActive: true},
	}
}

// Close ничего не делает и нужен для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error { return nil }

// WithAccount выполняет fn под блокировкой хранилища и применяет накопленные записи только при успехе.
func (r *MemoryRepository) WithAccount(ctx context.Context, userID string, fn func(Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{
		repo:   r,
		userID: userID,
		stock:  make(map[string]int64),
		codes:  make(map[string]model.RedemptionCode),
		orders: make(map[string]model.Order),
	}
	if acc, ok := r.accounts[userID]; ok {
		tx.account = acc
	} else {
		tx.account = model.Account{UserID: userID}
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commit()
	return nil
}

// GetAccount возвращает счёт пользователя или нулевой счёт.
func (r *MemoryRepository) GetAccount(ctx context.Context, userID string) (model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acc, ok := r.accounts[userID]; ok {
		return acc, nil
	}
	return model.Account{UserID: userID}, nil
}

// ListTransactions возвращает операции пользователя, начиная с последних.
func (r *MemoryRepository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Transaction
	for i := len(r.transactions) - 1; i >= 0; i-- {
		if r.transactions[i].UserID == userID {
			res = append(res, r.transactions[i])
		}
	}
	return page(res, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// GetRule возвращает правило по действию.
func (r *MemoryRepository) GetRule(ctx context.Context, action string) (model.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, ok := r.rules[action]
	if !ok {
		return model.Rule{}, fmt.Errorf("%w: rule %s", ErrNotFound, action)
	}
	return rule, nil
}

// UpsertRule создаёт или заменяет правило.
func (r *MemoryRepository) UpsertRule(ctx context.Context, rule model.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules[rule.Action] = rule
	return nil
}

// ListRules возвращает все правила, упорядоченные по действию.
func (r *MemoryRepository) ListRules(ctx context.Context) ([]model.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]model.Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		res = append(res, rule)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Action < res[j].Action })
	return res, nil
}

// GetDailyBonusConfig возвращает последнюю версию настроек ежедневного бонуса.
func (r *MemoryRepository) GetDailyBonusConfig(ctx context.Context) (model.DailyBonusConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.configs) == 0 {
		return model.DailyBonusConfig{}, fmt.Errorf("%w: daily bonus config", ErrNotFound)
	}
	return r.configs[len(r.configs)-1], nil
}

// SaveDailyBonusConfig сохраняет новую версию настроек.
func (r *MemoryRepository) SaveDailyBonusConfig(ctx context.Context, cfg model.DailyBonusConfig) (model.DailyBonusConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg.Version = int64(len(r.configs) + 1)
	r.configs = append(r.configs, cfg)
	return cfg, nil
}

// GetCatalogProduct возвращает товар каталога наград.
func (r *MemoryRepository) GetCatalogProduct(ctx context.Context, id string) (model.CatalogProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return model.CatalogProduct{}, fmt.Errorf("%w: product %s", ErrNotFound, id)
	}
	return p, nil
}

// UpsertCatalogProduct создаёт или заменяет товар каталога наград.
func (r *MemoryRepository) UpsertCatalogProduct(ctx context.Context, p model.CatalogProduct) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.products[p.ID] = p
	return nil
}

// GetCode возвращает код погашения по значению.
func (r *MemoryRepository) GetCode(ctx context.Context, code string) (model.RedemptionCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[code]
	if !ok {
		return model.RedemptionCode{}, fmt.Errorf("%w: code %s", ErrNotFound, code)
	}
	return c, nil
}

// SetCodeRedeemed атомарно переводит код из pending в redeemed.
func (r *MemoryRepository) SetCodeRedeemed(ctx context.Context, code, adminID string, at time.Time) (model.RedemptionCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.codes[code]
	if !ok {
		return model.RedemptionCode{}, fmt.Errorf("%w: code %s", ErrNotFound, code)
	}
	if c.Status != model.CodeStatusPending {
		return c, ErrAlreadyRedeemed
	}

	c.Status = model.CodeStatusRedeemed
	c.RedeemedAt = &at
	c.RedeemedBy = &adminID
	r.codes[code] = c
	return c, nil
}

// ListCodesByUser возвращает коды пользователя, начиная с последних.
func (r *MemoryRepository) ListCodesByUser(ctx context.Context, userID string) ([]model.RedemptionCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.RedemptionCode
	for _, c := range r.codes {
		if c.UserID == userID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// CreateOrder сохраняет заказ витрины.
func (r *MemoryRepository) CreateOrder(ctx context.Context, o model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.Code]; ok {
		return fmt.Errorf("%w: order %s", ErrAlreadyExists, o.Code)
	}
	r.orders[o.Code] = o
	return nil
}

// GetOrder возвращает заказ по коду.
func (r *MemoryRepository) GetOrder(ctx context.Context, code string) (model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[code]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, code)
	}
	return o, nil
}

// ExpireOrder переводит заказ из pending в expired и сообщает, было ли изменение.
func (r *MemoryRepository) ExpireOrder(ctx context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[code]
	if !ok {
		return false, fmt.Errorf("%w: order %s", ErrNotFound, code)
	}
	if o.Status != model.OrderStatusPending {
		return false, nil
	}
	o.Status = model.OrderStatusExpired
	r.orders[code] = o
	return true, nil
}

// ExpireOverdueOrders переводит в expired не более limit просроченных заказов.
func (r *MemoryRepository) ExpireOverdueOrders(ctx context.Context, now time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for code, o := range r.orders {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if o.Status == model.OrderStatusPending && now.After(o.ExpiresAt) {
			o.Status = model.OrderStatusExpired
			r.orders[code] = o
			n++
		}
	}
	return n, nil
}

// GetProductRewardAttributes возвращает проценты кэшбэка и скидки товара.
func (r *MemoryRepository) GetProductRewardAttributes(ctx context.Context, productID string) (model.ProductRewardAttributes, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attributes[productID]
	if !ok {
		return model.ProductRewardAttributes{ProductID: productID}, nil
	}
	return a, nil
}

// UpsertProductRewardAttributes создаёт или заменяет проценты товара.
func (r *MemoryRepository) UpsertProductRewardAttributes(ctx context.Context, a model.ProductRewardAttributes) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attributes[a.ProductID] = a
	return nil
}

// memoryTx накапливает записи до завершения единицы работы.
type memoryTx struct {
	repo   *MemoryRepository
	userID string

	account      model.Account
	accountDirty bool
	transactions []model.Transaction
	claim        *model.DailyClaim
	stock        map[string]int64
	codes        map[string]model.RedemptionCode
	orders       map[string]model.Order
}

func (t *memoryTx) GetAccount(ctx context.Context) (model.Account, error) {
	return t.account, nil
}

func (t *memoryTx) AppendTransaction(ctx context.Context, tr model.Transaction) error {
	if tr.UserID != t.userID {
		return fmt.Errorf("transaction for %s inside unit of work of %s", tr.UserID, t.userID)
	}
	t.transactions = append(t.transactions, tr)
	return nil
}

func (t *memoryTx) UpdateAccountTotals(ctx context.Context, balanceDelta, earnedDelta, spentDelta int64, at time.Time) (model.Account, error) {
	t.account.Balance += balanceDelta
	t.account.TotalEarned += earnedDelta
	t.account.TotalSpent += spentDelta
	t.account.UpdatedAt = at
	t.accountDirty = true
	return t.account, nil
}

func (t *memoryTx) eachTransaction(fn func(model.Transaction)) {
	for _, tr := range t.repo.transactions {
		if tr.UserID == t.userID {
			fn(tr)
		}
	}
	for _, tr := range t.transactions {
		fn(tr)
	}
}

func (t *memoryTx) SumActionAmountSince(ctx context.Context, action string, since time.Time) (int64, error) {
	var sum int64
	t.eachTransaction(func(tr model.Transaction) {
		if tr.Action == action && !tr.CreatedAt.Before(since) {
			sum += tr.Amount
		}
	})
	return sum, nil
}

func (t *memoryTx) LastActionAt(ctx context.Context, action string) (time.Time, bool, error) {
	var (
		last  time.Time
		found bool
	)
	t.eachTransaction(func(tr model.Transaction) {
		if tr.Action == action && (!found || tr.CreatedAt.After(last)) {
			last = tr.CreatedAt
			found = true
		}
	})
	return last, found, nil
}

func (t *memoryTx) GetDailyClaim(ctx context.Context) (model.DailyClaim, bool, error) {
	if t.claim != nil {
		return *t.claim, true, nil
	}
	c, ok := t.repo.claims[t.userID]
	return c, ok, nil
}

func (t *memoryTx) SaveDailyClaim(ctx context.Context, c model.DailyClaim) error {
	c.UserID = t.userID
	t.claim = &c
	return nil
}

func (t *memoryTx) ReserveStock(ctx context.Context, productID string) error {
	p, ok := t.repo.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	if p.Stock == nil {
		return nil
	}
	if *p.Stock-t.stock[productID] <= 0 {
		return ErrOutOfStock
	}
	t.stock[productID]++
	return nil
}

func (t *memoryTx) CreateCode(ctx context.Context, c model.RedemptionCode) (bool, error) {
	if _, ok := t.repo.codes[c.Code]; ok {
		return false, nil
	}
	if _, ok := t.codes[c.Code]; ok {
		return false, nil
	}
	t.codes[c.Code] = c
	return true, nil
}

func (t *memoryTx) CompleteOrder(ctx context.Context, code string, rewards model.OrderRewards, at time.Time) error {
	o, ok := t.repo.orders[code]
	if !ok {
		return fmt.Errorf("%w: order %s", ErrNotFound, code)
	}
	if _, done := t.orders[code]; done || o.Status != model.OrderStatusPending {
		return ErrConcurrencyConflict
	}

	o.Status = model.OrderStatusCompleted
	o.CompletedAt = &at
	o.Rewards = &rewards
	t.orders[code] = o
	return nil
}

func (t *memoryTx) commit() {
	r := t.repo
	if t.accountDirty {
		t.account.UserID = t.userID
		r.accounts[t.userID] = t.account
	}
	r.transactions = append(r.transactions, t.transactions...)
	if t.claim != nil {
		r.claims[t.userID] = *t.claim
	}
	for id, n := range t.stock {
		p := r.products[id]
		left := *p.Stock - n
		p.Stock = &left
		r.products[id] = p
	}
	for code, c := range t.codes {
		r.codes[code] = c
	}
	for code, o := range t.orders {
		r.orders[code] = o
	}
}
