package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/uticoin/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликте сериализации, взаимной блокировке или обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return err
}

// isRetryable разрешает повтор только после отказа сервера, гарантирующего откат.
// Обрыв соединения не повторяется: COMMIT мог уже примениться.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithAccount открывает транзакцию, блокирует строку счёта пользователя и выполняет fn.
// При конфликте сериализации вся единица работы повторяется целиком.
func (r *PostgresRepository) WithAccount(ctx context.Context, userID string, fn func(Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO coin_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("ensure account: %w", err)
		}

		var acc model.Account
		err = tx.QueryRow(ctx,
			`SELECT user_id, balance, total_earned, total_spent, updated_at
			 FROM coin_accounts WHERE user_id = $1 FOR UPDATE`,
			userID,
		).Scan(&acc.UserID, &acc.Balance, &acc.TotalEarned, &acc.TotalSpent, &acc.UpdatedAt)
		if err != nil {
			return fmt.Errorf("lock account for update: %w", err)
		}

		if err := fn(&pgTx{tx: tx, userID: userID, account: acc}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// GetAccount возвращает счёт пользователя или нулевой счёт, если операций ещё не было.
func (r *PostgresRepository) GetAccount(ctx context.Context, userID string) (model.Account, error) {
	acc := model.Account{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT balance, total_earned, total_spent, updated_at FROM coin_accounts WHERE user_id = $1`,
		userID,
	).Scan(&acc.Balance, &acc.TotalEarned, &acc.TotalSpent, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return acc, nil
		}
		return model.Account{}, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// ListTransactions возвращает историю операций пользователя, начиная с последних.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, action, amount, description, reference, created_at
		 FROM coin_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Action, &t.Amount, &t.Description, &t.Reference, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const ruleColumns = `action, kind, amount, max_per_day, max_per_month, cooldown_minutes, is_active, updated_at`

func scanRule(row pgx.Row) (model.Rule, error) {
	var (
		rule model.Rule
		kind string
	)
	err := row.Scan(&rule.Action, &kind, &rule.Amount, &rule.MaxPerDay, &rule.MaxPerMonth,
		&rule.CooldownMinutes, &rule.IsActive, &rule.UpdatedAt)
	rule.Kind = model.RuleKind(kind)
	return rule, err
}

// GetRule возвращает правило начисления по действию.
func (r *PostgresRepository) GetRule(ctx context.Context, action string) (model.Rule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM coin_rules WHERE action = $1`, action))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Rule{}, fmt.Errorf("%w: rule %s", ErrNotFound, action)
		}
		return model.Rule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

// UpsertRule создаёт или заменяет правило начисления.
func (r *PostgresRepository) UpsertRule(ctx context.Context, rule model.Rule) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO coin_rules (action, kind, amount, max_per_day, max_per_month, cooldown_minutes, is_active, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (action) DO UPDATE SET
			kind = EXCLUDED.kind,
			amount = EXCLUDED.amount,
			max_per_day = EXCLUDED.max_per_day,
			max_per_month = EXCLUDED.max_per_month,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		rule.Action, string(rule.Kind), rule.Amount, rule.MaxPerDay, rule.MaxPerMonth,
		rule.CooldownMinutes, rule.IsActive, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}
	return nil
}

// ListRules возвращает все правила начисления.
func (r *PostgresRepository) ListRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+` FROM coin_rules ORDER BY action`)
	if err != nil {
		return nil, fmt.Errorf("select rules: %w", err)
	}
	defer rows.Close()

	var res []model.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		res = append(res, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetDailyBonusConfig возвращает действующую (последнюю) версию настроек ежедневного бонуса.
func (r *PostgresRepository) GetDailyBonusConfig(ctx context.Context) (model.DailyBonusConfig, error) {
	var (
		cfg      model.DailyBonusConfig
		incrType string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT version, base_amount, max_amount, streak_days, increment_type, fixed_increment, created_at
		 FROM daily_bonus_configs
		 ORDER BY version DESC
		 LIMIT 1`,
	).Scan(&cfg.Version, &cfg.BaseAmount, &cfg.MaxAmount, &cfg.StreakDays, &incrType, &cfg.FixedIncrement, &cfg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DailyBonusConfig{}, fmt.Errorf("%w: daily bonus config", ErrNotFound)
		}
		return model.DailyBonusConfig{}, fmt.Errorf("get daily bonus config: %w", err)
	}
	cfg.IncrementType = model.IncrementType(incrType)
	return cfg, nil
}

// SaveDailyBonusConfig сохраняет новую версию настроек ежедневного бонуса.
func (r *PostgresRepository) SaveDailyBonusConfig(ctx context.Context, cfg model.DailyBonusConfig) (model.DailyBonusConfig, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO daily_bonus_configs (base_amount, max_amount, streak_days, increment_type, fixed_increment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING version`,
		cfg.BaseAmount, cfg.MaxAmount, cfg.StreakDays, string(cfg.IncrementType), cfg.FixedIncrement, cfg.CreatedAt,
	).Scan(&cfg.Version)
	if err != nil {
		return model.DailyBonusConfig{}, fmt.Errorf("insert daily bonus config: %w", err)
	}
	return cfg, nil
}

// GetCatalogProduct возвращает товар каталога наград.
func (r *PostgresRepository) GetCatalogProduct(ctx context.Context, id string) (model.CatalogProduct, error) {
	var (
		p     model.CatalogProduct
		pType string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, cost, type, stock, is_active FROM catalog_products WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Title, &p.Cost, &pType, &p.Stock, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CatalogProduct{}, fmt.Errorf("%w: product %s", ErrNotFound, id)
		}
		return model.CatalogProduct{}, fmt.Errorf("get catalog product: %w", err)
	}
	p.Type = model.ProductType(pType)
	return p, nil
}

// UpsertCatalogProduct создаёт или заменяет товар каталога наград.
func (r *PostgresRepository) UpsertCatalogProduct(ctx context.Context, p model.CatalogProduct) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO catalog_products (id, title, cost, type, stock, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			cost = EXCLUDED.cost,
			type = EXCLUDED.type,
			stock = EXCLUDED.stock,
			is_active = EXCLUDED.is_active`,
		p.ID, p.Title, p.Cost, string(p.Type), p.Stock, p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert catalog product: %w", err)
	}
	return nil
}

const codeColumns = `code, product_id, user_id, cost, status, created_at, redeemed_at, redeemed_by`

func scanCode(row pgx.Row) (model.RedemptionCode, error) {
	var (
		c      model.RedemptionCode
		status string
	)
	err := row.Scan(&c.Code, &c.ProductID, &c.UserID, &c.Cost, &status, &c.CreatedAt, &c.RedeemedAt, &c.RedeemedBy)
	c.Status = model.CodeStatus(status)
	return c, err
}

// GetCode возвращает код погашения по значению.
func (r *PostgresRepository) GetCode(ctx context.Context, code string) (model.RedemptionCode, error) {
	c, err := scanCode(r.pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM redemption_codes WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RedemptionCode{}, fmt.Errorf("%w: code %s", ErrNotFound, code)
		}
		return model.RedemptionCode{}, fmt.Errorf("get code: %w", err)
	}
	return c, nil
}

// SetCodeRedeemed переводит код из pending в redeemed одним условным UPDATE.
// Если код уже погашен, возвращает текущую запись и ErrAlreadyRedeemed.
func (r *PostgresRepository) SetCodeRedeemed(ctx context.Context, code, adminID string, at time.Time) (model.RedemptionCode, error) {
	c, err := scanCode(r.pool.QueryRow(ctx,
		`UPDATE redemption_codes
		 SET status = $2, redeemed_at = $3, redeemed_by = $4
		 WHERE code = $1 AND status = $5
		 RETURNING `+codeColumns,
		code, string(model.CodeStatusRedeemed), at, adminID, string(model.CodeStatusPending),
	))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.RedemptionCode{}, fmt.Errorf("redeem code: %w", err)
	}

	current, err := r.GetCode(ctx, code)
	if err != nil {
		return model.RedemptionCode{}, err
	}
	return current, ErrAlreadyRedeemed
}

// ListCodesByUser возвращает коды погашения пользователя.
func (r *PostgresRepository) ListCodesByUser(ctx context.Context, userID string) ([]model.RedemptionCode, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+codeColumns+` FROM redemption_codes WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select codes: %w", err)
	}
	defer rows.Close()

	var res []model.RedemptionCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateOrder сохраняет заказ витрины со статусом pending.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO orders (code, buyer_id, items, total_amount, use_coins, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`,
		o.Code, o.BuyerID, items, o.TotalAmount.String(), o.UseCoins, string(o.Status), o.CreatedAt, o.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: order %s", ErrAlreadyExists, o.Code)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ по коду.
func (r *PostgresRepository) GetOrder(ctx context.Context, code string) (model.Order, error) {
	var (
		o                       model.Order
		items                   []byte
		total, status           string
		rewardCoins, coinsSpent *int64
		discount                *string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT code, buyer_id, items, total_amount::text, use_coins, status, created_at, expires_at,
			completed_at, reward_coins, coins_spent, discount_amount::text
		 FROM orders WHERE code = $1`,
		code,
	).Scan(&o.Code, &o.BuyerID, &items, &total, &o.UseCoins, &status, &o.CreatedAt, &o.ExpiresAt,
		&o.CompletedAt, &rewardCoins, &coinsSpent, &discount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, code)
		}
		return model.Order{}, fmt.Errorf("get order: %w", err)
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return model.Order{}, fmt.Errorf("unmarshal items: %w", err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return model.Order{}, fmt.Errorf("parse total amount: %w", err)
	}
	o.Status = model.OrderStatus(status)

	if rewardCoins != nil {
		rewards := &model.OrderRewards{Coins: *rewardCoins}
		if coinsSpent != nil {
			rewards.CoinsSpent = *coinsSpent
		}
		if discount != nil {
			if rewards.DiscountAmount, err = decimal.NewFromString(*discount); err != nil {
				return model.Order{}, fmt.Errorf("parse discount amount: %w", err)
			}
		}
		o.Rewards = rewards
	}

	return o, nil
}

// ExpireOrder переводит заказ из pending в expired и сообщает, было ли изменение.
func (r *PostgresRepository) ExpireOrder(ctx context.Context, code string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE code = $1 AND status = $3`,
		code, string(model.OrderStatusExpired), string(model.OrderStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("expire order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireOverdueOrders переводит в expired не более limit просроченных заказов.
func (r *PostgresRepository) ExpireOverdueOrders(ctx context.Context, now time.Time, limit int) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $1
		 WHERE code IN (
			SELECT code FROM orders
			WHERE status = $2 AND expires_at < $3
			ORDER BY expires_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )`,
		string(model.OrderStatusExpired), string(model.OrderStatusPending), now, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("expire overdue orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetProductRewardAttributes возвращает проценты кэшбэка и скидки товара (нулевые, если не заданы).
func (r *PostgresRepository) GetProductRewardAttributes(ctx context.Context, productID string) (model.ProductRewardAttributes, error) {
	a := model.ProductRewardAttributes{ProductID: productID}

	var cashback, discount string
	err := r.pool.QueryRow(ctx,
		`SELECT cashback_percentage::text, discount_percentage::text
		 FROM product_reward_attributes WHERE product_id = $1`,
		productID,
	).Scan(&cashback, &discount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, nil
		}
		return a, fmt.Errorf("get product reward attributes: %w", err)
	}

	if a.CashbackPercentage, err = decimal.NewFromString(cashback); err != nil {
		return a, fmt.Errorf("parse cashback percentage: %w", err)
	}
	if a.DiscountPercentage, err = decimal.NewFromString(discount); err != nil {
		return a, fmt.Errorf("parse discount percentage: %w", err)
	}
	return a, nil
}

// UpsertProductRewardAttributes создаёт или заменяет проценты товара.
func (r *PostgresRepository) UpsertProductRewardAttributes(ctx context.Context, a model.ProductRewardAttributes) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO product_reward_attributes (product_id, cashback_percentage, discount_percentage)
		 VALUES ($1, $2::numeric, $3::numeric)
		 ON CONFLICT (product_id) DO UPDATE SET
			cashback_percentage = EXCLUDED.cashback_percentage,
			discount_percentage = EXCLUDED.discount_percentage`,
		a.ProductID, a.CashbackPercentage.String(), a.DiscountPercentage.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert product reward attributes: %w", err)
	}
	return nil
}

// pgTx реализует Tx поверх транзакции pgx с заблокированной строкой счёта.
type pgTx struct {
	tx      pgx.Tx
	userID  string
	account model.Account
}

func (t *pgTx) GetAccount(ctx context.Context) (model.Account, error) {
	return t.account, nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, tr model.Transaction) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO coin_transactions (id, user_id, action, amount, description, reference, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID, t.userID, tr.Action, tr.Amount, tr.Description, tr.Reference, tr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateAccountTotals(ctx context.Context, balanceDelta, earnedDelta, spentDelta int64, at time.Time) (model.Account, error) {
	acc := model.Account{UserID: t.userID}
	err := t.tx.QueryRow(ctx,
		`UPDATE coin_accounts
		 SET balance = balance + $2, total_earned = total_earned + $3, total_spent = total_spent + $4, updated_at = $5
		 WHERE user_id = $1
		 RETURNING balance, total_earned, total_spent, updated_at`,
		t.userID, balanceDelta, earnedDelta, spentDelta, at,
	).Scan(&acc.Balance, &acc.TotalEarned, &acc.TotalSpent, &acc.UpdatedAt)
	if err != nil {
		return model.Account{}, fmt.Errorf("update account totals: %w", err)
	}
	t.account = acc
	return acc, nil
}

func (t *pgTx) SumActionAmountSince(ctx context.Context, action string, since time.Time) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		 FROM coin_transactions
		 WHERE user_id = $1 AND action = $2 AND created_at >= $3`,
		t.userID, action, since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum action amount: %w", err)
	}
	return sum, nil
}

func (t *pgTx) LastActionAt(ctx context.Context, action string) (time.Time, bool, error) {
	var last *time.Time
	err := t.tx.QueryRow(ctx,
		`SELECT MAX(created_at) FROM coin_transactions WHERE user_id = $1 AND action = $2`,
		t.userID, action,
	).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last action time: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

func (t *pgTx) GetDailyClaim(ctx context.Context) (model.DailyClaim, bool, error) {
	c := model.DailyClaim{UserID: t.userID}
	err := t.tx.QueryRow(ctx,
		`SELECT streak, last_claim_at FROM daily_claims WHERE user_id = $1`,
		t.userID,
	).Scan(&c.Streak, &c.LastClaimAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, false, nil
		}
		return c, false, fmt.Errorf("get daily claim: %w", err)
	}
	return c, true, nil
}

func (t *pgTx) SaveDailyClaim(ctx context.Context, c model.DailyClaim) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO daily_claims (user_id, streak, last_claim_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET streak = EXCLUDED.streak, last_claim_at = EXCLUDED.last_claim_at`,
		t.userID, c.Streak, c.LastClaimAt,
	)
	if err != nil {
		return fmt.Errorf("save daily claim: %w", err)
	}
	return nil
}

func (t *pgTx) ReserveStock(ctx context.Context, productID string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE catalog_products
		 SET stock = CASE WHEN stock IS NULL THEN NULL ELSE stock - 1 END
		 WHERE id = $1 AND (stock IS NULL OR stock > 0)`,
		productID,
	)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOutOfStock
	}
	return nil
}

func (t *pgTx) CreateCode(ctx context.Context, c model.RedemptionCode) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO redemption_codes (code, product_id, user_id, cost, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (code) DO NOTHING`,
		c.Code, c.ProductID, c.UserID, c.Cost, string(c.Status), c.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) CompleteOrder(ctx context.Context, code string, rewards model.OrderRewards, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE orders
		 SET status = $2, completed_at = $3, reward_coins = $4, coins_spent = $5, discount_amount = $6::numeric
		 WHERE code = $1 AND status = $7`,
		code, string(model.OrderStatusCompleted), at, rewards.Coins, rewards.CoinsSpent,
		rewards.DiscountAmount.String(), string(model.OrderStatusPending),
	)
	if err != nil {
		return fmt.Errorf("complete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}
