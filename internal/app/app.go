// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы, обработчики
// и собирает всё в один объект App.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/bot"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/config"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/db/postgres"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/commission"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/items"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/ledger"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/market"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/jobs"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/server"
)

// App содержит все компоненты приложения.
type App struct {
	Server    *server.Server
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Репозитории ===
	runner := postgres.NewPoolRunner(pool)
	itemRepo := items.NewRepository()
	ledgerRepo := ledger.NewRepository(pool)
	commissionRepo := commission.NewRepository(pool)
	marketRepo := market.NewRepository(pool)

	// === 3. Сервисы ===
	ledgerService := ledger.NewLedger(ledgerRepo)
	calculator := commission.NewCalculator(commissionRepo)
	offerService := market.NewOfferService(runner, marketRepo, itemRepo, cfg.MarketOfferMaxTTL)

	// Уведомления опциональны: без них движок полностью работоспособен
	var notifier market.Notifier
	if cfg.NotificationsEnabled {
		n, err := bot.NewNotifier(cfg.TelegramBotToken)
		if err != nil {
			log.WithError(err).Warn("Telegram-уведомления недоступны, продолжаем без них")
		} else {
			notifier = n
		}
	}

	dealService := market.NewDealService(runner, marketRepo, marketRepo, itemRepo, ledgerService, calculator, notifier)

	// === 4. Обработчики и сервер ===
	handler := market.NewHandler(offerService, dealService, ledgerService)
	srv := server.New(cfg, handler)

	// === 5. Планировщик задач ===
	scheduler := jobs.NewScheduler(offerService, dealService, cfg.AppTimezone,
		time.Duration(cfg.MarketStaleDealMinutes)*time.Minute)

	return &App{
		Server:    srv,
		Scheduler: scheduler,
		DB:        pool,
	}, nil
}

// runMigrations выполняет все SQL-миграции.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if err := postgres.InitMigrations(ctx, pool); err != nil {
		return err
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Items},
		{2, migration002Ledger},
		{3, migration003Commissions},
		{4, migration004Offers},
		{5, migration005Deals},
	}

	for _, m := range migrations {
		if err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql); err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		log.Infof("Миграция %d применена", m.version)
	}

	return nil
}

// SQL-миграции встроены в код для упрощения деплоя.

// Предметы игры. owner_id NULL — предмет ещё никому не принадлежит
// (системные лоты продают «ничьи» предметы). Флаг locked и талон
// lock_token ставятся при выставлении лота и снимаются при его закрытии.
var migration001Items = `
CREATE TABLE IF NOT EXISTS galaxies (
    id BIGSERIAL PRIMARY KEY,
    owner_id BIGINT,
    name VARCHAR(255) NOT NULL,
    locked BOOLEAN NOT NULL DEFAULT FALSE,
    lock_token UUID,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_galaxies_owner ON galaxies(owner_id);

CREATE TABLE IF NOT EXISTS artifacts (
    id BIGSERIAL PRIMARY KEY,
    owner_id BIGINT,
    name VARCHAR(255) NOT NULL,
    locked BOOLEAN NOT NULL DEFAULT FALSE,
    lock_token UUID,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_artifacts_owner ON artifacts(owner_id);

CREATE TABLE IF NOT EXISTS resource_packages (
    id BIGSERIAL PRIMARY KEY,
    owner_id BIGINT,
    name VARCHAR(255) NOT NULL,
    resource_type VARCHAR(32) NOT NULL,
    amount NUMERIC(30,8) NOT NULL CHECK (amount > 0),
    locked BOOLEAN NOT NULL DEFAULT FALSE,
    lock_token UUID,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);
`

// Балансы и платёжные записи. Счёт — строка: user:<id>, escrow, house,
// system. CHECK (available >= 0) — последний рубеж против ухода в минус.
var migration002Ledger = `
CREATE TABLE IF NOT EXISTS balances (
    account VARCHAR(64) NOT NULL,
    currency VARCHAR(32) NOT NULL,
    available NUMERIC(30,8) NOT NULL DEFAULT 0 CHECK (available >= 0),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
    PRIMARY KEY (account, currency)
);

CREATE TABLE IF NOT EXISTS payment_transactions (
    id UUID PRIMARY KEY,
    market_transaction_id UUID NOT NULL,
    from_account VARCHAR(64) NOT NULL,
    to_account VARCHAR(64) NOT NULL,
    amount NUMERIC(30,8) NOT NULL CHECK (amount >= 0),
    currency VARCHAR(32) NOT NULL,
    tx_type VARCHAR(32) NOT NULL,
    blockchain_tx_id VARCHAR(128),
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_payment_tx_deal ON payment_transactions(market_transaction_id);
`

// Ставки комиссии. Отсутствие строки для валюты — ошибка конфигурации,
// движок никогда не считает ставку нулевой по умолчанию.
var migration003Commissions = `
CREATE TABLE IF NOT EXISTS commissions (
    currency VARCHAR(32) PRIMARY KEY,
    rate NUMERIC(5,4) NOT NULL CHECK (rate >= 0 AND rate <= 1),
    description TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);
INSERT INTO commissions (currency, rate, description) VALUES
    ('stardust',   0.0500, 'Базовая ставка внутренней валюты'),
    ('darkMatter', 0.0500, 'Базовая ставка внутренней валюты'),
    ('tgStars',    0.1000, 'Telegram Stars'),
    ('tonToken',   0.0250, 'TON, он-чейн расчёт')
ON CONFLICT (currency) DO NOTHING;
`

// Лоты. Частичный уникальный индекс страхует инвариант
// «не больше одного ACTIVE-лота на предмет» на уровне БД.
var migration004Offers = `
CREATE TABLE IF NOT EXISTS offers (
    id BIGSERIAL PRIMARY KEY,
    seller_id BIGINT NOT NULL,
    item_type VARCHAR(32) NOT NULL,
    item_id BIGINT NOT NULL,
    price NUMERIC(30,8) NOT NULL CHECK (price > 0),
    currency VARCHAR(32) NOT NULL,
    status VARCHAR(16) NOT NULL,
    offer_type VARCHAR(16) NOT NULL,
    is_item_locked BOOLEAN NOT NULL DEFAULT FALSE,
    lock_token UUID,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_offers_active_item
    ON offers(item_type, item_id) WHERE status = 'ACTIVE';
CREATE INDEX IF NOT EXISTS idx_offers_status_created ON offers(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_offers_expires ON offers(expires_at) WHERE status = 'ACTIVE';
`

// Сделки. Частичный уникальный индекс не даёт завести вторую
// PENDING-сделку на один лот.
var migration005Deals = `
CREATE TABLE IF NOT EXISTS market_transactions (
    id UUID PRIMARY KEY,
    offer_id BIGINT NOT NULL REFERENCES offers(id),
    buyer_id BIGINT NOT NULL,
    seller_id BIGINT NOT NULL,
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_deals_pending_offer
    ON market_transactions(offer_id) WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS idx_deals_buyer ON market_transactions(buyer_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_deals_seller ON market_transactions(seller_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_deals_status_created ON market_transactions(status, created_at);
`
