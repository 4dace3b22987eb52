// Package market — repository.go выполняет операции с таблицами offers
// и market_transactions. Изменяющие методы принимают открытую транзакцию,
// чтения списков идут через пул.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/items"
)

// Repository предоставляет доступ к лотам и сделкам.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository создаёт репозиторий маркетплейса.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// lock_token в БД имеет тип UUID: перед COALESCE с текстовым '' колонку
// нужно привести к text, иначе Postgres попытается разобрать '' как uuid.
const offerColumns = `id, seller_id, item_type, item_id, price, currency, status, offer_type, is_item_locked, COALESCE(lock_token::text, ''), created_at, expires_at`

// InsertOffer сохраняет новый ACTIVE-лот.
// Частичный уникальный индекс по (item_type, item_id) WHERE status='ACTIVE'
// страхует инвариант "один активный лот на предмет": нарушение
// превращается в ErrItemLocked.
func (r *Repository) InsertOffer(ctx context.Context, tx pgx.Tx, o *Offer) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO offers (seller_id, item_type, item_id, price, currency, status, offer_type, is_item_locked, lock_token, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`, o.SellerID, string(o.ItemType), o.ItemID, o.Price, string(o.Currency),
		string(o.Status), string(o.OfferType), o.IsItemLocked, string(o.LockToken), o.ExpiresAt,
	).Scan(&o.ID, &o.CreatedAt)
	if isUniqueViolation(err) {
		return common.ErrItemLocked
	}
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

// GetOffer читает лот без блокировки (для API-чтений).
func (r *Repository) GetOffer(ctx context.Context, offerID int64) (*Offer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1`, offerID)
	return scanOffer(row)
}

// LockOffer читает лот под блокировкой строки. Все переходы статуса лота
// начинаются отсюда: конкурирующие расчёт, отмена и уборка истёкших
// сериализуются на этой блокировке.
func (r *Repository) LockOffer(ctx context.Context, tx pgx.Tx, offerID int64) (*Offer, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, offerID)
	return scanOffer(row)
}

// CloseOffer переводит лот из ACTIVE в терминальный статус и снимает
// отметку блокировки предмета. Перевод из неактивного статуса невозможен.
func (r *Repository) CloseOffer(ctx context.Context, tx pgx.Tx, offerID int64, status OfferStatus) error {
	res, err := tx.Exec(ctx, `
		UPDATE offers
		SET status = $2, is_item_locked = FALSE, lock_token = NULL
		WHERE id = $1 AND status = 'ACTIVE'
	`, offerID, string(status))
	if err != nil {
		return fmt.Errorf("close offer: %w", err)
	}
	if res.RowsAffected() == 0 {
		return common.ErrInvalidState
	}
	return nil
}

// ListActive возвращает активные лоты с фильтрами приложения.
func (r *Repository) ListActive(ctx context.Context, f ListFilter) ([]Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE status = 'ACTIVE'`
	args := []any{}
	if f.ItemType != nil {
		args = append(args, string(*f.ItemType))
		query += fmt.Sprintf(" AND item_type = $%d", len(args))
	}
	if f.Currency != nil {
		args = append(args, string(*f.Currency))
		query += fmt.Sprintf(" AND currency = $%d", len(args))
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var out []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ExpiredCandidates возвращает id активных лотов, у которых вышел срок
// и по которым не идёт расчёт. Каждый кандидат потом перепроверяется
// под блокировкой строки — список лишь сужает обход.
func (r *Repository) ExpiredCandidates(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT o.id
		FROM offers o
		WHERE o.status = 'ACTIVE'
		  AND o.expires_at IS NOT NULL AND o.expires_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM market_transactions t
			WHERE t.offer_id = o.id AND t.status = 'PENDING'
		  )
		ORDER BY o.expires_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("expired candidates: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan offer id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const dealColumns = `id, offer_id, buyer_id, seller_id, status, created_at, completed_at`

// InsertDeal регистрирует PENDING-сделку по лоту.
// Частичный уникальный индекс по offer_id WHERE status='PENDING'
// не даёт завести вторую незакрытую сделку на тот же лот.
func (r *Repository) InsertDeal(ctx context.Context, tx pgx.Tx, d *Deal) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO market_transactions (id, offer_id, buyer_id, seller_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, d.ID, d.OfferID, d.BuyerID, d.SellerID, string(d.Status)).Scan(&d.CreatedAt)
	if isUniqueViolation(err) {
		return common.ErrDealInProgress
	}
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}

// LockDeal читает сделку под блокировкой строки.
func (r *Repository) LockDeal(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Deal, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM market_transactions WHERE id = $1 FOR UPDATE`, id)
	return scanDeal(row)
}

// SetDealStatus переводит сделку из PENDING в терминальный статус.
// Повторный перевод невозможен: ноль затронутых строк.
func (r *Repository) SetDealStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status DealStatus, completedAt *time.Time) error {
	res, err := tx.Exec(ctx, `
		UPDATE market_transactions
		SET status = $2, completed_at = $3
		WHERE id = $1 AND status = 'PENDING'
	`, id, string(status), completedAt)
	if err != nil {
		return fmt.Errorf("set deal status: %w", err)
	}
	if res.RowsAffected() == 0 {
		return common.ErrInvalidState
	}
	return nil
}

// HasPendingDeal сообщает, есть ли по лоту незакрытая сделка.
func (r *Repository) HasPendingDeal(ctx context.Context, tx pgx.Tx, offerID int64) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM market_transactions WHERE offer_id = $1 AND status = 'PENDING')`,
		offerID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has pending deal: %w", err)
	}
	return exists, nil
}

// DealsByUser возвращает сделки пользователя (как покупателя и как продавца).
func (r *Repository) DealsByUser(ctx context.Context, userID int64, limit int) ([]Deal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+dealColumns+`
		FROM market_transactions
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("deals by user: %w", err)
	}
	defer rows.Close()

	var out []Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// StaleDealIDs возвращает id PENDING-сделок, зарегистрированных раньше
// cutoff. Используется уборщиком зависших сделок.
func (r *Repository) StaleDealIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM market_transactions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("stale deals: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deal id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (*Offer, error) {
	var (
		o                 Offer
		itemType, cur     string
		status, offerType string
		lockToken         string
	)
	err := row.Scan(&o.ID, &o.SellerID, &itemType, &o.ItemID, &o.Price, &cur,
		&status, &offerType, &o.IsItemLocked, &lockToken, &o.CreatedAt, &o.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan offer: %w", err)
	}
	o.ItemType = items.ItemType(itemType)
	o.Currency = common.Currency(cur)
	o.Status = OfferStatus(status)
	o.OfferType = OfferType(offerType)
	o.LockToken = items.LockToken(lockToken)
	return &o, nil
}

func scanDeal(row rowScanner) (*Deal, error) {
	var (
		d      Deal
		status string
	)
	err := row.Scan(&d.ID, &d.OfferID, &d.BuyerID, &d.SellerID, &status, &d.CreatedAt, &d.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrDealNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan deal: %w", err)
	}
	d.Status = DealStatus(status)
	return &d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
