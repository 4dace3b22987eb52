// Package items — repository.go выполняет операции с таблицами предметов.
// Все методы принимают открытую транзакцию: блокировка, передача владения
// и закрытие лота обязаны коммититься одним куском.
package items

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
)

// Repository предоставляет доступ к таблицам galaxies, artifacts
// и resource_packages.
type Repository struct{}

// NewRepository создаёт репозиторий предметов.
func NewRepository() *Repository {
	return &Repository{}
}

// tableFor возвращает имя таблицы для типа предмета.
// Типы проверены на границе API, поэтому default здесь — защита от
// программной ошибки, а не от пользовательского ввода.
func tableFor(t ItemType) (string, error) {
	switch t {
	case TypeGalaxy:
		return "galaxies", nil
	case TypeArtifact:
		return "artifacts", nil
	case TypePackage:
		return "resource_packages", nil
	default:
		return "", common.ErrUnsupportedItemType
	}
}

// Get читает предмет под блокировкой строки (FOR UPDATE).
func (r *Repository) Get(ctx context.Context, tx pgx.Tx, ref Ref) (*Item, error) {
	table, err := tableFor(ref.Type)
	if err != nil {
		return nil, err
	}

	it := &Item{Ref: ref}
	query := fmt.Sprintf(`SELECT owner_id, locked FROM %s WHERE id = $1 FOR UPDATE`, table)
	err = tx.QueryRow(ctx, query, ref.ID).Scan(&it.OwnerID, &it.Locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// TryLock атомарно проверяет и выставляет флаг блокировки предмета.
// Возвращает талон, без которого блокировку не снять.
// Если предмет уже заблокирован — ErrItemLocked, затронутых строк ноль.
func (r *Repository) TryLock(ctx context.Context, tx pgx.Tx, ref Ref) (LockToken, error) {
	table, err := tableFor(ref.Type)
	if err != nil {
		return "", err
	}

	token := LockToken(uuid.NewString())
	query := fmt.Sprintf(`
		UPDATE %s
		SET locked = TRUE, lock_token = $2
		WHERE id = $1 AND locked = FALSE
	`, table)
	res, err := tx.Exec(ctx, query, ref.ID, string(token))
	if err != nil {
		return "", fmt.Errorf("lock item: %w", err)
	}
	if res.RowsAffected() == 0 {
		// Либо предмета нет, либо он уже под лотом — различаем для вызывающего
		exists, err := r.exists(ctx, tx, table, ref.ID)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", common.ErrItemNotFound
		}
		return "", common.ErrItemLocked
	}
	return token, nil
}

// Unlock снимает блокировку по талону. Идемпотентна: повторный вызов
// с тем же талоном (или с уже снятой блокировкой) не делает ничего.
func (r *Repository) Unlock(ctx context.Context, tx pgx.Tx, ref Ref, token LockToken) error {
	table, err := tableFor(ref.Type)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET locked = FALSE, lock_token = NULL
		WHERE id = $1 AND lock_token = $2
	`, table)
	if _, err := tx.Exec(ctx, query, ref.ID, string(token)); err != nil {
		return fmt.Errorf("unlock item: %w", err)
	}
	return nil
}

// TransferOwnership переписывает предмет на нового владельца.
func (r *Repository) TransferOwnership(ctx context.Context, tx pgx.Tx, ref Ref, newOwnerID int64) error {
	table, err := tableFor(ref.Type)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET owner_id = $2, updated_at = NOW() WHERE id = $1`, table)
	res, err := tx.Exec(ctx, query, ref.ID, newOwnerID)
	if err != nil {
		return fmt.Errorf("transfer ownership: %w", err)
	}
	if res.RowsAffected() == 0 {
		return common.ErrItemNotFound
	}
	return nil
}

// Contents возвращает содержимое пакета ресурсов.
func (r *Repository) Contents(ctx context.Context, tx pgx.Tx, packageID int64) (*PackageContents, error) {
	var (
		resource string
		amount   decimal.Decimal
	)
	err := tx.QueryRow(ctx, `
		SELECT resource_type, amount FROM resource_packages WHERE id = $1
	`, packageID).Scan(&resource, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("package contents: %w", err)
	}

	cur, err := common.ParseCurrency(resource)
	if err != nil {
		return nil, fmt.Errorf("package %d resource type: %w", packageID, err)
	}
	return &PackageContents{Resource: cur, Amount: amount}, nil
}

func (r *Repository) exists(ctx context.Context, tx pgx.Tx, table string, id int64) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := tx.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("item exists: %w", err)
	}
	return exists, nil
}
