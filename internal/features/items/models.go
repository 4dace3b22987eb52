// Package items управляет торгуемыми предметами игры: галактиками,
// артефактами и пакетами ресурсов. models.go описывает их общую форму
// для движка сделок — владельца и флаг блокировки.
package items

import (
	"github.com/shopspring/decimal"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
)

// ItemType — тип торгуемого предмета. Закрытый перечень:
// каждому типу соответствует своя таблица.
type ItemType string

const (
	TypeGalaxy   ItemType = "galaxy"
	TypeArtifact ItemType = "artifact"
	TypePackage  ItemType = "package"
)

// ParseItemType проверяет строку по закрытому перечню.
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(s)
	if !t.Valid() {
		return "", common.ErrUnsupportedItemType
	}
	return t, nil
}

// Valid сообщает, входит ли тип в перечень.
func (t ItemType) Valid() bool {
	switch t {
	case TypeGalaxy, TypeArtifact, TypePackage:
		return true
	}
	return false
}

// Ref однозначно идентифицирует предмет: (тип, id).
type Ref struct {
	Type ItemType
	ID   int64
}

// LockToken — талон на эксклюзивный доступ к предмету.
// TryLock выдаёт талон, и снять блокировку можно только предъявив его:
// посторонний код не может случайно разблокировать чужой лот.
type LockToken string

// Item — общая проекция предмета для движка.
// OwnerID == nil означает системный предмет (продаётся от имени игры).
type Item struct {
	Ref     Ref
	OwnerID *int64
	Locked  bool
}

// PackageContents — содержимое пакета ресурсов.
// При продаже пакета покупателю зачисляется Amount валюты Resource.
type PackageContents struct {
	Resource common.Currency
	Amount   decimal.Decimal
}
