// Package ledger ведёт денежный учёт маркетплейса: балансы счетов
// и неизменяемые платёжные записи внутри сделок.
// models.go описывает счета, типы движений и их статусы.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
)

// Account — счёт в леджере. Балансы хранятся по паре (счёт, валюта),
// поэтому эскроу и касса площадки — такие же строки, как счета игроков,
// и их можно сверять.
type Account string

const (
	// AccountEscrow — эскроу-счёт: через него проходят деньги покупателя
	// до разбиения на долю продавца и комиссию
	AccountEscrow Account = "escrow"
	// AccountHouse — касса площадки, сюда падает комиссия
	AccountHouse Account = "house"
	// AccountSystem — системный счёт-эмитент: начисления ресурсов из пакетов
	AccountSystem Account = "system"
)

// UserAccount возвращает счёт игрока.
func UserAccount(userID int64) Account {
	return Account(fmt.Sprintf("user:%d", userID))
}

// EntryType — тип платёжной записи.
type EntryType string

const (
	// EntryBuyerToContract — деньги покупателя уходят в эскроу
	EntryBuyerToContract EntryType = "BUYER_TO_CONTRACT"
	// EntryContractToSeller — выплата продавцу из эскроу
	EntryContractToSeller EntryType = "CONTRACT_TO_SELLER"
	// EntryFee — комиссия площадки из эскроу
	EntryFee EntryType = "FEE"
	// EntryResourceTransfer — начисление ресурсов из проданного пакета
	EntryResourceTransfer EntryType = "RESOURCE_TRANSFER"
	// EntryRefund — возврат из эскроу покупателю при сорвавшемся
	// он-чейн платеже
	EntryRefund EntryType = "REFUND"
)

// EntryStatus — статус платёжной записи.
// Единственный допустимый переход: PENDING -> CONFIRMED или PENDING -> FAILED.
type EntryStatus string

const (
	EntryPending   EntryStatus = "PENDING"
	EntryConfirmed EntryStatus = "CONFIRMED"
	EntryFailed    EntryStatus = "FAILED"
)

// PaymentTransaction — одна платёжная запись (строка леджера).
// После создания не меняется, кроме перехода статуса.
type PaymentTransaction struct {
	ID             uuid.UUID
	DealID         uuid.UUID // market_transaction_id
	From           Account
	To             Account
	Amount         decimal.Decimal
	Currency       common.Currency
	Type           EntryType
	BlockchainTxID *string
	Status         EntryStatus
	CreatedAt      time.Time
}

// Balance — доступный остаток счёта в одной валюте.
type Balance struct {
	Account   Account
	Currency  common.Currency
	Available decimal.Decimal
	UpdatedAt time.Time
}
