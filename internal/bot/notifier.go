// Package bot отправляет участникам сделок уведомления через Telegram.
package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/market"
)

// Notifier шлёт личные сообщения участникам завершённых сделок.
// Ошибки отправки только логируются: уведомление — не часть сделки.
type Notifier struct {
	api *tgbotapi.BotAPI
}

// NewNotifier создаёт уведомитель на токене бота.
func NewNotifier(token string) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	log.WithField("bot", api.Self.UserName).Info("Telegram-уведомления включены")
	return &Notifier{api: api}, nil
}

// DealCompleted уведомляет покупателя и продавца о завершённой сделке.
// Вызывается координатором после коммита.
func (n *Notifier) DealCompleted(deal *market.Deal, offer *market.Offer) {
	item := fmt.Sprintf("%s #%d", offer.ItemType, offer.ItemID)
	price := fmt.Sprintf("%s %s", offer.Price.String(), offer.Currency)

	n.send(deal.BuyerID, fmt.Sprintf("Покупка завершена: %s за %s", item, price))
	if offer.SellerID != market.SystemSellerID {
		n.send(offer.SellerID, fmt.Sprintf("Ваш лот продан: %s за %s", item, price))
	}
}

func (n *Notifier) send(userID int64, text string) {
	msg := tgbotapi.NewMessage(userID, text)
	if _, err := n.api.Send(msg); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Не удалось отправить уведомление")
	}
}
