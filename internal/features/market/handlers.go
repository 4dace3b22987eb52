// Package market — handlers.go содержит HTTP-обработчики маркетплейса.
// Ошибки движка отдаются клиенту стабильным кодом, текст — вспомогательный.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/common"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/items"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/features/ledger"
	"github.com/tatyanamixx/nebula-hunt-server-sub001/internal/server/middleware"
)

// BalanceSource отдаёт остатки счёта для API баланса.
type BalanceSource interface {
	Balances(ctx context.Context, account ledger.Account) ([]ledger.Balance, error)
}

// Handler — HTTP-обработчики маркетплейса.
type Handler struct {
	offers   *OfferService
	deals    *DealService
	balances BalanceSource
}

// NewHandler создаёт обработчики маркетплейса.
func NewHandler(offers *OfferService, deals *DealService, balances BalanceSource) *Handler {
	return &Handler{offers: offers, deals: deals, balances: balances}
}

// Register навешивает пользовательские маршруты. Роутер уже должен
// пройти через авторизацию: обработчики берут id пользователя из контекста.
func (h *Handler) Register(r chi.Router) {
	r.Route("/offers", func(r chi.Router) {
		r.Post("/", h.createOffer)
		r.Get("/", h.listOffers)
		r.Get("/{offerID}", h.getOffer)
		r.Post("/{offerID}/cancel", h.cancelOffer)
	})
	r.Post("/deals", h.initiateDeal)
	r.Get("/transactions", h.listDeals)
	r.Get("/balance", h.getBalance)
}

// RegisterInternal навешивает служебные маршруты (под админ-ключом):
// подтверждение он-чейн платежей, системные лоты, ручная уборка.
func (h *Handler) RegisterInternal(r chi.Router) {
	r.Post("/offers", h.createSystemOffer)
	r.Post("/offers/expire", h.expireOffers)
	r.Post("/payments/{paymentID}/confirm", h.confirmPayment)
	r.Post("/payments/{paymentID}/fail", h.failPayment)
}

type createOfferRequest struct {
	ItemType string `json:"item_type"`
	ItemID   int64  `json:"item_id"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	TTLSec   int64  `json:"ttl_seconds,omitempty"`
}

func (req *createOfferRequest) toInput(sellerID int64, offerType OfferType) (CreateOfferInput, error) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return CreateOfferInput{}, common.ErrInvalidOfferData
	}
	return CreateOfferInput{
		SellerID:  sellerID,
		ItemType:  items.ItemType(req.ItemType),
		ItemID:    req.ItemID,
		Price:     price,
		Currency:  common.Currency(req.Currency),
		OfferType: offerType,
		TTL:       time.Duration(req.TTLSec) * time.Second,
	}, nil
}

func (h *Handler) createOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user is not authenticated")
		return
	}

	var req createOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "request body is not valid json")
		return
	}
	in, err := req.toInput(userID, OfferP2P)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	offer, err := h.offers.CreateOffer(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offerToDTO(offer))
}

// createSystemOffer выставляет системный лот (продавец — площадка).
func (h *Handler) createSystemOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "request body is not valid json")
		return
	}
	in, err := req.toInput(SystemSellerID, OfferSystem)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	offer, err := h.offers.CreateOffer(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offerToDTO(offer))
}

func (h *Handler) listOffers(w http.ResponseWriter, r *http.Request) {
	var f ListFilter
	if v := r.URL.Query().Get("item_type"); v != "" {
		t, err := items.ParseItemType(v)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		f.ItemType = &t
	}
	if v := r.URL.Query().Get("currency"); v != "" {
		c, err := common.ParseCurrency(v)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		f.Currency = &c
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_QUERY", "limit is not a number")
			return
		}
		f.Limit = n
	}

	offers, err := h.offers.ListOffers(r.Context(), f)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]offerDTO, 0, len(offers))
	for i := range offers {
		dtos = append(dtos, offerToDTO(&offers[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) getOffer(w http.ResponseWriter, r *http.Request) {
	offerID, err := strconv.ParseInt(chi.URLParam(r, "offerID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_QUERY", "offer id is not a number")
		return
	}
	offer, err := h.offers.GetOffer(r.Context(), offerID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offerToDTO(offer))
}

func (h *Handler) cancelOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user is not authenticated")
		return
	}
	offerID, err := strconv.ParseInt(chi.URLParam(r, "offerID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_QUERY", "offer id is not a number")
		return
	}

	offer, err := h.offers.CancelOffer(r.Context(), offerID, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offerToDTO(offer))
}

type initiateDealRequest struct {
	OfferID int64 `json:"offer_id"`
}

func (h *Handler) initiateDeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user is not authenticated")
		return
	}
	var req initiateDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "request body is not valid json")
		return
	}

	deal, err := h.deals.InitiateDeal(r.Context(), req.OfferID, userID)
	if err != nil {
		// Сделка могла зарегистрироваться и упасть на расчёте:
		// возвращаем её вместе с ошибкой, чтобы клиент видел статус
		if deal != nil {
			status := common.HTTPStatus(err)
			writeJSON(w, status, dealErrorDTO{
				Error: errorBody{Code: common.ErrorCode(err), Message: err.Error()},
				Deal:  dealToDTO(deal),
			})
			return
		}
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dealToDTO(deal))
}

func (h *Handler) listDeals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user is not authenticated")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	deals, err := h.deals.GetUserDeals(r.Context(), userID, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]dealDTO, 0, len(deals))
	for i := range deals {
		dtos = append(dtos, dealToDTO(&deals[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user is not authenticated")
		return
	}

	balances, err := h.balances.Balances(r.Context(), ledger.UserAccount(userID))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make(map[string]string, len(balances))
	for _, b := range balances {
		out[string(b.Currency)] = b.Available.String()
	}
	writeJSON(w, http.StatusOK, out)
}

type confirmPaymentRequest struct {
	BlockchainTxID string `json:"blockchain_tx_id"`
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_QUERY", "payment id is not a uuid")
		return
	}
	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BlockchainTxID == "" {
		writeError(w, http.StatusBadRequest, "BAD_JSON", "blockchain_tx_id is required")
		return
	}

	deal, err := h.deals.ConfirmPayment(r.Context(), paymentID, req.BlockchainTxID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dealToDTO(deal))
}

func (h *Handler) failPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_QUERY", "payment id is not a uuid")
		return
	}

	deal, err := h.deals.FailPayment(r.Context(), paymentID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dealToDTO(deal))
}

// expireOffers — ручной запуск уборки истёкших лотов (обычно её гоняет
// планировщик, ручка нужна для отладки и аварийных случаев).
func (h *Handler) expireOffers(w http.ResponseWriter, r *http.Request) {
	n, err := h.offers.ExpireOffers(r.Context(), time.Now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

type offerDTO struct {
	ID        int64      `json:"id"`
	SellerID  int64      `json:"seller_id"`
	ItemType  string     `json:"item_type"`
	ItemID    int64      `json:"item_id"`
	Price     string     `json:"price"`
	Currency  string     `json:"currency"`
	Status    string     `json:"status"`
	OfferType string     `json:"offer_type"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func offerToDTO(o *Offer) offerDTO {
	return offerDTO{
		ID:        o.ID,
		SellerID:  o.SellerID,
		ItemType:  string(o.ItemType),
		ItemID:    o.ItemID,
		Price:     o.Price.String(),
		Currency:  string(o.Currency),
		Status:    string(o.Status),
		OfferType: string(o.OfferType),
		CreatedAt: o.CreatedAt,
		ExpiresAt: o.ExpiresAt,
	}
}

type dealDTO struct {
	ID          uuid.UUID  `json:"id"`
	OfferID     int64      `json:"offer_id"`
	BuyerID     int64      `json:"buyer_id"`
	SellerID    int64      `json:"seller_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func dealToDTO(d *Deal) dealDTO {
	return dealDTO{
		ID:          d.ID,
		OfferID:     d.OfferID,
		BuyerID:     d.BuyerID,
		SellerID:    d.SellerID,
		Status:      string(d.Status),
		CreatedAt:   d.CreatedAt,
		CompletedAt: d.CompletedAt,
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type dealErrorDTO struct {
	Error errorBody `json:"error"`
	Deal  dealDTO   `json:"deal"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Не удалось записать JSON-ответ")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// writeEngineError переводит ошибку движка в HTTP-ответ.
// Внутренние ошибки не раскрываются клиенту.
func writeEngineError(w http.ResponseWriter, err error) {
	status := common.HTTPStatus(err)
	code := common.ErrorCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Внутренняя ошибка маркетплейса")
		msg = "internal error"
	}
	if errors.Is(err, common.ErrCommissionNotConfigured) {
		log.WithError(err).Error("Не задана ставка комиссии")
	}
	writeError(w, status, code, msg)
}
