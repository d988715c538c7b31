package handler

import (
	"net/http"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
	"github.com/gorilla/mux"
)

// HeaderIdempotencyKey may carry the key instead of the body.
const HeaderIdempotencyKey = "Idempotency-Key"

type PixHandler struct {
	usecase usecase.PixUsecase
	log     logger.Logger
}

type DepositRequest struct {
	AmountCents    models.Cents `json:"amount_cents" validate:"gt=0"`
	Currency       string       `json:"currency" validate:"omitempty,len=3"`
	IdempotencyKey string       `json:"idempotency_key" validate:"max=128"`
}

type WithdrawalRequest struct {
	AmountCents    models.Cents `json:"amount_cents" validate:"gt=0"`
	Currency       string       `json:"currency" validate:"omitempty,len=3"`
	PixKey         string       `json:"pix_key" validate:"required,max=140"`
	PixKeyType     string       `json:"pix_key_type" validate:"required,oneof=CPF CNPJ EMAIL PHONE EVP"`
	IdempotencyKey string       `json:"idempotency_key" validate:"max=128"`
}

func NewPixHandler(usecase usecase.PixUsecase, log logger.Logger) *PixHandler {
	return &PixHandler{usecase: usecase, log: log}
}

func (h *PixHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/pix/deposits", h.CreateDeposit).Methods(http.MethodPost)
	router.HandleFunc("/pix/withdrawals", h.RequestWithdrawal).Methods(http.MethodPost)
	router.HandleFunc("/pix/transactions", h.ListTransactions).Methods(http.MethodGet)
	router.HandleFunc("/pix/transactions/{id}", h.GetTransaction).Methods(http.MethodGet)
}

func (h *PixHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	accountID := accountFrom(r)
	var req DepositRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithUsecaseError(w, h.log, err, logger.StringField("account_id", accountID.String()))
		return
	}

	tx, err := h.usecase.CreateDeposit(r.Context(), usecase.DepositRequest{
		AccountID:      accountID,
		AmountCents:    int64(req.AmountCents),
		Currency:       req.Currency,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		respondWithUsecaseError(w, h.log, err, logger.StringField("account_id", accountID.String()))
		return
	}
	respondWithJSON(w, http.StatusCreated, tx)
}

func (h *PixHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	accountID := accountFrom(r)
	var req WithdrawalRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithUsecaseError(w, h.log, err, logger.StringField("account_id", accountID.String()))
		return
	}

	tx, err := h.usecase.RequestWithdrawal(r.Context(), usecase.WithdrawalRequest{
		AccountID:      accountID,
		AmountCents:    int64(req.AmountCents),
		Currency:       req.Currency,
		PixKey:         req.PixKey,
		PixKeyType:     models.PixKeyType(req.PixKeyType),
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		respondWithUsecaseError(w, h.log, err,
			logger.StringField("account_id", accountID.String()),
			logger.Int64Field("amount_cents", int64(req.AmountCents)))
		return
	}
	respondWithJSON(w, http.StatusCreated, tx)
}

func (h *PixHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	accountID := accountFrom(r)
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		respondWithUsecaseError(w, h.log, err)
		return
	}
	tx, err := h.usecase.GetTransaction(r.Context(), accountID, id)
	if err != nil {
		respondWithUsecaseError(w, h.log, err, logger.StringField("tx_id", id.String()))
		return
	}
	respondWithJSON(w, http.StatusOK, tx)
}

func (h *PixHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := accountFrom(r)
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondWithUsecaseError(w, h.log, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		respondWithUsecaseError(w, h.log, err)
		return
	}
	txs, page, err := h.usecase.ListTransactions(r.Context(), accountID, limit, offset)
	if err != nil {
		respondWithUsecaseError(w, h.log, err, logger.StringField("account_id", accountID.String()))
		return
	}
	respondWithJSON(w, http.StatusOK, PageResponse[models.PixTransaction]{Items: txs, Pagination: page})
}

func idempotencyKey(r *http.Request, body string) string {
	if v := r.Header.Get(HeaderIdempotencyKey); v != "" {
		return v
	}
	return body
}
