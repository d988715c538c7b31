package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
	"github.com/gorilla/mux"
)

type WalletHandler struct {
	usecase usecase.WalletUsecase
	log     logger.Logger
}

func NewWalletHandler(usecase usecase.WalletUsecase, log logger.Logger) *WalletHandler {
	return &WalletHandler{usecase: usecase, log: log}
}

// RegisterRoutes expects a router that already resolved the caller account.
func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/wallet", h.GetWallet).Methods(http.MethodGet)
	router.HandleFunc("/wallet/ledger", h.ListLedger).Methods(http.MethodGet)
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	accountID := accountFrom(r)
	wallet, err := h.usecase.GetWallet(r.Context(), accountID)
	if err != nil {
		respondWithUsecaseError(w, h.log, err, logger.StringField("account_id", accountID.String()))
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}

func (h *WalletHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	accountID := accountFrom(r)
	filter, err := parseLedgerFilter(r)
	if err != nil {
		respondWithUsecaseError(w, h.log, err, logger.StringField("account_id", accountID.String()))
		return
	}

	entries, page, err := h.usecase.ListLedger(r.Context(), accountID, filter)
	if err != nil {
		respondWithUsecaseError(w, h.log, err, logger.StringField("account_id", accountID.String()))
		return
	}
	respondWithJSON(w, http.StatusOK, PageResponse[models.LedgerEntry]{Items: entries, Pagination: page})
}

// parseLedgerFilter reads ?type=A,B&from=RFC3339&to=RFC3339&limit=&offset=.
func parseLedgerFilter(r *http.Request) (models.LedgerFilter, error) {
	q := r.URL.Query()
	var filter models.LedgerFilter
	for _, raw := range q["type"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, models.EntryType(strings.ToUpper(t)))
			}
		}
	}
	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("%w: %s must be RFC3339", usecase.ErrValidation, key)
		}
		*dst = &t
	}
	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}
