package handler

import (
	"net/http"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const HeaderAdminToken = "x-admin-token"

type AdminHandler struct {
	wallets usecase.WalletUsecase
	log     logger.Logger
}

type AdjustmentRequest struct {
	AccountID  string       `json:"account_id" validate:"required,uuid"`
	DeltaCents models.Cents `json:"delta_cents" validate:"ne=0"`
	Currency   string       `json:"currency" validate:"omitempty,len=3"`
	Reason     string       `json:"reason" validate:"required,max=256"`
	AdminRef   string       `json:"admin_ref" validate:"required,max=128"`
}

func NewAdminHandler(wallets usecase.WalletUsecase, log logger.Logger) *AdminHandler {
	return &AdminHandler{wallets: wallets, log: log}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/adjustments", h.Adjust).Methods(http.MethodPost)
}

func (h *AdminHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithUsecaseError(w, h.log, err)
		return
	}

	wallet, err := h.wallets.AdminAdjust(r.Context(), usecase.AdminAdjustment{
		AccountID:  uuid.MustParse(req.AccountID),
		DeltaCents: int64(req.DeltaCents),
		Currency:   req.Currency,
		Reason:     req.Reason,
		AdminRef:   req.AdminRef,
	})
	if err != nil {
		respondWithUsecaseError(w, h.log, err,
			logger.StringField("account_id", req.AccountID),
			logger.StringField("admin_ref", req.AdminRef))
		return
	}
	respondWithJSON(w, http.StatusOK, wallet)
}
