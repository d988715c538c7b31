package handler

import (
	"net/http"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
	"github.com/gorilla/mux"
)

type RunHandler struct {
	usecase usecase.RunUsecase
	log     logger.Logger
}

type StartRunRequest struct {
	ArenaID    string       `json:"arena_id" validate:"required,max=64"`
	StakeCents models.Cents `json:"stake_cents" validate:"gt=0"`
	Currency   string       `json:"currency" validate:"omitempty,len=3"`
}

type StartRunResponse struct {
	Run                *models.Run `json:"run"`
	JoinToken          string      `json:"join_token"`
	JoinTokenExpiresAt time.Time   `json:"join_token_expires_at"`
}

func NewRunHandler(usecase usecase.RunUsecase, log logger.Logger) *RunHandler {
	return &RunHandler{usecase: usecase, log: log}
}

func (h *RunHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/runs", h.StartRun).Methods(http.MethodPost)
	router.HandleFunc("/runs/{id}", h.GetRun).Methods(http.MethodGet)
}

func (h *RunHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	accountID := accountFrom(r)
	var req StartRunRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithUsecaseError(w, h.log, err, logger.StringField("account_id", accountID.String()))
		return
	}

	ticket, err := h.usecase.StartRun(r.Context(), usecase.StartRunRequest{
		AccountID:  accountID,
		ArenaID:    req.ArenaID,
		StakeCents: int64(req.StakeCents),
		Currency:   req.Currency,
	})
	if err != nil {
		respondWithUsecaseError(w, h.log, err,
			logger.StringField("account_id", accountID.String()),
			logger.Int64Field("stake_cents", int64(req.StakeCents)))
		return
	}
	respondWithJSON(w, http.StatusCreated, StartRunResponse{
		Run:                ticket.Run,
		JoinToken:          ticket.JoinToken,
		JoinTokenExpiresAt: ticket.JoinTokenExpiresAt,
	})
}

func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		respondWithUsecaseError(w, h.log, err)
		return
	}
	run, err := h.usecase.GetRun(r.Context(), accountFrom(r), id)
	if err != nil {
		respondWithUsecaseError(w, h.log, err, logger.StringField("run_id", id.String()))
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}
