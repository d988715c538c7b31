package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/runevent"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const HeaderWebhookToken = "x-webhook-token"

const (
	pixStatusConfirmed = "CONFIRMED"
	pixStatusFailed    = "FAILED"
)

// PixWebhookRequest is the provider notification for a charge.
type PixWebhookRequest struct {
	Txid        string       `json:"txid" validate:"required,max=64"`
	E2EID       string       `json:"e2eId" validate:"max=64"`
	AmountCents models.Cents `json:"amountCents" validate:"gt=0"`
	Currency    string       `json:"currency" validate:"omitempty,len=3"`
	Status      string       `json:"status" validate:"omitempty,oneof=CONFIRMED FAILED"`
	Reason      string       `json:"reason" validate:"max=128"`
}

type WebhookHandler struct {
	pix      usecase.PixUsecase
	runs     usecase.RunUsecase
	verifier *runevent.Verifier
	log      logger.Logger
}

func NewWebhookHandler(pix usecase.PixUsecase, runs usecase.RunUsecase, verifier *runevent.Verifier, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{pix: pix, runs: runs, verifier: verifier, log: log}
}

// RegisterRoutes mounts the provider and game server webhooks. pixGuard authenticates
// the provider; run events carry their own signature.
func (h *WebhookHandler) RegisterRoutes(router *mux.Router, pixGuard func(http.Handler) http.Handler) {
	router.Handle("/pix", pixGuard(http.HandlerFunc(h.PixNotification))).Methods(http.MethodPost)
	router.HandleFunc("/run-events/{kind}", h.RunEvent).Methods(http.MethodPost)
}

func (h *WebhookHandler) PixNotification(w http.ResponseWriter, r *http.Request) {
	var req PixWebhookRequest
	if err := decodeRequest(w, r, &req); err != nil {
		respondWithUsecaseError(w, h.log, err)
		return
	}

	var (
		tx  *models.PixTransaction
		err error
	)
	if req.Status == pixStatusFailed {
		tx, err = h.pix.FailDeposit(r.Context(), req.Txid, req.Reason)
	} else {
		tx, err = h.pix.ConfirmDeposit(r.Context(), usecase.DepositConfirmation{
			Txid:        req.Txid,
			E2EID:       req.E2EID,
			AmountCents: int64(req.AmountCents),
			Currency:    req.Currency,
		})
	}
	if err != nil {
		respondWithUsecaseError(w, h.log, err, logger.StringField("txid", req.Txid))
		return
	}
	respondWithJSON(w, http.StatusOK, tx)
}

func (h *WebhookHandler) RunEvent(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	if kind != runevent.KindEliminated && kind != runevent.KindCashout {
		respondWithError(w, http.StatusNotFound, "unknown run event", usecase.KindNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "unreadable body", usecase.KindValidation)
		return
	}
	nonce := r.Header.Get(runevent.HeaderNonce)
	err = h.verifier.Verify(r.Context(), runevent.Headers{
		Timestamp: r.Header.Get(runevent.HeaderTimestamp),
		Nonce:     nonce,
		Signature: r.Header.Get(runevent.HeaderSignature),
	}, body)
	if err != nil {
		switch {
		case errors.Is(err, runevent.ErrReplayed):
			h.log.Warn("Run event replay rejected", logger.StringField("kind", kind))
		case runevent.IsRejection(err):
			h.log.Warn("Run event rejected", logger.StringField("kind", kind), logger.ErrorField("error", err))
		default:
			h.log.Error("Run event verification failed", logger.StringField("kind", kind), logger.ErrorField("error", err))
			respondWithError(w, http.StatusInternalServerError, "internal server error", usecase.KindInternal)
			return
		}
		respondWithError(w, http.StatusUnauthorized, "invalid run event signature", usecase.KindValidation)
		return
	}

	var run *models.Run
	switch kind {
	case runevent.KindEliminated:
		var ev runevent.EliminatedEvent
		if err := runevent.Decode(body, &ev); err != nil {
			respondWithUsecaseError(w, h.log, fmt.Errorf("%w: %v", usecase.ErrValidation, err))
			return
		}
		run, err = h.runs.EliminateRun(r.Context(), usecase.Elimination{
			RunID:      uuid.MustParse(ev.RunID),
			Reason:     ev.Reason,
			SizeScore:  ev.SizeScore,
			Multiplier: ev.Multiplier,
		})
	case runevent.KindCashout:
		var ev runevent.CashoutEvent
		if err := runevent.Decode(body, &ev); err != nil {
			respondWithUsecaseError(w, h.log, fmt.Errorf("%w: %v", usecase.ErrValidation, err))
			return
		}
		run, err = h.runs.CashoutRun(r.Context(), usecase.CashoutRequest{
			RunID:      uuid.MustParse(ev.RunID),
			Multiplier: ev.Multiplier,
			SizeScore:  ev.SizeScore,
		})
	}
	if err != nil {
		if usecase.KindOf(err) == usecase.KindInternal {
			if relErr := h.verifier.Release(r.Context(), nonce); relErr != nil {
				h.log.Error("Run event nonce kept", logger.StringField("kind", kind), logger.ErrorField("error", relErr))
			}
		}
		respondWithUsecaseError(w, h.log, err, logger.StringField("kind", kind))
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}
