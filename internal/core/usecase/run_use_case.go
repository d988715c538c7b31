package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/jointoken"
	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/notify"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxArenaIDLen = 64

type RunUsecase interface {
	StartRun(ctx context.Context, req StartRunRequest) (*RunTicket, error)
	EliminateRun(ctx context.Context, ev Elimination) (*models.Run, error)
	CashoutRun(ctx context.Context, ev CashoutRequest) (*models.Run, error)
	GetRun(ctx context.Context, accountID, runID uuid.UUID) (*models.Run, error)
}

// RunRules bound stakes and set the house fee.
type RunRules struct {
	MinStakeCents int64
	MaxStakeCents int64
	HouseFeeBps   int64
}

type StartRunRequest struct {
	AccountID  uuid.UUID
	ArenaID    string
	StakeCents int64
	Currency   string
}

// RunTicket is a funded run plus the credential to join its game session.
type RunTicket struct {
	Run                *models.Run
	JoinToken          string
	JoinTokenExpiresAt time.Time
}

type Elimination struct {
	RunID      uuid.UUID
	Reason     string
	SizeScore  *float64
	Multiplier *decimal.Decimal
}

type CashoutRequest struct {
	RunID      uuid.UUID
	Multiplier decimal.Decimal
	SizeScore  *float64
}

type runUsecase struct {
	Deps
	rules  RunRules
	tokens *jointoken.Issuer
}

func NewRunUsecase(deps Deps, rules RunRules, tokens *jointoken.Issuer) RunUsecase {
	return &runUsecase{Deps: deps, rules: rules, tokens: tokens}
}

func (uc *runUsecase) StartRun(ctx context.Context, req StartRunRequest) (*RunTicket, error) {
	if req.AccountID == uuid.Nil {
		return nil, validationf("account id is required")
	}
	if req.StakeCents <= 0 {
		return nil, validationf("stake must be a positive integer")
	}
	if req.StakeCents < uc.rules.MinStakeCents || req.StakeCents > uc.rules.MaxStakeCents {
		return nil, validationf("stake %d outside [%d, %d]", req.StakeCents, uc.rules.MinStakeCents, uc.rules.MaxStakeCents)
	}
	if req.ArenaID == "" || len(req.ArenaID) > maxArenaIDLen || strings.Contains(req.ArenaID, "|") {
		return nil, validationf("arena id is required, at most %d chars and without '|'", maxArenaIDLen)
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	run := &models.Run{
		ID:         uuid.New(),
		AccountID:  req.AccountID,
		ArenaID:    req.ArenaID,
		StakeCents: models.Cents(req.StakeCents),
		Status:     models.RunPreparing,
	}
	var entry *models.LedgerEntry
	err = uc.Store.WithinTx(ctx, func(t repository.Tx) error {
		if _, err := walletIn(ctx, t.Wallets(), req.AccountID, currency); err != nil {
			return err
		}
		wallet, err := moveGuarded(ctx, t.Wallets(), req.AccountID, models.BalanceDelta{
			models.BalanceAvailable: -req.StakeCents,
			models.BalanceInGame:    req.StakeCents,
		}, models.BalanceGuard{models.BalanceAvailable: req.StakeCents})
		if err != nil {
			return err
		}
		if err := t.Runs().Insert(ctx, run); err != nil {
			return err
		}
		entry = newEntry(wallet, models.EntryStakeReserved, models.DirectionDebit, req.StakeCents, models.ReferenceRun, run.ID.String())
		entry.Metadata["arena_id"] = req.ArenaID
		return appendOnce(ctx, t.Ledger(), entry)
	})
	if err != nil {
		var funds *FundsError
		if errors.As(err, &funds) {
			uc.Log.Warn("Stake rejected",
				logger.StringField("account_id", req.AccountID.String()),
				logger.Int64Field("stake_cents", req.StakeCents))
			return nil, err
		}
		if errors.Is(err, ErrValidation) {
			uc.Log.Warn("Stake rejected",
				logger.StringField("account_id", req.AccountID.String()),
				logger.ErrorField("error", err))
			return nil, err
		}
		uc.Log.Error("Run start failed",
			logger.StringField("account_id", req.AccountID.String()),
			logger.ErrorField("error", err))
		return nil, fmt.Errorf("start run: %w", err)
	}

	uc.Log.Info("Run started",
		logger.StringField("run_id", run.ID.String()),
		logger.StringField("account_id", req.AccountID.String()),
		logger.Int64Field("stake_cents", req.StakeCents))
	uc.committed(ctx, runEvent(notify.RunStarted, run, req.StakeCents), entry)

	token, expiresAt := uc.tokens.Issue(run.ID, run.AccountID, run.ArenaID)
	return &RunTicket{Run: run, JoinToken: token, JoinTokenExpiresAt: expiresAt}, nil
}

func (uc *runUsecase) EliminateRun(ctx context.Context, ev Elimination) (*models.Run, error) {
	run, err := uc.Store.Runs().GetByID(ctx, ev.RunID)
	if err != nil {
		return nil, notFound("run", err)
	}
	if run.Status.Terminal() {
		return run, nil
	}

	reason := ev.Reason
	if reason == "" {
		reason = "eliminated"
	}
	settlement := models.RunSettlement{
		Status:       models.RunEliminated,
		ResultReason: &reason,
		EndedAt:      uc.now(),
	}
	entries, current, err := uc.settle(ctx, run.ID, settlement, func(t repository.Tx, run *models.Run) ([]*models.LedgerEntry, error) {
		stake := int64(run.StakeCents)
		wallet, err := uc.releaseEscrow(ctx, t, run, models.BalanceDelta{models.BalanceInGame: -stake})
		if err != nil {
			return nil, err
		}
		entry := newEntry(wallet, models.EntryStakeLost, models.DirectionDebit, stake, models.ReferenceRun, run.ID.String())
		entry.Metadata["reason"] = reason
		if ev.SizeScore != nil {
			entry.Metadata["size_score"] = *ev.SizeScore
		}
		if ev.Multiplier != nil {
			entry.Metadata["multiplier"] = ev.Multiplier.String()
		}
		return []*models.LedgerEntry{entry}, appendOnce(ctx, t.Ledger(), entry)
	})
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		uc.Log.Info("Run eliminated",
			logger.StringField("run_id", run.ID.String()),
			logger.StringField("reason", reason))
		uc.committed(ctx, runEvent(notify.RunSettled, current, -int64(current.StakeCents)), entries...)
	}
	return current, nil
}

func (uc *runUsecase) CashoutRun(ctx context.Context, ev CashoutRequest) (*models.Run, error) {
	run, err := uc.Store.Runs().GetByID(ctx, ev.RunID)
	if err != nil {
		return nil, notFound("run", err)
	}
	if run.Status.Terminal() {
		return run, nil
	}

	ev.Multiplier = ev.Multiplier.Round(MultiplierPlaces)
	split, err := ComputeCashout(int64(run.StakeCents), ev.Multiplier, uc.rules.HouseFeeBps)
	if err != nil {
		uc.Log.Warn("Cashout rejected",
			logger.StringField("run_id", run.ID.String()),
			logger.StringField("multiplier", ev.Multiplier.String()),
			logger.ErrorField("error", err))
		return nil, err
	}

	settlement := models.RunSettlement{
		Status:        models.RunCashedOut,
		Multiplier:    decimal.NewNullDecimal(ev.Multiplier),
		PayoutCents:   split.PayoutCents,
		HouseFeeCents: split.FeeCents,
		EndedAt:       uc.now(),
	}
	entries, current, err := uc.settle(ctx, run.ID, settlement, func(t repository.Tx, run *models.Run) ([]*models.LedgerEntry, error) {
		wallet, err := uc.releaseEscrow(ctx, t, run, models.BalanceDelta{
			models.BalanceInGame:    -int64(run.StakeCents),
			models.BalanceAvailable: split.PayoutCents,
		})
		if err != nil {
			return nil, err
		}
		prize := newEntry(wallet, models.EntryPrize, models.DirectionCredit, split.PrizeCents, models.ReferenceRun, run.ID.String())
		prize.Metadata["multiplier"] = ev.Multiplier.String()
		prize.Metadata["multiplier_bps"] = strconv.FormatInt(split.MultiplierBps, 10)
		if ev.SizeScore != nil {
			prize.Metadata["size_score"] = *ev.SizeScore
		}
		if err := appendOnce(ctx, t.Ledger(), prize); err != nil {
			return nil, err
		}
		entries := []*models.LedgerEntry{prize}
		if split.FeeCents > 0 {
			fee := newEntry(wallet, models.EntryHouseFee, models.DirectionDebit, split.FeeCents, models.ReferenceRun, run.ID.String())
			fee.Metadata["fee_bps"] = strconv.FormatInt(uc.rules.HouseFeeBps, 10)
			if err := appendOnce(ctx, t.Ledger(), fee); err != nil {
				return nil, err
			}
			entries = append(entries, fee)
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		uc.Log.Info("Run cashed out",
			logger.StringField("run_id", run.ID.String()),
			logger.Int64Field("prize_cents", split.PrizeCents),
			logger.Int64Field("fee_cents", split.FeeCents),
			logger.Int64Field("payout_cents", split.PayoutCents))
		uc.committed(ctx, runEvent(notify.RunSettled, current, split.PayoutCents), entries...)
	}
	return current, nil
}

type bookFunc func(t repository.Tx, run *models.Run) ([]*models.LedgerEntry, error)

// settle moves the run to its terminal status and books the money in one transaction.
// A run settled concurrently is returned as stored with no entries.
func (uc *runUsecase) settle(ctx context.Context, runID uuid.UUID, s models.RunSettlement, book bookFunc) ([]*models.LedgerEntry, *models.Run, error) {
	var (
		entries []*models.LedgerEntry
		current *models.Run
	)
	err := uc.Store.WithinTx(ctx, func(t repository.Tx) error {
		applied, err := t.Runs().Settle(ctx, runID, s)
		if err != nil {
			return err
		}
		if applied {
			run, err := t.Runs().GetByID(ctx, runID)
			if err != nil {
				return err
			}
			if entries, err = book(t, run); err != nil {
				return err
			}
		}
		current, err = t.Runs().GetByID(ctx, runID)
		return err
	})
	if err != nil {
		uc.Log.Error("Run settlement failed",
			logger.StringField("run_id", runID.String()),
			logger.StringField("status", string(s.Status)),
			logger.ErrorField("error", err))
		return nil, nil, fmt.Errorf("settle run: %w", err)
	}
	return entries, current, nil
}

// releaseEscrow applies delta guarded on the stake still being in game. A failed guard
// means escrow was lost and is never a funds problem of the player.
func (uc *runUsecase) releaseEscrow(ctx context.Context, t repository.Tx, run *models.Run, delta models.BalanceDelta) (*models.Wallet, error) {
	stake := int64(run.StakeCents)
	wallet, err := moveGuarded(ctx, t.Wallets(), run.AccountID, delta, models.BalanceGuard{models.BalanceInGame: stake})
	var funds *FundsError
	if errors.As(err, &funds) {
		return nil, fmt.Errorf("%w: in-game balance below stake %d of run %s", ErrLedgerInconsistency, stake, run.ID)
	}
	return wallet, err
}

func (uc *runUsecase) GetRun(ctx context.Context, accountID, runID uuid.UUID) (*models.Run, error) {
	run, err := uc.Store.Runs().GetByID(ctx, runID)
	if err != nil {
		return nil, notFound("run", err)
	}
	if run.AccountID != accountID {
		return nil, fmt.Errorf("%w: run", ErrNotFound)
	}
	return run, nil
}

func runEvent(typ string, run *models.Run, amount int64) *notify.Event {
	return &notify.Event{
		Type:        typ,
		AccountID:   run.AccountID,
		ReferenceID: run.ID.String(),
		Status:      string(run.Status),
		AmountCents: amount,
	}
}
