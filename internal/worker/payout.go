package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/metrics"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/pix"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
)

const PayoutName = "withdrawal_payout"

// WithdrawalPayoutWorker pays requested withdrawals through the provider and settles escrow.
type WithdrawalPayoutWorker struct {
	pixRepo  repository.PixRepository
	pix      usecase.PixUsecase
	executor pix.PayoutExecutor
	opt      Options
	budget   *failureBudget
	log      logger.Logger
	metrics  *metrics.Metrics
}

func NewWithdrawalPayoutWorker(pixRepo repository.PixRepository, uc usecase.PixUsecase, executor pix.PayoutExecutor, log logger.Logger, m *metrics.Metrics, opt *Options) *WithdrawalPayoutWorker {
	o := withDefaults(opt)
	return &WithdrawalPayoutWorker{
		pixRepo:  pixRepo,
		pix:      uc,
		executor: executor,
		opt:      o,
		budget:   newFailureBudget(PayoutName, o.MaxItemFailures, log, m),
		log:      log,
		metrics:  m,
	}
}

func (w *WithdrawalPayoutWorker) Name() string { return PayoutName }

func (w *WithdrawalPayoutWorker) RunOnce(ctx context.Context) error {
	txs, err := w.pixRepo.ListByStatus(ctx, models.PixWithdrawal, models.PixRequested, w.opt.Now().UTC(), w.budget.window(w.opt.BatchSize))
	if err != nil {
		return fmt.Errorf("list requested withdrawals: %w", err)
	}

	var failed, handled int
	for i := range txs {
		tx := &txs[i]
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.budget.isParked(tx.ID) {
			continue
		}
		if handled == w.opt.BatchSize {
			break
		}
		handled++

		if err := w.process(ctx, tx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			w.budget.fail(tx.ID, err)
			continue
		}
		w.budget.succeed(tx.ID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d withdrawals not settled", failed, handled)
	}
	return nil
}

func (w *WithdrawalPayoutWorker) process(ctx context.Context, tx *models.PixTransaction) error {
	key, _ := tx.Payload.String(models.PayloadPixKey)
	keyType, _ := tx.Payload.String(models.PayloadPixKeyType)

	receipt, err := w.executor.ExecutePayout(ctx, pix.PayoutRequest{
		TransactionID:  tx.ID,
		IdempotencyKey: tx.IdempotencyKey,
		AccountID:      tx.AccountID,
		AmountCents:    int64(tx.AmountCents),
		Currency:       tx.Currency,
		PixKey:         key,
		PixKeyType:     models.PixKeyType(keyType),
	})
	if err != nil {
		if !errors.Is(err, pix.ErrPayoutRejected) {
			// The provider may still have paid; stay REQUESTED and retry with the same key.
			return fmt.Errorf("execute payout: %w", err)
		}
		w.log.Warn("Payout rejected",
			logger.StringField("tx_id", tx.ID.String()),
			logger.ErrorField("error", err))
		if _, ferr := w.pix.FailWithdrawal(ctx, tx.ID, err.Error()); ferr != nil {
			return fmt.Errorf("fail withdrawal: %w", ferr)
		}
		w.metrics.IncItem(PayoutName, "failed_payout")
		return nil
	}

	if _, err := w.pix.CompleteWithdrawal(ctx, tx.ID, receipt); err != nil {
		if errors.Is(err, usecase.ErrLedgerInconsistency) {
			// Already PAID; nothing a retry can fix.
			w.metrics.IncItem(PayoutName, "inconsistent")
			return nil
		}
		return fmt.Errorf("complete withdrawal: %w", err)
	}
	w.metrics.IncItem(PayoutName, "paid")
	return nil
}
