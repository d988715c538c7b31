package worker

import (
	"context"
	"fmt"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/metrics"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
)

const ReconciliationName = "reconciliation"

// ReconciliationWorker books confirmed deposits whose DEPOSIT entry never landed.
type ReconciliationWorker struct {
	pixRepo repository.PixRepository
	pix     usecase.PixUsecase
	opt     Options
	budget  *failureBudget
	log     logger.Logger
	metrics *metrics.Metrics
}

func NewReconciliationWorker(pixRepo repository.PixRepository, pix usecase.PixUsecase, log logger.Logger, m *metrics.Metrics, opt *Options) *ReconciliationWorker {
	o := withDefaults(opt)
	return &ReconciliationWorker{
		pixRepo: pixRepo,
		pix:     pix,
		opt:     o,
		budget:  newFailureBudget(ReconciliationName, o.MaxItemFailures, log, m),
		log:     log,
		metrics: m,
	}
}

func (w *ReconciliationWorker) Name() string { return ReconciliationName }

func (w *ReconciliationWorker) RunOnce(ctx context.Context) error {
	since := w.opt.Now().UTC().Add(-w.opt.Lookback)
	txs, err := w.pixRepo.ListConfirmedDepositsMissingLedger(ctx, since, w.budget.window(w.opt.BatchSize))
	if err != nil {
		return fmt.Errorf("list unbooked deposits: %w", err)
	}

	var failed, handled int
	for _, tx := range txs {
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

		repaired, err := w.pix.RepairDeposit(ctx, tx.ID)
		if err != nil {
			failed++
			w.budget.fail(tx.ID, err)
			continue
		}
		w.budget.succeed(tx.ID)
		if repaired {
			w.metrics.IncItem(ReconciliationName, "repaired")
		} else {
			w.metrics.IncItem(ReconciliationName, "skipped")
		}
	}
	if handled > 0 {
		w.log.Info("Reconciliation pass done",
			logger.IntField("candidates", handled),
			logger.IntField("failed", failed))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deposits not repaired", failed, handled)
	}
	return nil
}
