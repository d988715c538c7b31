package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/metrics"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/Nzyazin/arenapay/internal/core/usecase"
)

const ExpirationName = "deposit_expiration"

// DepositExpirationWorker fails pending deposits whose charge can no longer be paid.
type DepositExpirationWorker struct {
	pixRepo repository.PixRepository
	pix     usecase.PixUsecase
	opt     Options
	budget  *failureBudget
	log     logger.Logger
	metrics *metrics.Metrics
}

func NewDepositExpirationWorker(pixRepo repository.PixRepository, uc usecase.PixUsecase, log logger.Logger, m *metrics.Metrics, opt *Options) *DepositExpirationWorker {
	o := withDefaults(opt)
	return &DepositExpirationWorker{
		pixRepo: pixRepo,
		pix:     uc,
		opt:     o,
		budget:  newFailureBudget(ExpirationName, o.MaxItemFailures, log, m),
		log:     log,
		metrics: m,
	}
}

func (w *DepositExpirationWorker) Name() string { return ExpirationName }

func (w *DepositExpirationWorker) RunOnce(ctx context.Context) error {
	now := w.opt.Now().UTC()
	// Nothing created after now-MinWindow can be expired yet.
	txs, err := w.pixRepo.ListByStatus(ctx, models.PixDeposit, models.PixPending, now.Add(-w.opt.MinWindow), w.budget.window(w.opt.BatchSize))
	if err != nil {
		return fmt.Errorf("list pending deposits: %w", err)
	}

	var failed, expired, handled int
	for i := range txs {
		tx := &txs[i]
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.budget.isParked(tx.ID) || now.Before(DepositDeadline(tx, w.opt.MinWindow)) {
			continue
		}
		if handled == w.opt.BatchSize {
			break
		}
		handled++

		applied, err := w.pix.ExpireDeposit(ctx, tx.ID)
		if err != nil {
			failed++
			w.budget.fail(tx.ID, err)
			continue
		}
		w.budget.succeed(tx.ID)
		if applied {
			expired++
			w.metrics.IncItem(ExpirationName, "expired")
		}
	}
	if expired > 0 {
		w.log.Info("Deposits expired", logger.IntField("count", expired))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deposits not expired", failed, handled)
	}
	return nil
}

// DepositDeadline is when a pending deposit expires: the provider expiry, but never
// sooner than createdAt plus minWindow.
func DepositDeadline(tx *models.PixTransaction, minWindow time.Duration) time.Time {
	floor := tx.CreatedAt.Add(minWindow)
	if exp, ok := tx.ExpiresAt(); ok && exp.After(floor) {
		return exp
	}
	return floor
}
