package memory

import (
	"context"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
)

type runs struct{ *view }

func (r runs) Insert(ctx context.Context, run *models.Run) error {
	st, done, err := r.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	now := r.now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	st.runs[run.ID] = *run
	return nil
}

func (r runs) GetByID(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	run, ok := st.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &run, nil
}

func (r runs) Settle(ctx context.Context, id uuid.UUID, s models.RunSettlement) (bool, error) {
	st, done, err := r.enter(ctx)
	if err != nil {
		return false, err
	}
	defer done()

	run, ok := st.runs[id]
	if !ok || run.Status != models.RunPreparing {
		return false, nil
	}
	endedAt := s.EndedAt
	run.Status = s.Status
	run.Multiplier = s.Multiplier
	run.PayoutCents = models.Cents(s.PayoutCents)
	run.HouseFeeCents = models.Cents(s.HouseFeeCents)
	run.ResultReason = s.ResultReason
	run.EndedAt = &endedAt
	run.UpdatedAt = r.now()
	st.runs[id] = run
	return true, nil
}
