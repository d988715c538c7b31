package usecase

import (
	"context"
	"regexp"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/metrics"
	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/notify"
	"github.com/Nzyazin/arenapay/internal/core/repository"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200

	maxIdempotencyKeyLen = 128
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Deps are the collaborators shared by every usecase. Events and Metrics may be nil.
type Deps struct {
	Store   repository.Store
	Events  notify.Publisher
	Metrics *metrics.Metrics
	Log     logger.Logger
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

// committed records entries and publishes ev once the transaction that wrote them is durable.
func (d Deps) committed(ctx context.Context, ev *notify.Event, entries ...*models.LedgerEntry) {
	d.Metrics.ObserveEntries(entries...)
	if ev != nil {
		notify.Emit(ctx, d.Events, d.Log, *ev)
	}
}

func normalizeCurrency(code string) (string, error) {
	c := models.NormalizeCurrency(code)
	if !currencyPattern.MatchString(c) {
		return "", validationf("currency %q is not an ISO 4217 code", code)
	}
	return c, nil
}

func normalizePage(limit, offset int) (int, int, error) {
	if limit < 0 || offset < 0 {
		return 0, 0, validationf("limit and offset must not be negative")
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return limit, offset, nil
}
