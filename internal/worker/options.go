package worker

import (
	"time"

	"github.com/Nzyazin/arenapay/internal/core/logger"
	"github.com/Nzyazin/arenapay/internal/core/metrics"
	"github.com/google/uuid"
)

type Options struct {
	BatchSize int           // default: 20
	Lookback  time.Duration // default: 24h, reconciliation only
	// MinWindow is the shortest life of a pending deposit. default: 30m
	MinWindow time.Duration
	// MaxItemFailures parks an item after that many consecutive failures. 0 retries forever.
	MaxItemFailures int
	Now             func() time.Time
}

func withDefaults(opt *Options) Options {
	o := Options{
		BatchSize: 20,
		Lookback:  24 * time.Hour,
		MinWindow: 30 * time.Minute,
		Now:       time.Now,
	}
	if opt != nil {
		if opt.BatchSize > 0 {
			o.BatchSize = opt.BatchSize
		}
		if opt.Lookback > 0 {
			o.Lookback = opt.Lookback
		}
		if opt.MinWindow > 0 {
			o.MinWindow = opt.MinWindow
		}
		if opt.MaxItemFailures > 0 {
			o.MaxItemFailures = opt.MaxItemFailures
		}
		if opt.Now != nil {
			o.Now = opt.Now
		}
	}
	return o
}

// failureBudget counts consecutive failures per item. Jobs run one pass at a time,
// so it needs no locking.
type failureBudget struct {
	worker  string
	max     int
	counts  map[uuid.UUID]int
	parked  map[uuid.UUID]struct{}
	log     logger.Logger
	metrics *metrics.Metrics
}

func newFailureBudget(worker string, limit int, log logger.Logger, m *metrics.Metrics) *failureBudget {
	return &failureBudget{
		worker:  worker,
		max:     limit,
		counts:  make(map[uuid.UUID]int),
		parked:  make(map[uuid.UUID]struct{}),
		log:     log,
		metrics: m,
	}
}

func (b *failureBudget) isParked(id uuid.UUID) bool {
	_, ok := b.parked[id]
	return ok
}

func (b *failureBudget) succeed(id uuid.UUID) {
	delete(b.counts, id)
}

func (b *failureBudget) fail(id uuid.UUID, err error) {
	b.counts[id]++
	n := b.counts[id]
	b.log.Error("Worker item failed",
		logger.StringField("worker", b.worker),
		logger.StringField("tx_id", id.String()),
		logger.IntField("failures", n),
		logger.ErrorField("error", err))
	b.metrics.IncItem(b.worker, "failed")
	if b.max > 0 && n >= b.max {
		b.parked[id] = struct{}{}
		delete(b.counts, id)
		b.log.Error("Worker item parked",
			logger.StringField("worker", b.worker),
			logger.StringField("tx_id", id.String()),
			logger.IntField("failures", n))
		b.metrics.SetParked(b.worker, len(b.parked))
	}
}

// window is how many rows to fetch so parked items cannot starve a batch.
func (b *failureBudget) window(batch int) int {
	return batch + len(b.parked)
}
