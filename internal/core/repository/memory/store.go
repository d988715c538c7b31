// Package memory is an in-process implementation of repository.Store.
// A transaction works on a private copy of the state that replaces the shared state only
// on commit, so a failed transaction leaves nothing behind. Transactions are serialized
// by a single mutex.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Nzyazin/arenapay/internal/core/models"
	"github.com/Nzyazin/arenapay/internal/core/repository"
	"github.com/google/uuid"
)

type state struct {
	wallets    map[uuid.UUID]models.Wallet
	ledger     []models.LedgerEntry
	ledgerRefs map[models.LedgerRef]struct{}
	pix        map[uuid.UUID]models.PixTransaction
	pixByKey   map[string]uuid.UUID
	pixByTxid  map[string]uuid.UUID
	runs       map[uuid.UUID]models.Run
}

func newState() *state {
	return &state{
		wallets:    map[uuid.UUID]models.Wallet{},
		ledgerRefs: map[models.LedgerRef]struct{}{},
		pix:        map[uuid.UUID]models.PixTransaction{},
		pixByKey:   map[string]uuid.UUID{},
		pixByTxid:  map[string]uuid.UUID{},
		runs:       map[uuid.UUID]models.Run{},
	}
}

func (s *state) clone() *state {
	out := &state{
		wallets:    make(map[uuid.UUID]models.Wallet, len(s.wallets)),
		ledger:     append([]models.LedgerEntry(nil), s.ledger...),
		ledgerRefs: make(map[models.LedgerRef]struct{}, len(s.ledgerRefs)),
		pix:        make(map[uuid.UUID]models.PixTransaction, len(s.pix)),
		pixByKey:   make(map[string]uuid.UUID, len(s.pixByKey)),
		pixByTxid:  make(map[string]uuid.UUID, len(s.pixByTxid)),
		runs:       make(map[uuid.UUID]models.Run, len(s.runs)),
	}
	for k, v := range s.wallets {
		out.wallets[k] = v
	}
	for k := range s.ledgerRefs {
		out.ledgerRefs[k] = struct{}{}
	}
	for k, v := range s.pix {
		v.Payload = v.Payload.Clone()
		out.pix[k] = v
	}
	for k, v := range s.pixByKey {
		out.pixByKey[k] = v
	}
	for k, v := range s.pixByTxid {
		out.pixByTxid[k] = v
	}
	for k, v := range s.runs {
		out.runs[k] = v
	}
	return out
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for timestamps the caller leaves empty.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{st: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&view{store: s, tx: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Wallets() repository.WalletStore { return wallets{&view{store: s}} }
func (s *Store) Ledger() repository.LedgerJournal { return ledger{&view{store: s}} }
func (s *Store) Pix() repository.PixRepository { return pixRepo{&view{store: s}} }
func (s *Store) Runs() repository.RunRepository { return runs{&view{store: s}} }

// view is either bound to a transaction copy (tx != nil) or runs each call
// against the shared state under the store mutex.
type view struct {
	store *Store
	tx    *state
}

func (v *view) Wallets() repository.WalletStore { return wallets{v} }
func (v *view) Ledger() repository.LedgerJournal { return ledger{v} }
func (v *view) Pix() repository.PixRepository { return pixRepo{v} }
func (v *view) Runs() repository.RunRepository { return runs{v} }

func (v *view) enter(ctx context.Context) (*state, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if v.tx != nil {
		return v.tx, func() {}, nil
	}
	v.store.mu.Lock()
	return v.store.st, v.store.mu.Unlock, nil
}

func (v *view) now() time.Time {
	return v.store.now().UTC()
}
