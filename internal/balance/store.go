// Package balance implements the per-(user, asset) balance ledger: the
// available/locked split that backs order locking, trade settlement, and
// deposit/withdrawal. Every mutation pairs a debit with a credit except
// the two external-boundary operations, CreditAvailable and
// DebitAvailable.
package balance

import (
	"fmt"
	"sort"
	"sync"

	"github.com/abdoElHodaky/tradSys/internal/decimal"
	"go.uber.org/zap"
)

// Asset is an opaque, exact-match asset identifier ("SOL", "USDT").
type Asset string

// Balance is a read-only snapshot of a user's holdings in one asset.
type Balance struct {
	UserID    string
	Asset     Asset
	Available decimal.Decimal
	Locked    decimal.Decimal
}

type key struct {
	user  string
	asset Asset
}

type entry struct {
	mu        sync.Mutex
	available decimal.Decimal
	locked    decimal.Decimal
}

// Store is the striped-lock balance ledger shared across every pair loop
// in the engine (see internal/engine). Each (user, asset) pair has its
// own mutex; multi-key operations such as TransferLocked always acquire
// locks in a canonical sorted order to avoid deadlock, mirroring the
// teacher's per-resource sync.RWMutex idiom in pkg/matching/engine.go.
type Store struct {
	mu      sync.RWMutex
	entries map[key]*entry
	logger  *zap.Logger
}

// New creates an empty balance store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{entries: make(map[key]*entry), logger: logger}
}

func (s *Store) getOrCreate(user string, asset Asset) *entry {
	k := key{user, asset}

	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.entries[k]
	if !ok {
		e = &entry{available: decimal.Zero, locked: decimal.Zero}
		s.entries[k] = e
	}
	return e
}

// ErrInsufficientAvailable is returned when a debit or lock would drive
// available below zero.
var ErrInsufficientAvailable = fmt.Errorf("balance: insufficient available")

// ErrInsufficientLocked is returned when an unlock or transfer finds less
// than required locked. This signals an invariant breach upstream and is
// fatal to the calling pair loop (see internal/engine).
var ErrInsufficientLocked = fmt.Errorf("balance: insufficient locked")

// CreditAvailable increases available by amount. amount must be >= 0;
// this is an external-boundary operation (deposit) and is the only
// credit path that is not paired with a debit elsewhere in the ledger.
func (s *Store) CreditAvailable(user string, asset Asset, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("balance: credit amount must be non-negative")
	}
	e := s.getOrCreate(user, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = e.available.Add(amount)
	return nil
}

// DebitAvailable decreases available by amount (withdrawal). Fails with
// ErrInsufficientAvailable unless available >= amount - epsilon.
func (s *Store) DebitAvailable(user string, asset Asset, amount decimal.Decimal) error {
	e := s.getOrCreate(user, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !decimal.IsNonNegativeAfterEpsilon(e.available, amount) {
		return ErrInsufficientAvailable
	}
	e.available = e.available.Sub(amount)
	if e.available.IsNegative() {
		e.available = decimal.Zero
	}
	return nil
}

// Lock atomically moves amount from available to locked.
func (s *Store) Lock(user string, asset Asset, amount decimal.Decimal) error {
	e := s.getOrCreate(user, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !decimal.IsNonNegativeAfterEpsilon(e.available, amount) {
		return ErrInsufficientAvailable
	}
	e.available = e.available.Sub(amount)
	e.locked = e.locked.Add(amount)
	return nil
}

// Unlock atomically moves amount from locked back to available.
func (s *Store) Unlock(user string, asset Asset, amount decimal.Decimal) error {
	e := s.getOrCreate(user, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !decimal.IsNonNegativeAfterEpsilon(e.locked, amount) {
		return ErrInsufficientLocked
	}
	e.locked = e.locked.Sub(amount)
	e.available = e.available.Add(amount)
	return nil
}

// TransferLocked atomically moves amount from from's locked balance to
// to's available balance in the given asset. Both keys are locked in
// canonical (user,asset) sorted order to avoid deadlock with a
// concurrent reverse transfer.
func (s *Store) TransferLocked(from, to string, asset Asset, amount decimal.Decimal) error {
	fromEntry := s.getOrCreate(from, asset)
	toEntry := s.getOrCreate(to, asset)

	if from == to {
		fromEntry.mu.Lock()
		defer fromEntry.mu.Unlock()
		if !decimal.IsNonNegativeAfterEpsilon(fromEntry.locked, amount) {
			return ErrInsufficientLocked
		}
		fromEntry.locked = fromEntry.locked.Sub(amount)
		fromEntry.available = fromEntry.available.Add(amount)
		return nil
	}

	ordered := []struct {
		k string
		e *entry
	}{{from, fromEntry}, {to, toEntry}}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].k < ordered[j].k })
	ordered[0].e.mu.Lock()
	defer ordered[0].e.mu.Unlock()
	ordered[1].e.mu.Lock()
	defer ordered[1].e.mu.Unlock()

	if !decimal.IsNonNegativeAfterEpsilon(fromEntry.locked, amount) {
		return ErrInsufficientLocked
	}
	fromEntry.locked = fromEntry.locked.Sub(amount)
	toEntry.available = toEntry.available.Add(amount)
	return nil
}

// Set administratively overwrites a balance. Used only by tests and by
// bootstrap replay from the durable user_balances table (see §6
// Recovery protocol): the durable balance already reflects every open
// order's lock, so replay skips Lock entirely and calls Set directly.
func (s *Store) Set(user string, asset Asset, available, locked decimal.Decimal) {
	e := s.getOrCreate(user, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = available
	e.locked = locked
}

// SyncAvailable applies an externally computed delta (which may be
// negative) to available. It must not drive available below zero; per
// the open question in spec.md §9 this is treated as a hard error rather
// than a silent floor.
func (s *Store) SyncAvailable(user string, asset Asset, delta decimal.Decimal) error {
	e := s.getOrCreate(user, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.available.Add(delta)
	if next.IsNegative() {
		return ErrInsufficientAvailable
	}
	e.available = next
	return nil
}

// Snapshot returns a read-only copy of user's balance in asset.
func (s *Store) Snapshot(user string, asset Asset) Balance {
	e := s.getOrCreate(user, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	return Balance{UserID: user, Asset: asset, Available: e.available, Locked: e.locked}
}

// SnapshotUser returns every balance currently tracked for user.
func (s *Store) SnapshotUser(user string) []Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Balance
	for k, e := range s.entries {
		if k.user != user {
			continue
		}
		e.mu.Lock()
		out = append(out, Balance{UserID: k.user, Asset: k.asset, Available: e.available, Locked: e.locked})
		e.mu.Unlock()
	}
	return out
}
