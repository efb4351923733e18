// Package memory implements the order, user and API key repositories in
// process memory. It backs local development and tests.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/xenking/storefront-orders/internal/domain/auth"
	"github.com/xenking/storefront-orders/internal/domain/order"
	"github.com/xenking/storefront-orders/internal/domain/user"
)

var (
	_ order.Store      = (*Store)(nil)
	_ order.Repository = orderRepository{}
	_ user.Repository  = userRepository{}
	_ auth.Repository  = apiKeyRepository{}
)

type state struct {
	orders  map[string]order.Order
	users   map[string]user.User
	apiKeys map[string]auth.APIKeyInfo
}

func (st *state) clone() state {
	out := state{
		orders:  make(map[string]order.Order, len(st.orders)),
		users:   make(map[string]user.User, len(st.users)),
		apiKeys: maps.Clone(st.apiKeys),
	}
	for id, o := range st.orders {
		out.orders[id] = o.Clone()
	}
	for id, u := range st.users {
		u.Cart = u.Cart.Clone()
		out.users[id] = u
	}
	return out
}

type db struct {
	txMu sync.Mutex

	mu sync.RWMutex
	st state
}

// Store holds all collections behind one lock. Writes are serialized with
// transactions, and a failed transaction rolls back by restoring the
// snapshot taken when it began. Readers may observe writes of an open
// transaction.
type Store struct {
	db *db
	// tx is set on the view handed to an InTx callback; it already holds
	// txMu.
	tx bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{db: &db{st: state{
		orders:  make(map[string]order.Order),
		users:   make(map[string]user.User),
		apiKeys: make(map[string]auth.APIKeyInfo),
	}}}
}

func (s *Store) Orders() order.Repository { return orderRepository{s} }

func (s *Store) Users() user.Repository { return userRepository{s} }

// APIKeys returns the API key repository.
func (s *Store) APIKeys() auth.Repository { return apiKeyRepository{s} }

// InTx runs fn while holding the transaction lock. Nested calls join the
// open transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Store) error) error {
	if s.tx {
		return fn(ctx, s)
	}

	s.db.txMu.Lock()
	defer s.db.txMu.Unlock()

	s.db.mu.RLock()
	snapshot := s.db.st.clone()
	s.db.mu.RUnlock()

	if err := fn(ctx, &Store{db: s.db, tx: true}); err != nil {
		s.db.mu.Lock()
		s.db.st = snapshot
		s.db.mu.Unlock()
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// read runs fn under the read lock.
func (s *Store) read(fn func(st *state) error) error {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return fn(&s.db.st)
}

// write runs fn under the write lock. Outside a transaction it first waits
// for any open transaction, so a rollback cannot discard the write.
func (s *Store) write(fn func(st *state) error) error {
	if !s.tx {
		s.db.txMu.Lock()
		defer s.db.txMu.Unlock()
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return fn(&s.db.st)
}

type orderRepository struct{ s *Store }

func (r orderRepository) Create(_ context.Context, o *order.Order) error {
	return r.s.write(func(st *state) error {
		st.orders[o.ID] = o.Clone()
		return nil
	})
}

func (r orderRepository) Get(_ context.Context, id string) (*order.Order, error) {
	var out order.Order
	err := r.s.read(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		out = o.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetForUpdate is Get: InTx already serializes writers.
func (r orderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.Get(ctx, id)
}

func (r orderRepository) List(_ context.Context, f order.Filter) ([]order.Order, error) {
	var out []order.Order
	_ = r.s.read(func(st *state) error {
		out = make([]order.Order, 0, len(st.orders))
		for _, o := range st.orders {
			if f.Match(o) {
				out = append(out, o.Clone())
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b order.Order) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r orderRepository) update(id string, fn func(o *order.Order)) error {
	return r.s.write(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return order.ErrNotFound
		}
		fn(&o)
		st.orders[id] = o
		return nil
	})
}

func (r orderRepository) MarkPaid(_ context.Context, id string) error {
	return r.update(id, func(o *order.Order) { o.Payment = true })
}

func (r orderRepository) SetExternalRef(_ context.Context, id, ref string) error {
	return r.update(id, func(o *order.Order) { o.ExternalRef = ref })
}

func (r orderRepository) UpdateStatus(_ context.Context, id string, status order.Status) error {
	return r.update(id, func(o *order.Order) { o.Status = status })
}

func (r orderRepository) Delete(_ context.Context, id string) error {
	return r.s.write(func(st *state) error {
		if _, ok := st.orders[id]; !ok {
			return order.ErrNotFound
		}
		delete(st.orders, id)
		return nil
	})
}

type userRepository struct{ s *Store }

func (r userRepository) Get(_ context.Context, id string) (*user.User, error) {
	var out user.User
	err := r.s.read(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return user.ErrNotFound
		}
		u.Cart = u.Cart.Clone()
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r userRepository) Create(_ context.Context, u *user.User) error {
	stored := *u
	stored.Cart = u.Cart.Clone()
	return r.s.write(func(st *state) error {
		st.users[u.ID] = stored
		return nil
	})
}

func (r userRepository) ClearCart(_ context.Context, id string) error {
	return r.s.write(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return user.ErrNotFound
		}
		u.Cart = user.Cart{}
		st.users[id] = u
		return nil
	})
}

type apiKeyRepository struct{ s *Store }

func (r apiKeyRepository) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	var out auth.APIKeyInfo
	err := r.s.read(func(st *state) error {
		info, ok := st.apiKeys[hash]
		if !ok {
			return auth.ErrKeyNotFound
		}
		info.Scopes = slices.Clone(info.Scopes)
		out = info
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r apiKeyRepository) Upsert(_ context.Context, info auth.APIKeyInfo) error {
	info.Scopes = slices.Clone(info.Scopes)
	return r.s.write(func(st *state) error {
		for hash, existing := range st.apiKeys {
			if existing.ID == info.ID {
				delete(st.apiKeys, hash)
			}
		}
		st.apiKeys[info.KeyHash] = info
		return nil
	})
}
