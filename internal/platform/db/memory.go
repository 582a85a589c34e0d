package db

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory stores that can roll back to the
// state they had when Snapshot was called.
type Snapshotter interface {
	Snapshot() (restore func())
}

type memTxKey struct{}

// memTx tracks the keyed locks held by one in-memory transaction.
type memTx struct {
	mu      sync.Mutex
	held    map[*KeyedLocks]map[string]bool
	release []func()
}

func beginMemTx(ctx context.Context) (context.Context, *memTx) {
	tx := &memTx{held: make(map[*KeyedLocks]map[string]bool)}
	return context.WithValue(ctx, memTxKey{}, tx), tx
}

func (tx *memTx) end() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i := len(tx.release) - 1; i >= 0; i-- {
		tx.release[i]()
	}
	tx.release = nil
}

func inMemTx(ctx context.Context) bool {
	_, ok := ctx.Value(memTxKey{}).(*memTx)
	return ok
}

// MemoryTransactor is a Transactor for in-memory stores. Transactions run one
// at a time, and a failing transaction restores every tracked store.
type MemoryTransactor struct {
	mu     sync.Mutex
	stores []Snapshotter
}

func NewMemoryTransactor(stores ...Snapshotter) *MemoryTransactor {
	return &MemoryTransactor{stores: stores}
}

// Track adds stores to roll back on failure.
func (t *MemoryTransactor) Track(stores ...Snapshotter) {
	t.mu.Lock()
	t.stores = append(t.stores, stores...)
	t.mu.Unlock()
}

func (t *MemoryTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	restores := make([]func(), 0, len(t.stores))
	for _, s := range t.stores {
		restores = append(restores, s.Snapshot())
	}
	ctx, tx := beginMemTx(ctx)
	defer tx.end()
	if err := fn(ctx); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

// ConcurrentMemoryTransactor runs in-memory transactions side by side
// without rollback. Only KeyedLocks order them, the way row and advisory
// locks order concurrent PostgreSQL transactions.
type ConcurrentMemoryTransactor struct{}

func (ConcurrentMemoryTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}
	ctx, tx := beginMemTx(ctx)
	defer tx.end()
	return fn(ctx)
}

// KeyedLocks emulates pg_advisory_xact_lock for in-memory stores. A key
// locked inside a memory transaction stays held until the transaction ends.
// Outside a transaction Lock waits for the key and releases it at once.
// The zero value is ready to use.
type KeyedLocks struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

func (k *KeyedLocks) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys == nil {
		k.keys = make(map[string]chan struct{})
	}
	ch, ok := k.keys[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.keys[key] = ch
	}
	return ch
}

// Lock takes key, blocking until it is free or ctx is done.
func (k *KeyedLocks) Lock(ctx context.Context, key string) error {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	if tx != nil {
		tx.mu.Lock()
		held := tx.held[k][key]
		tx.mu.Unlock()
		if held {
			return nil
		}
	}

	ch := k.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	release := func() { <-ch }
	if tx == nil {
		release()
		return nil
	}

	tx.mu.Lock()
	if tx.held[k] == nil {
		tx.held[k] = make(map[string]bool)
	}
	tx.held[k][key] = true
	tx.release = append(tx.release, release)
	tx.mu.Unlock()
	return nil
}
