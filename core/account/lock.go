package account

import (
	"context"
	"sync"
)

// Locker serializes provisioning attempts for the same key.
// It narrows the window of the duplicate check race, uniqueness stays enforced by the profile store.
type Locker interface {
	// Acquire returns ErrLockHeld if the key is already locked.
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

func lockKey(email string) string { return "presence:provision:" + email }

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ Locker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrLockHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
