package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"ms-booking/internal/models"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Entries are reference counted and
// dropped once nobody holds or waits on them.
type Local struct {
	locks *xsync.MapOf[string, *entry]
	wait  time.Duration
}

func NewLocal(wait time.Duration) *Local {
	return &Local{locks: xsync.NewMapOf[string, *entry](), wait: wait}
}

func (l *Local) ref(key string) *entry {
	e, _ := l.locks.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			old = &entry{ch: make(chan struct{}, 1)}
		}
		old.refs++
		return old, false
	})
	return e
}

func (l *Local) unref(key string) {
	l.locks.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			return old, true
		}
		old.refs--
		return old, old.refs <= 0
	})
}

func (l *Local) Acquire(ctx context.Context, keys []string) (func(), error) {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	keys = ordered(keys)
	held := make([]string, 0, len(keys))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			e, ok := l.locks.Load(held[i])
			if ok {
				<-e.ch
			}
			l.unref(held[i])
		}
	}

	for _, key := range keys {
		e := l.ref(key)
		select {
		case e.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.unref(key)
			unlock()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%s: %w", key, models.ErrLockTimeout)
			}
			return nil, ctx.Err()
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		unlock()
	}, nil
}

// Len reports how many keys are currently tracked.
func (l *Local) Len() int {
	return l.locks.Size()
}
