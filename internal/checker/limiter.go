package checker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"driftwatch/internal/models"
	"driftwatch/internal/storage"
)

// errNotDue is returned by claim when another check committed the target
// after the pass listed it.
var errNotDue = errors.New("target no longer due")

// claims hands out exclusive checks of targets. A granted claim carries the
// latest committed copy of its target, never the one a pass listed earlier.
type claims struct {
	mu      sync.Mutex
	held    map[string]struct{}
	store   storage.TargetStore
	timeout time.Duration
}

func newClaims(store storage.TargetStore, timeout time.Duration) *claims {
	return &claims{
		held:    make(map[string]struct{}),
		store:   store,
		timeout: timeout,
	}
}

// claim reserves id and loads its current state. When dueBy is set the
// claim fails with errNotDue unless the stored target is due by then.
// The returned release func must be called once the check is done.
func (c *claims) claim(ctx context.Context, id string, dueBy time.Time) (models.Target, func(), error) {
	if !c.reserve(id) {
		return models.Target{}, nil, fmt.Errorf("target %s: %w", id, ErrCheckInProgress)
	}
	release := func() { c.free(id) }

	getCtx, cancel := context.WithTimeout(ctx, c.timeout)
	target, err := c.store.GetTarget(getCtx, id)
	cancel()
	if err != nil {
		release()
		if !errors.Is(err, storage.ErrNotFound) {
			err = asPersistence(err)
		}
		return models.Target{}, nil, err
	}

	if !dueBy.IsZero() && target.NextCheckAt.After(dueBy) {
		release()
		return models.Target{}, nil, errNotDue
	}
	return *target, release, nil
}

func (c *claims) reserve(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.held[id]; busy {
		return false
	}
	c.held[id] = struct{}{}
	return true
}

func (c *claims) free(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, id)
}
