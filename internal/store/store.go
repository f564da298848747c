// Package store persists the exclusion state carried between epochs.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/araim-monitor/core"
)

// ExclusionStore holds the committed exclusion state. Commit is
// all-or-nothing and refuses states that do not advance LastEpoch.
type ExclusionStore interface {
	Load(ctx context.Context) (*core.ExclusionState, error)
	Commit(ctx context.Context, state *core.ExclusionState) error
}

// Memory is an in-process ExclusionStore.
type Memory struct {
	mu    sync.RWMutex
	state *core.ExclusionState
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns a copy of the committed state, or nil before the first commit.
func (m *Memory) Load(ctx context.Context) (*core.ExclusionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, nil
	}
	return m.state.Clone(), nil
}

// Commit replaces the committed state with a copy of state.
func (m *Memory) Commit(ctx context.Context, state *core.ExclusionState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("commit: nil exclusion state")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkAdvance(m.state, state); err != nil {
		return err
	}
	m.state = state.Clone()
	return nil
}

func checkAdvance(prev, next *core.ExclusionState) error {
	if prev != nil && !next.LastEpoch.After(prev.LastEpoch) {
		return fmt.Errorf("%w: commit for %s does not follow %s", core.ErrStaleEpoch, next.LastEpoch, prev.LastEpoch)
	}
	return nil
}
