/*
Package cart contains the optimistic cart reconciliation store and the service
that keeps it eventually consistent with the authoritative server cart.

This file defines the Store struct, a pure state container: it never touches
the network, holds no undo history, and relies on its caller (the Service) to
obey the optimistic/rollback discipline. Every mutation persists a snapshot to
the local store for offline continuity.
*/
package cart

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shopsync/internal/app/localstore"
	"shopsync/internal/pkg/errs"
	"shopsync/internal/pkg/logx"
	"shopsync/internal/pkg/metrics"
)

// Store holds the local, optimistic view of the shopping cart.
type Store struct {
	// mu protects lines. The surface may be driven from multiple goroutines
	// (UI loop, sync loop).
	mu sync.RWMutex

	// lines is the ordered list the consumer renders directly.
	lines []CartLine

	// persist receives the snapshot after every mutation; nil disables persistence.
	persist localstore.Store

	// metrics counts mutations; nil disables recording.
	metrics *metrics.Metrics

	// structured logger with store context.
	logger zerolog.Logger
}

// NewStore constructs a Store, restoring the persisted snapshot (if any) so a
// restarted client shows the last known cart before the first server sync.
func NewStore(ctx context.Context, persist localstore.Store, m *metrics.Metrics) *Store {
	s := &Store{
		persist: persist,
		metrics: m,
		logger:  logx.Component("cart_store"),
	}

	if persist != nil {
		raw, ok, err := persist.Get(ctx, localstore.KeyCartSnapshot)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to read persisted cart snapshot.")
		} else if ok {
			var snapshot Snapshot
			if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
				s.logger.Warn().Msg("Persisted cart snapshot malformed. Starting empty.")
			} else {
				s.lines = snapshot.Lines
				s.logger.Info().
					Int("line_count", len(s.lines)).
					Time("captured_at", snapshot.CapturedAt).
					Msg("Restored cart snapshot from local state.")
			}
		}
	}

	return s
}

// SyncFromServer replaces the entire local list with the authoritative server
// response. Always safe to call; the server wins entirely, including clearing
// any not-yet-confirmed optimistic lines. A snapshot taken before an in-flight
// optimistic mutation can transiently clobber it; the next sync self-heals.
func (s *Store) SyncFromServer(ctx context.Context, serverLines []CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = make([]CartLine, len(serverLines))
	copy(s.lines, serverLines)

	s.metrics.IncCartMutation("sync")
	s.persistLocked(ctx)
}

// AddOptimistic appends a line with a caller-supplied placeholder id before the
// creating network call resolves. Rejects a quantity below 1 and a variant that
// already has a line, preserving the one-line-per-variant invariant.
func (s *Store) AddOptimistic(ctx context.Context, line CartLine) *errs.CustomError {
	if line.Quantity < 1 {
		return errs.NewError(errs.ErrInvalidQuantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.lines {
		if existing.ProductVariantID == line.ProductVariantID {
			return errs.NewError(errs.ErrDuplicateVariant)
		}
	}

	s.lines = append(s.lines, line)

	s.metrics.IncCartMutation("add")
	s.persistLocked(ctx)
	return nil
}

// UpdateQuantityOptimistic locates the line by variant id and overwrites its
// quantity in place. The store records no history: if the subsequent network
// call fails, the caller must re-invoke this operation with the prior quantity.
func (s *Store) UpdateQuantityOptimistic(ctx context.Context, productVariantID string, quantity int) *errs.CustomError {
	if quantity < 1 {
		return errs.NewError(errs.ErrInvalidQuantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].ProductVariantID == productVariantID {
			s.lines[i].Quantity = quantity

			s.metrics.IncCartMutation("update")
			s.persistLocked(ctx)
			return nil
		}
	}

	return errs.NewError(errs.ErrLineNotFound)
}

// RemoveOptimistic deletes a line by id immediately. If the subsequent network
// delete fails for a confirmed line, the caller is responsible for re-inserting it.
func (s *Store) RemoveOptimistic(ctx context.Context, id int64) *errs.CustomError {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].ID == id {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)

			s.metrics.IncCartMutation("remove")
			s.persistLocked(ctx)
			return nil
		}
	}

	return errs.NewError(errs.ErrLineNotFound)
}

// ReplaceTempID swaps a placeholder id for the server-assigned id in place,
// preserving position and all other fields.
func (s *Store) ReplaceTempID(ctx context.Context, tempID, realID int64) *errs.CustomError {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].ID == tempID {
			s.lines[i].ID = realID

			s.persistLocked(ctx)
			return nil
		}
	}

	return errs.NewError(errs.ErrLineNotFound)
}

// Total returns the sum of quantity × unit price across all lines.
func (s *Store) Total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, line := range s.lines {
		total += line.Subtotal()
	}
	return total
}

// Lines returns a deep copy of the current line list.
func (s *Store) Lines() []CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CartLine, len(s.lines))
	for i, line := range s.lines {
		out[i] = line.clone()
	}
	return out
}

// Len returns the number of lines currently present.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.lines)
}

// lineByVariant returns the line for the given variant id, if present.
func (s *Store) lineByVariant(productVariantID string) (CartLine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, line := range s.lines {
		if line.ProductVariantID == productVariantID {
			return line, true
		}
	}
	return CartLine{}, false
}

// insertAt re-inserts a line at the given position, clamped to the list
// bounds. Used by the remove command's inverse to restore position.
func (s *Store) insertAt(ctx context.Context, index int, line CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 {
		index = 0
	}
	if index > len(s.lines) {
		index = len(s.lines)
	}

	s.lines = append(s.lines[:index], append([]CartLine{line}, s.lines[index:]...)...)
	s.persistLocked(ctx)
}

// indexOf returns the position of the line with the given id, or -1.
func (s *Store) indexOf(id int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.lines {
		if s.lines[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked writes the snapshot to the local store. Callers must hold mu.
// Persistence failures are logged, never propagated: the in-memory state is
// the working truth and the snapshot is a recoverable cache.
func (s *Store) persistLocked(ctx context.Context) {
	if s.persist == nil {
		return
	}

	snapshot := Snapshot{
		Lines:      s.lines,
		CapturedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode cart snapshot.")
		return
	}

	if err := s.persist.Set(ctx, localstore.KeyCartSnapshot, string(data)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist cart snapshot.")
	}
}
