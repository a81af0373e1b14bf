/*
Package cart contains the optimistic cart reconciliation store and the service
that keeps it eventually consistent with the authoritative server cart.

This file defines the Service, the orchestration layer of the optimistic
protocol: apply the optimistic mutation, issue the network call, on error
invert the mutation and surface a user-visible message, on success reconcile
temporary identifiers. The service never panics past its boundary for expected
failures; it returns the CustomError and records it as the observable error
field.
*/
package cart

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"shopsync/internal/pkg/errs"
	"shopsync/internal/pkg/logx"
	"shopsync/internal/pkg/metrics"
	"shopsync/internal/pkg/randx"
)

// cartAPI is the slice of the Cart API contract the service consumes.
type cartAPI interface {
	FetchLines(ctx context.Context) ([]CartLine, *errs.CustomError)
	AddLine(ctx context.Context, line CartLine) (int64, *errs.CustomError)
	UpdateLine(ctx context.Context, lineID int64, quantity int) *errs.CustomError
	RemoveLine(ctx context.Context, lineID int64) *errs.CustomError
}

// AddInput describes the line a consumer wants added to the cart.
type AddInput struct {
	ProductVariantID    string
	Quantity            int
	UnitPrice           int64
	ProductName         string
	ThumbnailRef        string
	AttributeSelections map[string]string
}

// Service drives the Store through the optimistic/rollback protocol against
// the Cart API.
type Service struct {
	store   *Store
	api     cartAPI
	metrics *metrics.Metrics

	// mu protects lastErr.
	mu      sync.RWMutex
	lastErr *errs.CustomError

	// structured logger with service context.
	logger zerolog.Logger
}

// NewService constructs a Service over the given store and API client.
func NewService(store *Store, api cartAPI, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		api:     api,
		metrics: m,
		logger:  logx.Component("cart_service"),
	}
}

// Store exposes the underlying state container for direct reads.
func (s *Service) Store() *Store {
	return s.store
}

// Err returns the most recent surfaced error, or nil. The consumer renders it
// as a transient notification and clears it with ClearErr.
func (s *Service) Err() *errs.CustomError {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastErr
}

// ClearErr resets the observable error field.
func (s *Service) ClearErr() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = nil
}

// setErr records the surfaced error.
func (s *Service) setErr(err *errs.CustomError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err
}

// Add appends the line optimistically, creates it server-side, and swaps the
// placeholder id for the server-assigned one. On network failure the optimistic
// line is removed again and the total reflects the pre-add state.
func (s *Service) Add(ctx context.Context, in AddInput) *errs.CustomError {
	line := CartLine{
		ID:                  randx.TempLineID(),
		ProductVariantID:    in.ProductVariantID,
		Quantity:            in.Quantity,
		UnitPrice:           in.UnitPrice,
		ProductName:         in.ProductName,
		ThumbnailRef:        in.ThumbnailRef,
		AttributeSelections: in.AttributeSelections,
	}

	cmd := s.store.NewAdd(line)
	if err := cmd.Apply(ctx); err != nil {
		s.setErr(err)
		return err
	}

	realID, err := s.api.AddLine(ctx, line)
	if err != nil {
		s.rollback(ctx, cmd)
		s.setErr(err)
		return err
	}

	if replaceErr := s.store.ReplaceTempID(ctx, line.ID, realID); replaceErr != nil {
		// The line vanished while the request was in flight (removed by the
		// user or clobbered by a sync). The next sync reconciles.
		s.logger.Warn().
			Int64("temp_id", line.ID).
			Int64("real_id", realID).
			Msg("Confirmed line no longer present for id replacement.")
	}

	return nil
}

// ChangeQuantity overwrites the line's quantity optimistically and pushes the
// change server-side. A line that is still pending confirmation is mutated
// locally only; the creating request carries the original quantity and the
// next sync reconciles.
func (s *Service) ChangeQuantity(ctx context.Context, productVariantID string, quantity int) *errs.CustomError {
	line, ok := s.store.lineByVariant(productVariantID)
	if !ok {
		err := errs.NewError(errs.ErrLineNotFound)
		s.setErr(err)
		return err
	}

	cmd := s.store.NewQuantityChange(productVariantID, quantity)
	if err := cmd.Apply(ctx); err != nil {
		s.setErr(err)
		return err
	}

	if line.Pending() {
		s.logger.Debug().
			Str("variant_id", productVariantID).
			Msg("Quantity changed on unconfirmed line. Deferring to next sync.")
		return nil
	}

	if err := s.api.UpdateLine(ctx, line.ID, quantity); err != nil {
		s.rollback(ctx, cmd)
		s.setErr(err)
		return err
	}

	return nil
}

// Remove deletes the line optimistically and server-side. Removing a line that
// was never confirmed skips the network call entirely. On network failure the
// line is re-inserted at its prior position.
func (s *Service) Remove(ctx context.Context, id int64) *errs.CustomError {
	cmd := s.store.NewRemove(id)
	if err := cmd.Apply(ctx); err != nil {
		s.setErr(err)
		return err
	}

	if randx.IsTempLineID(id) {
		return nil
	}

	if err := s.api.RemoveLine(ctx, id); err != nil {
		s.rollback(ctx, cmd)
		s.setErr(err)
		return err
	}

	return nil
}

// Refresh replaces the local cart with the authoritative server cart. On
// failure the local state is left untouched and the error is surfaced.
func (s *Service) Refresh(ctx context.Context) *errs.CustomError {
	lines, err := s.api.FetchLines(ctx)
	if err != nil {
		s.setErr(err)
		return err
	}

	s.store.SyncFromServer(ctx, lines)
	return nil
}

// rollback inverts an applied command and counts the rollback.
func (s *Service) rollback(ctx context.Context, cmd Command) {
	if err := cmd.Invert(ctx); err != nil {
		s.logger.Error().
			Str("op", cmd.Op()).
			Int("code", err.Code).
			Msg("Rollback of optimistic mutation failed.")
		return
	}

	s.metrics.IncCartRollback()
	s.logger.Info().Str("op", cmd.Op()).Msg("Rolled back optimistic mutation after failed network call.")
}
