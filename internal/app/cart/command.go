/*
Package cart contains the optimistic cart reconciliation store and the service
that keeps it eventually consistent with the authoritative server cart.

This file defines reversible mutation commands. Each command pairs an apply
step with its mechanical inverse, so rollback after a failed network call is a
single Invert call instead of caller-reconstructed state. The raw Store
operations remain available for callers that manage rollback themselves.
*/
package cart

import (
	"context"

	"shopsync/internal/pkg/errs"
)

// Command is a reversible optimistic mutation against a Store.
// Apply must be called exactly once before Invert; Invert undoes the applied
// mutation using state captured at apply time.
type Command interface {
	// Op names the mutation for logging and metrics ("add", "update", "remove").
	Op() string

	// Apply performs the optimistic mutation.
	Apply(ctx context.Context) *errs.CustomError

	// Invert rolls the applied mutation back.
	Invert(ctx context.Context) *errs.CustomError
}

// addCommand appends a new line; its inverse removes it again.
type addCommand struct {
	store *Store
	line  CartLine
}

// NewAdd builds the reversible command for adding line optimistically.
func (s *Store) NewAdd(line CartLine) Command {
	return &addCommand{store: s, line: line}
}

func (c *addCommand) Op() string { return "add" }

func (c *addCommand) Apply(ctx context.Context) *errs.CustomError {
	return c.store.AddOptimistic(ctx, c.line)
}

func (c *addCommand) Invert(ctx context.Context) *errs.CustomError {
	return c.store.RemoveOptimistic(ctx, c.line.ID)
}

// quantityCommand overwrites a line's quantity; its inverse restores the
// quantity captured at apply time.
type quantityCommand struct {
	store            *Store
	productVariantID string
	quantity         int
	priorQuantity    int
}

// NewQuantityChange builds the reversible command for changing the quantity of
// the line holding productVariantID.
func (s *Store) NewQuantityChange(productVariantID string, quantity int) Command {
	return &quantityCommand{
		store:            s,
		productVariantID: productVariantID,
		quantity:         quantity,
	}
}

func (c *quantityCommand) Op() string { return "update" }

func (c *quantityCommand) Apply(ctx context.Context) *errs.CustomError {
	prior, ok := c.store.lineByVariant(c.productVariantID)
	if !ok {
		return errs.NewError(errs.ErrLineNotFound)
	}
	c.priorQuantity = prior.Quantity

	return c.store.UpdateQuantityOptimistic(ctx, c.productVariantID, c.quantity)
}

func (c *quantityCommand) Invert(ctx context.Context) *errs.CustomError {
	return c.store.UpdateQuantityOptimistic(ctx, c.productVariantID, c.priorQuantity)
}

// removeCommand deletes a line; its inverse re-inserts the captured line at
// its captured position.
type removeCommand struct {
	store   *Store
	id      int64
	removed CartLine
	index   int
}

// NewRemove builds the reversible command for removing the line with id.
func (s *Store) NewRemove(id int64) Command {
	return &removeCommand{store: s, id: id}
}

func (c *removeCommand) Op() string { return "remove" }

func (c *removeCommand) Apply(ctx context.Context) *errs.CustomError {
	c.index = c.store.indexOf(c.id)
	if c.index < 0 {
		return errs.NewError(errs.ErrLineNotFound)
	}

	lines := c.store.Lines()
	c.removed = lines[c.index]

	return c.store.RemoveOptimistic(ctx, c.id)
}

func (c *removeCommand) Invert(ctx context.Context) *errs.CustomError {
	c.store.insertAt(ctx, c.index, c.removed)
	return nil
}
