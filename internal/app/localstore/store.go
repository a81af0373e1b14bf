/*
Package localstore provides the client's durable key-value state, the equivalent
of the storefront's browser local storage.

This file defines the Store interface and the well-known keys the sync client
persists: the cart line snapshot, the guest session token, the authenticated
user id, and the stored bearer token. All keys are read on initialization and
written on the relevant state transitions.
*/
package localstore

import "context"

// Well-known state keys.
const (
	// KeyCartSnapshot holds the JSON-encoded cart line snapshot for offline continuity.
	KeyCartSnapshot = "cart_snapshot"

	// KeySessionToken holds the client-generated guest session token.
	KeySessionToken = "session_token"

	// KeyUserID holds the authenticated user id, absent while anonymous.
	KeyUserID = "user_id"

	// KeyAuthToken holds the bearer token presented to the Cart API while authenticated.
	KeyAuthToken = "auth_token"
)

// Store is the persistence contract consumed by the identity manager and cart
// store. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes the value for key, creating or overwriting it.
	Set(ctx context.Context, key string, value string) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
