/*
Package identity contains the client's session identity state and its transitions.

It reconciles the two forms of "who is this client": an anonymous guest session
token (client-generated, persisted locally) and an authenticated user id
(derived from a stored bearer token). The chat session controller subscribes to
identity changes to re-resolve its conversation, and the cart API client reads
the current credentials for every request.
*/
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/rs/zerolog"

	"shopsync/internal/app/localstore"
	"shopsync/internal/pkg/logx"
	"shopsync/internal/pkg/randx"
)

// Snapshot is an immutable view of the current identity.
type Snapshot struct {
	// SessionToken is the guest session token. Always present.
	SessionToken string

	// UserID is the authenticated user id, empty while anonymous.
	UserID string

	// AuthToken is the stored bearer token, empty while anonymous.
	AuthToken string
}

// Authenticated reports whether a user identity is currently assigned.
func (s Snapshot) Authenticated() bool {
	return s.UserID != ""
}

// Manager owns the identity state and persists every transition to the local store.
type Manager struct {
	store localstore.Store

	// mu protects the identity fields and the listener list.
	mu sync.RWMutex

	sessionToken string
	userID       string
	authToken    string

	// listeners are invoked (outside the lock) after every identity transition.
	listeners []func(Snapshot)

	// structured logger with identity context.
	logger zerolog.Logger
}

// NewManager loads the persisted identity from the store, generating and
// persisting a fresh guest session token when none exists. A stored bearer
// token that is already past its expiry is discarded rather than presented:
// a stale client-side identity is unrecoverable locally, so the client starts
// anonymous and lets the consumer re-authenticate.
func NewManager(ctx context.Context, store localstore.Store) (*Manager, error) {
	m := &Manager{
		store:  store,
		logger: logx.Component("identity"),
	}

	token, ok, err := store.Get(ctx, localstore.KeySessionToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read session token: %w", err)
	}

	// A server-assigned token (adopted via AdoptSessionToken) is an opaque
	// string and passes through untouched; only an absent value triggers
	// generation of a fresh client token.
	if !ok || token == "" {
		token, err = randx.SessionToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session token: %w", err)
		}

		if err := store.Set(ctx, localstore.KeySessionToken, token); err != nil {
			return nil, fmt.Errorf("failed to persist session token: %w", err)
		}

		m.logger.Info().Msg("Generated new guest session token.")
	}
	m.sessionToken = token

	authToken, ok, err := store.Get(ctx, localstore.KeyAuthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth token: %w", err)
	}

	if ok && authToken != "" {
		userID, expiry, parseErr := inspectToken(authToken)

		switch {
		case parseErr != nil:
			m.logger.Warn().Err(parseErr).Msg("Stored auth token unparseable. Discarding credentials.")
			m.clearCredentials(ctx)

		case !expiry.IsZero() && time.Now().After(expiry):
			m.logger.Info().Time("expiry", expiry).Msg("Stored auth token expired. Starting anonymous.")
			m.clearCredentials(ctx)

		default:
			m.authToken = authToken
			m.userID = userID
		}
	}

	// A persisted user id without a usable token is meaningless; the token is
	// the source of truth for the authenticated identity.
	if m.userID != "" {
		if err := store.Set(ctx, localstore.KeyUserID, m.userID); err != nil {
			return nil, fmt.Errorf("failed to persist user id: %w", err)
		}
	}

	return m, nil
}

// Snapshot returns the current identity.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Snapshot{
		SessionToken: m.sessionToken,
		UserID:       m.userID,
		AuthToken:    m.authToken,
	}
}

// OnChange registers a listener invoked after every identity transition.
// Listeners run on the goroutine performing the transition.
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, fn)
}

// Authenticate installs the bearer token obtained from a successful login,
// derives the user id from its claims, persists both, and notifies listeners.
func (m *Manager) Authenticate(ctx context.Context, token string) error {
	userID, expiry, err := inspectToken(token)
	if err != nil {
		return fmt.Errorf("failed to inspect auth token: %w", err)
	}

	if userID == "" {
		return fmt.Errorf("auth token carries no user id claim")
	}

	if !expiry.IsZero() && time.Now().After(expiry) {
		return fmt.Errorf("auth token is already expired")
	}

	if err := m.store.Set(ctx, localstore.KeyAuthToken, token); err != nil {
		return fmt.Errorf("failed to persist auth token: %w", err)
	}
	if err := m.store.Set(ctx, localstore.KeyUserID, userID); err != nil {
		return fmt.Errorf("failed to persist user id: %w", err)
	}

	m.mu.Lock()
	m.authToken = token
	m.userID = userID
	m.mu.Unlock()

	m.logger.Info().Str("user_id", userID).Msg("Identity authenticated.")
	m.notify()

	return nil
}

// AdoptSessionToken installs a server-issued guest session token, replacing
// the client-generated one. The chat backend may mint its own token for a new
// guest; the most recently assigned token wins and is persisted. Listeners are
// not notified: the session token names the same visitor, so no conversation
// re-resolution is needed.
func (m *Manager) AdoptSessionToken(ctx context.Context, token string) {
	if token == "" {
		return
	}

	m.mu.Lock()
	if m.sessionToken == token {
		m.mu.Unlock()
		return
	}
	m.sessionToken = token
	m.mu.Unlock()

	if err := m.store.Set(ctx, localstore.KeySessionToken, token); err != nil {
		m.logger.Error().Err(err).Msg("Failed to persist server-assigned session token.")
	}

	m.logger.Info().Msg("Adopted server-assigned session token.")
}

// Invalidate clears the stored credentials, reverting to the anonymous guest
// identity. Used on logout and when the backend answers 401: the stale
// identity cannot be repaired locally, only discarded.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()

	if m.userID == "" && m.authToken == "" {
		m.mu.Unlock()
		return
	}

	m.userID = ""
	m.authToken = ""
	m.mu.Unlock()

	m.clearCredentials(ctx)

	m.logger.Info().Msg("Identity invalidated. Reverting to guest session.")
	m.notify()
}

// clearCredentials removes the persisted user id and auth token. The guest
// session token is intentionally retained: it identifies the visitor, not the
// authenticated account.
func (m *Manager) clearCredentials(ctx context.Context) {
	if err := m.store.Delete(ctx, localstore.KeyAuthToken); err != nil {
		m.logger.Error().Err(err).Msg("Failed to delete stored auth token.")
	}
	if err := m.store.Delete(ctx, localstore.KeyUserID); err != nil {
		m.logger.Error().Err(err).Msg("Failed to delete stored user id.")
	}
}

// notify invokes every registered listener with the current snapshot.
func (m *Manager) notify() {
	m.mu.RLock()
	snapshot := Snapshot{
		SessionToken: m.sessionToken,
		UserID:       m.userID,
		AuthToken:    m.authToken,
	}
	listeners := make([]func(Snapshot), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// inspectToken extracts the user id and expiry from the token's claims without
// verifying the signature. The client never trusts the token for authorization
// decisions; verification is the backend's job, and the backend answers 401
// when it disagrees.
func inspectToken(tokenString string) (userID string, expiry time.Time, err error) {
	claims := jwt.MapClaims{}

	parser := &jwt.Parser{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return "", time.Time{}, err
	}

	if sub, ok := claims["sub"].(string); ok {
		userID = sub
	} else if uid, ok := claims["userId"].(string); ok {
		userID = uid
	}

	if exp, ok := claims["exp"].(float64); ok {
		expiry = time.Unix(int64(exp), 0)
	}

	return userID, expiry, nil
}
