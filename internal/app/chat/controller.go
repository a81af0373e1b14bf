/*
Package chat contains the client side of the storefront's live chat.

This file defines the Controller, which owns the lifecycle of one real-time
connection and reconciles the three sources of conversation identity: the
locally persisted session/user identity, server-pushed conversation assignment,
and on-demand lookup for an authenticated user. The most recently learned
conversation id always wins; inbound messages are accepted only when they match
the tracked conversation.
*/
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"shopsync/internal/app/identity"
	"shopsync/internal/pkg/errs"
	"shopsync/internal/pkg/logx"
	"shopsync/internal/pkg/metrics"
	"shopsync/internal/pkg/randx"
)

// ConnState is the connection lifecycle state.
type ConnState string

const (
	// StateDisconnected is the initial state and the resting state after the
	// bounded reconnect attempts are exhausted.
	StateDisconnected ConnState = "disconnected"

	// StateConnecting means a connection attempt is in flight.
	StateConnecting ConnState = "connecting"

	// StateConnected means the socket is established and events flow.
	StateConnected ConnState = "connected"

	// StateClosed is terminal, entered only on explicit teardown.
	StateClosed ConnState = "closed"
)

// typingInterval is the minimum spacing between outbound typing indicators.
const typingInterval = 2 * time.Second

// identitySource is the slice of the identity manager the controller consumes.
type identitySource interface {
	Snapshot() identity.Snapshot
	OnChange(fn func(identity.Snapshot))
	AdoptSessionToken(ctx context.Context, token string)
}

// historyAPI is the slice of the lookup contract the controller consumes.
type historyAPI interface {
	ConversationIDs(ctx context.Context, userID string) ([]string, *errs.CustomError)
	Messages(ctx context.Context, conversationID string) ([]ChatMessage, *errs.CustomError)
}

// Config holds the controller's connection parameters.
type Config struct {
	// SocketURL is the chat socket endpoint.
	SocketURL string

	// TenantID is presented in the identity handshake.
	TenantID string

	// ReconnectAttempts bounds automatic reconnection; exhausting it leaves
	// the controller Disconnected until Connect is called again.
	ReconnectAttempts uint64

	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay time.Duration
}

// Callbacks are the consumer-facing notification hooks. All callbacks run on
// controller goroutines and must not block.
type Callbacks struct {
	// OnMessage fires for every message merged into the timeline, including
	// the local pending echo of SendMessage.
	OnMessage func(ChatMessage)

	// OnTyping fires for inbound typing indicators.
	OnTyping func(userID string, isTyping bool)

	// OnStateChange fires on every connection state transition.
	OnStateChange func(ConnState)
}

// Controller owns one chat connection and the local conversation state.
type Controller struct {
	cfg       Config
	ident     identitySource
	history   historyAPI
	metrics   *metrics.Metrics
	callbacks Callbacks

	// mu protects state, conversationID, timeline, lastErr, conn, fetchSeq,
	// and running.
	mu             sync.RWMutex
	state          ConnState
	conversationID string
	timeline       *Timeline
	lastErr        *errs.CustomError
	conn           *conn
	fetchSeq       uint64
	running        bool

	// identityCh coalesces identity-change notifications into the run loop.
	identityCh chan struct{}

	// closeCh signals explicit teardown; closing it is terminal.
	closeCh   chan struct{}
	closeOnce sync.Once

	// wg tracks the run loop for Close.
	wg sync.WaitGroup

	// typingLimiter throttles outbound typing indicators.
	typingLimiter *rate.Limiter

	// structured logger with controller context.
	logger zerolog.Logger
}

// NewController constructs a Controller. Connect must be called to establish
// the connection; callbacks are fixed at construction so no registration race
// exists once events flow.
func NewController(cfg Config, ident identitySource, history historyAPI, m *metrics.Metrics, callbacks Callbacks) *Controller {
	c := &Controller{
		cfg:           cfg,
		ident:         ident,
		history:       history,
		metrics:       m,
		callbacks:     callbacks,
		state:         StateDisconnected,
		timeline:      NewTimeline(),
		identityCh:    make(chan struct{}, 1),
		closeCh:       make(chan struct{}),
		typingLimiter: rate.NewLimiter(rate.Every(typingInterval), 1),
		logger:        logx.Component("chat_controller"),
	}

	ident.OnChange(func(identity.Snapshot) {
		select {
		case c.identityCh <- struct{}{}:
		default:
		}
	})

	return c
}

// Connect starts the connection run loop. Calling Connect while a run loop is
// active is a no-op; calling it after Close is an error. A controller whose
// reconnect attempts were exhausted can be revived with another Connect call.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return fmt.Errorf("chat controller is closed")
	}
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)

	return nil
}

// Close tears the controller down. The connection is closed, the run loop
// exits, and the state becomes terminal Closed. Safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})

	c.wg.Wait()

	c.mu.Lock()
	stateWasClosed := c.state == StateClosed
	c.state = StateClosed
	c.mu.Unlock()

	if !stateWasClosed {
		c.notifyState(StateClosed)
	}
}

// State returns the current connection state.
func (c *Controller) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// ConversationID returns the currently tracked conversation id, empty when
// none has been learned yet.
func (c *Controller) ConversationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conversationID
}

// Messages returns a copy of the local timeline.
func (c *Controller) Messages() []ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.timeline.Messages()
}

// Err returns the most recent surfaced error, or nil.
func (c *Controller) Err() *errs.CustomError {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastErr
}

// ClearErr resets the observable error field.
func (c *Controller) ClearErr() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastErr = nil
}

// SendMessage validates the text, appends a pending local echo to the
// timeline, and emits the message for the tracked conversation. The backend
// echo (carrying the pending id back) replaces the local entry with the
// confirmed one.
func (c *Controller) SendMessage(text string, metadata map[string]string) *errs.CustomError {
	if strings.TrimSpace(text) == "" {
		err := errs.NewError(errs.ErrEmptyMessage)
		c.setErr(err)
		return err
	}

	if len(text) > MaxContentBytes {
		err := errs.NewError(errs.ErrMessageContentTooLong)
		c.setErr(err)
		return err
	}

	snapshot := c.ident.Snapshot()
	if snapshot.SessionToken == "" && snapshot.UserID == "" {
		err := errs.NewError(errs.ErrIdentityUnknown)
		c.setErr(err)
		return err
	}

	sender := SenderGuest
	if snapshot.Authenticated() {
		sender = SenderUser
	}

	localID := randx.PendingMessageID()

	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.lastErr = errs.NewError(errs.ErrSocketDisconnected)
		err := c.lastErr
		c.mu.Unlock()
		return err
	}

	echo := ChatMessage{
		ID:             PendingID(localID),
		ConversationID: c.conversationID,
		Sender:         sender,
		Body:           text,
		CreatedAt:      time.Now().UTC(),
		Metadata:       metadata,
	}
	c.timeline.Insert(echo)

	cn := c.conn
	payload := SendPayload{
		ConversationID: c.conversationID,
		Body:           text,
		TempID:         localID,
		Metadata:       metadata,
	}
	c.mu.Unlock()

	frame, err := EncodeEvent(TypeMessage, payload)
	if err != nil {
		c.takeBackEcho(localID)
		customErr := errs.NewError(errs.ErrUnknown, err)
		c.setErr(customErr)
		return customErr
	}

	if err := cn.enqueue(frame); err != nil {
		c.takeBackEcho(localID)
		customErr := errs.NewError(errs.ErrSocketDisconnected)
		c.setErr(customErr)
		return customErr
	}

	c.metrics.IncMessageSent()

	if cb := c.callbacks.OnMessage; cb != nil {
		cb(echo)
	}

	return nil
}

// SendTyping emits a typing indicator, throttled to one event per interval.
// Suppressed events and disconnected states are silent: a lost typing
// indicator is not an error worth surfacing.
func (c *Controller) SendTyping(isTyping bool) {
	if !c.typingLimiter.Allow() {
		return
	}

	if err := c.emit(TypeTyping, TypingPayload{IsTyping: isTyping}); err != nil {
		c.logger.Debug().Int("code", err.Code).Msg("Typing indicator dropped.")
	}
}

// LoadMessages fetches the full history of the tracked conversation and
// replaces the local timeline with it. Safe to call repeatedly; calling it
// before any conversation id is known surfaces a no-conversation error. Each
// fetch carries a sequence number and a response is discarded when a newer
// fetch was issued meanwhile, so a reconnect racing an in-flight load can
// never install stale history.
func (c *Controller) LoadMessages(ctx context.Context) *errs.CustomError {
	c.mu.Lock()
	conversationID := c.conversationID
	if conversationID == "" {
		c.mu.Unlock()
		err := errs.NewError(errs.ErrNoConversation)
		c.setErr(err)
		return err
	}
	c.fetchSeq++
	seq := c.fetchSeq
	c.mu.Unlock()

	messages, err := c.history.Messages(ctx, conversationID)
	if err != nil {
		c.setErr(err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.fetchSeq || conversationID != c.conversationID {
		c.metrics.IncStaleFetchDiscarded()
		c.logger.Debug().
			Uint64("seq", seq).
			Uint64("latest_seq", c.fetchSeq).
			Str("conversation_id", conversationID).
			Msg("Discarding stale history response.")
		return nil
	}

	c.timeline.Replace(messages)
	return nil
}

// JoinConversation pins the controller to a specific conversation id outside
// the normal identity-resolution flow, used by back-office consumers
// inspecting a specific customer thread.
func (c *Controller) JoinConversation(id string) {
	if id == "" {
		return
	}
	c.trackConversation(id)
}

// LeaveConversation unpins the given conversation id. A no-op when the id is
// not the tracked one.
func (c *Controller) LeaveConversation(id string) {
	c.mu.Lock()
	if c.conversationID != id {
		c.mu.Unlock()
		return
	}
	c.conversationID = ""
	c.mu.Unlock()

	if err := c.emit(TypeLeave, LeavePayload{ConversationID: id}); err != nil {
		c.logger.Debug().Int("code", err.Code).Msg("Leave event dropped.")
	}

	c.logger.Info().Str("conversation_id", id).Msg("Left conversation.")
}

// run is the connection lifecycle loop: dial with bounded retries, pump
// events, and on drop start over with a fresh retry budget. It exits on
// explicit teardown or when the retry budget is exhausted.
func (c *Controller) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.wg.Done()
	}()

	for {
		c.setState(StateConnecting)

		cn, err := c.dialBounded(ctx)
		if err != nil {
			if c.tearingDown(ctx) {
				c.finishClosed(nil)
				return
			}

			c.setErr(errs.NewError(errs.ErrReconnectExhausted))
			c.setState(StateDisconnected)
			c.logger.Warn().
				Uint64("attempts", c.cfg.ReconnectAttempts).
				Msg("Reconnect attempts exhausted. Manual reconnect required.")
			return
		}

		c.mu.Lock()
		c.conn = cn
		c.mu.Unlock()

		c.metrics.SetConnected(true)
		c.setState(StateConnected)

		c.sendHandshake()

		if conversationID := c.ConversationID(); conversationID != "" {
			if err := c.emit(TypeJoin, JoinPayload{ConversationID: conversationID}); err != nil {
				c.logger.Debug().Int("code", err.Code).Msg("Join event dropped.")
			}
		}

		c.resolveIdentity(ctx)

		// Refresh after every (re)connect so missed pushes are recovered. The
		// sequence number defuses the race against any concurrent load.
		if c.ConversationID() != "" {
			if err := c.LoadMessages(ctx); err != nil {
				c.logger.Warn().Int("code", err.Code).Msg("Post-connect history refresh failed.")
			}
		}

		if done := c.pumpEvents(ctx, cn); done {
			return
		}

		// Connection dropped: detach and go around for a fresh retry budget.
		c.detachConn()
		c.metrics.SetConnected(false)
		c.setState(StateDisconnected)
		c.setErr(errs.NewError(errs.ErrSocketDisconnected))
		c.logger.Info().Msg("Chat socket dropped. Reconnecting.")
	}
}

// pumpEvents consumes inbound events until the connection drops (returns
// false) or teardown is requested (returns true after finishing Closed).
func (c *Controller) pumpEvents(ctx context.Context, cn *conn) bool {
	for {
		select {
		case env, ok := <-cn.inbound:
			if !ok {
				return false
			}
			c.handleEvent(ctx, env)

		case <-c.identityCh:
			c.sendHandshake()
			c.resolveIdentity(ctx)

		case <-c.closeCh:
			c.finishClosed(cn)
			return true

		case <-ctx.Done():
			c.finishClosed(cn)
			return true
		}
	}
}

// dialBounded attempts to establish the connection with the configured number
// of fixed-delay attempts.
func (c *Controller) dialBounded(ctx context.Context) (*conn, error) {
	var cn *conn

	backoff := retry.WithMaxRetries(c.cfg.ReconnectAttempts, retry.NewConstant(c.cfg.ReconnectDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		select {
		case <-c.closeCh:
			return fmt.Errorf("controller closed during dial")
		default:
		}

		c.metrics.IncReconnectAttempt()

		dialed, dialErr := dialConn(ctx, c.cfg.SocketURL)
		if dialErr != nil {
			c.logger.Warn().Err(dialErr).Str("socket_url", c.cfg.SocketURL).Msg("Chat socket dial failed.")
			return retry.RetryableError(dialErr)
		}

		cn = dialed
		return nil
	})

	if err != nil {
		return nil, err
	}
	return cn, nil
}

// tearingDown reports whether teardown was requested via Close or context.
func (c *Controller) tearingDown(ctx context.Context) bool {
	select {
	case <-c.closeCh:
		return true
	default:
	}
	return ctx.Err() != nil
}

// finishClosed closes the connection (if any) and enters the terminal state.
func (c *Controller) finishClosed(cn *conn) {
	if cn != nil {
		cn.close()
	}

	c.detachConn()
	c.metrics.SetConnected(false)
	c.setState(StateClosed)
	c.logger.Info().Msg("Chat controller closed.")
}

// handleEvent dispatches one inbound envelope.
func (c *Controller) handleEvent(ctx context.Context, env Envelope) {
	switch env.Type {
	case TypeSessionAssigned:
		var payload SessionAssignedPayload
		if !c.decodePayload(env, &payload) {
			return
		}
		c.ident.AdoptSessionToken(ctx, payload.SessionToken)

	case TypeConversationUpdated:
		var payload ConversationUpdatedPayload
		if !c.decodePayload(env, &payload) {
			return
		}
		c.trackConversation(payload.ConversationID)

	case TypeMessage:
		var wire WireMessage
		if !c.decodePayload(env, &wire) {
			return
		}

		msg, err := wire.ToChatMessage()
		if err != nil {
			c.logger.Warn().Err(err).Msg("Backend sent invalid message event. Local state unchanged.")
			c.setErr(errs.NewError(errs.ErrMalformedPayload))
			return
		}

		c.mergeInbound(msg, wire.TempID)

	case TypeTyping:
		var payload TypingPayload
		if !c.decodePayload(env, &payload) {
			return
		}
		if cb := c.callbacks.OnTyping; cb != nil {
			cb(payload.UserID, payload.IsTyping)
		}

	case TypeError:
		var payload ErrorPayload
		if !c.decodePayload(env, &payload) {
			return
		}
		c.logger.Warn().Str("server_message", payload.Message).Msg("Backend reported an error.")
		c.setErr(errs.NewError(errs.ErrUnknown))

	default:
		c.logger.Warn().Str("event_type", string(env.Type)).Msg("Backend sent unsupported event type.")
	}
}

// decodePayload unmarshals the envelope payload, surfacing a parse failure as
// a generic error while leaving local state untouched.
func (c *Controller) decodePayload(env Envelope, dst any) bool {
	if err := unmarshalPayload(env.Payload, dst); err != nil {
		c.logger.Warn().Err(err).Str("event_type", string(env.Type)).Msg("Backend sent invalid payload. Local state unchanged.")
		c.setErr(errs.NewError(errs.ErrMalformedPayload))
		return false
	}
	return true
}

// mergeInbound applies the merge rule: accept only messages for the tracked
// conversation, replace a pending echo when the tempId matches, and drop
// duplicates by tagged-id equality.
func (c *Controller) mergeInbound(msg ChatMessage, tempID string) {
	c.mu.Lock()

	if msg.ConversationID != c.conversationID {
		tracked := c.conversationID
		c.mu.Unlock()
		c.metrics.IncMessageRejected()
		c.logger.Debug().
			Str("message_conversation", msg.ConversationID).
			Str("tracked_conversation", tracked).
			Msg("Ignoring message for untracked conversation.")
		return
	}

	var outcome InsertOutcome
	if tempID != "" {
		outcome = c.timeline.ResolvePending(tempID, msg)
	} else {
		outcome = c.timeline.Insert(msg)
	}

	c.mu.Unlock()

	if outcome == Duplicate {
		c.metrics.IncMessageDeduped()
		c.logger.Debug().Str("message_id", msg.ID.String()).Msg("Dropped duplicate message.")
		return
	}

	c.metrics.IncMessageReceived()

	if cb := c.callbacks.OnMessage; cb != nil {
		cb(msg)
	}
}

// trackConversation installs a newly learned conversation id: leave the old
// room, join the new one. Messages already in the timeline for the old id are
// retained; the merge rule stops any further old-id messages.
func (c *Controller) trackConversation(newID string) {
	if newID == "" {
		return
	}

	c.mu.Lock()
	oldID := c.conversationID
	if newID == oldID {
		c.mu.Unlock()
		return
	}
	c.conversationID = newID
	c.mu.Unlock()

	if oldID != "" {
		if err := c.emit(TypeLeave, LeavePayload{ConversationID: oldID}); err != nil {
			c.logger.Debug().Int("code", err.Code).Msg("Leave event dropped.")
		}
	}

	if err := c.emit(TypeJoin, JoinPayload{ConversationID: newID}); err != nil {
		c.logger.Debug().Int("code", err.Code).Msg("Join event dropped.")
	}

	c.logger.Info().
		Str("old_conversation", oldID).
		Str("new_conversation", newID).
		Msg("Tracking new conversation.")
}

// resolveIdentity looks up the canonical conversation for an authenticated
// user: the most recent conversation known server-side takes precedence over
// whatever the anonymous session was bound to. Anonymous identities resolve
// via push (conversation_updated) instead.
func (c *Controller) resolveIdentity(ctx context.Context) {
	snapshot := c.ident.Snapshot()
	if !snapshot.Authenticated() {
		return
	}

	ids, err := c.history.ConversationIDs(ctx, snapshot.UserID)
	if err != nil {
		c.setErr(err)
		c.logger.Warn().Int("code", err.Code).Msg("Conversation lookup failed. Keeping current conversation.")
		return
	}

	if len(ids) == 0 {
		c.logger.Debug().Str("user_id", snapshot.UserID).Msg("User has no conversations yet.")
		return
	}

	c.trackConversation(ids[0])

	if err := c.LoadMessages(ctx); err != nil {
		c.logger.Warn().Int("code", err.Code).Msg("History load after identity resolution failed.")
	}
}

// sendHandshake presents the current identity to the backend.
func (c *Controller) sendHandshake() {
	snapshot := c.ident.Snapshot()

	payload := HandshakePayload{
		SessionToken: snapshot.SessionToken,
		UserID:       snapshot.UserID,
		TenantID:     c.cfg.TenantID,
	}

	if err := c.emit(TypeHandshake, payload); err != nil {
		c.logger.Warn().Int("code", err.Code).Msg("Handshake event dropped.")
	}
}

// emit encodes and queues one outbound event on the active connection.
func (c *Controller) emit(eventType EventType, payload any) *errs.CustomError {
	c.mu.RLock()
	cn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != StateConnected || cn == nil {
		return errs.NewError(errs.ErrSocketDisconnected)
	}

	frame, err := EncodeEvent(eventType, payload)
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}

	if err := cn.enqueue(frame); err != nil {
		return errs.NewError(errs.ErrSocketDisconnected)
	}

	return nil
}

// takeBackEcho removes a pending local echo whose send failed.
func (c *Controller) takeBackEcho(localID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timeline.RemovePending(localID)
}

// detachConn clears the connection reference.
func (c *Controller) detachConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = nil
}

// setErr records the surfaced error.
func (c *Controller) setErr(err *errs.CustomError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastErr = err
}

// setState transitions the connection state and notifies the consumer.
func (c *Controller) setState(state ConnState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.logger.Debug().Str("state", string(state)).Msg("Connection state changed.")
	c.notifyState(state)
}

// notifyState fires the state-change callback.
func (c *Controller) notifyState(state ConnState) {
	if cb := c.callbacks.OnStateChange; cb != nil {
		cb(state)
	}
}
