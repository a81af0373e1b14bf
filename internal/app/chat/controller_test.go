package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"shopsync/internal/app/identity"
	"shopsync/internal/pkg/errs"
)

type stubIdentity struct {
	mu       sync.Mutex
	snapshot identity.Snapshot
	onChange func(identity.Snapshot)
	adopted  string
}

func (s *stubIdentity) Snapshot() identity.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *stubIdentity) OnChange(fn func(identity.Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *stubIdentity) AdoptSessionToken(_ context.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adopted = token
}

func (s *stubIdentity) adoptedToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adopted
}

// setSnapshot installs a new identity and fires the registered listener, the
// way the identity manager notifies after an authentication transition.
func (s *stubIdentity) setSnapshot(snapshot identity.Snapshot) {
	s.mu.Lock()
	s.snapshot = snapshot
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

type stubHistory struct {
	mu            sync.Mutex
	conversations []string
	convErr       *errs.CustomError
	messages      []ChatMessage
	messagesErr   *errs.CustomError

	// onMessages runs inside Messages before returning, used to race a
	// conversation switch against an in-flight load.
	onMessages func()
}

func (s *stubHistory) ConversationIDs(_ context.Context, _ string) ([]string, *errs.CustomError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations, s.convErr
}

func (s *stubHistory) Messages(_ context.Context, _ string) ([]ChatMessage, *errs.CustomError) {
	s.mu.Lock()
	hook := s.onMessages
	messages := s.messages
	err := s.messagesErr
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return messages, err
}

// wsTestServer is a minimal chat socket backend for controller tests.
type wsTestServer struct {
	t        *testing.T
	server   *httptest.Server
	received chan Envelope

	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()

	s := &wsTestServer{t: t, received: make(chan Envelope, 32)}
	upgrader := websocket.Upgrader{}

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conn = ws
		s.mu.Unlock()

		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				continue
			}
			s.received <- env
		}
	}))

	t.Cleanup(s.server.Close)
	return s
}

func (s *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// push sends an event to the connected client.
func (s *wsTestServer) push(eventType EventType, payload any) {
	s.t.Helper()

	frame, err := EncodeEvent(eventType, payload)
	if err != nil {
		s.t.Fatalf("failed to encode push: %v", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.t.Fatalf("no client connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.t.Fatalf("failed to push event: %v", err)
	}
}

// waitEvent reads received envelopes until one matches the type.
func (s *wsTestServer) waitEvent(eventType EventType) Envelope {
	s.t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-s.received:
			if env.Type == eventType {
				return env
			}
		case <-deadline:
			s.t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestController(t *testing.T, socketURL string, ident *stubIdentity, history *stubHistory, messages chan ChatMessage) *Controller {
	t.Helper()

	var onMessage func(ChatMessage)
	if messages != nil {
		onMessage = func(msg ChatMessage) { messages <- msg }
	}

	c := NewController(
		Config{
			SocketURL:         socketURL,
			TenantID:          "tenant1",
			ReconnectAttempts: 2,
			ReconnectDelay:    20 * time.Millisecond,
		},
		ident,
		history,
		nil,
		Callbacks{OnMessage: onMessage},
	)
	t.Cleanup(c.Close)
	return c
}

func TestControllerHandshakeAndConversationTracking(t *testing.T) {
	server := newWSTestServer(t)
	ident := &stubIdentity{snapshot: identity.Snapshot{SessionToken: "sess_abc"}}
	c := newTestController(t, server.url(), ident, &stubHistory{}, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	env := server.waitEvent(TypeHandshake)
	var handshake HandshakePayload
	if err := json.Unmarshal(env.Payload, &handshake); err != nil {
		t.Fatalf("bad handshake payload: %v", err)
	}
	if handshake.SessionToken != "sess_abc" || handshake.TenantID != "tenant1" {
		t.Fatalf("unexpected handshake: %+v", handshake)
	}

	server.push(TypeConversationUpdated, ConversationUpdatedPayload{ConversationID: "conv1"})
	waitFor(t, "conversation tracked", func() bool { return c.ConversationID() == "conv1" })

	env = server.waitEvent(TypeJoin)
	var join JoinPayload
	if err := json.Unmarshal(env.Payload, &join); err != nil {
		t.Fatalf("bad join payload: %v", err)
	}
	if join.ConversationID != "conv1" {
		t.Fatalf("expected join for conv1, got %q", join.ConversationID)
	}
}

func TestControllerSendMessageValidation(t *testing.T) {
	ident := &stubIdentity{snapshot: identity.Snapshot{SessionToken: "sess_abc"}}
	c := newTestController(t, "ws://127.0.0.1:1/ws", ident, &stubHistory{}, nil)

	if err := c.SendMessage("   ", nil); err == nil || err.Code != errs.ErrEmptyMessage {
		t.Fatalf("expected empty message error, got %v", err)
	}
	if err := c.SendMessage(strings.Repeat("a", MaxContentBytes+1), nil); err == nil || err.Code != errs.ErrMessageContentTooLong {
		t.Fatalf("expected content too long error, got %v", err)
	}
	if err := c.SendMessage("hello", nil); err == nil || err.Code != errs.ErrSocketDisconnected {
		t.Fatalf("expected disconnected error, got %v", err)
	}
	if c.Err() == nil {
		t.Fatalf("validation failure should surface on the controller")
	}
}

func TestControllerSendMessageRequiresIdentity(t *testing.T) {
	c := newTestController(t, "ws://127.0.0.1:1/ws", &stubIdentity{}, &stubHistory{}, nil)

	if err := c.SendMessage("hello", nil); err == nil || err.Code != errs.ErrIdentityUnknown {
		t.Fatalf("expected identity unknown error, got %v", err)
	}
}

func TestControllerLoadMessagesRequiresConversation(t *testing.T) {
	history := &stubHistory{messages: []ChatMessage{msgAt(ConfirmedID("m1"), "hi", time.Now())}}
	c := newTestController(t, "ws://127.0.0.1:1/ws", &stubIdentity{}, history, nil)

	err := c.LoadMessages(context.Background())
	if err == nil || err.Code != errs.ErrNoConversation {
		t.Fatalf("expected no-conversation error, got %v", err)
	}
	if len(c.Messages()) != 0 {
		t.Fatalf("no history may be installed before a conversation is known")
	}
}

func TestControllerSendMessagePendingEchoConfirmed(t *testing.T) {
	server := newWSTestServer(t)
	ident := &stubIdentity{snapshot: identity.Snapshot{SessionToken: "sess_abc"}}
	messages := make(chan ChatMessage, 8)
	c := newTestController(t, server.url(), ident, &stubHistory{}, messages)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	server.waitEvent(TypeHandshake)

	server.push(TypeConversationUpdated, ConversationUpdatedPayload{ConversationID: "conv1"})
	waitFor(t, "conversation tracked", func() bool { return c.ConversationID() == "conv1" })

	if err := c.SendMessage("hello there", nil); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	// The local echo fires first, pending and guest-authored.
	echo := <-messages
	if !echo.ID.IsPending() || echo.Sender != SenderGuest || echo.Body != "hello there" {
		t.Fatalf("unexpected local echo: %+v", echo)
	}

	env := server.waitEvent(TypeMessage)
	var sent SendPayload
	if err := json.Unmarshal(env.Payload, &sent); err != nil {
		t.Fatalf("bad send payload: %v", err)
	}
	if sent.TempID != echo.ID.Pending || sent.ConversationID != "conv1" {
		t.Fatalf("unexpected outbound message: %+v", sent)
	}

	// The backend confirms, echoing the temp id back.
	server.push(TypeMessage, WireMessage{
		ID:             "m1",
		ConversationID: "conv1",
		SenderType:     SenderGuest,
		Body:           "hello there",
		CreatedAt:      time.Now().UTC(),
		TempID:         sent.TempID,
	})

	confirmed := <-messages
	if confirmed.ID.IsPending() || confirmed.ID.Confirmed != "m1" {
		t.Fatalf("expected confirmed m1, got %v", confirmed.ID)
	}

	got := c.Messages()
	if len(got) != 1 || got[0].ID.Confirmed != "m1" {
		t.Fatalf("echo must be replaced, not duplicated: %+v", got)
	}
}

func TestControllerRejectsMessageForUntrackedConversation(t *testing.T) {
	server := newWSTestServer(t)
	ident := &stubIdentity{snapshot: identity.Snapshot{SessionToken: "sess_abc"}}
	messages := make(chan ChatMessage, 8)
	c := newTestController(t, server.url(), ident, &stubHistory{}, messages)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	server.waitEvent(TypeHandshake)

	server.push(TypeConversationUpdated, ConversationUpdatedPayload{ConversationID: "conv1"})
	waitFor(t, "conversation tracked", func() bool { return c.ConversationID() == "conv1" })

	server.push(TypeMessage, WireMessage{
		ID:             "stray",
		ConversationID: "other",
		SenderType:     SenderAdmin,
		Body:           "wrong room",
		CreatedAt:      time.Now().UTC(),
	})
	server.push(TypeMessage, WireMessage{
		ID:             "m1",
		ConversationID: "conv1",
		SenderType:     SenderAdmin,
		Body:           "right room",
		CreatedAt:      time.Now().UTC(),
	})

	got := <-messages
	if got.ID.Confirmed != "m1" {
		t.Fatalf("expected only the tracked-conversation message, got %v", got.ID)
	}
	if len(c.Messages()) != 1 {
		t.Fatalf("stray message must not enter the timeline: %+v", c.Messages())
	}
}

func TestControllerAdoptsAssignedSessionToken(t *testing.T) {
	server := newWSTestServer(t)
	ident := &stubIdentity{snapshot: identity.Snapshot{SessionToken: "sess_abc"}}
	c := newTestController(t, server.url(), ident, &stubHistory{}, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	server.waitEvent(TypeHandshake)

	server.push(TypeSessionAssigned, SessionAssignedPayload{SessionToken: "sess_server"})
	waitFor(t, "session adoption", func() bool { return ident.adoptedToken() == "sess_server" })
}

func TestControllerResolvesAuthenticatedIdentity(t *testing.T) {
	server := newWSTestServer(t)
	ident := &stubIdentity{snapshot: identity.Snapshot{
		SessionToken: "sess_abc",
		UserID:       "u1",
		AuthToken:    "tok",
	}}
	history := &stubHistory{
		conversations: []string{"conv9", "conv2"},
		messages: []ChatMessage{
			msgAt(ConfirmedID("m1"), "older", time.Now().Add(-time.Minute)),
			msgAt(ConfirmedID("m2"), "newer", time.Now()),
		},
	}
	c := newTestController(t, server.url(), ident, history, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	// The most recent conversation wins and its history replaces the timeline.
	waitFor(t, "identity resolution", func() bool {
		return c.ConversationID() == "conv9" && len(c.Messages()) == 2
	})
}

func TestControllerGuestLoginSwitchesConversation(t *testing.T) {
	server := newWSTestServer(t)
	ident := &stubIdentity{snapshot: identity.Snapshot{SessionToken: "sess_abc"}}
	history := &stubHistory{
		conversations: []string{"conv-user"},
		messages: []ChatMessage{
			msgAt(ConfirmedID("m1"), "earlier thread", time.Now().Add(-time.Hour)),
			msgAt(ConfirmedID("m2"), "welcome back", time.Now()),
		},
	}
	c := newTestController(t, server.url(), ident, history, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	env := server.waitEvent(TypeHandshake)
	var handshake HandshakePayload
	if err := json.Unmarshal(env.Payload, &handshake); err != nil {
		t.Fatalf("bad handshake payload: %v", err)
	}
	if handshake.UserID != "" {
		t.Fatalf("anonymous handshake must carry no user id, got %q", handshake.UserID)
	}

	server.push(TypeConversationUpdated, ConversationUpdatedPayload{ConversationID: "conv-anon"})
	waitFor(t, "anonymous conversation tracked", func() bool { return c.ConversationID() == "conv-anon" })

	// Login mid-session: the controller re-presents its identity and resolves
	// the user's canonical conversation over the anonymous one.
	ident.setSnapshot(identity.Snapshot{
		SessionToken: "sess_abc",
		UserID:       "u1",
		AuthToken:    "tok",
	})

	env = server.waitEvent(TypeHandshake)
	if err := json.Unmarshal(env.Payload, &handshake); err != nil {
		t.Fatalf("bad handshake payload: %v", err)
	}
	if handshake.UserID != "u1" {
		t.Fatalf("authenticated handshake must carry the user id, got %q", handshake.UserID)
	}

	waitFor(t, "authenticated conversation tracked", func() bool {
		return c.ConversationID() == "conv-user" && len(c.Messages()) == 2
	})

	env = server.waitEvent(TypeLeave)
	var leave LeavePayload
	if err := json.Unmarshal(env.Payload, &leave); err != nil {
		t.Fatalf("bad leave payload: %v", err)
	}
	if leave.ConversationID != "conv-anon" {
		t.Fatalf("expected leave for the anonymous conversation, got %q", leave.ConversationID)
	}
}

func TestControllerDiscardsStaleHistoryResponse(t *testing.T) {
	ident := &stubIdentity{}
	history := &stubHistory{
		messages: []ChatMessage{msgAt(ConfirmedID("stale"), "stale", time.Now())},
	}
	c := newTestController(t, "ws://127.0.0.1:1/ws", ident, history, nil)

	c.JoinConversation("conv1")

	// The conversation switches while the load is in flight; the response
	// belongs to the abandoned conversation and must be discarded.
	history.onMessages = func() { c.JoinConversation("conv2") }

	if err := c.LoadMessages(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ConversationID() != "conv2" {
		t.Fatalf("expected conv2 tracked, got %q", c.ConversationID())
	}
	if len(c.Messages()) != 0 {
		t.Fatalf("stale history must not be installed: %+v", c.Messages())
	}
}

func TestControllerReconnectExhaustion(t *testing.T) {
	ident := &stubIdentity{}
	c := newTestController(t, "ws://127.0.0.1:1/ws", ident, &stubHistory{}, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	waitFor(t, "reconnect exhaustion", func() bool {
		err := c.Err()
		return c.State() == StateDisconnected && err != nil && err.Code == errs.ErrReconnectExhausted
	})
}

func TestControllerCloseIsTerminal(t *testing.T) {
	server := newWSTestServer(t)
	ident := &stubIdentity{snapshot: identity.Snapshot{SessionToken: "sess_abc"}}
	c := newTestController(t, server.url(), ident, &stubHistory{}, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	server.waitEvent(TypeHandshake)

	c.Close()
	if c.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", c.State())
	}
	if err := c.Connect(context.Background()); err == nil {
		t.Fatalf("connect after close must fail")
	}
}
