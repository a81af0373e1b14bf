package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shopsync/internal/pkg/errs"
)

func TestLookupConversationIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("userId") != "u1" || r.URL.Query().Get("tenantId") != "tenant1" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(conversationsResponse{ConversationIDs: []string{"conv2", "conv1"}})
	}))
	defer server.Close()

	client := NewLookupClient(server.URL, "tenant1")
	ids, err := client.ConversationIDs(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "conv2" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestLookupMessagesDropsInvalidEntries(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/conv1/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(messagesResponse{Messages: []WireMessage{
			{ID: "m1", ConversationID: "conv1", SenderType: SenderUser, Body: "hi", CreatedAt: at},
			{ID: "", ConversationID: "conv1", SenderType: SenderBot, Body: "no id"},
			{ID: "m2", ConversationID: "conv1", SenderType: "ALIEN", Body: "bad sender"},
			{ID: "m3", ConversationID: "conv1", SenderType: SenderBot, Body: "hello", CreatedAt: at.Add(time.Second)},
		}})
	}))
	defer server.Close()

	client := NewLookupClient(server.URL, "tenant1")
	messages, err := client.Messages(context.Background(), "conv1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("invalid entries must be dropped, got %d messages", len(messages))
	}
	if messages[0].ID.Confirmed != "m1" || messages[1].ID.Confirmed != "m3" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestLookupRejectedRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewLookupClient(server.URL, "tenant1")
	_, err := client.Messages(context.Background(), "conv1")
	if err == nil || err.Code != errs.ErrRequestRejected || err.Status != http.StatusNotFound {
		t.Fatalf("expected rejected request with 404, got %v", err)
	}
}

func TestLookupMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer server.Close()

	client := NewLookupClient(server.URL, "tenant1")
	_, err := client.ConversationIDs(context.Background(), "u1")
	if err == nil || err.Code != errs.ErrMalformedPayload {
		t.Fatalf("expected malformed payload, got %v", err)
	}
}
