/*
Package chat contains the client side of the storefront's live chat.

This file defines the LookupClient, the request/response half of the chat
contract: listing a user's conversation ids (most recent first) and fetching
the message history of one conversation.
*/
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"shopsync/internal/pkg/errs"
	"shopsync/internal/pkg/logx"
)

// lookupTimeout bounds every lookup request.
const lookupTimeout = 10 * time.Second

// LookupClient issues conversation lookup and history requests.
type LookupClient struct {
	baseURL    string
	tenantID   string
	httpClient *http.Client

	// structured logger with client context.
	logger zerolog.Logger
}

// NewLookupClient constructs a LookupClient for the given base URL and tenant.
func NewLookupClient(baseURL, tenantID string) *LookupClient {
	return &LookupClient{
		baseURL:    baseURL,
		tenantID:   tenantID,
		httpClient: &http.Client{Timeout: lookupTimeout},
		logger:     logx.Component("chat_lookup"),
	}
}

// conversationsResponse is the wire shape of GET /conversations.
type conversationsResponse struct {
	ConversationIDs []string `json:"conversationIds"`
}

// messagesResponse is the wire shape of GET /conversations/{id}/messages.
type messagesResponse struct {
	Messages []WireMessage `json:"messages"`
}

// ConversationIDs returns the conversation ids known for the user, ordered
// most recent first.
func (c *LookupClient) ConversationIDs(ctx context.Context, userID string) ([]string, *errs.CustomError) {
	query := url.Values{}
	query.Set("userId", userID)
	query.Set("tenantId", c.tenantID)

	var out conversationsResponse
	if err := c.get(ctx, "/conversations?"+query.Encode(), &out); err != nil {
		return nil, err
	}

	return out.ConversationIDs, nil
}

// Messages returns the full history of the given conversation, converted and
// validated. Entries that fail validation are dropped with a diagnostic rather
// than poisoning the whole fetch.
func (c *LookupClient) Messages(ctx context.Context, conversationID string) ([]ChatMessage, *errs.CustomError) {
	path := fmt.Sprintf("/conversations/%s/messages", url.PathEscape(conversationID))

	var out messagesResponse
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}

	messages := make([]ChatMessage, 0, len(out.Messages))
	for _, wire := range out.Messages {
		msg, err := wire.ToChatMessage()
		if err != nil {
			c.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Dropping invalid history entry.")
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// get issues one GET request and decodes the response into out.
func (c *LookupClient) get(ctx context.Context, path string, out any) *errs.CustomError {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("Conversation lookup request failed.")
		return errs.NewError(errs.ErrNetworkUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("Conversation lookup rejected.")
		return errs.NewError(errs.ErrRequestRejected).WithStatus(resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Error().Err(err).Str("path", path).Msg("Conversation lookup response malformed. Local state unchanged.")
		return errs.NewError(errs.ErrMalformedPayload)
	}

	return nil
}
