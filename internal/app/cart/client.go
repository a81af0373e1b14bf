/*
Package cart contains the optimistic cart reconciliation store and the service
that keeps it eventually consistent with the authoritative server cart.

This file defines the APIClient, the request/response half of the external Cart
API contract: GET the current cart, POST a new line, PUT a quantity change,
DELETE a line. The backend is authoritative; the client only correlates by
variant id and line id.
*/
package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"shopsync/internal/app/identity"
	"shopsync/internal/pkg/errs"
	"shopsync/internal/pkg/logx"
)

// requestTimeout bounds every Cart API call.
const requestTimeout = 10 * time.Second

// credentialSource supplies the identity presented on every request and
// receives the invalidation signal when the backend answers 401.
type credentialSource interface {
	Snapshot() identity.Snapshot
	Invalidate(ctx context.Context)
}

// APIClient issues Cart API requests with the current session credentials.
type APIClient struct {
	baseURL     string
	httpClient  *http.Client
	credentials credentialSource

	// structured logger with client context.
	logger zerolog.Logger
}

// NewAPIClient constructs an APIClient for the given base URL.
func NewAPIClient(baseURL string, credentials credentialSource) *APIClient {
	return &APIClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: requestTimeout},
		credentials: credentials,
		logger:      logx.Component("cart_api"),
	}
}

// fetchResponse is the wire shape of GET /cart.
type fetchResponse struct {
	Lines []CartLine `json:"lines"`
}

// addLineRequest is the wire shape of POST /cart/lines.
type addLineRequest struct {
	ProductVariantID    string            `json:"productVariantId"`
	Quantity            int               `json:"quantity"`
	AttributeSelections map[string]string `json:"attributeSelections,omitempty"`
}

// addLineResponse carries the server-assigned line id back.
type addLineResponse struct {
	ID int64 `json:"id"`
}

// updateLineRequest is the wire shape of PUT /cart/lines/{id}.
type updateLineRequest struct {
	Quantity int `json:"quantity"`
}

// FetchLines retrieves the authoritative server cart.
func (c *APIClient) FetchLines(ctx context.Context) ([]CartLine, *errs.CustomError) {
	var out fetchResponse
	if err := c.do(ctx, http.MethodGet, "/cart", nil, &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

// AddLine creates a server-side line for the variant and returns the assigned id.
func (c *APIClient) AddLine(ctx context.Context, line CartLine) (int64, *errs.CustomError) {
	body := addLineRequest{
		ProductVariantID:    line.ProductVariantID,
		Quantity:            line.Quantity,
		AttributeSelections: line.AttributeSelections,
	}

	var out addLineResponse
	if err := c.do(ctx, http.MethodPost, "/cart/lines", body, &out); err != nil {
		return 0, err
	}

	if out.ID <= 0 {
		c.logger.Warn().Int64("id", out.ID).Msg("Backend returned a non-positive line id.")
		return 0, errs.NewError(errs.ErrMalformedPayload)
	}

	return out.ID, nil
}

// UpdateLine changes the quantity of a confirmed server-side line.
func (c *APIClient) UpdateLine(ctx context.Context, lineID int64, quantity int) *errs.CustomError {
	path := fmt.Sprintf("/cart/lines/%d", lineID)
	return c.do(ctx, http.MethodPut, path, updateLineRequest{Quantity: quantity}, nil)
}

// RemoveLine deletes a confirmed server-side line.
func (c *APIClient) RemoveLine(ctx context.Context, lineID int64) *errs.CustomError {
	path := fmt.Sprintf("/cart/lines/%d", lineID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// do issues one request with the current credentials and decodes the response
// into out (when non-nil). Failure mapping follows the client error taxonomy:
// transport failure, 401 session invalidation, rejected request, malformed payload.
func (c *APIClient) do(ctx context.Context, method, path string, body any, out any) *errs.CustomError {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			c.logger.Error().Err(err).Str("path", path).Msg("Failed to encode request body.")
			return errs.NewError(errs.ErrUnknown, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errs.NewError(errs.ErrUnknown, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	snapshot := c.credentials.Snapshot()
	if snapshot.Authenticated() {
		req.Header.Set("Authorization", "Bearer "+snapshot.AuthToken)
	} else {
		req.Header.Set("X-Session-Token", snapshot.SessionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("Cart API request failed.")
		return errs.NewError(errs.ErrNetworkUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn().Str("path", path).Msg("Cart API rejected credentials. Invalidating identity.")
		c.credentials.Invalidate(ctx)
		return errs.NewError(errs.ErrSessionExpired)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("Cart API rejected request.")
		return errs.NewError(errs.ErrRequestRejected).WithStatus(resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Error().Err(err).Str("path", path).Msg("Cart API response malformed. Local state unchanged.")
		return errs.NewError(errs.ErrMalformedPayload)
	}

	return nil
}
