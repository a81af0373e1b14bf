/*
Package errs provides custom error types and application-level error code constants.

These error codes identify the failure modes of the sync client: transport
failures, local validation failures, session/identity failures, and malformed
backend payloads.
*/
package errs

// 1xxx: Transport Errors
const (
	// ErrNetworkUnavailable indicates that an API request could not be sent or completed.
	ErrNetworkUnavailable = 1001

	// ErrRequestRejected indicates that the backend answered an API request with a non-success status.
	ErrRequestRejected = 1002

	// ErrSocketDisconnected indicates that the chat connection is not currently established.
	ErrSocketDisconnected = 1003

	// ErrReconnectExhausted indicates that the bounded automatic reconnect attempts ran out.
	ErrReconnectExhausted = 1004
)

// 2xxx: Validation Errors
const (
	// ErrEmptyMessage indicates an attempt to send a chat message with no text.
	ErrEmptyMessage = 2001

	// ErrMessageContentTooLong indicates that the message text exceeded the maximum length limit.
	ErrMessageContentTooLong = 2002

	// ErrInvalidQuantity indicates a cart quantity below 1.
	ErrInvalidQuantity = 2101

	// ErrLineNotFound indicates a cart mutation addressed to a line that is not present.
	ErrLineNotFound = 2102

	// ErrDuplicateVariant indicates an optimistic add for a variant that already has a cart line.
	ErrDuplicateVariant = 2103
)

// 3xxx: Session and Identity Errors
const (
	// ErrSessionExpired indicates the backend rejected the stored credentials (HTTP 401).
	// The stored identity is invalidated and the error is never retried.
	ErrSessionExpired = 3001

	// ErrIdentityUnknown indicates an operation that requires a session or user
	// identity was invoked before any identity was established.
	ErrIdentityUnknown = 3002

	// ErrNoConversation indicates a chat operation that requires a tracked
	// conversation id before one was assigned.
	ErrNoConversation = 3003
)

// 4xxx: Payload Errors
const (
	// ErrMalformedPayload indicates that a backend response or push event could not be decoded.
	// Local state is left unchanged when this occurs.
	ErrMalformedPayload = 4001
)

// 5xxx: Internal Errors
const (
	// ErrUnknown represents an unclassified, general client internal error.
	ErrUnknown = 5000
)
