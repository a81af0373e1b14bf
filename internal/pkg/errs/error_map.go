/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to
standardize the user-facing error strings surfaced by the cart service and chat
controller.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and, where the
// error is inherently tied to an HTTP status, that status.
var errorMap = map[int]CustomError{
	// 1xxx: Transport Errors
	ErrNetworkUnavailable: {Code: ErrNetworkUnavailable, Message: "Connection problem. Please check your network and try again."},
	ErrRequestRejected:    {Code: ErrRequestRejected, Message: "The store could not complete your request. Please try again."},
	ErrSocketDisconnected: {Code: ErrSocketDisconnected, Message: "Chat is offline. Reconnecting..."},
	ErrReconnectExhausted: {Code: ErrReconnectExhausted, Message: "Chat could not reconnect. Please reopen the chat window."},

	// 2xxx: Validation Errors
	ErrEmptyMessage:          {Code: ErrEmptyMessage, Message: "Message cannot be empty."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrInvalidQuantity:       {Code: ErrInvalidQuantity, Message: "Quantity must be at least 1."},
	ErrLineNotFound:          {Code: ErrLineNotFound, Message: "That item is no longer in your cart."},
	ErrDuplicateVariant:      {Code: ErrDuplicateVariant, Message: "That item is already in your cart."},

	// 3xxx: Session and Identity Errors
	ErrSessionExpired:  {Code: ErrSessionExpired, Message: "Your session has expired. Please sign in again.", Status: http.StatusUnauthorized},
	ErrIdentityUnknown: {Code: ErrIdentityUnknown, Message: "Please wait a moment and try again."},
	ErrNoConversation:  {Code: ErrNoConversation, Message: "Chat is still starting up. Please try again."},

	// 4xxx: Payload Errors
	ErrMalformedPayload: {Code: ErrMalformedPayload, Message: "Something went wrong. Please try again."},

	// 5xxx: Internal Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again."},
}
