package chat

import (
	"errors"

	"github.com/fenggwsx/RoomChat/internal/protocol"
)

var (
	ErrAuthenticationMissing = errors.New("authentication missing")
	ErrIdentityMismatch      = errors.New("identity does not match session")
	ErrEmptyMessage          = errors.New("message body is empty")
	ErrMessageTooLarge       = errors.New("message body too large")
	ErrPersistenceFailure    = errors.New("message persistence failed")
	ErrTransportDisconnect   = errors.New("transport disconnected")
	ErrNotJoined             = errors.New("connection has not joined room")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrUnknownConnection     = errors.New("unknown connection")
	ErrHubClosed             = errors.New("hub closed")

	// ErrInvalidPayload is shared with the wire codec so decode failures classify directly.
	ErrInvalidPayload = protocol.ErrInvalidPayload
)

// Wire codes carried by error events.
const (
	CodeAuthenticationMissing = "AuthenticationMissing"
	CodeIdentityMismatch      = "IdentityMismatch"
	CodeEmptyMessage          = "EmptyMessage"
	CodeMessageTooLarge       = "MessageTooLarge"
	CodePersistenceFailure    = "PersistenceFailure"
	CodeTransportDisconnect   = "TransportDisconnect"
	CodeInvalidPayload        = "InvalidPayload"
	CodeNotJoined             = "NotJoined"
	CodeRateLimited           = "RateLimited"
	CodeUnknownConnection     = "UnknownConnection"
	CodeHubClosed             = "HubClosed"
	CodeInternal              = "Internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrAuthenticationMissing, CodeAuthenticationMissing},
	{ErrIdentityMismatch, CodeIdentityMismatch},
	{ErrEmptyMessage, CodeEmptyMessage},
	{ErrMessageTooLarge, CodeMessageTooLarge},
	{ErrPersistenceFailure, CodePersistenceFailure},
	{ErrTransportDisconnect, CodeTransportDisconnect},
	{ErrInvalidPayload, CodeInvalidPayload},
	{ErrNotJoined, CodeNotJoined},
	{ErrRateLimited, CodeRateLimited},
	{ErrUnknownConnection, CodeUnknownConnection},
	{ErrHubClosed, CodeHubClosed},
}

// Code maps err onto its wire code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// Terminal reports whether err ends the connection it occurred on.
func Terminal(err error) bool {
	return errors.Is(err, ErrAuthenticationMissing) ||
		errors.Is(err, ErrIdentityMismatch) ||
		errors.Is(err, ErrTransportDisconnect) ||
		errors.Is(err, ErrUnknownConnection) ||
		errors.Is(err, ErrHubClosed)
}
