package mqtt5

import (
	"errors"
	"time"
)

// EventHandler function type.
type EventHandler func(client *Client, event error)

// Sentinel events for client lifecycle - check with errors.Is().
var (
	// ErrConnected is emitted when the client successfully connects.
	ErrConnected = errors.New("connected")

	// ErrDisconnected is emitted when the client disconnects gracefully.
	ErrDisconnected = errors.New("disconnected")

	// ErrConnectionLost is emitted when the connection is lost unexpectedly.
	ErrConnectionLost = errors.New("connection lost")

	// ErrReconnecting is emitted when the client is attempting to reconnect.
	ErrReconnecting = errors.New("reconnecting")

	// ErrReconnectFailed is emitted when all reconnection attempts have failed.
	ErrReconnectFailed = errors.New("reconnect failed")
)

// Sentinel errors for authentication - check with errors.Is().
var (
	ErrAuthFailed   = errors.New("authentication failed")
	ErrNotAuthorized = errors.New("not authorized")
)

// Sentinel errors for protocol issues - check with errors.Is().
var (
	ErrProtocolError    = errors.New("protocol error")
	ErrServerDisconnect = errors.New("server disconnect")
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
)

// Sentinel errors for operations - check with errors.Is().
var (
	ErrPublishFailed     = errors.New("publish failed")
	ErrSubscribeFailed   = errors.New("subscribe failed")
	ErrUnsubscribeFailed = errors.New("unsubscribe failed")
	ErrClientClosed      = errors.New("client closed")
	ErrNotConnected      = errors.New("not connected")
	ErrInvalidTopic      = errors.New("invalid topic")
)

// eventBase carries the sentinel a client lifecycle event or operation
// error wraps. Embedding it gives every event type errors.Is()/errors.As()
// support without repeating the same err-field-plus-Unwrap boilerplate on
// each one; types whose Error() text needs more than the sentinel's own
// message override Error() while keeping eventBase's Unwrap.
type eventBase struct {
	sentinel error
}

func (e eventBase) Error() string { return e.sentinel.Error() }
func (e eventBase) Unwrap() error { return e.sentinel }

// ConnectedEvent contains details about a successful connection.
// Extract with errors.As().
type ConnectedEvent struct {
	eventBase
	SessionPresent bool
	ServerProps    *Properties
}

// NewConnectedEvent creates a new ConnectedEvent.
func NewConnectedEvent(sessionPresent bool, props *Properties) *ConnectedEvent {
	return &ConnectedEvent{
		eventBase:      eventBase{sentinel: ErrConnected},
		SessionPresent: sessionPresent,
		ServerProps:    props,
	}
}

// DisconnectError contains details about a disconnection.
// Extract with errors.As().
type DisconnectError struct {
	eventBase
	ReasonCode ReasonCode
	Properties *Properties
	Remote     bool // true if server sent disconnect
}

func (e *DisconnectError) Error() string {
	if e.Remote {
		return "server disconnect: " + e.ReasonCode.String()
	}
	return "disconnected: " + e.ReasonCode.String()
}

// NewDisconnectError creates a new DisconnectError.
func NewDisconnectError(reason ReasonCode, props *Properties, remote bool) *DisconnectError {
	sentinel := ErrDisconnected
	if remote {
		sentinel = ErrServerDisconnect
	}
	return &DisconnectError{
		eventBase:  eventBase{sentinel: sentinel},
		ReasonCode: reason,
		Properties: props,
		Remote:     remote,
	}
}

// ReconnectEvent contains details about a reconnection attempt.
// Extract with errors.As().
type ReconnectEvent struct {
	eventBase
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	cancelFn    func()
}

// Cancel stops further reconnection attempts.
func (e *ReconnectEvent) Cancel() {
	if e.cancelFn != nil {
		e.cancelFn()
	}
}

// NewReconnectEvent creates a new ReconnectEvent.
func NewReconnectEvent(attempt, maxAttempts int, delay time.Duration, cancelFn func()) *ReconnectEvent {
	return &ReconnectEvent{
		eventBase:   eventBase{sentinel: ErrReconnecting},
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Delay:       delay,
		cancelFn:    cancelFn,
	}
}

// PublishError contains details about a failed publish operation.
// Extract with errors.As().
type PublishError struct {
	eventBase
	Topic      string
	PacketID   uint16
	ReasonCode ReasonCode
}

func (e *PublishError) Error() string {
	return "publish failed: " + e.ReasonCode.String()
}

// NewPublishError creates a new PublishError.
func NewPublishError(topic string, packetID uint16, reason ReasonCode) *PublishError {
	return &PublishError{
		eventBase:  eventBase{sentinel: ErrPublishFailed},
		Topic:      topic,
		PacketID:   packetID,
		ReasonCode: reason,
	}
}

// SubscribeError contains details about a failed subscribe operation.
// Extract with errors.As().
type SubscribeError struct {
	eventBase
	Topic      string
	ReasonCode ReasonCode
}

func (e *SubscribeError) Error() string {
	return "subscribe failed: " + e.ReasonCode.String()
}

// NewSubscribeError creates a new SubscribeError.
func NewSubscribeError(topic string, reason ReasonCode) *SubscribeError {
	return &SubscribeError{
		eventBase:  eventBase{sentinel: ErrSubscribeFailed},
		Topic:      topic,
		ReasonCode: reason,
	}
}

// ConnectionLostError contains details about an unexpected disconnection.
// Extract with errors.As().
type ConnectionLostError struct {
	eventBase
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return "connection lost: " + e.Cause.Error()
	}
	return "connection lost"
}

// NewConnectionLostError creates a new ConnectionLostError.
func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{
		eventBase: eventBase{sentinel: ErrConnectionLost},
		Cause:     cause,
	}
}

// ConnectError contains details about a failed connection attempt.
// Extract with errors.As().
type ConnectError struct {
	eventBase
	ReasonCode ReasonCode
	Properties *Properties
}

func (e *ConnectError) Error() string {
	return "connect failed: " + e.ReasonCode.String()
}

// NewConnectError creates a new ConnectError from a reason code.
func NewConnectError(reason ReasonCode, props *Properties) *ConnectError {
	sentinel := ErrProtocolError
	if reason == ReasonBadUserNameOrPassword || reason == ReasonNotAuthorized {
		sentinel = ErrAuthFailed
	}
	return &ConnectError{
		eventBase:  eventBase{sentinel: sentinel},
		ReasonCode: reason,
		Properties: props,
	}
}
