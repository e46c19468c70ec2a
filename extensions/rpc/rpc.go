// Package rpc provides request/response functionality for MQTT v5.0 clients.
// It uses MQTT v5.0 correlation data and response topic properties to match
// requests with their responses.
// MQTT v5.0 spec: Section 4.10 (Request / Response)
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigmqtt/mqtt5"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("rpc: request timeout")

	// ErrClientClosed is returned by Call when the client is not connected.
	ErrClientClosed = errors.New("rpc: client closed")

	// ErrNoResponseTopic is returned when no response topic is configured.
	ErrNoResponseTopic = errors.New("rpc: no response topic configured")
)

// Headers represents RPC headers as key-value pairs, transmitted using
// MQTT v5.0 User Properties.
type Headers map[string]string

// Request represents an RPC request with optional headers.
type Request struct {
	Payload     []byte
	Headers     Headers
	ContentType string
}

// Response represents an RPC response with headers.
type Response struct {
	Payload         []byte
	Headers         Headers
	ContentType     string
	CorrelationData []byte
}

// Client defines the interface required for RPC operations.
type Client interface {
	ClientID() string
	Subscribe(filter string, qos byte, handler mqtt5.MessageHandler) error
	Unsubscribe(filters ...string) error
	Publish(msg *mqtt5.Message) error
	IsConnected() bool
}

// Handler provides request/response functionality using MQTT v5.0 properties.
type Handler struct {
	mu            sync.Mutex
	client        Client
	correlData    map[string]chan *Response
	responseTopic string
	qos           byte
	seq           atomic.Uint64
}

// HandlerOptions configures the RPC handler.
type HandlerOptions struct {
	// ResponseTopic is the topic where responses will be received.
	// If empty, defaults to "rpc/response/{clientID}".
	ResponseTopic string

	// QoS is the quality of service level for requests and subscriptions.
	QoS byte
}

// NewHandler creates a new RPC handler and subscribes to the response topic.
func NewHandler(client Client, opts *HandlerOptions) (*Handler, error) {
	if client == nil {
		return nil, errors.New("rpc: client is required")
	}

	if opts == nil {
		opts = &HandlerOptions{}
	}

	responseTopic := opts.ResponseTopic
	if responseTopic == "" {
		responseTopic = fmt.Sprintf("rpc/response/%s", client.ClientID())
	}

	h := &Handler{
		client:        client,
		correlData:    make(map[string]chan *Response),
		responseTopic: responseTopic,
		qos:           opts.QoS,
	}

	if err := client.Subscribe(responseTopic, opts.QoS, h.handleResponse); err != nil {
		return nil, fmt.Errorf("rpc: failed to subscribe to response topic: %w", err)
	}

	return h, nil
}

// ResponseTopic returns the configured response topic.
func (h *Handler) ResponseTopic() string {
	return h.responseTopic
}

// Call sends an RPC request with headers and waits for a response.
// The request is published to the specified topic with the response topic,
// correlation data, and headers set. The method blocks until a response
// is received or the context is cancelled.
func (h *Handler) Call(ctx context.Context, topic string, req *Request) (*Response, error) {
	if !h.client.IsConnected() {
		return nil, ErrClientClosed
	}

	if req == nil {
		req = &Request{}
	}

	correlID := h.nextCorrelID()

	respChan := make(chan *Response, 1)
	h.addCorrelID(correlID, respChan)
	defer h.removeCorrelID(correlID)

	msg := &mqtt5.Message{
		Topic:           topic,
		Payload:         req.Payload,
		QoS:             h.qos,
		ResponseTopic:   h.responseTopic,
		CorrelationData: []byte(correlID),
		ContentType:     req.ContentType,
	}

	if len(req.Headers) > 0 {
		msg.UserProperties = make([]mqtt5.StringPair, 0, len(req.Headers))
		for k, v := range req.Headers {
			msg.UserProperties = append(msg.UserProperties, mqtt5.StringPair{Key: k, Value: v})
		}
	}

	if err := h.client.Publish(msg); err != nil {
		return nil, fmt.Errorf("rpc: failed to publish request: %w", err)
	}

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// CallWithTimeout is a convenience method that creates a context with timeout.
func (h *Handler) CallWithTimeout(topic string, req *Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Call(ctx, topic, req)
}

// Request sends a simple request without headers and waits for a response.
// For requests with headers, use Call instead.
func (h *Handler) Request(ctx context.Context, topic string, payload []byte) (*Response, error) {
	return h.Call(ctx, topic, &Request{Payload: payload})
}

// RequestWithTimeout is a convenience method that creates a context with timeout.
func (h *Handler) RequestWithTimeout(topic string, payload []byte, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Request(ctx, topic, payload)
}

// Close unsubscribes from the response topic and cleans up resources.
func (h *Handler) Close() error {
	h.mu.Lock()
	for correlID, ch := range h.correlData {
		close(ch)
		delete(h.correlData, correlID)
	}
	h.mu.Unlock()

	return h.client.Unsubscribe(h.responseTopic)
}

// nextCorrelID builds a correlation ID from the current time plus a
// per-handler sequence number, so two calls issued within the same
// nanosecond still get distinct IDs.
func (h *Handler) nextCorrelID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), h.seq.Add(1))
}

func (h *Handler) addCorrelID(correlID string, ch chan *Response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.correlData[correlID] = ch
}

func (h *Handler) removeCorrelID(correlID string) chan *Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.correlData[correlID]
	delete(h.correlData, correlID)
	return ch
}

func (h *Handler) getCorrelChan(correlID string) chan *Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.correlData[correlID]
}

// handleResponse processes incoming response messages.
func (h *Handler) handleResponse(msg *mqtt5.Message) {
	if msg == nil || len(msg.CorrelationData) == 0 {
		return
	}

	correlID := string(msg.CorrelationData)
	ch := h.getCorrelChan(correlID)
	if ch == nil {
		return // no waiting request for this correlation ID
	}

	resp := &Response{
		Payload:         msg.Payload,
		ContentType:     msg.ContentType,
		CorrelationData: msg.CorrelationData,
	}

	if len(msg.UserProperties) > 0 {
		resp.Headers = make(Headers, len(msg.UserProperties))
		for _, prop := range msg.UserProperties {
			resp.Headers[prop.Key] = prop.Value
		}
	}

	select {
	case ch <- resp:
	default:
		// channel full, response dropped
	}
}
