package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/zjrosen/chorus/internal/log"
)

// ErrClosed is returned by Call when the agent process has exited.
var ErrClosed = errors.New("acp client closed")

// RequestHandler serves an agent-initiated request. The returned value is
// marshaled as the result; an error becomes a -32000 response. Handlers run
// on the reader goroutine and must not block.
type RequestHandler func(params json.RawMessage) (any, error)

// NotificationHandler consumes an agent-initiated notification. It runs on
// the reader goroutine and must not block; route work into a queue.
type NotificationHandler func(params json.RawMessage)

type pendingCall struct {
	result json.RawMessage
	err    error
}

// Client is a JSON-RPC 2.0 client over newline-delimited JSON.
//
// Outbound requests get integer ids starting at 1 and resolve to the exact
// caller. Writes are serialized; the single reader goroutine dispatches
// responses, serves agent requests, and forwards notifications.
type Client struct {
	name   string
	writer io.Writer
	wmu    sync.Mutex

	pmu     sync.Mutex
	nextID  int64
	pending map[int64]chan pendingCall
	closed  bool

	hmu           sync.RWMutex
	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler

	done chan struct{}
}

// NewClient creates a client writing requests to w, typically the agent's
// stdin pipe. Call Run with the agent's stdout lines to start dispatching.
func NewClient(name string, w io.Writer) *Client {
	return &Client{
		name:          name,
		writer:        w,
		pending:       make(map[int64]chan pendingCall),
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
		done:          make(chan struct{}),
	}
}

// OnRequest registers a handler for an agent-initiated request method.
func (c *Client) OnRequest(method string, handler RequestHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.requests[method] = handler
}

// OnNotification registers a handler for an agent-initiated notification
// method.
func (c *Client) OnNotification(method string, handler NotificationHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.notifications[method] = handler
}

// Done is closed once Run exits, after every pending call has been failed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Call sends a request and blocks until the agent responds, the context
// ends, or the client closes. A non-nil result receives the unmarshaled
// response result.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	c.pmu.Lock()
	if c.closed {
		c.pmu.Unlock()
		return ErrClosed
	}
	c.nextID++
	id := c.nextID
	ch := make(chan pendingCall, 1)
	c.pending[id] = ch
	c.pmu.Unlock()

	if params == nil {
		params = struct{}{}
	}
	if err := c.write(request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		c.pmu.Lock()
		delete(c.pending, id)
		c.pmu.Unlock()
		return fmt.Errorf("failed to send %s request: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if result != nil && len(res.result) > 0 {
			if err := json.Unmarshal(res.result, result); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.pmu.Lock()
		delete(c.pending, id)
		c.pmu.Unlock()
		return ctx.Err()
	}
}

// Run consumes agent stdout lines until the channel closes, then fails
// every pending call with ErrClosed. Malformed lines are dropped.
func (c *Client) Run(lines <-chan string) {
	defer c.close()
	for line := range lines {
		c.dispatch([]byte(line))
	}
}

func (c *Client) close() {
	c.pmu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- pendingCall{err: ErrClosed}
		delete(c.pending, id)
	}
	c.pmu.Unlock()
	close(c.done)
}

func (c *Client) dispatch(line []byte) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		log.Debug(log.CatACP, "ignoring malformed line",
			"provider", c.name, "error", err)
		return
	}

	hasID := len(msg.ID) > 0 && string(msg.ID) != "null"
	switch {
	case hasID && msg.Method == "":
		c.resolve(msg)
	case hasID:
		c.serveRequest(msg)
	default:
		c.forwardNotification(msg)
	}
}

// resolve completes the pending call matching the response id.
func (c *Client) resolve(msg message) {
	var id int64
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		log.Debug(log.CatACP, "response with non-integer id",
			"provider", c.name, "id", string(msg.ID))
		return
	}

	c.pmu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.pmu.Unlock()
	if !ok {
		log.Debug(log.CatACP, "response for unknown call",
			"provider", c.name, "id", id)
		return
	}

	if msg.Error != nil {
		ch <- pendingCall{err: msg.Error}
		return
	}
	ch <- pendingCall{result: msg.Result}
}

// serveRequest answers an agent-initiated request inline.
func (c *Client) serveRequest(msg message) {
	c.hmu.RLock()
	handler, ok := c.requests[msg.Method]
	c.hmu.RUnlock()

	if !ok {
		log.Debug(log.CatACP, "unknown agent request",
			"provider", c.name, "method", msg.Method)
		c.respondError(msg.ID, &RPCError{Code: ErrCodeMethodNotFound, Message: "Method not found", Data: msg.Method})
		return
	}

	result, err := handler(msg.Params)
	if err != nil {
		c.respondError(msg.ID, &RPCError{Code: ErrCodeHandlerFailed, Message: err.Error()})
		return
	}
	if result == nil {
		result = struct{}{}
	}
	if werr := c.write(response{JSONRPC: JSONRPCVersion, ID: msg.ID, Result: result}); werr != nil {
		log.Debug(log.CatACP, "failed to answer agent request",
			"provider", c.name, "method", msg.Method, "error", werr)
	}
}

func (c *Client) respondError(id json.RawMessage, rpcErr *RPCError) {
	if err := c.write(response{JSONRPC: JSONRPCVersion, ID: id, Error: rpcErr}); err != nil {
		log.Debug(log.CatACP, "failed to send error response",
			"provider", c.name, "error", err)
	}
}

func (c *Client) forwardNotification(msg message) {
	c.hmu.RLock()
	handler, ok := c.notifications[msg.Method]
	c.hmu.RUnlock()

	if !ok {
		log.Debug(log.CatACP, "unhandled notification",
			"provider", c.name, "method", msg.Method)
		return
	}
	handler(msg.Params)
}

// write marshals v and sends it as one newline-terminated frame.
func (c *Client) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
