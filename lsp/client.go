package lsp

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/swiftlens/swiftlens/errors"
)

// State is the lifecycle state of a client session.
type State int32

const (
	StateNew State = iota
	StateInitializing
	StateReady
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Timeouts holds the per-call deadline classes.
type Timeouts struct {
	Initialize time.Duration // first launch warms the index
	Request    time.Duration // default class
	Heavy      time.Duration // document symbols, cross-index references
	Quick      time.Duration // hover
}

// DefaultTimeouts returns the standard deadline classes.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Initialize: 60 * time.Second,
		Request:    30 * time.Second,
		Heavy:      120 * time.Second,
		Quick:      15 * time.Second,
	}
}

// DefaultTimeoutLimit is how many consecutive timeouts on one session ask
// the supervisor for a restart.
const DefaultTimeoutLimit = 3

type jsonrpcRequest struct {
	Jsonrpc string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type jsonrpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type jsonrpcMessage struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

const methodNotFound = -32601

// Client speaks LSP over a framed transport. A single reader goroutine owns
// Recv and dispatches responses by id to awaiting callers; any goroutine may
// issue requests concurrently.
type Client struct {
	transport *Transport
	logger    *zap.SugaredLogger
	timeouts  Timeouts

	nextID atomic.Int64

	mu                  sync.Mutex
	state               State
	pending             map[int64]chan *jsonrpcMessage
	openDocs            map[string]struct{}
	consecutiveTimeouts int
	timeoutLimit        int
	fatalErr            error
	idle                *sync.Cond // signaled when pending drains

	done chan struct{}
}

// NewClient creates a client over the transport and starts its reader.
func NewClient(transport *Transport, logger *zap.SugaredLogger, timeouts Timeouts, timeoutLimit int) *Client {
	if timeoutLimit <= 0 {
		timeoutLimit = DefaultTimeoutLimit
	}
	c := &Client{
		transport:    transport,
		logger:       logger,
		timeouts:     timeouts,
		pending:      make(map[int64]chan *jsonrpcMessage),
		openDocs:     make(map[string]struct{}),
		timeoutLimit: timeoutLimit,
		done:         make(chan struct{}),
	}
	c.idle = sync.NewCond(&c.mu)
	go c.readLoop()
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the session dies, either from a fatal transport error
// or explicit termination.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the fatal error that killed the session, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatalErr
}

// TimedOut reports whether the consecutive-timeout limit has tripped and the
// supervisor should recycle this session.
func (c *Client) TimedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveTimeouts >= c.timeoutLimit
}

// Initialize performs the initialize handshake. Must be the first request.
func (c *Client) Initialize(ctx context.Context, rootPath string) (ServerCapabilities, error) {
	c.mu.Lock()
	if c.state != StateNew {
		state := c.state
		c.mu.Unlock()
		return nil, errors.Newf("initialize in state %s", state)
	}
	c.state = StateInitializing
	c.mu.Unlock()

	params := map[string]interface{}{
		"processId": nil,
		"rootUri":   "file://" + rootPath,
		"capabilities": map[string]interface{}{
			"textDocument": map[string]interface{}{
				"documentSymbol": map[string]interface{}{
					"hierarchicalDocumentSymbolSupport": true,
				},
				"definition": map[string]interface{}{
					"linkSupport": true,
				},
				"references": map[string]interface{}{},
				"hover":      map[string]interface{}{},
			},
		},
	}

	var result struct {
		Capabilities json.RawMessage `json:"capabilities"`
	}
	if err := c.call(ctx, "initialize", params, &result, c.timeouts.Initialize); err != nil {
		return nil, errors.Wrapf(err, "initialize for root %s", rootPath)
	}
	if err := c.notify("initialized", map[string]interface{}{}); err != nil {
		return nil, errors.Wrap(err, "initialized notification")
	}

	c.mu.Lock()
	if c.state == StateInitializing {
		c.state = StateReady
	}
	c.mu.Unlock()
	return ServerCapabilities(result.Capabilities), nil
}

// DidOpen announces a document to the server.
func (c *Client) DidOpen(uri, languageID string, version int, text string) error {
	params := map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri":        uri,
			"languageId": languageID,
			"version":    version,
			"text":       text,
		},
	}
	if err := c.notify("textDocument/didOpen", params); err != nil {
		return err
	}
	c.mu.Lock()
	c.openDocs[uri] = struct{}{}
	c.mu.Unlock()
	return nil
}

// DidClose retracts a previously opened document.
func (c *Client) DidClose(uri string) error {
	params := map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
	}
	err := c.notify("textDocument/didClose", params)
	c.mu.Lock()
	delete(c.openDocs, uri)
	c.mu.Unlock()
	return err
}

// OpenDocuments returns the URIs currently announced as open.
func (c *Client) OpenDocuments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	uris := make([]string, 0, len(c.openDocs))
	for uri := range c.openDocs {
		uris = append(uris, uri)
	}
	return uris
}

// DocumentSymbols returns the symbol tree of a document.
func (c *Client) DocumentSymbols(ctx context.Context, uri string) ([]DocumentSymbol, error) {
	params := map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
	}
	var result []DocumentSymbol
	if err := c.call(ctx, "textDocument/documentSymbol", params, &result, c.timeouts.Heavy); err != nil {
		return nil, errors.Wrapf(err, "documentSymbol for %s", uri)
	}
	return result, nil
}

// Hover returns hover information at a position, or nil when the server has
// nothing to say.
func (c *Client) Hover(ctx context.Context, uri string, pos Position) (*Hover, error) {
	params := map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"position":     pos,
	}
	var raw json.RawMessage
	if err := c.call(ctx, "textDocument/hover", params, &raw, c.timeouts.Quick); err != nil {
		return nil, errors.Wrapf(err, "hover at %s:%d:%d", uri, pos.Line, pos.Character)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var hover Hover
	if err := json.Unmarshal(raw, &hover); err != nil {
		return nil, errors.Wrap(err, "unmarshal hover result")
	}
	return &hover, nil
}

// References finds all references to the symbol at a position.
func (c *Client) References(ctx context.Context, uri string, pos Position, includeDeclaration bool) ([]Location, error) {
	params := map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"position":     pos,
		"context": map[string]interface{}{
			"includeDeclaration": includeDeclaration,
		},
	}
	var result []Location
	if err := c.call(ctx, "textDocument/references", params, &result, c.timeouts.Heavy); err != nil {
		return nil, errors.Wrapf(err, "references at %s:%d:%d", uri, pos.Line, pos.Character)
	}
	return result, nil
}

// Definition returns the definition locations for the symbol at a position.
// Servers answer with Location, []Location, or []LocationLink depending on
// capabilities; all three shapes collapse to []Location here.
func (c *Client) Definition(ctx context.Context, uri string, pos Position) ([]Location, error) {
	params := map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"position":     pos,
	}
	var raw json.RawMessage
	if err := c.call(ctx, "textDocument/definition", params, &raw, c.timeouts.Request); err != nil {
		return nil, errors.Wrapf(err, "definition at %s:%d:%d", uri, pos.Line, pos.Character)
	}
	return decodeDefinition(raw)
}

func decodeDefinition(raw json.RawMessage) ([]Location, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var locs []Location
	if err := json.Unmarshal(raw, &locs); err == nil && (len(locs) == 0 || locs[0].URI != "") {
		return locs, nil
	}
	var loc Location
	if err := json.Unmarshal(raw, &loc); err == nil && loc.URI != "" {
		return []Location{loc}, nil
	}
	var links []struct {
		TargetURI            string `json:"targetUri"`
		TargetSelectionRange Range  `json:"targetSelectionRange"`
	}
	if err := json.Unmarshal(raw, &links); err == nil {
		out := make([]Location, 0, len(links))
		for _, l := range links {
			out = append(out, Location{URI: l.TargetURI, Range: l.TargetSelectionRange})
		}
		return out, nil
	}
	return nil, errors.Newf("unrecognized definition result %s", string(raw))
}

// Shutdown drains in-flight requests within the context's grace period, then
// performs the ordered shutdown/exit termination and closes the transport.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateTerminated:
		c.mu.Unlock()
		return nil
	case StateDraining:
		c.mu.Unlock()
		return errors.New("shutdown already in progress")
	}
	c.state = StateDraining
	c.mu.Unlock()

	c.waitIdle(ctx)

	shutdownErr := c.call(ctx, "shutdown", nil, nil, c.timeouts.Request)
	if err := c.notify("exit", nil); err != nil && shutdownErr == nil {
		shutdownErr = err
	}

	c.terminate(nil)
	if shutdownErr != nil {
		return errors.Wrap(shutdownErr, "ordered shutdown")
	}
	return nil
}

// waitIdle blocks until no requests are in flight or the context expires.
func (c *Client) waitIdle(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.mu.Lock()
		for len(c.pending) > 0 && c.state == StateDraining {
			c.idle.Wait()
		}
		c.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Grace period elapsed; in-flight requests fail on termination.
		c.mu.Lock()
		c.idle.Broadcast()
		c.mu.Unlock()
	}
}

// Kill terminates the session immediately. In-flight requests fail with
// session-lost.
func (c *Client) Kill() {
	c.terminate(errors.Wrap(ErrTransportClosed, "session killed"))
}

func (c *Client) terminate(cause error) {
	c.transport.Close()
	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	c.state = StateTerminated
	if c.fatalErr == nil {
		c.fatalErr = cause
	}
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.idle.Broadcast()
	c.mu.Unlock()
	close(c.done)
}

// call sends a request and waits for its response, the per-call deadline, or
// session death, whichever comes first.
func (c *Client) call(ctx context.Context, method string, params, result interface{}, timeout time.Duration) error {
	c.mu.Lock()
	switch c.state {
	case StateInitializing:
		if method != "initialize" {
			c.mu.Unlock()
			return errors.New("not-initialized: session still initializing")
		}
	case StateReady:
	case StateDraining:
		if method != "shutdown" {
			c.mu.Unlock()
			return errors.Wrap(errors.ErrSessionLost, "session draining")
		}
	default:
		state := c.state
		c.mu.Unlock()
		if state == StateTerminated {
			return errors.Wrap(errors.ErrSessionLost, "session terminated")
		}
		return errors.New("not-initialized: initialize must be the first request")
	}

	id := c.nextID.Add(1)
	ch := make(chan *jsonrpcMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := jsonrpcRequest{Jsonrpc: "2.0", ID: &id, Method: method, Params: params}
	if err := c.transport.Send(req); err != nil {
		c.removePending(id)
		c.terminate(errors.Wrapf(err, "write request %s", method))
		return errors.Wrapf(errors.ErrSessionLost, "write request %s: %v", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return errors.Wrapf(errors.ErrSessionLost, "session died during %s", method)
		}
		c.mu.Lock()
		c.consecutiveTimeouts = 0
		c.mu.Unlock()
		if resp.Error != nil {
			return errors.NewLSPError(resp.Error.Code, resp.Error.Message)
		}
		if result != nil && len(resp.Result) > 0 && string(resp.Result) != "null" {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return errors.Wrapf(err, "unmarshal %s response", method)
			}
		}
		return nil

	case <-timer.C:
		c.cancelRequest(id)
		c.mu.Lock()
		c.consecutiveTimeouts++
		count := c.consecutiveTimeouts
		c.mu.Unlock()
		c.logger.Warnw("LSP request timed out",
			"method", method,
			"timeout", timeout,
			"consecutive", count,
		)
		return errors.Wrapf(errors.ErrTimeout, "%s after %s", method, timeout)

	case <-ctx.Done():
		c.cancelRequest(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Wrapf(errors.ErrTimeout, "%s: %v", method, ctx.Err())
		}
		return errors.Wrapf(ctx.Err(), "request %s cancelled", method)

	case <-c.done:
		return errors.Wrapf(errors.ErrSessionLost, "session died during %s", method)
	}
}

// cancelRequest removes the pending entry and tells the server to abandon
// the request. The pending entry is gone before this returns, so a late
// response for the id is dropped by the reader.
func (c *Client) cancelRequest(id int64) {
	c.removePending(id)
	if err := c.notify("$/cancelRequest", map[string]interface{}{"id": id}); err != nil {
		c.logger.Debugw("cancelRequest notification failed", "id", id, "error", err)
	}
}

func (c *Client) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	if len(c.pending) == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// notify sends a JSON-RPC notification (no response expected). Notifications
// reach the server in issue order because the transport serializes writes.
func (c *Client) notify(method string, params interface{}) error {
	req := jsonrpcRequest{Jsonrpc: "2.0", Method: method, Params: params}
	if err := c.transport.Send(req); err != nil {
		return errors.Wrapf(err, "notify %s", method)
	}
	return nil
}

// readLoop owns Recv. It dispatches responses by id, drops late responses,
// answers unknown server requests, and terminates the session on transport
// failure.
func (c *Client) readLoop() {
	for {
		body, err := c.transport.Recv()
		if err != nil {
			c.terminate(errors.Wrap(errors.ErrSessionLost, err.Error()))
			return
		}

		var msg jsonrpcMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			c.logger.Warnw("undecodable LSP frame", "error", err)
			continue
		}

		switch {
		case msg.Method != "" && msg.ID != nil:
			// Server-to-client request. SwiftLens implements none, so
			// answer method-not-found to keep the server's state clean.
			c.respondMethodNotFound(*msg.ID, msg.Method)

		case msg.Method != "":
			// Server notification (publishDiagnostics, progress). Observed
			// but unused.
			c.logger.Debugw("server notification", "method", msg.Method)

		case msg.ID != nil:
			c.mu.Lock()
			ch, ok := c.pending[*msg.ID]
			if ok {
				delete(c.pending, *msg.ID)
				if len(c.pending) == 0 {
					c.idle.Broadcast()
				}
			}
			c.mu.Unlock()
			if ok {
				ch <- &msg
			} else {
				// Late response after cancel or timeout.
				c.logger.Debugw("dropping late response", "id", *msg.ID)
			}
		}
	}
}

func (c *Client) respondMethodNotFound(id int64, method string) {
	resp := struct {
		Jsonrpc string        `json:"jsonrpc"`
		ID      int64         `json:"id"`
		Error   *jsonrpcError `json:"error"`
	}{
		Jsonrpc: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: methodNotFound, Message: "method not supported: " + method},
	}
	if err := c.transport.Send(resp); err != nil {
		c.logger.Debugw("failed to answer server request", "method", method, "error", err)
	}
}
