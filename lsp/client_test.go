package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swiftlens/swiftlens/errors"
)

// fakeServer speaks the server side of the protocol over an in-process pipe
// pair. The handler decides the reply per request; returning respond=false
// swallows the request, which is how tests force timeouts.
type fakeServer struct {
	transport *Transport
	handler   func(method string, params json.RawMessage) (interface{}, *jsonrpcError, bool)

	mu            sync.Mutex
	notifications []jsonrpcMessage
	responses     []jsonrpcMessage
}

func newFakePair(t *testing.T, timeouts Timeouts, timeoutLimit int) (*Client, *fakeServer) {
	t.Helper()

	toClient, fromServer := io.Pipe()
	toServer, fromClient := io.Pipe()

	client := NewClient(NewTransport(toClient, fromClient, fromClient), zap.NewNop().Sugar(), timeouts, timeoutLimit)
	server := &fakeServer{
		transport: NewTransport(toServer, fromServer, fromServer),
	}
	server.handler = func(method string, params json.RawMessage) (interface{}, *jsonrpcError, bool) {
		if method == "initialize" {
			return map[string]interface{}{"capabilities": map[string]interface{}{}}, nil, true
		}
		return json.RawMessage("null"), nil, true
	}
	go server.run()

	t.Cleanup(func() {
		client.Kill()
		server.transport.Close()
	})
	return client, server
}

func (s *fakeServer) run() {
	for {
		body, err := s.transport.Recv()
		if err != nil {
			return
		}
		var msg jsonrpcMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			continue
		}
		if msg.ID == nil {
			s.mu.Lock()
			s.notifications = append(s.notifications, msg)
			s.mu.Unlock()
			continue
		}
		if msg.Method == "" {
			// Reply to a server-to-client request.
			s.mu.Lock()
			s.responses = append(s.responses, msg)
			s.mu.Unlock()
			continue
		}
		result, rpcErr, respond := s.handler(msg.Method, msg.Params)
		if !respond {
			continue
		}
		s.reply(*msg.ID, result, rpcErr)
	}
}

func (s *fakeServer) reply(id int64, result interface{}, rpcErr *jsonrpcError) {
	resp := struct {
		Jsonrpc string        `json:"jsonrpc"`
		ID      int64         `json:"id"`
		Result  interface{}   `json:"result,omitempty"`
		Error   *jsonrpcError `json:"error,omitempty"`
	}{Jsonrpc: "2.0", ID: id, Result: result, Error: rpcErr}
	s.transport.Send(resp)
}

func (s *fakeServer) waitForNotification(t *testing.T, method string) jsonrpcMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, n := range s.notifications {
			if n.Method == method {
				s.mu.Unlock()
				return n
			}
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("notification %s never arrived", method)
	return jsonrpcMessage{}
}

func testTimeouts() Timeouts {
	return Timeouts{
		Initialize: 2 * time.Second,
		Request:    2 * time.Second,
		Heavy:      2 * time.Second,
		Quick:      2 * time.Second,
	}
}

func TestClientInitializeHandshake(t *testing.T) {
	client, server := newFakePair(t, testTimeouts(), 3)

	assert.Equal(t, StateNew, client.State())

	caps, err := client.Initialize(context.Background(), "/tmp/project")
	require.NoError(t, err)
	assert.NotNil(t, caps)
	assert.Equal(t, StateReady, client.State())

	server.waitForNotification(t, "initialized")
}

func TestClientRejectsRequestsBeforeInitialize(t *testing.T) {
	client, _ := newFakePair(t, testTimeouts(), 3)

	_, err := client.DocumentSymbols(context.Background(), "file:///a.swift")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-initialized")
}

func TestClientCorrelatesConcurrentResponses(t *testing.T) {
	client, server := newFakePair(t, testTimeouts(), 3)

	// Echo the requested position back in the hover contents so each caller
	// can verify it received its own answer.
	server.handler = func(method string, params json.RawMessage) (interface{}, *jsonrpcError, bool) {
		switch method {
		case "initialize":
			return map[string]interface{}{"capabilities": map[string]interface{}{}}, nil, true
		case "textDocument/hover":
			var p struct {
				Position Position `json:"position"`
			}
			json.Unmarshal(params, &p)
			return map[string]interface{}{
				"contents": fmt.Sprintf("line-%d", p.Position.Line),
			}, nil, true
		}
		return nil, nil, true
	}

	_, err := client.Initialize(context.Background(), "/tmp/project")
	require.NoError(t, err)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hover, err := client.Hover(context.Background(), "file:///a.swift", Position{Line: i})
			if assert.NoError(t, err) && assert.NotNil(t, hover) {
				results[i] = hover.GetText()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.Equal(t, fmt.Sprintf("line-%d", i), results[i])
	}
}

func TestClientTimeoutSendsCancelAndCounts(t *testing.T) {
	timeouts := testTimeouts()
	timeouts.Quick = 50 * time.Millisecond
	client, server := newFakePair(t, timeouts, 3)

	server.handler = func(method string, params json.RawMessage) (interface{}, *jsonrpcError, bool) {
		switch method {
		case "initialize":
			return map[string]interface{}{"capabilities": map[string]interface{}{}}, nil, true
		case "textDocument/hover":
			return nil, nil, false // never answer
		}
		return nil, nil, true
	}

	_, err := client.Initialize(context.Background(), "/tmp/project")
	require.NoError(t, err)

	_, err = client.Hover(context.Background(), "file:///a.swift", Position{})
	require.Error(t, err)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))

	cancel := server.waitForNotification(t, "$/cancelRequest")
	var p struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(cancel.Params, &p))
	assert.NotZero(t, p.ID)

	assert.False(t, client.TimedOut(), "one timeout should not trip the limit")
}

func TestClientConsecutiveTimeoutsTripLimitAndSuccessResets(t *testing.T) {
	timeouts := testTimeouts()
	timeouts.Quick = 30 * time.Millisecond
	client, server := newFakePair(t, timeouts, 3)

	var mu sync.Mutex
	answerHover := false
	server.handler = func(method string, params json.RawMessage) (interface{}, *jsonrpcError, bool) {
		switch method {
		case "initialize":
			return map[string]interface{}{"capabilities": map[string]interface{}{}}, nil, true
		case "textDocument/hover":
			mu.Lock()
			answer := answerHover
			mu.Unlock()
			if !answer {
				return nil, nil, false
			}
			return map[string]interface{}{"contents": "ok"}, nil, true
		}
		return nil, nil, true
	}

	_, err := client.Initialize(context.Background(), "/tmp/project")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = client.Hover(context.Background(), "file:///a.swift", Position{})
		require.Error(t, err)
	}
	assert.False(t, client.TimedOut())

	// A success in between resets the streak.
	mu.Lock()
	answerHover = true
	mu.Unlock()
	_, err = client.Hover(context.Background(), "file:///a.swift", Position{})
	require.NoError(t, err)
	assert.False(t, client.TimedOut())

	mu.Lock()
	answerHover = false
	mu.Unlock()
	for i := 0; i < 3; i++ {
		_, err = client.Hover(context.Background(), "file:///a.swift", Position{})
		require.Error(t, err)
	}
	assert.True(t, client.TimedOut())
}

func TestClientLSPErrorCarriesCode(t *testing.T) {
	client, server := newFakePair(t, testTimeouts(), 3)

	server.handler = func(method string, params json.RawMessage) (interface{}, *jsonrpcError, bool) {
		if method == "initialize" {
			return map[string]interface{}{"capabilities": map[string]interface{}{}}, nil, true
		}
		return nil, &jsonrpcError{Code: -32602, Message: "invalid params"}, true
	}

	_, err := client.Initialize(context.Background(), "/tmp/project")
	require.NoError(t, err)

	_, err = client.DocumentSymbols(context.Background(), "file:///a.swift")
	require.Error(t, err)
	assert.Equal(t, errors.KindLSPError, errors.KindOf(err))

	var lspErr *errors.LSPError
	require.True(t, errors.As(err, &lspErr))
	assert.Equal(t, -32602, lspErr.Code)
}

func TestClientDocumentTracking(t *testing.T) {
	client, server := newFakePair(t, testTimeouts(), 3)

	_, err := client.Initialize(context.Background(), "/tmp/project")
	require.NoError(t, err)

	require.NoError(t, client.DidOpen("file:///a.swift", "swift", 1, "let a = 1"))
	require.NoError(t, client.DidOpen("file:///b.swift", "swift", 1, "let b = 2"))
	assert.Len(t, client.OpenDocuments(), 2)

	require.NoError(t, client.DidClose("file:///a.swift"))
	assert.Equal(t, []string{"file:///b.swift"}, client.OpenDocuments())

	server.waitForNotification(t, "textDocument/didOpen")
	server.waitForNotification(t, "textDocument/didClose")
}

func TestClientShutdownTerminates(t *testing.T) {
	client, server := newFakePair(t, testTimeouts(), 3)

	_, err := client.Initialize(context.Background(), "/tmp/project")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.Shutdown(ctx))
	assert.Equal(t, StateTerminated, client.State())

	server.waitForNotification(t, "exit")

	_, err = client.Hover(context.Background(), "file:///a.swift", Position{})
	require.Error(t, err)
	assert.Equal(t, errors.KindSessionLost, errors.KindOf(err))
}

func TestClientTransportDeathFailsInFlight(t *testing.T) {
	client, server := newFakePair(t, testTimeouts(), 3)

	server.handler = func(method string, params json.RawMessage) (interface{}, *jsonrpcError, bool) {
		if method == "initialize" {
			return map[string]interface{}{"capabilities": map[string]interface{}{}}, nil, true
		}
		// Kill the connection instead of answering.
		go server.transport.Close()
		return nil, nil, false
	}

	_, err := client.Initialize(context.Background(), "/tmp/project")
	require.NoError(t, err)

	_, err = client.DocumentSymbols(context.Background(), "file:///a.swift")
	require.Error(t, err)
	assert.Equal(t, errors.KindSessionLost, errors.KindOf(err))

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client never observed transport death")
	}
}

func TestClientAnswersServerRequestsWithMethodNotFound(t *testing.T) {
	client, server := newFakePair(t, testTimeouts(), 3)

	_, err := client.Initialize(context.Background(), "/tmp/project")
	require.NoError(t, err)

	id := int64(999)
	require.NoError(t, server.transport.Send(jsonrpcRequest{Jsonrpc: "2.0", ID: &id, Method: "workspace/configuration"}))

	deadline := time.Now().Add(2 * time.Second)
	for {
		server.mu.Lock()
		n := len(server.responses)
		var got jsonrpcMessage
		if n > 0 {
			got = server.responses[0]
		}
		server.mu.Unlock()

		if n > 0 {
			require.NotNil(t, got.ID)
			assert.Equal(t, id, *got.ID)
			require.NotNil(t, got.Error)
			assert.Equal(t, methodNotFound, got.Error.Code)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never answered the server request")
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, StateReady, client.State())
}

func TestDecodeDefinitionShapes(t *testing.T) {
	loc := `{"uri":"file:///a.swift","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}}`

	single, err := decodeDefinition(json.RawMessage(loc))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "file:///a.swift", single[0].URI)

	list, err := decodeDefinition(json.RawMessage("[" + loc + "," + loc + "]"))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	links, err := decodeDefinition(json.RawMessage(`[{"targetUri":"file:///b.swift","targetSelectionRange":{"start":{"line":3,"character":0},"end":{"line":3,"character":4}}}]`))
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "file:///b.swift", links[0].URI)
	assert.Equal(t, 3, links[0].Range.Start.Line)

	null, err := decodeDefinition(json.RawMessage("null"))
	require.NoError(t, err)
	assert.Nil(t, null)
}
