package mcptools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(nil, nil, nil, nil, 0, zap.NewNop().Sugar())
}

func listToolsJSON(t *testing.T, s *Server) string {
	t.Helper()
	resp := s.server.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(resp)
	require.NoError(t, err)
	return string(b)
}

func TestToolRegistrationExposesAllTools(t *testing.T) {
	tools := listToolsJSON(t, newTestServer(t))

	for _, name := range []string{
		"swift_analyze_file_symbols",
		"swift_get_symbols_overview",
		"swift_get_declaration_context",
		"swift_get_hover_info",
		"swift_find_symbol_references",
		"swift_get_symbol_definition",
		"swift_analyze_multiple_files",
		"swift_check_environment",
		"swift_validate_file",
		"swift_build_index",
	} {
		assert.Contains(t, tools, `"`+name+`"`)
	}
}

func TestReferencesToolDeclaresIncludeDeclaration(t *testing.T) {
	tools := listToolsJSON(t, newTestServer(t))
	assert.Contains(t, tools, `"include_declaration"`,
		"optional parameters must appear in the tool schema so clients can discover them")
}

// fakeClientSession satisfies the minimal session surface the server stores
// in tool-call contexts.
type fakeClientSession struct {
	id          string
	clientInfo  mcp.Implementation
	initialized bool
	notifs      chan mcp.JSONRPCNotification
}

func (s *fakeClientSession) SessionID() string  { return s.id }
func (s *fakeClientSession) Initialize()        { s.initialized = true }
func (s *fakeClientSession) Initialized() bool  { return s.initialized }
func (s *fakeClientSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifs
}
func (s *fakeClientSession) GetClientInfo() mcp.Implementation { return s.clientInfo }

func TestClientIDFromContext(t *testing.T) {
	s := newTestServer(t)

	assert.Empty(t, clientIDFromContext(context.Background()),
		"no session means no client id")

	named := &fakeClientSession{
		id:         "session-1",
		clientInfo: mcp.Implementation{Name: "claude-desktop", Version: "1.0"},
		notifs:     make(chan mcp.JSONRPCNotification, 1),
	}
	ctx := s.server.WithContext(context.Background(), named)
	assert.Equal(t, "claude-desktop", clientIDFromContext(ctx),
		"the initialize client name identifies the caller")

	anonymous := &fakeClientSession{
		id:     "session-2",
		notifs: make(chan mcp.JSONRPCNotification, 1),
	}
	ctx = s.server.WithContext(context.Background(), anonymous)
	assert.Equal(t, "session-2", clientIDFromContext(ctx),
		"sessions without client info fall back to the session id")
}
