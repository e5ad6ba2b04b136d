// Package mcptools exposes the Swift analysis operations as Model Context
// Protocol tools over stdio.
package mcptools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/swiftlens/swiftlens/analyzer"
	"github.com/swiftlens/swiftlens/errors"
	"github.com/swiftlens/swiftlens/indexbuild"
	"github.com/swiftlens/swiftlens/telemetry"
	"github.com/swiftlens/swiftlens/typecheck"
	"github.com/swiftlens/swiftlens/version"
)

// Server wires the analyzer, typecheck driver, and index builder into an MCP
// tool surface.
type Server struct {
	analyzer *analyzer.Analyzer
	checker  *typecheck.Driver
	builder  *indexbuild.Builder
	sink     *telemetry.Sink
	logger   *zap.SugaredLogger

	batchWorkers int

	server    *server.MCPServer
	sessionID string
}

// NewServer builds the tool surface. sink may be nil to disable telemetry.
func NewServer(
	a *analyzer.Analyzer,
	checker *typecheck.Driver,
	builder *indexbuild.Builder,
	sink *telemetry.Sink,
	batchWorkers int,
	logger *zap.SugaredLogger,
) *Server {
	s := &Server{
		analyzer:     a,
		checker:      checker,
		builder:      builder,
		sink:         sink,
		logger:       logger,
		batchWorkers: batchWorkers,
	}

	s.server = server.NewMCPServer(
		"swiftlens",
		version.Version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// Serve runs the stdio transport until the client disconnects. One serve is
// one telemetry session.
func (s *Server) Serve() error {
	if s.sink != nil {
		s.sessionID = uuid.NewString()
		s.sink.LogSessionStart(s.sessionID, `{"transport":"stdio"}`)
		defer s.sink.LogSessionEnd(s.sessionID)
	}
	return server.ServeStdio(s.server)
}

// handler is the shape every tool handler reduces to after parameter
// extraction: a result payload or a classified error.
type handler func(ctx context.Context, request mcp.CallToolRequest) (any, error)

// tool wraps a handler with telemetry and envelope shaping. The payload is
// serialized as JSON; errors become an envelope with the taxonomy kind so
// callers can branch without parsing prose.
func (s *Server) tool(name string, h handler) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var entryID string
		start := time.Now()
		if s.sink != nil {
			entryID = s.sink.LogStart(s.sessionID, clientIDFromContext(ctx), name, request.GetArguments())
		}

		payload, err := h(ctx, request)

		if s.sink != nil {
			var resultText *string
			if err == nil {
				if b, jerr := json.Marshal(payload); jerr == nil {
					text := string(b)
					resultText = &text
				}
			}
			s.sink.LogEnd(entryID, time.Since(start), resultText, err)
		}

		if err != nil {
			s.logger.Debugw("tool call failed",
				"tool", name,
				"kind", errors.KindOf(err),
				"error", err,
			)
			return envelopeResult(errors.ToEnvelope(err))
		}
		return jsonResult(payload)
	}
}

// clientIDFromContext identifies the calling MCP client: the name it sent
// during initialize when available, its session id otherwise.
func clientIDFromContext(ctx context.Context) string {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return ""
	}
	if ci, ok := session.(interface{ GetClientInfo() mcp.Implementation }); ok {
		if info := ci.GetClientInfo(); info.Name != "" {
			return info.Name
		}
	}
	return session.SessionID()
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("failed to serialize result"), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func envelopeResult(env errors.Envelope) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(env.Message), nil
	}
	result := mcp.NewToolResultText(string(b))
	result.IsError = true
	return result, nil
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("swift_analyze_file_symbols",
		mcp.WithDescription("List the full symbol tree of a Swift file, including nested declarations"),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path to a .swift file"),
		),
	), s.tool("swift_analyze_file_symbols", s.handleFileSymbols))

	s.server.AddTool(mcp.NewTool("swift_get_symbols_overview",
		mcp.WithDescription("List only the top-level declarations of a Swift file"),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path to a .swift file"),
		),
	), s.tool("swift_get_symbols_overview", s.handleSymbolsOverview))

	s.server.AddTool(mcp.NewTool("swift_get_declaration_context",
		mcp.WithDescription("List fully-qualified declaration paths (Type.member) for every symbol in a Swift file"),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path to a .swift file"),
		),
	), s.tool("swift_get_declaration_context", s.handleDeclarationContext))

	s.server.AddTool(mcp.NewTool("swift_get_hover_info",
		mcp.WithDescription("Get type signature and documentation for the symbol at a position"),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path to a .swift file"),
		),
		mcp.WithNumber("line",
			mcp.Required(),
			mcp.Description("Line number (one-based)"),
		),
		mcp.WithNumber("character",
			mcp.Required(),
			mcp.Description("Character offset (zero-based)"),
		),
	), s.tool("swift_get_hover_info", s.handleHover))

	s.server.AddTool(mcp.NewTool("swift_find_symbol_references",
		mcp.WithDescription("Find all references to a named symbol declared in a Swift file"),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path to a .swift file"),
		),
		mcp.WithString("symbol_name",
			mcp.Required(),
			mcp.Description("Symbol name as declared, without signature"),
		),
		mcp.WithBoolean("include_declaration",
			mcp.Description("Include the declaration itself in the results (default true)"),
		),
	), s.tool("swift_find_symbol_references", s.handleReferences))

	s.server.AddTool(mcp.NewTool("swift_get_symbol_definition",
		mcp.WithDescription("Find the definition site of a named symbol referenced in a Swift file"),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path to a .swift file"),
		),
		mcp.WithString("symbol_name",
			mcp.Required(),
			mcp.Description("Symbol name to resolve"),
		),
	), s.tool("swift_get_symbol_definition", s.handleDefinition))

	s.server.AddTool(mcp.NewTool("swift_analyze_multiple_files",
		mcp.WithDescription("Analyze symbols in several Swift files concurrently; results preserve input order"),
		mcp.WithArray("file_paths",
			mcp.Required(),
			mcp.Description("Absolute paths to .swift files"),
		),
	), s.tool("swift_analyze_multiple_files", s.handleAnalyzeMany))

	s.server.AddTool(mcp.NewTool("swift_check_environment",
		mcp.WithDescription("Verify the Swift toolchain is installed and report its version"),
	), s.tool("swift_check_environment", s.handleCheckEnvironment))

	s.server.AddTool(mcp.NewTool("swift_validate_file",
		mcp.WithDescription("Typecheck a Swift file with the compiler and report diagnostics"),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Absolute path to a .swift file"),
		),
	), s.tool("swift_validate_file", s.handleTypecheck))

	s.server.AddTool(mcp.NewTool("swift_build_index",
		mcp.WithDescription("Build the project symbol index used for cross-file queries"),
		mcp.WithString("project_path",
			mcp.Required(),
			mcp.Description("Path to the Swift package or Xcode project root"),
		),
		mcp.WithString("scheme",
			mcp.Description("Xcode scheme to build; auto-detected from shared schemes when omitted"),
		),
	), s.tool("swift_build_index", s.handleBuildIndex))
}
