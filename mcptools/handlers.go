package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/swiftlens/swiftlens/errors"
)

func (s *Server) handleFileSymbols(ctx context.Context, request mcp.CallToolRequest) (any, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	return s.analyzer.FileSymbols(ctx, path)
}

func (s *Server) handleSymbolsOverview(ctx context.Context, request mcp.CallToolRequest) (any, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	return s.analyzer.SymbolsOverview(ctx, path)
}

func (s *Server) handleDeclarationContext(ctx context.Context, request mcp.CallToolRequest) (any, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	return s.analyzer.DeclarationContext(ctx, path)
}

func (s *Server) handleHover(ctx context.Context, request mcp.CallToolRequest) (any, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	line, err := request.RequireInt("line")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	character, err := request.RequireInt("character")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	return s.analyzer.Hover(ctx, path, line, character)
}

func (s *Server) handleReferences(ctx context.Context, request mcp.CallToolRequest) (any, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	symbol, err := request.RequireString("symbol_name")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	includeDecl := request.GetBool("include_declaration", true)
	return s.analyzer.References(ctx, path, symbol, includeDecl)
}

func (s *Server) handleDefinition(ctx context.Context, request mcp.CallToolRequest) (any, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	symbol, err := request.RequireString("symbol_name")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	return s.analyzer.Definition(ctx, path, symbol)
}

// batchEntry is one per-file result in a multi-file analysis. Failures are
// reported in place so one bad path never hides the rest.
type batchEntry struct {
	Path   string           `json:"path"`
	OK     bool             `json:"ok"`
	Result any              `json:"result,omitempty"`
	Error  *errors.Envelope `json:"error,omitempty"`
}

type batchResult struct {
	Files      []batchEntry `json:"files"`
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
}

func (s *Server) handleAnalyzeMany(ctx context.Context, request mcp.CallToolRequest) (any, error) {
	paths, err := request.RequireStringSlice("file_paths")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	if len(paths) == 0 {
		return nil, errors.Wrap(errors.ErrValidation, "file_paths must not be empty")
	}

	outcomes := s.analyzer.AnalyzeMany(ctx, paths, s.batchWorkers,
		func(ctx context.Context, path string) (interface{}, error) {
			return s.analyzer.FileSymbols(ctx, path)
		})

	result := batchResult{
		Files: make([]batchEntry, len(outcomes)),
		Total: len(outcomes),
	}
	for i, outcome := range outcomes {
		entry := batchEntry{Path: outcome.Path}
		if outcome.Err != nil {
			env := errors.ToEnvelope(outcome.Err)
			entry.Error = &env
			result.Failed++
		} else {
			entry.OK = true
			entry.Result = outcome.Result
			result.Successful++
		}
		result.Files[i] = entry
	}
	return result, nil
}

// environmentReport is the swift_check_environment payload.
type environmentReport struct {
	SwiftAvailable bool   `json:"swift_available"`
	Version        string `json:"version,omitempty"`
	Message        string `json:"message,omitempty"`
}

func (s *Server) handleCheckEnvironment(ctx context.Context, request mcp.CallToolRequest) (any, error) {
	available, detail := s.checker.Probe(ctx)
	report := environmentReport{SwiftAvailable: available}
	if available {
		report.Version = detail
	} else {
		report.Message = detail
	}
	return report, nil
}

func (s *Server) handleTypecheck(ctx context.Context, request mcp.CallToolRequest) (any, error) {
	path, err := request.RequireString("file_path")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	return s.checker.Typecheck(ctx, path)
}

func (s *Server) handleBuildIndex(ctx context.Context, request mcp.CallToolRequest) (any, error) {
	projectPath, err := request.RequireString("project_path")
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, err.Error())
	}
	scheme := request.GetString("scheme", "")
	return s.builder.Build(ctx, projectPath, scheme)
}
