// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes memory bank tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sm-moshi/aimemory-sub003/internal/bankservice"
	"github.com/sm-moshi/aimemory-sub003/internal/models"
)

// Server wraps the MCP server with memory bank tools.
type Server struct {
	mcp *server.MCPServer
	svc *bankservice.Service
}

// New creates a new MCP server with all memory bank tools registered.
func New(svc *bankservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Memory Bank",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read the full content of a memory bank document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document (e.g. core/projectbrief.md)")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("write_document",
		mcp.WithDescription("Create or replace a memory bank document at the specified path. "+
			"Content SHOULD follow the canonical document format (optional YAML frontmatter "+
			"with title, type, tags; Markdown body). Read the contract first via the "+
			"get_document_contract tool or the memorybank://document-format resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the document (must end with .md)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content following the document format contract")),
	), s.writeDocument)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List all indexed documents, optionally restricted to a type."),
		mcp.WithString("type", mcp.Description("Optional document type to list (empty for all)")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Search document metadata (title, description, path, type, tags)."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("rebuild_index",
		mcp.WithDescription("Rebuild the metadata index from disk. Reports per-file errors without aborting."),
		mcp.WithString("force", mcp.Description("Set to true to also drop the content cache")),
	), s.rebuildIndex)

	s.mcp.AddTool(mcp.NewTool("get_index_stats",
		mcp.WithDescription("Aggregate statistics over the indexed documents."),
	), s.getIndexStats)

	s.mcp.AddTool(mcp.NewTool("get_document_contract",
		mcp.WithDescription("Returns the canonical memory bank document format contract. "+
			"Call this before creating or updating documents to ensure correct structure."),
	), s.getDocumentContract)

	// Resource: document format contract.
	s.mcp.AddResource(
		mcp.NewResource("memorybank://document-format", "Document Format Contract",
			mcp.WithResourceDescription("Canonical Markdown document format that memory bank documents should follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDocumentFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.svc.ReadDocument(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read %s: %v", path, err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) writeDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.WriteDocument(ctx, path, []byte(content)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("written: %s", path)), nil
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docType := ""
	if v, err := req.RequireString("type"); err == nil {
		docType = v
	}

	var paths []string
	for _, entry := range s.svc.ListDocuments() {
		if docType != "" && entry.Type != docType {
			continue
		}
		paths = append(paths, entry.RelativePath)
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no documents indexed"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := 20
	if v, err := req.RequireString("limit"); err == nil {
		if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
			limit = n
		}
	}

	result := s.svc.Search(models.SearchOptions{Query: query, Limit: limit})
	out, _ := json.MarshalIndent(result.Results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) rebuildIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	force := false
	if v, err := req.RequireString("force"); err == nil {
		force, _ = strconv.ParseBool(v)
	}

	result, err := s.svc.RebuildIndex(ctx, force)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getIndexStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(s.svc.GetIndexStats(ctx), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getDocumentContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DocumentFormatContract), nil
}

func (s *Server) readDocumentFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "memorybank://document-format",
			MIMEType: "text/markdown",
			Text:     DocumentFormatContract,
		},
	}, nil
}
