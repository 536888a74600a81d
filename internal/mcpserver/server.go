// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Ansuz tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/storage"
)

// Server wraps the MCP server with Ansuz tools.
type Server struct {
	mcp   *server.MCPServer
	store storage.Provider
	ix    *index.Index
}

// New creates a new MCP server with all Ansuz tools registered.
func New(store storage.Provider, ix *index.Index) *Server {
	s := &Server{store: store, ix: ix}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List pages by namespace. Page names are colon-separated "+
			"(e.g. Projects:Ansuz) and mirror the notebook folder tree."),
		mcp.WithString("parent", mcp.Description("Namespace to list (empty for the top level)")),
	), s.listPages)

	s.mcp.AddTool(mcp.NewTool("read_page",
		mcp.WithDescription("Read the full Markdown content of a page."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Page name (e.g. Projects:Ansuz)")),
	), s.readPage)

	s.mcp.AddTool(mcp.NewTool("create_page",
		mcp.WithDescription("Create a new page under the given name. "+
			"Content MUST follow the canonical page format (optional YAML frontmatter, "+
			"Markdown body with [[wikilinks]] and @tags). Read the contract first via "+
			"the get_page_contract tool or the ansuz://page-format resource."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Page name for the new page (colon-separated)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content following the Ansuz page format contract")),
	), s.createPage)

	s.mcp.AddTool(mcp.NewTool("get_page_contract",
		mcp.WithDescription("Returns the canonical Ansuz page format contract. "+
			"Call this before creating or updating pages to ensure correct structure."),
	), s.getPageContract)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all pages that link to the specified page."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Page name to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("pages_by_tag",
		mcp.WithDescription("List pages carrying the given @tag."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag name without the @ prefix")),
	), s.pagesByTag)

	s.mcp.AddTool(mcp.NewTool("touch_placeholder",
		mcp.WithDescription("Make a page visible to navigation before it has content. "+
			"Only the most recently touched placeholder is kept alive."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Page name to make visible")),
	), s.touchPlaceholder)

	// Resource: page format contract.
	s.mcp.AddResource(
		mcp.NewResource("ansuz://page-format", "Page Format Contract",
			mcp.WithResourceDescription("Canonical Markdown page format that all pages must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPageFormatResource,
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

func (s *Server) listPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	parent := ""
	if p, err := req.RequireString("parent"); err == nil {
		parent = p
	}
	pages, err := s.ix.ListPages(parent)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var lines []string
	for _, p := range pages {
		line := p.Name
		if p.Placeholder {
			line += " (placeholder)"
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("no pages"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(index.PathFromPageName(name))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", name)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) createPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	path := index.PathFromPageName(name)
	if _, readErr := s.store.Read(path); readErr == nil {
		return mcp.NewToolResultError(fmt.Sprintf("page already exists: %s", name)), nil
	}
	if err := s.store.Write(path, []byte(content)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.ix.UpdateFile(s.store.FileNode(path)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", name)), nil
}

func (s *Server) getPageContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PageFormatContract), nil
}

func (s *Server) readPageFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "ansuz://page-format",
			MIMEType: "text/markdown",
			Text:     PageFormatContract,
		},
	}, nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.ix.Backlinks(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	var lines []string
	for _, b := range bl {
		lines = append(lines, b.Source)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) pagesByTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pages, err := s.ix.PagesByTag(strings.TrimPrefix(tag, "@"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(pages) == 0 {
		return mcp.NewToolResultText("no pages"), nil
	}
	var lines []string
	for _, p := range pages {
		lines = append(lines, p.Name)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) touchPlaceholder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.ix.TouchCurrentPagePlaceholder(name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("placeholder touched: %s", name)), nil
}
