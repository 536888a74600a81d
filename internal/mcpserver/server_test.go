package mcpserver

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/storage"
)

func testServer(t *testing.T) (*Server, storage.Provider) {
	t.Helper()

	notebook := t.TempDir()
	store, err := storage.NewFS(notebook)
	if err != nil {
		t.Fatal(err)
	}

	dbFile, err := os.CreateTemp("", "ansuz-mcp-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	ix, err := index.Open(dbFile.Name(), store)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	if err := ix.CheckAndUpdate(); err != nil {
		t.Fatal(err)
	}

	srv := New(store, ix)
	return srv, store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go doesn't expose a direct "call tool" test helper, so we call the
	// handler functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_pages":
		result, err = srv.listPages(ctx, req)
	case "read_page":
		result, err = srv.readPage(ctx, req)
	case "create_page":
		result, err = srv.createPage(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	case "pages_by_tag":
		result, err = srv.pagesByTag(ctx, req)
	case "touch_placeholder":
		result, err = srv.touchPlaceholder(ctx, req)
	case "get_page_contract":
		result, err = srv.getPageContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestCreateAndReadPage(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "create_page", map[string]interface{}{
		"name":    "Projects:Test",
		"content": "# Test\nHello",
	})
	text := resultText(r)
	if text != "created: Projects:Test" {
		t.Errorf("create result = %q", text)
	}

	r = callTool(t, srv, "read_page", map[string]interface{}{
		"name": "Projects:Test",
	})
	text = resultText(r)
	if text != "# Test\nHello" {
		t.Errorf("read result = %q", text)
	}
}

func TestCreatePageDuplicate(t *testing.T) {
	srv, _ := testServer(t)

	args := map[string]interface{}{"name": "dup", "content": "x"}
	if r := callTool(t, srv, "create_page", args); r.IsError {
		t.Fatalf("first create errored: %s", resultText(r))
	}
	if r := callTool(t, srv, "create_page", args); !r.IsError {
		t.Error("expected error for duplicate page")
	}
}

func TestListPages(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "create_page", map[string]interface{}{"name": "a", "content": "a"})
	callTool(t, srv, "create_page", map[string]interface{}{"name": "sub:b", "content": "b"})

	r := callTool(t, srv, "list_pages", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "a") || !strings.Contains(text, "sub") {
		t.Errorf("top-level list = %q", text)
	}

	r = callTool(t, srv, "list_pages", map[string]interface{}{"parent": "sub"})
	if text := resultText(r); !strings.Contains(text, "sub:b") {
		t.Errorf("namespace list = %q", text)
	}
}

func TestReadPageMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_page", map[string]interface{}{"name": "nope"})
	if !r.IsError {
		t.Error("expected error for missing page")
	}
}

func TestGetBacklinks(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "create_page", map[string]interface{}{
		"name":    "a",
		"content": "links to [[b]]",
	})

	r := callTool(t, srv, "get_backlinks", map[string]interface{}{"name": "b"})
	if text := resultText(r); text != "a" {
		t.Errorf("backlinks = %q, want a", text)
	}
}

func TestPagesByTag(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "create_page", map[string]interface{}{
		"name":    "tagged",
		"content": "# Tagged\n@important",
	})

	r := callTool(t, srv, "pages_by_tag", map[string]interface{}{"tag": "important"})
	if text := resultText(r); text != "tagged" {
		t.Errorf("pages by tag = %q, want tagged", text)
	}
	// @-prefixed input is tolerated.
	r = callTool(t, srv, "pages_by_tag", map[string]interface{}{"tag": "@important"})
	if text := resultText(r); text != "tagged" {
		t.Errorf("pages by @tag = %q, want tagged", text)
	}
}

func TestTouchPlaceholder(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "touch_placeholder", map[string]interface{}{"name": "Drafts:Soon"})
	if r.IsError {
		t.Fatalf("touch errored: %s", resultText(r))
	}
	r = callTool(t, srv, "list_pages", map[string]interface{}{"parent": "Drafts"})
	if text := resultText(r); !strings.Contains(text, "Drafts:Soon (placeholder)") {
		t.Errorf("list after touch = %q", text)
	}
}

func TestGetPageContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_page_contract", map[string]interface{}{})
	if text := resultText(r); !strings.Contains(text, "colon-separated") {
		t.Errorf("contract = %q", text)
	}
}
