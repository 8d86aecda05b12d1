package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/sidekick/internal/commentary"
	"github.com/kalambet/sidekick/internal/presentation"
	"github.com/kalambet/sidekick/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *testEnv) {
	t.Helper()
	env := setupTestEnv(t)
	return MCPDeps{
		Scheduler: env.deps.Scheduler,
		Settings:  env.deps.Settings,
		Catalog:   env.deps.Catalog,
		State:     env.deps.State,
		Store:     env.deps.Store,
	}, env
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func resourceText(t *testing.T, contents []mcp.ResourceContents) string {
	t.Helper()
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	return tc.Text
}

// --- tests ---

func TestMCPTool_CommentOnCode(t *testing.T) {
	deps, env := newTestMCPDeps(t)
	handler := mcpCommentOnCode(deps)

	req := makeCallToolRequest("comment_on_code", map[string]interface{}{
		"code":      "for {}",
		"language":  "go",
		"file_name": "loop.go",
		"line":      1,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var reply commentary.Reply
	if err := json.Unmarshal([]byte(toolText(t, result)), &reply); err != nil {
		t.Fatalf("failed to parse reply: %v", err)
	}
	if reply.Commentary != "Tidy." {
		t.Errorf("reply = %+v", reply)
	}

	sent := env.gen.reqs[0]
	if sent.Code != "for {}" || sent.LanguageID != "go" || sent.FileName != "loop.go" || sent.Line != 1 {
		t.Errorf("request = %+v", sent)
	}
}

func TestMCPTool_CommentOnCode_MissingCode(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpCommentOnCode(deps)(context.Background(), makeCallToolRequest("comment_on_code", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
}

func TestMCPTool_CommentOnCode_NeedsCredential(t *testing.T) {
	deps, env := newTestMCPDeps(t)
	env.gen.err = fmt.Errorf("%w: no key", commentary.ErrNeedsCredential)

	result, err := mcpCommentOnCode(deps)(context.Background(), makeCallToolRequest("comment_on_code", map[string]interface{}{"code": "x"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(toolText(t, result), "credential") {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPTool_ListCompanions(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpListCompanions(deps)(context.Background(), makeCallToolRequest("list_companions", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var views []companionView
	if err := json.Unmarshal([]byte(toolText(t, result)), &views); err != nil {
		t.Fatalf("failed to parse companions: %v", err)
	}
	if len(views) == 0 {
		t.Fatal("no companions listed")
	}
}

func TestMCPTool_SelectCompanion(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSelectCompanion(deps)

	result, err := handler(context.Background(), makeCallToolRequest("select_companion", map[string]interface{}{"id": "robot"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if got := deps.Settings.SelectedCompanion(); got != "robot" {
		t.Errorf("selected = %q, want robot", got)
	}
	if got := deps.State.Snapshot().Companion; got != "robot" {
		t.Errorf("displayed = %q, want robot", got)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("select_companion", map[string]interface{}{"id": "dragon"}))
	if !result.IsError {
		t.Error("expected error for unknown companion")
	}
}

func TestMCPResource_State(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.State.Show(4, "concerned", "Careful.")

	contents, err := mcpResourceState(deps)(context.Background(), makeReadResourceRequest("companion://state"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var snap presentation.Snapshot
	if err := json.Unmarshal([]byte(resourceText(t, contents)), &snap); err != nil {
		t.Fatalf("failed to parse state: %v", err)
	}
	if snap.Text != "Careful." || snap.Expression != "concerned" || !snap.BubbleVisible {
		t.Errorf("state = %+v", snap)
	}
}

func TestMCPResource_History(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	for i := range 12 {
		if _, err := deps.Store.SaveComment(storage.Comment{Companion: "cat", Commentary: fmt.Sprintf("c%d", i), Expression: "neutral"}); err != nil {
			t.Fatal(err)
		}
	}

	contents, err := mcpResourceHistory(deps)(context.Background(), makeReadResourceRequest("companion://history"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var comments []storage.Comment
	if err := json.Unmarshal([]byte(resourceText(t, contents)), &comments); err != nil {
		t.Fatalf("failed to parse history: %v", err)
	}
	if len(comments) != 10 {
		t.Errorf("history = %d, want 10", len(comments))
	}

	deps.Store = nil
	contents, err = mcpResourceHistory(deps)(context.Background(), makeReadResourceRequest("companion://history"))
	if err != nil {
		t.Fatalf("unexpected error without store: %v", err)
	}
	if got := resourceText(t, contents); got != "[]" {
		t.Errorf("history without store = %q, want []", got)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	comment := mcpCommentOnCode(deps)
	list := mcpListCompanions(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for range 5 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := comment(context.Background(), makeCallToolRequest("comment_on_code", map[string]interface{}{"code": "x"})); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := list(context.Background(), makeCallToolRequest("list_companions", nil)); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
}

func TestNewMCPServer_Registers(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
