package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/sidekick/internal/commentary"
	"github.com/kalambet/sidekick/internal/companion"
	"github.com/kalambet/sidekick/internal/config"
	"github.com/kalambet/sidekick/internal/presentation"
	"github.com/kalambet/sidekick/internal/scheduler"
	"github.com/kalambet/sidekick/internal/storage"
)

// MCPTrigger generates commentary on demand.
type MCPTrigger interface {
	Trigger(ctx context.Context, doc *scheduler.Document) (commentary.Reply, error)
	CompanionChanged(id string)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Scheduler MCPTrigger
	Settings  *config.Settings
	Catalog   *companion.Catalog
	State     *presentation.State
	Store     *storage.Store // optional; companion://history is empty when nil
}

// NewMCPServer creates an MCP server exposing commentary to agents.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"sidekick",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sidekick: a coding companion that comments on code in character."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("comment_on_code",
			mcp.WithDescription("Ask the selected companion for a short in-character comment on a code snippet."),
			mcp.WithString("code", mcp.Description("The code to comment on"), mcp.Required()),
			mcp.WithString("language", mcp.Description("Language identifier, e.g. go or python")),
			mcp.WithString("file_name", mcp.Description("File the code comes from")),
			mcp.WithNumber("line", mcp.Description("Cursor line within the code (1-based)")),
		),
		mcpCommentOnCode(deps),
	)

	s.AddTool(
		mcp.NewTool("list_companions",
			mcp.WithDescription("List the available companions and which one is selected."),
		),
		mcpListCompanions(deps),
	)

	s.AddTool(
		mcp.NewTool("select_companion",
			mcp.WithDescription("Switch to another companion."),
			mcp.WithString("id", mcp.Description("Companion id from list_companions"), mcp.Required()),
		),
		mcpSelectCompanion(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"companion://state",
			"Companion State",
			mcp.WithResourceDescription("What the companion is currently showing, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceState(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"companion://history",
			"Recent Commentary",
			mcp.WithResourceDescription("The last 10 comments shown"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpCommentOnCode(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		code, err := req.RequireString("code")
		if err != nil {
			return mcpError("code is required"), nil
		}
		doc := scheduler.Document{
			Text:       code,
			LanguageID: req.GetString("language", ""),
			FileName:   req.GetString("file_name", ""),
			Line:       req.GetInt("line", 0),
		}

		reply, err := deps.Scheduler.Trigger(ctx, &doc)
		switch {
		case errors.Is(err, commentary.ErrNeedsCredential):
			return mcpError("no API credential configured: " + config.MissingCredentialHint()), nil
		case errors.Is(err, commentary.ErrRateLimited):
			return mcpError("the model endpoint is rate limiting requests; try again shortly"), nil
		case err != nil:
			return mcpError(fmt.Sprintf("commentary failed: %v", err)), nil
		}

		b, err := json.Marshal(reply)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reply: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListCompanions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		views := companionViews(AppDeps{Settings: deps.Settings, Catalog: deps.Catalog})
		b, err := json.Marshal(views)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal companions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSelectCompanion(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		comp, err := deps.Catalog.Get(id)
		if err != nil {
			return mcpError(fmt.Sprintf("unknown companion %q", id)), nil
		}
		if err := deps.Settings.SelectCompanion(comp.ID); err != nil {
			return mcpError(fmt.Sprintf("failed to select companion: %v", err)), nil
		}
		deps.Scheduler.CompanionChanged(comp.ID)
		return mcpText(fmt.Sprintf("Selected %s (%s). %s", comp.Name, comp.ID, comp.Greeting)), nil
	}
}

func mcpResourceState(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.State.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal state: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		comments := []storage.Comment{}
		if deps.Store != nil {
			recent, err := deps.Store.ListComments(10, 0)
			if err != nil {
				return nil, fmt.Errorf("failed to list comments: %w", err)
			}
			if recent != nil {
				comments = recent
			}
		}

		b, err := json.Marshal(comments)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal comments: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
