package domselect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quillon/domselect/protocol"
)

// RegisterMCP registers domselect tools on an MCP server.
func (a *Agent) RegisterMCP(srv *mcp.Server) {
	a.registerEnterTool(srv)
	a.registerReadyTool(srv)
	a.registerClearTool(srv)
	a.registerRemoveTool(srv)
	a.registerRebuildTool(srv)
	a.registerListTool(srv)
	a.registerContentTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

/// registerTool wires an endpoint as an MCP tool: decode arguments, run,
// marshal the response into a single text content.
func registerTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint func(context.Context, *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := endpoint(ctx, &r)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- enter_selection ---

func (a *Agent) registerEnterTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_enter_selection",
		Description: "Enter element-selection mode: clears the current selection and activates click-to-select on the page.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	registerTool(srv, tool, func(ctx context.Context, _ *struct{}) (any, error) {
		var state string
		err := a.Do(ctx, func(c context.Context) {
			a.dispatch(c, protocol.EnterElementSelection{})
			state = string(a.state.Current())
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"state": state}, nil
	})
}

// --- ready ---

func (a *Agent) registerReadyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_ready",
		Description: "Leave element-selection mode: clears the selection and returns the page to its passive state.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	registerTool(srv, tool, func(ctx context.Context, _ *struct{}) (any, error) {
		var state string
		err := a.Do(ctx, func(c context.Context) {
			a.dispatch(c, protocol.Ready{})
			state = string(a.state.Current())
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"state": state}, nil
	})
}

// --- clear ---

func (a *Agent) registerClearTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_clear",
		Description: "Clear the current selection without changing mode.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	registerTool(srv, tool, func(ctx context.Context, _ *struct{}) (any, error) {
		err := a.Do(ctx, func(c context.Context) {
			a.dispatch(c, protocol.ClearSelection{})
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"status": "cleared"}, nil
	})
}

// --- remove ---

type removeRequest struct {
	ID string `json:"id"`
}

func (a *Agent) registerRemoveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_remove",
		Description: "Remove one selected element by its stable identifier.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Stable identifier of the selected element"},
		}, []string{"id"}),
	}

	registerTool(srv, tool, func(ctx context.Context, r *removeRequest) (any, error) {
		var removed bool
		err := a.Do(ctx, func(c context.Context) {
			removed = a.selection.Has(r.ID)
			a.dispatch(c, protocol.RemoveSelection{Element: r.ID})
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": r.ID, "removed": removed}, nil
	})
}

// --- rebuild ---

type rebuildRequest struct {
	IDs []string `json:"ids,omitempty"`
}

func (a *Agent) registerRebuildTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_rebuild",
		Description: "Rebuild a selection from stable identifiers. With no ids given, restores the last persisted selection for this page.",
		InputSchema: inputSchema(map[string]any{
			"ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Stable identifiers to re-select"},
		}, nil),
	}

	registerTool(srv, tool, func(ctx context.Context, r *rebuildRequest) (any, error) {
		ids := r.IDs
		if len(ids) == 0 {
			saved, err := a.savedIDs(ctx)
			if err != nil {
				return nil, err
			}
			ids = saved
		}
		if ids == nil {
			ids = []string{}
		}

		var matched []SelectedElement
		err := a.Do(ctx, func(c context.Context) {
			a.dispatch(c, protocol.RebuildSelection{IDs: ids})
			matched = a.selectedElements()
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"requested": ids, "matched": matched}, nil
	})
}

// --- list ---

func (a *Agent) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_list",
		Description: "List the current session state and selected elements.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	registerTool(srv, tool, func(ctx context.Context, _ *struct{}) (any, error) {
		return a.Snapshot(ctx)
	})
}

// --- content ---

type contentRequest struct {
	ID string `json:"id"`
}

func (a *Agent) registerContentTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_content",
		Description: "Get the content of a selected element as markdown (sanitized).",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Stable identifier of the selected element"},
		}, []string{"id"}),
	}

	registerTool(srv, tool, func(ctx context.Context, r *contentRequest) (any, error) {
		var path string
		var found bool
		err := a.Do(ctx, func(context.Context) {
			e, ok := a.selection.Get(r.ID)
			path, found = e.Path, ok
		})
		if err != nil {
			return nil, err
		}
		if !found {
			return map[string]string{"error": "element not selected"}, nil
		}
		if a.tab == nil {
			return nil, fmt.Errorf("no page attached")
		}

		fragment, err := a.tab.OuterHTML(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("fetch element html: %w", err)
		}
		md, err := a.extractor.Markdown(fragment, a.pageURL)
		if err != nil {
			return nil, err
		}
		return map[string]string{"id": r.ID, "xpath": path, "markdown": md}, nil
	})
}
