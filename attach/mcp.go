package attach

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docattach/kit"
)

// RegisterMCP registers the docattach tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerEnqueue(srv)
	s.registerRun(srv)
	s.registerStatus(srv)
	s.registerOutcomes(srv)
}

func (s *Service) registerEnqueue(srv *mcp.Server) {
	type req struct {
		Paths []string `json:"paths"`
	}
	tool := &mcp.Tool{
		Name:        "docattach_enqueue",
		Description: "Queue local files or directories for attachment to the configured process",
		InputSchema: kit.InputSchema(map[string]any{
			"paths": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "File or directory paths",
			},
		}, []string{"paths"}),
	}
	endpoint := func(_ context.Context, r any) (any, error) {
		p := r.(*req)
		if len(p.Paths) == 0 {
			return nil, errors.New("paths is required")
		}
		return s.EnqueuePaths(p.Paths...)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req])
}

func (s *Service) registerRun(srv *mcp.Server) {
	type req struct {
		Wait bool `json:"wait"`
	}
	tool := &mcp.Tool{
		Name:        "docattach_run",
		Description: "Process the queue one file at a time. With wait=true, returns the batch summary",
		InputSchema: kit.InputSchema(map[string]any{
			"wait": map[string]any{"type": "boolean", "description": "Block until the queue drains"},
		}, nil),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.Wait {
			return s.Run(ctx)
		}
		st := s.Status()
		if st.Running {
			return nil, ErrBusy
		}
		if st.Queued == 0 {
			return nil, ErrEmptyQueue
		}
		s.runBackground(context.WithoutCancel(ctx))
		return map[string]any{"started": true, "queued": st.Queued}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req])
}

func (s *Service) registerStatus(srv *mcp.Server) {
	type req struct{}
	tool := &mcp.Tool{
		Name:        "docattach_status",
		Description: "Show the queue, per-file status and the last batch summary",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}
	endpoint := func(context.Context, any) (any, error) {
		return s.Status(), nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req])
}

func (s *Service) registerOutcomes(srv *mcp.Server) {
	type req struct {
		BatchID string `json:"batch_id"`
		Limit   int    `json:"limit"`
	}
	tool := &mcp.Tool{
		Name:        "docattach_outcomes",
		Description: "List terminal upload outcomes, newest first",
		InputSchema: kit.InputSchema(map[string]any{
			"batch_id": map[string]any{"type": "string", "description": "Restrict to one batch"},
			"limit":    map[string]any{"type": "integer", "description": "Maximum rows (default 100)"},
		}, nil),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return s.Outcomes(ctx, p.BatchID, p.Limit)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[req])
}
