package server

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/psp/adapter"
	"github.com/hazyhaar/psp/kit"
	"github.com/hazyhaar/psp/session"
)

// RegisterMCP registers the session tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerSessionsTool(srv)
	s.registerCaptureTool(srv)
	s.registerRestoreTool(srv)
	s.registerRecordStartTool(srv)
	s.registerRecordStopTool(srv)
	s.registerReplayTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

// --- sessions ---

func (s *Service) registerSessionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "psp_sessions",
		Description: "List live browser sessions with their IDs, URLs and recording status.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{"sessions": s.ListSessions()}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- capture ---

type captureToolReq struct {
	SessionID string `json:"session_id"`
	Save      bool   `json:"save"`
	Name      string `json:"name"`
}

func (s *Service) registerCaptureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "psp_capture",
		Description: "Capture a browser session's state (cookies, storage) as a versioned snapshot, optionally persisting it.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Live session ID"},
			"save":       map[string]any{"type": "boolean", "description": "Persist the snapshot"},
			"name":       map[string]any{"type": "string", "description": "Snapshot name when saving"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*captureToolReq)
		return s.Capture(ctx, r.SessionID, r.Save, r.Name)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r captureToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request:   &r,
			EnrichCtx: sessionCtx(r.SessionID),
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- restore ---

type restoreToolReq struct {
	SessionID  string `json:"session_id"`
	SnapshotID string `json:"snapshot_id"`
}

func (s *Service) registerRestoreTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "psp_restore",
		Description: "Restore a persisted snapshot into a live browser session.",
		InputSchema: inputSchema(map[string]any{
			"session_id":  map[string]any{"type": "string", "description": "Live session ID"},
			"snapshot_id": map[string]any{"type": "string", "description": "Persisted snapshot ID"},
		}, []string{"session_id", "snapshot_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*restoreToolReq)
		if err := s.Restore(ctx, r.SessionID, nil, r.SnapshotID, nil); err != nil {
			return nil, err
		}
		return map[string]any{"restored": true}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r restoreToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request:   &r,
			EnrichCtx: sessionCtx(r.SessionID),
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- record start / stop ---

type recordToolReq struct {
	SessionID string `json:"session_id"`
}

func (s *Service) registerRecordStartTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "psp_record_start",
		Description: "Start recording user interactions (clicks, inputs) in a live browser session.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Live session ID"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*recordToolReq)
		if err := s.StartRecording(ctx, r.SessionID); err != nil {
			return nil, err
		}
		return map[string]any{"recording": true}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeRecordReq)
}

func (s *Service) registerRecordStopTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "psp_record_stop",
		Description: "Stop recording and return the accumulated interaction trace.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Live session ID"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*recordToolReq)
		events, err := s.StopRecording(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"events": events}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeRecordReq)
}

func decodeRecordReq(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r recordToolReq
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{
		Request:   &r,
		EnrichCtx: sessionCtx(r.SessionID),
	}, nil
}

// --- replay ---

type replayToolReq struct {
	SessionID string          `json:"session_id"`
	Events    []session.Event `json:"events"`
	Speed     *float64        `json:"speed"`
}

func (s *Service) registerReplayTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "psp_replay",
		Description: "Replay an interaction trace against a live browser session. Omitting events replays the session's own recording.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Live session ID"},
			"events":     map[string]any{"type": "array", "description": "Interaction trace; omit to replay the session's recording"},
			"speed":      map[string]any{"type": "number", "description": "Pacing multiplier; 0 disables inter-event delay"},
		}, []string{"session_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*replayToolReq)
		var opts *adapter.PlayOptions
		if r.Speed != nil {
			opts = &adapter.PlayOptions{Speed: *r.Speed}
		}
		failures, err := s.Replay(ctx, r.SessionID, r.Events, opts)
		if err != nil {
			return nil, err
		}
		out := make([]stepFailureJSON, 0, len(failures))
		for _, f := range failures {
			out = append(out, stepFailureJSON{Index: f.Index, Type: f.Type, Target: f.Target, Error: f.Err.Error()})
		}
		return map[string]any{"failures": out}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r replayToolReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request:   &r,
			EnrichCtx: sessionCtx(r.SessionID),
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func sessionCtx(sessionID string) func(context.Context) context.Context {
	return func(ctx context.Context) context.Context {
		ctx = kit.WithTransport(ctx, "mcp")
		return kit.WithSessionID(ctx, sessionID)
	}
}
