package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestContextIDs(t *testing.T) {
	ctx := WithFileID(WithBatchID(context.Background(), "bat_1"), "ent_2")
	if GetBatchID(ctx) != "bat_1" {
		t.Errorf("batch id: got %q", GetBatchID(ctx))
	}
	if GetFileID(ctx) != "ent_2" {
		t.Errorf("file id: got %q", GetFileID(ctx))
	}
	if GetBatchID(context.Background()) != "" {
		t.Error("empty context should have no batch id")
	}
}

func TestLogger_AddsCorrelation(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithBatchID(context.Background(), "bat_9")
	Logger(ctx, base).Info("hello")
	if !strings.Contains(buf.String(), `"batch_id":"bat_9"`) {
		t.Fatalf("log line missing batch_id: %s", buf.String())
	}
	if strings.Contains(buf.String(), "file_id") {
		t.Fatalf("log line should not carry file_id: %s", buf.String())
	}
}

type echoReq struct {
	Text string `json:"text"`
}

func TestRegisterMCPTool_RoundTrip(t *testing.T) {
	srv := mcp.NewServer(&mcp.Implementation{Name: "kit-test", Version: "0.1.0"}, nil)
	tool := &mcp.Tool{
		Name:        "echo",
		Description: "echo",
		InputSchema: InputSchema(map[string]any{"text": map[string]any{"type": "string"}}, []string{"text"}),
	}
	RegisterMCPTool(srv, tool, func(_ context.Context, req any) (any, error) {
		return map[string]string{"echo": req.(*echoReq).Text}, nil
	}, DecodeArgs[echoReq])

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()
	client := mcp.NewClient(&mcp.Implementation{Name: "kit-client", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "oi"}})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatal("expected text content")
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(tc.Text), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["echo"] != "oi" {
		t.Errorf("echo: got %q", out["echo"])
	}
}
