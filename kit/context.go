// Package kit carries the cross-cutting glue shared by the docattach
// surfaces: context-scoped correlation IDs and MCP tool registration.
package kit

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	BatchIDKey contextKey = "kit_batch_id"
	FileIDKey  contextKey = "kit_file_id"
)

func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, BatchIDKey, id)
}
func GetBatchID(ctx context.Context) string {
	v, _ := ctx.Value(BatchIDKey).(string)
	return v
}

func WithFileID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, FileIDKey, id)
}
func GetFileID(ctx context.Context) string {
	v, _ := ctx.Value(FileIDKey).(string)
	return v
}

// Logger returns l enriched with the correlation IDs found in ctx.
func Logger(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id := GetBatchID(ctx); id != "" {
		l = l.With("batch_id", id)
	}
	if id := GetFileID(ctx); id != "" {
		l = l.With("file_id", id)
	}
	return l
}
