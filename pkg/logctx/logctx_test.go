package logctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromCtxEnrichesWithIDs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithUserID(WithTraceID(context.Background(), "t-1"), "u-1")
	FromCtx(ctx, base).Infow("hello")

	entry := logs.All()[0]
	assert.Equal(t, "t-1", entry.ContextMap()["trace_id"])
	assert.Equal(t, "u-1", entry.ContextMap()["user_id"])
}

func TestFromCtxPrefersAttachedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	attached := zap.New(core).Sugar().With("scope", "request")

	ctx := WithLogger(context.Background(), attached)
	FromCtx(ctx, zap.NewNop().Sugar()).Infow("hello")

	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, "request", logs.All()[0].ContextMap()["scope"])
}
