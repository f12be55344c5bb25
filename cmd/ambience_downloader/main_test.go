package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/italolelis/ambience_downloader/internal/config"
	"github.com/italolelis/ambience_downloader/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupServer_RequestsOutliveSignal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(logctx.WithLogger(context.Background(), logger))

	server := setupServer(ctx, nil, nil, &config.Config{})
	require.NotNil(t, server.BaseContext)

	base := server.BaseContext(nil)
	cancel()

	assert.NoError(t, base.Err(), "in-flight requests are drained by server.Shutdown, not cancelled by the signal")
	assert.Same(t, logger, logctx.LoggerFromContext(base))
}
