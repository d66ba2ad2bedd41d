package logrus_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/log"
	loglogrus "github.com/kilnhq/kiln/internal/log/logrus"
)

func TestLogrusValues(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.Out = &buf
	l.SetFormatter(&logrus.JSONFormatter{})

	logger := loglogrus.NewLogrus(logrus.NewEntry(l)).WithValues(log.Kv{"svc": "install.Orchestrator"})
	ctx := logger.SetValuesOnCtx(context.Background(), log.Kv{"request": "a"})
	logger.WithCtxValues(ctx).Infof("Installing package %d", 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Installing package 42", entry["msg"])
	assert.Equal(t, "install.Orchestrator", entry["svc"])
	assert.Equal(t, "a", entry["request"])
	assert.Equal(t, "info", entry["level"])
}
