package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("prod", &buf).Info("settled", "op_id", "op-1")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "op-1", line["op_id"])
	assert.Equal(t, "wallet-ledger", line["service"])

	buf.Reset()
	NewWithWriter("prod", &buf).Debug("hidden")
	assert.Zero(t, buf.Len(), "debug is off in prod")

	buf.Reset()
	NewWithWriter("dev", &buf).Debug("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}
