package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeArguments(t *testing.T) {
	assert.JSONEq(t, `{}`, string(NormalizeArguments(nil)))
	assert.JSONEq(t, `{}`, string(NormalizeArguments([]byte("  "))))
	assert.JSONEq(t, `{"limit":5}`, string(NormalizeArguments([]byte(` {"limit":5} `))))

	garbled := NormalizeArguments([]byte(`{"limit":5,`))
	var raw string
	require.NoError(t, json.Unmarshal(garbled, &raw))
	assert.Equal(t, `{"limit":5,`, raw)

	_, err := json.Marshal(Message{ToolCalls: []ToolCall{{ID: "c1", Name: "getTopHolders", Arguments: garbled}}})
	assert.NoError(t, err)
}
