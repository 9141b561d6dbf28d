package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/friendlychat/pkg/log"
)

func TestLogTarget(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.WithLogger(context.Background(), zerolog.New(&buf))

	LogTarget(ctx, ActionSendImage, "u1", "m1", "image sent")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, log.LogTypeAudit, entry[log.FieldLogType])
	assert.Equal(t, ActionSendImage, entry[FieldAction])
	assert.Equal(t, "u1", entry[log.FieldUserID])
	assert.Equal(t, "m1", entry[FieldTargetID])
	assert.Equal(t, "image sent", entry["message"])
}

func TestLogWithDetail(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.WithLogger(context.Background(), zerolog.New(&buf))

	LogWithDetail(ctx, ActionSignInFailed, "", "bad state", "sign-in rejected")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "bad state", entry[FieldDetail])
}
