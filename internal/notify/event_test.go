package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLog(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b, err := encodeLog("alpha", Message{Level: zerolog.WarnLevel, Text: "⚠️ slow", Time: ts})
	require.NoError(t, err)

	var ev logEvent
	require.NoError(t, json.Unmarshal(b, &ev))
	assert.Equal(t, "alpha", ev.Codename)
	assert.Equal(t, "warn", ev.Level)
	assert.Equal(t, "⚠️ slow", ev.Text)
	assert.True(t, ts.Equal(ev.Time))
}

func TestEncodeFile(t *testing.T) {
	b, err := encodeFile("alpha", File{Name: "backup.log", Data: []byte("12345")})
	require.NoError(t, err)

	var ev fileEvent
	require.NoError(t, json.Unmarshal(b, &ev))
	assert.Equal(t, "backup.log", ev.Name)
	assert.Equal(t, 5, ev.Size)
}
