package debug

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_ClampsLevel(t *testing.T) {
	defer Init(LevelInfo)

	Init(-3)
	assert.Equal(t, LevelOff, Level())

	Init(42)
	assert.Equal(t, LevelTrace, Level())
	assert.True(t, IsEnabled(LevelVerbose))
}

func TestComponent_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	Init(LevelLive)
	defer Init(LevelInfo)

	l := Component("session")
	l.Debug().Str(FieldCommand, "open").Msg("command executed")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &fields))
	assert.Equal(t, "session", fields[FieldComponent])
	assert.Equal(t, "open", fields[FieldCommand])
	assert.Equal(t, "stillcam", fields["service"])
}

func TestSetOutput_RedirectsExistingLoggers(t *testing.T) {
	Init(LevelInfo)
	l := Component("persist")

	var first, second bytes.Buffer
	SetOutput(&first)
	l.Info().Msg("one")
	SetOutput(&second)
	l.Info().Msg("two")
	SetOutput(nil)

	assert.Contains(t, first.String(), `"one"`)
	assert.NotContains(t, first.String(), `"two"`)
	assert.Contains(t, second.String(), `"two"`)
}

func TestLevelOff_Silences(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	Init(LevelOff)
	defer Init(LevelInfo)

	log := Component("x")
	log.Error().Msg("should not appear")
	assert.Empty(t, buf.String())
}
