package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeFlag(t *testing.T) {
	ts, err := parseTimeFlag("from", "")
	require.NoError(t, err)
	assert.Nil(t, ts)

	ts, err = parseTimeFlag("from", "2024-05-01")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.True(t, ts.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))

	ts, err = parseTimeFlag("to", "2024-05-01T10:00:00+02:00")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))

	_, err = parseTimeFlag("to", "yesterday")
	assert.ErrorContains(t, err, "--to")
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "migrate", "bootstrap", "backfill", "evaluate", "review-rules", "show", "export", "simulate-alert", "version"} {
		assert.True(t, names[want], want)
	}
}
