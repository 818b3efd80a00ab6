package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSolstep_Logger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 4, 5, 6, 7, 891_000_000, time.UTC)
	require.Equal(t, "2026-03-04T05:06:07.891Z", formatRFC3339Millis(ts))
}

func TestSolstep_Logger_VerboseEnablesDebug(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.Debug("hidden")
	require.Empty(t, buf.String())

	log = NewWithWriter(&buf, true)
	log.Debug("shown", "empty", "")
	require.Contains(t, buf.String(), "shown")
	require.NotContains(t, buf.String(), "empty=")
}
