package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, isVerbose bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	wasVerbose := IsVerbose()
	SetVerbose(isVerbose)
	t.Cleanup(func() {
		SetOutput(prev)
		SetVerbose(wasVerbose)
	})
	return &buf
}

func TestQuietModeDropsDebugAndInfo(t *testing.T) {
	buf := capture(t, false)

	Debug("hidden %d", 1)
	Info("hidden too")
	Section("hidden section")
	assert.Empty(t, buf.String())

	Warn("cache tier down: %s", "locked")
	Error("boom")
	assert.Equal(t, "[WARN] cache tier down: locked\n[ERROR] boom\n", buf.String())
}

func TestVerboseMode(t *testing.T) {
	buf := capture(t, true)

	Debug("pass %d", 2)
	Info("done")
	Section("Pass 1")
	assert.Equal(t, "[DEBUG] pass 2\n[INFO] done\n\n=== Pass 1 ===\n", buf.String())
}
