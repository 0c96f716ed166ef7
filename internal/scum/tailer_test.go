package scum

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectLines(t *testing.T, tailer *LogTailer, n int) []string {
	t.Helper()
	var lines []string
	deadline := time.After(3 * time.Second)
	for len(lines) < n {
		select {
		case line := <-tailer.Lines:
			lines = append(lines, line)
		case err := <-tailer.Errors:
			t.Fatalf("tailer error: %v", err)
		case <-deadline:
			t.Fatalf("timed out, got %d of %d lines: %v", len(lines), n, lines)
		}
	}
	return lines
}

func TestTailerStreamsNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scum.log")
	require.NoError(t, os.WriteFile(path, []byte("old line\n"), 0644))

	tailer := NewLogTailer(path)
	require.NoError(t, tailer.Start())
	defer tailer.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("first\nsecond\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Only lines appended after Start come through
	lines := collectLines(t, tailer, 2)
	assert.Equal(t, []string{"first", "second"}, lines)
}

func TestTailerHoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scum.log")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	tailer := NewLogTailer(path)
	require.NoError(t, tailer.Start())
	defer tailer.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("incompl")
	require.NoError(t, err)

	select {
	case line := <-tailer.Lines:
		t.Fatalf("partial line leaked: %q", line)
	case <-time.After(300 * time.Millisecond):
	}

	_, err = f.WriteString("ete\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lines := collectLines(t, tailer, 1)
	assert.Equal(t, []string{"incomplete"}, lines)
}

func TestTailerHandlesCopytruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scum.log")
	require.NoError(t, os.WriteFile(path, []byte("before rotation\n"), 0644))

	tailer := NewLogTailer(path)
	require.NoError(t, tailer.Start())
	defer tailer.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("pre-rotate\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lines := collectLines(t, tailer, 1)
	assert.Equal(t, []string{"pre-rotate"}, lines)

	// copytruncate rotation: same inode, size drops to zero
	require.NoError(t, os.Truncate(path, 0))
	time.Sleep(250 * time.Millisecond)

	f, err = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("post-rotate\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	lines = collectLines(t, tailer, 1)
	assert.Equal(t, []string{"post-rotate"}, lines)
}
