package thumbnail

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-orchestrator/internal/bus"
	"media-orchestrator/internal/platform/logger"
)

// snapshotEncoder writes its last argument and counts its runs in countFile.
func snapshotEncoder(t *testing.T, countFile string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "encoder")
	script := "#!/bin/sh\nfor a; do out=$a; done\nprintf jpg > \"$out\"\necho run >> " + countFile + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func runs(t *testing.T, countFile string) int {
	b, err := os.ReadFile(countFile)
	if err != nil {
		return 0
	}
	return strings.Count(string(b), "run")
}

func TestGenerator_lifecycle(t *testing.T) {
	root := t.TempDir()
	count := filepath.Join(t.TempDir(), "count")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "live", "cam"), 0o755))

	g := New(Config{Encoder: snapshotEncoder(t, count), MediaRoot: root, Interval: 20 * time.Millisecond}, logger.Discard())
	t.Cleanup(g.Close)
	b := bus.New(logger.Discard())
	g.Subscribe(b)

	b.Publish(context.Background(), bus.PostPublish{Stream: bus.Stream{ID: "c1", Path: "/live/cam"}})
	thumb := filepath.Join(root, "live", "cam", FileName)
	require.Eventually(t, func() bool { return runs(t, count) >= 2 }, 5*time.Second, 10*time.Millisecond)
	assert.FileExists(t, thumb)

	b.Publish(context.Background(), bus.DonePublish{Stream: bus.Stream{ID: "c1", Path: "/live/cam"}})
	assert.NoFileExists(t, thumb)

	after := runs(t, count)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, runs(t, count), "no snapshots after stop")
}

func TestGenerator_Snapshot_args(t *testing.T) {
	root := t.TempDir()
	argsFile := filepath.Join(t.TempDir(), "args")
	enc := filepath.Join(t.TempDir(), "encoder")
	require.NoError(t, os.WriteFile(enc, []byte("#!/bin/sh\nprintf '%s\\n' \"$@\" > "+argsFile+"\n"), 0o755))

	g := New(Config{Encoder: enc, MediaRoot: root}, logger.Discard())
	require.NoError(t, g.Snapshot(context.Background(), "/live/cam"))

	b, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.Equal(t, filepath.Join(root, "live", "cam", "index.m3u8"), args[indexOf(args, "-i")+1])
	assert.Equal(t, "25", args[indexOf(args, "-q:v")+1])
	assert.Contains(t, args, "-an")
	assert.Equal(t, filepath.Join(root, "live", "cam", FileName), args[len(args)-1])
}

func TestGenerator_Snapshot_failure(t *testing.T) {
	enc := filepath.Join(t.TempDir(), "encoder")
	require.NoError(t, os.WriteFile(enc, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	g := New(Config{Encoder: enc, MediaRoot: t.TempDir()}, logger.Discard())
	assert.Error(t, g.Snapshot(context.Background(), "/live/cam"))
}

func TestGenerator_Stop_unknown_is_noop(t *testing.T) {
	g := New(Config{Encoder: "true", MediaRoot: t.TempDir()}, logger.Discard())
	g.Stop("missing")
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
