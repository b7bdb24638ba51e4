package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"media-orchestrator/internal/session"
)

// idleEncoder is an encoder stand-in that runs until it reads the stop byte.
const idleEncoder = "head -c 1 >/dev/null"

func fakeEncoder(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "encoder")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func waitEnded(t *testing.T, sessions ...*session.Session) {
	t.Helper()
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-time.After(10 * time.Second):
			t.Fatalf("session %s did not end", s.Key())
		}
	}
}
