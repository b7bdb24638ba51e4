package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"media-orchestrator/internal/playlist"
)

// Job describes a finished recording handed to the archive uploader.
type Job struct {
	Token      string
	StreamName string
	KeyPrefix  string
	// Duration is the recording's length in whole seconds.
	Duration int
	Dir      string
	// App is the stream's app, used to find its live thumbnail.
	App string
}

// Args renders the job as the uploader's positional arguments. App goes
// last and is omitted when empty.
func (j Job) Args() []string {
	args := []string{j.Token, j.StreamName, j.KeyPrefix, fmt.Sprint(j.Duration), j.Dir}
	if j.App != "" {
		args = append(args, j.App)
	}
	return args
}

// Launcher starts the archive handoff for a finished recording. Launch must
// not block on the upload itself.
type Launcher interface {
	Launch(job Job) error
}

func isTempFile(name string) bool {
	switch filepath.Ext(name) {
	case ".mpd", ".m4s", ".tmp":
		return true
	}
	return false
}

// cleanupOutputs removes what a finished non-recording session leaves in its
// output directory and, for HLS, leaves an empty playlist in place of the
// rolling one.
func (s *Session) cleanupOutputs() error {
	dir := s.plan.OutDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	keepHLS := s.def.HLSKeep || !s.def.HLS
	prefix := SegmentPrefix(s.def, s.token)
	var errs []error
	for _, e := range entries {
		name := e.Name()
		remove := isTempFile(name)
		if !keepHLS && (strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".ts") || name == s.plan.PlaylistName) {
			remove = true
		}
		if !remove {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	if !keepHLS {
		if err := playlist.WritePlaceholder(filepath.Join(dir, s.plan.PlaylistName)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
