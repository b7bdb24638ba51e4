package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"media-orchestrator/internal/task"
)

// RecordingLimit bounds a recording encoder run, in seconds.
const RecordingLimit = "14400"

var (
	// ErrSameApp reports an RTMP remux target pointing back at the source
	// app, which would republish into itself.
	ErrSameApp = errors.New("rtmp remux target is the source app")
	// ErrNoOutputs reports a transcode task with no enabled container.
	ErrNoOutputs = errors.New("task enables no outputs")
)

// Plan is a ready-to-spawn encoder invocation.
type Plan struct {
	Args []string
	// OutDir is created before spawning; empty for relays.
	OutDir string
	// PlaylistName is the HLS playlist file inside OutDir, empty when the
	// task writes no HLS.
	PlaylistName string
	// Warnings are configuration problems that disabled one output only.
	Warnings []error
}

// OutDir is where a local-mux task writes: <media>/<app>/<name>[/<token>].
func OutDir(def task.Definition, token string) string {
	dir := filepath.Join(def.MediaRoot, def.StreamApp, def.StreamName)
	if def.Rec {
		dir = filepath.Join(dir, token)
	}
	return dir
}

// SegmentPrefix is the file name prefix of a task's HLS segments.
func SegmentPrefix(def task.Definition, token string) string {
	return "stream_" + def.TaskName() + "_" + token + "_"
}

// BuildTranscodeArgs builds a single tee-muxed encoder run feeding every
// container the task enables.
func BuildTranscodeArgs(def task.Definition, token string, now time.Time) (Plan, error) {
	plan := Plan{OutDir: OutDir(def, token)}
	var targets []string

	if def.RTMP && def.RTMPApp != "" {
		if def.RTMPApp == def.StreamApp {
			plan.Warnings = append(plan.Warnings, fmt.Errorf("%w: %s", ErrSameApp, def.RTMPApp))
		} else {
			out := def.LocalURL("/" + def.RTMPApp + "/" + def.StreamName)
			targets = append(targets, teeTarget("f=flv", out))
		}
	}
	if def.MP4 {
		name := now.Format("2006-01-02-15-04-05") + ".mp4"
		targets = append(targets, teeTarget(def.MP4Flags, filepath.Join(plan.OutDir, name)))
	}
	if def.HLS {
		plan.PlaylistName = "index" + def.Name + ".m3u8"
		segments := filepath.Join(plan.OutDir, SegmentPrefix(def, token)+"%d.ts")
		flags := joinFlags(def.HLSFlags, "hls_segment_filename='"+segments+"'")
		targets = append(targets, teeTarget(flags, filepath.Join(plan.OutDir, plan.PlaylistName)))
	}
	if def.DASH {
		targets = append(targets, teeTarget(def.DASHFlags, filepath.Join(plan.OutDir, "index"+def.Name+".mpd")))
	}
	if def.FLV {
		targets = append(targets, teeTarget(def.FLVFlags, filepath.Join(plan.OutDir, "index"+def.Name+".flv")))
	}
	if len(targets) == 0 {
		return plan, fmt.Errorf("%w: %s", ErrNoOutputs, def.TaskName())
	}

	vc, ac := def.VC, def.AC
	if vc == "" {
		vc = "copy"
	}
	if ac == "" {
		ac = "copy"
	}
	args := []string{
		"-y", "-flags", "low_delay", "-fflags", "nobuffer",
		"-analyzeduration", orDefault(def.AnalyzeDuration, "1000000"),
		"-probesize", orDefault(def.ProbeSize, "1000000"),
		"-i", def.LocalURL(def.StreamPath),
		"-c:v", vc,
	}
	args = append(args, def.VCParam...)
	args = append(args, "-c:a", ac)
	args = append(args, def.ACParam...)
	if def.Rec {
		args = append(args, "-t", RecordingLimit)
	}
	args = append(args, "-f", "tee", "-map", "0:a?", "-map", "0:v?", strings.Join(targets, "|"))

	plan.Args = compact(args)
	return plan, nil
}

// BuildRelayArgs copies def.InPath to def.OutPath without re-encoding.
func BuildRelayArgs(def task.Definition) Plan {
	args := []string{"-fflags", "nobuffer", "-analyzeduration", "1000000"}
	if strings.HasPrefix(def.InPath, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	format := "flv"
	if strings.HasPrefix(def.OutPath, "rtsp://") {
		format = "rtsp"
	}
	args = append(args, "-i", def.InPath, "-c", "copy", "-f", format, def.OutPath)
	return Plan{Args: args}
}

// teeTarget renders one tee output: [opt1:opt2]path, or path alone.
func teeTarget(flags, path string) string {
	flags = strings.Trim(strings.TrimSpace(flags), "[]")
	if flags == "" {
		return path
	}
	return "[" + flags + "]" + path
}

func joinFlags(flags ...string) string {
	var out []string
	for _, f := range flags {
		if f = strings.Trim(strings.TrimSpace(f), "[]"); f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, ":")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func compact(args []string) []string {
	out := args[:0]
	for _, a := range args {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
