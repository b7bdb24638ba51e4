package session

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-orchestrator/internal/task"
)

var testRuntime = task.Runtime{
	Encoder:         "ffmpeg",
	MediaRoot:       "/media",
	RTMPPort:        1935,
	AnalyzeDuration: "1000000",
	ProbeSize:       "1000000",
}

func bind(t *testing.T, spec task.Spec, path string) task.Definition {
	t.Helper()
	def, err := spec.Bind(testRuntime, path, nil)
	require.NoError(t, err)
	return def
}

func TestBuildTranscodeArgs_recording(t *testing.T) {
	def := bind(t, task.Spec{App: "live", Rec: true, HLS: true, HLSFlags: "hls_time=15:hls_list_size=0"}, "/live/cam")
	plan, err := BuildTranscodeArgs(def, "tok", time.Now())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/media", "live", "cam", "tok"), plan.OutDir)
	assert.Equal(t, "indexarchive.m3u8", plan.PlaylistName)
	assert.Equal(t, []string{
		"-y", "-flags", "low_delay", "-fflags", "nobuffer",
		"-analyzeduration", "1000000", "-probesize", "1000000",
		"-i", "rtmp://127.0.0.1:1935/live/cam",
		"-c:v", "copy", "-c:a", "copy",
		"-t", "14400",
		"-f", "tee", "-map", "0:a?", "-map", "0:v?",
		"[hls_time=15:hls_list_size=0:hls_segment_filename='" +
			filepath.Join(plan.OutDir, "stream_archive_tok_%d.ts") + "']" +
			filepath.Join(plan.OutDir, "indexarchive.m3u8"),
	}, plan.Args)
}

func TestBuildTranscodeArgs_codec_params_and_all_outputs(t *testing.T) {
	spec := task.Spec{
		App: "live", Name: "_low",
		VC: "libx264", VCParam: []string{"-b:v", "800k", ""},
		AC: "aac", ACParam: []string{"-ar", "48000"},
		RTMP: true, RTMPApp: "mirror",
		MP4: true, MP4Flags: "[movflags=frag_keyframe+empty_moov]",
		HLS: true, HLSFlags: "[hls_time=1]",
		DASH: true, DASHFlags: "[f=dash:window_size=3]",
		FLV: true,
	}
	def := bind(t, spec, "/live/cam")
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	plan, err := BuildTranscodeArgs(def, "tok", now)
	require.NoError(t, err)

	joined := strings.Join(plan.Args, " ")
	assert.Contains(t, joined, "-c:v libx264 -b:v 800k -c:a aac -ar 48000 -f tee")
	assert.NotContains(t, plan.Args, "")
	assert.NotContains(t, plan.Args, "-t")

	dir := filepath.Join("/media", "live", "cam")
	targets := strings.Split(plan.Args[len(plan.Args)-1], "|")
	require.Len(t, targets, 5)
	assert.Equal(t, "[f=flv]rtmp://127.0.0.1:1935/mirror/cam", targets[0])
	assert.Equal(t, "[movflags=frag_keyframe+empty_moov]"+filepath.Join(dir, "2024-01-02-03-04-05.mp4"), targets[1])
	assert.Equal(t, "[hls_time=1:hls_segment_filename='"+filepath.Join(dir, "stream__low_tok_%d.ts")+"']"+filepath.Join(dir, "index_low.m3u8"), targets[2])
	assert.Equal(t, "[f=dash:window_size=3]"+filepath.Join(dir, "index_low.mpd"), targets[3])
	assert.Equal(t, filepath.Join(dir, "index_low.flv"), targets[4])
}

func TestBuildTranscodeArgs_same_app_remux_is_skipped(t *testing.T) {
	def := bind(t, task.Spec{App: "live", RTMP: true, RTMPApp: "live", HLS: true}, "/live/cam")
	plan, err := BuildTranscodeArgs(def, "tok", time.Now())
	require.NoError(t, err)
	require.Len(t, plan.Warnings, 1)
	assert.ErrorIs(t, plan.Warnings[0], ErrSameApp)
	assert.NotContains(t, plan.Args[len(plan.Args)-1], "rtmp://")
}

func TestBuildTranscodeArgs_no_outputs(t *testing.T) {
	def := bind(t, task.Spec{App: "live", RTMP: true, RTMPApp: "live"}, "/live/cam")
	_, err := BuildTranscodeArgs(def, "tok", time.Now())
	assert.ErrorIs(t, err, ErrNoOutputs)
}

func TestBuildRelayArgs(t *testing.T) {
	def := task.Definition{}
	def.InPath = "rtsp://10.0.0.2/stream"
	def.OutPath = "rtmp://127.0.0.1:1935/cctv/door"
	assert.Equal(t, []string{
		"-fflags", "nobuffer", "-analyzeduration", "1000000",
		"-rtsp_transport", "tcp",
		"-i", "rtsp://10.0.0.2/stream", "-c", "copy", "-f", "flv", "rtmp://127.0.0.1:1935/cctv/door",
	}, BuildRelayArgs(def).Args)

	def.InPath = "rtmp://127.0.0.1:1935/live/cam"
	def.OutPath = "rtsp://edge/live/cam"
	args := BuildRelayArgs(def).Args
	assert.NotContains(t, args, "-rtsp_transport")
	assert.Equal(t, "rtsp", args[len(args)-2])
}
