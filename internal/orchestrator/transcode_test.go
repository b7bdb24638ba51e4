package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-orchestrator/internal/bus"
	"media-orchestrator/internal/platform/logger"
	"media-orchestrator/internal/remote"
	"media-orchestrator/internal/task"
)

type stubConfigs struct {
	archive bool
	err     error
	calls   atomic.Int32
	during  func()
}

func (s *stubConfigs) StreamConfig(context.Context, string) (remote.StreamConfig, error) {
	s.calls.Add(1)
	if s.during != nil {
		s.during()
	}
	return remote.StreamConfig{Archive: s.archive}, s.err
}

func testCatalog() task.TransCatalog {
	return task.TransCatalog{Tasks: []task.Spec{
		{App: "live", HLS: true, HLSFlags: "hls_time=1"},
		{App: "live", Rec: true, HLS: true, HLSFlags: "hls_time=15:hls_list_size=0"},
		{App: "live", Name: "_low", VC: "libx264", HLS: true, Bandwidth: 800000, Resolution: "640x360"},
		{App: "other", HLS: true},
	}}
}

func newTestTranscode(t *testing.T, configs StreamConfigs) (*TranscodeService, *bus.Bus, string) {
	t.Helper()
	root := t.TempDir()
	svc := NewTranscodeService(TranscodeConfig{
		Catalog:          testCatalog(),
		Runtime:          task.Runtime{Encoder: fakeEncoder(t, idleEncoder), MediaRoot: root, RTMPPort: 1935},
		TranscodeEnabled: true,
		StopGrace:        5 * time.Second,
	}, configs, nil, logger.Discard(), nil)
	b := bus.New(logger.Discard())
	svc.Subscribe(b)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc, b, root
}

func publish(id, path string) bus.Stream { return bus.Stream{ID: id, Path: path} }

func TestTranscode_publish_starts_one_session_per_task(t *testing.T) {
	cfgs := &stubConfigs{archive: true}
	svc, b, root := newTestTranscode(t, cfgs)

	b.Publish(context.Background(), bus.PostPublish{Stream: publish("c1", "/live/cam")})

	for _, key := range []string{"live_index_c1", "live_archive_c1", "live__low_c1"} {
		_, ok := svc.Get(key)
		assert.True(t, ok, "missing session %s", key)
	}
	assert.Equal(t, 3, svc.Len())
	assert.EqualValues(t, 1, cfgs.calls.Load())

	abr, err := os.ReadFile(filepath.Join(root, "live", "cam", "abr.m3u8"))
	require.NoError(t, err)
	assert.Contains(t, string(abr), "index_low.m3u8")
	assert.Contains(t, string(abr), "index.m3u8")

	rec, ok := svc.ArchiveSession("cam")
	require.True(t, ok)
	assert.Equal(t, "live_archive_c1", rec.Key())
}

func TestTranscode_done_publish_reclaims_registry(t *testing.T) {
	svc, b, _ := newTestTranscode(t, &stubConfigs{archive: true})

	b.Publish(context.Background(), bus.PostPublish{Stream: publish("c1", "/live/cam")})
	idx, ok := svc.Get("live_index_c1")
	require.True(t, ok)

	b.Publish(context.Background(), bus.DonePublish{Stream: publish("c1", "/live/cam")})
	waitEnded(t, idx)
	require.Eventually(t, func() bool { return svc.Len() == 0 }, 10*time.Second, 10*time.Millisecond)
}

func TestTranscode_recording_skipped_when_archive_denied(t *testing.T) {
	for name, cfgs := range map[string]*stubConfigs{
		"denied":        {archive: false},
		"lookup failed": {archive: true, err: errors.New("api down")},
	} {
		t.Run(name, func(t *testing.T) {
			svc, b, _ := newTestTranscode(t, cfgs)
			b.Publish(context.Background(), bus.PostPublish{Stream: publish("c1", "/live/cam")})

			_, ok := svc.Get("live_archive_c1")
			assert.False(t, ok)
			_, ok = svc.Get("live_index_c1")
			assert.True(t, ok)
			_, found := svc.ArchiveSession("cam")
			assert.False(t, found)
		})
	}
}

func TestTranscode_no_config_lookup_without_recording_task(t *testing.T) {
	cfgs := &stubConfigs{archive: true}
	svc, b, _ := newTestTranscode(t, cfgs)

	b.Publish(context.Background(), bus.PostPublish{Stream: publish("c9", "/other/cam")})

	assert.Zero(t, cfgs.calls.Load())
	_, ok := svc.Get("other_index_c9")
	assert.True(t, ok)
}

func TestTranscode_publisher_gone_during_lookup(t *testing.T) {
	cfgs := &stubConfigs{archive: true}
	svc, _, _ := newTestTranscode(t, cfgs)
	cfgs.during = func() {
		svc.onDonePublish(context.Background(), bus.DonePublish{Stream: publish("c1", "/live/cam")})
	}

	svc.onPostPublish(context.Background(), bus.PostPublish{Stream: publish("c1", "/live/cam")})
	assert.Zero(t, svc.Len())
}

func TestTranscode_concurrent_done_publish_leaves_no_session(t *testing.T) {
	cfgs := &stubConfigs{archive: true}
	svc, b, _ := newTestTranscode(t, cfgs)

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("c%d", i)
		done := make(chan struct{})
		cfgs.during = func() {
			go func() {
				defer close(done)
				b.Publish(context.Background(), bus.DonePublish{Stream: publish(id, "/live/cam")})
			}()
		}
		b.Publish(context.Background(), bus.PostPublish{Stream: publish(id, "/live/cam")})
		<-done
	}
	require.Eventually(t, func() bool { return svc.Len() == 0 }, 10*time.Second, 10*time.Millisecond)
}

func TestTranscode_duplicate_identity_is_not_started(t *testing.T) {
	svc, b, _ := newTestTranscode(t, &stubConfigs{})

	b.Publish(context.Background(), bus.PostPublish{Stream: publish("c1", "/live/cam")})
	first, ok := svc.Get("live_index_c1")
	require.True(t, ok)

	b.Publish(context.Background(), bus.TransAdd{Stream: publish("c1", "/live/cam"), Task: "index"})
	again, ok := svc.Get("live_index_c1")
	require.True(t, ok)
	assert.Same(t, first, again)
	assert.Equal(t, 2, svc.Len())
}

func TestTranscode_trans_add_and_del_single_task(t *testing.T) {
	svc, b, _ := newTestTranscode(t, &stubConfigs{})

	b.Publish(context.Background(), bus.TransAdd{Stream: publish("c2", "/live/cam"), Task: "_low"})
	low, ok := svc.Get("live__low_c2")
	require.True(t, ok)
	assert.Equal(t, 1, svc.Len())

	b.Publish(context.Background(), bus.TransAdd{Stream: publish("c2", "/live/cam"), Task: "missing"})
	assert.Equal(t, 1, svc.Len())

	b.Publish(context.Background(), bus.TransDel{Stream: publish("c2", "/live/cam"), Task: "_low"})
	waitEnded(t, low)
	require.Eventually(t, func() bool { return svc.Len() == 0 }, 10*time.Second, 10*time.Millisecond)
}

func TestTranscode_abr_lists_source_only_without_transcoding(t *testing.T) {
	root := t.TempDir()
	svc := NewTranscodeService(TranscodeConfig{
		Catalog: task.TransCatalog{Tasks: []task.Spec{{App: "live", Name: "_low", HLS: true, Bandwidth: 800000}}},
		Runtime: task.Runtime{Encoder: fakeEncoder(t, "exit 0"), MediaRoot: root},
	}, nil, nil, logger.Discard(), nil)

	svc.onPostPublish(context.Background(), bus.PostPublish{Stream: publish("c1", "/live/cam")})
	t.Cleanup(func() { svc.Shutdown(context.Background()) })

	abr, err := os.ReadFile(filepath.Join(root, "live", "cam", "abr.m3u8"))
	require.NoError(t, err)
	assert.NotContains(t, string(abr), "index_low.m3u8")
	assert.Contains(t, string(abr), "index.m3u8")
}
