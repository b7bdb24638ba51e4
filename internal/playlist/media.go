// Package playlist reads and writes the HLS manifests the orchestrator deals
// with: rolling media playlists, the adaptive bitrate master and the
// placeholder left behind when a stream ends.
package playlist

import (
	"errors"
	"fmt"
	"io"

	"github.com/grafov/m3u8"
)

// ErrNotMediaPlaylist is returned by ParseMedia for master playlists.
var ErrNotMediaPlaylist = errors.New("not a media playlist")

// Segment is one entry of a media playlist.
type Segment struct {
	URI      string
	Duration float64
}

// Placeholder renders an ended media playlist with no segments.
func Placeholder() string {
	// Only fails when winsize exceeds capacity.
	p, _ := m3u8.NewMediaPlaylist(0, 0)
	p.TargetDuration = 1
	p.Close()
	return p.String()
}

// ParseMedia decodes a media playlist into its ordered segment list.
func ParseMedia(r io.Reader) ([]Segment, error) {
	p, kind, err := m3u8.DecodeFrom(r, false)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	media, ok := p.(*m3u8.MediaPlaylist)
	if kind != m3u8.MEDIA || !ok {
		return nil, ErrNotMediaPlaylist
	}

	segs := make([]Segment, 0, media.Count())
	for _, s := range media.Segments {
		if s == nil {
			continue
		}
		segs = append(segs, Segment{URI: s.URI, Duration: s.Duration})
	}
	return segs, nil
}
