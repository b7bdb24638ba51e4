package playlist

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/grafov/m3u8"
)

// ABRFileName is the master playlist written next to a stream's renditions.
const ABRFileName = "abr.m3u8"

// Rendition is one variant of the adaptive bitrate master playlist.
type Rendition struct {
	URI        string
	Bandwidth  uint32
	Resolution string
}

// Source is the source-quality variant, always present.
var Source = Rendition{URI: "index.m3u8", Bandwidth: 5000000, Resolution: "1920x1080"}

// BuildABR renders a master playlist listing renditions followed by the
// source variant.
func BuildABR(renditions []Rendition) string {
	master := m3u8.NewMasterPlaylist()
	all := make([]Rendition, 0, len(renditions)+1)
	all = append(all, renditions...)
	for _, r := range append(all, Source) {
		master.Append(r.URI, nil, m3u8.VariantParams{
			ProgramId:  1,
			Bandwidth:  r.Bandwidth,
			Resolution: r.Resolution,
		})
	}
	return master.String()
}

// WriteABR atomically writes abr.m3u8 into dir, creating dir if needed.
func WriteABR(dir string, renditions []Rendition) error {
	return writeFile(filepath.Join(dir, ABRFileName), BuildABR(renditions))
}

// WritePlaceholder atomically replaces path with an empty, ended playlist so
// clients polling a finished stream get a well-formed manifest.
func WritePlaceholder(path string) error {
	return writeFile(path, Placeholder())
}

func writeFile(path, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create playlist dir: %w", err)
	}
	if err := renameio.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
