package task

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the static configuration of transcode and relay tasks.
type Catalog struct {
	Trans TransCatalog `yaml:"trans"`
	Relay RelayCatalog `yaml:"relay"`
}

type TransCatalog struct {
	AnalyzeDuration string `yaml:"analyze_duration"`
	ProbeSize       string `yaml:"probe_size"`
	Tasks           []Spec `yaml:"tasks"`
}

type RelayCatalog struct {
	// UpdateInterval is in milliseconds; zero means the configured default.
	UpdateInterval int    `yaml:"update_interval"`
	Tasks          []Spec `yaml:"tasks"`
}

// LoadCatalog reads a YAML catalog. An empty path returns DefaultCatalog.
func LoadCatalog(path string, transcode, archive bool) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(transcode, archive), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(b)
}

// ParseCatalog decodes catalog YAML and fills defaults.
func ParseCatalog(b []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	for i, t := range c.Trans.Tasks {
		if t.App == "" {
			return Catalog{}, fmt.Errorf("trans task %d: app is required", i)
		}
		if t.Mode == "" {
			c.Trans.Tasks[i].Mode = ModeLocalMux
		}
	}
	for i, t := range c.Relay.Tasks {
		switch t.Mode {
		case ModePull, ModePush, ModeStatic:
		default:
			return Catalog{}, fmt.Errorf("relay task %d: unsupported mode %q", i, t.Mode)
		}
		if t.App == "" || t.Edge == "" {
			return Catalog{}, fmt.Errorf("relay task %d: app and edge are required", i)
		}
	}
	c.fillDefaults()
	return c, nil
}

func (c *Catalog) fillDefaults() {
	if c.Trans.AnalyzeDuration == "" {
		c.Trans.AnalyzeDuration = "1000000"
	}
	if c.Trans.ProbeSize == "" {
		c.Trans.ProbeSize = "1000000"
	}
}

// Find returns the transcode task for app with the given task name.
func (c TransCatalog) Find(app, taskName string) (Spec, error) {
	for _, t := range c.Tasks {
		if t.App == app && t.TaskName() == taskName {
			return t, nil
		}
	}
	return Spec{}, fmt.Errorf("%w: %s/%s", ErrUnknownTask, app, taskName)
}

// ForApp returns the transcode tasks bound to app, in catalog order.
func (c TransCatalog) ForApp(app string) []Spec {
	var out []Spec
	for _, t := range c.Tasks {
		if t.App == app {
			out = append(out, t)
		}
	}
	return out
}

const liveHLSFlags = "hls_time=1:hls_list_size=5:hls_flags=delete_segments"

// DefaultCatalog is used when no catalog file is configured: a source-quality
// HLS task for app "live", plus the archive task and the low/medium/high
// ladder when enabled.
func DefaultCatalog(transcode, archive bool) Catalog {
	tasks := []Spec{{
		App: "live", Mode: ModeLocalMux, VC: "copy", AC: "copy",
		HLS: true, HLSFlags: liveHLSFlags,
	}}
	if archive {
		tasks = append(tasks, Spec{
			App: "live", Mode: ModeLocalMux, VC: "copy", AC: "copy", Rec: true,
			HLS: true, HLSFlags: "hls_time=15:hls_list_size=0", HLSKeep: true,
		})
	}
	if transcode {
		tasks = append(tasks,
			rendition("_low", "480", "800k", "1200k", "96k", 800000, "640x360"),
			rendition("_medium", "854", "1400k", "2100k", "128k", 1400000, "842x480"),
			rendition("_high", "1280", "2800k", "4200k", "128k", 2800000, "1280x720"),
		)
	}
	c := Catalog{Trans: TransCatalog{Tasks: tasks}}
	c.fillDefaults()
	return c
}

func rendition(name, width, vbit, bufsize, abit string, bandwidth int, res string) Spec {
	return Spec{
		App:     "live",
		Name:    name,
		Mode:    ModeLocalMux,
		AC:      "copy",
		ACParam: []string{"-b:a", abit, "-ar", "48000"},
		VC:      "libx264",
		VCParam: []string{
			"-vf", "scale=" + width + ":-1", "-b:v", vbit, "-preset", "superfast",
			"-profile:v", "baseline", "-bufsize", bufsize, "-crf", "35",
			"-muxdelay", "0", "-copyts", "-tune", "zerolatency",
		},
		HLS:        true,
		HLSFlags:   liveHLSFlags,
		Bandwidth:  bandwidth,
		Resolution: res,
	}
}
