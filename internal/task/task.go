// Package task describes encoder work: catalog entries, the runtime
// Definition a Session is built from, and composite task identity.
package task

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Mode selects how a task's encoder is wired.
type Mode string

const (
	ModeLocalMux Mode = "local-mux"
	ModePull     Mode = "pull"
	ModePush     Mode = "push"
	ModeStatic   Mode = "static"
)

// DefaultTaskName is used when a task has no name and does not record.
const DefaultTaskName = "index"

// ArchiveTaskName is the default name of a recording task.
const ArchiveTaskName = "archive"

var (
	// ErrInvalidStreamPath is returned when a stream path is not /app/name.
	ErrInvalidStreamPath = errors.New("invalid stream path")
	// ErrUnknownTask is returned when a named task is not in the catalog.
	ErrUnknownTask = errors.New("unknown task")
)

// Spec is one catalog entry as written in the YAML catalog.
type Spec struct {
	App  string `yaml:"app" json:"app"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Mode Mode   `yaml:"mode,omitempty" json:"mode,omitempty"`

	VC      string   `yaml:"vc,omitempty" json:"vc,omitempty"`
	VCParam []string `yaml:"vc_param,omitempty" json:"vc_param,omitempty"`
	AC      string   `yaml:"ac,omitempty" json:"ac,omitempty"`
	ACParam []string `yaml:"ac_param,omitempty" json:"ac_param,omitempty"`

	RTMP      bool   `yaml:"rtmp,omitempty" json:"rtmp,omitempty"`
	RTMPApp   string `yaml:"rtmp_app,omitempty" json:"rtmp_app,omitempty"`
	MP4       bool   `yaml:"mp4,omitempty" json:"mp4,omitempty"`
	MP4Flags  string `yaml:"mp4_flags,omitempty" json:"mp4_flags,omitempty"`
	HLS       bool   `yaml:"hls,omitempty" json:"hls,omitempty"`
	HLSFlags  string `yaml:"hls_flags,omitempty" json:"hls_flags,omitempty"`
	HLSKeep   bool   `yaml:"hls_keep,omitempty" json:"hls_keep,omitempty"`
	DASH      bool   `yaml:"dash,omitempty" json:"dash,omitempty"`
	DASHFlags string `yaml:"dash_flags,omitempty" json:"dash_flags,omitempty"`
	FLV       bool   `yaml:"flv,omitempty" json:"flv,omitempty"`
	FLVFlags  string `yaml:"flv_flags,omitempty" json:"flv_flags,omitempty"`

	Rec bool `yaml:"rec,omitempty" json:"rec,omitempty"`

	// Relay fields.
	Edge       string `yaml:"edge,omitempty" json:"edge,omitempty"`
	AppendName *bool  `yaml:"append_name,omitempty" json:"append_name,omitempty"`

	// ABR rendition advertised for this task; zero means not listed.
	Bandwidth  int    `yaml:"bandwidth,omitempty" json:"bandwidth,omitempty"`
	Resolution string `yaml:"resolution,omitempty" json:"resolution,omitempty"`
}

// TaskName is the task's name, falling back to "archive" for recording
// tasks and "index" otherwise.
func (s Spec) TaskName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Rec:
		return ArchiveTaskName
	default:
		return DefaultTaskName
	}
}

// Runtime carries the per-process values merged into every Definition.
type Runtime struct {
	Encoder         string
	MediaRoot       string
	RTMPPort        int
	AnalyzeDuration string
	ProbeSize       string
}

// Definition is a Spec bound to a concrete stream. It is immutable once built.
type Definition struct {
	Spec
	Runtime

	StreamPath string
	StreamApp  string
	StreamName string
	Args       url.Values

	// InPath and OutPath are only set for relay modes.
	InPath  string
	OutPath string
}

// Bind merges a catalog entry with runtime stream identity.
func (s Spec) Bind(rt Runtime, streamPath string, args url.Values) (Definition, error) {
	app, name, err := ParseStreamPath(streamPath)
	if err != nil {
		return Definition{}, err
	}
	if s.Rec && s.Name == "" {
		s.Name = ArchiveTaskName
	}
	if s.Mode == "" {
		s.Mode = ModeLocalMux
	}
	return Definition{
		Spec:       s,
		Runtime:    rt,
		StreamPath: streamPath,
		StreamApp:  app,
		StreamName: name,
		Args:       args,
	}, nil
}

// LocalURL is the RTMP address of app/name on the local ingest.
func (rt Runtime) LocalURL(streamPath string) string {
	return fmt.Sprintf("rtmp://127.0.0.1:%d%s", rt.RTMPPort, streamPath)
}

// Key builds the composite task identity app_task_conn.
func Key(app, taskName, connID string) string {
	return app + "_" + taskName + "_" + connID
}

// ParseStreamPath splits "/app/name" at its last slash. Nested apps such as
// "/live/sub/name" yield app "live/sub".
func ParseStreamPath(p string) (app, name string, err error) {
	if !strings.HasPrefix(p, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidStreamPath, p)
	}
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidStreamPath, p)
	}
	app, name = p[1:i], p[i+1:]
	if app == "" || name == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidStreamPath, p)
	}
	return app, name, nil
}
