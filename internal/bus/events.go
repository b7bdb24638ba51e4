package bus

import "net/url"

// Kind names an event type.
type Kind string

const (
	KindPostPublish Kind = "postPublish"
	KindDonePublish Kind = "donePublish"
	KindPrePlay     Kind = "prePlay"
	KindDonePlay    Kind = "donePlay"
	KindRelayPull   Kind = "relayPull"
	KindRelayPush   Kind = "relayPush"
	KindRelayDelete Kind = "relayDelete"
	KindTransAdd    Kind = "transAdd"
	KindTransDel    Kind = "transDel"
	KindClip        Kind = "clip"
)

// Event is the tagged union carried by the Bus.
type Event interface {
	Kind() Kind
}

// Stream identifies a connection on a stream path, with the query
// arguments it connected with.
type Stream struct {
	ID   string
	Path string
	Args url.Values
}

type PostPublish struct{ Stream }
type DonePublish struct{ Stream }
type PrePlay struct{ Stream }
type DonePlay struct{ Stream }

// RelayPull asks for URL to be pulled into the local app/name.
type RelayPull struct {
	ID   string
	URL  string
	App  string
	Name string
}

// RelayPush asks for the local app/name to be pushed to URL.
type RelayPush struct {
	ID   string
	URL  string
	App  string
	Name string
}

type RelayDelete struct {
	ID string
}

// TransAdd starts a single catalog task on a live stream.
type TransAdd struct {
	Stream
	Task string
}

// TransDel stops a single catalog task on a live stream.
type TransDel struct {
	Stream
	Task string
}

// Clip records a completed clip extraction.
type Clip struct {
	Length   float64
	Name     string
	Filename string
	URL      string
}

func (PostPublish) Kind() Kind { return KindPostPublish }
func (DonePublish) Kind() Kind { return KindDonePublish }
func (PrePlay) Kind() Kind     { return KindPrePlay }
func (DonePlay) Kind() Kind    { return KindDonePlay }
func (RelayPull) Kind() Kind   { return KindRelayPull }
func (RelayPush) Kind() Kind   { return KindRelayPush }
func (RelayDelete) Kind() Kind { return KindRelayDelete }
func (TransAdd) Kind() Kind    { return KindTransAdd }
func (TransDel) Kind() Kind    { return KindTransDel }
func (Clip) Kind() Kind        { return KindClip }
