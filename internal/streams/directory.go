// Package streams tracks which connections publish and play each stream path.
package streams

import (
	"context"
	"sort"
	"sync"

	"media-orchestrator/internal/bus"
)

// Directory is fed by lifecycle events. Subscribe it before any component
// that queries it, so counts already reflect the event being delivered.
type Directory struct {
	mu         sync.RWMutex
	publishers map[string]string
	players    map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		publishers: make(map[string]string),
		players:    make(map[string]map[string]struct{}),
	}
}

// Subscribe wires the directory to b.
func (d *Directory) Subscribe(b *bus.Bus) {
	bus.On(b, func(_ context.Context, ev bus.PostPublish) { d.Publish(ev.Path, ev.ID) })
	bus.On(b, func(_ context.Context, ev bus.DonePublish) { d.Unpublish(ev.Path, ev.ID) })
	bus.On(b, func(_ context.Context, ev bus.PrePlay) { d.Join(ev.Path, ev.ID) })
	bus.On(b, func(_ context.Context, ev bus.DonePlay) { d.Leave(ev.Path, ev.ID) })
}

func (d *Directory) Publish(path, connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.publishers[path] = connID
}

// Unpublish clears path's publisher if it is still connID.
func (d *Directory) Unpublish(path, connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.publishers[path] == connID {
		delete(d.publishers, path)
	}
}

func (d *Directory) Join(path, connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.players[path]
	if !ok {
		set = make(map[string]struct{})
		d.players[path] = set
	}
	set[connID] = struct{}{}
}

func (d *Directory) Leave(path, connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.players[path]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(d.players, path)
	}
}

// Publisher returns the connection publishing path.
func (d *Directory) Publisher(path string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.publishers[path]
	return id, ok
}

func (d *Directory) HasPublisher(path string) bool {
	_, ok := d.Publisher(path)
	return ok
}

func (d *Directory) PlayerCount(path string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.players[path])
}

// Stream is one entry of a directory snapshot.
type Stream struct {
	Path      string `json:"path"`
	Publisher string `json:"publisher,omitempty"`
	Players   int    `json:"players"`
}

// Snapshot lists every known stream path, sorted.
func (d *Directory) Snapshot() []Stream {
	d.mu.RLock()
	defer d.mu.RUnlock()

	paths := make(map[string]struct{}, len(d.publishers)+len(d.players))
	for p := range d.publishers {
		paths[p] = struct{}{}
	}
	for p := range d.players {
		paths[p] = struct{}{}
	}
	out := make([]Stream, 0, len(paths))
	for p := range paths {
		out = append(out, Stream{Path: p, Publisher: d.publishers[p], Players: len(d.players[p])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
