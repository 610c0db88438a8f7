// Package replica wraps the CRDT document model used for collaborative
// state. The merge algorithm itself comes from automerge; nothing outside
// this package imports it.
//
// Documents hold named top-level maps (nodes, edges, titles) and named text
// fragments (page bodies). Map values are stored as JSON-encoded strings so
// concurrent edits merge at whole-record granularity, matching the
// map-of-records shape the rest of the system expects.
package replica

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/automerge/automerge-go"
)

// EntryKind classifies a top-level document entry.
type EntryKind int

const (
	EntryNone EntryKind = iota
	EntryMap
	EntryText
	EntryOther
)

// Doc is a replicated document. All methods are safe for concurrent use.
type Doc struct {
	mu      sync.Mutex
	doc     *automerge.Doc
	subs    map[int]func()
	nextSub int
}

// New creates an empty document.
func New() *Doc {
	return &Doc{doc: automerge.New(), subs: make(map[int]func())}
}

// Load reconstructs a document from a previously encoded state.
func Load(state []byte) (*Doc, error) {
	d, err := automerge.Load(state)
	if err != nil {
		return nil, fmt.Errorf("load replica state: %w", err)
	}
	return &Doc{doc: d, subs: make(map[int]func())}, nil
}

// EncodeState serializes the full replicated state.
func (d *Doc) EncodeState() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Save()
}

// ApplyUpdate merges a remote incremental update into the document and
// notifies subscribers.
func (d *Doc) ApplyUpdate(update []byte) error {
	d.mu.Lock()
	err := d.doc.LoadIncremental(update)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("apply update: %w", err)
	}
	d.notify()
	return nil
}

// FlushLocal returns the changes made locally since the previous call,
// encoded as an incremental update. Returns nil when nothing changed.
func (d *Doc) FlushLocal() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.doc.SaveIncremental()
	if len(b) == 0 {
		return nil
	}
	return b
}

// Subscribe registers a change callback and returns its deregistration
// handle. Consumers must call the handle on teardown.
func (d *Doc) Subscribe(fn func()) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *Doc) notify() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Keys returns the top-level entry names of the document.
func (d *Doc) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys, err := d.doc.RootMap().Keys()
	if err != nil {
		return nil
	}
	return keys
}

// KindOf reports the kind of a top-level entry.
func (d *Doc) KindOf(name string) EntryKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.doc.RootMap().Get(name)
	if err != nil || v == nil {
		return EntryNone
	}
	switch v.Kind() {
	case automerge.KindVoid:
		return EntryNone
	case automerge.KindMap:
		return EntryMap
	case automerge.KindText:
		return EntryText
	default:
		return EntryOther
	}
}

// Map returns a handle on a named top-level map. The map materializes in
// the document on first write.
func (d *Doc) Map(name string) *Map {
	return &Map{doc: d, name: name}
}

// SetText replaces the content of a named text fragment.
func (d *Doc) SetText(name, content string) error {
	d.mu.Lock()
	err := d.doc.Path(name).Text().Set(content)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("set text %q: %w", name, err)
	}
	d.notify()
	return nil
}

// GetText returns the content of a named text fragment. Missing fragments
// read as empty.
func (d *Doc) GetText(name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.doc.RootMap().Get(name)
	if err != nil {
		return "", fmt.Errorf("get text %q: %w", name, err)
	}
	if v == nil || v.Kind() != automerge.KindText {
		return "", nil
	}
	return v.Text().Get()
}

// Map is a handle on a named top-level map of JSON-encoded records.
type Map struct {
	doc  *Doc
	name string
}

// SetJSON stores a record under key.
func (m *Map) SetJSON(key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", m.name, key, err)
	}
	m.doc.mu.Lock()
	err = m.doc.doc.Path(m.name).Map().Set(key, string(b))
	m.doc.mu.Unlock()
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", m.name, key, err)
	}
	m.doc.notify()
	return nil
}

// GetJSON decodes the record under key into out. The boolean reports
// whether the key was present.
func (m *Map) GetJSON(key string, out any) (bool, error) {
	m.doc.mu.Lock()
	raw, ok, err := m.rawLocked(key)
	m.doc.mu.Unlock()
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", m.name, key, err)
	}
	return true, nil
}

// Raw returns the stored JSON text under key.
func (m *Map) Raw(key string) (string, bool, error) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	return m.rawLocked(key)
}

func (m *Map) rawLocked(key string) (string, bool, error) {
	root, err := m.doc.doc.RootMap().Get(m.name)
	if err != nil {
		return "", false, fmt.Errorf("get map %s: %w", m.name, err)
	}
	if root == nil || root.Kind() != automerge.KindMap {
		return "", false, nil
	}
	v, err := root.Map().Get(key)
	if err != nil {
		return "", false, fmt.Errorf("get %s/%s: %w", m.name, key, err)
	}
	if v == nil || v.Kind() != automerge.KindStr {
		return "", false, nil
	}
	return v.Str(), true, nil
}

// Delete removes the record under key. Deleting a missing key is a no-op.
func (m *Map) Delete(key string) error {
	m.doc.mu.Lock()
	root, err := m.doc.doc.RootMap().Get(m.name)
	if err != nil || root == nil || root.Kind() != automerge.KindMap {
		m.doc.mu.Unlock()
		return err
	}
	err = root.Map().Delete(key)
	m.doc.mu.Unlock()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", m.name, key, err)
	}
	m.doc.notify()
	return nil
}

// Keys returns the keys of the map. A map that never materialized reads
// as empty.
func (m *Map) Keys() []string {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	root, err := m.doc.doc.RootMap().Get(m.name)
	if err != nil || root == nil || root.Kind() != automerge.KindMap {
		return nil
	}
	keys, err := root.Map().Keys()
	if err != nil {
		return nil
	}
	return keys
}

// Len returns the number of records in the map.
func (m *Map) Len() int {
	return len(m.Keys())
}
