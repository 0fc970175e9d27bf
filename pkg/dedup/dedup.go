// Package dedup computes content digests of capture artifacts and uses them
// to detect frames whose page state did not change.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/entrhq/wayfinder/pkg/session"
)

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashScreenshot digests raw image bytes.
func HashScreenshot(data []byte) string {
	return Digest(data)
}

// HashHTML digests the serialized DOM exactly as captured.
func HashHTML(html string) string {
	return Digest([]byte(html))
}

// HashLayout serializes a layout tree and digests it. Map keys are emitted in
// sorted order, so equal trees hash equally regardless of construction order.
// The serialized bytes are returned for persistence.
func HashLayout(tree interface{}) (string, []byte, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return "", nil, fmt.Errorf("dedup: layout: %w", err)
	}
	return Digest(data), data, nil
}

// Signal names the evidence a verdict was based on.
type Signal string

const (
	SignalNone       Signal = ""
	SignalDOM        Signal = "dom"
	SignalScreenshot Signal = "screenshot"
	SignalLayout     Signal = "layout"
)

// Verdict is the result of comparing a frame with its predecessor.
type Verdict struct {
	Duplicate bool
	Retained  bool
	Signal    Signal
}

// Deduplicator flags frames whose content matches the previous frame.
// It is safe for concurrent use.
type Deduplicator struct {
	mu         sync.Mutex
	checked    int
	duplicates int
}

// New creates a Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{}
}

// Check compares next against prev. The DOM hash is consulted first; when
// either frame lacks one, the screenshot and then layout hashes are used.
// When force is set a matching frame is reported as retained rather than
// duplicate.
func (d *Deduplicator) Check(prev, next *session.Frame, force bool) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checked++

	if prev == nil || next == nil {
		return Verdict{}
	}

	signal := match(prev, next)
	if signal == SignalNone {
		return Verdict{}
	}
	if force {
		return Verdict{Retained: true, Signal: signal}
	}
	d.duplicates++
	return Verdict{Duplicate: true, Signal: signal}
}

func match(prev, next *session.Frame) Signal {
	if prev.DOM.Hash != "" && next.DOM.Hash != "" {
		if prev.DOM.Hash == next.DOM.Hash && prev.DOM.URL == next.DOM.URL {
			return SignalDOM
		}
		return SignalNone
	}
	if prev.Screenshot.Hash != "" && next.Screenshot.Hash != "" {
		if prev.Screenshot.Hash == next.Screenshot.Hash {
			return SignalScreenshot
		}
		return SignalNone
	}
	if prev.Layout != nil && next.Layout != nil && prev.Layout.Hash != "" {
		if prev.Layout.Hash == next.Layout.Hash {
			return SignalLayout
		}
	}
	return SignalNone
}

// Stats returns how many frames were checked and how many were duplicates.
func (d *Deduplicator) Stats() (checked, duplicates int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checked, d.duplicates
}

// Index maps content digests to the artifact path that already holds the
// content, so identical bytes are persisted once per session.
type Index struct {
	mu    sync.Mutex
	paths map[string]string
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{paths: make(map[string]string)}
}

// Lookup returns the path stored for digest.
func (i *Index) Lookup(digest string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	p, ok := i.paths[digest]
	return p, ok
}

// Remember records that digest is stored at path. The first path wins.
func (i *Index) Remember(digest, path string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if p, ok := i.paths[digest]; ok {
		return p
	}
	i.paths[digest] = path
	return path
}
