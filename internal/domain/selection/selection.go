// Package selection holds the colors and images a user picks while filling
// in a listing form.
package selection

import (
	"slices"
	"sync"

	"github.com/xenking/catalog-ingest/internal/domain/asset"
	"github.com/xenking/catalog-ingest/internal/domain/product"
)

// State is the mutable, concurrency-safe selection a form edits. Colors and
// images keep the order they were added in.
type State struct {
	mu     sync.RWMutex
	colors []product.Color
	images []asset.Source
}

// New creates an empty State.
func New() *State {
	return &State{}
}

// AddColor appends c. Picking the same color twice keeps both entries.
func (s *State) AddColor(c product.Color) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colors = append(s.colors, c)
}

// AddImages appends srcs in order, ignoring nil entries.
func (s *State) AddImages(srcs ...asset.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range srcs {
		if src != nil {
			s.images = append(s.images, src)
		}
	}
}

// Clear empties the selection.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colors = nil
	s.images = nil
}

// Snapshot captures the current selection. Later edits to s do not affect
// the returned value.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		colors: slices.Clone(s.colors),
		images: slices.Clone(s.images),
	}
}

// Snapshot is an immutable copy of a State.
type Snapshot struct {
	colors []product.Color
	images []asset.Source
}

// NewSnapshot builds a Snapshot directly, for callers that do not keep a
// long-lived State.
func NewSnapshot(colors []product.Color, images []asset.Source) Snapshot {
	s := New()
	for _, c := range colors {
		s.AddColor(c)
	}
	s.AddImages(images...)
	return s.Snapshot()
}

// Colors returns a copy of the picked colors.
func (s Snapshot) Colors() []product.Color { return slices.Clone(s.colors) }

// Images returns the picked images tagged with their selection index.
func (s Snapshot) Images() []asset.Image {
	out := make([]asset.Image, len(s.images))
	for i, src := range s.images {
		out[i] = asset.Image{Index: i, Source: src}
	}
	return out
}

// Len returns the number of picked images.
func (s Snapshot) Len() int { return len(s.images) }
