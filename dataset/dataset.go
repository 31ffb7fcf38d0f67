// Package dataset implements the Bundle -> Segment -> Sample hierarchical
// labeled-data model and the JSON sample decoding it is built from.
// Grounded on the teacher's dataset.go load-then-extract shape
// (NewDataSet/ExtractFeatures), generalized from a flat CSV feature matrix
// to JSON samples carrying task-specific label keys.
package dataset

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/milosgajdos83/cn24/cnerr"
)

// Sample is one labeled training example. ImageFilename is always present;
// the remaining fields are interpreted by BundleInputLayer according to
// the active task.
type Sample struct {
	ImageFilename string `json:"image_filename"`

	Class         *int       `json:"class,omitempty"`
	LabelFilename string     `json:"label_filename,omitempty"`
	Boxes         []BoxLabel `json:"boxes,omitempty"`
}

// BoxLabel is a detection ground-truth box as it appears in a sample's JSON
// "boxes" array, normalized to [0,1] in image coordinates.
type BoxLabel struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
	Class int     `json:"class"`
}

// Segment is a named, scored, ordered list of Samples. Score is carried
// with the segment; BundleInputLayer picks segments uniformly and does not
// read it.
type Segment struct {
	Name    string
	Score   float64
	Samples []Sample
}

// Count returns the number of samples in the segment.
func (s *Segment) Count() int { return len(s.Samples) }

// Bundle is a named, ordered list of Segments plus the training weight this
// bundle contributes relative to its siblings.
type Bundle struct {
	Name     string
	Weight   float64
	Segments []*Segment
}

// Count returns the total sample count across all segments.
func (b *Bundle) Count() int {
	n := 0
	for _, s := range b.Segments {
		n += s.Count()
	}
	return n
}

// MoveSegment transfers a segment from src to dst by name, enforcing that a
// segment belongs to at most one bundle at a time.
func MoveSegment(src, dst *Bundle, name string) error {
	for i, seg := range src.Segments {
		if seg.Name != name {
			continue
		}
		src.Segments = append(src.Segments[:i], src.Segments[i+1:]...)
		dst.Segments = append(dst.Segments, seg)
		return nil
	}
	return fmt.Errorf("dataset: segment %q not found in bundle %q: %w", name, src.Name, cnerr.ErrConfig)
}

// bundleFile is the on-disk JSON shape for a whole bundle.
type bundleFile struct {
	Name     string `json:"name"`
	Weight   float64 `json:"weight"`
	Segments []struct {
		Name    string   `json:"name"`
		Score   float64  `json:"score"`
		Samples []Sample `json:"samples"`
	} `json:"segments"`
}

// LoadBundle decodes a bundle JSON document into its in-memory form.
func LoadBundle(r io.Reader) (*Bundle, error) {
	var bf bundleFile
	if err := json.NewDecoder(r).Decode(&bf); err != nil {
		return nil, fmt.Errorf("dataset: decoding bundle: %w", err)
	}
	if bf.Weight == 0 {
		bf.Weight = 1
	}
	b := &Bundle{Name: bf.Name, Weight: bf.Weight}
	for _, s := range bf.Segments {
		score := s.Score
		if score == 0 {
			score = 1
		}
		b.Segments = append(b.Segments, &Segment{Name: s.Name, Score: score, Samples: s.Samples})
	}
	return b, nil
}
