package dataset

import (
	"errors"
	"strings"
	"testing"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundleJSON = `{
  "name": "train",
  "weight": 2,
  "segments": [
    {
      "name": "easy",
      "score": 1,
      "samples": [
        {"image_filename": "a.png", "class": 0},
        {"image_filename": "b.png", "class": 1}
      ]
    },
    {
      "name": "hard",
      "score": 3,
      "samples": [
        {"image_filename": "c.png", "boxes": [{"x":0.5,"y":0.5,"w":0.1,"h":0.2,"class":2}]}
      ]
    }
  ]
}`

func TestLoadBundleDecodesSegmentsAndSamples(t *testing.T) {
	b, err := LoadBundle(strings.NewReader(bundleJSON))
	require.NoError(t, err)

	assert.Equal(t, "train", b.Name)
	assert.Equal(t, 2.0, b.Weight)
	require.Len(t, b.Segments, 2)
	assert.Equal(t, "easy", b.Segments[0].Name)
	assert.Equal(t, 2, b.Segments[0].Count())
	assert.Equal(t, 3.0, b.Segments[1].Score)

	box := b.Segments[1].Samples[0].Boxes[0]
	assert.Equal(t, 2, box.Class)
	assert.Equal(t, 0.1, box.W)
	assert.Equal(t, 0.2, box.H)
}

func TestLoadBundleDefaultsWeightAndScore(t *testing.T) {
	b, err := LoadBundle(strings.NewReader(`{"name":"x","segments":[{"name":"s","samples":[]}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1.0, b.Weight)
	assert.Equal(t, 1.0, b.Segments[0].Score)
}

func TestBundleCountSumsSegments(t *testing.T) {
	b, err := LoadBundle(strings.NewReader(bundleJSON))
	require.NoError(t, err)
	assert.Equal(t, 3, b.Count())
}

func TestMoveSegmentTransfersBetweenBundles(t *testing.T) {
	src, err := LoadBundle(strings.NewReader(bundleJSON))
	require.NoError(t, err)
	dst := &Bundle{Name: "dst"}

	require.NoError(t, MoveSegment(src, dst, "hard"))

	assert.Len(t, src.Segments, 1)
	assert.Equal(t, "easy", src.Segments[0].Name)
	require.Len(t, dst.Segments, 1)
	assert.Equal(t, "hard", dst.Segments[0].Name)
}

func TestMoveSegmentNotFoundErrors(t *testing.T) {
	src := &Bundle{Name: "src"}
	dst := &Bundle{Name: "dst"}
	err := MoveSegment(src, dst, "missing")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, cnerr.ErrConfig))
}
