package boundingbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntersectionOverUnionIdentical(t *testing.T) {
	b := New(0.5, 0.5, 0.2, 0.4)
	assert.InDelta(t, 1.0, b.IntersectionOverUnion(b), 1e-9)
}

func TestIntersectionOverUnionDisjoint(t *testing.T) {
	a := New(0.1, 0.1, 0.1, 0.1)
	b := New(0.9, 0.9, 0.1, 0.1)
	assert.Equal(t, 0.0, a.IntersectionOverUnion(b))
}

func TestIntersectionOverUnionPartialOverlap(t *testing.T) {
	a := New(0.5, 0.5, 0.4, 0.4) // spans [0.3,0.7]x[0.3,0.7]
	b := New(0.6, 0.5, 0.4, 0.4) // spans [0.4,0.8]x[0.3,0.7]
	inter := 0.3 * 0.4           // overlap [0.4,0.7]x[0.3,0.7]
	union := 0.16 + 0.16 - inter
	assert.InDelta(t, inter/union, a.IntersectionOverUnion(b), 1e-9)
}

func TestNMSSuppressesLowerScoreOverlap(t *testing.T) {
	boxes := []BoundingBox{
		{X: 0.5, Y: 0.5, W: 0.2, H: 0.2, Score: 0.9, Class: 0},
		{X: 0.51, Y: 0.5, W: 0.2, H: 0.2, Score: 0.5, Class: 0}, // heavily overlaps the first
		{X: 0.1, Y: 0.1, W: 0.1, H: 0.1, Score: 0.6, Class: 0},  // disjoint, survives
	}
	survivors := NMS(boxes)
	assert.Len(t, survivors, 2)
	assert.Equal(t, 0.9, survivors[0].Score)
	assert.Equal(t, 0.6, survivors[1].Score)
}

func TestNMSKeepsDifferentClassesSeparate(t *testing.T) {
	boxes := []BoundingBox{
		{X: 0.5, Y: 0.5, W: 0.3, H: 0.3, Score: 0.9, Class: 0},
		{X: 0.5, Y: 0.5, W: 0.3, H: 0.3, Score: 0.8, Class: 1},
	}
	survivors := NMS(boxes)
	assert.Len(t, survivors, 2)
}
