package tensor

import "github.com/milosgajdos83/cn24/boundingbox"

// PerSampleMeta is the per-sample metadata sidechannel a CombinedTensor may
// carry alongside its Data/Delta pair. It replaces the source's opaque
// DatasetMetadataPointer erasure with an explicit sum type: today only
// detection boxes are modeled, but the zero value (no metadata) is always
// valid and cheap.
type PerSampleMeta struct {
	Boxes []boundingbox.BoundingBox
}

// HasBoxes reports whether this slot carries detection ground truth or
// decoded predictions.
func (m PerSampleMeta) HasBoxes() bool {
	return len(m.Boxes) > 0
}

// CombinedTensor pairs an activation tensor with its gradient tensor, both
// identically shaped, plus an optional per-sample metadata array
// interpreted by the layers that produced or consume it (typically
// bounding boxes for detection).
type CombinedTensor struct {
	Data  *Tensor
	Delta *Tensor

	// Meta holds one PerSampleMeta slot per sample, or is nil when unused.
	Meta []PerSampleMeta

	// IsDynamic marks tensors whose shape may change during execution,
	// e.g. a YOLO detection output that emits a variable box count.
	IsDynamic bool
}

// NewCombinedTensor allocates a CombinedTensor with Data and Delta of the
// given shape.
func NewCombinedTensor(samples, maps, height, width int) (*CombinedTensor, error) {
	data, err := New(samples, maps, height, width)
	if err != nil {
		return nil, err
	}
	delta, err := New(samples, maps, height, width)
	if err != nil {
		return nil, err
	}
	return &CombinedTensor{Data: data, Delta: delta}, nil
}

// ZeroDelta clears the gradient tensor, the step every optimizer pass takes
// before the next forward pass begins.
func (c *CombinedTensor) ZeroDelta() {
	c.Delta.Clear(0)
}

// EnsureMeta grows Meta to length n if it is shorter, used by layers that
// attach per-sample metadata lazily during forward.
func (c *CombinedTensor) EnsureMeta(n int) {
	if len(c.Meta) >= n {
		return
	}
	grown := make([]PerSampleMeta, n)
	copy(grown, c.Meta)
	c.Meta = grown
}
