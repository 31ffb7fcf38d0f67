// Package tensor implements the dense N-D numeric buffer at the base of
// the computation graph: a 4-D array of samples x maps x height x width,
// with owning or shadowed (shared-buffer, independent-view) storage, and
// its little-endian binary serialization format.
package tensor

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/milosgajdos83/cn24/cnerr"
)

// Datum is the scalar type every Tensor element is made of.
type Datum = float32

// Magic is the marker that opens every serialized Tensor block.
const Magic uint64 = 0x434e32345430 // "CN24T0"

// Residency describes where a Tensor's authoritative data currently lives.
// Transfers happen only inside MoveToGPU and MoveToCPU when a caller
// invokes them; At, Set and Data do not check residency or transfer.
type Residency int

const (
	CPUOnly Residency = iota
	GPUOnly
	BothCoherent
	CPUNewer
	GPUNewer
)

// Tensor is a dense 4-D array with row-major memory of length S*M*H*W and
// index order (sample, map, row, column): offset = ((s*M+m)*H+y)*W+x.
//
// A Tensor either owns its storage, or shadows another Tensor: it shares
// the same backing slice but may present an independent shape view. A
// shadow must not outlive the Tensor it shadows.
type Tensor struct {
	samples, maps, height, width int
	data                         []Datum

	shadowOf *Tensor
	residency Residency
	gpuBuf    []Datum // companion GPU buffer stand-in; nil until first use
}

// New allocates an owning Tensor of the given shape, zero-initialized.
// Shape components must be non-negative.
func New(samples, maps, height, width int) (*Tensor, error) {
	if samples < 0 || maps < 0 || height < 0 || width < 0 {
		return nil, fmt.Errorf("negative tensor dimension: %d,%d,%d,%d: %w",
			samples, maps, height, width, cnerr.ErrShape)
	}
	t := &Tensor{samples: samples, maps: maps, height: height, width: width}
	t.data = make([]Datum, t.Elements())
	return t, nil
}

// Elements returns S*M*H*W.
func (t *Tensor) Elements() int {
	return t.samples * t.maps * t.height * t.width
}

// Shape returns samples, maps, height, width.
func (t *Tensor) Shape() (int, int, int, int) {
	return t.samples, t.maps, t.height, t.width
}

// SameShape reports whether two tensors have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.samples == o.samples && t.maps == o.maps && t.height == o.height && t.width == o.width
}

// Data returns the raw backing slice. Callers must respect the
// (sample,map,row,column) offset convention.
func (t *Tensor) Data() []Datum {
	return t.data
}

// Resize reallocates the tensor to the given shape, discarding content.
// Resizing a shadow tensor is an error: shadows may not outlive or
// restructure their source independently.
func (t *Tensor) Resize(samples, maps, height, width int) error {
	if t.shadowOf != nil {
		return fmt.Errorf("cannot resize a shadow tensor: %w", cnerr.ErrShape)
	}
	if samples < 0 || maps < 0 || height < 0 || width < 0 {
		return fmt.Errorf("negative tensor dimension: %w", cnerr.ErrShape)
	}
	t.samples, t.maps, t.height, t.width = samples, maps, height, width
	want := t.Elements()
	if cap(t.data) < want {
		t.data = make([]Datum, want)
	} else {
		t.data = t.data[:want]
		for i := range t.data {
			t.data[i] = 0
		}
	}
	return nil
}

// ResizeToMatch resizes t to the shape of o if they differ.
func (t *Tensor) ResizeToMatch(o *Tensor) error {
	if t.SameShape(o) {
		return nil
	}
	return t.Resize(o.samples, o.maps, o.height, o.width)
}

// Clear sets every element to the given constant.
func (t *Tensor) Clear(value Datum) {
	for i := range t.data {
		t.data[i] = value
	}
}

func (t *Tensor) offset(s, m, y, x int) int {
	return ((s*t.maps+m)*t.height+y)*t.width + x
}

// At returns the value at (sample, map, row, column).
func (t *Tensor) At(s, m, y, x int) Datum {
	return t.data[t.offset(s, m, y, x)]
}

// Set writes the value at (sample, map, row, column).
func (t *Tensor) Set(s, m, y, x int, v Datum) {
	t.data[t.offset(s, m, y, x)] = v
}

// Shadow makes t share o's backing buffer while presenting shape
// (samples,maps,height,width). Shadowing mandates byte-count equality
// between the requested view and the source tensor.
func (t *Tensor) Shadow(o *Tensor, samples, maps, height, width int) error {
	want := samples * maps * height * width
	if want != o.Elements() {
		return fmt.Errorf("shadow byte-count mismatch: want %d elements, source has %d: %w",
			want, o.Elements(), cnerr.ErrShape)
	}
	t.samples, t.maps, t.height, t.width = samples, maps, height, width
	t.data = o.data
	t.shadowOf = o
	return nil
}

// IsShadow reports whether t shares storage with another tensor.
func (t *Tensor) IsShadow() bool {
	return t.shadowOf != nil
}

// CopySample copies one sample plane from src to dst at the given sample
// indices. It requires equal map count and spatial dimensions unless
// rescale is true, in which case CopySample bilinearly resamples src's
// spatial extent into dst's.
func CopySample(dst *Tensor, dstSample int, src *Tensor, srcSample int, rescale bool) error {
	if dst.maps != src.maps {
		return fmt.Errorf("copy_sample: map count mismatch %d != %d: %w", dst.maps, src.maps, cnerr.ErrShape)
	}
	if dstSample < 0 || dstSample >= dst.samples || srcSample < 0 || srcSample >= src.samples {
		return fmt.Errorf("copy_sample: sample index out of range: %w", cnerr.ErrShape)
	}
	if dst.height == src.height && dst.width == src.width {
		for m := 0; m < dst.maps; m++ {
			for y := 0; y < dst.height; y++ {
				for x := 0; x < dst.width; x++ {
					dst.Set(dstSample, m, y, x, src.At(srcSample, m, y, x))
				}
			}
		}
		return nil
	}
	if !rescale {
		return fmt.Errorf("copy_sample: spatial dimension mismatch without rescale: %w", cnerr.ErrShape)
	}
	for m := 0; m < dst.maps; m++ {
		for y := 0; y < dst.height; y++ {
			sy := float64(y) * float64(src.height-1) / float64(maxInt(dst.height-1, 1))
			for x := 0; x < dst.width; x++ {
				sx := float64(x) * float64(src.width-1) / float64(maxInt(dst.width-1, 1))
				dst.Set(dstSample, m, y, x, src.GetSmoothData(sx, sy, srcSample, m))
			}
		}
	}
	return nil
}

// CopyMap copies a single (sample,map) plane between tensors of possibly
// different identity, requiring identical spatial dimensions.
func CopyMap(dst *Tensor, dstSample, dstMap int, src *Tensor, srcSample, srcMap int) error {
	if dst.height != src.height || dst.width != src.width {
		return fmt.Errorf("copy_map: spatial dimension mismatch: %w", cnerr.ErrShape)
	}
	for y := 0; y < dst.height; y++ {
		for x := 0; x < dst.width; x++ {
			dst.Set(dstSample, dstMap, y, x, src.At(srcSample, srcMap, y, x))
		}
	}
	return nil
}

// PixelMaximum returns the map index maximizing the value at (x,y) within
// the given sample: an argmax over the channel dimension at a pixel.
func (t *Tensor) PixelMaximum(x, y, sample int) int {
	best := 0
	bestVal := t.At(sample, 0, y, x)
	for m := 1; m < t.maps; m++ {
		v := t.At(sample, m, y, x)
		if v > bestVal {
			bestVal = v
			best = m
		}
	}
	return best
}

// GetSmoothData bilinearly interpolates the value at floating-point
// coordinates (x,y) within the given sample/map, clamping to the grid
// border. The result always lies between the min and max of the four
// enclosing grid samples.
func (t *Tensor) GetSmoothData(x, y float64, sample, mapIdx int) Datum {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1 := x0 + 1
	y1 := y0 + 1
	fx := x - float64(x0)
	fy := y - float64(y0)

	clampX := func(v int) int { return clampInt(v, 0, t.width-1) }
	clampY := func(v int) int { return clampInt(v, 0, t.height-1) }

	v00 := float64(t.At(sample, mapIdx, clampY(y0), clampX(x0)))
	v10 := float64(t.At(sample, mapIdx, clampY(y0), clampX(x1)))
	v01 := float64(t.At(sample, mapIdx, clampY(y1), clampX(x0)))
	v11 := float64(t.At(sample, mapIdx, clampY(y1), clampX(x1)))

	top := v00*(1-fx) + v10*fx
	bottom := v01*(1-fx) + v11*fx
	return Datum(top*(1-fy) + bottom*fy)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Serialize writes the Tensor-serialization block: magic, shape header,
// then raw scalar bytes in platform-independent little-endian.
func (t *Tensor) Serialize(w io.Writer) error {
	hdr := []uint32{uint32(t.samples), uint32(t.width), uint32(t.height), uint32(t.maps)}
	if err := binary.Write(w, binary.LittleEndian, Magic); err != nil {
		return fmt.Errorf("serialize tensor magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("serialize tensor header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, t.data); err != nil {
		return fmt.Errorf("serialize tensor data: %w", err)
	}
	return nil
}

// Deserialize reads a Tensor-serialization block written by Serialize.
func Deserialize(r io.Reader) (*Tensor, error) {
	var magic uint64
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("deserialize tensor magic: %w", cnerr.ErrIO)
	}
	if magic != Magic {
		return nil, fmt.Errorf("bad tensor magic %x: %w", magic, cnerr.ErrIO)
	}
	var hdr [4]uint32
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("deserialize tensor header: %w", cnerr.ErrIO)
	}
	samples, width, height, maps := int(hdr[0]), int(hdr[1]), int(hdr[2]), int(hdr[3])
	t, err := New(samples, maps, height, width)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, t.data); err != nil {
		return nil, fmt.Errorf("deserialize tensor data: %w", cnerr.ErrIO)
	}
	return t, nil
}

// ToBase64 encodes the whole tensor's Serialize block as a base64 string,
// for embedding parameter/sample data in text formats (JSON fixtures, logs).
func (t *Tensor) ToBase64() (string, error) {
	var buf bytes.Buffer
	if err := t.Serialize(&buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// FromBase64 decodes s and replaces t's contents with the encoded tensor,
// resizing t if necessary. It reports false (with a non-nil error) if s is
// not valid base64 or does not decode to a well-formed Tensor block.
func (t *Tensor) FromBase64(s string) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false, fmt.Errorf("tensor: decoding base64: %w", cnerr.ErrIO)
	}
	decoded, err := Deserialize(bytes.NewReader(raw))
	if err != nil {
		return false, err
	}
	if err := t.ResizeToMatch(decoded); err != nil {
		return false, err
	}
	copy(t.data, decoded.data)
	return true, nil
}

// ToBase64Sample encodes a single sample plane as a standalone base64
// Tensor block, the sample-wise counterpart to ToBase64.
func (t *Tensor) ToBase64Sample(sample int) (string, error) {
	if sample < 0 || sample >= t.samples {
		return "", fmt.Errorf("tensor: sample index %d out of range: %w", sample, cnerr.ErrShape)
	}
	single, err := New(1, t.maps, t.height, t.width)
	if err != nil {
		return "", err
	}
	if err := CopySample(single, 0, t, sample, false); err != nil {
		return "", err
	}
	return single.ToBase64()
}

// FromBase64Sample decodes s as a single-sample Tensor block and copies it
// into t's sample index, the sample-wise counterpart to FromBase64. t's
// own shape is left untouched; only the named sample plane is overwritten.
func (t *Tensor) FromBase64Sample(s string, sample int) (bool, error) {
	if sample < 0 || sample >= t.samples {
		return false, fmt.Errorf("tensor: sample index %d out of range: %w", sample, cnerr.ErrShape)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false, fmt.Errorf("tensor: decoding base64: %w", cnerr.ErrIO)
	}
	decoded, err := Deserialize(bytes.NewReader(raw))
	if err != nil {
		return false, err
	}
	if err := CopySample(t, sample, decoded, 0, false); err != nil {
		return false, err
	}
	return true, nil
}

// Equal reports whether two tensors have the same shape and bit-identical
// contents, used by the serialization round-trip property.
func Equal(a, b *Tensor) bool {
	if !a.SameShape(b) {
		return false
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}

// SetResidency records where the authoritative copy of the data lives.
func (t *Tensor) SetResidency(r Residency) {
	t.residency = r
}

// GetResidency returns the tensor's current residency state.
func (t *Tensor) GetResidency() Residency {
	return t.residency
}

// MoveToGPU is requested by GPU-aware layers before reading or writing an
// operand. forWrite marks the transfer so CPU state is considered stale
// afterward.
func (t *Tensor) MoveToGPU(forWrite bool) {
	if t.gpuBuf == nil || t.residency == CPUNewer {
		t.gpuBuf = append(t.gpuBuf[:0], t.data...)
	}
	if forWrite {
		t.residency = GPUNewer
	} else if t.residency != GPUNewer {
		t.residency = BothCoherent
	}
}

// MoveToCPU is requested by non-GPU-aware layers before reading or writing
// an operand. It performs the lazy transfer back from the GPU buffer if the
// GPU side is the newer copy.
func (t *Tensor) MoveToCPU(forWrite bool) {
	if t.residency == GPUNewer && t.gpuBuf != nil {
		copy(t.data, t.gpuBuf)
	}
	if forWrite {
		t.residency = CPUNewer
	} else if t.residency != CPUNewer {
		t.residency = BothCoherent
	}
}
