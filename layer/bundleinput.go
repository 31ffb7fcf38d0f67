package layer

import (
	"fmt"
	"math/rand"

	"github.com/milosgajdos83/cn24/boundingbox"
	"github.com/milosgajdos83/cn24/classmanager"
	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/dataset"
	"github.com/milosgajdos83/cn24/imageio"
	"github.com/milosgajdos83/cn24/tensor"
)

// Task enumerates the label-encoding schemes BundleInputLayer supports.
type Task int

const (
	TaskClassification Task = iota
	TaskSegmentation
	TaskDetection
	TaskBinarySegmentation
)

// BundleInputLayer is the graph's batch assembler: it holds the training
// and testing Bundle lists, samples (or, in testing mode, deterministically
// iterates) batches of images, and produces (data, label)
// CombinedTensors plus per-sample detection metadata.
type BundleInputLayer struct {
	Base

	Task         Task
	BatchSize    int
	Height, Width, Channels int
	Classes      *classmanager.Manager
	Loader       imageio.Loader
	Seed         int64

	FlipAugment  bool
	NoiseStdDev  float64

	Training []*dataset.Bundle
	Testing  []*dataset.Bundle

	rng              *rand.Rand
	activeTestBundle int
	testCursor       int // (segment, sample) flattened cursor into the active testing bundle

	data, label, weight *tensor.CombinedTensor
}

func NewBundleInputLayer(task Task, batchSize, height, width, channels int, classes *classmanager.Manager, loader imageio.Loader, seed int64) *BundleInputLayer {
	return &BundleInputLayer{
		Task: task, BatchSize: batchSize, Height: height, Width: width, Channels: channels,
		Classes: classes, Loader: loader, Seed: seed,
		rng: rand.New(rand.NewSource(seed)),
	}
}

func (b *BundleInputLayer) Capabilities() Capabilities {
	return Capabilities{DynamicAware: b.Task == TaskDetection}
}

// CreateOutputs ignores the (empty) inputs list: as a graph source, its
// output shape is derived entirely from its own configuration.
func (b *BundleInputLayer) CreateOutputs(inputs []*tensor.CombinedTensor) ([]*tensor.CombinedTensor, error) {
	data, err := tensor.NewCombinedTensor(b.BatchSize, b.Channels, b.Height, b.Width)
	if err != nil {
		return nil, err
	}
	labelMaps := 1
	switch b.Task {
	case TaskClassification:
		labelMaps = b.classCount()
		label, err := tensor.NewCombinedTensor(b.BatchSize, labelMaps, 1, 1)
		if err != nil {
			return nil, err
		}
		return []*tensor.CombinedTensor{data, label}, nil
	case TaskSegmentation:
		labelMaps = b.classCount()
	case TaskBinarySegmentation:
		labelMaps = 1
	case TaskDetection:
		label, err := tensor.NewCombinedTensor(b.BatchSize, 1, 1, 1)
		if err != nil {
			return nil, err
		}
		label.IsDynamic = true
		return []*tensor.CombinedTensor{data, label}, nil
	}
	label, err := tensor.NewCombinedTensor(b.BatchSize, labelMaps, b.Height, b.Width)
	if err != nil {
		return nil, err
	}
	return []*tensor.CombinedTensor{data, label}, nil
}

func (b *BundleInputLayer) classCount() int {
	if b.Classes == nil {
		return 1
	}
	return b.Classes.Count()
}

func (b *BundleInputLayer) Connect(inputs, outputs []*tensor.CombinedTensor, status NetStatus) error {
	if len(outputs) != 2 {
		return fmt.Errorf("bundle_input: expected 2 outputs (data, label): %w", cnerr.ErrWiring)
	}
	b.Base.Inputs, b.Base.Outputs, b.Base.Status = inputs, outputs, status
	b.data, b.label = outputs[0], outputs[1]
	return nil
}

func (b *BundleInputLayer) Parameters() []*tensor.CombinedTensor { return nil }

// pickBundle chooses a bundle with probability proportional to its weight.
func (b *BundleInputLayer) pickBundle() *dataset.Bundle {
	var total float64
	for _, bundle := range b.Training {
		total += bundle.Weight
	}
	if total <= 0 {
		return nil
	}
	r := b.rng.Float64() * total
	for _, bundle := range b.Training {
		if r < bundle.Weight {
			return bundle
		}
		r -= bundle.Weight
	}
	return b.Training[len(b.Training)-1]
}

func (b *BundleInputLayer) pickSample(bundle *dataset.Bundle) (dataset.Sample, bool) {
	if len(bundle.Segments) == 0 {
		return dataset.Sample{}, false
	}
	seg := bundle.Segments[b.rng.Intn(len(bundle.Segments))]
	if len(seg.Samples) == 0 {
		return dataset.Sample{}, false
	}
	return seg.Samples[b.rng.Intn(len(seg.Samples))], true
}

// SelectAndLoadSamples fills the (data, label) CombinedTensors for one
// batch. In training mode each slot samples a bundle/segment/sample by
// weight; in testing mode it deterministically traverses the active
// testing bundle and reports done=true once every sample has been served
// exactly once.
func (b *BundleInputLayer) SelectAndLoadSamples() (done bool, err error) {
	if b.Status.IsTesting {
		return b.loadTestingBatch()
	}
	for i := 0; i < b.BatchSize; i++ {
		bundle := b.pickBundle()
		if bundle == nil {
			return false, fmt.Errorf("bundle_input: no training bundles configured: %w", cnerr.ErrConfig)
		}
		sample, ok := b.pickSample(bundle)
		if !ok {
			return false, fmt.Errorf("bundle_input: bundle %q has no samples: %w", bundle.Name, cnerr.ErrConfig)
		}
		if err := b.loadInto(i, sample, true); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (b *BundleInputLayer) testingSamples() []dataset.Sample {
	if b.activeTestBundle < 0 || b.activeTestBundle >= len(b.Testing) {
		return nil
	}
	bundle := b.Testing[b.activeTestBundle]
	var all []dataset.Sample
	for _, seg := range bundle.Segments {
		all = append(all, seg.Samples...)
	}
	return all
}

func (b *BundleInputLayer) loadTestingBatch() (bool, error) {
	samples := b.testingSamples()
	if len(samples) == 0 {
		return true, nil
	}
	done := false
	for i := 0; i < b.BatchSize; i++ {
		if b.testCursor >= len(samples) {
			done = true
			break
		}
		if err := b.loadInto(i, samples[b.testCursor], false); err != nil {
			return false, err
		}
		b.testCursor++
	}
	if done {
		b.testCursor = 0
	}
	return done, nil
}

// ForceLoadClassification, ForceLoadBinarySegmentation and
// ForceLoadDetection let an external caller (e.g. the prediction path)
// override sampling and inject one specific sample's image at one batch
// slot. Unlike the training/testing path these never encode a label: a
// prediction request has no ground truth to encode, only an image to run
// forward.
func (b *BundleInputLayer) ForceLoadClassification(sample dataset.Sample, batchIndex int) error {
	return b.loadImageOnly(batchIndex, sample)
}

func (b *BundleInputLayer) ForceLoadBinarySegmentation(sample dataset.Sample, batchIndex int) error {
	return b.loadImageOnly(batchIndex, sample)
}

func (b *BundleInputLayer) ForceLoadDetection(sample dataset.Sample, batchIndex int) error {
	return b.loadImageOnly(batchIndex, sample)
}

func (b *BundleInputLayer) loadImageOnly(batchIndex int, sample dataset.Sample) error {
	if b.Loader == nil {
		return fmt.Errorf("bundle_input: no image loader configured: %w", cnerr.ErrConfig)
	}
	img, err := b.Loader.LoadImage(sample.ImageFilename)
	if err != nil {
		return fmt.Errorf("bundle_input: loading %s: %w", sample.ImageFilename, err)
	}
	return b.copySampleInto(b.data.Data, batchIndex, img, false)
}

func (b *BundleInputLayer) loadInto(batchIndex int, sample dataset.Sample, augment bool) error {
	if b.Loader == nil {
		return fmt.Errorf("bundle_input: no image loader configured: %w", cnerr.ErrConfig)
	}
	img, err := b.Loader.LoadImage(sample.ImageFilename)
	if err != nil {
		return fmt.Errorf("bundle_input: loading %s: %w", sample.ImageFilename, err)
	}
	flip := augment && b.FlipAugment && !b.Status.IsTesting && b.rng.Intn(2) == 0
	if err := b.copySampleInto(b.data.Data, batchIndex, img, flip); err != nil {
		return err
	}
	if augment && b.NoiseStdDev > 0 && !b.Status.IsTesting {
		b.addNoise(batchIndex)
	}
	return b.encodeLabel(batchIndex, sample, flip)
}

func (b *BundleInputLayer) copySampleInto(dst *tensor.Tensor, batchIndex int, src *tensor.Tensor, flip bool) error {
	if err := tensor.CopySample(dst, batchIndex, src, 0, true); err != nil {
		return err
	}
	if flip {
		b.flipSample(dst, batchIndex)
	}
	return nil
}

func (b *BundleInputLayer) flipSample(t *tensor.Tensor, sample int) {
	_, m, h, w := t.Shape()
	for mm := 0; mm < m; mm++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w/2; x++ {
				a := t.At(sample, mm, y, x)
				o := t.At(sample, mm, y, w-1-x)
				t.Set(sample, mm, y, x, o)
				t.Set(sample, mm, y, w-1-x, a)
			}
		}
	}
}

func (b *BundleInputLayer) addNoise(sample int) {
	_, m, h, w := b.data.Data.Shape()
	for mm := 0; mm < m; mm++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := b.data.Data.At(sample, mm, y, x)
				noise := tensor.Datum(b.rng.NormFloat64() * b.NoiseStdDev)
				b.data.Data.Set(sample, mm, y, x, v+noise)
			}
		}
	}
}

func (b *BundleInputLayer) encodeLabel(batchIndex int, sample dataset.Sample, flip bool) error {
	switch b.Task {
	case TaskClassification:
		if sample.Class == nil {
			return fmt.Errorf("bundle_input: sample %s has no class: %w", sample.ImageFilename, cnerr.ErrConfig)
		}
		_, m, _, _ := b.label.Data.Shape()
		for c := 0; c < m; c++ {
			v := tensor.Datum(0)
			if c == *sample.Class {
				v = 1
			}
			b.label.Data.Set(batchIndex, c, 0, 0, v)
		}
		return nil
	case TaskBinarySegmentation:
		if sample.LabelFilename == "" {
			return fmt.Errorf("bundle_input: sample %s has no label_filename: %w", sample.ImageFilename, cnerr.ErrConfig)
		}
		img, err := b.Loader.LoadImage(sample.LabelFilename)
		if err != nil {
			return err
		}
		_, _, h, w := b.label.Data.Shape()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				fg := img.At(0, 0, y, x) > 0
				v := tensor.Datum(-1)
				if fg {
					v = 1
				}
				b.label.Data.Set(batchIndex, 0, y, x, v)
			}
		}
		if flip {
			b.flipSample(b.label.Data, batchIndex)
		}
		return nil
	case TaskSegmentation:
		if sample.LabelFilename == "" {
			return fmt.Errorf("bundle_input: sample %s has no label_filename: %w", sample.ImageFilename, cnerr.ErrConfig)
		}
		img, err := b.Loader.LoadImage(sample.LabelFilename)
		if err != nil {
			return err
		}
		_, m, h, w := b.label.Data.Shape()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r := img.At(0, 0, y, x)
				g := img.At(0, minInt(1, imgMaps(img)-1), y, x)
				bl := img.At(0, minInt(2, imgMaps(img)-1), y, x)
				cls := classmanager.UnknownClass
				if b.Classes != nil {
					cls = b.Classes.ClassOf(classmanager.Color{R: toByte(r), G: toByte(g), B: toByte(bl)})
				}
				for c := 0; c < m; c++ {
					v := tensor.Datum(0)
					if c == cls {
						v = 1
					}
					b.label.Data.Set(batchIndex, c, y, x, v)
				}
			}
		}
		if flip {
			b.flipSample(b.label.Data, batchIndex)
		}
		return nil
	case TaskDetection:
		boxes := make([]boundingbox.BoundingBox, 0, len(sample.Boxes))
		for _, bx := range sample.Boxes {
			x := bx.X
			if flip {
				x = 1 - x
			}
			boxes = append(boxes, boundingbox.BoundingBox{X: x, Y: bx.Y, W: bx.W, H: bx.H, Class: bx.Class, Score: 1})
		}
		b.label.EnsureMeta(batchIndex + 1)
		b.label.Meta[batchIndex] = tensor.PerSampleMeta{Boxes: boxes}
		return nil
	}
	return nil
}

func imgMaps(t *tensor.Tensor) int {
	_, m, _, _ := t.Shape()
	return m
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func toByte(d tensor.Datum) uint8 {
	v := float64(d)
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint8(v)
}

func (b *BundleInputLayer) Forward() error {
	_, err := b.SelectAndLoadSamples()
	return err
}

func (b *BundleInputLayer) Backward(backpropInput []bool) error { return nil }
