package layer

import (
	"testing"

	"github.com/milosgajdos83/cn24/classmanager"
	"github.com/milosgajdos83/cn24/dataset"
	"github.com/milosgajdos83/cn24/imageio"
	"github.com/milosgajdos83/cn24/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantImageLoader(fill tensor.Datum) imageio.Loader {
	return imageio.LoaderFunc(func(path string) (*tensor.Tensor, error) {
		img, err := tensor.New(1, 3, 4, 4)
		if err != nil {
			return nil, err
		}
		img.Clear(fill)
		return img, nil
	})
}

func newConnectedClassificationLayer(t *testing.T, classes *classmanager.Manager) *BundleInputLayer {
	t.Helper()
	b := NewBundleInputLayer(TaskClassification, 2, 4, 4, 3, classes, constantImageLoader(1), 1)
	outputs, err := b.CreateOutputs(nil)
	require.NoError(t, err)
	require.NoError(t, b.Connect(nil, outputs, NetStatus{}))
	return b
}

func TestBundleInputCreateOutputsClassificationShape(t *testing.T) {
	classes := classmanager.New()
	_, err := classes.Register("a", classmanager.Color{}, 1)
	require.NoError(t, err)
	_, err = classes.Register("b", classmanager.Color{}, 1)
	require.NoError(t, err)

	b := newConnectedClassificationLayer(t, classes)
	s, m, h, w := b.label.Data.Shape()
	assert.Equal(t, 2, s)
	assert.Equal(t, 2, m)
	assert.Equal(t, 1, h)
	assert.Equal(t, 1, w)
}

func TestSelectAndLoadSamplesEncodesOneHotLabel(t *testing.T) {
	classes := classmanager.New()
	_, err := classes.Register("a", classmanager.Color{}, 1)
	require.NoError(t, err)
	_, err = classes.Register("b", classmanager.Color{}, 1)
	require.NoError(t, err)

	b := newConnectedClassificationLayer(t, classes)
	class1 := 1
	b.Training = []*dataset.Bundle{{
		Name:   "train",
		Weight: 1,
		Segments: []*dataset.Segment{{
			Name:    "s",
			Score:   1,
			Samples: []dataset.Sample{{ImageFilename: "x.png", Class: &class1}},
		}},
	}}

	done, err := b.SelectAndLoadSamples()
	require.NoError(t, err)
	assert.False(t, done)

	assert.Equal(t, tensor.Datum(0), b.label.Data.At(0, 0, 0, 0))
	assert.Equal(t, tensor.Datum(1), b.label.Data.At(0, 1, 0, 0))
}

func TestSelectAndLoadSamplesErrorsWithNoTrainingBundles(t *testing.T) {
	b := newConnectedClassificationLayer(t, classmanager.New())
	_, err := b.SelectAndLoadSamples()
	assert.Error(t, err)
}

func TestForceLoadClassificationDoesNotRequireClass(t *testing.T) {
	classes := classmanager.New()
	_, err := classes.Register("a", classmanager.Color{}, 1)
	require.NoError(t, err)
	b := newConnectedClassificationLayer(t, classes)

	// No Class set -- a real prediction sample -- must not error.
	err = b.ForceLoadClassification(dataset.Sample{ImageFilename: "x.png"}, 0)
	assert.NoError(t, err)
}

func TestLoadTestingBatchMarksDoneAfterExhaustingSamples(t *testing.T) {
	classes := classmanager.New()
	_, err := classes.Register("a", classmanager.Color{}, 1)
	require.NoError(t, err)
	b := newConnectedClassificationLayer(t, classes)
	b.Status.IsTesting = true

	class0 := 0
	b.Testing = []*dataset.Bundle{{
		Name: "test",
		Segments: []*dataset.Segment{{
			Name:    "s",
			Samples: []dataset.Sample{{ImageFilename: "x.png", Class: &class0}},
		}},
	}}
	b.activeTestBundle = 0

	done, err := b.SelectAndLoadSamples()
	require.NoError(t, err)
	assert.True(t, done) // batch size 2, one sample: exhausted within the first batch
}
