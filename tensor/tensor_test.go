package tensor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNegativeDimensions(t *testing.T) {
	_, err := New(-1, 1, 1, 1)
	assert.Error(t, err)
}

func TestAtSetRoundTrip(t *testing.T) {
	tn, err := New(1, 2, 3, 4)
	require.NoError(t, err)
	tn.Set(0, 1, 2, 3, 9.5)
	assert.Equal(t, Datum(9.5), tn.At(0, 1, 2, 3))
	assert.Equal(t, 24, tn.Elements())
}

func TestSameShape(t *testing.T) {
	a, err := New(1, 2, 3, 4)
	require.NoError(t, err)
	b, err := New(1, 2, 3, 4)
	require.NoError(t, err)
	c, err := New(1, 2, 3, 5)
	require.NoError(t, err)
	assert.True(t, a.SameShape(b))
	assert.False(t, a.SameShape(c))
}

func TestResizeToMatchResizesWhenShapeDiffers(t *testing.T) {
	a, err := New(1, 1, 2, 2)
	require.NoError(t, err)
	b, err := New(1, 1, 4, 4)
	require.NoError(t, err)

	require.NoError(t, a.ResizeToMatch(b))
	assert.True(t, a.SameShape(b))
}

func TestShadowRequiresMatchingElementCount(t *testing.T) {
	src, err := New(1, 2, 4, 4)
	require.NoError(t, err)
	var shadow Tensor
	require.NoError(t, shadow.Shadow(src, 1, 4, 4, 2))
	assert.True(t, shadow.IsShadow())

	var bad Tensor
	err = bad.Shadow(src, 1, 1, 1, 1)
	assert.Error(t, err)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	tn, err := New(1, 2, 3, 4)
	require.NoError(t, err)
	for i := range tn.Data() {
		tn.Data()[i] = Datum(i)
	}

	var buf bytes.Buffer
	require.NoError(t, tn.Serialize(&buf))

	got, err := Deserialize(&buf)
	require.NoError(t, err)
	assert.True(t, Equal(tn, got))
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	_, err := Deserialize(buf)
	assert.Error(t, err)
}

func TestCopySampleSameShape(t *testing.T) {
	src, err := New(2, 1, 2, 2)
	require.NoError(t, err)
	for i := range src.Data() {
		src.Data()[i] = Datum(i + 1)
	}
	dst, err := New(1, 1, 2, 2)
	require.NoError(t, err)

	require.NoError(t, CopySample(dst, 0, src, 1, false))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			assert.Equal(t, src.At(1, 0, y, x), dst.At(0, 0, y, x))
		}
	}
}

func TestCopySampleMismatchedMapsErrors(t *testing.T) {
	src, err := New(1, 2, 2, 2)
	require.NoError(t, err)
	dst, err := New(1, 1, 2, 2)
	require.NoError(t, err)
	err = CopySample(dst, 0, src, 0, false)
	assert.Error(t, err)
}

func TestCopySampleRequiresRescaleOnSpatialMismatch(t *testing.T) {
	src, err := New(1, 1, 2, 2)
	require.NoError(t, err)
	dst, err := New(1, 1, 4, 4)
	require.NoError(t, err)
	err = CopySample(dst, 0, src, 0, false)
	assert.Error(t, err)
	assert.NoError(t, CopySample(dst, 0, src, 0, true))
}

func TestPixelMaximum(t *testing.T) {
	tn, err := New(1, 3, 1, 1)
	require.NoError(t, err)
	tn.Set(0, 0, 0, 0, 0.1)
	tn.Set(0, 1, 0, 0, 0.9)
	tn.Set(0, 2, 0, 0, 0.5)
	assert.Equal(t, 1, tn.PixelMaximum(0, 0, 0))
}

func TestBase64RoundTrip(t *testing.T) {
	a, err := New(2, 2, 1, 1)
	require.NoError(t, err)
	for i := range a.Data() {
		a.Data()[i] = Datum(i) + 0.5
	}

	encoded, err := a.ToBase64()
	require.NoError(t, err)

	b, err := New(2, 2, 1, 1)
	require.NoError(t, err)
	ok, err := b.FromBase64(encoded)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, Equal(a, b))
}

func TestBase64RoundTripSampleWise(t *testing.T) {
	a, err := New(2, 2, 1, 1)
	require.NoError(t, err)
	for i := range a.Data() {
		a.Data()[i] = Datum(i) + 0.5
	}

	s0, err := a.ToBase64Sample(0)
	require.NoError(t, err)
	s1, err := a.ToBase64Sample(1)
	require.NoError(t, err)

	b, err := New(2, 2, 1, 1)
	require.NoError(t, err)
	b.Clear(0)
	ok0, err := b.FromBase64Sample(s0, 0)
	require.NoError(t, err)
	ok1, err := b.FromBase64Sample(s1, 1)
	require.NoError(t, err)
	assert.True(t, ok0)
	assert.True(t, ok1)
	assert.True(t, Equal(a, b))
}

func TestFromBase64RejectsInvalidEncoding(t *testing.T) {
	var tn Tensor
	ok, err := tn.FromBase64("not valid base64!!")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestClear(t *testing.T) {
	tn, err := New(1, 1, 2, 2)
	require.NoError(t, err)
	tn.Clear(3.0)
	for _, v := range tn.Data() {
		assert.Equal(t, Datum(3.0), v)
	}
}
