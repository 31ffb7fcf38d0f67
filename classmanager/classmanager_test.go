package classmanager

import (
	"bytes"
	"errors"
	"testing"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAssignsDenseIDs(t *testing.T) {
	m := New()
	id0, err := m.Register("background", Color{0, 0, 0}, 1.0)
	require.NoError(t, err)
	id1, err := m.Register("foreground", Color{255, 255, 255}, 2.0)
	require.NoError(t, err)

	assert.Equal(t, 0, id0)
	assert.Equal(t, 1, id1)
	assert.Equal(t, 2, m.Count())
}

func TestRegisterDuplicateNameErrors(t *testing.T) {
	m := New()
	_, err := m.Register("cat", Color{1, 2, 3}, 1.0)
	require.NoError(t, err)

	_, err = m.Register("cat", Color{4, 5, 6}, 1.0)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, cnerr.ErrConfig))
}

func TestByNameAndByID(t *testing.T) {
	m := New()
	id, err := m.Register("dog", Color{10, 20, 30}, 0.5)
	require.NoError(t, err)

	byName, ok := m.ByName("dog")
	require.True(t, ok)
	assert.Equal(t, id, byName.ID)

	byID, ok := m.ByID(id)
	require.True(t, ok)
	assert.Equal(t, "dog", byID.Name)

	_, ok = m.ByID(99)
	assert.False(t, ok)
	_, ok = m.ByName("nope")
	assert.False(t, ok)
}

func TestClassOfNearestColor(t *testing.T) {
	m := New()
	_, err := m.Register("black", Color{0, 0, 0}, 1.0)
	require.NoError(t, err)
	whiteID, err := m.Register("white", Color{255, 255, 255}, 1.0)
	require.NoError(t, err)

	assert.Equal(t, whiteID, m.ClassOf(Color{240, 240, 240}))
	assert.Equal(t, UnknownClass, New().ClassOf(Color{1, 1, 1}))
}

func TestWeightDefaultsToOneForUnknown(t *testing.T) {
	m := New()
	_, err := m.Register("x", Color{}, 3.0)
	require.NoError(t, err)

	assert.Equal(t, 3.0, m.Weight(0))
	assert.Equal(t, 1.0, m.Weight(42))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := New()
	_, err := m.Register("a", Color{1, 2, 3}, 0.25)
	require.NoError(t, err)
	_, err = m.Register("b", Color{4, 5, 6}, 0.75)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Count(), loaded.Count())

	a, ok := loaded.ByName("a")
	require.True(t, ok)
	assert.Equal(t, 0.25, a.Weight)
	assert.Equal(t, Color{1, 2, 3}, a.Color)
}

func TestLoadDuplicateClassErrors(t *testing.T) {
	r := bytes.NewBufferString(`{"classes":[{"id":0,"name":"a"},{"id":1,"name":"a"}]}`)
	_, err := Load(r)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, cnerr.ErrConfig))
}
