package stats

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorHardcodedStatsInitialized(t *testing.T) {
	a := New()
	a.Initialize()

	var captured map[string]float64
	a.AddSink(sinkFunc(func(_ int, values map[string]float64) error {
		captured = values
		return nil
	}))

	require.NoError(t, a.Generate())
	assert.Contains(t, captured, "iterations")
	assert.Contains(t, captured, "seconds_elapsed")
	assert.Contains(t, captured, "epoch")
	assert.Equal(t, 0.0, captured["iterations"])
}

func TestAggregatorUpdateAccumulatesRegisteredStat(t *testing.T) {
	a := New()
	a.RegisterStat(Descriptor{
		Name:   "loss",
		Init:   func() float64 { return 0 },
		Update: func(acc, v float64) float64 { return acc + v },
		Output: func(acc float64, iterations int) float64 {
			if iterations == 0 {
				return 0
			}
			return acc / float64(iterations)
		},
	})
	a.Initialize()
	a.Update("loss", 1.0)
	a.Update("loss", 3.0)
	a.Update("iterations", 2)

	var captured map[string]float64
	a.AddSink(sinkFunc(func(_ int, values map[string]float64) error {
		captured = values
		return nil
	}))
	require.NoError(t, a.Generate())
	assert.InDelta(t, 2.0, captured["loss"], 1e-9)
}

func TestAggregatorUpdateIgnoresUnregisteredStat(t *testing.T) {
	a := New()
	a.Initialize()
	a.Update("nonexistent", 42) // must not panic
}

func TestAggregatorSetEpochReportsThroughGenerate(t *testing.T) {
	a := New()
	a.Initialize()
	a.SetEpoch(7)

	var gotEpoch int
	a.AddSink(sinkFunc(func(epoch int, _ map[string]float64) error {
		gotEpoch = epoch
		return nil
	}))
	require.NoError(t, a.Generate())
	assert.Equal(t, 7, gotEpoch)
}

func TestConsoleSinkWritesLine(t *testing.T) {
	var buf bytes.Buffer
	sink := ConsoleSink{W: &buf}
	require.NoError(t, sink.Emit(1, map[string]float64{"loss": 0.5}))
	assert.True(t, strings.Contains(buf.String(), "epoch 1:"))
	assert.True(t, strings.Contains(buf.String(), "loss=0.500000"))
}

func TestCSVSinkWritesHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	sink := &CSVSink{W: &buf, Columns: []string{"loss"}}
	require.NoError(t, sink.Emit(0, map[string]float64{"loss": 1.0}))
	require.NoError(t, sink.Emit(1, map[string]float64{"loss": 2.0}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "epoch,loss", lines[0])
	assert.Equal(t, "0,1.000000", lines[1])
	assert.Equal(t, "1,2.000000", lines[2])
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-9)
}

type sinkFunc func(epoch int, values map[string]float64) error

func (f sinkFunc) Emit(epoch int, values map[string]float64) error { return f(epoch, values) }
