// Package stats implements the StatAggregator (instances are created with
// New; the package holds no global one): metric registration, per-iteration updates, epoch-boundary generation, and sink
// fan-out (console, CSV).
package stats

import (
	"fmt"
	"io"

	"gonum.org/v1/gonum/stat"
)

// Descriptor is a single registered metric: how to initialize its
// accumulator, how to fold in each update, and how to reduce the
// accumulator into a reportable value at generate time.
type Descriptor struct {
	Name        string
	Description string
	Unit        string
	Nullable    bool

	Init   func() float64
	Update func(acc float64, value float64) float64
	Output func(acc float64, iterations int) float64
}

// Sink receives generated values at each generate() call.
type Sink interface {
	Emit(epoch int, values map[string]float64) error
}

// Aggregator is a metric registry and accumulator. Its
// lifecycle is register -> initialize -> (start_recording -> updates ->
// stop_recording -> generate -> reset)*.
type Aggregator struct {
	descriptors map[string]Descriptor
	acc         map[string]float64
	iterations  int
	recording   bool

	epoch            int
	experimentName   string
	testingDataset   string
	secondsElapsedFn func() float64

	sinks []Sink
}

func New() *Aggregator {
	a := &Aggregator{
		descriptors: make(map[string]Descriptor),
		acc:         make(map[string]float64),
	}
	a.registerHardcoded()
	return a
}

// registerHardcoded registers the always-present numeric stats:
// iterations, seconds_elapsed and epoch. experiment_name and
// testing_dataset are string-valued and set via SetExperimentName and
// SetTestingDataset instead.
func (a *Aggregator) registerHardcoded() {
	a.descriptors["iterations"] = Descriptor{
		Name: "iterations", Unit: "count",
		Init:   func() float64 { return 0 },
		Update: func(acc, v float64) float64 { return acc + v },
		Output: func(acc float64, _ int) float64 { return acc },
	}
	a.descriptors["seconds_elapsed"] = Descriptor{
		Name: "seconds_elapsed", Unit: "s",
		Init:   func() float64 { return 0 },
		Update: func(acc, v float64) float64 { return acc + v },
		Output: func(acc float64, _ int) float64 { return acc },
	}
	a.descriptors["epoch"] = Descriptor{
		Name: "epoch", Unit: "count", Nullable: true,
		Init:   func() float64 { return 0 },
		Update: func(acc, v float64) float64 { return v },
		Output: func(acc float64, _ int) float64 { return acc },
	}
}

// RegisterStat adds a user-defined metric descriptor, e.g. loss, accuracy.
func (a *Aggregator) RegisterStat(d Descriptor) {
	a.descriptors[d.Name] = d
}

// AddSink attaches a sink that receives values at Generate.
func (a *Aggregator) AddSink(s Sink) {
	a.sinks = append(a.sinks, s)
}

// Initialize resets every descriptor's accumulator to its Init value.
func (a *Aggregator) Initialize() {
	for name, d := range a.descriptors {
		a.acc[name] = d.Init()
	}
	a.iterations = 0
}

// StartRecording marks the beginning of an accumulation window (normally
// one epoch); currently a no-op marker kept for lifecycle symmetry with the
// spec's state machine.
func (a *Aggregator) StartRecording() { a.recording = true }

// StopRecording ends the accumulation window.
func (a *Aggregator) StopRecording() { a.recording = false }

// Update folds value into the named stat's accumulator. It is a no-op (not
// an error) for an unregistered name.
func (a *Aggregator) Update(name string, value float64) {
	d, ok := a.descriptors[name]
	if !ok {
		return
	}
	a.acc[name] = d.Update(a.acc[name], value)
	if name == "iterations" {
		a.iterations = int(a.acc[name])
	}
}

// SetEpoch records the current epoch number, reported via the "epoch" stat
// and passed to sinks at Generate.
func (a *Aggregator) SetEpoch(epoch int) {
	a.epoch = epoch
	a.Update("epoch", float64(epoch))
}

// SetExperimentName and SetTestingDataset record the two string-valued
// hardcoded stats; they bypass the float accumulator and are stored on the
// Aggregator only. Generate does not pass them to sinks.
func (a *Aggregator) SetExperimentName(name string) { a.experimentName = name }
func (a *Aggregator) SetTestingDataset(name string)  { a.testingDataset = name }

// Generate reduces every descriptor's accumulator via its Output function
// and fans the result out to every attached sink.
func (a *Aggregator) Generate() error {
	values := make(map[string]float64, len(a.descriptors))
	for name, d := range a.descriptors {
		values[name] = d.Output(a.acc[name], a.iterations)
	}
	for _, s := range a.sinks {
		if err := s.Emit(a.epoch, values); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears all accumulators back to Init, ready for the next epoch.
func (a *Aggregator) Reset() {
	a.Initialize()
}

// Mean returns the arithmetic mean of values via gonum/stat (0 for an
// empty slice). It is a standalone helper, not itself a Descriptor.Output.
func Mean(sum []float64) float64 {
	if len(sum) == 0 {
		return 0
	}
	return stat.Mean(sum, nil)
}

// ConsoleSink writes a single human-readable line per Emit call.
type ConsoleSink struct {
	W io.Writer
}

func (c ConsoleSink) Emit(epoch int, values map[string]float64) error {
	_, err := fmt.Fprintf(c.W, "epoch %d:", epoch)
	if err != nil {
		return err
	}
	for name, v := range values {
		if _, err := fmt.Fprintf(c.W, " %s=%.6f", name, v); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(c.W)
	return err
}

// CSVSink appends one comma-separated row per Emit call, in the column
// order given at construction.
type CSVSink struct {
	W       io.Writer
	Columns []string

	headerWritten bool
}

func (c *CSVSink) Emit(epoch int, values map[string]float64) error {
	if !c.headerWritten {
		if _, err := fmt.Fprintf(c.W, "epoch"); err != nil {
			return err
		}
		for _, col := range c.Columns {
			if _, err := fmt.Fprintf(c.W, ",%s", col); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(c.W); err != nil {
			return err
		}
		c.headerWritten = true
	}
	if _, err := fmt.Fprintf(c.W, "%d", epoch); err != nil {
		return err
	}
	for _, col := range c.Columns {
		if _, err := fmt.Fprintf(c.W, ",%.6f", values[col]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(c.W)
	return err
}
