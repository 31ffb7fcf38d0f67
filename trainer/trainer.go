// Package trainer implements the outer epoch/testing loop: for each epoch,
// run a fixed number of training iterations (select+load a batch, forward,
// backward, optimizer step, stat update), snapshot parameters, then run a
// forward-only testing pass over any configured testing bundle. Grounded on
// main.go's flag-driven train-then-validate shape, generalized from a
// single train/validate call into the epoch/snapshot/testing-bundle loop
// spec.md §4.7 specifies.
package trainer

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/milosgajdos83/cn24/layer"
	"github.com/milosgajdos83/cn24/netgraph"
	"github.com/milosgajdos83/cn24/optimizer"
	"github.com/milosgajdos83/cn24/stats"
)

// Hyperparameters bundles the knobs spec.md's architecture file groups
// under "hyperparameters", beyond what the Optimizer itself owns.
type Hyperparameters struct {
	optimizer.Hyperparameters

	Method                    string // "gd" | "adam"
	Iterations                int    // training_iterations_per_epoch
	BatchSizeParallel         int
	BatchSizeSequential       int
	ConfidenceThreshold       float64
}

// Config drives one Trainer run.
type Config struct {
	ArchName         string
	Epochs           int
	SnapshotEveryEpoch bool
	SnapshotDir      string

	Hyperparameters Hyperparameters

	BundleInput *layer.BundleInputLayer
	LossLayers  []layer.LossLayer

	Stats *stats.Aggregator

	Logger *slog.Logger

	// Now returns the current time; overridable for deterministic tests.
	Now func() time.Time
}

// Trainer runs a NetGraph's epoch loop against a Config.
type Trainer struct {
	cfg  Config
	g    *netgraph.NetGraph
	opt  optimizer.Optimizer
	step int
}

func New(g *netgraph.NetGraph, cfg Config) *Trainer {
	var opt optimizer.Optimizer
	if cfg.Hyperparameters.Method == "adam" {
		opt = optimizer.NewAdam(cfg.Hyperparameters.Hyperparameters)
	} else {
		opt = optimizer.NewSGD(cfg.Hyperparameters.Hyperparameters)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Trainer{cfg: cfg, g: g, opt: opt}
}

// optimizerStep runs one optimizer step over the parameter CombinedTensors
// of every layer in allLayers (the caller supplies the list of layers to
// optimize), then advances the step counter.
func (t *Trainer) optimizerStep(allLayers []layer.Layer, llr float64) error {
	for _, l := range allLayers {
		params := l.Parameters()
		if len(params) == 0 {
			continue
		}
		if err := t.opt.Step(params, llr, t.step); err != nil {
			return err
		}
	}
	t.step++
	return nil
}

// Run executes cfg.Epochs epochs, each with
// Hyperparameters.Iterations training batches, followed by a snapshot
// (every epoch with SnapshotEveryEpoch, otherwise after the last one) and
// (if any testing bundle exists on the BundleInputLayer) a testing pass.
func (t *Trainer) Run(allLayers []layer.Layer) error {
	if t.cfg.Stats != nil {
		t.cfg.Stats.Initialize()
		t.cfg.Stats.SetExperimentName(t.cfg.ArchName)
	}

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		start := t.cfg.Now()
		if t.cfg.Stats != nil {
			t.cfg.Stats.StartRecording()
			t.cfg.Stats.SetEpoch(epoch)
		}

		t.g.SetIsTesting(false)
		for it := 0; it < t.cfg.Hyperparameters.Iterations; it++ {
			if _, err := t.cfg.BundleInput.SelectAndLoadSamples(); err != nil {
				return fmt.Errorf("trainer: epoch %d iteration %d: select_and_load: %w", epoch, it, err)
			}
			if err := t.g.FeedForward(); err != nil {
				return fmt.Errorf("trainer: epoch %d iteration %d: feed_forward: %w", epoch, it, err)
			}
			if err := t.g.BackPropagate(); err != nil {
				return fmt.Errorf("trainer: epoch %d iteration %d: back_propagate: %w", epoch, it, err)
			}
			if err := t.optimizerStep(allLayers, 1.0); err != nil {
				return fmt.Errorf("trainer: epoch %d iteration %d: optimizer step: %w", epoch, it, err)
			}
			if t.cfg.Stats != nil {
				t.cfg.Stats.Update("iterations", 1)
				for _, ll := range t.cfg.LossLayers {
					t.cfg.Stats.Update("loss", ll.Loss())
				}
			}
		}

		if t.cfg.Stats != nil {
			t.cfg.Stats.Update("seconds_elapsed", t.cfg.Now().Sub(start).Seconds())
			t.cfg.Stats.StopRecording()
			if err := t.cfg.Stats.Generate(); err != nil {
				return fmt.Errorf("trainer: epoch %d: stat generate: %w", epoch, err)
			}
			t.cfg.Stats.Reset()
		}

		if t.cfg.SnapshotEveryEpoch || epoch == t.cfg.Epochs-1 {
			if err := t.snapshot(epoch, "train"); err != nil {
				return err
			}
		}

		if len(t.cfg.BundleInput.Testing) > 0 {
			if err := t.runTesting(epoch); err != nil {
				return err
			}
		}
		t.cfg.Logger.Info("epoch complete", "epoch", epoch, "arch", t.cfg.ArchName)
	}
	return nil
}

// Evaluate runs a single forward-only testing pass over the
// BundleInputLayer's testing bundles, without any training iterations --
// the path a standalone "test" CLI invocation drives, as opposed to the
// testing pass Run folds into every training epoch.
func (t *Trainer) Evaluate() error {
	if t.cfg.Stats != nil {
		t.cfg.Stats.Initialize()
		t.cfg.Stats.SetExperimentName(t.cfg.ArchName)
		t.cfg.Stats.StartRecording()
	}
	if err := t.runTesting(0); err != nil {
		return err
	}
	if t.cfg.Stats != nil {
		t.cfg.Stats.StopRecording()
		if err := t.cfg.Stats.Generate(); err != nil {
			return fmt.Errorf("trainer: evaluate: stat generate: %w", err)
		}
	}
	return nil
}

func (t *Trainer) runTesting(epoch int) error {
	t.g.SetIsTesting(true)
	defer t.g.SetIsTesting(false)

	for {
		done, err := t.cfg.BundleInput.SelectAndLoadSamples()
		if err != nil {
			return fmt.Errorf("trainer: epoch %d testing: select_and_load: %w", epoch, err)
		}
		if done {
			break
		}
		if err := t.g.FeedForward(); err != nil {
			return fmt.Errorf("trainer: epoch %d testing: feed_forward: %w", epoch, err)
		}
		if t.cfg.Stats != nil {
			for _, ll := range t.cfg.LossLayers {
				t.cfg.Stats.Update("loss", ll.Loss())
			}
		}
	}
	if t.cfg.SnapshotEveryEpoch || epoch == t.cfg.Epochs-1 {
		return t.snapshot(epoch, "test")
	}
	return nil
}

// snapshot serializes parameters to <SnapshotDir>/snap<ArchName>_<DD.MM>_<HH.MM>_<mode>_<epoch>.Tensor
func (t *Trainer) snapshot(epoch int, mode string) error {
	if t.cfg.SnapshotDir == "" {
		return nil
	}
	now := t.cfg.Now()
	name := fmt.Sprintf("snap%s_%s_%s_%s_%d.Tensor",
		t.cfg.ArchName, now.Format("02.01"), now.Format("15.04"), mode, epoch)
	path := t.cfg.SnapshotDir + string(os.PathSeparator) + name

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("trainer: creating snapshot %s: %w", path, err)
	}
	defer f.Close()
	return t.g.SerializeParameters(f, nil)
}
