package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/milosgajdos83/cn24/classmanager"
	"github.com/milosgajdos83/cn24/imageio"
	"github.com/milosgajdos83/cn24/layer"
	"github.com/milosgajdos83/cn24/netgraph"
	"github.com/milosgajdos83/cn24/optimizer"
	"github.com/milosgajdos83/cn24/trainer"
	"github.com/spf13/viper"
)

// loadArchitectureFile locates and reads the architecture/hyperparameters
// JSON file through viper (spec.md §6's external interface), then
// re-marshals viper's generic map back to JSON and decodes it with
// encoding/json so netgraph.Architecture's custom layerDescriptor
// unmarshaling (the bare-string-vs-object layer form) still runs -- viper's
// own mapstructure decode would bypass json.Unmarshaler entirely.
func loadArchitectureFile(path string) (netgraph.Architecture, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return netgraph.Architecture{}, fmt.Errorf("cn24: reading architecture file %s: %w", path, err)
	}
	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return netgraph.Architecture{}, fmt.Errorf("cn24: re-marshaling architecture settings: %w", err)
	}
	var arch netgraph.Architecture
	if err := json.Unmarshal(raw, &arch); err != nil {
		return netgraph.Architecture{}, fmt.Errorf("cn24: decoding architecture file %s: %w", path, err)
	}
	return arch, nil
}

// taskFromString maps the architecture file's "task" string onto the
// BundleInputLayer Task enum.
func taskFromString(s string) (layer.Task, error) {
	switch s {
	case "classification":
		return layer.TaskClassification, nil
	case "segmentation":
		return layer.TaskSegmentation, nil
	case "detection":
		return layer.TaskDetection, nil
	case "binary_segmentation":
		return layer.TaskBinarySegmentation, nil
	default:
		return 0, fmt.Errorf("cn24: unknown task %q", s)
	}
}

// hyperparamFloat and hyperparamInt pull a JSON-decoded (float64-typed)
// value out of the architecture file's loosely-typed hyperparameters map.
func hyperparamFloat(m map[string]any, key string, def float64) float64 {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func hyperparamInt(m map[string]any, key string, def int) int {
	return int(hyperparamFloat(m, key, float64(def)))
}

func hyperparamString(m map[string]any, key, def string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// parseHyperparameters decodes spec.md §6's hyperparameters bag into the
// trainer/optimizer's typed form.
func parseHyperparameters(m map[string]any) trainer.Hyperparameters {
	return trainer.Hyperparameters{
		Hyperparameters: optimizer.Hyperparameters{
			LearningRate: hyperparamFloat(m, "learning_rate", 0.01),
			Gamma:        hyperparamFloat(m, "gamma", 0),
			Exponent:     hyperparamFloat(m, "exponent", 0.75),
			L1Weight:     hyperparamFloat(m, "l1_weight", 0),
			L2Weight:     hyperparamFloat(m, "l2_weight", 0),
			Momentum:     hyperparamFloat(m, "momentum", 0.9),
			Beta1:        hyperparamFloat(m, "ad_beta1", 0),
			Beta2:        hyperparamFloat(m, "ad_beta2", 0),
			Epsilon:      hyperparamFloat(m, "ad_epsilon", 0),
		},
		Method:              hyperparamString(m, "optimization_method", "gd"),
		Iterations:          hyperparamInt(m, "iterations", 100),
		BatchSizeParallel:   hyperparamInt(m, "batch_size_parallel", 1),
		BatchSizeSequential: hyperparamInt(m, "batch_size_sequential", 1),
		ConfidenceThreshold: hyperparamFloat(m, "confidence_threshold", 0.2),
	}
}

// LoadNetwork is the JSONNetGraphFactory entrypoint the CLI drives: it
// reads the architecture file, builds a BundleInputLayer sized and typed
// from data_input/task, splices it into the graph as the node named
// inputNode (loss layers come from their own descriptors), wires the whole thing with netgraph.BuildGraph and initializes
// it. The caller still owns classes/loader/training+testing bundle
// assignment; LoadNetwork only wires the graph shape.
func LoadNetwork(archPath string, classes *classmanager.Manager, loader imageio.Loader, seed int64, inputNode string) (*netgraph.NetGraph, *layer.BundleInputLayer, netgraph.Architecture, trainer.Hyperparameters, error) {
	arch, err := loadArchitectureFile(archPath)
	if err != nil {
		return nil, nil, netgraph.Architecture{}, trainer.Hyperparameters{}, err
	}

	task, err := taskFromString(arch.Task)
	if err != nil {
		return nil, nil, netgraph.Architecture{}, trainer.Hyperparameters{}, err
	}

	hp := parseHyperparameters(arch.Hyperparameters)
	batchSize := hp.BatchSizeParallel * hp.BatchSizeSequential
	if batchSize == 0 {
		batchSize = 1
	}

	bundleInput := layer.NewBundleInputLayer(task, batchSize, arch.DataInput.Height, arch.DataInput.Width, arch.DataInput.Channels, classes, loader, seed)
	extra := map[string]layer.Layer{inputNode: bundleInput}

	g, err := netgraph.BuildGraph(arch, seed, extra)
	if err != nil {
		return nil, nil, netgraph.Architecture{}, trainer.Hyperparameters{}, err
	}
	if err := g.Initialize(); err != nil {
		return nil, nil, netgraph.Architecture{}, trainer.Hyperparameters{}, fmt.Errorf("cn24: initializing graph: %w", err)
	}
	if err := g.InitializeWeights(seed); err != nil {
		return nil, nil, netgraph.Architecture{}, trainer.Hyperparameters{}, fmt.Errorf("cn24: initializing weights: %w", err)
	}
	return g, bundleInput, arch, hp, nil
}

// LossLayers walks every node's layer looking for layer.LossLayer, which
// Trainer needs a flat list of to report per-batch loss stats.
func LossLayers(g *netgraph.NetGraph) []layer.LossLayer {
	var out []layer.LossLayer
	for _, name := range g.NodeNames() {
		n, ok := g.Node(name)
		if !ok {
			continue
		}
		if ll, ok := n.Layer.(layer.LossLayer); ok {
			out = append(out, ll)
		}
	}
	return out
}

// AllLayers returns every node's Layer, for Trainer.Run's optimizer sweep.
func AllLayers(g *netgraph.NetGraph) []layer.Layer {
	names := g.NodeNames()
	out := make([]layer.Layer, 0, len(names))
	for _, name := range names {
		if n, ok := g.Node(name); ok {
			out = append(out, n.Layer)
		}
	}
	return out
}

// LoadModel opens path and deserializes it into g's parameters. A bad PAR
// magic triggers the legacy single-tensor-stream migration path instead of
// failing outright (spec.md §8 Scenario F).
func LoadModel(g *netgraph.NetGraph, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cn24: opening model %s: %w", path, err)
	}
	defer f.Close()

	if err := g.DeserializeParameters(f, nil); err != nil {
		if _, seekErr := f.Seek(0, 0); seekErr != nil {
			return err
		}
		params, order, legacyErr := netgraph.LoadLegacyParameters(f)
		if legacyErr != nil {
			return fmt.Errorf("cn24: model %s is neither a valid PAR stream nor a legacy tensor stream: %w", path, err)
		}
		return g.ApplyLegacyParameters(params, order)
	}
	return nil
}

// SaveModel writes g's parameters to path as a PAR stream.
func SaveModel(g *netgraph.NetGraph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cn24: creating model %s: %w", path, err)
	}
	defer f.Close()
	return g.SerializeParameters(f, nil)
}
