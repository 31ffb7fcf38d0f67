package netgraph

import (
	"encoding/json"
	"fmt"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/layer"
)

// layerDescriptor is the JSON shape `{"layer": {"type": "<kind>", ...}}` or
// the bare form `{"layer": "<kind>"}`.
type layerDescriptor struct {
	Type string `json:"type"`

	Size    []int   `json:"size,omitempty"`
	Kernels int     `json:"kernels,omitempty"`
	Stride  []int   `json:"stride,omitempty"`
	Pad     []int   `json:"pad,omitempty"`
	Group   int     `json:"group,omitempty"`
	Seed    int64   `json:"seed,omitempty"`
	LLR     float64 `json:"llr,omitempty"`

	Kind string `json:"kind,omitempty"` // nonlinearity kind: tanh/sigmoid/relu/leaky_relu/softmax

	N       int `json:"n,omitempty"`       // fully_connected output size
	Classes int `json:"classes,omitempty"` // confusion_matrix class count

	Fraction float64 `json:"fraction,omitempty"` // dropout

	BorderX int `json:"border_x,omitempty"`
	BorderY int `json:"border_y,omitempty"`

	RW int `json:"rw,omitempty"`
	RH int `json:"rh,omitempty"`

	Alpha           float64 `json:"alpha,omitempty"`
	Beta            float64 `json:"beta,omitempty"`
	Lambda          float64 `json:"lambda,omitempty"`
	KLLossWeight    float64 `json:"kl_loss_weight,omitempty"`
	OtherLossWeight float64 `json:"other_loss_weight,omitempty"`

	HorizontalCells     int     `json:"horizontal_cells,omitempty"`
	VerticalCells       int     `json:"vertical_cells,omitempty"`
	BoxesPerCell        int     `json:"boxes_per_cell,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	DoNMS               *bool   `json:"do_nms,omitempty"`

	CoordWeight    float64 `json:"coord_weight,omitempty"`
	ObjectWeight   float64 `json:"object_weight,omitempty"`
	NoObjectWeight float64 `json:"noobject_weight,omitempty"`

	Method string `json:"method,omitempty"` // lrn method
}

func (d *layerDescriptor) UnmarshalJSON(data []byte) error {
	// Accept the bare string form: {"layer": "flatten"}.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d.Type = s
		return nil
	}
	type alias layerDescriptor
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*d = layerDescriptor(a)
	return nil
}

type nodeDescriptor struct {
	Layer    layerDescriptor `json:"layer"`
	IsInput  bool            `json:"is_input,omitempty"`
	IsOutput bool            `json:"is_output,omitempty"`
	Inputs   []struct {
		Node        string `json:"node"`
		OutputIndex int    `json:"output_index"`
		Backprop    *bool  `json:"backprop,omitempty"`
	} `json:"inputs"`
}

// Architecture is the decoded form of spec.md §6's architecture JSON file.
type Architecture struct {
	Net struct {
		Nodes      map[string]nodeDescriptor `json:"nodes"`
		ErrorLayer string                    `json:"error_layer,omitempty"`
	} `json:"net"`
	Hyperparameters map[string]any `json:"hyperparameters"`
	DataInput struct {
		Width    int `json:"width"`
		Height   int `json:"height"`
		Channels int `json:"channels"`
	} `json:"data_input"`
	Task string `json:"task"`
}

// BuildLayer is the LayerFactory: it turns a single layer descriptor into
// a concrete layer.Layer. seed is injected deterministically from the
// architecture's parent seed so graph reconstruction is reproducible.
func BuildLayer(d layerDescriptor, seed int64) (layer.Layer, error) {
	if d.Seed == 0 {
		d.Seed = seed
	}
	switch d.Type {
	case "convolution":
		if len(d.Size) != 2 {
			return nil, fmt.Errorf("netgraph: convolution requires size:[kW,kH]: %w", cnerr.ErrConfig)
		}
		strideW, strideH := 1, 1
		if len(d.Stride) == 2 {
			strideW, strideH = d.Stride[0], d.Stride[1]
		}
		padW, padH := 0, 0
		if len(d.Pad) == 2 {
			padW, padH = d.Pad[0], d.Pad[1]
		}
		group := d.Group
		if group == 0 {
			group = 1
		}
		return layer.NewConvolution(d.Size[1], d.Size[0], d.Kernels, strideH, strideW, padH, padW, group, d.Seed), nil
	case "fully_connected":
		return layer.NewFullyConnected(d.N, d.Seed), nil
	case "max_pooling":
		if len(d.Size) != 2 {
			return nil, fmt.Errorf("netgraph: max_pooling requires size:[rW,rH]: %w", cnerr.ErrConfig)
		}
		if len(d.Stride) == 2 {
			return layer.NewAdvancedMaxPooling(d.Size[1], d.Size[0], d.Stride[1], d.Stride[0]), nil
		}
		return layer.NewSimpleMaxPooling(d.Size[1], d.Size[0]), nil
	case "tanh", "sigmoid", "relu", "leaky_relu", "softmax":
		return layer.NewNonLinearity(d.Type), nil
	case "flatten":
		return layer.NewFlatten(), nil
	case "resize":
		return layer.NewResize(d.BorderX, d.BorderY), nil
	case "upscale":
		return layer.NewUpscale(d.RW, d.RH), nil
	case "input_downsampling":
		return layer.NewInputDownSampling(d.RW, d.RH), nil
	case "spatial_prior":
		return layer.NewSpatialPrior(), nil
	case "concat":
		return layer.NewConcat(), nil
	case "concatenation":
		return layer.NewConcatenation(), nil
	case "sum":
		return layer.NewSum(), nil
	case "lrn":
		return layer.NewLocalResponseNormalization(d.Size[0], d.Alpha, d.Beta, d.Method), nil
	case "dropout":
		return layer.NewDropout(d.Fraction, d.Seed), nil
	case "sparsity_relu":
		return layer.NewSparsityReLU(d.Alpha, d.Lambda, d.KLLossWeight, d.OtherLossWeight), nil
	case "yolo_detection":
		doNMS := true
		if d.DoNMS != nil {
			doNMS = *d.DoNMS
		}
		threshold := d.ConfidenceThreshold
		if threshold == 0 {
			threshold = 0.2
		}
		return layer.NewYOLODetectionLayer(d.HorizontalCells, d.VerticalCells, d.BoxesPerCell, threshold, doNMS), nil
	case "yolo_loss":
		return layer.NewYOLOLossLayer(d.HorizontalCells, d.VerticalCells, d.BoxesPerCell, d.CoordWeight, d.ObjectWeight, d.NoObjectWeight), nil
	case "error":
		return layer.NewError(), nil
	case "multi_class_error":
		return layer.NewMultiClassError(), nil
	case "confusion_matrix":
		return layer.NewConfusionMatrix(d.Classes), nil
	case "binary_stat":
		return layer.NewBinaryStat(), nil
	case "detection_stat":
		return layer.NewDetectionStat(d.ConfidenceThreshold), nil
	default:
		return nil, fmt.Errorf("netgraph: unknown layer kind %q: %w", d.Type, cnerr.ErrConfig)
	}
}

// BuildGraph is the JSONNetGraphFactory: it decodes an Architecture and
// wires a NetGraph from it. extraNodes lets a caller (e.g. the CLI) splice
// in layers that the architecture file references by name but that are
// constructed outside the factory, such as a BundleInputLayer (it needs a
// ClassManager/image loader the pure JSON descriptor cannot carry). Nodes
// are added in name order so the graph's node order does not depend on map
// iteration.
func BuildGraph(arch Architecture, parentSeed int64, extraNodes map[string]layer.Layer) (*NetGraph, error) {
	g := New()
	names := make([]string, 0, len(arch.Net.Nodes))
	for name := range arch.Net.Nodes {
		names = append(names, name)
	}
	sortStrings(names)
	for _, name := range names {
		nd := arch.Net.Nodes[name]
		var l layer.Layer
		if extra, ok := extraNodes[name]; ok {
			l = extra
		} else {
			if nd.Layer.Type == "" {
				return nil, fmt.Errorf("netgraph: node %q has no layer descriptor: %w", name, cnerr.ErrConfig)
			}
			built, err := BuildLayer(nd.Layer, parentSeed)
			if err != nil {
				return nil, fmt.Errorf("netgraph: building layer for node %q: %w", name, err)
			}
			l = built
		}

		var inputs []InputConnection
		for _, in := range nd.Inputs {
			backprop := true
			if in.Backprop != nil {
				backprop = *in.Backprop
			}
			inputs = append(inputs, InputConnection{SourceNode: in.Node, OutputIndex: in.OutputIndex, BackpropEnabled: backprop})
		}

		node := &Node{Name: name, Layer: l, Inputs: inputs, IsInput: nd.IsInput, IsOutput: nd.IsOutput}
		if err := g.AddNode(node); err != nil {
			return nil, err
		}
	}
	if len(g.GetInputNodes()) == 0 {
		return nil, fmt.Errorf("netgraph: architecture has no is_input node: %w", cnerr.ErrConfig)
	}
	if len(g.GetOutputNodes()) == 0 {
		return nil, fmt.Errorf("netgraph: architecture has no is_output node: %w", cnerr.ErrConfig)
	}
	return g, nil
}
