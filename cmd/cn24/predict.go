package main

import (
	"fmt"

	"github.com/milosgajdos83/cn24/classmanager"
	"github.com/milosgajdos83/cn24/dataset"
	"github.com/milosgajdos83/cn24/layer"
	"github.com/milosgajdos83/cn24/netgraph"
	"github.com/spf13/cobra"
)

// PredictResult is PredictImage's task-agnostic answer: exactly one of its
// fields is populated, matching the architecture's task.
type PredictResult struct {
	Class      string
	Boxes      []string
	Dimensions [4]int
}

// PredictImage runs a single image through g's forward pass (via
// bundleInput's ForceLoad path, batch slot 0) and decodes the default
// output node's buffer according to task.
func PredictImage(g *netgraph.NetGraph, bundleInput *layer.BundleInputLayer, classes *classmanager.Manager, task layer.Task, imagePath string) (PredictResult, error) {
	sample := dataset.Sample{ImageFilename: imagePath}

	var loadErr error
	switch task {
	case layer.TaskClassification:
		loadErr = bundleInput.ForceLoadClassification(sample, 0)
	case layer.TaskBinarySegmentation:
		loadErr = bundleInput.ForceLoadBinarySegmentation(sample, 0)
	case layer.TaskDetection:
		loadErr = bundleInput.ForceLoadDetection(sample, 0)
	case layer.TaskSegmentation:
		loadErr = bundleInput.ForceLoadClassification(sample, 0)
	}
	if loadErr != nil {
		return PredictResult{}, loadErr
	}

	if err := g.FeedForward(); err != nil {
		return PredictResult{}, fmt.Errorf("cn24: predict: feed_forward: %w", err)
	}

	out := g.GetDefaultOutputNode()
	if out == nil {
		return PredictResult{}, fmt.Errorf("cn24: predict: architecture has no output node")
	}
	buf := out.Outputs()[0]
	s, m, h, w := buf.Data.Shape()
	_ = s

	switch task {
	case layer.TaskClassification:
		best, bestVal := 0, buf.Data.At(0, 0, 0, 0)
		for c := 1; c < m; c++ {
			if v := buf.Data.At(0, c, 0, 0); v > bestVal {
				best, bestVal = c, v
			}
		}
		name := fmt.Sprintf("class_%d", best)
		if classes != nil {
			if cls, ok := classes.ByID(best); ok {
				name = cls.Name
			}
		}
		return PredictResult{Class: name}, nil
	case layer.TaskDetection:
		var boxes []string
		if buf.Meta != nil && len(buf.Meta) > 0 {
			for _, box := range buf.Meta[0].Boxes {
				boxes = append(boxes, fmt.Sprintf("class=%d score=%.3f x=%.3f y=%.3f w=%.3f h=%.3f",
					box.Class, box.Score, box.X, box.Y, box.W, box.H))
			}
		}
		return PredictResult{Boxes: boxes}, nil
	default:
		return PredictResult{Dimensions: [4]int{s, m, h, w}}, nil
	}
}

func newPredictCmd() *cobra.Command {
	var (
		imagePath   string
		classesPath string
		inputNode   string
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run one image through a trained network and print the decoded output",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			classes, err := loadClasses(classesPath)
			if err != nil {
				return err
			}
			loader := newStdlibImageLoader()

			g, bundleInput, arch, _, err := LoadNetwork(cfg.ArchPath, classes, loader, cfg.Seed, inputNode)
			if err != nil {
				return err
			}
			if err := LoadModel(g, cfg.ModelPath); err != nil {
				return fmt.Errorf("cn24: predict requires an existing model: %w", err)
			}

			task, err := taskFromString(arch.Task)
			if err != nil {
				return err
			}

			result, err := PredictImage(g, bundleInput, classes, task, imagePath)
			if err != nil {
				return err
			}

			switch task {
			case layer.TaskClassification:
				fmt.Fprintln(cmd.OutOrStdout(), result.Class)
			case layer.TaskDetection:
				for _, b := range result.Boxes {
					fmt.Fprintln(cmd.OutOrStdout(), b)
				}
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "output shape: %v\n", result.Dimensions)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&imagePath, "image", "", "Path to the image to predict")
	cmd.Flags().StringVar(&classesPath, "classes", "", "Path to a class manifest JSON file")
	cmd.Flags().StringVar(&inputNode, "input-node", "input", "Name of the architecture's BundleInputLayer node")
	cmd.MarkFlagRequired("image")

	return cmd
}
