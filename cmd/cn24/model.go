package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage parameter (model) files",
	}
	cmd.AddCommand(newModelConvertCmd())
	return cmd
}

// newModelConvertCmd re-saves a model file in the current PAR format. Its
// main use is the legacy migration path (spec.md §8 Scenario F): LoadModel
// already falls back to the bare tensor-stream reader on a bad PAR magic,
// so simply loading then saving upgrades a legacy file in place.
func newModelConvertCmd() *cobra.Command {
	var (
		inPath      string
		outPath     string
		classesPath string
		inputNode   string
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Load a model file (PAR or legacy) and re-save it as the current PAR format",
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

			g, _, _, _, err := LoadNetwork(cfg.ArchPath, classes, loader, cfg.Seed, inputNode)
			if err != nil {
				return err
			}
			if err := LoadModel(g, inPath); err != nil {
				return err
			}
			if err := SaveModel(g, outPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "converted %s -> %s\n", inPath, outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&inPath, "in", "", "Path to the source model file (PAR or legacy)")
	cmd.Flags().StringVar(&outPath, "out", "", "Path to write the converted PAR model file to")
	cmd.Flags().StringVar(&classesPath, "classes", "", "Path to a class manifest JSON file")
	cmd.Flags().StringVar(&inputNode, "input-node", "input", "Name of the architecture's BundleInputLayer node")
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("out")

	return cmd
}
