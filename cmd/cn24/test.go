package main

import (
	"fmt"

	"github.com/milosgajdos83/cn24/stats"
	"github.com/milosgajdos83/cn24/trainer"
	"github.com/spf13/cobra"
)

func newTestCmd() *cobra.Command {
	var (
		testingBundlePath string
		classesPath       string
		inputNode         string
		archName          string
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run a forward-only evaluation pass against a testing bundle",
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

			g, bundleInput, _, hp, err := LoadNetwork(cfg.ArchPath, classes, loader, cfg.Seed, inputNode)
			if err != nil {
				return err
			}
			if err := LoadModel(g, cfg.ModelPath); err != nil {
				return fmt.Errorf("cn24: test requires an existing model: %w", err)
			}
			if err := BundleLoad(bundleInput, testingBundlePath, true); err != nil {
				return err
			}

			agg := stats.New()
			agg.RegisterStat(stats.Descriptor{
				Name: "loss", Unit: "nats",
				Init:   func() float64 { return 0 },
				Update: func(acc, v float64) float64 { return acc + v },
				Output: func(acc float64, iterations int) float64 {
					if iterations == 0 {
						return 0
					}
					return acc / float64(iterations)
				},
			})
			agg.AddSink(stats.ConsoleSink{W: cmd.OutOrStdout()})

			tr := trainer.New(g, trainer.Config{
				ArchName:        archName,
				Hyperparameters: hp,
				BundleInput:     bundleInput,
				LossLayers:      LossLayers(g),
				Stats:           agg,
			})
			return tr.Evaluate()
		},
	}

	cmd.Flags().StringVar(&testingBundlePath, "bundle", "", "Path to the testing bundle JSON file")
	cmd.Flags().StringVar(&classesPath, "classes", "", "Path to a class manifest JSON file")
	cmd.Flags().StringVar(&inputNode, "input-node", "input", "Name of the architecture's BundleInputLayer node")
	cmd.Flags().StringVar(&archName, "arch-name", "net", "Architecture name reported alongside stats")
	cmd.MarkFlagRequired("bundle")

	return cmd
}
