package main

import (
	"fmt"
	"os"

	"github.com/milosgajdos83/cn24/classmanager"
	"github.com/milosgajdos83/cn24/stats"
	"github.com/milosgajdos83/cn24/trainer"
	"github.com/spf13/cobra"
)

func loadClasses(path string) (*classmanager.Manager, error) {
	if path == "" {
		return classmanager.New(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cn24: opening classes file %s: %w", path, err)
	}
	defer f.Close()
	return classmanager.Load(f)
}

func newTrainCmd() *cobra.Command {
	var (
		bundlePath        string
		testingBundlePath string
		classesPath       string
		epochs            int
		inputNode         string
		snapshotEvery     bool
		archName          string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a network against an architecture file and bundle",
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

			if err := BundleLoad(bundleInput, bundlePath, false); err != nil {
				return err
			}
			if testingBundlePath != "" {
				if err := BundleLoad(bundleInput, testingBundlePath, true); err != nil {
					return err
				}
			}

			if _, err := os.Stat(cfg.ModelPath); err == nil {
				if err := LoadModel(g, cfg.ModelPath); err != nil {
					return err
				}
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
			if cfg.StatsCSVPath != "" {
				f, err := os.OpenFile(cfg.StatsCSVPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("cn24: opening stats CSV %s: %w", cfg.StatsCSVPath, err)
				}
				defer f.Close()
				agg.AddSink(&stats.CSVSink{W: f, Columns: []string{"iterations", "seconds_elapsed", "loss"}})
			}

			tr := trainer.New(g, trainer.Config{
				ArchName:           archName,
				Epochs:             epochs,
				SnapshotEveryEpoch: snapshotEvery,
				SnapshotDir:        cfg.SnapshotDir,
				Hyperparameters:    hp,
				BundleInput:        bundleInput,
				LossLayers:         LossLayers(g),
				Stats:              agg,
			})
			if err := tr.Run(AllLayers(g)); err != nil {
				return err
			}
			return SaveModel(g, cfg.ModelPath)
		},
	}

	cmd.Flags().StringVar(&bundlePath, "bundle", "", "Path to the training bundle JSON file")
	cmd.Flags().StringVar(&testingBundlePath, "testing-bundle", "", "Path to an optional testing bundle JSON file")
	cmd.Flags().StringVar(&classesPath, "classes", "", "Path to a class manifest JSON file (segmentation/classification)")
	cmd.Flags().IntVar(&epochs, "epochs", 10, "Number of training epochs")
	cmd.Flags().StringVar(&inputNode, "input-node", "input", "Name of the architecture's BundleInputLayer node")
	cmd.Flags().BoolVar(&snapshotEvery, "snapshot-every-epoch", false, "Snapshot parameters after every epoch instead of only the last")
	cmd.Flags().StringVar(&archName, "arch-name", "net", "Architecture name used in snapshot filenames")
	cmd.MarkFlagRequired("bundle")

	return cmd
}
