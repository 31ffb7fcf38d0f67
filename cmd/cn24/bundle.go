package main

import (
	"bytes"
	"fmt"

	"github.com/milosgajdos83/cn24/dataset"
	"github.com/milosgajdos83/cn24/layer"
	"github.com/milosgajdos83/cn24/memfile"
	"github.com/spf13/cobra"
)

// openBundleFile mmaps the bundle JSON file rather than copying it through
// a buffered read: bundle files enumerating a large training set can run
// into the hundreds of megabytes, and every bundle load in this CLI (both
// the "bundle load" inspector and BundleLoad itself) goes through it.
func openBundleFile(path string) (*dataset.Bundle, error) {
	mm, err := memfile.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cn24: mapping bundle %s: %w", path, err)
	}
	defer mm.Close()

	bundle, err := dataset.LoadBundle(bytes.NewReader(mm.Address()))
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// BundleLoad decodes the bundle JSON at path and appends it to the given
// BundleInputLayer's Training or Testing list.
func BundleLoad(b *layer.BundleInputLayer, path string, testing bool) error {
	bundle, err := openBundleFile(path)
	if err != nil {
		return err
	}
	if testing {
		b.Testing = append(b.Testing, bundle)
	} else {
		b.Training = append(b.Training, bundle)
	}
	return nil
}

func newBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Inspect bundle JSON files",
	}
	cmd.AddCommand(newBundleLoadCmd())
	return cmd
}

func newBundleLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <path>",
		Short: "Load a bundle JSON file and print its segment/sample counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := openBundleFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bundle %q: weight=%.3f segments=%d samples=%d\n",
				bundle.Name, bundle.Weight, len(bundle.Segments), bundle.Count())
			for _, seg := range bundle.Segments {
				fmt.Fprintf(cmd.OutOrStdout(), "  segment %q: score=%.3f samples=%d\n", seg.Name, seg.Score, seg.Count())
			}
			return nil
		},
	}
}
