package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/milosgajdos83/cn24/dataset"
	"github.com/spf13/cobra"
)

// SegmentMove loads the source and destination bundle files, moves the
// named segment from src to dst, and rewrites both files in place.
func SegmentMove(srcPath, dstPath, segmentName string) error {
	src, err := readBundleFile(srcPath)
	if err != nil {
		return err
	}
	dst, err := readBundleFile(dstPath)
	if err != nil {
		return err
	}
	if err := dataset.MoveSegment(src, dst, segmentName); err != nil {
		return err
	}
	if err := writeBundleFile(srcPath, src); err != nil {
		return err
	}
	return writeBundleFile(dstPath, dst)
}

func readBundleFile(path string) (*dataset.Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cn24: opening bundle %s: %w", path, err)
	}
	defer f.Close()
	return dataset.LoadBundle(f)
}

// bundleFileView is the on-disk shape dataset.LoadBundle decodes; writing
// uses the same shape so round-tripping through SegmentMove preserves the
// file format exactly.
type bundleFileView struct {
	Name     string `json:"name"`
	Weight   float64 `json:"weight"`
	Segments []struct {
		Name    string           `json:"name"`
		Score   float64          `json:"score"`
		Samples []dataset.Sample `json:"samples"`
	} `json:"segments"`
}

func writeBundleFile(path string, b *dataset.Bundle) error {
	view := bundleFileView{Name: b.Name, Weight: b.Weight}
	for _, seg := range b.Segments {
		view.Segments = append(view.Segments, struct {
			Name    string           `json:"name"`
			Score   float64          `json:"score"`
			Samples []dataset.Sample `json:"samples"`
		}{Name: seg.Name, Score: seg.Score, Samples: seg.Samples})
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cn24: creating bundle %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func newSegmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Manage segments across bundle files",
	}
	cmd.AddCommand(newSegmentMoveCmd())
	return cmd
}

func newSegmentMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <src-bundle> <dst-bundle> <segment-name>",
		Short: "Move a segment from one bundle file to another",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return SegmentMove(args[0], args[1], args[2])
		},
	}
}
