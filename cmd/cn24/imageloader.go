package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/milosgajdos83/cn24/imageio"
	"github.com/milosgajdos83/cn24/tensor"
)

// newStdlibImageLoader returns the concrete imageio.Loader the CLI wires
// into BundleInputLayer. Image codec decoding is an explicit non-goal of
// the computation-graph core itself (imageio.Loader exists precisely so
// that boundary can be swapped); the CLI's own decoder uses only the
// stdlib image/png and image/jpeg codecs, since none of the example repos
// in the pack import a third-party image codec to ground a pick from.
// BundleInputLayer's own CopySample rescales, so this loader only needs to
// produce a tensor shaped (1, channels, srcHeight, srcWidth) at the
// image's native resolution.
func newStdlibImageLoader() imageio.Loader {
	return imageio.LoaderFunc(loadImageFile)
}

func loadImageFile(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cn24: opening image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("cn24: decoding image %s: %w", path, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	t, err := tensor.New(1, 3, h, w)
	if err != nil {
		return nil, err
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			t.Set(0, 0, y, x, tensor.Datum(r>>8))
			t.Set(0, 1, y, x, tensor.Datum(g>>8))
			t.Set(0, 2, y, x, tensor.Datum(b>>8))
		}
	}
	return t, nil
}
