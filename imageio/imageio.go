// Package imageio is the narrow boundary behind which image codec I/O
// (PNG/JPEG decoding) lives. Per spec.md's explicit non-goal, decoding
// itself is out of scope here; this package only defines the contract
// BundleInputLayer depends on.
package imageio

import "github.com/milosgajdos83/cn24/tensor"

// Loader decodes an image file into a Tensor shaped (1, channels, H, W).
type Loader interface {
	LoadImage(path string) (*tensor.Tensor, error)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc func(path string) (*tensor.Tensor, error)

func (f LoaderFunc) LoadImage(path string) (*tensor.Tensor, error) {
	return f(path)
}
