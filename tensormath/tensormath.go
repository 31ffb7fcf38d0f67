// Package tensormath implements the dense BLAS-style kernels the layer
// implementations lower their forward/backward computation onto: GEMM,
// im2col/col2im, block up/downsampling, and small elementwise helpers.
//
// GEMM is backed by gonum.org/v1/gonum/mat so the actual multiply runs
// through a real, tested linear-algebra routine rather than a hand-rolled
// triple loop; everything else here is index arithmetic with no natural
// BLAS analogue, parallelized per sample with
// github.com/sourcegraph/conc/pool where the iterations are independent.
package tensormath

import (
	"fmt"

	"github.com/milosgajdos83/cn24/cnerr"
	"github.com/milosgajdos83/cn24/tensor"
	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"
)

type Datum = tensor.Datum

// GEMM computes C <- alpha*op(A)*op(B) + beta*C where op(X) is X or X^T
// according to transA/transB. A is mRows x kDim (or transposed), B is kDim
// x nCols (or transposed), C is mRows x nCols.
func GEMM(a []Datum, aRows, aCols int, b []Datum, bRows, bCols int, c []Datum, mRows, nCols int, alpha, beta Datum, transA, transB bool) error {
	ad := toFloat64(a)
	bd := toFloat64(b)
	amat := mat.NewDense(aRows, aCols, ad)
	bmat := mat.NewDense(bRows, bCols, bd)

	var aOp, bOp mat.Matrix = amat, bmat
	kFromA, kFromB := aCols, bRows
	if transA {
		aOp = amat.T()
		kFromA = aRows
	}
	if transB {
		bOp = bmat.T()
		kFromB = bCols
	}
	if kFromA != kFromB {
		return fmt.Errorf("gemm: inner dimension mismatch %d != %d: %w", kFromA, kFromB, cnerr.ErrShape)
	}

	var product mat.Dense
	product.Mul(aOp, bOp)
	pr, pc := product.Dims()
	if pr != mRows || pc != nCols {
		return fmt.Errorf("gemm: output shape mismatch got %dx%d want %dx%d: %w", pr, pc, mRows, nCols, cnerr.ErrShape)
	}
	for i := 0; i < mRows; i++ {
		for j := 0; j < nCols; j++ {
			idx := i*nCols + j
			c[idx] = Datum(float64(alpha)*product.At(i, j) + float64(beta)*float64(c[idx]))
		}
	}
	return nil
}

func toFloat64(in []Datum) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// OutSize returns the spatial size `(in + 2*pad - k)/stride + 1` common to
// convolution and advanced pooling.
func OutSize(in, k, stride, pad int) int {
	return (in+2*pad-k)/stride + 1
}

// IM2COL lowers a convolution's input into a column matrix suitable for
// GEMM: out has shape (C_in*kH*kW) x (S*H_out*W_out).
func IM2COL(input []Datum, s, cIn, h, w int, out []Datum, kH, kW, strideH, strideW, padH, padW int) {
	hOut := OutSize(h, kH, strideH, padH)
	wOut := OutSize(w, kW, strideW, padW)
	rowStride := s * hOut * wOut

	p := pool.New().WithMaxGoroutines(maxParallel(s))
	for si := 0; si < s; si++ {
		si := si
		p.Go(func() {
			for c := 0; c < cIn; c++ {
				for ky := 0; ky < kH; ky++ {
					for kx := 0; kx < kW; kx++ {
						rowIdx := (c*kH+ky)*kW + kx
						for oy := 0; oy < hOut; oy++ {
							iy := oy*strideH - padH + ky
							for ox := 0; ox < wOut; ox++ {
								ix := ox*strideW - padW + kx
								colIdx := si*hOut*wOut + oy*wOut + ox
								var v Datum
								if iy >= 0 && iy < h && ix >= 0 && ix < w {
									v = input[((si*cIn+c)*h+iy)*w+ix]
								}
								out[rowIdx*rowStride+colIdx] = v
							}
						}
					}
				}
			}
		})
	}
	p.Wait()
}

// COL2IM is the adjoint of IM2COL used in the backward pass: it scatters
// column-matrix gradients back into input-shaped gradients, summing
// contributions from overlapping receptive fields.
func COL2IM(col []Datum, s, cIn, h, w int, out []Datum, kH, kW, strideH, strideW, padH, padW int) {
	hOut := OutSize(h, kH, strideH, padH)
	wOut := OutSize(w, kW, strideW, padW)
	rowStride := s * hOut * wOut

	for i := range out {
		out[i] = 0
	}
	for si := 0; si < s; si++ {
		for c := 0; c < cIn; c++ {
			for ky := 0; ky < kH; ky++ {
				for kx := 0; kx < kW; kx++ {
					rowIdx := (c*kH+ky)*kW + kx
					for oy := 0; oy < hOut; oy++ {
						iy := oy*strideH - padH + ky
						if iy < 0 || iy >= h {
							continue
						}
						for ox := 0; ox < wOut; ox++ {
							ix := ox*strideW - padW + kx
							if ix < 0 || ix >= w {
								continue
							}
							colIdx := si*hOut*wOut + oy*wOut + ox
							out[((si*cIn+c)*h+iy)*w+ix] += col[rowIdx*rowStride+colIdx]
						}
					}
				}
			}
		}
	}
}

// DOWN block-averages input by (rw,rh), writing samples*maps planes of
// shape (h/rh, w/rw) into output. scale additionally multiplies every
// output value; Upscale's backward pass passes rw*rh so each block's
// gradients are summed.
func DOWN(input []Datum, s, m, h, w int, output []Datum, rw, rh int, scale Datum) {
	hOut, wOut := h/rh, w/rw
	p := pool.New().WithMaxGoroutines(maxParallel(s * m))
	for si := 0; si < s; si++ {
		for mi := 0; mi < m; mi++ {
			si, mi := si, mi
			p.Go(func() {
				inBase := (si*m + mi) * h * w
				outBase := (si*m + mi) * hOut * wOut
				for oy := 0; oy < hOut; oy++ {
					for ox := 0; ox < wOut; ox++ {
						var sum Datum
						for y := 0; y < rh; y++ {
							for x := 0; x < rw; x++ {
								sum += input[inBase+(oy*rh+y)*w+(ox*rw+x)]
							}
						}
						output[outBase+oy*wOut+ox] = sum / Datum(rw*rh) * scale
					}
				}
			})
		}
	}
	p.Wait()
}

// UP nearest-neighbour upsamples input by (rw,rh).
func UP(input []Datum, s, m, h, w int, output []Datum, rw, rh int, scale Datum) {
	wOut := w * rw
	p := pool.New().WithMaxGoroutines(maxParallel(s * m))
	for si := 0; si < s; si++ {
		for mi := 0; mi < m; mi++ {
			si, mi := si, mi
			p.Go(func() {
				inBase := (si*m + mi) * h * w
				outBase := (si*m + mi) * h * rh * wOut
				for y := 0; y < h; y++ {
					for x := 0; x < w; x++ {
						v := input[inBase+y*w+x] * scale
						for dy := 0; dy < rh; dy++ {
							for dx := 0; dx < rw; dx++ {
								output[outBase+(y*rh+dy)*wOut+(x*rw+dx)] = v
							}
						}
					}
				}
			})
		}
	}
	p.Wait()
}

// ADD computes out <- a + b elementwise across identical shapes.
func ADD(a, b, out []Datum) {
	for i := range out {
		out[i] = a[i] + b[i]
	}
}

// SETSAMPLE fills one sample (sampleIdx >= 0) or the whole tensor
// (sampleIdx < 0) with value.
func SETSAMPLE(t *tensor.Tensor, sampleIdx int, value Datum) {
	s, m, h, w := t.Shape()
	if sampleIdx < 0 {
		t.Clear(value)
		return
	}
	for mi := 0; mi < m; mi++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				t.Set(sampleIdx, mi, y, x, value)
			}
		}
	}
	_ = s
}

func maxParallel(n int) int {
	if n < 1 {
		return 1
	}
	if n > 16 {
		return 16
	}
	return n
}
