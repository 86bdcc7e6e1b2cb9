// Package dense is a pure Go CPU backend for ml. Tensors are dense float32
// or int32 arrays in row major order and every operation computes eagerly.
package dense

import (
	"fmt"

	"github.com/pdevine/tensor"

	"github.com/textmodels/textmodels/ml"
)

func init() {
	ml.RegisterBackend("dense", func() (ml.Backend, error) {
		return &Backend{}, nil
	})
}

type Backend struct{}

func (b *Backend) Name() string { return "dense" }

func (b *Backend) NewContext() ml.Context {
	return &Context{}
}

// Context for the dense backend carries no state: tensors are computed as
// soon as they are created, so Forward and Compute only exist to satisfy the
// ml.Context contract.
type Context struct{}

func (c *Context) Forward(...ml.Tensor) {}

func (c *Context) Compute(t ml.Tensor) ml.Tensor { return t }

func (c *Context) Close() error { return nil }

func (c *Context) Zeros(dtype ml.DType, shape ...int) ml.Tensor {
	n := numElements(shape)
	switch dtype {
	case ml.DTypeF32:
		return newTensor(ml.DTypeF32, shape, make([]float32, n))
	case ml.DTypeI32:
		return newTensor(ml.DTypeI32, shape, make([]int32, n))
	default:
		panic("dense: unsupported dtype")
	}
}

func (c *Context) FromFloatSlice(s []float32, shape ...int) (ml.Tensor, error) {
	if err := checkShape(len(s), shape); err != nil {
		return nil, err
	}

	return newTensor(ml.DTypeF32, shape, s), nil
}

func (c *Context) FromIntSlice(s []int32, shape ...int) (ml.Tensor, error) {
	if err := checkShape(len(s), shape); err != nil {
		return nil, err
	}

	return newTensor(ml.DTypeI32, shape, s), nil
}

func checkShape(n int, shape []int) error {
	if len(shape) < 1 {
		return fmt.Errorf("dense: tensor must have at least one dimension")
	}

	for _, d := range shape {
		if d < 1 {
			return fmt.Errorf("dense: invalid dimension %d in shape %v", d, shape)
		}
	}

	if want := numElements(shape); n != want {
		return fmt.Errorf("dense: %d elements does not fit shape %v (want %d)", n, shape, want)
	}

	return nil
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}

	return n
}

func newTensor(dtype ml.DType, shape []int, backing any) *Tensor {
	return &Tensor{
		d:     tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)),
		dtype: dtype,
	}
}
