package ml

import (
	"fmt"
	"strings"
)

type Backend interface {
	Name() string
	NewContext() Context
}

var backends = make(map[string]func() (Backend, error))

// RegisterBackend registers a backend constructor under a name. It panics if
// the name is already taken.
func RegisterBackend(name string, f func() (Backend, error)) {
	if _, ok := backends[name]; ok {
		panic("ml: backend already registered")
	}

	backends[name] = f
}

// NewBackend returns the backend registered under name, or the dense CPU
// backend when name is empty.
func NewBackend(name string) (Backend, error) {
	if name == "" {
		name = "dense"
	}

	if f, ok := backends[name]; ok {
		return f()
	}

	return nil, fmt.Errorf("unsupported backend %q", name)
}

// Context creates and computes tensors. The dense backend is eager so
// Forward and Compute are cheap, but callers still thread a Context through
// every operation so a deferred backend can batch work.
type Context interface {
	Zeros(dtype DType, shape ...int) Tensor
	FromFloatSlice(s []float32, shape ...int) (Tensor, error)
	FromIntSlice(s []int32, shape ...int) (Tensor, error)

	Forward(...Tensor)
	Compute(Tensor) Tensor
	Close() error
}

// Tensor is a dense multidimensional array. Shapes are row major with the
// batch axis first, e.g. (batch, sequence, features). Elementwise operations
// broadcast trailing axes of size one against the other operand.
type Tensor interface {
	Dim(n int) int
	Shape() []int
	DType() DType

	Floats() []float32
	Ints() []int32

	Add(ctx Context, t2 Tensor) Tensor
	Sub(ctx Context, t2 Tensor) Tensor
	Mul(ctx Context, t2 Tensor) Tensor
	Div(ctx Context, t2 Tensor) Tensor

	// Mulmat multiplies the trailing two axes. A two dimensional t2 is
	// shared across the batch axes of the receiver.
	Mulmat(ctx Context, t2 Tensor) Tensor

	Scale(ctx Context, s float64) Tensor
	Softmax(ctx Context) Tensor
	Sum(ctx Context, axis int) Tensor

	ReLU(ctx Context) Tensor
	Tanh(ctx Context) Tensor
	Sigmoid(ctx Context) Tensor

	// Conv2D applies the receiver as a (filters, channels, kh, kw) kernel
	// over t2 with shape (batch, channels, h, w).
	Conv2D(ctx Context, t2 Tensor, s0, s1, p0, p1 int) Tensor

	Reshape(ctx Context, shape ...int) Tensor
	Permute(ctx Context, axes ...int) Tensor
	Narrow(ctx Context, axis, start, length int) Tensor
	Concat(ctx Context, t2 Tensor, axis int) Tensor

	// Rows gathers rows of the receiver by integer index. A (batch, seq)
	// index tensor over a (vocab, dim) receiver yields (batch, seq, dim).
	Rows(ctx Context, indices Tensor) Tensor
}

type DType int

const (
	DTypeF32 DType = iota
	DTypeI32
)

type DumpOptions struct {
	// Items is the number of elements to print at the beginning and end of each dimension.
	Items int

	// Precision is the number of decimal places to print. Applies to float32 and float64.
	Precision int
}

// Dump renders a tensor for debugging.
func Dump(t Tensor, opts ...DumpOptions) string {
	if len(opts) < 1 {
		opts = append(opts, DumpOptions{
			Items:     3,
			Precision: 4,
		})
	}

	switch t.DType() {
	case DTypeF32:
		return dump(t.Shape(), t.Floats(), opts[0], func(v float32) string {
			return fmt.Sprintf("%.*f", opts[0].Precision, v)
		})
	case DTypeI32:
		return dump(t.Shape(), t.Ints(), opts[0], func(v int32) string {
			return fmt.Sprintf("%d", v)
		})
	default:
		return "<unsupported>"
	}
}

func dump[S ~[]E, E any](shape []int, s S, opts DumpOptions, format func(E) string) string {
	stride := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		stride[i] = 1
		if i < len(shape)-1 {
			stride[i] = stride[i+1] * shape[i+1]
		}
	}

	var sb strings.Builder
	var f func(dims, strides []int, offset int)
	f = func(dims, strides []int, offset int) {
		prefix := strings.Repeat(" ", len(shape)-len(dims)+1)
		fmt.Fprint(&sb, "[")
		defer func() { fmt.Fprint(&sb, "]") }()
		for i := 0; i < dims[0]; i++ {
			if i >= opts.Items && i < dims[0]-opts.Items {
				fmt.Fprint(&sb, "..., ")
				i = dims[0] - opts.Items - 1
				continue
			}

			if len(dims) > 1 {
				f(dims[1:], strides[1:], offset+i*strides[0])
				if i < dims[0]-1 {
					fmt.Fprint(&sb, ",", strings.Repeat("\n", len(dims)-1), prefix)
				}
			} else {
				fmt.Fprint(&sb, format(s[offset+i*strides[0]]))
				if i < dims[0]-1 {
					fmt.Fprint(&sb, ", ")
				}
			}
		}
	}
	f(shape, stride, 0)

	return sb.String()
}
