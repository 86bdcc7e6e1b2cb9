package dense

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"
	"github.com/pdevine/tensor"

	"github.com/textmodels/textmodels/ml"
)

// Tensor wraps a *tensor.Dense. All operations are functional: inputs are
// never mutated and results get fresh backing unless the operation is a pure
// reinterpretation of shape.
type Tensor struct {
	d     *tensor.Dense
	dtype ml.DType
}

func (t *Tensor) Dim(n int) int { return t.d.Shape()[n] }

func (t *Tensor) Shape() []int {
	return slices.Clone([]int(t.d.Shape()))
}

func (t *Tensor) DType() ml.DType { return t.dtype }

func (t *Tensor) Floats() []float32 {
	if t.dtype != ml.DTypeF32 {
		panic("dense: Floats called on non float tensor")
	}

	return t.d.Data().([]float32)
}

func (t *Tensor) Ints() []int32 {
	if t.dtype != ml.DTypeI32 {
		panic("dense: Ints called on non int tensor")
	}

	return t.d.Data().([]int32)
}

func (t *Tensor) Add(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.ewise("add", t2, func(x, y float32) float32 { return x + y })
}

func (t *Tensor) Sub(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.ewise("sub", t2, func(x, y float32) float32 { return x - y })
}

func (t *Tensor) Mul(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.ewise("mul", t2, func(x, y float32) float32 { return x * y })
}

func (t *Tensor) Div(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.ewise("div", t2, func(x, y float32) float32 { return x / y })
}

func (t *Tensor) Scale(ctx ml.Context, s float64) ml.Tensor {
	return t.unary(func(x float32) float32 { return x * float32(s) })
}

func (t *Tensor) ReLU(ctx ml.Context) ml.Tensor {
	return t.unary(func(x float32) float32 { return max(x, 0) })
}

func (t *Tensor) Tanh(ctx ml.Context) ml.Tensor {
	return t.unary(math32.Tanh)
}

func (t *Tensor) Sigmoid(ctx ml.Context) ml.Tensor {
	return t.unary(func(x float32) float32 { return 1 / (1 + math32.Exp(-x)) })
}

func (t *Tensor) unary(f func(float32) float32) ml.Tensor {
	src := t.Floats()
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = f(v)
	}

	return newTensor(ml.DTypeF32, t.Shape(), dst)
}

// ewise applies f elementwise with numpy style broadcasting: shapes are
// right aligned and size one axes expand against the other operand.
func (t *Tensor) ewise(op string, t2 ml.Tensor, f func(x, y float32) float32) ml.Tensor {
	a, b := t, t2.(*Tensor)
	shape, ok := broadcastShape(a.Shape(), b.Shape())
	if !ok {
		panic(fmt.Errorf("dense: cannot %s tensors of shape %v and %v", op, a.Shape(), b.Shape()))
	}

	as, bs := broadcastStrides(a.Shape(), shape), broadcastStrides(b.Shape(), shape)
	ad, bd := a.Floats(), b.Floats()

	dst := make([]float32, numElements(shape))
	idx := make([]int, len(shape))
	for i := range dst {
		var ai, bi int
		for d, v := range idx {
			ai += v * as[d]
			bi += v * bs[d]
		}

		dst[i] = f(ad[ai], bd[bi])
		advance(idx, shape)
	}

	return newTensor(ml.DTypeF32, shape, dst)
}

func broadcastShape(a, b []int) ([]int, bool) {
	n := max(len(a), len(b))
	shape := make([]int, n)
	for i := 1; i <= n; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}

		switch {
		case da == db, db == 1:
			shape[n-i] = da
		case da == 1:
			shape[n-i] = db
		default:
			return nil, false
		}
	}

	return shape, true
}

// broadcastStrides computes per axis strides for reading a tensor of shape
// src as if it had the broadcast shape dst; expanded axes get stride zero.
func broadcastStrides(src, dst []int) []int {
	strides := make([]int, len(dst))
	stride := 1
	for i := len(src) - 1; i >= 0; i-- {
		d := len(dst) - len(src) + i
		if src[i] != 1 {
			strides[d] = stride
		}
		stride *= src[i]
	}

	return strides
}

func advance(idx, shape []int) {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < shape[d] {
			return
		}
		idx[d] = 0
	}
}

func (t *Tensor) Mulmat(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	a, b := t, t2.(*Tensor)
	as, bs := a.Shape(), b.Shape()
	if len(as) < 2 || len(bs) < 2 {
		panic(fmt.Errorf("dense: mulmat operands must have rank >= 2, got %v x %v", as, bs))
	}

	m, k := as[len(as)-2], as[len(as)-1]
	if bs[len(bs)-2] != k {
		panic(fmt.Errorf("dense: mulmat inner dimensions do not match: %v x %v", as, bs))
	}
	n := bs[len(bs)-1]

	// A 2d right hand side is shared across the batch: collapse the left
	// hand side to a single (batch*m, k) product.
	if len(bs) == 2 {
		out := matmul2d(a.Floats(), b.Floats(), numElements(as)/k, k, n)
		return newTensor(ml.DTypeF32, append(as[:len(as)-2:len(as)-2], m, n), out)
	}

	if !slices.Equal(as[:len(as)-2], bs[:len(bs)-2]) {
		panic(fmt.Errorf("dense: mulmat batch dimensions do not match: %v x %v", as, bs))
	}

	batch := numElements(as[:len(as)-2])
	ad, bd := a.Floats(), b.Floats()
	dst := make([]float32, batch*m*n)
	for i := 0; i < batch; i++ {
		out := matmul2d(ad[i*m*k:(i+1)*m*k], bd[i*k*n:(i+1)*k*n], m, k, n)
		copy(dst[i*m*n:], out)
	}

	return newTensor(ml.DTypeF32, append(as[:len(as)-2:len(as)-2], m, n), dst)
}

func matmul2d(a, b []float32, m, k, n int) []float32 {
	at := tensor.New(tensor.WithShape(m, k), tensor.WithBacking(a))
	bt := tensor.New(tensor.WithShape(k, n), tensor.WithBacking(b))

	out, err := tensor.MatMul(at, bt)
	if err != nil {
		panic(fmt.Errorf("dense: matmul: %w", err))
	}

	return out.Data().([]float32)
}

// Softmax applies a numerically stable softmax over the last axis.
func (t *Tensor) Softmax(ctx ml.Context) ml.Tensor {
	shape := t.Shape()
	w := shape[len(shape)-1]
	src := t.Floats()
	dst := make([]float32, len(src))

	for r := 0; r < len(src); r += w {
		row, out := src[r:r+w], dst[r:r+w]

		maxv := slices.Max(row)
		var sum float32
		for i, v := range row {
			out[i] = math32.Exp(v - maxv)
			sum += out[i]
		}
		for i := range out {
			out[i] /= sum
		}
	}

	return newTensor(ml.DTypeF32, shape, dst)
}

// Sum reduces axis to size one, keeping the axis so the result broadcasts
// against the input.
func (t *Tensor) Sum(ctx ml.Context, axis int) ml.Tensor {
	shape := t.Shape()
	if axis < 0 || axis >= len(shape) {
		panic(fmt.Errorf("dense: sum axis %d out of range for shape %v", axis, shape))
	}

	outer, n, inner := numElements(shape[:axis]), shape[axis], numElements(shape[axis+1:])
	src := t.Floats()

	dst := make([]float32, outer*inner)
	for o := 0; o < outer; o++ {
		for i := 0; i < n; i++ {
			base := (o*n + i) * inner
			for j := 0; j < inner; j++ {
				dst[o*inner+j] += src[base+j]
			}
		}
	}

	outShape := slices.Clone(shape)
	outShape[axis] = 1
	return newTensor(ml.DTypeF32, outShape, dst)
}

func (t *Tensor) Reshape(ctx ml.Context, shape ...int) ml.Tensor {
	if numElements(shape) != numElements(t.Shape()) {
		panic(fmt.Errorf("dense: cannot reshape %v to %v", t.Shape(), shape))
	}

	// Shape reinterpretation only; the backing array is shared.
	return &Tensor{
		d:     tensor.New(tensor.WithShape(shape...), tensor.WithBacking(t.d.Data())),
		dtype: t.dtype,
	}
}

func (t *Tensor) Permute(ctx ml.Context, axes ...int) ml.Tensor {
	shape := t.Shape()
	if len(axes) != len(shape) {
		panic(fmt.Errorf("dense: permute axes %v do not match shape %v", axes, shape))
	}

	outShape := make([]int, len(shape))
	for i, a := range axes {
		outShape[i] = shape[a]
	}

	srcStrides := contiguousStrides(shape)
	src := t.Floats()
	dst := make([]float32, len(src))

	idx := make([]int, len(outShape))
	for i := range dst {
		var si int
		for d, v := range idx {
			si += v * srcStrides[axes[d]]
		}

		dst[i] = src[si]
		advance(idx, outShape)
	}

	return newTensor(ml.DTypeF32, outShape, dst)
}

func contiguousStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}

	return strides
}

func (t *Tensor) Narrow(ctx ml.Context, axis, start, length int) ml.Tensor {
	shape := t.Shape()
	if axis < 0 || axis >= len(shape) || start < 0 || length < 1 || start+length > shape[axis] {
		panic(fmt.Errorf("dense: narrow [%d:%d] on axis %d out of range for shape %v", start, start+length, axis, shape))
	}

	outer, inner := numElements(shape[:axis]), numElements(shape[axis+1:])

	var dst []float32
	var src []float32
	if t.dtype == ml.DTypeF32 {
		src = t.Floats()
		dst = make([]float32, outer*length*inner)
	} else {
		panic("dense: narrow on non float tensor")
	}

	for o := 0; o < outer; o++ {
		from := (o*shape[axis] + start) * inner
		copy(dst[o*length*inner:], src[from:from+length*inner])
	}

	outShape := slices.Clone(shape)
	outShape[axis] = length
	return newTensor(ml.DTypeF32, outShape, dst)
}

func (t *Tensor) Concat(ctx ml.Context, t2 ml.Tensor, axis int) ml.Tensor {
	a, b := t, t2.(*Tensor)
	as, bs := a.Shape(), b.Shape()
	if len(as) != len(bs) || axis < 0 || axis >= len(as) {
		panic(fmt.Errorf("dense: cannot concat %v and %v on axis %d", as, bs, axis))
	}
	for i := range as {
		if i != axis && as[i] != bs[i] {
			panic(fmt.Errorf("dense: cannot concat %v and %v on axis %d", as, bs, axis))
		}
	}

	outer := numElements(as[:axis])
	ai, bi := numElements(as[axis:]), numElements(bs[axis:])
	ad, bd := a.Floats(), b.Floats()

	dst := make([]float32, outer*(ai+bi))
	for o := 0; o < outer; o++ {
		copy(dst[o*(ai+bi):], ad[o*ai:(o+1)*ai])
		copy(dst[o*(ai+bi)+ai:], bd[o*bi:(o+1)*bi])
	}

	outShape := slices.Clone(as)
	outShape[axis] += bs[axis]
	return newTensor(ml.DTypeF32, outShape, dst)
}

func (t *Tensor) Rows(ctx ml.Context, indices ml.Tensor) ml.Tensor {
	shape := t.Shape()
	if len(shape) != 2 {
		panic(fmt.Errorf("dense: rows requires a matrix receiver, got shape %v", shape))
	}

	rows, dim := shape[0], shape[1]
	src := t.Floats()
	idx := indices.Ints()

	dst := make([]float32, len(idx)*dim)
	for i, ix := range idx {
		if ix < 0 || int(ix) >= rows {
			panic(fmt.Errorf("dense: row index %d out of range [0, %d)", ix, rows))
		}

		copy(dst[i*dim:], src[int(ix)*dim:(int(ix)+1)*dim])
	}

	return newTensor(ml.DTypeF32, append(indices.Shape(), dim), dst)
}

// Conv2D applies the receiver as a (filters, channels, kh, kw) kernel over
// t2 with shape (batch, channels, h, w) producing (batch, filters, oh, ow).
func (t *Tensor) Conv2D(ctx ml.Context, t2 ml.Tensor, s0, s1, p0, p1 int) ml.Tensor {
	w, x := t, t2.(*Tensor)
	ws, xs := w.Shape(), x.Shape()
	if len(ws) != 4 || len(xs) != 4 {
		panic(fmt.Errorf("dense: conv2d requires rank 4 kernel and input, got %v and %v", ws, xs))
	}
	if ws[1] != xs[1] {
		panic(fmt.Errorf("dense: conv2d channel mismatch: kernel %v, input %v", ws, xs))
	}
	if s0 < 1 || s1 < 1 {
		panic(fmt.Errorf("dense: conv2d strides must be positive, got %d, %d", s0, s1))
	}

	filters, channels, kh, kw := ws[0], ws[1], ws[2], ws[3]
	batch, h, iw := xs[0], xs[2], xs[3]

	oh := (h+2*p0-kh)/s0 + 1
	ow := (iw+2*p1-kw)/s1 + 1
	if oh < 1 || ow < 1 {
		panic(fmt.Errorf("dense: conv2d kernel %v does not fit input %v", ws, xs))
	}

	wd, xd := w.Floats(), x.Floats()
	dst := make([]float32, batch*filters*oh*ow)

	for b := 0; b < batch; b++ {
		for f := 0; f < filters; f++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					var acc float32
					for c := 0; c < channels; c++ {
						for ky := 0; ky < kh; ky++ {
							y := oy*s0 + ky - p0
							if y < 0 || y >= h {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								xcol := ox*s1 + kx - p1
								if xcol < 0 || xcol >= iw {
									continue
								}

								acc += wd[((f*channels+c)*kh+ky)*kw+kx] * xd[((b*channels+c)*h+y)*iw+xcol]
							}
						}
					}

					dst[((b*filters+f)*oh+oy)*ow+ox] = acc
				}
			}
		}
	}

	return newTensor(ml.DTypeF32, []int{batch, filters, oh, ow}, dst)
}
