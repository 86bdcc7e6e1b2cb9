package nn

import (
	"github.com/chewxy/math32"
	"golang.org/x/exp/rand"

	"github.com/textmodels/textmodels/ml"
)

func scaleBound(fanOut int) float32 {
	return 1 / math32.Sqrt(float32(fanOut))
}

// uniform draws a tensor with elements from uniform(-bound, bound).
func uniform(ctx ml.Context, rng *rand.Rand, bound float32, shape ...int) ml.Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}

	s := make([]float32, n)
	for i := range s {
		s[i] = (2*rng.Float32() - 1) * bound
	}

	t, err := ctx.FromFloatSlice(s, shape...)
	if err != nil {
		panic(err)
	}

	return t
}
