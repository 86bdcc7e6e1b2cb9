package nn

import (
	"golang.org/x/exp/rand"

	"github.com/textmodels/textmodels/ml"
)

type Linear struct {
	Weight ml.Tensor // (in, out)
	Bias   ml.Tensor // (out), may be nil
}

// NewLinear creates a linear layer with uniform(-k, k) initialization where
// k = 1/sqrt(out).
func NewLinear(ctx ml.Context, rng *rand.Rand, in, out int) *Linear {
	return &Linear{
		Weight: uniform(ctx, rng, scaleBound(out), in, out),
		Bias:   uniform(ctx, rng, scaleBound(out), out),
	}
}

func (m *Linear) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	t = t.Mulmat(ctx, m.Weight)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias)
	}

	return t
}
