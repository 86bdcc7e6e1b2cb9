package nn

import (
	"golang.org/x/exp/rand"

	"github.com/textmodels/textmodels/ml"
)

type Conv2D struct {
	Weight ml.Tensor // (filters, channels, kh, kw)
	Bias   ml.Tensor // (filters), may be nil
}

func NewConv2D(ctx ml.Context, rng *rand.Rand, filters, channels, kh, kw int) *Conv2D {
	bound := scaleBound(channels * kh * kw)
	return &Conv2D{
		Weight: uniform(ctx, rng, bound, filters, channels, kh, kw),
		Bias:   uniform(ctx, rng, bound, filters),
	}
}

func (m *Conv2D) Forward(ctx ml.Context, t ml.Tensor, s0, s1, p0, p1 int) ml.Tensor {
	t = m.Weight.Conv2D(ctx, t, s0, s1, p0, p1)
	if m.Bias != nil {
		// Broadcast bias along spatial dimensions to match convolution output layout.
		bias := m.Bias.Reshape(ctx, m.Bias.Dim(0), 1, 1)
		t = t.Add(ctx, bias)
	}

	return t
}
