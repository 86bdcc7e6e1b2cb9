package nn

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/textmodels/textmodels/ml"
)

// Dropout zeroes a fraction of its input in training mode and rescales the
// rest by 1/(1-rate) so activations keep their expected magnitude. Outside
// training mode it is the identity.
type Dropout struct {
	Rate float32

	rng *rand.Rand
}

func NewDropout(rate float32, rng *rand.Rand) *Dropout {
	if rate < 0 || rate >= 1 {
		panic(fmt.Errorf("nn: dropout rate %v outside [0, 1)", rate))
	}

	return &Dropout{Rate: rate, rng: rng}
}

func (m *Dropout) Forward(ctx ml.Context, t ml.Tensor, training bool) ml.Tensor {
	if !training || m.Rate == 0 {
		return t
	}

	shape := t.Shape()
	n := 1
	for _, d := range shape {
		n *= d
	}

	keep := make([]float32, n)
	scale := 1 / (1 - m.Rate)
	for i := range keep {
		if m.rng.Float32() >= m.Rate {
			keep[i] = scale
		}
	}

	mask, err := ctx.FromFloatSlice(keep, shape...)
	if err != nil {
		panic(err)
	}

	return t.Mul(ctx, mask)
}
