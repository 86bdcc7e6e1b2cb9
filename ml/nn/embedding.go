package nn

import "github.com/textmodels/textmodels/ml"

// Embedding is a (vocab, dim) lookup table. Row 0 is reserved for the
// padding token and stays a zero vector.
type Embedding struct {
	Weight ml.Tensor
}

func (m *Embedding) Forward(ctx ml.Context, ids ml.Tensor) ml.Tensor {
	return m.Weight.Rows(ctx, ids)
}
