package model

import (
	"errors"

	"github.com/textmodels/textmodels/ml"
)

// Inputs packs a batch of token id sequences into a (batch, width) int32
// tensor, truncating or zero padding each row to width. Width is normally
// the batch maximum true length so the tensor lines up with the mask.
func Inputs(ctx ml.Context, sequences [][]int32, width int) (ml.Tensor, error) {
	if len(sequences) == 0 || width < 1 {
		return nil, errors.New("model: empty input batch")
	}

	ids := make([]int32, len(sequences)*width)
	for i, seq := range sequences {
		copy(ids[i*width:(i+1)*width], seq)
	}

	return ctx.FromIntSlice(ids, len(sequences), width)
}
