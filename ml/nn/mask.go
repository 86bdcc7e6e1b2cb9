package nn

import (
	"errors"
	"fmt"

	"github.com/textmodels/textmodels/ml"
)

// ErrInvalidLength reports a sequence length that is zero, negative or wider
// than its padded row.
var ErrInvalidLength = errors.New("nn: sequence length out of range")

// softmaxEpsilon guards rows that are entirely masked: their normalizer is
// zero and the epsilon keeps the output at zero instead of NaN.
const softmaxEpsilon = 1e-13

// MaxLength returns the longest true length in the batch.
func MaxLength(lengths []int32) int {
	var maxLen int32
	for _, l := range lengths {
		maxLen = max(maxLen, l)
	}

	return int(maxLen)
}

// Mask derives the padding mask for a batch of zero padded token sequences.
// The result has shape (batch, maxLen) where maxLen is the batch maximum
// true length, which may be narrower than the stored padded width; cell
// (i, p) is 1 iff p < lengths[i] and sequences[i][p] is not the padding
// token. Downstream tensors must be narrowed to the same width.
func Mask(ctx ml.Context, sequences [][]int32, lengths []int32) (ml.Tensor, error) {
	if len(sequences) != len(lengths) {
		return nil, fmt.Errorf("nn: %d sequences but %d lengths", len(sequences), len(lengths))
	}
	if len(sequences) == 0 {
		return nil, errors.New("nn: empty batch")
	}

	for i, l := range lengths {
		if l <= 0 || int(l) > len(sequences[i]) {
			return nil, fmt.Errorf("%w: length %d for row %d of width %d", ErrInvalidLength, l, i, len(sequences[i]))
		}
	}

	maxLen := MaxLength(lengths)
	mask := make([]float32, len(sequences)*maxLen)
	for i, seq := range sequences {
		for p := 0; p < int(lengths[i]); p++ {
			if seq[p] != 0 {
				mask[i*maxLen+p] = 1
			}
		}
	}

	return ctx.FromFloatSlice(mask, len(sequences), maxLen)
}

// MaskedSoftmax applies a softmax over the last axis of t, excluding masked
// positions from both the normalization and the output. The mask has shape
// (batch, width) and is broadcast over any intermediate axes of t. Rows that
// are entirely masked come out all zero.
func MaskedSoftmax(ctx ml.Context, t, mask ml.Tensor) ml.Tensor {
	mask = unsqueeze(ctx, mask, t)

	// Zero masked logits before exponentiating so a large magnitude logit
	// at a padded position cannot dominate the normalizer.
	result := t.Mul(ctx, mask).Softmax(ctx)
	result = result.Mul(ctx, mask)

	// The epsilon must be added after the second masking so fully masked
	// rows divide zero by epsilon instead of producing NaN.
	denom := result.Sum(ctx, len(result.Shape())-1).Add(ctx, scalar(ctx, softmaxEpsilon))
	return result.Div(ctx, denom)
}

// WeightedSum multiplies weights into t and zeroes the output positions
// disallowed by mask. The mask indexes the output's sequence axis.
func WeightedSum(ctx ml.Context, t, weights, mask ml.Tensor) ml.Tensor {
	out := weights.Mulmat(ctx, t)

	mask = unsqueeze(ctx, mask, out)
	mask = transposeLast(ctx, mask)
	return out.Mul(ctx, mask)
}

// unsqueeze inserts size one axes after the batch axis until mask matches
// the rank of t.
func unsqueeze(ctx ml.Context, mask, t ml.Tensor) ml.Tensor {
	for len(mask.Shape()) < len(t.Shape()) {
		shape := mask.Shape()
		mask = mask.Reshape(ctx, append([]int{shape[0], 1}, shape[1:]...)...)
	}

	return mask
}

func transposeLast(ctx ml.Context, t ml.Tensor) ml.Tensor {
	axes := make([]int, len(t.Shape()))
	for i := range axes {
		axes[i] = i
	}

	n := len(axes)
	axes[n-2], axes[n-1] = axes[n-1], axes[n-2]
	return t.Permute(ctx, axes...)
}

func scalar(ctx ml.Context, v float32) ml.Tensor {
	t, err := ctx.FromFloatSlice([]float32{v}, 1)
	if err != nil {
		panic(err)
	}

	return t
}
