package nn

import (
	"fmt"

	"github.com/textmodels/textmodels/ml"
)

// Alignment holds the soft alignment between two encoded sequences: the
// attention weighted summaries in both directions along with the weight
// matrices that produced them.
type Alignment struct {
	// AttendedPremises has the shape of the encoded premises; position i
	// is the weighted sum of the hypothesis vectors most similar to
	// premise position i. AttendedHypotheses is the mirror image.
	AttendedPremises   ml.Tensor
	AttendedHypotheses ml.Tensor

	// PremiseWeights has shape (batch, premiseLen, hypothesisLen) and rows
	// over unmasked positions sum to one. HypothesisWeights is its
	// transposed counterpart.
	PremiseWeights    ml.Tensor
	HypothesisWeights ml.Tensor
}

// SoftmaxAttention computes the soft alignment between premises and
// hypotheses encoded as (batch, seq, dim) tensors. The dot product of every
// premise position with every hypothesis position forms a similarity matrix;
// a masked softmax over each axis yields attention weights used to summarize
// the opposite sequence.
type SoftmaxAttention struct{}

func (SoftmaxAttention) Forward(ctx ml.Context, premises, premiseMask, hypotheses, hypothesisMask ml.Tensor) Alignment {
	if premises.Dim(0) != hypotheses.Dim(0) {
		panic(fmt.Errorf("attention: batch size does not match between premises(%v) and hypotheses(%v)", premises.Shape(), hypotheses.Shape()))
	}
	if premises.Dim(2) != hypotheses.Dim(2) {
		panic(fmt.Errorf("attention: vector dimension does not match between premises(%v) and hypotheses(%v)", premises.Shape(), hypotheses.Shape()))
	}
	if premiseMask.Dim(1) != premises.Dim(1) || hypothesisMask.Dim(1) != hypotheses.Dim(1) {
		panic(fmt.Errorf("attention: mask widths (%v, %v) do not match sequence widths (%d, %d)",
			premiseMask.Shape(), hypothesisMask.Shape(), premises.Dim(1), hypotheses.Dim(1)))
	}

	similarity := premises.Mulmat(ctx, hypotheses.Permute(ctx, 0, 2, 1))

	premiseWeights := MaskedSoftmax(ctx, similarity, hypothesisMask)
	hypothesisWeights := MaskedSoftmax(ctx, similarity.Permute(ctx, 0, 2, 1), premiseMask)

	return Alignment{
		AttendedPremises:   WeightedSum(ctx, hypotheses, premiseWeights, premiseMask),
		AttendedHypotheses: WeightedSum(ctx, premises, hypothesisWeights, hypothesisMask),
		PremiseWeights:     premiseWeights,
		HypothesisWeights:  hypothesisWeights,
	}
}
