package nn_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/textmodels/textmodels/ml"
	_ "github.com/textmodels/textmodels/ml/backend/dense"
	"github.com/textmodels/textmodels/ml/nn"
)

func setup(t *testing.T) ml.Context {
	t.Helper()

	b, err := ml.NewBackend("")
	require.NoError(t, err)

	ctx := b.NewContext()
	t.Cleanup(func() { ctx.Close() })
	return ctx
}

func TestMask(t *testing.T) {
	ctx := setup(t)

	t.Run("lengths 3 and 5", func(t *testing.T) {
		mask, err := nn.Mask(ctx,
			[][]int32{{4, 7, 9, 0, 0}, {3, 1, 5, 2, 8}},
			[]int32{3, 5})
		require.NoError(t, err)

		if diff := cmp.Diff([]int{2, 5}, mask.Shape()); diff != "" {
			t.Fatal(diff)
		}
		if diff := cmp.Diff([]float32{1, 1, 1, 0, 0, 1, 1, 1, 1, 1}, mask.Floats()); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("padding token inside length is masked", func(t *testing.T) {
		mask, err := nn.Mask(ctx, [][]int32{{5, 0, 7}}, []int32{3})
		require.NoError(t, err)

		if diff := cmp.Diff([]float32{1, 0, 1}, mask.Floats()); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("narrows to batch max length", func(t *testing.T) {
		mask, err := nn.Mask(ctx,
			[][]int32{{1, 2, 0, 0, 0, 0}, {3, 4, 5, 0, 0, 0}},
			[]int32{2, 3})
		require.NoError(t, err)

		if diff := cmp.Diff([]int{2, 3}, mask.Shape()); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("invalid lengths", func(t *testing.T) {
		for _, length := range []int32{0, -1, 6} {
			_, err := nn.Mask(ctx, [][]int32{{1, 2, 3, 4, 5}}, []int32{length})
			require.ErrorIs(t, err, nn.ErrInvalidLength)
		}
	})

	t.Run("ragged batch", func(t *testing.T) {
		_, err := nn.Mask(ctx, [][]int32{{1, 2}}, []int32{2, 2})
		require.Error(t, err)
	})
}

func TestMaskedSoftmax(t *testing.T) {
	ctx := setup(t)

	logits, err := ctx.FromFloatSlice([]float32{
		1, 2, 100,
		3, 1, -50,
	}, 1, 2, 3)
	require.NoError(t, err)

	mask, err := ctx.FromFloatSlice([]float32{1, 1, 0}, 1, 3)
	require.NoError(t, err)

	got := nn.MaskedSoftmax(ctx, logits, mask).Floats()

	for row := 0; row < 2; row++ {
		require.Zero(t, got[row*3+2], "masked position must be exactly zero")

		var sum float32
		for _, v := range got[row*3 : row*3+2] {
			require.Greater(t, v, float32(0))
			sum += v
		}
		require.InDelta(t, 1, sum, 1e-5)
	}

	// The unmasked positions of row 0 are e^1 and e^2; the masked logit of
	// 100 must not influence their ratio.
	require.InDelta(t, got[1]/got[0], 2.7182817, 1e-3)
}

func TestMaskedSoftmaxFullyMasked(t *testing.T) {
	ctx := setup(t)

	logits, err := ctx.FromFloatSlice([]float32{5, -2, 3}, 1, 3)
	require.NoError(t, err)

	mask, err := ctx.FromFloatSlice([]float32{0, 0, 0}, 1, 3)
	require.NoError(t, err)

	got := nn.MaskedSoftmax(ctx, logits, mask).Floats()
	if diff := cmp.Diff([]float32{0, 0, 0}, got); diff != "" {
		t.Error(diff)
	}
}

func TestWeightedSum(t *testing.T) {
	ctx := setup(t)

	vectors, err := ctx.FromFloatSlice([]float32{
		1, 2,
		3, 4,
	}, 1, 2, 2)
	require.NoError(t, err)

	weights, err := ctx.FromFloatSlice([]float32{
		1, 0,
		0.5, 0.5,
	}, 1, 2, 2)
	require.NoError(t, err)

	mask, err := ctx.FromFloatSlice([]float32{1, 0}, 1, 2)
	require.NoError(t, err)

	got := nn.WeightedSum(ctx, vectors, weights, mask).Floats()

	// First output position is vectors[0]; second is masked out entirely.
	if diff := cmp.Diff([]float32{1, 2, 0, 0}, got); diff != "" {
		t.Error(diff)
	}
}
