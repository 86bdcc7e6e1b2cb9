package esim

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/textmodels/textmodels/embedding"
	"github.com/textmodels/textmodels/ml"
	"github.com/textmodels/textmodels/ml/nn"
)

func testTable(t *testing.T) *embedding.Table {
	t.Helper()

	table, err := embedding.New([]float32{
		0, 0, 0,
		0.1, 0.2, 0.3,
		-0.4, 0.5, 0.6,
		0.7, -0.8, 0.9,
	}, 4, 3)
	require.NoError(t, err)
	return table
}

func TestForwardShapes(t *testing.T) {
	m, err := New(testTable(t), Options{HiddenSize: 2})
	require.NoError(t, err)

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	result, err := m.Forward(ctx,
		[][]int32{{1, 2, 3}}, []int32{3},
		[][]int32{{2, 1}}, []int32{2})
	require.NoError(t, err)

	// Composed outputs are bidirectional: last dimension 2*HiddenSize.
	if diff := cmp.Diff([]int{1, 3, 4}, result.ComposedPremises.Shape()); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff([]int{1, 2, 4}, result.ComposedHypotheses.Shape()); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff([]int{1, 3, 2}, result.Alignment.PremiseWeights.Shape()); diff != "" {
		t.Error(diff)
	}

	require.Nil(t, result.Logits)

	weights := result.Alignment.PremiseWeights.Floats()
	for row := 0; row < 3; row++ {
		var sum float32
		for _, v := range weights[row*2 : (row+1)*2] {
			sum += v
		}
		require.InDelta(t, 1, sum, 1e-5, "attention row %d", row)
	}
}

func TestForwardNarrowsToBatchMax(t *testing.T) {
	m, err := New(testTable(t), Options{HiddenSize: 2})
	require.NoError(t, err)

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	// Stored padded width is 6 but the longest true length is 3: every
	// downstream tensor must be 3 wide.
	result, err := m.Forward(ctx,
		[][]int32{{1, 2, 3, 0, 0, 0}, {2, 1, 0, 0, 0, 0}}, []int32{3, 2},
		[][]int32{{3, 0, 0, 0, 0, 0}, {1, 2, 0, 0, 0, 0}}, []int32{1, 2})
	require.NoError(t, err)

	if diff := cmp.Diff([]int{2, 3}, result.PremiseMask.Shape()); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff([]int{2, 3, 4}, result.ComposedPremises.Shape()); diff != "" {
		t.Error(diff)
	}
	if diff := cmp.Diff([]int{2, 3, 2}, result.Alignment.PremiseWeights.Shape()); diff != "" {
		t.Error(diff)
	}
}

func TestForwardRejectsBadLengths(t *testing.T) {
	m, err := New(testTable(t), Options{HiddenSize: 2})
	require.NoError(t, err)

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	_, err = m.Forward(ctx,
		[][]int32{{1, 2}}, []int32{0},
		[][]int32{{1}}, []int32{1})
	require.ErrorIs(t, err, nn.ErrInvalidLength)

	_, err = m.Forward(ctx,
		[][]int32{{1, 2}}, []int32{2},
		[][]int32{{1}}, []int32{5})
	require.ErrorIs(t, err, nn.ErrInvalidLength)
}

type meanHead struct {
	classes int
}

func (h meanHead) Forward(ctx ml.Context, r *Result) (ml.Tensor, error) {
	batch := r.ComposedPremises.Dim(0)
	logits := make([]float32, batch*h.classes)
	return ctx.FromFloatSlice(logits, batch, h.classes)
}

func TestHeadExtensionPoint(t *testing.T) {
	m, err := New(testTable(t), Options{HiddenSize: 2})
	require.NoError(t, err)
	m.SetHead(meanHead{classes: 3})

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	result, err := m.Forward(ctx,
		[][]int32{{1, 2}}, []int32{2},
		[][]int32{{3}}, []int32{1})
	require.NoError(t, err)

	require.NotNil(t, result.Logits)
	if diff := cmp.Diff([]int{1, 3}, result.Logits.Shape()); diff != "" {
		t.Error(diff)
	}
}
