package textcnn

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
		0, 0, 0, 0,
		0.1, 0.2, 0.3, 0.4,
		-0.5, 0.6, -0.7, 0.8,
		0.9, -1.0, 1.1, -1.2,
	}, 4, 4)
	require.NoError(t, err)
	return table
}

func TestForwardShapes(t *testing.T) {
	m, err := New(testTable(t), Options{WindowSize: 2, FilterDim: 3})
	require.NoError(t, err)

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	result, err := m.Forward(ctx, [][]int32{{1, 2, 3, 1, 2}}, []int32{5})
	require.NoError(t, err)

	// 5 tokens with a 2 token window give 4 valid positions, and the
	// kernel spans the full embedding dimension.
	if diff := cmp.Diff([]int{1, 3, 4, 1}, result.FeatureMaps.Shape()); diff != "" {
		t.Error(diff)
	}

	require.Nil(t, result.Logits)
}

func TestForwardRejectsShortBatch(t *testing.T) {
	m, err := New(testTable(t), Options{WindowSize: 4, FilterDim: 2})
	require.NoError(t, err)

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	_, err = m.Forward(ctx, [][]int32{{1, 2, 3, 0}}, []int32{3})
	require.Error(t, err)
}

func TestForwardRejectsBadLengths(t *testing.T) {
	m, err := New(testTable(t), Options{WindowSize: 1, FilterDim: 1})
	require.NoError(t, err)

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	_, err = m.Forward(ctx, [][]int32{{1, 2}}, []int32{3})
	require.ErrorIs(t, err, nn.ErrInvalidLength)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(testTable(t), Options{WindowSize: 0, FilterDim: 3})
	require.Error(t, err)

	_, err = New(testTable(t), Options{WindowSize: 2, FilterDim: 0})
	require.Error(t, err)
}

type sumHead struct{}

func (sumHead) Forward(ctx ml.Context, r *Result) (ml.Tensor, error) {
	batch := r.FeatureMaps.Dim(0)
	return ctx.FromFloatSlice(make([]float32, batch*2), batch, 2)
}

func TestHeadExtensionPoint(t *testing.T) {
	m, err := New(testTable(t), Options{WindowSize: 2, FilterDim: 2})
	require.NoError(t, err)
	m.SetHead(sumHead{})

	ctx := m.Backend().NewContext()
	defer ctx.Close()

	result, err := m.Forward(ctx, [][]int32{{1, 2, 3}}, []int32{3})
	require.NoError(t, err)

	require.NotNil(t, result.Logits)
	if diff := cmp.Diff([]int{1, 2}, result.Logits.Shape()); diff != "" {
		t.Error(diff)
	}
}
