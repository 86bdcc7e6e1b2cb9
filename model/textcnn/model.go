// Package textcnn implements a convolutional sentiment pipeline: embed a
// padded token sequence, insert a channel axis and slide a single 2D kernel
// spanning a window of tokens across the full embedding dimension.
package textcnn

import (
	"cmp"
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/textmodels/textmodels/embedding"
	"github.com/textmodels/textmodels/ml"
	"github.com/textmodels/textmodels/ml/nn"
	"github.com/textmodels/textmodels/model"
)

type Options struct {
	// WindowSize is the number of consecutive tokens each filter spans.
	WindowSize int

	// FilterDim is the number of feature maps the convolution produces.
	FilterDim int

	// Backend selects a registered ml backend; empty means dense.
	Backend string

	// Seed for parameter initialization.
	Seed uint64
}

type Model struct {
	model.Base

	WordEmbedding *nn.Embedding
	Conv          *nn.Conv2D

	head Head
	opts Options
}

// Result carries the convolution output. The pipeline deliberately ends at
// the feature maps; pooling, activation and classification belong to an
// attached Head.
type Result struct {
	// FeatureMaps has shape (batch, FilterDim, windows, 1) where windows
	// is seq - WindowSize + 1.
	FeatureMaps ml.Tensor

	Mask ml.Tensor

	Logits ml.Tensor
}

// Head turns feature maps into (batch, numClasses) logits.
type Head interface {
	Forward(ctx ml.Context, r *Result) (ml.Tensor, error)
}

func New(table *embedding.Table, opts Options) (*Model, error) {
	if opts.WindowSize < 1 || opts.FilterDim < 1 {
		return nil, fmt.Errorf("textcnn: window %d and filters %d must be positive", opts.WindowSize, opts.FilterDim)
	}

	base, err := model.NewBase(opts.Backend)
	if err != nil {
		return nil, err
	}

	ctx := base.Backend().NewContext()
	defer ctx.Close()

	weight, err := table.Tensor(ctx)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cmp.Or(opts.Seed, 1)))

	return &Model{
		Base:          base,
		WordEmbedding: &nn.Embedding{Weight: weight},
		Conv:          nn.NewConv2D(ctx, rng, opts.FilterDim, 1, opts.WindowSize, table.Dim()),
		opts:          opts,
	}, nil
}

// SetHead attaches a classification head to the pipeline's extension point.
func (m *Model) SetHead(h Head) { m.head = h }

func (m *Model) Forward(ctx ml.Context, sequences [][]int32, lengths []int32) (*Result, error) {
	mask, err := nn.Mask(ctx, sequences, lengths)
	if err != nil {
		return nil, err
	}

	if mask.Dim(1) < m.opts.WindowSize {
		return nil, fmt.Errorf("textcnn: batch max length %d is shorter than the %d token window", mask.Dim(1), m.opts.WindowSize)
	}

	ids, err := model.Inputs(ctx, sequences, mask.Dim(1))
	if err != nil {
		return nil, err
	}

	embedded := m.WordEmbedding.Forward(ctx, ids)

	// (batch, seq, dim) -> (batch, 1, seq, dim) for a single input channel.
	batch, seq := embedded.Dim(0), embedded.Dim(1)
	embedded = embedded.Reshape(ctx, batch, 1, seq, embedded.Dim(2))

	r := Result{
		FeatureMaps: m.Conv.Forward(ctx, embedded, 1, 1, 0, 0),
		Mask:        mask,
	}

	if m.head != nil {
		if r.Logits, err = m.head.Forward(ctx, &r); err != nil {
			return nil, err
		}
	}

	return &r, nil
}
