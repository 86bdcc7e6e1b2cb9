// Package esim implements the ESIM natural language inference pipeline:
// embed, encode, soft align, enhance, project and compose two token
// sequences for an entailment decision.
package esim

import (
	"cmp"

	"golang.org/x/exp/rand"

	"github.com/textmodels/textmodels/embedding"
	"github.com/textmodels/textmodels/ml"
	"github.com/textmodels/textmodels/ml/nn"
	"github.com/textmodels/textmodels/model"
)

type Options struct {
	HiddenSize int
	Dropout    float32

	// Backend selects a registered ml backend; empty means dense.
	Backend string

	// Seed for parameter initialization.
	Seed uint64
}

type Model struct {
	model.Base

	WordEmbedding *nn.Embedding
	Encoding      *nn.Seq2Seq
	Attention     nn.SoftmaxAttention
	Projection    *nn.Linear
	Composition   *nn.Seq2Seq

	head Head
	opts Options
}

// Result carries everything the pipeline produces. The pipeline
// deliberately ends at composition; Logits is populated only when a Head is
// attached.
type Result struct {
	// ComposedPremises and ComposedHypotheses are the final contextual
	// representations, shape (batch, seq, 2*HiddenSize).
	ComposedPremises   ml.Tensor
	ComposedHypotheses ml.Tensor

	PremiseMask    ml.Tensor
	HypothesisMask ml.Tensor

	Alignment nn.Alignment

	Logits ml.Tensor
}

// Head turns a Result into (batch, numClasses) logits. The pipeline stops
// at composition without defining pooling or a classifier, so the choice of
// head is left to the caller.
type Head interface {
	Forward(ctx ml.Context, r *Result) (ml.Tensor, error)
}

func New(table *embedding.Table, opts Options) (*Model, error) {
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

	encoding, err := nn.NewSeq2Seq(ctx, rng, nn.Seq2SeqConfig{
		InputSize:     table.Dim(),
		HiddenSize:    opts.HiddenSize,
		Dropout:       opts.Dropout,
		Bidirectional: true,
	})
	if err != nil {
		return nil, err
	}

	composition, err := nn.NewSeq2Seq(ctx, rng, nn.Seq2SeqConfig{
		InputSize:     opts.HiddenSize,
		HiddenSize:    opts.HiddenSize,
		Dropout:       opts.Dropout,
		Bidirectional: true,
	})
	if err != nil {
		return nil, err
	}

	return &Model{
		Base:          base,
		WordEmbedding: &nn.Embedding{Weight: weight},
		Encoding:      encoding,
		// Enhancement concatenates four 2*HiddenSize vectors.
		Projection:  nn.NewLinear(ctx, rng, 8*opts.HiddenSize, opts.HiddenSize),
		Composition: composition,
		opts:        opts,
	}, nil
}

// SetHead attaches a classification head to the pipeline's extension point.
func (m *Model) SetHead(h Head) { m.head = h }

func (m *Model) Forward(ctx ml.Context, premises [][]int32, premiseLengths []int32, hypotheses [][]int32, hypothesisLengths []int32) (*Result, error) {
	premiseMask, err := nn.Mask(ctx, premises, premiseLengths)
	if err != nil {
		return nil, err
	}

	hypothesisMask, err := nn.Mask(ctx, hypotheses, hypothesisLengths)
	if err != nil {
		return nil, err
	}

	encodedPremises, err := m.encode(ctx, premises, premiseLengths, premiseMask)
	if err != nil {
		return nil, err
	}

	encodedHypotheses, err := m.encode(ctx, hypotheses, hypothesisLengths, hypothesisMask)
	if err != nil {
		return nil, err
	}

	alignment := m.Attention.Forward(ctx, encodedPremises, premiseMask, encodedHypotheses, hypothesisMask)

	composedPremises, err := m.compose(ctx, encodedPremises, alignment.AttendedPremises, premiseLengths)
	if err != nil {
		return nil, err
	}

	composedHypotheses, err := m.compose(ctx, encodedHypotheses, alignment.AttendedHypotheses, hypothesisLengths)
	if err != nil {
		return nil, err
	}

	r := Result{
		ComposedPremises:   composedPremises,
		ComposedHypotheses: composedHypotheses,
		PremiseMask:        premiseMask,
		HypothesisMask:     hypothesisMask,
		Alignment:          alignment,
	}

	if m.head != nil {
		if r.Logits, err = m.head.Forward(ctx, &r); err != nil {
			return nil, err
		}
	}

	return &r, nil
}

// encode embeds a token batch, narrowed to the mask's width, and runs the
// encoding recurrence.
func (m *Model) encode(ctx ml.Context, sequences [][]int32, lengths []int32, mask ml.Tensor) (ml.Tensor, error) {
	ids, err := model.Inputs(ctx, sequences, mask.Dim(1))
	if err != nil {
		return nil, err
	}

	return m.Encoding.Forward(ctx, m.WordEmbedding.Forward(ctx, ids), lengths)
}

// compose enhances the encoded sequence with its attended counterpart,
// projects back down to the hidden size and re-encodes.
func (m *Model) compose(ctx ml.Context, encoded, attended ml.Tensor, lengths []int32) (ml.Tensor, error) {
	enhanced := encoded.
		Concat(ctx, attended, 2).
		Concat(ctx, encoded.Sub(ctx, attended), 2).
		Concat(ctx, encoded.Mul(ctx, attended), 2)

	projected := m.Projection.Forward(ctx, enhanced).ReLU(ctx)
	return m.Composition.Forward(ctx, projected, lengths)
}
