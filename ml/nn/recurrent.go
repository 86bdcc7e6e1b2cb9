package nn

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/textmodels/textmodels/ml"
)

// LSTM is a single direction LSTM cell. Gate weights are packed in the
// order input, forget, cell, output along the last axis.
type LSTM struct {
	InputWeight  ml.Tensor // (in, 4H)
	HiddenWeight ml.Tensor // (H, 4H)
	Bias         ml.Tensor // (4H)

	hidden int
}

func NewLSTM(ctx ml.Context, rng *rand.Rand, in, hidden int) *LSTM {
	bound := scaleBound(hidden)
	return &LSTM{
		InputWeight:  uniform(ctx, rng, bound, in, 4*hidden),
		HiddenWeight: uniform(ctx, rng, bound, hidden, 4*hidden),
		Bias:         uniform(ctx, rng, bound, 4*hidden),
		hidden:       hidden,
	}
}

// Step advances the cell one timestep. x is (batch, in), h and c are
// (batch, H); it returns the next hidden and cell states.
func (l *LSTM) Step(ctx ml.Context, x, h, c ml.Tensor) (ml.Tensor, ml.Tensor) {
	z := x.Mulmat(ctx, l.InputWeight).
		Add(ctx, h.Mulmat(ctx, l.HiddenWeight)).
		Add(ctx, l.Bias)

	i := z.Narrow(ctx, 1, 0, l.hidden).Sigmoid(ctx)
	f := z.Narrow(ctx, 1, l.hidden, l.hidden).Sigmoid(ctx)
	g := z.Narrow(ctx, 1, 2*l.hidden, l.hidden).Tanh(ctx)
	o := z.Narrow(ctx, 1, 3*l.hidden, l.hidden).Sigmoid(ctx)

	c = f.Mul(ctx, c).Add(ctx, i.Mul(ctx, g))
	h = o.Mul(ctx, c.Tanh(ctx))
	return h, c
}

type Seq2SeqConfig struct {
	InputSize  int
	HiddenSize int

	// NumLayers defaults to 1.
	NumLayers int

	// Dropout applies between stacked layers, training mode only.
	Dropout float32

	Bidirectional bool
}

// Seq2Seq encodes padded variable length sequences of vectors into
// contextual sequences of the same length. Padding positions never reach the
// recurrence: at each timestep the previous state is carried through where
// the step index is at or past the true length, and the emitted vector there
// is zero. This stands in for the sort/pack dance a batched RNN runtime
// would do.
type Seq2Seq struct {
	forward  []*LSTM
	backward []*LSTM // nil when unidirectional
	dropout  *Dropout

	config   Seq2SeqConfig
	training bool
}

func NewSeq2Seq(ctx ml.Context, rng *rand.Rand, config Seq2SeqConfig) (*Seq2Seq, error) {
	if config.InputSize < 1 || config.HiddenSize < 1 {
		return nil, fmt.Errorf("nn: seq2seq sizes must be positive, got input %d hidden %d", config.InputSize, config.HiddenSize)
	}
	if config.NumLayers == 0 {
		config.NumLayers = 1
	}
	if config.NumLayers < 0 {
		return nil, fmt.Errorf("nn: seq2seq layer count %d must be positive", config.NumLayers)
	}

	s := Seq2Seq{config: config}
	if config.Dropout > 0 {
		s.dropout = NewDropout(config.Dropout, rng)
	}

	in := config.InputSize
	for range config.NumLayers {
		s.forward = append(s.forward, NewLSTM(ctx, rng, in, config.HiddenSize))
		if config.Bidirectional {
			s.backward = append(s.backward, NewLSTM(ctx, rng, in, config.HiddenSize))
		}

		in = s.OutputSize()
	}

	return &s, nil
}

// OutputSize is the width of each output vector: the hidden size, doubled
// when bidirectional.
func (s *Seq2Seq) OutputSize() int {
	if s.config.Bidirectional {
		return 2 * s.config.HiddenSize
	}

	return s.config.HiddenSize
}

func (s *Seq2Seq) SetTraining(training bool) { s.training = training }

// Forward encodes x of shape (batch, seq, in) with per example true lengths
// into (batch, seq, OutputSize()).
func (s *Seq2Seq) Forward(ctx ml.Context, x ml.Tensor, lengths []int32) (ml.Tensor, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("nn: seq2seq input must be (batch, seq, features), got %v", shape)
	}
	if shape[0] != len(lengths) {
		return nil, fmt.Errorf("nn: batch of %d sequences but %d lengths", shape[0], len(lengths))
	}
	if shape[2] != s.config.InputSize {
		return nil, fmt.Errorf("nn: seq2seq expects input size %d, got %d", s.config.InputSize, shape[2])
	}

	for i, l := range lengths {
		if l <= 0 || int(l) > shape[1] {
			return nil, fmt.Errorf("%w: length %d for row %d of width %d", ErrInvalidLength, l, i, shape[1])
		}
	}

	steps, err := stepMasks(ctx, lengths, shape[1])
	if err != nil {
		return nil, err
	}

	for layer := range s.forward {
		if layer > 0 && s.dropout != nil {
			x = s.dropout.Forward(ctx, x, s.training)
		}

		out := s.run(ctx, s.forward[layer], x, steps, false)
		if s.config.Bidirectional {
			out = out.Concat(ctx, s.run(ctx, s.backward[layer], x, steps, true), 2)
		}

		x = out
	}

	return x, nil
}

// run unrolls one cell over the sequence axis. At each step the state
// updates only where the step mask is 1; elsewhere the previous state is
// carried and a zero vector is emitted.
func (s *Seq2Seq) run(ctx ml.Context, cell *LSTM, x ml.Tensor, steps []ml.Tensor, reverse bool) ml.Tensor {
	batch, seq := x.Dim(0), x.Dim(1)

	h := ctx.Zeros(ml.DTypeF32, batch, s.config.HiddenSize)
	c := ctx.Zeros(ml.DTypeF32, batch, s.config.HiddenSize)

	outputs := make([]ml.Tensor, seq)
	for i := 0; i < seq; i++ {
		t := i
		if reverse {
			t = seq - 1 - i
		}

		xt := x.Narrow(ctx, 1, t, 1).Reshape(ctx, batch, x.Dim(2))
		hNext, cNext := cell.Step(ctx, xt, h, c)

		m := steps[t]
		h = h.Add(ctx, hNext.Sub(ctx, h).Mul(ctx, m))
		c = c.Add(ctx, cNext.Sub(ctx, c).Mul(ctx, m))

		outputs[t] = hNext.Mul(ctx, m).Reshape(ctx, batch, 1, s.config.HiddenSize)
	}

	out := outputs[0]
	for _, o := range outputs[1:] {
		out = out.Concat(ctx, o, 1)
	}

	return out
}

// stepMasks builds one (batch, 1) indicator per timestep: 1 where the step
// index is within the example's true length.
func stepMasks(ctx ml.Context, lengths []int32, seq int) ([]ml.Tensor, error) {
	masks := make([]ml.Tensor, seq)
	for t := range masks {
		m := make([]float32, len(lengths))
		for i, l := range lengths {
			if t < int(l) {
				m[i] = 1
			}
		}

		var err error
		if masks[t], err = ctx.FromFloatSlice(m, len(lengths), 1); err != nil {
			return nil, err
		}
	}

	return masks, nil
}
