// Package classify turns per class logits produced by a model head into
// probabilities and predictions.
package classify

import (
	"cmp"
	"errors"
	"math"

	pq "github.com/emirpasic/gods/v2/queues/priorityqueue"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Transform reshapes a logit vector before prediction.
type Transform interface {
	Apply([]float64) ([]float64, error)
}

// Predictor picks a class from a logit vector.
type Predictor interface {
	Predict([]float32, ...Transform) (int, error)
}

func softmax(logits []float64) []float64 {
	tt := make([]float64, len(logits))
	maxLogit := floats.Max(logits)

	var sum float64
	for i, v := range logits {
		tt[i] = math.Exp(v - maxLogit)
		sum += tt[i]
	}

	floats.Scale(1/sum, tt)
	return tt
}

// Probabilities converts one example's logits to a probability vector.
func Probabilities(logits []float32) ([]float64, error) {
	if len(logits) == 0 {
		return nil, errors.New("classify: empty logit vector")
	}

	return softmax(toFloat64(logits)), nil
}

type Temperature float64

func (t Temperature) Apply(logits []float64) ([]float64, error) {
	if t <= 0 {
		return nil, errors.New("classify: temperature must be positive")
	}

	maxLogit := floats.Max(logits)
	for i := range logits {
		logits[i] = (logits[i] - maxLogit) / float64(t)
	}

	return logits, nil
}

type logitMap struct {
	index int
	logit float64
}

func logitMapComparator(a, b logitMap) int {
	return -cmp.Compare(a.logit, b.logit)
}

// TopK masks all but the k highest scoring classes.
type TopK int

func (k TopK) Apply(logits []float64) ([]float64, error) {
	if k <= 0 {
		return nil, errors.New("classify: k must be greater than 0")
	}
	if int(k) >= len(logits) {
		return logits, nil
	}

	q := pq.NewWith(logitMapComparator)
	for i, logit := range logits {
		q.Enqueue(logitMap{index: i, logit: logit})
	}

	keep := make(map[int]struct{}, k)
	for range k {
		lm, _ := q.Dequeue()
		keep[lm.index] = struct{}{}
	}

	for i := range logits {
		if _, ok := keep[i]; !ok {
			logits[i] = math.Inf(-1)
		}
	}

	return logits, nil
}

type greedy struct{}

// Greedy returns the predictor that picks the highest scoring class.
func Greedy() Predictor {
	return greedy{}
}

func (greedy) Predict(logits []float32, transforms ...Transform) (int, error) {
	tt, err := apply(toFloat64(logits), transforms)
	if err != nil {
		return -1, err
	}

	return floats.MaxIdx(tt), nil
}

type weighted struct {
	src rand.Source
}

// Weighted returns a predictor that samples classes in proportion to their
// probability. A nil seed gives an unseeded source.
func Weighted(seed *uint64) Predictor {
	var src rand.Source
	if seed != nil {
		src = rand.NewSource(*seed)
	}

	return weighted{src: src}
}

func (s weighted) Predict(logits []float32, transforms ...Transform) (int, error) {
	tt, err := apply(toFloat64(logits), transforms)
	if err != nil {
		return -1, err
	}

	probs := make([]float64, 0, len(tt))
	indices := make([]int, 0, len(tt))
	for i, v := range tt {
		if !math.IsInf(v, -1) {
			probs = append(probs, v)
			indices = append(indices, i)
		}
	}

	if len(probs) == 0 {
		return -1, errors.New("classify: no classes left after transforms")
	}

	w := sampleuv.NewWeighted(softmax(probs), s.src)
	if idx, ok := w.Take(); ok {
		return indices[idx], nil
	}

	return -1, errors.New("classify: weighted prediction failed")
}

func apply(logits []float64, transforms []Transform) ([]float64, error) {
	if len(logits) == 0 {
		return nil, errors.New("classify: empty logit vector")
	}

	var err error
	for _, t := range transforms {
		if logits, err = t.Apply(logits); err != nil {
			return nil, err
		}
	}

	return logits, nil
}

func toFloat64(logits []float32) []float64 {
	tt := make([]float64, len(logits))
	for i, v := range logits {
		tt[i] = float64(v)
	}

	return tt
}
