// Package api defines the JSON types served by the HTTP layer. Inputs are
// already tokenized: sequences are zero padded vocabulary indices with
// parallel true lengths, since tokenization is out of scope for this core.
package api

type EntailRequest struct {
	Premises          [][]int32 `json:"premises"`
	PremiseLengths    []int32   `json:"premise_lengths"`
	Hypotheses        [][]int32 `json:"hypotheses"`
	HypothesisLengths []int32   `json:"hypothesis_lengths"`
}

type EntailResponse struct {
	// PremiseWeights[i] is the (premiseLen, hypothesisLen) attention
	// matrix for example i; rows over unmasked positions sum to one.
	PremiseWeights    [][][]float32 `json:"premise_weights"`
	HypothesisWeights [][][]float32 `json:"hypothesis_weights"`

	PremiseMask    [][]float32 `json:"premise_mask"`
	HypothesisMask [][]float32 `json:"hypothesis_mask"`

	// Probabilities is present only when the model has a classification
	// head attached.
	Probabilities [][]float64 `json:"probabilities,omitempty"`
}

type SentimentRequest struct {
	Sequences [][]int32 `json:"sequences"`
	Lengths   []int32   `json:"lengths"`
}

type SentimentResponse struct {
	// FeatureMaps[i][f] holds filter f's activations over the valid
	// windows of example i.
	FeatureMaps [][][]float32 `json:"feature_maps"`

	Probabilities [][]float64 `json:"probabilities,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type VersionResponse struct {
	Version string `json:"version"`
}
