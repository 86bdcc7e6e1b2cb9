package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textmodels/textmodels/api"
	"github.com/textmodels/textmodels/embedding"
	"github.com/textmodels/textmodels/model/esim"
	"github.com/textmodels/textmodels/model/textcnn"
)

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	table, err := embedding.New([]float32{
		0, 0, 0,
		0.1, 0.2, 0.3,
		-0.4, 0.5, 0.6,
		0.7, -0.8, 0.9,
	}, 4, 3)
	require.NoError(t, err)

	nli, err := esim.New(table, esim.Options{HiddenSize: 2})
	require.NoError(t, err)

	sentiment, err := textcnn.New(table, textcnn.Options{WindowSize: 2, FilterDim: 2})
	require.NoError(t, err)

	return New(nli, sentiment).GenerateRoutes()
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, req)
	return w
}

func TestVersionHandler(t *testing.T) {
	h := setupServer(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp api.VersionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Version)
}

func TestEntailHandler(t *testing.T) {
	h := setupServer(t)

	w := post(t, h, "/api/entail", api.EntailRequest{
		Premises:          [][]int32{{1, 2, 3}},
		PremiseLengths:    []int32{3},
		Hypotheses:        [][]int32{{2, 1}},
		HypothesisLengths: []int32{2},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.EntailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Len(t, resp.PremiseWeights, 1)
	require.Len(t, resp.PremiseWeights[0], 3)
	require.Len(t, resp.PremiseWeights[0][0], 2)
	assert.Equal(t, [][]float32{{1, 1, 1}}, resp.PremiseMask)
	assert.Empty(t, resp.Probabilities)
}

func TestEntailHandlerRejectsBadLengths(t *testing.T) {
	h := setupServer(t)

	w := post(t, h, "/api/entail", api.EntailRequest{
		Premises:          [][]int32{{1, 2}},
		PremiseLengths:    []int32{0},
		Hypotheses:        [][]int32{{1}},
		HypothesisLengths: []int32{1},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestSentimentHandler(t *testing.T) {
	h := setupServer(t)

	w := post(t, h, "/api/sentiment", api.SentimentRequest{
		Sequences: [][]int32{{1, 2, 3, 1}},
		Lengths:   []int32{4},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.SentimentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Len(t, resp.FeatureMaps, 1)
	require.Len(t, resp.FeatureMaps[0], 2)
	require.Len(t, resp.FeatureMaps[0][0], 3)
}

func TestSentimentHandlerNotLoaded(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(nil, nil).GenerateRoutes()

	w := post(t, h, "/api/sentiment", api.SentimentRequest{})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
