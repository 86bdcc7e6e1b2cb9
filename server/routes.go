package server

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/textmodels/textmodels/api"
	"github.com/textmodels/textmodels/classify"
	"github.com/textmodels/textmodels/ml"
	"github.com/textmodels/textmodels/model/esim"
	"github.com/textmodels/textmodels/model/textcnn"
	"github.com/textmodels/textmodels/version"
)

// Server exposes the two model pipelines over HTTP. Either model may be nil,
// in which case its route reports that the model is not loaded.
type Server struct {
	nli       *esim.Model
	sentiment *textcnn.Model
}

func New(nli *esim.Model, sentiment *textcnn.Model) *Server {
	return &Server{nli: nli, sentiment: sentiment}
}

func (s *Server) GenerateRoutes() http.Handler {
	r := gin.Default()

	r.GET("/api/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version})
	})

	r.POST("/api/entail", s.entailHandler)
	r.POST("/api/sentiment", s.sentimentHandler)

	return r
}

func (s *Server) Serve(ln net.Listener) error {
	slog.Info("listening", "addr", ln.Addr())

	srv := &http.Server{Handler: s.GenerateRoutes()}
	return srv.Serve(ln)
}

func (s *Server) entailHandler(c *gin.Context) {
	if s.nli == nil {
		c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "entailment model is not loaded"})
		return
	}

	var req api.EntailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	ctx := s.nli.Backend().NewContext()
	defer ctx.Close()

	// Every error out of Forward is an input problem: bad lengths, ragged
	// batches, sequences shorter than their declared length.
	result, err := s.nli.Forward(ctx, req.Premises, req.PremiseLengths, req.Hypotheses, req.HypothesisLengths)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	resp := api.EntailResponse{
		PremiseWeights:    nest3(result.Alignment.PremiseWeights),
		HypothesisWeights: nest3(result.Alignment.HypothesisWeights),
		PremiseMask:       nest2(result.PremiseMask),
		HypothesisMask:    nest2(result.HypothesisMask),
	}

	if result.Logits != nil {
		if resp.Probabilities, err = probabilities(result.Logits); err != nil {
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) sentimentHandler(c *gin.Context) {
	if s.sentiment == nil {
		c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "sentiment model is not loaded"})
		return
	}

	var req api.SentimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	ctx := s.sentiment.Backend().NewContext()
	defer ctx.Close()

	result, err := s.sentiment.Forward(ctx, req.Sequences, req.Lengths)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		return
	}

	maps := result.FeatureMaps
	// Drop the trailing singleton width axis left by the full width kernel.
	maps = maps.Reshape(ctx, maps.Dim(0), maps.Dim(1), maps.Dim(2))

	resp := api.SentimentResponse{FeatureMaps: nest3(maps)}
	if result.Logits != nil {
		if resp.Probabilities, err = probabilities(result.Logits); err != nil {
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, resp)
}

func probabilities(logits ml.Tensor) ([][]float64, error) {
	batch, classes := logits.Dim(0), logits.Dim(1)
	data := logits.Floats()

	out := make([][]float64, batch)
	for i := range out {
		p, err := classify.Probabilities(data[i*classes : (i+1)*classes])
		if err != nil {
			return nil, err
		}

		out[i] = p
	}

	return out, nil
}

func nest2(t ml.Tensor) [][]float32 {
	rows, cols := t.Dim(0), t.Dim(1)
	data := t.Floats()

	out := make([][]float32, rows)
	for i := range out {
		out[i] = data[i*cols : (i+1)*cols]
	}

	return out
}

func nest3(t ml.Tensor) [][][]float32 {
	batch, rows, cols := t.Dim(0), t.Dim(1), t.Dim(2)
	data := t.Floats()

	out := make([][][]float32, batch)
	for i := range out {
		out[i] = make([][]float32, rows)
		for j := range out[i] {
			base := (i*rows + j) * cols
			out[i][j] = data[base : base+cols]
		}
	}

	return out
}
