package model

import (
	"github.com/textmodels/textmodels/ml"
	_ "github.com/textmodels/textmodels/ml/backend/dense"
)

// Model is implemented by every model architecture in this repository.
// Architectures are compile time types; callers construct them directly and
// use this interface only where the backend is all that matters.
type Model interface {
	Backend() ml.Backend
}

// Base implements the common fields and methods for all models.
type Base struct {
	b ml.Backend
}

// NewBase resolves the named backend, or the default dense backend when
// name is empty.
func NewBase(name string) (Base, error) {
	b, err := ml.NewBackend(name)
	if err != nil {
		return Base{}, err
	}

	return Base{b: b}, nil
}

// Backend returns the underlying backend that runs the model.
func (m Base) Backend() ml.Backend {
	return m.b
}
