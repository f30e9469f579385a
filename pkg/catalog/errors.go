package catalog

import "errors"

var (
	// ErrUnknownModel indicates the model is not present in the catalog
	ErrUnknownModel = errors.New("unknown model")

	// ErrNoAgentForModel indicates the model exists but is API-only, with
	// no CLI agent mapping
	ErrNoAgentForModel = errors.New("model has no agent mapping")
)
