package retrieval

import (
	"errors"

	"github.com/kailas-cloud/recipedex/internal/domain"
)

// DegradeReason says why embeddings could not be used for a request.
type DegradeReason string

// Degrade reasons.
const (
	ReasonDisabled          DegradeReason = "embeddings_disabled"
	ReasonEmptyQuery        DegradeReason = "empty_query"
	ReasonUnavailable       DegradeReason = "provider_unavailable"
	ReasonTimeout           DegradeReason = "provider_timeout"
	ReasonMalformed         DegradeReason = "provider_malformed_response"
	ReasonDimensionMismatch DegradeReason = "dimension_mismatch"
)

// Outcome is the result of the embedding stage: either every vector needed
// for semantic scoring, or the reason they are unavailable.
type Outcome struct {
	queryVector []float32
	itemVectors map[string][]float32
	reason      DegradeReason
	err         error
}

// Resolved builds a successful outcome.
func Resolved(queryVector []float32, itemVectors map[string][]float32) Outcome {
	return Outcome{queryVector: queryVector, itemVectors: itemVectors}
}

// Unavailable builds a degraded outcome.
func Unavailable(reason DegradeReason, err error) Outcome {
	return Outcome{reason: reason, err: err}
}

// IsResolved reports whether semantic scoring can run.
func (o Outcome) IsResolved() bool { return o.reason == "" }

// Reason returns the degrade reason, empty when resolved.
func (o Outcome) Reason() DegradeReason { return o.reason }

// Err returns the provider error behind a degraded outcome, if any.
func (o Outcome) Err() error { return o.err }

// Vectors returns the query vector and the item vectors of a resolved outcome.
func (o Outcome) Vectors() ([]float32, map[string][]float32) {
	return o.queryVector, o.itemVectors
}

// reasonFor maps a provider-family error to a degrade reason.
func reasonFor(err error) DegradeReason {
	switch {
	case errors.Is(err, domain.ErrProviderTimeout):
		return ReasonTimeout
	case errors.Is(err, domain.ErrProviderMalformedResponse):
		return ReasonMalformed
	default:
		return ReasonUnavailable
	}
}
