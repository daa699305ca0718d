package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/usecase/retrieval"
	"github.com/kailas-cloud/recipedex/internal/usecase/scoring"
)

type errorCode string

const (
	codeBadRequest          errorCode = "bad_request"
	codeUnauthorized        errorCode = "unauthorized"
	codeInvalidConstraint   errorCode = "invalid_constraint"
	codeNotFound            errorCode = "not_found"
	codeEmbeddingsDisabled  errorCode = "embeddings_disabled"
	codeProviderUnavailable errorCode = "embedding_provider_unavailable"
	codeProviderTimeout     errorCode = "embedding_provider_timeout"
	codeProviderMalformed   errorCode = "embedding_provider_malformed_response"
	codeCacheIO             errorCode = "cache_io"
	codeInternal            errorCode = "internal_error"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

var errorHandlers = []errorHandler{
	validationHandler,
	sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
	sentinelHandler(retrieval.ErrEmbeddingsDisabled, http.StatusConflict, codeEmbeddingsDisabled),
	sentinelHandler(domain.ErrProviderTimeout, http.StatusGatewayTimeout, codeProviderTimeout),
	sentinelHandler(domain.ErrProviderMalformedResponse, http.StatusBadGateway, codeProviderMalformed),
	sentinelHandler(domain.ErrProviderUnavailable, http.StatusBadGateway, codeProviderUnavailable),
	sentinelHandler(domain.ErrCacheIO, http.StatusServiceUnavailable, codeCacheIO),
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNotFound,
		retrieval.ErrEmbeddingsDisabled,
		domain.ErrProviderTimeout,
		domain.ErrProviderMalformedResponse,
		domain.ErrProviderUnavailable,
		domain.ErrCacheIO,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// validationHandler reports invalid requests with the full message: it names
// the offending field and carries no internals.
func validationHandler(w http.ResponseWriter, err error, _ string) bool {
	if !errors.Is(err, domain.ErrInvalidConstraint) && !errors.Is(err, scoring.ErrInvalidWeights) {
		return false
	}
	writeError(w, http.StatusBadRequest, codeInvalidConstraint, err.Error())
	return true
}
