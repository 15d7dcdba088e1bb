package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the router's error taxonomy (§7). Every RouterError carries
// one of these instead of an ad hoc error string.
type ErrorKind string

const (
	ErrInvalidRequest        ErrorKind = "INVALID_REQUEST"
	ErrModelAuthentication   ErrorKind = "MODEL_AUTHENTICATION"
	ErrModelRateLimit        ErrorKind = "MODEL_RATE_LIMIT"
	ErrModelServerError      ErrorKind = "MODEL_SERVER_ERROR"
	ErrModelContentFiltered  ErrorKind = "MODEL_CONTENT_FILTERED"
	ErrModelQuotaExceeded    ErrorKind = "MODEL_QUOTA_EXCEEDED"
	ErrModelUnavailable      ErrorKind = "MODEL_UNAVAILABLE"
	ErrAllModelsFailed       ErrorKind = "ALL_MODELS_FAILED"
	ErrRequestProcessingFail ErrorKind = "REQUEST_PROCESSING_FAILED"
)

// Retryable reports whether an adapter should retry a call that failed
// with this kind, per §4.D / §8: retryable(E) iff kind(E) in
// {MODEL_RATE_LIMIT, MODEL_SERVER_ERROR}.
func (k ErrorKind) Retryable() bool {
	return k == ErrModelRateLimit || k == ErrModelServerError
}

// HTTPStatus maps a kind to the status code the HTTP transport returns
// (§6): INVALID_REQUEST is the sole 400; everything else is a 500.
func (k ErrorKind) HTTPStatus() int {
	if k == ErrInvalidRequest {
		return 400
	}
	return 500
}

// RouterError is the tagged-variant error type returned by every pipeline
// stage and adapter, replacing the exception-driven control flow of the
// source system (§9 Design Notes).
type RouterError struct {
	Kind      ErrorKind
	Provider  string
	ModelID   string
	RequestID string
	HTTPCode  int // provider HTTP status, 0 if not applicable
	Code      string
	Message   string
	cause     error
}

// NewRouterError constructs a RouterError. kind is required.
func NewRouterError(kind ErrorKind, message string, cause error) *RouterError {
	if kind == "" {
		panic("model: router error kind is required")
	}
	return &RouterError{Kind: kind, Message: message, cause: cause}
}

// WithProvider attaches provider/model context and returns the receiver
// for chaining.
func (e *RouterError) WithProvider(provider, modelID string) *RouterError {
	e.Provider = provider
	e.ModelID = modelID
	return e
}

// WithRequestID attaches the request id and returns the receiver.
func (e *RouterError) WithRequestID(id string) *RouterError {
	e.RequestID = id
	return e
}

// Retryable reports whether retrying the operation that produced this
// error may succeed without changing the request.
func (e *RouterError) Retryable() bool { return e.Kind.Retryable() }

func (e *RouterError) Error() string {
	msg := e.Message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if e.Provider == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s[%s/%s]: %s", e.Kind, e.Provider, e.ModelID, msg)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *RouterError) Unwrap() error { return e.cause }

// AsRouterError returns the first RouterError in err's chain, if any.
func AsRouterError(err error) (*RouterError, bool) {
	var re *RouterError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// AdapterErrorKind is the per-call classification an adapter assigns
// before translating it into a RouterError (§4.A error-classification
// table).
type AdapterErrorKind string

const (
	AdapterErrAuthentication   AdapterErrorKind = "AUTHENTICATION"
	AdapterErrRateLimit        AdapterErrorKind = "RATE_LIMIT"
	AdapterErrServerError      AdapterErrorKind = "SERVER_ERROR"
	AdapterErrContentFiltered  AdapterErrorKind = "CONTENT_FILTERED"
	AdapterErrQuotaExceeded    AdapterErrorKind = "QUOTA_EXCEEDED"
	AdapterErrUnknown          AdapterErrorKind = "UNKNOWN"
)

// RouterKind maps an adapter-level classification to the top-level error
// taxonomy used by the rest of the pipeline.
func (k AdapterErrorKind) RouterKind() ErrorKind {
	switch k {
	case AdapterErrAuthentication:
		return ErrModelAuthentication
	case AdapterErrRateLimit:
		return ErrModelRateLimit
	case AdapterErrServerError:
		return ErrModelServerError
	case AdapterErrContentFiltered:
		return ErrModelContentFiltered
	case AdapterErrQuotaExceeded:
		return ErrModelQuotaExceeded
	default:
		return ErrRequestProcessingFail
	}
}

// TripsCircuit reports whether a failure of this kind should trip the
// circuit breaker to open (§4.C): AUTHENTICATION, QUOTA_EXCEEDED, and
// CONTENT_FILTERED are treated as "this model is categorically bad right
// now," unlike transient RATE_LIMIT/SERVER_ERROR which the retrier
// already handles.
func (k AdapterErrorKind) TripsCircuit() bool {
	switch k {
	case AdapterErrAuthentication, AdapterErrQuotaExceeded, AdapterErrContentFiltered:
		return true
	default:
		return false
	}
}

// AdapterKindForRouterKind reverses RouterKind: given the top-level kind
// already attached to a RouterError returned by an adapter, recover the
// §4.A adapter-level classification the breaker needs to decide whether
// to trip (AdapterErrorKind.TripsCircuit). Kinds with no adapter-level
// counterpart (e.g. ErrInvalidRequest) map to UNKNOWN, which never trips
// the breaker.
func AdapterKindForRouterKind(k ErrorKind) AdapterErrorKind {
	switch k {
	case ErrModelAuthentication:
		return AdapterErrAuthentication
	case ErrModelRateLimit:
		return AdapterErrRateLimit
	case ErrModelServerError:
		return AdapterErrServerError
	case ErrModelContentFiltered:
		return AdapterErrContentFiltered
	case ErrModelQuotaExceeded:
		return AdapterErrQuotaExceeded
	default:
		return AdapterErrUnknown
	}
}

// ClassifyErrorBody applies the two §4.A condition-table rows
// ClassifyHTTPStatus cannot reach on its own: content-policy and
// quota-exhausted failures share an HTTP status with other kinds (OpenAI
// returns 429 for both "rate_limit_exceeded" and "insufficient_quota"),
// so the provider's own type/code string is the only distinguishing
// signal. candidates is every type/code-shaped string an adapter's SDK
// error exposes (e.g. go-openai's APIError.Type and .Code, Anthropic's
// Error.Type, a Bedrock smithy.APIError's ErrorCode()); the first match
// wins. Returns ok=false when nothing matches, so the caller falls back
// to ClassifyHTTPStatus.
func ClassifyErrorBody(candidates ...string) (kind AdapterErrorKind, ok bool) {
	for _, c := range candidates {
		switch c {
		case "insufficient_quota", "billing_error", "quota_exceeded", "ServiceQuotaExceededException":
			return AdapterErrQuotaExceeded, true
		case "content_filter", "content_policy_violation", "content_policy", "image_content_policy_violation":
			return AdapterErrContentFiltered, true
		}
	}
	return "", false
}

// ClassifyHTTPStatus applies the §4.A condition table to an HTTP status
// code, returning UNKNOWN for anything not explicitly covered.
func ClassifyHTTPStatus(status int) AdapterErrorKind {
	switch {
	case status == 401 || status == 403:
		return AdapterErrAuthentication
	case status == 429:
		return AdapterErrRateLimit
	case status >= 500 && status < 600:
		return AdapterErrServerError
	default:
		return AdapterErrUnknown
	}
}
