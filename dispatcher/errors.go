package dispatcher

import "net/http"

// Kind tags why a dispatch failed, independent of Go's error type system,
// so the dispatcher can map failures to HTTP status and cooldown
// decisions from one place.
type Kind string

const (
	KindParse               Kind = "parse_error"
	KindModelNotFound       Kind = "model_not_found"
	KindNoHealthyTarget     Kind = "no_healthy_target"
	KindAllAccountsExhausted Kind = "all_accounts_exhausted"
	KindUpstreamAuth        Kind = "upstream_auth"
	KindUpstreamRateLimited Kind = "upstream_rate_limited"
	KindUpstreamServerError Kind = "upstream_server_error"
	KindUpstreamClientError Kind = "upstream_client_error"
	KindClientDisconnect    Kind = "client_disconnect"
	KindInternal            Kind = "internal"
)

// statusFor maps each Kind to the HTTP status the outer layer should
// return to the client.
func statusFor(k Kind) int {
	switch k {
	case KindParse:
		return http.StatusBadRequest
	case KindModelNotFound:
		return http.StatusNotFound
	case KindNoHealthyTarget, KindAllAccountsExhausted:
		return http.StatusServiceUnavailable
	case KindUpstreamAuth, KindUpstreamRateLimited, KindUpstreamServerError:
		return http.StatusBadGateway
	case KindClientDisconnect:
		return 499
	case KindUpstreamClientError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the dispatcher's uniform failure shape. Field is set only for
// KindParse, carrying the offending field name for the 400 body.
type Error struct {
	Kind       Kind
	StatusCode int
	Field      string
	Message    string
	// Upstream carries the raw upstream body for KindUpstreamClientError,
	// which the spec requires be passed through unchanged.
	Upstream []byte
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

func newError(k Kind, message string) *Error {
	return &Error{Kind: k, StatusCode: statusFor(k), Message: message}
}
