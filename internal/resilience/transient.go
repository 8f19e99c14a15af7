package resilience

import (
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// IsTransient reports whether a capability error is worth retrying:
// rate limiting, 5xx responses and network failures. An open circuit is not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return isTransientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return isTransientStatus(reqErr.HTTPStatusCode)
	}

	return IsRetryableNetworkError(err)
}

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
