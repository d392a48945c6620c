package upstreamclient

import (
	"errors"
	"fmt"
)

// Sentinel errors implementing §7's error taxonomy as idiomatic tagged
// variants, checked with errors.Is/errors.As rather than exception classes.
var (
	// ErrUpstreamFailure is network, 5xx, or timeout from the upstream.
	ErrUpstreamFailure = errors.New("upstreamclient: upstream failure")

	// ErrNoCachedData means a fallback was requested but neither the fresh
	// nor the stale entry exists.
	ErrNoCachedData = errors.New("upstreamclient: no cached data available")

	// ErrSerializationError means a payload, from the upstream or from the
	// cache, could not be decoded. It is returned to the caller as is; the
	// cache entry holding the payload is not removed.
	ErrSerializationError = errors.New("upstreamclient: payload failed to deserialize")
)

// BadStatusError is UpstreamBadStatus: a well-formed 4xx response. It is not
// retried and, when the status is client-attributable (e.g. unknown
// placeId), it is not counted as a breaker failure.
type BadStatusError struct {
	StatusCode int
	URL        string
}

func (e *BadStatusError) Error() string {
	return fmt.Sprintf("upstreamclient: upstream returned status %d for %s", e.StatusCode, e.URL)
}

// ClientAttributable reports whether this status should not trip the
// breaker — a well-formed 4xx reflecting bad caller input, not upstream
// unhealthiness.
func (e *BadStatusError) ClientAttributable() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// BreakerIsFailure is the breaker.Config.IsFailure hook §7's UpstreamBadStatus
// asks for: a client-attributable 4xx does not count against the breaker,
// every other error does.
func BreakerIsFailure(err error) bool {
	if err == nil {
		return false
	}
	var badStatus *BadStatusError
	if errors.As(err, &badStatus) && badStatus.ClientAttributable() {
		return false
	}
	return true
}
