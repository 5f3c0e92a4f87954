// Package domain defines the error taxonomy shared by the session
// coordination components. Components wrap these sentinels with context;
// the HTTP layer maps them to status codes.
package domain

import "errors"

var (
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrVoteClosed marks a cast against a vote that is no longer open.
	ErrVoteClosed = errors.New("vote is closed")

	// ErrInvalidOption marks a cast with an option the vote does not declare.
	ErrInvalidOption = errors.New("option not among vote options")

	// ErrInvalidProxyTarget marks a mandate given to a company that is not
	// currently present in the meeting.
	ErrInvalidProxyTarget = errors.New("invalid proxy target")

	// ErrNotFound marks a reference to a meeting, item, vote or participant
	// that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPersistence marks a gateway failure; the triggering mutation was not
	// applied and no broadcast happened.
	ErrPersistence = errors.New("persistence failure")
)

// Kind returns the wire-level kind string for a domain error, or "internal"
// when err does not wrap any known sentinel.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrVoteClosed):
		return "vote_closed"
	case errors.Is(err, ErrInvalidOption):
		return "invalid_option"
	case errors.Is(err, ErrInvalidProxyTarget):
		return "invalid_proxy_target"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	}
	return "internal"
}
