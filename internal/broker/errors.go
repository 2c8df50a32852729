package broker

import "errors"

// Error kinds from the connection handler's perspective. A handler never
// lets one of these escape past its own read loop; each is either answered
// with a CONNACK, or turned into an immediate close of that connection
// alone (internal/broker never closes a connection other than the one it
// owns, except for the explicit eviction path on a duplicate client id).
var (
	// ErrProtocolViolation covers malformed framing and out-of-sequence
	// packets (a non-CONNECT before CONNECT, a second CONNECT).
	ErrProtocolViolation = errors.New("broker: protocol violation")

	// ErrAnonymousNotAllowed and ErrBadCredentials are the two AuthError
	// causes, both answered with RefusedNotAuthorized.
	ErrAnonymousNotAllowed = errors.New("broker: anonymous connections not allowed")
	ErrBadCredentials      = errors.New("broker: unknown username or wrong password")

	// ErrServerUnavailable is the CapacityError cause (max_connections
	// reached), answered with RefusedServerUnavailable.
	ErrServerUnavailable = errors.New("broker: max_connections reached")

	// ErrUserNotFound is returned by the admin surface's RemoveUser when
	// the username does not exist in the directory.
	ErrUserNotFound = errors.New("broker: user not found")
)
