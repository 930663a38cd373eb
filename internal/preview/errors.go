package preview

import "errors"

var (
	// ErrGestureInProgress is returned when a gesture starts while another is active.
	ErrGestureInProgress = errors.New("preview: gesture in progress")
	// ErrNoGesture is returned by Move and Release without an active gesture.
	ErrNoGesture = errors.New("preview: no active gesture")
	// ErrCommitInFlight is returned when a gesture targets a reservation whose
	// previous change has not been confirmed by the server yet.
	ErrCommitInFlight = errors.New("preview: commit in flight")
	// ErrUnknownReservation is returned for reservations missing from the local
	// cache or already cancelled.
	ErrUnknownReservation = errors.New("preview: unknown reservation")
	// ErrLocalConflict is returned when the final candidate overlaps a cached
	// reservation. Nothing is sent to the server.
	ErrLocalConflict = errors.New("preview: candidate overlaps a cached reservation")
	// ErrInvalidGesture is returned for gesture kinds that cannot start the
	// requested way, such as KindCreate passed to Begin.
	ErrInvalidGesture = errors.New("preview: invalid gesture")
	// ErrInvalidConfig is returned by NewEngine for unusable settings.
	ErrInvalidConfig = errors.New("preview: invalid config")
)
