package call

import "errors"

var (
	// ErrCallInProgress is returned when a new call is requested while a
	// session exists. The request is refused locally; nothing is signaled.
	ErrCallInProgress = errors.New("call already in progress")

	// ErrEmptyTarget is returned for an initiate with no target user id.
	ErrEmptyTarget = errors.New("empty target user id")

	// ErrIdentityUnresolved is returned when the local identity is not yet
	// known, e.g. before login completes.
	ErrIdentityUnresolved = errors.New("local identity not resolved")

	// ErrNoActiveCall is returned for operations that need a session.
	ErrNoActiveCall = errors.New("no active call")

	// ErrNotRinging is returned for accept/reject outside an incoming call.
	ErrNotRinging = errors.New("no incoming call to answer")

	// ErrCallerOnly is returned when the callee attempts a caller-only
	// operation such as cancel.
	ErrCallerOnly = errors.New("operation is caller-only")

	// ErrNotActive is returned for toggles outside an active call.
	ErrNotActive = errors.New("call is not active")

	// ErrNoVideo is returned for video toggles on an audio-only call.
	ErrNoVideo = errors.New("call has no video track")

	// ErrNoRecorder is returned for recording toggles when no recorder is
	// configured.
	ErrNoRecorder = errors.New("no recorder configured")

	// ErrMachineClosed is returned once the machine has shut down.
	ErrMachineClosed = errors.New("call machine closed")
)
