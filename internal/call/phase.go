package call

// Phase is the lifecycle position of the current call attempt.
type Phase string

const (
	// PhaseIdle means no call attempt exists.
	PhaseIdle Phase = "idle"
	// PhaseCheckingAvailability means the caller sent an availability check
	// and is waiting for the relay's response.
	PhaseCheckingAvailability Phase = "checking-availability"
	// PhaseNegotiating means the caller sent an offer and is waiting for the
	// callee's decision.
	PhaseNegotiating Phase = "negotiating"
	// PhaseRinging means an incoming offer is waiting for the local user's
	// decision. No media is captured yet.
	PhaseRinging Phase = "ringing"
	// PhaseConnecting covers the span between a positive decision and the
	// call going live: media capture, answer production, track wiring.
	PhaseConnecting Phase = "connecting"
	// PhaseActive means both descriptions are installed and media flows.
	PhaseActive Phase = "active"
	// PhaseEnding means teardown is in progress.
	PhaseEnding Phase = "ending"
)

func (p Phase) String() string { return string(p) }

// prelive reports whether the phase is a pre-call phase where loss of the
// signaling channel is fatal and the single call timer is armed.
func (p Phase) prelive() bool {
	switch p {
	case PhaseCheckingAvailability, PhaseNegotiating, PhaseRinging, PhaseConnecting:
		return true
	}
	return false
}

// Role distinguishes who dialed.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// EndReason records why a call attempt ended.
type EndReason string

const (
	ReasonNone        EndReason = ""
	ReasonHangup      EndReason = "hangup"
	ReasonRejected    EndReason = "rejected"
	ReasonCancelled   EndReason = "cancelled"
	ReasonTimedOut    EndReason = "timed-out"
	ReasonUnavailable EndReason = "unavailable"
	ReasonFailed      EndReason = "failed"
)
