package call

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/duocall/duocall/internal/signaling"
)

// Session is one call attempt, created when the local user dials or an
// incoming offer arrives and destroyed when the attempt reaches a terminal
// state. At most one Session exists at a time.
type Session struct {
	ID         string
	LocalID    string
	LocalName  string
	RemoteID   string
	RemoteName string
	Role       Role
	Phase      Phase
	CreatedAt  time.Time
	Reason     EndReason

	// pendingOffer holds the remote offer on the callee side until the user
	// decides. Media is not captured and no transport exists while ringing.
	pendingOffer *signaling.SDP

	// earlyCandidates buffers remote candidates that arrive before the
	// transport exists (while ringing). The transport itself buffers
	// candidates that arrive before the remote description.
	earlyCandidates []webrtc.ICECandidateInit
}

// accepts reports whether a message from fromID concerns this session.
// Events from any other party are stale or cross-talk and must be ignored.
func (s *Session) accepts(fromID string) bool {
	return s != nil && fromID == s.RemoteID
}
