package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/duocall/duocall/internal/media"
	"github.com/duocall/duocall/internal/metrics"
	"github.com/duocall/duocall/internal/peer"
	"github.com/duocall/duocall/internal/signaling"
)

const (
	// DefaultCallTimeout bounds how long an unanswered attempt may ring.
	DefaultCallTimeout = 30 * time.Second

	// DefaultDisconnectGrace bounds how long a pre-call attempt survives a
	// signaling outage before it is failed locally.
	DefaultDisconnectGrace = 10 * time.Second
)

// Options wires the machine's collaborators. Signaler, Capture, Peers,
// Identity, Notifier and Router are required; the rest default.
type Options struct {
	Signaler Signaler
	Capture  Capture
	Peers    PeerFactory
	Identity Identity
	Notifier Notifier
	Router   Router
	Recorder Recorder

	Metrics *metrics.Metrics
	Clock   Clock
	Logger  *slog.Logger

	CallTimeout     time.Duration
	DisconnectGrace time.Duration
}

// Status is the UI-facing snapshot of the call.
type Status struct {
	Phase      Phase
	Role       Role
	RemoteID   string
	RemoteName string

	InProgress    bool
	Muted         bool
	VideoOff      bool
	ScreenSharing bool
	Recording     bool
	AudioOnly     bool
	RemoteTracks  int
}

type op int

const (
	opInitiate op = iota
	opAccept
	opReject
	opCancel
	opEnd
	opToggleMute
	opToggleVideo
	opToggleScreen
	opToggleRecording
)

type command struct {
	op     op
	target string
	reply  chan error
}

type eventKind int

const (
	evRemoteTrack eventKind = iota
	evConnFailed
	evScreenEnded
)

// event carries peer transport callbacks onto the loop, tagged with the
// session they belong to so late deliveries from a closed transport are
// dropped.
type event struct {
	kind      eventKind
	sessionID string
}

// Machine turns unordered signaling traffic and user intents into one
// coherent call lifecycle. A single goroutine owns all call state; the
// exported methods post commands to it and wait for the outcome.
type Machine struct {
	opts  Options
	log   *slog.Logger
	clock Clock
	stats *metrics.Metrics

	cmds     chan *command
	events   chan event
	done     chan struct{}
	loopDone chan struct{}
	closeOne sync.Once

	// Loop-owned. Never touched outside run().
	session       *Session
	bundle        *media.Bundle
	transport     Peer
	remote        *media.RemoteStream
	cameraTrack   webrtc.TrackLocal
	screenRelease func()
	callTimer     Timer
	graceTimer    Timer
	sigConnected  bool

	statusMu sync.Mutex
	status   Status
	updates  chan Status
}

func NewMachine(opts Options) (*Machine, error) {
	switch {
	case opts.Signaler == nil:
		return nil, fmt.Errorf("call: nil Signaler")
	case opts.Capture == nil:
		return nil, fmt.Errorf("call: nil Capture")
	case opts.Peers == nil:
		return nil, fmt.Errorf("call: nil PeerFactory")
	case opts.Identity == nil:
		return nil, fmt.Errorf("call: nil Identity")
	case opts.Notifier == nil:
		return nil, fmt.Errorf("call: nil Notifier")
	case opts.Router == nil:
		return nil, fmt.Errorf("call: nil Router")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = DefaultDisconnectGrace
	}

	return &Machine{
		opts:     opts,
		log:      opts.Logger,
		clock:    opts.Clock,
		stats:    opts.Metrics,
		cmds:     make(chan *command),
		events:   make(chan event, 16),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
		updates:  make(chan Status, 16),
		status:   Status{Phase: PhaseIdle},
	}, nil
}

// Start launches the event loop.
func (m *Machine) Start() {
	go m.run()
}

// Close ends any live call, stops the loop and waits for it to drain.
func (m *Machine) Close() {
	m.closeOne.Do(func() { close(m.done) })
	<-m.loopDone
}

// Status returns the latest published snapshot.
func (m *Machine) Status() Status {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.status
}

// Updates delivers status snapshots as transitions happen. The channel keeps
// the most recent snapshots; slow consumers lose old ones, never new ones.
func (m *Machine) Updates() <-chan Status { return m.updates }

// InitiateCall dials target. Refused locally, with no signaling traffic, if a
// session already exists.
func (m *Machine) InitiateCall(target string) error { return m.do(opInitiate, target) }

// AcceptCall answers the ringing incoming call. Media is captured now, not at
// ring time; a capture failure auto-rejects toward the caller.
func (m *Machine) AcceptCall() error { return m.do(opAccept, "") }

// RejectCall declines the ringing incoming call.
func (m *Machine) RejectCall() error { return m.do(opReject, "") }

// CancelCall withdraws an outgoing attempt before it goes live. Caller-only.
func (m *Machine) CancelCall() error { return m.do(opCancel, "") }

// EndCall hangs up from any non-idle state. Idempotent; the second call is a
// no-op and emits nothing.
func (m *Machine) EndCall() error { return m.do(opEnd, "") }

func (m *Machine) ToggleMute() error { return m.do(opToggleMute, "") }

func (m *Machine) ToggleVideo() error { return m.do(opToggleVideo, "") }

func (m *Machine) ToggleScreenShare() error { return m.do(opToggleScreen, "") }

func (m *Machine) ToggleRecording() error { return m.do(opToggleRecording, "") }

func (m *Machine) do(o op, target string) error {
	cmd := &command{op: o, target: target, reply: make(chan error, 1)}
	select {
	case m.cmds <- cmd:
	case <-m.done:
		return ErrMachineClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-m.loopDone:
		return ErrMachineClosed
	}
}

func (m *Machine) run() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.done:
			m.shutdown()
			return

		case cmd := <-m.cmds:
			cmd.reply <- m.handleCommand(cmd)

		case msg, ok := <-m.opts.Signaler.Messages():
			if !ok {
				m.shutdown()
				return
			}
			m.handleMessage(msg)

		case st := <-m.opts.Signaler.Statuses():
			m.handleSignalingStatus(st)

		case ev := <-m.events:
			m.handleEvent(ev)

		case <-timerC(m.callTimer):
			m.callTimer = nil
			m.handleCallTimeout()

		case <-timerC(m.graceTimer):
			m.graceTimer = nil
			m.handleGraceExpired()
		}
	}
}

func (m *Machine) shutdown() {
	if s := m.session; s != nil {
		if s.Phase == PhaseActive {
			m.signalEnd(s)
		}
		m.teardown(ReasonHangup)
	}
}

func (m *Machine) handleCommand(cmd *command) error {
	switch cmd.op {
	case opInitiate:
		return m.doInitiate(cmd.target)
	case opAccept:
		return m.doAccept()
	case opReject:
		return m.doReject()
	case opCancel:
		return m.doCancel()
	case opEnd:
		return m.doEnd()
	case opToggleMute:
		return m.doToggleMute()
	case opToggleVideo:
		return m.doToggleVideo()
	case opToggleScreen:
		return m.doToggleScreen()
	case opToggleRecording:
		return m.doToggleRecording()
	}
	return fmt.Errorf("unknown command %d", cmd.op)
}

func (m *Machine) doInitiate(target string) error {
	if m.session != nil {
		return ErrCallInProgress
	}
	if target == "" {
		return ErrEmptyTarget
	}
	id, ok := m.opts.Identity.Current()
	if !ok {
		return ErrIdentityUnresolved
	}

	err := m.opts.Signaler.Send(signaling.Message{
		Kind:         signaling.KindCheckAvailability,
		TargetUserID: target,
		FromUserID:   id.UserID,
	})
	if err != nil {
		return fmt.Errorf("availability check: %w", err)
	}

	m.session = &Session{
		ID:        uuid.NewString(),
		LocalID:   id.UserID,
		LocalName: id.UserName,
		RemoteID:  target,
		Role:      RoleCaller,
		Phase:     PhaseCheckingAvailability,
		CreatedAt: m.clock.Now(),
	}
	m.armCallTimer()
	m.stats.Inc(metrics.EventCallsInitiated)
	m.log.Info("call initiated", "call_id", m.session.ID, "target", target)
	m.publish()
	return nil
}

// startOffer runs once the relay confirms the target is available: capture
// media, build the transport, send the offer.
func (m *Machine) startOffer() {
	s := m.session

	bundle, err := m.opts.Capture.Acquire(context.Background())
	if err != nil {
		me := media.Classify(err)
		m.opts.Notifier.Error(me.UserMessage())
		m.teardown(ReasonFailed)
		return
	}
	m.bundle = bundle
	m.rememberCameraTrack(bundle)
	if bundle.AudioOnly() {
		m.stats.Inc(metrics.EventMediaFallbacks)
	}

	transport, err := m.newTransport(s)
	if err != nil {
		m.opts.Notifier.Error("could not start call")
		m.log.Error("create transport", "call_id", s.ID, "err", err)
		m.teardown(ReasonFailed)
		return
	}
	m.transport = transport

	if err := transport.AddLocalTracks(bundle.Tracks()); err != nil {
		m.opts.Notifier.Error("could not start call")
		m.log.Error("add local tracks", "call_id", s.ID, "err", err)
		m.teardown(ReasonFailed)
		return
	}

	offer, err := transport.CreateOffer()
	if err != nil {
		m.opts.Notifier.Error("could not start call")
		m.log.Error("create offer", "call_id", s.ID, "err", err)
		m.teardown(ReasonFailed)
		return
	}

	sdp := signaling.SDPFromPion(offer)
	err = m.opts.Signaler.Send(signaling.Message{
		Kind:         signaling.KindInitiateCall,
		TargetUserID: s.RemoteID,
		CallerID:     s.LocalID,
		CallerName:   s.LocalName,
		Offer:        &sdp,
	})
	if err != nil {
		m.opts.Notifier.Error("could not start call")
		m.log.Error("send offer", "call_id", s.ID, "err", err)
		m.teardown(ReasonFailed)
		return
	}

	s.Phase = PhaseNegotiating
	m.log.Info("offer sent", "call_id", s.ID, "remote", s.RemoteID)
	m.publish()
}

func (m *Machine) doAccept() error {
	s := m.session
	if s == nil || s.Phase != PhaseRinging {
		return ErrNotRinging
	}
	s.Phase = PhaseConnecting
	m.publish()

	bundle, err := m.opts.Capture.Acquire(context.Background())
	if err != nil {
		me := media.Classify(err)
		m.sendReject(s, acceptRejectReason(me))
		m.opts.Notifier.Error(me.UserMessage())
		m.teardown(ReasonFailed)
		return me
	}
	m.bundle = bundle
	m.rememberCameraTrack(bundle)
	if bundle.AudioOnly() {
		m.stats.Inc(metrics.EventMediaFallbacks)
	}

	transport, err := m.newTransport(s)
	if err != nil {
		m.sendReject(s, "call setup failed")
		m.log.Error("create transport", "call_id", s.ID, "err", err)
		m.teardown(ReasonFailed)
		return err
	}
	m.transport = transport

	if err := transport.AddLocalTracks(bundle.Tracks()); err != nil {
		m.sendReject(s, "call setup failed")
		m.log.Error("add local tracks", "call_id", s.ID, "err", err)
		m.teardown(ReasonFailed)
		return err
	}

	offer, err := s.pendingOffer.ToPion()
	if err != nil {
		m.sendReject(s, "call setup failed")
		m.log.Error("decode offer", "call_id", s.ID, "err", err)
		m.teardown(ReasonFailed)
		return err
	}

	answer, err := transport.CreateAnswer(offer)
	if err != nil {
		m.sendReject(s, "call setup failed")
		m.log.Error("create answer", "call_id", s.ID, "err", err)
		m.teardown(ReasonFailed)
		return err
	}

	for _, c := range s.earlyCandidates {
		if err := transport.AddRemoteCandidate(c); err != nil {
			m.log.Warn("apply early candidate", "call_id", s.ID, "err", err)
		}
	}
	s.earlyCandidates = nil
	s.pendingOffer = nil

	sdp := signaling.SDPFromPion(answer)
	err = m.opts.Signaler.Send(signaling.Message{
		Kind:         signaling.KindCallAccepted,
		TargetUserID: s.RemoteID,
		FromUserID:   s.LocalID,
		Answer:       &sdp,
	})
	if err != nil {
		m.log.Error("send answer", "call_id", s.ID, "err", err)
		m.teardown(ReasonFailed)
		return err
	}

	m.stopCallTimer()
	s.Phase = PhaseActive
	m.stats.Inc(metrics.EventCallsAccepted)
	m.opts.Router.ToCall(s.RemoteID)
	m.log.Info("call accepted", "call_id", s.ID, "remote", s.RemoteID)
	m.publish()
	return nil
}

func (m *Machine) doReject() error {
	s := m.session
	if s == nil || s.Phase != PhaseRinging {
		return ErrNotRinging
	}
	m.sendReject(s, "")
	m.teardown(ReasonRejected)
	return nil
}

func (m *Machine) doCancel() error {
	s := m.session
	if s == nil {
		return ErrNoActiveCall
	}
	if s.Role != RoleCaller {
		return ErrCallerOnly
	}
	if s.Phase == PhaseActive {
		return ErrNotActive
	}

	_ = m.opts.Signaler.Send(signaling.Message{
		Kind:         signaling.KindCancelCall,
		TargetUserID: s.RemoteID,
		FromUserID:   s.LocalID,
	})
	m.teardown(ReasonCancelled)
	return nil
}

func (m *Machine) doEnd() error {
	s := m.session
	if s == nil {
		return nil
	}
	m.signalEnd(s)
	m.teardown(ReasonHangup)
	return nil
}

func (m *Machine) doToggleMute() error {
	if err := m.requireActive(); err != nil {
		return err
	}
	muted := !m.bundle.Muted()
	if err := m.transport.SetAudioEnabled(!muted); err != nil {
		return fmt.Errorf("toggle mute: %w", err)
	}
	m.bundle.SetMuted(muted)
	m.publish()
	return nil
}

func (m *Machine) doToggleVideo() error {
	if err := m.requireActive(); err != nil {
		return err
	}
	if m.bundle.AudioOnly() {
		return ErrNoVideo
	}
	off := !m.bundle.VideoOff()
	if err := m.transport.SetVideoEnabled(!off); err != nil {
		return fmt.Errorf("toggle video: %w", err)
	}
	m.bundle.SetVideoOff(off)
	m.publish()
	return nil
}

// doToggleScreen swaps the outgoing video track between screen capture and
// the original camera track. The transport keeps its negotiated parameters;
// the remote side is not signaled.
func (m *Machine) doToggleScreen() error {
	if err := m.requireActive(); err != nil {
		return err
	}

	if !m.bundle.ScreenSharing() {
		sessionID := m.session.ID
		onEnded := func() {
			m.postEvent(event{kind: evScreenEnded, sessionID: sessionID})
		}
		track, release, err := m.opts.Capture.ScreenTrack(context.Background(), onEnded)
		if err != nil {
			me := media.Classify(err)
			m.opts.Notifier.Error(me.UserMessage())
			return me
		}
		if err := m.transport.ReplaceVideoTrack(track); err != nil {
			release()
			return fmt.Errorf("start screen share: %w", err)
		}
		m.screenRelease = release
		m.bundle.SetScreenSharing(true)
		m.publish()
		return nil
	}

	if err := m.stopScreenShare(); err != nil {
		return err
	}
	m.publish()
	return nil
}

// stopScreenShare releases the display capture and restores the camera on
// the video sender. The camera track is always known here: a share can only
// start on a bundle that negotiated a video sender.
func (m *Machine) stopScreenShare() error {
	if m.screenRelease != nil {
		m.screenRelease()
		m.screenRelease = nil
	}
	m.bundle.SetScreenSharing(false)
	if m.cameraTrack == nil {
		return ErrNoVideo
	}
	if err := m.transport.ReplaceVideoTrack(m.cameraTrack); err != nil {
		return fmt.Errorf("stop screen share: %w", err)
	}
	return nil
}

func (m *Machine) doToggleRecording() error {
	if err := m.requireActive(); err != nil {
		return err
	}
	rec := m.opts.Recorder
	if rec == nil {
		return ErrNoRecorder
	}

	if !rec.Active() {
		if err := rec.Start(m.bundle, m.remote); err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
	} else {
		if err := rec.Stop(); err != nil {
			return fmt.Errorf("stop recording: %w", err)
		}
		m.stats.Inc(metrics.EventRecordingsSaved)
	}
	m.publish()
	return nil
}

func (m *Machine) requireActive() error {
	if m.session == nil {
		return ErrNoActiveCall
	}
	if m.session.Phase != PhaseActive {
		return ErrNotActive
	}
	return nil
}

func (m *Machine) handleMessage(msg signaling.Message) {
	switch msg.Kind {
	case signaling.KindAvailabilityResponse:
		m.handleAvailability(msg)
	case signaling.KindIncomingCall:
		m.handleIncoming(msg)
	case signaling.KindCallAccepted:
		m.handleAccepted(msg)
	case signaling.KindCallRejected:
		m.handleRejected(msg)
	case signaling.KindCallCancelled:
		m.handleCancelled(msg)
	case signaling.KindCallEnded:
		m.handleEnded(msg)
	case signaling.KindICECandidate:
		m.handleCandidate(msg)
	case signaling.KindUserRegistered:
		if msg.Success != nil && !*msg.Success {
			m.log.Warn("relay registration failed")
			m.opts.Notifier.Error("failed to connect to server")
			return
		}
		m.log.Debug("registration acknowledged")
	default:
		m.log.Warn("unexpected signaling message", "kind", string(msg.Kind))
	}
}

func (m *Machine) handleAvailability(msg signaling.Message) {
	s := m.session
	if s == nil || s.Phase != PhaseCheckingAvailability {
		m.dropStale(msg)
		return
	}
	if msg.IsAvailable == nil || !*msg.IsAvailable {
		m.opts.Notifier.Info("user is not available")
		m.teardown(ReasonUnavailable)
		return
	}
	m.startOffer()
}

func (m *Machine) handleIncoming(msg signaling.Message) {
	if m.session != nil {
		// Busy. Reject the newcomer without disturbing the current call.
		if err := m.opts.Signaler.Send(signaling.Message{
			Kind:         signaling.KindCallRejected,
			TargetUserID: msg.CallerID,
			FromUserID:   m.session.LocalID,
			Reason:       "busy",
		}); err != nil {
			m.log.Warn("busy reject", "caller", msg.CallerID, "err", err)
		}
		m.stats.Inc(metrics.EventBusyRejects)
		return
	}

	id, ok := m.opts.Identity.Current()
	if !ok {
		m.log.Warn("incoming call before identity resolved", "caller", msg.CallerID)
		return
	}

	m.session = &Session{
		ID:           uuid.NewString(),
		LocalID:      id.UserID,
		LocalName:    id.UserName,
		RemoteID:     msg.CallerID,
		RemoteName:   msg.CallerName,
		Role:         RoleCallee,
		Phase:        PhaseRinging,
		CreatedAt:    m.clock.Now(),
		pendingOffer: msg.Offer,
	}
	m.armCallTimer()
	m.opts.Notifier.IncomingCall(msg.CallerID, msg.CallerName)
	m.log.Info("incoming call", "call_id", m.session.ID, "caller", msg.CallerID)
	m.publish()
}

func (m *Machine) handleAccepted(msg signaling.Message) {
	s := m.session
	if !s.accepts(msg.FromUserID) || s.Role != RoleCaller || s.Phase != PhaseNegotiating {
		m.dropStale(msg)
		return
	}
	if msg.Answer == nil {
		m.dropStale(msg)
		return
	}

	s.Phase = PhaseConnecting
	m.publish()

	answer, err := msg.Answer.ToPion()
	if err == nil {
		err = m.transport.ApplyRemoteAnswer(answer)
	}
	if err != nil {
		m.opts.Notifier.Error("call setup failed")
		m.log.Error("apply answer", "call_id", s.ID, "err", err)
		m.signalEnd(s)
		m.teardown(ReasonFailed)
		return
	}

	m.stopCallTimer()
	s.Phase = PhaseActive
	m.opts.Router.ToCall(s.RemoteID)
	m.log.Info("call connected", "call_id", s.ID, "remote", s.RemoteID)
	m.publish()
}

func (m *Machine) handleRejected(msg signaling.Message) {
	s := m.session
	if !s.accepts(msg.FromUserID) || !s.Phase.prelive() {
		m.dropStale(msg)
		return
	}
	if msg.Reason != "" {
		m.opts.Notifier.Info("call rejected: " + msg.Reason)
	} else {
		m.opts.Notifier.Info("call rejected")
	}
	m.teardown(ReasonRejected)
}

func (m *Machine) handleCancelled(msg signaling.Message) {
	s := m.session
	if !s.accepts(msg.FromUserID) || s.Role != RoleCallee || s.Phase != PhaseRinging {
		m.dropStale(msg)
		return
	}
	m.opts.Notifier.IncomingCallDismissed()
	m.teardown(ReasonCancelled)
}

func (m *Machine) handleEnded(msg signaling.Message) {
	s := m.session
	if !s.accepts(msg.FromUserID) {
		m.dropStale(msg)
		return
	}
	m.opts.Notifier.Info("call ended")
	m.teardown(ReasonHangup)
}

func (m *Machine) handleCandidate(msg signaling.Message) {
	s := m.session
	if !s.accepts(msg.FromUserID) || msg.Candidate == nil {
		m.dropStale(msg)
		return
	}
	init := msg.Candidate.ToPion()

	// Before accept there is no transport yet; buffer on the session.
	if m.transport == nil {
		s.earlyCandidates = append(s.earlyCandidates, init)
		return
	}
	if err := m.transport.AddRemoteCandidate(init); err != nil {
		m.log.Warn("add remote candidate", "call_id", s.ID, "err", err)
	}
}

func (m *Machine) handleSignalingStatus(st signaling.Status) {
	switch st {
	case signaling.StatusConnected:
		m.sigConnected = true
		m.stopGraceTimer()
	case signaling.StatusDisconnected:
		m.sigConnected = false
		s := m.session
		if s == nil {
			return
		}
		if s.Phase == PhaseActive {
			// Media flows peer-to-peer; the relay is only needed for setup.
			m.log.Warn("signaling lost during active call", "call_id", s.ID)
			return
		}
		if m.graceTimer == nil {
			m.graceTimer = m.clock.NewTimer(m.opts.DisconnectGrace)
		}
	}
}

func (m *Machine) handleEvent(ev event) {
	s := m.session
	if s == nil || s.ID != ev.sessionID {
		return
	}
	switch ev.kind {
	case evRemoteTrack:
		m.publish()
	case evConnFailed:
		if s.Phase != PhaseActive && s.Phase != PhaseConnecting {
			return
		}
		m.opts.Notifier.Error("connection to peer lost")
		m.signalEnd(s)
		m.teardown(ReasonFailed)
	case evScreenEnded:
		if m.bundle == nil || !m.bundle.ScreenSharing() {
			return
		}
		if err := m.stopScreenShare(); err != nil {
			m.log.Warn("restore camera after screen share ended", "err", err)
		}
		m.publish()
	}
}

func (m *Machine) handleCallTimeout() {
	s := m.session
	if s == nil || !s.Phase.prelive() {
		return
	}
	switch s.Role {
	case RoleCaller:
		_ = m.opts.Signaler.Send(signaling.Message{
			Kind:         signaling.KindCancelCall,
			TargetUserID: s.RemoteID,
			FromUserID:   s.LocalID,
		})
		m.opts.Notifier.Info("no answer")
	case RoleCallee:
		m.sendReject(s, "no answer")
		m.opts.Notifier.IncomingCallDismissed()
		m.opts.Notifier.Info("missed call")
	}
	m.teardown(ReasonTimedOut)
}

func (m *Machine) handleGraceExpired() {
	s := m.session
	if s == nil || m.sigConnected || !s.Phase.prelive() {
		return
	}
	m.opts.Notifier.Error("signaling connection lost")
	m.teardown(ReasonFailed)
}

// newTransport builds the per-call peer transport. Callbacks fire on pion
// goroutines: candidates go straight out over signaling, everything else is
// posted back to the loop tagged with the session id.
func (m *Machine) newTransport(s *Session) (Peer, error) {
	sessionID := s.ID
	localID := s.LocalID
	remoteID := s.RemoteID

	remote := &media.RemoteStream{}
	m.remote = remote

	cb := peer.Callbacks{
		OnRemoteTrack: func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			remote.Add(track)
			m.postEvent(event{kind: evRemoteTrack, sessionID: sessionID})
		},
		OnLocalCandidate: func(c webrtc.ICECandidateInit) {
			cand := signaling.CandidateFromPion(c)
			err := m.opts.Signaler.Send(signaling.Message{
				Kind:         signaling.KindICECandidate,
				TargetUserID: remoteID,
				FromUserID:   localID,
				Candidate:    &cand,
			})
			if err != nil {
				m.log.Warn("send ice candidate", "call_id", sessionID, "err", err)
			}
		},
		OnConnectionFailed: func() {
			m.postEvent(event{kind: evConnFailed, sessionID: sessionID})
		},
	}
	return m.opts.Peers.NewPeer(cb)
}

func (m *Machine) postEvent(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Machine) sendReject(s *Session, reason string) {
	err := m.opts.Signaler.Send(signaling.Message{
		Kind:         signaling.KindCallRejected,
		TargetUserID: s.RemoteID,
		FromUserID:   s.LocalID,
		Reason:       reason,
	})
	if err != nil {
		m.log.Warn("send reject", "call_id", s.ID, "err", err)
	}
}

func (m *Machine) signalEnd(s *Session) {
	err := m.opts.Signaler.Send(signaling.Message{
		Kind:         signaling.KindCallEnded,
		TargetUserID: s.RemoteID,
		FromUserID:   s.LocalID,
	})
	if err != nil {
		m.log.Warn("send call-ended", "call_id", s.ID, "err", err)
	}
}

// acceptRejectReason picks the wire reason sent to the caller when the callee
// cannot capture media.
func acceptRejectReason(err *media.Error) string {
	if err.Kind == media.KindPermissionDenied {
		return "camera permission required"
	}
	return err.UserMessage()
}

func (m *Machine) dropStale(msg signaling.Message) {
	m.stats.Inc(metrics.EventStaleDropped)
	m.log.Debug("ignoring stale signaling event",
		"kind", string(msg.Kind), "from", msg.FromUserID)
}

// teardown is the single cleanup funnel. Every termination path, whatever
// triggered it, releases the same resources in the same order.
func (m *Machine) teardown(reason EndReason) {
	s := m.session
	if s == nil {
		return
	}
	s.Phase = PhaseEnding
	s.Reason = reason
	m.publish()

	m.stopCallTimer()
	m.stopGraceTimer()

	if rec := m.opts.Recorder; rec != nil && rec.Active() {
		if err := rec.Stop(); err != nil {
			m.log.Warn("stop recording", "call_id", s.ID, "err", err)
		} else {
			m.stats.Inc(metrics.EventRecordingsSaved)
		}
	}
	if m.screenRelease != nil {
		m.screenRelease()
		m.screenRelease = nil
	}
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.log.Warn("close transport", "call_id", s.ID, "err", err)
		}
		m.transport = nil
	}
	if m.bundle != nil {
		m.bundle.Release()
		m.bundle = nil
	}
	m.remote = nil
	m.cameraTrack = nil
	m.session = nil

	switch reason {
	case ReasonHangup:
		m.stats.Inc(metrics.EventCallsEnded)
	case ReasonRejected:
		m.stats.Inc(metrics.EventCallsRejected)
	case ReasonCancelled:
		m.stats.Inc(metrics.EventCallsCancelled)
	case ReasonTimedOut:
		m.stats.Inc(metrics.EventCallsTimedOut)
	case ReasonUnavailable:
		m.stats.Inc(metrics.EventCallsUnavailable)
	case ReasonFailed:
		m.stats.Inc(metrics.EventCallsFailed)
	}

	m.opts.Router.ToHome()
	m.log.Info("call torn down", "call_id", s.ID, "remote", s.RemoteID, "reason", string(reason))
	m.publish()
}

func (m *Machine) rememberCameraTrack(bundle *media.Bundle) {
	for _, t := range bundle.Tracks() {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			m.cameraTrack = t
			return
		}
	}
}

func (m *Machine) armCallTimer() {
	m.stopCallTimer()
	m.callTimer = m.clock.NewTimer(m.opts.CallTimeout)
}

func (m *Machine) stopCallTimer() {
	if m.callTimer != nil {
		m.callTimer.Stop()
		m.callTimer = nil
	}
}

func (m *Machine) stopGraceTimer() {
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
}

func (m *Machine) publish() {
	st := Status{Phase: PhaseIdle}
	if s := m.session; s != nil {
		st = Status{
			Phase:      s.Phase,
			Role:       s.Role,
			RemoteID:   s.RemoteID,
			RemoteName: s.RemoteName,
			InProgress: true,
		}
		if m.bundle != nil {
			st.Muted = m.bundle.Muted()
			st.VideoOff = m.bundle.VideoOff()
			st.ScreenSharing = m.bundle.ScreenSharing()
			st.AudioOnly = m.bundle.AudioOnly()
		}
		if m.remote != nil {
			st.RemoteTracks = m.remote.Len()
		}
		if m.opts.Recorder != nil {
			st.Recording = m.opts.Recorder.Active()
		}
	}

	m.statusMu.Lock()
	m.status = st
	m.statusMu.Unlock()

	for {
		select {
		case m.updates <- st:
			return
		default:
		}
		// Full: shed the oldest snapshot and retry.
		select {
		case <-m.updates:
		default:
		}
	}
}
