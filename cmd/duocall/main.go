package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pion/webrtc/v4"

	"github.com/duocall/duocall/internal/call"
	"github.com/duocall/duocall/internal/config"
	"github.com/duocall/duocall/internal/media"
	"github.com/duocall/duocall/internal/metrics"
	"github.com/duocall/duocall/internal/peer"
	"github.com/duocall/duocall/internal/recording"
	"github.com/duocall/duocall/internal/signaling"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if cfg.UserID == "" {
		fmt.Fprintln(os.Stderr, "user id required (DUOCALL_USER_ID or -user-id)")
		os.Exit(2)
	}

	capturer, err := media.NewCapturer(logger)
	if err != nil {
		logger.Error("failed to initialize media capture", "err", err)
		os.Exit(2)
	}

	// Construct the WebRTC API early so codec misconfigurations are caught on
	// startup. ICE sockets are only created once a call starts.
	api, err := peer.NewAPI(capturer.EngineSetup, webrtc.SettingEngine{})
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}

	logger.Info("starting duocall",
		"relay_url", cfg.RelayURL,
		"user_id", cfg.UserID,
		"mode", cfg.Mode,
		"call_timeout", cfg.CallTimeout,
		"signaling_disconnect_grace", cfg.DisconnectGrace,
		"ice_servers", len(cfg.ICE.Servers),
		"recordings_dir", cfg.RecordingsDir,
		"debug_listen_addr", cfg.DebugListenAddr,
	)

	stats := metrics.New()

	channel := signaling.NewChannel(signaling.Options{
		RelayURL: cfg.RelayURL,
		Identity: signaling.Identity{UserID: cfg.UserID, UserName: cfg.UserName},

		ReconnectInitialDelay: cfg.ReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.ReconnectMaxDelay,
		PingInterval:          cfg.SignalingPingInterval,
		WriteWait:             cfg.SignalingWriteWait,
		MaxMessageBytes:       cfg.MaxSignalingMsgBytes,
		SendQueueBytes:        cfg.SignalingSendQueue,

		Logger: logger,
	})

	ui := &console{out: os.Stdout}

	machine, err := call.NewMachine(call.Options{
		Signaler: channel,
		Capture:  capturer,
		Peers:    &peerFactory{api: api, iceServers: cfg.ICE.Servers, log: logger},
		Identity: call.StaticIdentity{UserID: cfg.UserID, UserName: cfg.UserName},
		Notifier: ui,
		Router:   ui,
		Recorder: recording.NewRecorder(recording.FileSink{Dir: cfg.RecordingsDir}, logger),

		Metrics: stats,
		Logger:  logger,

		CallTimeout:     cfg.CallTimeout,
		DisconnectGrace: cfg.DisconnectGrace,
	})
	if err != nil {
		logger.Error("failed to build call machine", "err", err)
		os.Exit(2)
	}

	if cfg.DebugListenAddr != "" {
		ln, err := net.Listen("tcp", cfg.DebugListenAddr)
		if err != nil {
			logger.Error("failed to listen on debug address", "err", err)
			os.Exit(1)
		}
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.PrometheusHandler(stats))
		go func() {
			if err := http.Serve(ln, mux); err != nil {
				logger.Error("debug listener exited", "err", err)
			}
		}()
	}

	channel.Start()
	machine.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go logStatusUpdates(logger, machine)

	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		commandLoop(ctx, machine, ui)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-inputDone:
	}

	machine.Close()
	channel.Close()
}

func logStatusUpdates(logger *slog.Logger, machine *call.Machine) {
	for st := range machine.Updates() {
		logger.Debug("call status",
			"phase", st.Phase,
			"role", st.Role,
			"remote_id", st.RemoteID,
			"muted", st.Muted,
			"video_off", st.VideoOff,
			"screen_sharing", st.ScreenSharing,
			"recording", st.Recording,
		)
	}
}

// commandLoop reads call commands from stdin until EOF or shutdown.
func commandLoop(ctx context.Context, machine *call.Machine, ui *console) {
	ui.Info(`commands: call <user-id> | accept | reject | cancel | hangup | mute | video | screen | record | status | quit`)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "call":
			if len(fields) != 2 {
				err = errors.New("usage: call <user-id>")
				break
			}
			err = machine.InitiateCall(fields[1])
		case "accept":
			err = machine.AcceptCall()
		case "reject":
			err = machine.RejectCall()
		case "cancel":
			err = machine.CancelCall()
		case "hangup", "end":
			err = machine.EndCall()
		case "mute":
			err = machine.ToggleMute()
		case "video":
			err = machine.ToggleVideo()
		case "screen":
			err = machine.ToggleScreenShare()
		case "record":
			err = machine.ToggleRecording()
		case "status":
			st := machine.Status()
			ui.Info(fmt.Sprintf("phase=%s role=%s remote=%s muted=%v video_off=%v screen=%v recording=%v",
				st.Phase, st.Role, st.RemoteID, st.Muted, st.VideoOff, st.ScreenSharing, st.Recording))
		case "quit", "exit":
			return
		default:
			err = fmt.Errorf("unknown command %q", fields[0])
		}
		if err != nil {
			ui.Error(err.Error())
		}
	}
}

// peerFactory builds one peer session per call attempt off the shared API.
type peerFactory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	log        *slog.Logger
}

func (f *peerFactory) NewPeer(cb peer.Callbacks) (call.Peer, error) {
	return peer.NewSession(f.api, f.iceServers, f.log, cb)
}

// console is the terminal rendition of the notification and navigation
// surfaces.
type console struct {
	out *os.File
}

func (c *console) Info(msg string)  { fmt.Fprintln(c.out, msg) }
func (c *console) Error(msg string) { fmt.Fprintln(c.out, "error:", msg) }

func (c *console) IncomingCall(callerID, callerName string) {
	name := callerName
	if name == "" {
		name = callerID
	}
	fmt.Fprintf(c.out, "incoming call from %s (accept/reject)\n", name)
}

func (c *console) IncomingCallDismissed() {
	fmt.Fprintln(c.out, "incoming call dismissed")
}

func (c *console) ToCall(remoteID string) {
	fmt.Fprintf(c.out, "in call with %s\n", remoteID)
}

func (c *console) ToHome() {
	fmt.Fprintln(c.out, "call over")
}
