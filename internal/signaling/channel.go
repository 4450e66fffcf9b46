package signaling

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Status reports relay connectivity transitions to the channel's consumer.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

var (
	ErrChannelClosed = errors.New("signaling: channel closed")
	ErrQueueFull     = errors.New("signaling: send queue full")
)

// Identity is the local party registered with the relay on every (re)connect.
type Identity struct {
	UserID   string
	UserName string
}

// Options configures a Channel. Zero durations fall back to the defaults
// below, which match the relay's own keepalive expectations.
type Options struct {
	RelayURL string
	Identity Identity

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	PingInterval          time.Duration
	WriteWait             time.Duration
	MaxMessageBytes       int64
	SendQueueBytes        int

	Logger *slog.Logger

	// Dialer overrides the websocket dialer; tests use this.
	Dialer *websocket.Dialer
}

const (
	defaultReconnectInitialDelay = 1 * time.Second
	defaultReconnectMaxDelay     = 30 * time.Second
	defaultPingInterval          = 20 * time.Second
	defaultWriteWait             = 1 * time.Second
	defaultMaxMessageBytes       = int64(64 * 1024)
	defaultSendQueueBytes        = 1 << 20
)

// Channel is the persistent, auto-reconnecting connection to the signaling
// relay.
//
// Outbound messages are validated and buffered in a byte-bounded queue so
// callers never block on websocket backpressure. Inbound messages and
// connectivity transitions are delivered on Messages and Statuses; the
// consumer owns dispatch ordering.
type Channel struct {
	opts   Options
	log    *slog.Logger
	queue  *sendQueue
	outCh  chan []byte
	msgs   chan Message
	status chan Status

	mu        sync.Mutex
	connected bool

	done      chan struct{}
	closeOnce sync.Once
}

func NewChannel(opts Options) *Channel {
	if opts.ReconnectInitialDelay <= 0 {
		opts.ReconnectInitialDelay = defaultReconnectInitialDelay
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	if opts.SendQueueBytes <= 0 {
		opts.SendQueueBytes = defaultSendQueueBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}

	c := &Channel{
		opts:   opts,
		log:    opts.Logger,
		queue:  newSendQueue(opts.SendQueueBytes),
		outCh:  make(chan []byte),
		msgs:   make(chan Message, 64),
		status: make(chan Status, 8),
		done:   make(chan struct{}),
	}
	return c
}

// Start launches the connect/reconnect loop. It returns immediately.
func (c *Channel) Start() {
	go c.pumpLoop()
	go c.runLoop()
}

// Messages delivers inbound, validated relay messages.
func (c *Channel) Messages() <-chan Message { return c.msgs }

// Statuses delivers connectivity transitions. Consumers that fall behind may
// miss intermediate transitions but always observe the latest one eventually.
func (c *Channel) Statuses() <-chan Status { return c.status }

// Connected reports whether the relay connection is currently up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send validates msg and enqueues it for transmission. It never blocks; when
// the relay is down the message waits in the queue until reconnect.
func (c *Channel) Send(msg Message) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if !c.queue.Enqueue(frame) {
		return ErrQueueFull
	}
	return nil
}

// SendDropCount reports how many outbound frames were dropped because the
// send queue byte budget was exhausted.
func (c *Channel) SendDropCount() uint64 { return c.queue.DropCount() }

func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.Close()
	})
}

// pumpLoop moves frames from the bounded queue to the per-connection writer.
func (c *Channel) pumpLoop() {
	for {
		frame, ok := c.queue.Dequeue()
		if !ok {
			close(c.outCh)
			return
		}
		select {
		case c.outCh <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) runLoop() {
	delay := c.opts.ReconnectInitialDelay
	for {
		select {
		case <-c.done:
			return
		default:
		}

		conn, _, err := c.opts.Dialer.Dial(c.opts.RelayURL, nil)
		if err != nil {
			c.log.Warn("relay dial failed", "url", c.opts.RelayURL, "err", err)
			if !c.sleep(delay) {
				return
			}
			delay *= 2
			if delay > c.opts.ReconnectMaxDelay {
				delay = c.opts.ReconnectMaxDelay
			}
			continue
		}
		delay = c.opts.ReconnectInitialDelay

		if err := c.register(conn); err != nil {
			c.log.Warn("relay registration failed", "err", err)
			_ = conn.Close()
			if !c.sleep(delay) {
				return
			}
			continue
		}

		c.setConnected(true)
		c.notifyStatus(StatusConnected)
		c.serve(conn)
		c.setConnected(false)
		c.notifyStatus(StatusDisconnected)

		select {
		case <-c.done:
			return
		default:
		}
		if !c.sleep(delay) {
			return
		}
	}
}

// register announces the local identity before any other traffic. The relay
// routes by userId, so nothing else is deliverable until this lands.
func (c *Channel) register(conn *websocket.Conn) error {
	frame, err := Encode(Message{
		Kind:     KindRegisterUser,
		UserID:   c.opts.Identity.UserID,
		UserName: c.opts.Identity.UserName,
		SocketID: uuid.NewString(),
	})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// serve runs reader and writer for one connection and returns when either
// fails or the channel closes.
func (c *Channel) serve(conn *websocket.Conn) {
	defer conn.Close()

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(conn, stop)
	}()

	conn.SetReadLimit(c.opts.MaxMessageBytes)
	readWait := 2 * c.opts.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

read:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("relay read failed", "err", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		msg, err := Parse(data)
		if err != nil {
			c.log.Warn("dropping invalid relay message", "err", err)
			continue
		}

		select {
		case c.msgs <- msg:
		case <-c.done:
			break read
		default:
			// The consumer loop is expected to drain promptly; a full buffer
			// means it is wedged, and blocking the reader would stall
			// keepalive handling too.
			c.log.Warn("dropping inbound relay message, consumer too slow", "kind", msg.Kind)
		}
	}

	close(stop)
	<-writerDone
}

func (c *Channel) writeLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.outCh:
			if !ok {
				writeClose(conn, websocket.CloseNormalClosure, "client shutdown", c.opts.WriteWait)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
		case <-stop:
			return
		case <-c.done:
			writeClose(conn, websocket.CloseNormalClosure, "client shutdown", c.opts.WriteWait)
			return
		}
	}
}

func (c *Channel) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Channel) notifyStatus(s Status) {
	select {
	case c.status <- s:
	default:
	}
}

// sleep waits d or until the channel closes; it reports false on close.
func (c *Channel) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.done:
		return false
	}
}

func writeClose(conn *websocket.Conn, code int, reason string, wait time.Duration) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wait))
}
