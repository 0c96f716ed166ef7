package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State is the session's position in the connect/handshake lifecycle
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateAwaitingReady
	StateReady
	StateDegraded
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

var (
	// ErrHandshakeTimeout means Ready was not reached within the configured
	// ceiling. Recoverable: the supervisor retries under its normal policy.
	ErrHandshakeTimeout = errors.New("gateway handshake timed out")

	// ErrAuthenticationRejected is raised on op 9 (invalid session). The
	// token or its scopes need operator attention, though the supervisor
	// still applies its generic reconnect policy.
	ErrAuthenticationRejected = errors.New("gateway rejected the session")

	// ErrNotReady is returned for sends attempted outside the Ready state
	ErrNotReady = errors.New("gateway session is not ready")
)

const writeTimeout = 10 * time.Second

// Session owns one gateway websocket connection: the handshake state
// machine, the socket handle, and the monotonic sequence number. State is
// mutated only from the goroutine driving Connect/Close (the supervisor
// loop); the read pump communicates through channels.
type Session struct {
	url     string
	token   string
	intents int
	dialer  *websocket.Dialer
	log     zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu                sync.Mutex
	state             State
	sequence          *int64
	heartbeatInterval time.Duration
	sessionID         string
	authenticated     bool

	dispatch chan *Event
	acks     chan struct{}
	errs     chan error

	readDone    chan struct{}
	pumpStarted bool
	closeOnce   sync.Once
}

// NewSession creates a session for the given gateway URL. The token is
// held for the Identify payload and is never logged.
func NewSession(url, token string, intents int, log zerolog.Logger) *Session {
	return &Session{
		url:      url,
		token:    token,
		intents:  intents,
		dialer:   websocket.DefaultDialer,
		log:      log.With().Str("component", "gateway").Logger(),
		state:    StateDisconnected,
		dispatch: make(chan *Event, 64),
		acks:     make(chan struct{}, 1),
		errs:     make(chan error, 1),
		readDone: make(chan struct{}),
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Debug().Stringer("from", prev).Stringer("to", st).Msg("session state change")
	}
}

// SetDegraded marks the session unhealthy after a zombie signal.
// Called only by the supervisor loop.
func (s *Session) SetDegraded() {
	s.setState(StateDegraded)
}

// HeartbeatInterval returns the cadence supplied by the server's Hello.
// Zero until the handshake has seen Hello.
func (s *Session) HeartbeatInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeatInterval
}

// Sequence returns the last-seen dispatch sequence, or nil before the
// first dispatch event.
func (s *Session) Sequence() *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sequence == nil {
		return nil
	}
	v := *s.sequence
	return &v
}

// updateSequence stores an incoming sequence only if it advances the
// stored value, so out-of-order frames never regress heartbeat payloads.
func (s *Session) updateSequence(seq *int64) {
	if seq == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sequence == nil || *seq > *s.sequence {
		v := *seq
		s.sequence = &v
	}
}

// Dispatch delivers op 0 application events
func (s *Session) Dispatch() <-chan *Event { return s.dispatch }

// Acks delivers one signal per heartbeat-ack received
func (s *Session) Acks() <-chan struct{} { return s.acks }

// Errors delivers the terminal read-side failure of the session
func (s *Session) Errors() <-chan error { return s.errs }

// Connect dials the gateway and runs the full handshake: hello, jittered
// first heartbeat, first ack, identify, READY. The context bounds the
// whole exchange; on expiry the result is ErrHandshakeTimeout.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("dialing gateway: %w", wrapTimeout(ctx, err))
	}
	s.conn = conn
	s.setState(StateAwaitingHello)

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	ev, err := s.readEvent()
	if err != nil {
		s.abort()
		return fmt.Errorf("awaiting hello: %w", wrapTimeout(ctx, err))
	}
	if ev.Opcode != OpHello {
		s.abort()
		return fmt.Errorf("expected hello, got op %d", ev.Opcode)
	}
	var hello HelloData
	if err := unmarshalData(ev.Data, &hello); err != nil {
		s.abort()
		return err
	}
	if hello.HeartbeatInterval <= 0 {
		s.abort()
		return fmt.Errorf("hello carried invalid heartbeat interval %d", hello.HeartbeatInterval)
	}
	s.mu.Lock()
	s.heartbeatInterval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
	s.mu.Unlock()
	s.setState(StateIdentifying)

	// First heartbeat goes out after a 10% jitter delay; its ack gates
	// the Identify send.
	jitter := time.Duration(hello.HeartbeatInterval) * time.Millisecond / 10
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		s.abort()
		return ErrHandshakeTimeout
	}
	if err := s.SendHeartbeat(); err != nil {
		s.abort()
		return fmt.Errorf("first heartbeat: %w", err)
	}
	s.setState(StateAwaitingReady)

	for {
		ev, err := s.readEvent()
		if err != nil {
			s.abort()
			return fmt.Errorf("awaiting ready: %w", wrapTimeout(ctx, err))
		}

		switch ev.Opcode {
		case OpHeartbeatAck:
			identify := IdentifyData{
				Token:   s.token,
				Intents: s.intents,
				Properties: IdentifyProperties{
					OS:      "linux",
					Browser: "scumbot",
					Device:  "scumbot",
				},
			}
			if err := s.send(OpIdentify, identify); err != nil {
				s.abort()
				return fmt.Errorf("sending identify: %w", err)
			}

		case OpInvalidSession:
			s.abort()
			return ErrAuthenticationRejected

		case OpDispatch:
			s.updateSequence(ev.Sequence)
			if ev.Name == EventNameReady {
				var ready ReadyData
				if err := unmarshalData(ev.Data, &ready); err != nil {
					s.abort()
					return err
				}
				s.mu.Lock()
				s.sessionID = ready.SessionID
				s.authenticated = true
				s.mu.Unlock()
				s.setState(StateReady)
				s.conn.SetReadDeadline(time.Time{})
				s.pumpStarted = true
				go s.readPump()
				s.log.Info().Dur("heartbeat_interval", s.HeartbeatInterval()).Msg("gateway ready")
				return nil
			}
			// Pre-ready dispatches are possible on busy guilds; ignore.
		}
	}
}

// readPump is the sole reader of the socket after the handshake. It never
// mutates session state; failures surface on the Errors channel for the
// supervisor to act on.
func (s *Session) readPump() {
	defer close(s.readDone)
	for {
		ev, err := s.readEvent()
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				// High-traffic periods can surface junk frames; drop
				// them rather than killing the session.
				s.log.Debug().Err(err).Msg("dropping malformed frame")
				continue
			}
			s.fail(err)
			return
		}

		switch ev.Opcode {
		case OpDispatch:
			s.updateSequence(ev.Sequence)
			select {
			case s.dispatch <- ev:
			default:
				s.log.Warn().Str("event", ev.Name).Msg("dispatch buffer full, dropping event")
			}

		case OpHeartbeatAck:
			select {
			case s.acks <- struct{}{}:
			default:
			}

		case OpHeartbeat:
			// Server-requested immediate heartbeat
			if err := s.SendHeartbeat(); err != nil {
				s.fail(err)
				return
			}

		case OpInvalidSession:
			s.fail(ErrAuthenticationRejected)
			return
		}
	}
}

func (s *Session) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *Session) readEvent() (*Event, error) {
	messageType, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return DecodeFrame(messageType, data)
}

// SendHeartbeat transmits op 1 carrying the last-seen sequence (null
// before the first dispatch).
func (s *Session) SendHeartbeat() error {
	return s.send(OpHeartbeat, s.Sequence())
}

// SendPresence transmits op 3. Only valid in the Ready state.
func (s *Session) SendPresence(p PresenceData) error {
	if s.State() != StateReady {
		return ErrNotReady
	}
	return s.send(OpPresenceUpdate, p)
}

func (s *Session) send(op Opcode, d interface{}) error {
	data, err := EncodeFrame(op, d)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return ErrNotReady
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// abort tears down a half-open connection during a failed handshake
func (s *Session) abort() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.setState(StateDisconnected)
}

// Close performs a graceful shutdown: send a close frame, give the peer
// up to timeout to end the read side, then force-terminate the socket.
// Safe to call more than once.
func (s *Session) Close(timeout time.Duration) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		if s.conn == nil {
			s.setState(StateDisconnected)
			return
		}

		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(timeout))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()

		if s.pumpStarted {
			select {
			case <-s.readDone:
			case <-time.After(timeout):
				s.log.Warn().Msg("graceful close timed out, terminating socket")
			}
		}
		s.conn.Close()
		s.setState(StateDisconnected)
	})
}

func wrapTimeout(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrHandshakeTimeout
	}
	return err
}

func unmarshalData(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}
