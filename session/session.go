// Package session implements the request/response correlator over a
// single duplex WebSocket to one appliance: the ordered handshake,
// monotonic message-id allocation, push-notification dispatch, idle
// keepalive probing, and graceful failure surfacing.
package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/hcnet/hcgo/config"
	"github.com/hcnet/hcgo/crypto/recordlayer"
	"github.com/hcnet/hcgo/hcerr"
	"github.com/hcnet/hcgo/internal/base64url"
	"github.com/hcnet/hcgo/internal/contextutil"
	"github.com/hcnet/hcgo/protocol"
	"github.com/hcnet/hcgo/transport/tlspsk"
	"github.com/hcnet/hcgo/wsconn"

	"github.com/gorilla/websocket"
)

// State is the session's connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// NotifyHandler receives asynchronous NOTIFY messages from the appliance.
type NotifyHandler func(protocol.Message)

// Option configures a Session at construction.
type Option func(*Session)

// WithObserver installs a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithNotifyHandler installs the callback invoked for every inbound NOTIFY.
func WithNotifyHandler(h NotifyHandler) Option {
	return func(s *Session) { s.notifyHandler = h }
}

// WithLogger installs the logger used for frame-local failures (MAC
// mismatches, malformed frames, best-effort handshake step errors). The
// default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

var discardLogger = log.New(io.Discard, "", 0)

type pendingSlot struct {
	ch chan protocol.Message
}

// Session owns one WebSocket connection to an appliance and everything
// named in the concurrency model as session-scoped: the service-version
// map, sid, next_msg_id, rolling MAC state (via framer), last-activity
// clocks, the pending-request table, and the connection state machine. A
// single mutex (mu) protects all of it except the rolling MAC state, which
// writeMu serializes on the send side and the single read loop owns on the
// receive side; traffic volumes on this protocol never make that a
// bottleneck.
type Session struct {
	cfg *config.Config

	observer      Observer
	notifyHandler NotifyHandler
	logger        *log.Logger

	conn   *wsconn.Conn
	framer *recordlayer.Framer // AES mode only; nil in TLS_PSK mode

	writeMu sync.Mutex // serializes "encrypt + advance MAC + write" as one region

	mu                sync.Mutex
	state             State
	sid               *int64
	nextMsgID         int64
	serviceVersions   map[string]int32
	pending           map[int64]*pendingSlot
	handshakeStarted  bool
	lastRxAt          time.Time
	lastKeepaliveAt   time.Time
	keepaliveUID      *uint32
	keepaliveFallback *uint32
	terminalErr       error

	connectedCh chan struct{}
	closeOnce   sync.Once

	runCtx    context.Context
	runCancel context.CancelFunc

	// dialURLOverride lets tests point Connect at an ephemeral-port test
	// server instead of the fixed :80/:443 appliance endpoints.
	dialURLOverride string
}

// New constructs a Session bound to a static appliance configuration. Call
// Connect to actually dial and run the handshake.
func New(cfg *config.Config, opts ...Option) *Session {
	s := &Session{
		cfg:             cfg,
		observer:        defaultObserver,
		logger:          discardLogger,
		state:           StateIdle,
		serviceVersions: make(map[string]int32),
		pending:         make(map[int64]*pendingSlot),
		connectedCh:     make(chan struct{}),
	}
	if cfg.KeepaliveUID != nil {
		uid := *cfg.KeepaliveUID
		s.keepaliveUID = &uid
		s.keepaliveFallback = &uid
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the appliance, waits for the handshake to complete (or the
// configured connect timeout to fire), and leaves the read and keepalive
// loops running in the background.
func (s *Session) Connect(ctx context.Context) (err error) {
	s.setState(StateConnecting)
	defer func() {
		if err != nil {
			s.failTerminal(err)
		}
		s.observer.OnConnect(s.cfg.Host, string(s.cfg.Mode), err)
	}()

	connectCtx, cancel := contextutil.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	var (
		url     string
		dialOpt wsconn.DialOptions
	)
	switch s.cfg.Mode {
	case config.ModeAES:
		url = fmt.Sprintf("ws://%s:80/homeconnect", s.cfg.Host)
		psk, derr := base64url.Decode(s.cfg.PSKBase64)
		if derr != nil {
			return hcerr.Wrap(hcerr.StageConnect, hcerr.CodeInvalidPayload, fmt.Errorf("decode psk: %w", derr))
		}
		iv, derr := base64url.Decode(s.cfg.IVBase64)
		if derr != nil {
			return hcerr.Wrap(hcerr.StageConnect, hcerr.CodeInvalidPayload, fmt.Errorf("decode iv: %w", derr))
		}
		keys, derr := recordlayer.DeriveKeys(psk, iv)
		if derr != nil {
			return hcerr.Wrap(hcerr.StageConnect, hcerr.CodeInvalidPayload, derr)
		}
		s.framer = recordlayer.NewFramer(keys, recordlayer.RoleClient)
	case config.ModeTLSPSK:
		url = fmt.Sprintf("wss://%s:443/homeconnect", s.cfg.Host)
		psk, derr := base64url.Decode(s.cfg.PSKBase64)
		if derr != nil {
			return hcerr.Wrap(hcerr.StageConnect, hcerr.CodeInvalidPayload, fmt.Errorf("decode psk: %w", derr))
		}
		tlsCfg, derr := tlspsk.NewConfig(tlspsk.Options{Identity: s.cfg.PSKIdentity, PSK: psk, CipherString: s.cfg.TLSCipher})
		if derr != nil {
			return hcerr.Wrap(hcerr.StageConnect, hcerr.CodeInvalidPayload, derr)
		}
		d := *websocket.DefaultDialer
		d.TLSClientConfig = tlsCfg
		dialOpt.Dialer = &d
	default:
		return hcerr.Wrap(hcerr.StageConnect, hcerr.CodeInvalidPayload, fmt.Errorf("unsupported mode %q", s.cfg.Mode))
	}

	if s.dialURLOverride != "" {
		url = s.dialURLOverride
	}
	conn, _, derr := wsconn.Dial(connectCtx, url, dialOpt)
	if derr != nil {
		return hcerr.Wrap(hcerr.StageConnect, hcerr.ClassifyConnectCode(derr), derr)
	}
	s.conn = conn

	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	go s.readLoop(s.runCtx)
	go s.keepaliveLoop(s.runCtx)

	select {
	case <-s.connectedCh:
		return nil
	case <-connectCtx.Done():
		_ = s.Close()
		return hcerr.Wrap(hcerr.StageHandshake, hcerr.ClassifyHandshakeCode(connectCtx.Err()), connectCtx.Err())
	}
}

// Close tears down the connection and cancels the background loops. It is
// idempotent and safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		for id, slot := range s.pending {
			close(slot.ch)
			delete(s.pending, id)
		}
		s.mu.Unlock()
		if s.runCancel != nil {
			s.runCancel()
		}
		if s.conn != nil {
			err = s.conn.Close()
		}
		s.observer.OnClose(err)
	})
	return err
}

func (s *Session) failTerminal(err error) {
	s.mu.Lock()
	if s.terminalErr == nil {
		s.terminalErr = err
	}
	s.mu.Unlock()
	_ = s.Close()
}

// SendSync sends one request and waits for its correlated response,
// satisfying entity.Transport.
func (s *Session) SendSync(ctx context.Context, msg protocol.Message, timeout time.Duration) (protocol.Message, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return protocol.Message{}, &hcerr.NotConnectedError{Reason: "closed"}
	}
	if s.state == StateIdle || s.state == StateConnecting {
		s.mu.Unlock()
		return protocol.Message{}, &hcerr.NotConnectedError{Reason: "not yet connected"}
	}
	if msg.SID == nil {
		msg.SID = s.sid
	}
	if msg.Version == nil {
		v := s.versionFor(protocol.ServiceOf(msg.Resource))
		msg.Version = &v
	}
	if msg.MsgID == nil {
		id := s.nextMsgID
		s.nextMsgID++
		msg.MsgID = &id
	}
	msgID := *msg.MsgID
	slot := &pendingSlot{ch: make(chan protocol.Message, 1)}
	s.pending[msgID] = slot
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, msgID)
		s.mu.Unlock()
	}()

	if err := s.sendEncoded(ctx, msg); err != nil {
		return protocol.Message{}, &hcerr.NotConnectedError{Reason: "write failed", Err: err}
	}

	sendCtx, cancel := contextutil.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case resp, ok := <-slot.ch:
		if !ok {
			return protocol.Message{}, &hcerr.NotConnectedError{Reason: "closed"}
		}
		if resp.Code != nil {
			return resp, &hcerr.RemoteError{Code: *resp.Code, Resource: msg.Resource}
		}
		return resp, nil
	case <-sendCtx.Done():
		return protocol.Message{}, &hcerr.NotConnectedError{Reason: "timeout", Err: sendCtx.Err()}
	}
}

// notify sends a fire-and-forget NOTIFY message (no pending slot, no wait).
func (s *Session) notify(ctx context.Context, msg protocol.Message) error {
	s.mu.Lock()
	if msg.SID == nil {
		msg.SID = s.sid
	}
	if msg.Version == nil {
		v := s.versionFor(protocol.ServiceOf(msg.Resource))
		msg.Version = &v
	}
	msg.Action = protocol.ActionNotify
	s.mu.Unlock()
	return s.sendEncoded(ctx, msg)
}

// versionFor must be called with s.mu held.
func (s *Session) versionFor(service string) int32 {
	if v, ok := s.serviceVersions[service]; ok {
		return v
	}
	return 1
}

func (s *Session) sendEncoded(ctx context.Context, msg protocol.Message) error {
	raw, err := msg.Marshal()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	switch s.cfg.Mode {
	case config.ModeAES:
		frame, ferr := s.framer.Encrypt(raw)
		if ferr != nil {
			return ferr
		}
		return s.conn.WriteMessage(ctx, wsconn.BinaryMessage, frame)
	default:
		return s.conn.WriteMessage(ctx, wsconn.TextMessage, raw)
	}
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		mt, raw, err := s.conn.ReadMessage(ctx)
		if err != nil {
			s.failTerminal(hcerr.Wrap(hcerr.StageDecode, hcerr.CodeNotConnected, err))
			return
		}
		var cleartext []byte
		switch s.cfg.Mode {
		case config.ModeAES:
			cleartext, err = s.framer.Decrypt(raw)
			if err != nil {
				s.logger.Printf("session: dropping undecryptable frame: %v", err)
				if err == recordlayer.ErrTagMismatch {
					s.observer.OnMACFailure()
				}
				continue // frame-local failure: drop and keep reading (see Framer.Decrypt for MAC state).
			}
		default:
			_ = mt
			cleartext = raw
		}
		msg, err := protocol.Parse(cleartext)
		if err != nil {
			s.logger.Printf("session: dropping malformed frame: %v", err)
			continue // malformed frame: drop per §7 ProtocolError semantics.
		}

		s.mu.Lock()
		s.lastRxAt = time.Now()
		s.mu.Unlock()

		s.dispatch(ctx, msg)
	}
}

func (s *Session) dispatch(ctx context.Context, msg protocol.Message) {
	switch {
	case msg.Resource == "/ei/initialValues":
		s.mu.Lock()
		started := s.handshakeStarted
		if !started {
			s.handshakeStarted = true
		}
		s.mu.Unlock()
		if !started {
			go s.runHandshake(ctx, msg)
		}
	case msg.Action == protocol.ActionResponse && msg.MsgID != nil:
		s.mu.Lock()
		slot, ok := s.pending[*msg.MsgID]
		s.mu.Unlock()
		if !ok {
			return // no waiter, or a duplicate for an already-satisfied slot: drop.
		}
		select {
		case slot.ch <- msg:
		default:
			// Single-slot queue of capacity 1 already holds a value: duplicate drops.
		}
	case msg.Action == protocol.ActionNotify:
		if s.notifyHandler != nil {
			s.notifyHandler(msg)
		}
	default:
		// Silently dropped per §4.4 inbound dispatch rules.
	}
}

func randomNonce(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64url.Encode(b), nil
}

func marshalData(v any) ([]json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{raw}, nil
}
