// Package session runs the per-connection agent state machine: upgrade,
// HMAC challenge/response authentication, registration, and the steady-state
// read/write pumps that dispatch protocol messages.
//
// The pump mechanics (ping/pong deadlines, single-writer goroutine stopped by
// the read side on teardown) are adapted from
// internal/websocket/client.go's readPump/writePump split. The authentication
// handshake and message dispatch are rewritten from
// original_source/remoshot-server/src/ws.rs's handle_socket.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/remoshot/coordinator/internal/imagestore"
	"github.com/remoshot/coordinator/internal/protocol"
	"github.com/remoshot/coordinator/internal/registry"
)

const (
	// writeWait is the maximum time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long the server waits for a pong before declaring the
	// connection dead.
	pongWait = 60 * time.Second

	// pingPeriod is how often the server pings; must stay under pongWait.
	pingPeriod = (pongWait * 9) / 10

	// authWait bounds how long, from the challenge, a connection may take to
	// authenticate before the session gives up and closes it; frames that
	// are not a valid auth_response do not extend it.
	authWait = 10 * time.Second

	// maxMessageSize caps incoming frames. screenshot_response carries image
	// bytes so the ceiling is generous relative to the websocket package's
	// control-only 512 bytes.
	maxMessageSize = 32 << 20

	// sendBufferSize is the outbound channel capacity.
	sendBufferSize = 16

	nonceBytes = 16
)

// upgrader performs the HTTP -> WebSocket handshake. Origin checking is left
// to a reverse proxy in front of the coordinator, matching the teacher's
// disposition in internal/websocket/client.go.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Deliverer is the subset of internal/coordinator.Coordinator a session
// needs, kept as an interface so this package does not import coordinator.
type Deliverer interface {
	Deliver(requestID, agentName string, urls []string)
}

// Session owns one authenticated (or authenticating) agent connection.
type Session struct {
	id     uint64
	conn   *websocket.Conn
	send   chan any
	logger *zap.Logger

	registry    *registry.Registry
	auth        authenticator
	imagestore  *imagestore.Store
	deliverer   Deliverer

	name string // set once authentication succeeds
}

// authenticator is the subset of internal/secretauth.Authenticator a session
// needs.
type authenticator interface {
	Compute(nonce string) string
	Verify(nonce, mac string) bool
}

// Deps bundles a session's collaborators so Serve's signature stays short.
type Deps struct {
	Registry   *registry.Registry
	Auth       authenticator
	ImageStore *imagestore.Store
	Deliverer  Deliverer
	Logger     *zap.Logger
}

// Serve upgrades r/w to a WebSocket connection and runs the full session
// lifecycle to completion: authenticate, register, pump until disconnect,
// unregister. It returns once the connection is fully torn down.
func Serve(w http.ResponseWriter, r *http.Request, deps Deps) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		deps.Logger.Warn("ws: upgrade failed", zap.Error(err))
		return
	}

	id := deps.Registry.NextID()
	s := &Session{
		id:         id,
		conn:       conn,
		send:       make(chan any, sendBufferSize),
		logger:     deps.Logger.Named("session").With(zap.Uint64("client_id", id)),
		registry:   deps.Registry,
		auth:       deps.Auth,
		imagestore: deps.ImageStore,
		deliverer:  deps.Deliverer,
	}
	s.run()
}

// Enqueue implements registry.Outbound. It returns false if the outbound
// buffer is full, telling the caller (registry.Broadcast) not to count this
// agent as reached rather than blocking the broadcaster on a slow peer.
func (s *Session) Enqueue(msg any) bool {
	select {
	case s.send <- msg:
		return true
	default:
		s.logger.Warn("outbound buffer full, dropping message", zap.String("agent", s.name))
		return false
	}
}

// run drives the session end to end: authenticate, then register and pump
// until the connection closes.
func (s *Session) run() {
	defer s.conn.Close()

	if !s.authenticate() {
		return
	}

	s.registry.Register(s.id, s.name, s)
	defer s.registry.Unregister(s.id)

	done := make(chan struct{})
	go s.writePump(done)
	s.readPump()
	close(done)
}

// authenticate runs the challenge/response handshake. It returns true once a
// valid auth_response has been received and verified; false if the
// connection closed, errored, or timed out before that happened.
//
// Non-auth frames received before authentication completes are logged and
// dropped rather than treated as fatal, in case a client races a
// screenshot_response frame in before reading the challenge (ws.rs tolerates
// the same).
func (s *Session) authenticate() bool {
	nonce, err := newNonce()
	if err != nil {
		s.logger.Error("failed to generate auth nonce", zap.Error(err))
		return false
	}

	if err := s.writeText(protocol.NewAuthChallenge(nonce)); err != nil {
		s.logger.Warn("ws: failed to send auth_challenge", zap.Error(err))
		return false
	}

	deadline := time.Now().Add(authWait)
	for time.Now().Before(deadline) {
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return false
		}

		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Warn("ws: connection closed before authentication", zap.Error(err))
			return false
		}
		if kind != websocket.TextMessage {
			s.logger.Warn("ws: dropping non-text frame before authentication")
			continue
		}

		msgType, err := protocol.DecodeTextType(data)
		if err != nil {
			s.logger.Warn("ws: dropping malformed frame before authentication", zap.Error(err))
			continue
		}
		if msgType != protocol.TypeAuthResponse {
			s.logger.Warn("ws: dropping non-auth frame before authentication", zap.String("type", string(msgType)))
			continue
		}

		resp, err := protocol.DecodeAuthResponse(data)
		if err != nil {
			s.logger.Warn("ws: malformed auth_response", zap.Error(err))
			continue
		}

		if !s.auth.Verify(nonce, resp.HMAC) {
			s.logger.Warn("ws: auth_response failed HMAC verification", zap.String("name", resp.Name))
			return false
		}

		s.name = resp.Name
		s.logger.Info("agent authenticated", zap.String("name", s.name))
		return true
	}

	s.logger.Warn("ws: authentication timed out")
	return false
}

// readPump is the steady-state receive loop: it dispatches text and binary
// frames to the protocol decoders and routes valid screenshot_response
// frames to the deliverer. It returns when the connection closes or errors.
func (s *Session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				s.logger.Warn("ws: unexpected close", zap.String("agent", s.name), zap.Error(err))
			}
			return
		}

		switch kind {
		case websocket.TextMessage:
			s.handleText(data)
		case websocket.BinaryMessage:
			s.handleBinary(data)
		}
	}
}

// handleText dispatches a decoded text frame. After authentication the only
// text frame an agent is expected to send is a stray or duplicate
// auth_response, which is logged and ignored.
func (s *Session) handleText(data []byte) {
	msgType, err := protocol.DecodeTextType(data)
	if err != nil {
		s.logger.Warn("ws: dropping malformed text frame", zap.String("agent", s.name), zap.Error(err))
		return
	}
	s.logger.Warn("ws: dropping unexpected text frame", zap.String("agent", s.name), zap.String("type", string(msgType)))
}

// handleBinary dispatches a decoded binary frame. The only binary message an
// agent sends is screenshot_response; each captured monitor is persisted
// individually and the resulting URLs are handed to the coordinator.
func (s *Session) handleBinary(data []byte) {
	msgType, err := protocol.DecodeBinaryType(data)
	if err != nil {
		s.logger.Warn("ws: dropping malformed binary frame", zap.String("agent", s.name), zap.Error(err))
		return
	}
	if msgType != protocol.TypeScreenshotResponse {
		s.logger.Warn("ws: dropping unexpected binary frame", zap.String("agent", s.name), zap.String("type", string(msgType)))
		return
	}

	resp, err := protocol.DecodeScreenshotResponse(data)
	if err != nil {
		s.logger.Warn("ws: malformed screenshot_response", zap.String("agent", s.name), zap.Error(err))
		return
	}

	urls := make([]string, 0, len(resp.Screenshots))
	for _, shot := range resp.Screenshots {
		_, url, err := s.imagestore.Write(resp.RequestID, s.name, shot.Monitor, shot.Data)
		if err != nil {
			s.logger.Error("imagestore: failed to persist screenshot",
				zap.String("agent", s.name),
				zap.String("request_id", resp.RequestID),
				zap.Uint32("monitor", shot.Monitor),
				zap.Error(err),
			)
			continue
		}
		urls = append(urls, url)
	}

	s.deliverer.Deliver(resp.RequestID, s.name, urls)
}

// writePump is the only goroutine permitted to write to conn — gorilla
// connections are not safe for concurrent writers. It forwards queued
// messages and sends periodic pings until done is closed by the read side.
func (s *Session) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			if err := s.writeText(msg); err != nil {
				s.logger.Warn("ws: write error", zap.String("agent", s.name), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Warn("ws: ping error", zap.String("agent", s.name), zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Session) writeText(v any) error {
	b, err := protocol.EncodeText(v)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func newNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
