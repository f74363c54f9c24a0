package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nimbus-robotics/gatewayd/internal/identity"
	"github.com/nimbus-robotics/gatewayd/internal/ipc"
	"github.com/nimbus-robotics/gatewayd/internal/session"
	"github.com/nimbus-robotics/gatewayd/logger"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 1 << 20
	sendBufferSize  = 32
	callbackTimeout = 100 * time.Millisecond

	disconnectNotifyTimeout = 2 * time.Second
)

// upgrader has no origin check: the realtime channel is CORS-permissive by
// design (spec.md 4.3).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Server is the Edge Server: it terminates the realtime channel, admits at
// most one client at a time, verifies credentials against the identity
// collaborator, and bridges the client to the Worker over the IPC channels.
type Server struct {
	log        logger.Logger
	verifier   *identity.Verifier
	cmd        *ipc.CommandClient
	cb         *ipc.CallbackClient
	encryption bool
	passphrase string

	// mu substitutes for the single-threaded event loop the design assumes:
	// net/http serves one goroutine per connection, so the single-writer
	// admission slot needs an explicit lock here even though only one
	// session is ever admitted at a time.
	mu   sync.Mutex
	slot session.Slot
}

// NewServer creates a Server dispatching commands over cmd and polling push
// events over cb. When encryptionEnabled, payloads are transparently
// decrypted/encrypted with passphrase using the OpenSSL-compatible envelope.
func NewServer(l logger.Logger, verifier *identity.Verifier, cmd *ipc.CommandClient, cb *ipc.CallbackClient, encryptionEnabled bool, passphrase string) *Server {
	return &Server{
		log:        l,
		verifier:   verifier,
		cmd:        cmd,
		cb:         cb,
		encryption: encryptionEnabled,
		passphrase: passphrase,
	}
}

// Handler returns the http.Handler that terminates the realtime channel.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	bearer := extractBearer(r)
	if bearer == "" {
		refuse(w, http.StatusUnauthorized, ipc.ErrAuthMissing)
		return
	}

	claims, err := s.verifier.Verify(r.Context(), bearer)
	if err != nil {
		s.log.Warn("[Edge] credential verification failed: %v", err)
		refuse(w, http.StatusUnauthorized, ipc.ErrAuthInvalid)
		return
	}

	userID, _ := claims["user_id"].(string)
	sess := session.New(userID, claims)

	s.mu.Lock()
	err = s.slot.Admit(sess)
	s.mu.Unlock()
	if err != nil {
		refuse(w, http.StatusConflict, ipc.ErrConnectionRejected)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("[Edge] websocket upgrade failed: %v", err)
		s.mu.Lock()
		s.slot.Release(sess.ID)
		s.mu.Unlock()
		return
	}

	s.log.Info("[Edge] session %s admitted for user %q", sess.ID, sess.UserID)
	s.runSession(sess, conn)
}

// runSession drives one admitted client's read pump, write pump, and
// callback-forwarding task until the connection closes, then releases
// admission and notifies the Worker to stop user background activity.
func (s *Server) runSession(sess session.Session, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	send := make(chan []byte, sendBufferSize)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, send, ctx.Done())
	}()
	go func() {
		defer wg.Done()
		s.forwardCallbacks(ctx, send)
	}()

	s.readPump(sess, conn, send)

	cancel()
	_ = conn.Close()
	wg.Wait()

	s.mu.Lock()
	released := s.slot.Release(sess.ID)
	s.mu.Unlock()

	if released {
		s.notifyDisconnected(sess)
	}
}

// readPump processes inbound frames until the connection closes or fails.
// It owns shutdown of send by being the only goroutine that returns control
// to runSession, which cancels ctx and joins the other two goroutines.
func (s *Server) readPump(sess session.Session, conn *websocket.Conn, send chan<- []byte) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("[Edge] session %s read error: %v", sess.ID, err)
			}
			return
		}

		reply := s.handleFrame(frame)
		select {
		case send <- reply:
		default:
			s.log.Warn("[Edge] session %s send buffer full, dropping reply", sess.ID)
		}
	}
}

// handleFrame decodes, validates, and dispatches one inbound frame, always
// producing an outbound frame: either the Worker's reply or a protocol-level
// error envelope carrying the same ack_id.
func (s *Server) handleFrame(frame []byte) []byte {
	in, err := decodeFrame(frame, s.passphrase, s.encryption)
	if err != nil {
		return s.errorFrame("", ipc.ErrProtocolBadEnvelope, err.Error())
	}

	cmd, err := validateCommand(in.Event, in.Data)
	if err != nil {
		var pe protocolError
		if errors.As(err, &pe) {
			return s.errorFrame(in.AckID, pe.code, pe.message)
		}
		return s.errorFrame(in.AckID, ipc.ErrProtocolUnknownCommand, err.Error())
	}

	reply, err := s.cmd.Send(context.Background(), cmd)
	if err != nil {
		s.log.Error("[Edge] command dispatch failed: %v", err)
		return s.errorFrame(in.AckID, ipc.ErrInternalUnknown, ipc.DefaultMessage(ipc.ErrInternalUnknown))
	}

	out := envelope{Event: in.Event, AckID: in.AckID, Data: replyToMap(reply)}
	encoded, err := encodeFrame(out, s.passphrase, s.encryption)
	if err != nil {
		s.log.Error("[Edge] encoding reply frame: %v", err)
		return s.errorFrame(in.AckID, ipc.ErrInternalUnknown, ipc.DefaultMessage(ipc.ErrInternalUnknown))
	}
	return encoded
}

func (s *Server) errorFrame(ackID string, code ipc.ErrorCode, message string) []byte {
	out := envelope{
		Event: "error",
		AckID: ackID,
		Data:  replyToMap(ipc.Failure(code, message)),
	}
	encoded, err := encodeFrame(out, s.passphrase, s.encryption)
	if err != nil {
		// Fall back to an unencrypted minimal frame rather than dropping
		// the client's request silently.
		fallback, _ := json.Marshal(out)
		return fallback
	}
	return encoded
}

// forwardCallbacks polls the callback channel on a short timeout, routing
// push events to the client under their event name and yielding to ctx on
// empty polls, per spec.md 4.3's callback-forwarding description.
func (s *Server) forwardCallbacks(ctx context.Context, send chan<- []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := s.cb.Poll(ctx, callbackTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("[Edge] callback poll failed: %v", err)
			continue
		}
		if msg == nil {
			continue
		}

		event := msg.Event
		if msg.Type != "push" || event == "" {
			event = "callback"
		}

		out := envelope{Event: event, Data: msg.Data}
		encoded, err := encodeFrame(out, s.passphrase, s.encryption)
		if err != nil {
			s.log.Error("[Edge] encoding callback frame: %v", err)
			continue
		}

		select {
		case send <- encoded:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// notifyDisconnected tells the Worker to stop the disconnecting session's
// user background activity, bounded so a dead Worker cannot hang shutdown.
func (s *Server) notifyDisconnected(sess session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectNotifyTimeout)
	defer cancel()

	_, err := s.cmd.Send(ctx, ipc.CommandMessage{Type: ipc.CommandClientDisconnected})
	if err != nil {
		s.log.Warn("[Edge] session %s disconnect notify failed: %v", sess.ID, err)
	}
}

// extractBearer reads a bearer credential from, in priority order, the
// Authorization header or a token/auth query parameter, stripping an
// optional "Bearer " prefix from either. Query().Get already URL-decodes
// the raw query string, satisfying the spec's URL-decoding requirement.
func extractBearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}

	for _, key := range []string{"token", "auth"} {
		if v := r.URL.Query().Get(key); v != "" {
			return strings.TrimPrefix(v, "Bearer ")
		}
	}

	return ""
}

// refuse writes the handshake refusal body the spec names ("<error_code>:
// <message>") without ever completing the websocket upgrade.
func refuse(w http.ResponseWriter, status int, code ipc.ErrorCode) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%s:%s", code, ipc.DefaultMessage(code))
}

func replyToMap(reply ipc.ReplyMessage) map[string]any {
	b, err := json.Marshal(reply)
	if err != nil {
		return map[string]any{"status": string(reply.Status), "message": reply.Message}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"status": string(reply.Status), "message": reply.Message}
	}
	return m
}

