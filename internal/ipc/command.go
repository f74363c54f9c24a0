package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nimbus-robotics/gatewayd/internal/socket"
	"github.com/nimbus-robotics/gatewayd/logger"
)

// CommandHandler dispatches a single CommandMessage and returns the reply to
// send back over the command channel.
type CommandHandler func(ctx context.Context, cmd CommandMessage) ReplyMessage

// CommandServer hosts the Worker side of the command channel: a single
// "POST /command" route on a Unix domain socket, guarded by a mutex that
// enforces the at-most-one-outstanding-request invariant.
type CommandServer struct {
	socketPath string
	token      string
	handler    CommandHandler
	log        logger.Logger

	svr *socket.Server
	mu  sync.Mutex
}

// NewCommandServer creates a command channel server bound to socketPath.
// The returned token must be supplied by callers as a Bearer credential.
func NewCommandServer(l logger.Logger, socketPath string, handler CommandHandler) (*CommandServer, string, error) {
	token, err := socket.GenerateToken(32)
	if err != nil {
		return nil, "", fmt.Errorf("generating command channel token: %w", err)
	}

	cs := &CommandServer{
		socketPath: socketPath,
		token:      token,
		handler:    handler,
		log:        l,
	}

	svr, err := socket.NewServer(socketPath, cs.router())
	if err != nil {
		return nil, "", fmt.Errorf("creating command channel server: %w", err)
	}
	cs.svr = svr

	return cs, token, nil
}

func (cs *CommandServer) router() chi.Router {
	r := chi.NewRouter()
	r.Use(
		socket.LoggerMiddleware("command", cs.log.Debug),
		middleware.Recoverer,
		socket.HeadersMiddleware(http.Header{"Content-Type": []string{"application/json"}}),
		socket.AuthMiddleware(cs.token, cs.log.Warn),
	)
	r.Post("/command", cs.postCommand)
	return r
}

func (cs *CommandServer) postCommand(w http.ResponseWriter, r *http.Request) {
	if !cs.mu.TryLock() {
		cs.writeReply(w, Failure(ErrInternalReentrantCommand, DefaultMessage(ErrInternalReentrantCommand)))
		return
	}
	defer cs.mu.Unlock()

	var cmd CommandMessage
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		cs.writeReply(w, Failure(ErrProtocolBadEnvelope, fmt.Sprintf("decoding command: %v", err)))
		return
	}

	reply := cs.handler(r.Context(), cmd)
	cs.writeReply(w, reply)
}

func (cs *CommandServer) writeReply(w http.ResponseWriter, reply ReplyMessage) {
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		cs.log.Error("command channel: encoding reply: %v", err)
	}
}

// Start starts serving the command channel.
func (cs *CommandServer) Start() error { return cs.svr.Start() }

// Shutdown gracefully shuts down the command channel server.
func (cs *CommandServer) Shutdown(ctx context.Context) error { return cs.svr.Shutdown(ctx) }

// CommandClient is the Edge Server's handle to the Worker's command channel.
type CommandClient struct {
	cli *socket.Client
}

// NewCommandClient dials the command channel socket at path, authenticating
// with token.
func NewCommandClient(ctx context.Context, path, token string) (*CommandClient, error) {
	cli, err := socket.NewClient(ctx, path, token)
	if err != nil {
		return nil, fmt.Errorf("connecting to command channel: %w", err)
	}
	return &CommandClient{cli: cli}, nil
}

// Send issues one command and blocks for its reply, honoring ctx's deadline
// for the disconnect-notify path. A context deadline exceeded surfaces as
// a distinct error, not a silent reset of the channel.
func (c *CommandClient) Send(ctx context.Context, cmd CommandMessage) (ReplyMessage, error) {
	var reply ReplyMessage
	if err := c.cli.Do(ctx, http.MethodPost, "http://unix/command", cmd, &reply); err != nil {
		return ReplyMessage{}, fmt.Errorf("command channel request: %w", err)
	}
	return reply, nil
}
