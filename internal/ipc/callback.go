package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nimbus-robotics/gatewayd/internal/socket"
	"github.com/nimbus-robotics/gatewayd/logger"
)

// callbackQueueSize bounds the Worker-side buffered channel backing the
// callback route. Publishes beyond this size drop the oldest queued event,
// matching PUB/SUB's lossy-if-no-subscriber semantics.
const callbackQueueSize = 64

// CallbackServer hosts the Worker side of the callback channel: a single
// "GET /callback/poll" route that blocks on a buffered channel up to a
// caller-supplied timeout, returning one queued event or 204 No Content.
type CallbackServer struct {
	token string
	log   logger.Logger

	svr   *socket.Server
	mu    sync.Mutex
	queue chan PushMessage
}

// NewCallbackServer creates a callback channel server bound to socketPath.
func NewCallbackServer(l logger.Logger, socketPath string) (*CallbackServer, string, error) {
	token, err := socket.GenerateToken(32)
	if err != nil {
		return nil, "", fmt.Errorf("generating callback channel token: %w", err)
	}

	cs := &CallbackServer{
		token: token,
		log:   l,
		queue: make(chan PushMessage, callbackQueueSize),
	}

	svr, err := socket.NewServer(socketPath, cs.router())
	if err != nil {
		return nil, "", fmt.Errorf("creating callback channel server: %w", err)
	}
	cs.svr = svr

	return cs, token, nil
}

func (cs *CallbackServer) router() chi.Router {
	r := chi.NewRouter()
	r.Use(
		socket.LoggerMiddleware("callback", cs.log.Debug),
		middleware.Recoverer,
		socket.HeadersMiddleware(http.Header{"Content-Type": []string{"application/json"}}),
		socket.AuthMiddleware(cs.token, cs.log.Warn),
	)
	r.Get("/callback/poll", cs.getPoll)
	return r
}

func (cs *CallbackServer) getPoll(w http.ResponseWriter, r *http.Request) {
	timeout := 100 * time.Millisecond
	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	select {
	case msg := <-cs.queue:
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(msg); err != nil {
			cs.log.Error("callback channel: encoding push message: %v", err)
		}
	case <-time.After(timeout):
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
	}
}

// Publish enqueues a PushMessage for delivery to the next poller. Concurrent
// publishers are serialized by the server's own mutex; if the queue is full
// the oldest message is dropped rather than blocking the publisher.
func (cs *CallbackServer) Publish(msg PushMessage) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	select {
	case cs.queue <- msg:
	default:
		select {
		case <-cs.queue:
		default:
		}
		select {
		case cs.queue <- msg:
		default:
		}
	}
}

// Start starts serving the callback channel.
func (cs *CallbackServer) Start() error { return cs.svr.Start() }

// Shutdown gracefully shuts down the callback channel server.
func (cs *CallbackServer) Shutdown(ctx context.Context) error { return cs.svr.Shutdown(ctx) }

// CallbackClient is the Edge Server's handle to the Worker's callback
// channel, used by the per-session callback-forwarding task.
type CallbackClient struct {
	cli *socket.Client
}

// NewCallbackClient dials the callback channel socket at path.
func NewCallbackClient(ctx context.Context, path, token string) (*CallbackClient, error) {
	cli, err := socket.NewClient(ctx, path, token)
	if err != nil {
		return nil, fmt.Errorf("connecting to callback channel: %w", err)
	}
	return &CallbackClient{cli: cli}, nil
}

// Poll performs a single long-poll for one queued push event, using
// timeout as the server-side wait budget. A nil PushMessage with no error
// indicates nothing was queued within the timeout (204 No Content).
func (c *CallbackClient) Poll(ctx context.Context, timeout time.Duration) (*PushMessage, error) {
	url := fmt.Sprintf("http://unix/callback/poll?timeout_ms=%d", timeout.Milliseconds())

	var msg PushMessage
	if err := c.cli.Do(ctx, http.MethodGet, url, nil, &msg); err != nil {
		return nil, fmt.Errorf("polling callback channel: %w", err)
	}
	if msg.Type == "" {
		return nil, nil
	}
	return &msg, nil
}
