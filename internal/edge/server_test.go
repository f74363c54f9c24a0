package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbus-robotics/gatewayd/internal/identity"
	"github.com/nimbus-robotics/gatewayd/internal/ipc"
	"github.com/nimbus-robotics/gatewayd/logger"
)

func testLogger() logger.Logger {
	l := logger.NewConsoleLogger(&logger.TextPrinter{Writer: &bytes.Buffer{}}, func(int) {})
	l.SetLevel(logger.ERROR)
	return l
}

var ipcSocketCounter uint32

func ipcSocketPath(t *testing.T) string {
	t.Helper()
	id := atomic.AddUint32(&ipcSocketCounter, 1)
	return filepath.Join(os.TempDir(), fmt.Sprintf("gatewayd-edge-test-%d-%d.sock", os.Getpid(), id))
}

// testIdentity runs a fake identity collaborator: any bearer equal to
// "good-token" verifies, everything else is rejected.
func testIdentity(t *testing.T) *identity.Verifier {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"user_id": "u1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return identity.NewVerifier(testLogger(), srv.URL+"/auth/verify")
}

// testWorker wires a CommandClient/CallbackClient pair against an in-memory
// handler, standing in for internal/worker in these tests.
func testWorker(t *testing.T, handler ipc.CommandHandler) (*ipc.CommandClient, *ipc.CallbackServer, *ipc.CallbackClient) {
	t.Helper()

	cmdPath := ipcSocketPath(t)
	cmdSvr, cmdToken, err := ipc.NewCommandServer(testLogger(), cmdPath, handler)
	require.NoError(t, err)
	require.NoError(t, cmdSvr.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = cmdSvr.Shutdown(ctx)
	})

	cbPath := ipcSocketPath(t)
	cbSvr, cbToken, err := ipc.NewCallbackServer(testLogger(), cbPath)
	require.NoError(t, err)
	require.NoError(t, cbSvr.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = cbSvr.Shutdown(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cmdCli *ipc.CommandClient
	require.Eventually(t, func() bool {
		cmdCli, err = ipc.NewCommandClient(ctx, cmdPath, cmdToken)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	cbCli, err := ipc.NewCallbackClient(ctx, cbPath, cbToken)
	require.NoError(t, err)

	return cmdCli, cbSvr, cbCli
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestServeWSRefusesMissingBearer(t *testing.T) {
	t.Parallel()

	cmdCli, _, cbCli := testWorker(t, func(_ context.Context, _ ipc.CommandMessage) ipc.ReplyMessage {
		return ipc.Success("", nil)
	})
	edgeSrv := NewServer(testLogger(), testIdentity(t), cmdCli, cbCli, false, "")
	httpSrv := httptest.NewServer(edgeSrv.Handler())
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	assert.True(t, strings.HasPrefix(body.String(), string(ipc.ErrAuthMissing)+":"))
}

func TestServeWSRefusesBadCredential(t *testing.T) {
	t.Parallel()

	cmdCli, _, cbCli := testWorker(t, func(_ context.Context, _ ipc.CommandMessage) ipc.ReplyMessage {
		return ipc.Success("", nil)
	})
	edgeSrv := NewServer(testLogger(), testIdentity(t), cmdCli, cbCli, false, "")
	httpSrv := httptest.NewServer(edgeSrv.Handler())
	defer httpSrv.Close()

	req, err := http.NewRequest(http.MethodGet, httpSrv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer garbage")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	assert.True(t, strings.HasPrefix(body.String(), string(ipc.ErrAuthInvalid)+":"))
}

func TestServeWSFullRoundTrip(t *testing.T) {
	t.Parallel()

	cmdCli, _, cbCli := testWorker(t, func(_ context.Context, cmd ipc.CommandMessage) ipc.ReplyMessage {
		switch cmd.Type {
		case ipc.CommandStart:
			return ipc.Success("started", nil)
		case ipc.CommandProcess:
			return ipc.Success("", map[string]any{"result": map[string]any{"r": "hi"}})
		default:
			return ipc.Success("", nil)
		}
	})
	edgeSrv := NewServer(testLogger(), testIdentity(t), cmdCli, cbCli, false, "")
	httpSrv := httptest.NewServer(edgeSrv.Handler())
	defer httpSrv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(httpSrv.URL)+"?token=good-token", nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, conn.WriteJSON(envelope{Event: "start", AckID: "a1"}))
	var startAck envelope
	require.NoError(t, conn.ReadJSON(&startAck))
	assert.Equal(t, "a1", startAck.AckID)
	assert.Equal(t, string(ipc.StatusSuccess), startAck.Data["status"])

	require.NoError(t, conn.WriteJSON(envelope{
		Event: "process",
		AckID: "a2",
		Data: map[string]any{
			"params": map[string]any{"object": "c", "method": "greet"},
		},
	}))
	var processAck envelope
	require.NoError(t, conn.ReadJSON(&processAck))
	assert.Equal(t, "a2", processAck.AckID)
	result, _ := processAck.Data["data"].(map[string]any)
	assert.NotNil(t, result)
}

func TestServeWSSecondConnectionRefusedWhileAdmitted(t *testing.T) {
	t.Parallel()

	cmdCli, _, cbCli := testWorker(t, func(_ context.Context, _ ipc.CommandMessage) ipc.ReplyMessage {
		return ipc.Success("", nil)
	})
	edgeSrv := NewServer(testLogger(), testIdentity(t), cmdCli, cbCli, false, "")
	httpSrv := httptest.NewServer(edgeSrv.Handler())
	defer httpSrv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(httpSrv.URL)+"?token=good-token", nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	_, resp2, err := websocket.DefaultDialer.Dial(wsURL(httpSrv.URL)+"?token=good-token", nil)
	require.Error(t, err)
	require.NotNil(t, resp2)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)

	var body bytes.Buffer
	_, _ = body.ReadFrom(resp2.Body)
	assert.True(t, strings.HasPrefix(body.String(), string(ipc.ErrConnectionRejected)+":"))
}

func TestServeWSCallbackForwarding(t *testing.T) {
	t.Parallel()

	cmdCli, cbSvr, cbCli := testWorker(t, func(_ context.Context, _ ipc.CommandMessage) ipc.ReplyMessage {
		return ipc.Success("", nil)
	})
	edgeSrv := NewServer(testLogger(), testIdentity(t), cmdCli, cbCli, false, "")
	httpSrv := httptest.NewServer(edgeSrv.Handler())
	defer httpSrv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(httpSrv.URL)+"?token=good-token", nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	// Give the server's admission/upgrade a moment to complete before
	// publishing, since the forwarding task only starts once admitted.
	time.Sleep(50 * time.Millisecond)
	cbSvr.Publish(ipc.NewPush("tick", map[string]any{"n": float64(1)}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got envelope
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "tick", got.Event)
	assert.Equal(t, float64(1), got.Data["n"])
}
