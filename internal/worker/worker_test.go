package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/nimbus-robotics/gatewayd/internal/ipc"
	"github.com/nimbus-robotics/gatewayd/internal/project"
	"github.com/nimbus-robotics/gatewayd/internal/sandbox"
	"github.com/nimbus-robotics/gatewayd/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	l := logger.NewConsoleLogger(&logger.TextPrinter{Writer: &bytes.Buffer{}}, func(int) {})
	l.SetLevel(logger.ERROR)
	return l
}

func buildArchive(t *testing.T, files map[string]string) string {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

type fakeObject struct{}

func (fakeObject) Invoke(method string, args map[string]any) (any, error) {
	if method == "greet" {
		return map[string]any{"r": "hi"}, nil
	}
	return nil, sandbox.ErrMethodNotFound
}

func TestHandleUpdateFirstLoadDoesNotRestart(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)

	encoded := buildArchive(t, map[string]string{"main.go": "package main\n"})
	reply := w.Handle(context.Background(), ipc.CommandMessage{
		Type: ipc.CommandUpdate,
		Data: map[string]any{"data": encoded},
	})

	require.Equal(t, ipc.StatusSuccess, reply.Status)
	assert.Equal(t, false, reply.Data["worker_will_restart"])
}

func TestHandleUpdateSecondLoadSignalsRestart(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)
	w.execCtx = sandbox.NewContext("/fake.so", map[string]sandbox.Factory{
		"c": func() any { return fakeObject{} },
	}, nil)

	encoded := buildArchive(t, map[string]string{"main.go": "package main\n"})
	reply := w.Handle(context.Background(), ipc.CommandMessage{
		Type: ipc.CommandUpdate,
		Data: map[string]any{"data": encoded},
	})

	require.Equal(t, ipc.StatusSuccess, reply.Status)
	assert.Equal(t, true, reply.Data["worker_will_restart"])

	select {
	case <-w.RestartRequested():
	default:
		t.Fatal("expected RestartRequested to be closed")
	}
}

func TestHandleUpdateMissingDataField(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)

	reply := w.Handle(context.Background(), ipc.CommandMessage{Type: ipc.CommandUpdate})
	assert.Equal(t, ipc.StatusError, reply.Status)
	assert.Equal(t, string(ipc.ErrProtocolMissingField), reply.ErrorCode)
}

func TestHandleUpdateInvalidBase64(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)

	reply := w.Handle(context.Background(), ipc.CommandMessage{
		Type: ipc.CommandUpdate,
		Data: map[string]any{"data": "not base64!!"},
	})
	assert.Equal(t, ipc.StatusError, reply.Status)
	assert.Equal(t, string(ipc.ErrProjectInvalidBase64), reply.ErrorCode)
}

func TestHandleUpdateRejectsTraversal(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)

	encoded := buildArchive(t, map[string]string{"../evil.go": "package main\n"})
	reply := w.Handle(context.Background(), ipc.CommandMessage{
		Type: ipc.CommandUpdate,
		Data: map[string]any{"data": encoded},
	})
	assert.Equal(t, ipc.StatusError, reply.Status)
	assert.Equal(t, string(ipc.ErrProjectArchiveRejected), reply.ErrorCode)
}

func TestHandleStartShortCircuitsWhenAlreadyLoaded(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)
	w.execCtx = sandbox.NewContext("/fake.so", nil, nil)

	reply := w.Handle(context.Background(), ipc.CommandMessage{Type: ipc.CommandStart})
	assert.Equal(t, ipc.StatusSuccess, reply.Status)
}

func TestHandleProcessWithNoProjectFails(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)

	reply := w.Handle(context.Background(), ipc.CommandMessage{
		Type: ipc.CommandProcess,
		Data: map[string]any{"params": map[string]any{"object": "c", "method": "greet"}},
	})
	assert.Equal(t, ipc.StatusError, reply.Status)
	assert.Equal(t, string(ipc.ErrProjectNoProject), reply.ErrorCode)
}

func TestHandleProcessDispatchesToObject(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)
	w.execCtx = sandbox.NewContext("/fake.so", map[string]sandbox.Factory{
		"c": func() any { return fakeObject{} },
	}, nil)

	reply := w.Handle(context.Background(), ipc.CommandMessage{
		Type: ipc.CommandProcess,
		Data: map[string]any{"params": map[string]any{"object": "c", "method": "greet"}},
	})
	require.Equal(t, ipc.StatusSuccess, reply.Status)
	assert.Equal(t, map[string]any{"r": "hi"}, reply.Data["result"])
}

func TestHandleProcessMissingParams(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)
	w.execCtx = sandbox.NewContext("/fake.so", nil, nil)

	reply := w.Handle(context.Background(), ipc.CommandMessage{Type: ipc.CommandProcess})
	assert.Equal(t, ipc.StatusError, reply.Status)
	assert.Equal(t, string(ipc.ErrProtocolMissingField), reply.ErrorCode)
}

func TestHandleProcessUnknownObject(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)
	w.execCtx = sandbox.NewContext("/fake.so", map[string]sandbox.Factory{}, nil)

	reply := w.Handle(context.Background(), ipc.CommandMessage{
		Type: ipc.CommandProcess,
		Data: map[string]any{"params": map[string]any{"object": "missing", "method": "greet"}},
	})
	assert.Equal(t, ipc.StatusError, reply.Status)
	assert.Equal(t, string(ipc.ErrExecNoObject), reply.ErrorCode)
}

func TestHandleDisconnectedWithNoExecutorSucceeds(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)

	reply := w.Handle(context.Background(), ipc.CommandMessage{Type: ipc.CommandClientDisconnected})
	assert.Equal(t, ipc.StatusSuccess, reply.Status)
}

func TestHandleDisconnectedStopsInstancesButPreservesContext(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)
	stopped := 0
	w.execCtx = sandbox.NewContext("/fake.so", map[string]sandbox.Factory{
		"a": func() any { return stoppingObject{stopped: &stopped} },
		"b": func() any { return stoppingObject{stopped: &stopped} },
	}, nil)
	for _, name := range []string{"a", "b"} {
		_, err := w.execCtx.Resolve(name)
		require.NoError(t, err)
	}

	reply := w.Handle(context.Background(), ipc.CommandMessage{Type: ipc.CommandClientDisconnected})
	assert.Equal(t, ipc.StatusSuccess, reply.Status)
	assert.Equal(t, 2, stopped)
	assert.NotNil(t, w.execCtx)
}

type stoppingObject struct {
	fakeObject
	stopped *int
}

func (s stoppingObject) Stop() { *s.stopped++ }

func TestHandleUnknownCommandType(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)

	reply := w.Handle(context.Background(), ipc.CommandMessage{Type: ipc.CommandType("bogus")})
	assert.Equal(t, ipc.StatusError, reply.Status)
	assert.Equal(t, string(ipc.ErrProtocolUnknownCommand), reply.ErrorCode)
}

func TestPushWithoutCallbackLogsAndDrops(t *testing.T) {
	t.Parallel()

	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), nil)
	assert.NotPanics(t, func() { w.push("tick", map[string]any{"n": 1}) })
}

func TestPushForwardsToPublish(t *testing.T) {
	t.Parallel()

	var got ipc.PushMessage
	store := project.NewStore(t.TempDir())
	w := New(testLogger(t), store, t.TempDir(), func(msg ipc.PushMessage) { got = msg })

	w.push("tick", map[string]any{"n": 1})
	assert.Equal(t, "tick", got.Event)
	assert.Equal(t, 1, got.Data["n"])
}
