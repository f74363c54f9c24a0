// Package worker implements the Worker process's command handlers and
// restart state machine: project extraction and detection, executor
// load/dispatch, and the best-effort disconnect cleanup protocol.
//
// It is intended for internal use by gatewayd only.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/nimbus-robotics/gatewayd/internal/archive"
	"github.com/nimbus-robotics/gatewayd/internal/ipc"
	"github.com/nimbus-robotics/gatewayd/internal/project"
	"github.com/nimbus-robotics/gatewayd/internal/sandbox"
	"github.com/nimbus-robotics/gatewayd/logger"
)

// Worker holds the command loop's state across requests. It is only ever
// touched from the goroutine driving the command channel — the command
// server rejects re-entrant calls rather than queuing them, so Worker does
// not need its own locking.
type Worker struct {
	log       logger.Logger
	store     *project.Store
	builder   *sandbox.Builder
	pluginDir string
	publish   func(ipc.PushMessage)

	project          project.Project
	execCtx          *sandbox.Context
	hasLoadedProject bool
	restartPending   bool
	restartSignaled  bool
	restartCh        chan struct{}
}

// New creates a Worker rooted at store, compiling plugins into pluginDir.
// publish may be nil, in which case push calls are logged and dropped.
func New(l logger.Logger, store *project.Store, pluginDir string, publish func(ipc.PushMessage)) *Worker {
	return &Worker{
		log:       l,
		store:     store,
		builder:   sandbox.NewBuilder(l),
		pluginDir: pluginDir,
		publish:   publish,
		restartCh: make(chan struct{}),
	}
}

// RestartRequested is closed exactly once the Worker decides it must exit(0)
// to let the Supervisor respawn it and truly clear the module cache. The
// caller (clicommand's worker start action) is responsible for exiting shortly after the
// triggering command's reply has been written.
func (w *Worker) RestartRequested() <-chan struct{} { return w.restartCh }

// push is the callable bound into loaded plugins as the push_message
// injection point (spec 4.4, "push injection").
func (w *Worker) push(event string, data map[string]any) {
	if w.publish == nil {
		w.log.Warn("[Worker] push %q dropped: no callback channel attached", event)
		return
	}
	w.publish(ipc.NewPush(event, data))
}

// AutoLoad runs the Worker's start-up sequence: seed current from default if
// empty, then detect and load current if non-empty. Failures are logged,
// never fatal — a subsequent update can still supply working code.
func (w *Worker) AutoLoad(ctx context.Context) {
	if err := w.store.SeedFromDefault(); err != nil {
		w.log.Warn("[Worker] seeding default project failed: %v", err)
	}

	empty, err := project.IsEmpty(w.store.CurrentDir())
	if err != nil {
		w.log.Warn("[Worker] checking current project failed: %v", err)
		return
	}
	if empty {
		return
	}

	if err := w.detectAndLoad(ctx); err != nil {
		w.log.Warn("[Worker] auto-load failed: %v", err)
	}
}

// Handle dispatches a single command. It is never called concurrently with
// itself by the command server.
func (w *Worker) Handle(ctx context.Context, cmd ipc.CommandMessage) ipc.ReplyMessage {
	switch cmd.Type {
	case ipc.CommandUpdate:
		return w.handleUpdate(ctx, cmd)
	case ipc.CommandStart:
		return w.handleStart(ctx)
	case ipc.CommandProcess:
		return w.handleProcess(ctx, cmd)
	case ipc.CommandClientDisconnected:
		return w.handleDisconnected()
	default:
		return ipc.Failure(ipc.ErrProtocolUnknownCommand, fmt.Sprintf("unknown command type %q", cmd.Type))
	}
}

func (w *Worker) handleUpdate(_ context.Context, cmd ipc.CommandMessage) ipc.ReplyMessage {
	data, ok := cmd.Data["data"].(string)
	if !ok {
		return ipc.Failure(ipc.ErrProtocolMissingField, `update requires a "data" field`)
	}

	if w.execCtx != nil {
		w.restartPending = true
		// Soft, in-process teardown: stop background activity and evict
		// memoized instances. The loaded plugin itself cannot be unloaded;
		// true eviction only happens once the process is recycled below.
		w.execCtx.StopInstances(func(object string, err error) {
			w.log.Warn("[Worker] stop hook for %q failed during update: %v", object, err)
		})
		w.execCtx.ClearInstances()
	}

	arc, err := archive.Decode(data)
	if err != nil {
		switch {
		case errors.Is(err, archive.ErrInvalidBase64):
			return ipc.Failure(ipc.ErrProjectInvalidBase64, err.Error())
		case errors.Is(err, archive.ErrNotAZip):
			return ipc.Failure(ipc.ErrProjectNotAZip, err.Error())
		default:
			return ipc.Failure(ipc.ErrProjectArchiveRejected, err.Error())
		}
	}

	if err := arc.Validate(); err != nil {
		return ipc.Failure(ipc.ErrProjectArchiveRejected, err.Error())
	}

	currentDir := w.store.CurrentDir()
	if err := os.RemoveAll(currentDir); err != nil {
		return ipc.Failure(ipc.ErrProjectArchiveRejected, fmt.Sprintf("clearing current project: %v", err))
	}
	if err := os.MkdirAll(currentDir, 0o755); err != nil {
		return ipc.Failure(ipc.ErrProjectArchiveRejected, fmt.Sprintf("preparing current project: %v", err))
	}
	if err := arc.Extract(currentDir); err != nil {
		return ipc.Failure(ipc.ErrProjectArchiveRejected, err.Error())
	}

	proj, err := project.Detect(currentDir)
	if err != nil {
		return ipc.Failure(ipc.ErrProjectInvalidKind, err.Error())
	}
	w.project = proj

	reply := ipc.Success("project updated", map[string]any{
		"worker_will_restart": w.restartPending,
	})

	if w.restartPending && !w.restartSignaled {
		w.restartSignaled = true
		close(w.restartCh)
	}

	return reply
}

func (w *Worker) handleStart(ctx context.Context) ipc.ReplyMessage {
	if w.execCtx != nil {
		return ipc.Success("already started", nil)
	}

	if err := w.detectAndLoad(ctx); err != nil {
		if errors.Is(err, project.ErrNoEntryFile) {
			return ipc.Failure(ipc.ErrProjectInvalidKind, err.Error())
		}
		return ipc.Failure(ipc.ErrExecNoExecutor, err.Error())
	}

	w.hasLoadedProject = true
	return ipc.Success("started", nil)
}

func (w *Worker) handleProcess(ctx context.Context, cmd ipc.CommandMessage) ipc.ReplyMessage {
	if w.execCtx == nil {
		if err := w.detectAndLoad(ctx); err != nil {
			return ipc.Failure(ipc.ErrProjectNoProject, err.Error())
		}
		w.hasLoadedProject = true
	}

	params, ok := cmd.Data["params"].(map[string]any)
	if !ok {
		return ipc.Failure(ipc.ErrProtocolMissingField, `process requires a "params" field`)
	}

	object, _ := params["object"].(string)
	method, _ := params["method"].(string)
	if object == "" || method == "" {
		return ipc.Failure(ipc.ErrProtocolInvalidParams, "params.object and params.method are required")
	}

	args, _ := params["args"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	result, err := w.execCtx.Invoke(object, method, args)
	if err != nil {
		switch {
		case errors.Is(err, sandbox.ErrObjectNotFound):
			return ipc.Failure(ipc.ErrExecNoObject, err.Error())
		case errors.Is(err, sandbox.ErrMethodNotFound):
			return ipc.Failure(ipc.ErrExecNoMethod, err.Error())
		default:
			return ipc.Failure(ipc.ErrExecInvocation, err.Error())
		}
	}

	return ipc.Success("", map[string]any{"result": result})
}

func (w *Worker) handleDisconnected() ipc.ReplyMessage {
	if w.execCtx != nil {
		w.execCtx.StopInstances(func(object string, err error) {
			w.log.Warn("[Worker] stop hook for %q failed on disconnect: %v", object, err)
		})
	}
	return ipc.Success("", nil)
}

// detectAndLoad resolves the in-memory project (detecting from disk if
// unknown), compiles it, and loads the resulting plugin, populating execCtx
// on success. It re-detects only when no project is recorded in memory, but
// builds and loads on every call; its callers invoke it only while no
// executor is loaded.
func (w *Worker) detectAndLoad(ctx context.Context) error {
	if w.project.Root == "" {
		proj, err := project.Detect(w.store.CurrentDir())
		if err != nil {
			return err
		}
		w.project = proj
	}

	pluginPath := filepath.Join(w.pluginDir, fmt.Sprintf("project-%s.so", uuid.NewString()))
	if err := w.builder.Build(ctx, w.project.Root, pluginPath); err != nil {
		return fmt.Errorf("building project: %w", err)
	}

	execCtx, err := sandbox.Load(pluginPath, w.push)
	if err != nil {
		return fmt.Errorf("loading project: %w", err)
	}

	w.execCtx = execCtx
	return nil
}
