// Package supervisor implements the parent process: IPC endpoint hygiene,
// spawning the Worker and Edge Server as children, liveness polling, and the
// Worker-exit-0 respawn (“code reload”) path.
//
// It is intended for internal use by gatewayd only.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nimbus-robotics/gatewayd/internal/ipc"
	"github.com/nimbus-robotics/gatewayd/logger"
	"github.com/nimbus-robotics/gatewayd/process"
)

// Config configures one supervised run.
type Config struct {
	Worker process.Config
	Edge   process.Config

	CommandSocketPath  string
	CallbackSocketPath string

	// SettleInterval is how long the Supervisor waits after spawning the
	// Worker before spawning the Edge Server (and after each Worker
	// respawn), giving the Worker time to bind its IPC endpoints.
	SettleInterval time.Duration
	// RespawnCooldown is the pause before respawning a Worker that exited
	// with status 0.
	RespawnCooldown time.Duration
	// LivenessPoll is the cadence of the child liveness check.
	LivenessPoll time.Duration
}

// Supervisor owns the Worker and Edge Server child processes for one run.
type Supervisor struct {
	log logger.Logger
	cfg Config
}

// New creates a Supervisor from cfg.
func New(l logger.Logger, cfg Config) *Supervisor {
	return &Supervisor{log: l, cfg: cfg}
}

// Run unlinks stale IPC endpoints, spawns the Worker then the Edge Server,
// and blocks until ctx is cancelled or either child exits in a way that
// demands fatal teardown. On ctx cancellation both children are stopped
// gracefully (process.Process applies SIGTERM, a grace period, then
// SIGKILL internally) and Run returns nil.
func (sv *Supervisor) Run(ctx context.Context) error {
	sv.unlinkStaleSockets()

	worker, workerCancel, workerDone := sv.spawn(sv.cfg.Worker)
	defer workerCancel()
	sv.awaitSettle(worker)

	edge, edgeCancel, edgeDone := sv.spawn(sv.cfg.Edge)
	defer edgeCancel()

	ticker := time.NewTicker(sv.cfg.LivenessPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sv.log.Info("[Supervisor] shutdown requested, stopping children")
			workerCancel()
			edgeCancel()
			<-workerDone
			<-edgeDone
			return nil

		case err := <-workerDone:
			status := worker.WaitStatus().ExitStatus()
			if err == nil && status == 0 {
				sv.log.Info("[Supervisor] worker exited cleanly, respawning after cooldown")
				time.Sleep(sv.cfg.RespawnCooldown)
				worker, workerCancel, workerDone = sv.spawn(sv.cfg.Worker)
				sv.awaitSettle(worker)
				continue
			}

			sv.log.Error("[Supervisor] worker exited fatally (status=%d, err=%v); tearing down", status, err)
			edgeCancel()
			<-edgeDone
			return fmt.Errorf("worker exited fatally with status %d: %w", status, errOrNil(err))

		case err := <-edgeDone:
			sv.log.Error("[Supervisor] edge server exited (err=%v); tearing down", err)
			workerCancel()
			<-workerDone
			return fmt.Errorf("edge server exited: %w", errOrNil(err))

		case <-ticker.C:
			// The channel sends above already observe Worker/Edge liveness
			// every loop iteration; the ticker just keeps the select from
			// blocking forever when both children are healthy and idle.
		}
	}
}

// spawn starts one child under its own cancellable context, so Run can stop
// it independently of the other child and of ctx itself.
func (sv *Supervisor) spawn(cfg process.Config) (*process.Process, context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	p := process.New(sv.log, cfg)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	return p, cancel, done
}

// awaitSettle waits for the settle interval to elapse, or returns early if
// the process has already exited (so a fast-crashing child doesn't stall
// startup for the full interval).
func (sv *Supervisor) awaitSettle(p *process.Process) {
	select {
	case <-time.After(sv.cfg.SettleInterval):
	case <-p.Done():
	}
}

func (sv *Supervisor) unlinkStaleSockets() {
	var paths []string
	for _, socketPath := range []string{sv.cfg.CommandSocketPath, sv.cfg.CallbackSocketPath} {
		if socketPath == "" {
			continue
		}
		paths = append(paths, socketPath, ipc.TokenFilePath(socketPath))
	}

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			sv.log.Warn("[Supervisor] removing stale socket %s: %v", path, err)
		}
	}
}

func errOrNil(err error) error {
	if err != nil {
		return err
	}
	return errors.New("non-zero exit")
}
