package clicommand

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/nimbus-robotics/gatewayd/internal/ipc"
	"github.com/nimbus-robotics/gatewayd/internal/project"
	"github.com/nimbus-robotics/gatewayd/internal/worker"
)

// restartExitGrace bounds how long workerStartAction waits, after a restart
// is requested, for the triggering command's reply to finish writing before
// calling it quits with exit(0) so the Supervisor can respawn it.
const restartExitGrace = 500 * time.Millisecond

var WorkerStartCommand = cli.Command{
	Name:  "start",
	Usage: "Run the worker process that loads and executes project code",
	Flags: sharedConfigFlags(),
	Action: func(c *cli.Context) error {
		return workerStartAction(c)
	},
}

func workerStartAction(c *cli.Context) error {
	cfg, l, closeLog, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := project.NewStore(cfg.StorageRoot)
	pluginDir := filepath.Join(cfg.StorageRoot, "plugins")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return err
	}

	var cbSvr *ipc.CallbackServer
	w := worker.New(l, store, pluginDir, func(msg ipc.PushMessage) {
		if cbSvr != nil {
			cbSvr.Publish(msg)
		}
	})

	cmdSvr, cmdToken, err := ipc.NewCommandServer(l, cfg.IPCCommandSocket, w.Handle)
	if err != nil {
		return err
	}
	defer cmdSvr.Shutdown(context.Background())
	if err := ipc.WriteTokenFile(cfg.IPCCommandSocket, cmdToken); err != nil {
		return err
	}

	cbSvr, cbToken, err := ipc.NewCallbackServer(l, cfg.IPCCallbackSocket)
	if err != nil {
		return err
	}
	defer cbSvr.Shutdown(context.Background())
	if err := ipc.WriteTokenFile(cfg.IPCCallbackSocket, cbToken); err != nil {
		return err
	}

	go func() {
		if err := cmdSvr.Start(); err != nil {
			l.Error("[Worker] command server: %v", err)
		}
	}()
	go func() {
		if err := cbSvr.Start(); err != nil {
			l.Error("[Worker] callback server: %v", err)
		}
	}()

	w.AutoLoad(ctx)
	l.Info("[Worker] ready, awaiting commands on %s", cfg.IPCCommandSocket)

	select {
	case <-ctx.Done():
		l.Info("[Worker] shutdown requested")
		return nil
	case <-w.RestartRequested():
		l.Info("[Worker] restart requested, exiting cleanly for respawn")
		time.Sleep(restartExitGrace)
		os.Exit(0)
		return nil
	}
}
