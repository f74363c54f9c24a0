package clicommand

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/nimbus-robotics/gatewayd/internal/config"
	"github.com/nimbus-robotics/gatewayd/internal/supervisor"
	"github.com/nimbus-robotics/gatewayd/process"
)

var (
	WorkerPathFlag = cli.StringFlag{
		Name:   "worker-path",
		Usage:  "Path to the gatewayd-worker binary (defaults to a sibling of this binary)",
		EnvVar: "GATEWAYD_WORKER_PATH",
	}

	EdgePathFlag = cli.StringFlag{
		Name:   "edge-path",
		Usage:  "Path to the gatewayd-edge binary (defaults to a sibling of this binary)",
		EnvVar: "GATEWAYD_EDGE_PATH",
	}

	SettleIntervalFlag = cli.DurationFlag{
		Name:   "settle-interval",
		Value:  2 * time.Second,
		Usage:  "How long to wait for a spawned Worker to bind its IPC endpoints before starting the Edge Server",
		EnvVar: "GATEWAYD_SETTLE_INTERVAL",
	}

	RespawnCooldownFlag = cli.DurationFlag{
		Name:   "respawn-cooldown",
		Value:  1 * time.Second,
		Usage:  "Pause before respawning a Worker that exited cleanly",
		EnvVar: "GATEWAYD_RESPAWN_COOLDOWN",
	}

	LivenessPollFlag = cli.DurationFlag{
		Name:   "liveness-poll",
		Value:  5 * time.Second,
		Usage:  "Cadence of the supervisor's child liveness check",
		EnvVar: "GATEWAYD_LIVENESS_POLL",
	}

	SignalGracePeriodFlag = cli.DurationFlag{
		Name:   "signal-grace-period",
		Value:  10 * time.Second,
		Usage:  "Grace period between interrupting and killing a child on shutdown",
		EnvVar: "GATEWAYD_SIGNAL_GRACE_PERIOD",
	}
)

var SupervisorStartCommand = cli.Command{
	Name:  "start",
	Usage: "Run the supervisor that spawns and monitors the worker and edge server",
	Flags: append(sharedConfigFlags(),
		WorkerPathFlag,
		EdgePathFlag,
		SettleIntervalFlag,
		RespawnCooldownFlag,
		LivenessPollFlag,
		SignalGracePeriodFlag,
	),
	Action: func(c *cli.Context) error {
		return supervisorStartAction(c)
	},
}

func supervisorStartAction(c *cli.Context) error {
	cfg, l, closeLog, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer closeLog()

	workerPath := c.String("worker-path")
	if workerPath == "" {
		workerPath, err = siblingBinary("gatewayd-worker")
		if err != nil {
			return err
		}
	}
	edgePath := c.String("edge-path")
	if edgePath == "" {
		edgePath, err = siblingBinary("gatewayd-edge")
		if err != nil {
			return err
		}
	}

	args := childConfigArgs(cfg)
	gracePeriod := c.Duration("signal-grace-period")

	sv := supervisor.New(l, supervisor.Config{
		Worker: process.Config{
			Path:              workerPath,
			Args:              args,
			Stdout:            os.Stdout,
			Stderr:            os.Stderr,
			InterruptSignal:   process.SIGTERM,
			SignalGracePeriod: gracePeriod,
		},
		Edge: process.Config{
			Path:              edgePath,
			Args:              args,
			Stdout:            os.Stdout,
			Stderr:            os.Stderr,
			InterruptSignal:   process.SIGTERM,
			SignalGracePeriod: gracePeriod,
		},
		CommandSocketPath:  cfg.IPCCommandSocket,
		CallbackSocketPath: cfg.IPCCallbackSocket,
		SettleInterval:     c.Duration("settle-interval"),
		RespawnCooldown:    c.Duration("respawn-cooldown"),
		LivenessPoll:       c.Duration("liveness-poll"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return sv.Run(ctx)
}

// siblingBinary resolves name relative to the currently running executable's
// directory, the way a supervisor distributed alongside its children is laid
// out on disk.
func siblingBinary(name string) (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolving executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(self), name), nil
}

// childConfigArgs re-serializes cfg onto a "start" command line so a spawned
// Worker or Edge Server sees exactly the configuration the Supervisor
// resolved, regardless of how the Supervisor itself received it (file, flag,
// or environment variable).
func childConfigArgs(cfg config.Config) []string {
	return []string{
		"start",
		"--ipc-command-socket", cfg.IPCCommandSocket,
		"--ipc-callback-socket", cfg.IPCCallbackSocket,
		"--edge-host", cfg.EdgeHost,
		"--edge-port", fmt.Sprint(cfg.EdgePort),
		"--identity-verify-url", cfg.IdentityVerifyURL,
		"--storage-root", cfg.StorageRoot,
		fmt.Sprintf("--encryption-enabled=%t", cfg.EncryptionEnabled),
		"--encryption-passphrase", cfg.EncryptionPassphrase,
		"--log-dir", cfg.LogDir,
		"--log-console-level", cfg.LogConsoleLevel,
		"--log-file-level", cfg.LogFileLevel,
		"--log-rotate-max-size-mb", fmt.Sprint(cfg.LogRotateMaxSizeMB),
		"--log-rotate-max-backups", fmt.Sprint(cfg.LogRotateMaxBackups),
	}
}
