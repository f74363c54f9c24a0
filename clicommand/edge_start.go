package clicommand

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/nimbus-robotics/gatewayd/internal/edge"
	"github.com/nimbus-robotics/gatewayd/internal/identity"
	"github.com/nimbus-robotics/gatewayd/internal/ipc"
)

// tokenWaitTimeout bounds how long the Edge Server waits for the Worker to
// publish its IPC bearer tokens before giving up. The Supervisor's settle
// interval makes this resolve almost immediately in the common case.
const tokenWaitTimeout = 30 * time.Second

const shutdownGrace = 5 * time.Second

var EdgeStartCommand = cli.Command{
	Name:  "start",
	Usage: "Run the edge server that terminates the realtime channel",
	Flags: sharedConfigFlags(),
	Action: func(c *cli.Context) error {
		return edgeStartAction(c)
	},
}

func edgeStartAction(c *cli.Context) error {
	cfg, l, closeLog, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmdToken, err := ipc.WaitForTokenFile(ctx, cfg.IPCCommandSocket, tokenWaitTimeout)
	if err != nil {
		return fmt.Errorf("waiting for command channel token: %w", err)
	}
	cbToken, err := ipc.WaitForTokenFile(ctx, cfg.IPCCallbackSocket, tokenWaitTimeout)
	if err != nil {
		return fmt.Errorf("waiting for callback channel token: %w", err)
	}

	cmdClient, err := ipc.NewCommandClient(ctx, cfg.IPCCommandSocket, cmdToken)
	if err != nil {
		return fmt.Errorf("dialing command channel: %w", err)
	}
	cbClient, err := ipc.NewCallbackClient(ctx, cfg.IPCCallbackSocket, cbToken)
	if err != nil {
		return fmt.Errorf("dialing callback channel: %w", err)
	}

	verifier := identity.NewVerifier(l, cfg.IdentityVerifyURL)
	srv := edge.NewServer(l, verifier, cmdClient, cbClient, cfg.EncryptionEnabled, cfg.EncryptionPassphrase)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.EdgeHost, cfg.EdgePort),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("[Edge] listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		l.Info("[Edge] shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
