package ipc

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// tokenSuffix names the file a channel's bearer token is written to,
// alongside its Unix socket, so the Edge Server (a separate process spawned
// independently by the Supervisor) can pick up a token it was never handed
// directly.
const tokenSuffix = ".token"

// WriteTokenFile writes token for the channel bound to socketPath, so a
// process without a direct handle to the server can authenticate against it.
func WriteTokenFile(socketPath, token string) error {
	if err := os.WriteFile(socketPath+tokenSuffix, []byte(token), 0o600); err != nil {
		return fmt.Errorf("writing token file for %s: %w", socketPath, err)
	}
	return nil
}

// WaitForTokenFile polls for the token file written by WriteTokenFile,
// returning once it appears or ctx/timeout elapses first. The Supervisor's
// settle interval makes this the common case resolve immediately; the retry
// loop only matters when a Worker is slow to start.
func WaitForTokenFile(ctx context.Context, socketPath string, timeout time.Duration) (string, error) {
	path := socketPath + tokenSuffix
	deadline := time.After(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if raw, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(raw)), nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", fmt.Errorf("timed out waiting for token file %s", path)
		case <-ticker.C:
		}
	}
}

// TokenFilePath returns the path WriteTokenFile/WaitForTokenFile use for the
// channel bound to socketPath, so callers that only unlink stale sockets can
// unlink the matching token file too.
func TokenFilePath(socketPath string) string {
	return socketPath + tokenSuffix
}
