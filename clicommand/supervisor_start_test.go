package clicommand

import (
	"testing"

	"github.com/urfave/cli"

	"github.com/nimbus-robotics/gatewayd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseChildArgs runs args through a cli.App carrying the real shared flags,
// the way a spawned Worker or Edge Server binary would, and returns the
// resulting context for assertions.
func parseChildArgs(t *testing.T, args []string) *cli.Context {
	t.Helper()

	var got *cli.Context
	app := cli.NewApp()
	app.Commands = []cli.Command{
		{
			Name:  "start",
			Flags: sharedConfigFlags(),
			Action: func(c *cli.Context) error {
				got = c
				return nil
			},
		},
	}

	require.NoError(t, app.Run(append([]string{"gatewayd"}, args...)))
	require.NotNil(t, got)
	return got
}

func TestChildConfigArgsRoundTripsEncryptionDisabled(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.EncryptionEnabled = false

	c := parseChildArgs(t, childConfigArgs(cfg))
	assert.False(t, c.Bool("encryption-enabled"))
	// A following positional token must not be consumed or leaked as a
	// stray argument: the bug this guards against serialized the bool as
	// two tokens, which left "false"/"true" as an unparsed arg.
	assert.Empty(t, c.Args())
}

func TestChildConfigArgsRoundTripsEncryptionEnabled(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.EncryptionEnabled = true
	cfg.EncryptionPassphrase = "s3cr3t"

	c := parseChildArgs(t, childConfigArgs(cfg))
	assert.True(t, c.Bool("encryption-enabled"))
	assert.Equal(t, "s3cr3t", c.String("encryption-passphrase"))
	assert.Empty(t, c.Args())
}
