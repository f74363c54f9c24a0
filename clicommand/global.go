// Package clicommand wires the flat internal/config.Config surface to
// urfave/cli flags and builds the logger each binary's "start" command runs
// with, following the teacher's own clicommand conventions (shared flag
// vars, a config-then-logger bootstrap step) without its build-specific
// subcommands.
package clicommand

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli"

	"github.com/nimbus-robotics/gatewayd/internal/config"
	"github.com/nimbus-robotics/gatewayd/logger"
)

var defaultConfig = config.Defaults()

var (
	ConfigFlag = cli.StringFlag{
		Name:   "config",
		Usage:  "Path to the YAML configuration file",
		EnvVar: "GATEWAYD_CONFIG",
	}

	IPCCommandSocketFlag = cli.StringFlag{
		Name:   "ipc-command-socket",
		Value:  defaultConfig.IPCCommandSocket,
		Usage:  "Unix socket path for the command channel",
		EnvVar: "GATEWAYD_IPC_COMMAND_SOCKET",
	}

	IPCCallbackSocketFlag = cli.StringFlag{
		Name:   "ipc-callback-socket",
		Value:  defaultConfig.IPCCallbackSocket,
		Usage:  "Unix socket path for the callback channel",
		EnvVar: "GATEWAYD_IPC_CALLBACK_SOCKET",
	}

	EdgeHostFlag = cli.StringFlag{
		Name:   "edge-host",
		Value:  defaultConfig.EdgeHost,
		Usage:  "Host the Edge Server's realtime channel listens on",
		EnvVar: "GATEWAYD_EDGE_HOST",
	}

	EdgePortFlag = cli.IntFlag{
		Name:   "edge-port",
		Value:  defaultConfig.EdgePort,
		Usage:  "Port the Edge Server's realtime channel listens on",
		EnvVar: "GATEWAYD_EDGE_PORT",
	}

	IdentityVerifyURLFlag = cli.StringFlag{
		Name:   "identity-verify-url",
		Value:  defaultConfig.IdentityVerifyURL,
		Usage:  "URL of the identity collaborator's credential verify endpoint",
		EnvVar: "GATEWAYD_IDENTITY_VERIFY_URL",
	}

	StorageRootFlag = cli.StringFlag{
		Name:   "storage-root",
		Value:  defaultConfig.StorageRoot,
		Usage:  "Root directory for project storage and compiled plugins",
		EnvVar: "GATEWAYD_STORAGE_ROOT",
	}

	EncryptionEnabledFlag = cli.BoolFlag{
		Name:   "encryption-enabled",
		Usage:  "Encrypt realtime channel payloads with the OpenSSL-compatible envelope",
		EnvVar: "GATEWAYD_ENCRYPTION_ENABLED",
	}

	EncryptionPassphraseFlag = cli.StringFlag{
		Name:   "encryption-passphrase",
		Usage:  "Passphrase used to derive the payload encryption key",
		EnvVar: "GATEWAYD_ENCRYPTION_PASSPHRASE",
	}

	LogDirFlag = cli.StringFlag{
		Name:   "log-dir",
		Value:  defaultConfig.LogDir,
		Usage:  "Directory for the rotating on-disk log file",
		EnvVar: "GATEWAYD_LOG_DIR",
	}

	LogConsoleLevelFlag = cli.StringFlag{
		Name:   "log-console-level",
		Value:  defaultConfig.LogConsoleLevel,
		Usage:  "Minimum level logged to the console",
		EnvVar: "GATEWAYD_LOG_CONSOLE_LEVEL",
	}

	LogFileLevelFlag = cli.StringFlag{
		Name:   "log-file-level",
		Value:  defaultConfig.LogFileLevel,
		Usage:  "Minimum level logged to the rotating on-disk log file",
		EnvVar: "GATEWAYD_LOG_FILE_LEVEL",
	}

	LogRotateMaxSizeMBFlag = cli.IntFlag{
		Name:   "log-rotate-max-size-mb",
		Value:  defaultConfig.LogRotateMaxSizeMB,
		Usage:  "Size in megabytes at which the on-disk log file is rotated",
		EnvVar: "GATEWAYD_LOG_ROTATE_MAX_SIZE_MB",
	}

	LogRotateMaxBackupsFlag = cli.IntFlag{
		Name:   "log-rotate-max-backups",
		Value:  defaultConfig.LogRotateMaxBackups,
		Usage:  "Number of rotated log file backups to retain",
		EnvVar: "GATEWAYD_LOG_ROTATE_MAX_BACKUPS",
	}
)

// sharedConfigFlags are accepted by every "start" command. Each binary loads
// the same configuration surface, since the Supervisor re-serializes its own
// merged config onto the command line of the children it spawns.
func sharedConfigFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		IPCCommandSocketFlag,
		IPCCallbackSocketFlag,
		EdgeHostFlag,
		EdgePortFlag,
		IdentityVerifyURLFlag,
		StorageRootFlag,
		EncryptionEnabledFlag,
		EncryptionPassphraseFlag,
		LogDirFlag,
		LogConsoleLevelFlag,
		LogFileLevelFlag,
		LogRotateMaxSizeMBFlag,
		LogRotateMaxBackupsFlag,
	}
}

// loadConfig merges defaults, the configuration file, and CLI flags/environment
// variables, in that increasing order of priority.
func loadConfig(c *cli.Context) (config.Config, []string, error) {
	loader := config.Loader{CLI: c}
	return loader.Load()
}

// createLogger builds a console+rotating-file logger per cfg's log section,
// gating each destination by its own configured level. The returned func
// closes the log file and must be deferred by the caller.
func createLogger(cfg config.Config) (logger.Logger, func() error, error) {
	consoleLevel, err := logger.LevelFromString(cfg.LogConsoleLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log-console-level: %w", err)
	}
	fileLevel, err := logger.LevelFromString(cfg.LogFileLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log-file-level: %w", err)
	}

	logFile, err := logger.NewRotatingFile(
		filepath.Join(cfg.LogDir, "gatewayd.log"),
		cfg.LogRotateMaxSizeMB,
		cfg.LogRotateMaxBackups,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	printer := &logger.DualPrinter{
		Console:      logger.NewTextPrinter(os.Stderr),
		ConsoleLevel: consoleLevel,
		File:         logger.NewJSONPrinter(logFile),
		FileLevel:    fileLevel,
	}

	return logger.NewConsoleLogger(printer, os.Exit), logFile.Close, nil
}

// bootstrap loads configuration and builds a logger in one step, warning
// through the resulting logger about anything the loader noticed.
func bootstrap(c *cli.Context) (config.Config, logger.Logger, func() error, error) {
	cfg, warnings, err := loadConfig(c)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	l, closeLog, err := createLogger(cfg)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	for _, warning := range warnings {
		l.Warn("%s", warning)
	}

	return cfg, l, closeLog, nil
}
