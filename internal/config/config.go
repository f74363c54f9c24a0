// Package config loads gatewayd's configuration, merging (in increasing
// priority) built-in defaults, a YAML config file, environment variables,
// and command-line flags.
//
// It is intended for internal use by gatewayd only.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/oleiade/reflections"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFilePaths are searched, in order, when --config is not given.
var DefaultConfigFilePaths = []string{
	"gatewayd.yaml",
	"/etc/gatewayd/gatewayd.yaml",
}

// Config is gatewayd's fully merged runtime configuration. Fields are flat
// (rather than mirroring the nested YAML shape) so they can carry `cli`
// tags and be addressed directly by flag/env overrides, following the same
// field-tag convention the command-line flags themselves use.
type Config struct {
	IPCCommandSocket  string `cli:"ipc-command-socket" validate:"required"`
	IPCCallbackSocket string `cli:"ipc-callback-socket" validate:"required"`

	EdgeHost string `cli:"edge-host" validate:"required"`
	EdgePort int    `cli:"edge-port" validate:"required"`

	IdentityVerifyURL string `cli:"identity-verify-url" validate:"required"`

	StorageRoot string `cli:"storage-root" validate:"required"`

	EncryptionEnabled    bool   `cli:"encryption-enabled"`
	EncryptionPassphrase string `cli:"encryption-passphrase"`

	LogDir                string `cli:"log-dir"`
	LogConsoleLevel       string `cli:"log-console-level"`
	LogFileLevel          string `cli:"log-file-level"`
	LogRotateMaxSizeMB    int    `cli:"log-rotate-max-size-mb"`
	LogRotateMaxBackups   int    `cli:"log-rotate-max-backups"`
}

// Defaults returns the built-in configuration, matching the documented
// example configuration file.
func Defaults() Config {
	return Config{
		IPCCommandSocket:     "/var/run/gatewayd/command.sock",
		IPCCallbackSocket:    "/var/run/gatewayd/callback.sock",
		EdgeHost:             "0.0.0.0",
		EdgePort:             8443,
		IdentityVerifyURL:    "http://localhost:9000/auth/verify",
		StorageRoot:          "/var/lib/gatewayd/storage",
		EncryptionEnabled:    false,
		EncryptionPassphrase: "",
		LogDir:               "/var/log/gatewayd",
		LogConsoleLevel:      "info",
		LogFileLevel:         "debug",
		LogRotateMaxSizeMB:   50,
		LogRotateMaxBackups:  5,
	}
}

// fileShape mirrors the on-disk YAML layout, which is nested for
// readability even though Config itself is flat.
type fileShape struct {
	IPC struct {
		CommandSocket  string `yaml:"command_socket"`
		CallbackSocket string `yaml:"callback_socket"`
	} `yaml:"ipc"`
	Edge struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"edge"`
	Identity struct {
		VerifyURL string `yaml:"verify_url"`
	} `yaml:"identity"`
	Storage struct {
		Root string `yaml:"root"`
	} `yaml:"storage"`
	Encryption struct {
		Enabled    bool   `yaml:"enabled"`
		Passphrase string `yaml:"passphrase"`
	} `yaml:"encryption"`
	Log struct {
		Dir             string `yaml:"dir"`
		ConsoleLevel    string `yaml:"console_level"`
		FileLevel       string `yaml:"file_level"`
		RotateMaxSizeMB int    `yaml:"rotate_max_size_mb"`
		RotateMaxBackups int   `yaml:"rotate_max_backups"`
	} `yaml:"log"`
}

// applyTo overlays every non-zero field of the parsed file onto cfg.
func (f fileShape) applyTo(cfg *Config) {
	if f.IPC.CommandSocket != "" {
		cfg.IPCCommandSocket = f.IPC.CommandSocket
	}
	if f.IPC.CallbackSocket != "" {
		cfg.IPCCallbackSocket = f.IPC.CallbackSocket
	}
	if f.Edge.Host != "" {
		cfg.EdgeHost = f.Edge.Host
	}
	if f.Edge.Port != 0 {
		cfg.EdgePort = f.Edge.Port
	}
	if f.Identity.VerifyURL != "" {
		cfg.IdentityVerifyURL = f.Identity.VerifyURL
	}
	if f.Storage.Root != "" {
		cfg.StorageRoot = f.Storage.Root
	}
	cfg.EncryptionEnabled = f.Encryption.Enabled
	if f.Encryption.Passphrase != "" {
		cfg.EncryptionPassphrase = f.Encryption.Passphrase
	}
	if f.Log.Dir != "" {
		cfg.LogDir = f.Log.Dir
	}
	if f.Log.ConsoleLevel != "" {
		cfg.LogConsoleLevel = f.Log.ConsoleLevel
	}
	if f.Log.FileLevel != "" {
		cfg.LogFileLevel = f.Log.FileLevel
	}
	if f.Log.RotateMaxSizeMB != 0 {
		cfg.LogRotateMaxSizeMB = f.Log.RotateMaxSizeMB
	}
	if f.Log.RotateMaxBackups != 0 {
		cfg.LogRotateMaxBackups = f.Log.RotateMaxBackups
	}
}

// Loader merges defaults, a config file, and CLI flags/environment
// variables into a single Config, in that increasing order of priority.
type Loader struct {
	CLI                    *cli.Context
	DefaultConfigFilePaths []string
}

// Load runs the full merge and validates the result.
func (l *Loader) Load() (Config, []string, error) {
	var warnings []string
	cfg := Defaults()

	path := ""
	if l.CLI != nil {
		path = l.CLI.String("config")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return cfg, warnings, fmt.Errorf("configuration file %q not found: %w", path, err)
		}
	} else {
		paths := l.DefaultConfigFilePaths
		if paths == nil {
			paths = DefaultConfigFilePaths
		}
		for _, candidate := range paths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, warnings, fmt.Errorf("reading configuration file %q: %w", path, err)
		}

		var parsed fileShape
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			return cfg, warnings, fmt.Errorf("parsing configuration file %q: %w", path, err)
		}
		parsed.applyTo(&cfg)
	}

	if l.CLI != nil {
		if err := l.applyCLI(&cfg); err != nil {
			return cfg, warnings, err
		}
	}

	if err := l.validate(cfg); err != nil {
		return cfg, warnings, err
	}

	return cfg, warnings, nil
}

// applyCLI overlays any flag or environment-backed value explicitly set on
// the CLI context, following the same cli-tag convention (and IsSet/env
// fallback behavior) used elsewhere for flattened flag structs.
func (l *Loader) applyCLI(cfg *Config) error {
	fields, err := reflections.FieldsDeep(*cfg)
	if err != nil {
		return fmt.Errorf("enumerating config fields: %w", err)
	}

	for _, fieldName := range fields {
		cliName, _ := reflections.GetFieldTag(*cfg, fieldName, "cli")
		if cliName == "" {
			continue
		}

		if !l.cliValueIsSet(cliName) {
			continue
		}

		kind, err := reflections.GetFieldKind(*cfg, fieldName)
		if err != nil {
			return fmt.Errorf("getting kind of field %q: %w", fieldName, err)
		}

		var value any
		switch kind {
		case reflect.String:
			value = l.CLI.String(cliName)
		case reflect.Bool:
			value = l.CLI.Bool(cliName)
		case reflect.Int:
			value = l.CLI.Int(cliName)
		default:
			return fmt.Errorf("unsupported field kind %s for %q", kind, fieldName)
		}

		if err := reflections.SetField(cfg, fieldName, value); err != nil {
			return fmt.Errorf("setting field %q: %w", fieldName, err)
		}
	}

	return nil
}

func (l *Loader) cliValueIsSet(cliName string) bool {
	if l.CLI.IsSet(cliName) {
		return true
	}

	for _, flag := range l.CLI.Command.Flags {
		name, _ := reflections.GetField(flag, "Name")
		envVar, _ := reflections.GetField(flag, "EnvVar")
		if name != cliName {
			continue
		}
		if envVarStr, ok := envVar.(string); ok && envVarStr != "" {
			for candidate := range strings.SplitSeq(envVarStr, ",") {
				if os.Getenv(strings.TrimSpace(candidate)) != "" {
					return true
				}
			}
		}
	}

	return false
}

func (l *Loader) validate(cfg Config) error {
	fields, err := reflections.FieldsDeep(cfg)
	if err != nil {
		return fmt.Errorf("enumerating config fields: %w", err)
	}

	for _, fieldName := range fields {
		rule, _ := reflections.GetFieldTag(cfg, fieldName, "validate")
		if rule != "required" {
			continue
		}

		value, _ := reflections.GetField(cfg, fieldName)
		if isZero(value) {
			cliName, _ := reflections.GetFieldTag(cfg, fieldName, "cli")
			return fmt.Errorf("missing required configuration value %q (--%s)", fieldName, cliName)
		}
	}

	return nil
}

func isZero(value any) bool {
	switch v := value.(type) {
	case string:
		return v == ""
	case int:
		return v == 0
	case bool:
		return !v
	default:
		return false
	}
}

// FlagNames returns the "cli" tag of every Config field, for wiring urfave/cli
// flag definitions without hand-duplicating the field list.
func FlagNames() []string {
	names := []string{}
	fields, _ := reflections.FieldsDeep(Config{})
	for _, fieldName := range fields {
		if tag, _ := reflections.GetFieldTag(Config{}, fieldName, "cli"); tag != "" {
			names = append(names, tag)
		}
	}
	return names
}
