package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"time"

	"github.com/nimbus-robotics/gatewayd/logger"
	gwprocess "github.com/nimbus-robotics/gatewayd/process"
)

// Builder compiles a project's Go source tree into a loadable plugin,
// invoking the toolchain exactly as the Worker invokes any other child
// process — through the process package.
type Builder struct {
	log logger.Logger
}

// NewBuilder creates a Builder that logs via l.
func NewBuilder(l logger.Logger) *Builder {
	return &Builder{log: l}
}

// pluginModuleFile is the go.mod Build writes into every extracted project
// before compiling it. Go 1.25 requires module mode to build a plugin, and
// archive.Validate never admits a ".mod" member (see allowedExtensions), so
// an uploaded project can never supply its own — the Worker synthesizes a
// minimal one instead, keeping the module name and requirements entirely
// out of the archive's trust boundary.
const pluginModuleFile = "module gatewaydproject\n\ngo 1.21\n"

// Build runs `go build -buildmode=plugin` against sourceDir, producing a
// .so at outPath.
func (b *Builder) Build(ctx context.Context, sourceDir, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating plugin output directory: %w", err)
	}

	modPath := filepath.Join(sourceDir, "go.mod")
	if err := os.WriteFile(modPath, []byte(pluginModuleFile), 0o644); err != nil {
		return fmt.Errorf("writing build module file: %w", err)
	}

	p := gwprocess.New(b.log, gwprocess.Config{
		Path:              "go",
		Args:              []string{"build", "-buildmode=plugin", "-o", outPath, "."},
		Dir:               sourceDir,
		SignalGracePeriod: 5 * time.Second,
	})

	if err := p.Run(ctx); err != nil {
		return fmt.Errorf("running go build: %w", err)
	}

	if status := p.WaitStatus().ExitStatus(); status != 0 {
		return fmt.Errorf("go build exited with status %d", status)
	}

	return nil
}

// Load opens the plugin at pluginPath and calls its exported Register
// (required), ModuleStop (optional), and Init (optional) entry points,
// returning a ready Context.
func Load(pluginPath string, push PushFunc) (*Context, error) {
	p, err := plugin.Open(pluginPath)
	if err != nil {
		return nil, fmt.Errorf("opening plugin: %w", err)
	}

	registerSym, err := p.Lookup("Register")
	if err != nil {
		return nil, fmt.Errorf("plugin does not export Register: %w", err)
	}
	register, ok := registerSym.(func(PushFunc) map[string]Factory)
	if !ok {
		return nil, fmt.Errorf("plugin's Register has the wrong signature")
	}

	factories := register(push)

	var moduleStop ModuleStop
	if sym, err := p.Lookup("ModuleStop"); err == nil {
		if fn, ok := sym.(func()); ok {
			moduleStop = fn
		}
	}

	execCtx := NewContext(pluginPath, factories, moduleStop)

	if sym, err := p.Lookup("Init"); err == nil {
		if fn, ok := sym.(func() error); ok {
			if err := fn(); err != nil {
				return nil, fmt.Errorf("plugin Init failed: %w", err)
			}
		}
	}

	return execCtx, nil
}
