// Package launcher starts long-lived "server" plugins at bootstrap: either
// by loading the library in-process and calling its Run symbol on a
// dedicated goroutine, or by spawning the file as an OS process when
// PluginConfig.CreateProcess is set.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"

	"github.com/goatkit/goatflow/internal/dylib/abi"
)

const tempConfigDirName = "play-dylib-configs"

// Launcher starts server plugins.
type Launcher struct {
	logger *slog.Logger
}

// New creates a Launcher. logger may be nil, in which case slog.Default is used.
func New(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{logger: logger}
}

// Launch starts one enabled server plugin. It returns
// once the plugin has been dispatched to its dedicated goroutine/process;
// failures are logged, never propagated, so that one misbehaving server
// plugin cannot affect others or the request path.
func (l *Launcher) Launch(ctx context.Context, cfg abi.PluginConfig, hostURL, dataDir string, configText *string) {
	if _, err := os.Stat(cfg.FilePath); err != nil {
		l.logger.Error("server plugin file missing", "plugin", cfg.Name, "path", cfg.FilePath, "error", err)
		return
	}

	if cfg.CreateProcess {
		go l.runAsProcess(ctx, cfg, hostURL, dataDir, configText)
		return
	}

	go l.runInProcess(cfg, hostURL, dataDir, configText)
}

func (l *Launcher) runAsProcess(ctx context.Context, cfg abi.PluginConfig, hostURL, dataDir string, configText *string) {
	if err := ensureExecutable(cfg.FilePath); err != nil {
		l.logger.Error("server plugin chmod failed", "plugin", cfg.Name, "error", err)
		return
	}

	env := os.Environ()
	env = append(env, "HOST="+hostURL, "PLUGIN_PREFIX_URL="+cfg.URLPrefix, "DATA_DIR="+dataDir)
	if configText != nil {
		path, err := writeTempConfig(*configText)
		if err != nil {
			l.logger.Error("server plugin config write failed", "plugin", cfg.Name, "error", err)
			return
		}
		env = append(env, "CONFIG_FILE_PATH="+path)
	}

	cmd := exec.CommandContext(ctx, cfg.FilePath)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	l.logger.Info("server plugin process starting", "plugin", cfg.Name, "path", cfg.FilePath)
	if err := cmd.Run(); err != nil {
		l.logger.Error("server plugin process exited with error", "plugin", cfg.Name, "error", err)
		return
	}
	l.logger.Warn("server plugin process exited", "plugin", cfg.Name)
}

func (l *Launcher) runInProcess(cfg abi.PluginConfig, hostURL, dataDir string, configText *string) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("server plugin panicked", "plugin", cfg.Name, "panic", p)
		}
	}()

	lib, err := plugin.Open(cfg.FilePath)
	if err != nil {
		l.logger.Error("server plugin load failed", "plugin", cfg.Name, "path", cfg.FilePath, "error", err)
		return
	}
	sym, err := lib.Lookup(abi.RunSymbol)
	if err != nil {
		l.logger.Error("server plugin missing Run symbol", "plugin", cfg.Name, "error", err)
		return
	}
	run, ok := sym.(func())
	if !ok {
		l.logger.Error("server plugin Run symbol has unexpected type", "plugin", cfg.Name, "type", fmt.Sprintf("%T", sym))
		return
	}

	os.Setenv("HOST", hostURL)
	os.Setenv("PLUGIN_PREFIX_URL", cfg.URLPrefix)
	os.Setenv("DATA_DIR", dataDir)
	if configText != nil {
		path, err := writeTempConfig(*configText)
		if err != nil {
			l.logger.Error("server plugin config write failed", "plugin", cfg.Name, "error", err)
			return
		}
		os.Setenv("CONFIG_FILE_PATH", path)
	}

	l.logger.Info("server plugin starting", "plugin", cfg.Name, "path", cfg.FilePath)
	run()
	l.logger.Warn("server plugin Run returned", "plugin", cfg.Name)
	// lib is kept alive for the goroutine's lifetime by virtue of having
	// been referenced here; once runInProcess returns it becomes eligible
	// for GC of the Go-side handle only (the mapped code stays resident).
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	const execBits = 0o111
	if mode&execBits == execBits {
		return nil
	}
	return os.Chmod(path, mode|execBits)
}

func writeTempConfig(content string) (string, error) {
	dir := filepath.Join(os.TempDir(), tempConfigDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp config dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("config_%d.toml", os.Getpid()))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write temp config: %w", err)
	}
	return path, nil
}
