package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/autoupdate"
	"github.com/obentoo/plugsync/internal/common/config"
	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/host"
)

// app bundles everything a command needs to talk to one installation.
type app struct {
	cfg      *config.Config
	cfgPath  string
	stateDir string
	log      *logger.Logger
	registry *host.FSRegistry
	index    host.UpdateIndex
	svc      *autoupdate.Service
}

// loadConfig reads the config file named by --config, or the default one.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.FindConfigPath()
		if err != nil {
			return nil, "", err
		}
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, path, nil
}

// newApp wires the host collaborators and the service on fs.
func newApp(cfg *config.Config, fs afero.Fs, log *logger.Logger) (*app, error) {
	pluginsDir, err := cfg.PluginsDir()
	if err != nil {
		return nil, err
	}
	stateDir, err := cfg.StateDir()
	if err != nil {
		return nil, err
	}
	if err := fs.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	if err := log.SetDebugMode(cfg.DebugMode, filepath.Join(stateDir, "logs")); err != nil {
		log.Warn("debug log unavailable: %v", err)
	}

	registry := host.NewFSRegistry(fs, pluginsDir, stateDir,
		host.WithHeaderMarker(cfg.Host.HeaderMarker),
		host.WithMainExt(cfg.Host.MainExt),
	)

	index, err := openIndex(cfg, fs, stateDir)
	if err != nil {
		return nil, err
	}

	svc, err := autoupdate.NewService(cfg, fs, registry, index, autoupdate.WithLogger(log))
	if err != nil {
		index.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		stateDir: stateDir,
		log:      log,
		registry: registry,
		index:    index,
		svc:      svc,
	}, nil
}

// openIndex opens the update index backend selected in the config.
func openIndex(cfg *config.Config, fs afero.Fs, stateDir string) (host.UpdateIndex, error) {
	switch cfg.Host.IndexBackend {
	case config.BackendSQLite:
		ix, err := host.NewSQLiteIndex(filepath.Join(stateDir, "update_index.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to open update index: %w", err)
		}
		return ix, nil
	default:
		return host.NewFileIndex(fs, filepath.Join(stateDir, "update_index.json")), nil
	}
}

func (a *app) Close() {
	if err := a.index.Close(); err != nil {
		a.log.Debug("closing update index: %v", err)
	}
}

// mustLoadApp loads the config and builds the app on the OS filesystem,
// exiting on failure.
func mustLoadApp() *app {
	cfg, path, err := loadConfig()
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	a, err := newApp(cfg, afero.NewOsFs(), logger.Default())
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	a.cfgPath = path
	return a
}
