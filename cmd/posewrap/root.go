package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/posewrap/internal/app"
	"github.com/ayusman/posewrap/internal/config"
	"github.com/ayusman/posewrap/internal/logger"
	"github.com/ayusman/posewrap/internal/store"
	"github.com/ayusman/posewrap/internal/wrapper"
)

// Version is the application version.
const Version = "0.1.0"

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath  string
	logLevel    int
	engine      string
	modelFolder string
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "posewrap",
		Short:         "Multi-person body, face and hand keypoint detection",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	pf.IntVar(&g.logLevel, "log-level", -1, "log verbosity 0-255 (0 most verbose, 255 silent); overrides the config file")
	pf.StringVar(&g.engine, "engine", "", "inference engine: process or mock; overrides the config file")
	pf.StringVar(&g.modelFolder, "model-folder", "", "model folder; overrides the config file")

	root.AddCommand(newDetectCmd(g), newBatchCmd(g), newServeCmd(g))
	return root
}

// load reads the config file and applies the flag overrides.
func (g *globals) load() (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if g.logLevel >= 0 {
		if _, _, err := logger.Level(g.logLevel); err != nil {
			return config.Config{}, err
		}
		cfg.LogLevel = g.logLevel
	}
	if g.engine != "" {
		cfg.Engine.Kind = g.engine
	}
	if g.modelFolder != "" {
		cfg.ModelFolder = g.modelFolder
	}
	return cfg, nil
}

// runtime is everything a subcommand needs to detect.
type runtime struct {
	cfg     config.Config
	log     *zap.Logger
	store   *store.Store
	session *app.Session
}

// open builds the logger, the optional store and a session over a new
// wrapper. Close releases them in reverse order.
func open(cfg config.Config, withStore bool) (*runtime, error) {
	newLogger := logger.New
	if cfg.LogJSON {
		newLogger = logger.NewProduction
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.Set(log)

	wcfg, err := cfg.Wrapper()
	if err != nil {
		return nil, err
	}
	wcfg.Logger = log.Named("wrapper")

	openEngine, err := cfg.Opener()
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, log: log}
	if withStore {
		if dir := filepath.Dir(cfg.Store.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		rt.store, err = store.New(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
	}

	w, err := wrapper.New(wcfg, openEngine)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.session = app.NewSession(w, rt.store, log.Named("session"))

	log.Info("wrapper ready",
		zap.String("model", wcfg.ModelName),
		zap.String("engine", cfg.Engine.Kind),
		zap.Bool("face", wcfg.WithFace),
		zap.Bool("hands", wcfg.WithHands))
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.session != nil {
		if err := rt.session.Close(); err != nil {
			rt.log.Warn("close session", zap.Error(err))
		}
	}
	if rt.store != nil {
		rt.store.Close()
	}
	logger.Sync()
}

// parseStages resolves a --stages flag. nil means every enabled stage.
func parseStages(names []string, s *app.Session) ([]wrapper.Stage, error) {
	if names == nil {
		return s.DefaultStages(), nil
	}
	var stages []wrapper.Stage
	for _, n := range names {
		st, err := wrapper.ParseStage(n)
		if err != nil {
			return nil, err
		}
		if st != wrapper.StagePose {
			stages = append(stages, st)
		}
	}
	return stages, nil
}
