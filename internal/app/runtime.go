package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kw-listing/internal/config"
	"kw-listing/internal/llm"
	"kw-listing/internal/logging"
	"kw-listing/internal/pipeline"
)

// CommonOptions are shared by every command that talks to a provider.
type CommonOptions struct {
	ConfigPath string
	Provider   string
	LogFile    string
	Verbose    bool
	CWD        string
	Stdout     io.Writer
}

type runtime struct {
	cwd     string
	cfg     *config.Config
	paths   *config.Paths
	logger  *logging.Logger
	closer  io.Closer
	apiKey  string
	service pipeline.TextService
}

func setup(opts CommonOptions, override func(*config.Config)) (*runtime, error) {
	cwd := strings.TrimSpace(opts.CWD)
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("读取当前目录失败：%w", err)
		}
		cwd = wd
	}

	cfg, paths, err := config.Load(opts.ConfigPath, cwd)
	if err != nil {
		return nil, err
	}
	if p := strings.ToLower(strings.TrimSpace(opts.Provider)); p != "" {
		cfg.Provider = p
	}
	if override != nil {
		override(cfg)
	}
	providerCfg, ok := cfg.Providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("配置中不存在 provider：%s", cfg.Provider)
	}

	apiKey, err := resolveAPIKey(paths, cfg.KeyName())
	if err != nil {
		return nil, err
	}

	logFile := strings.TrimSpace(opts.LogFile)
	if logFile != "" {
		logFile = absPath(cwd, logFile)
	}
	logger, closer, err := logging.New(opts.Stdout, logFile, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败：%w", err)
	}
	logger.Emit(logging.Event{Event: "startup", Provider: cfg.Provider, Model: providerCfg.Model})
	logger.Emit(logging.Event{Event: "config_loaded", Input: paths.ConfigSource})

	client := llm.NewClient(time.Duration(cfg.RequestTimeoutSec) * time.Second)
	return &runtime{
		cwd:     cwd,
		cfg:     cfg,
		paths:   paths,
		logger:  logger,
		closer:  closer,
		apiKey:  apiKey,
		service: newLLMService(client, cfg, apiKey, logger),
	}, nil
}

func (r *runtime) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *runtime) sessionOptions(id string) pipeline.Options {
	return pipeline.Options{ID: id, Pipeline: r.cfg.Pipeline, Logger: r.logger}
}

func absPath(cwd, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cwd, p)
}
