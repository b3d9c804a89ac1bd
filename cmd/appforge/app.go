package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/codefionn/appforge/internal/agent"
	"github.com/codefionn/appforge/internal/blob"
	"github.com/codefionn/appforge/internal/config"
	"github.com/codefionn/appforge/internal/llm"
	"github.com/codefionn/appforge/internal/logger"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/search"
	"github.com/codefionn/appforge/internal/store"
	"github.com/codefionn/appforge/internal/tools"
)

// app holds the wired collaborators shared by serve and chat
type app struct {
	cfg          *config.Config
	db           *store.DB
	blobs        *blob.FSStore
	sandboxes    *sandbox.Registry
	orchestrator *agent.Orchestrator
	redis        *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.db, err = store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.blobs, err = blob.NewFSStore(cfg.Blob.Root)
	if err != nil {
		return nil, err
	}

	model, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	searcher, err := search.New(cfg.Search, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search provider: %w", err)
	}

	opts := sandbox.LocalOptions{
		Shell:          cfg.Sandbox.Shell,
		PreviewHost:    cfg.Sandbox.PreviewHost,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
	}
	if cfg.Sandbox.PreviewPort > 0 {
		opts.Ports = sandbox.NewPortPool(cfg.Sandbox.PreviewPort, cfg.Sandbox.PreviewPorts)
	}
	if cfg.Sandbox.Confine {
		if !sandbox.LandlockAvailable() && !cfg.Sandbox.ConfineBestEffort {
			return nil, errors.New("sandbox.confine requires Landlock, which is not available on this platform")
		}
		exe, exeErr := os.Executable()
		if exeErr != nil {
			return nil, fmt.Errorf("failed to resolve executable for sandbox confinement: %w", exeErr)
		}
		opts.Wrap = sandbox.ConfineWrapper(exe, cfg.Sandbox.ConfineBestEffort)
	}
	a.sandboxes = sandbox.NewRegistry(sandbox.LocalFactory(cfg.Sandbox.Root, opts), a.db)

	var locker agent.TurnLocker
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err = a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		locker = agent.NewRedisLocker(a.redis, cfg.Redis.KeyPrefix, cfg.Redis.LockTTL())
		logger.Info("turn locks held in redis at %s", cfg.Redis.Addr)
	}

	dispatcher := tools.NewDispatcher(tools.Deps{
		Blobs:        a.blobs,
		Files:        a.db,
		Workflows:    a.db,
		Search:       searcher,
		ShellTimeout: cfg.Agent.ShellTimeout(),
		CodeTimeout:  cfg.Agent.CodeTimeout(),
	})
	a.orchestrator = agent.New(a.db, model, dispatcher, a.sandboxes, locker, agent.Options{
		HistoryWindow:    cfg.Agent.HistoryWindow,
		HistoryMaxTokens: cfg.Agent.HistoryMaxTokens,
		MaxRounds:        cfg.Agent.MaxRounds,
		ProbeTimeout:     cfg.Agent.ProbeTimeout(),
		Temperature:      cfg.LLM.Temperature,
		MaxTokens:        cfg.LLM.MaxTokens,
		CountTokens:      llm.CountTokens,
	})

	logger.Info("using model %s (%s)", model.GetModelName(), cfg.LLM.Provider)
	return a, nil
}

// Close disposes sandboxes and closes connections
func (a *app) Close() error {
	var errs []error
	if a.sandboxes != nil {
		errs = append(errs, a.sandboxes.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
