// Command fleetd is the control-plane server: it hosts the HTTP API
// (pkg/api), the background Supervisor pass (pkg/supervisor), and, when an
// LLM is configured, an in-process pool of Agent Runner Loops that claim
// and execute tasks directly rather than over the Runner Protocol.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/agent"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/api"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/config"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/coordinator"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/llm"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/metrics"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/runner"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/supervisor"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/tasks"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/verifier"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(ctx, *configDir)
	if err != nil {
		slog.Error("fleetd: failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("fleetd: configuration loaded", "config_dir", *configDir, "http_addr", cfg.HTTP.Addr)

	s, err := store.NewPostgresStore(ctx, cfg.Store.ToStoreConfig())
	if err != nil {
		slog.Error("fleetd: failed to connect to store", "error", err)
		os.Exit(1)
	}

	coord := coordinator.New(s, time.Now)
	v := buildVerifier(s, cfg)
	runnerSvc := runner.New(s, time.Now)
	taskSvc := tasks.New(s, runnerSvc, time.Now)
	m := metrics.New()

	sv := supervisor.New(s, coord, cfg.Supervisor.Interval, time.Now)
	sv.SetMetrics(m)
	sv.Start(ctx)
	defer sv.Stop()

	apiServer := api.New(s, runnerSvc, taskSvc, v, m, api.DefaultRateLimit, time.Now)

	var pool *workerPool
	if cfg.LLM.Model != "" {
		llmClient := llm.NewHTTPLLMClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
		pool = newWorkerPool(s, coord, v, llmClient, runnerSvc, cfg)
		if err := pool.start(ctx); err != nil {
			slog.Error("fleetd: failed to start worker pool", "error", err)
			os.Exit(1)
		}
		defer pool.stop()
	} else {
		slog.Info("fleetd: no llm.model configured, running as control-plane only (no in-process runner)")
	}

	runCtx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("fleetd: received signal, shutting down", "signal", sig)
		cancel()
	}()

	go func() {
		slog.Info("fleetd: listening", "addr", cfg.HTTP.Addr)
		if err := apiServer.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("fleetd: server error", "error", err)
			cancel()
		}
	}()

	<-runCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("fleetd: graceful shutdown failed", "error", err)
	}
	slog.Info("fleetd: stopped")
}

// buildVerifier wires the five-stage pipeline's pluggable stages. The
// semantic stage is only wired when an LLM is configured; a Verifier with a
// nil judge does not call any judge and records a fixed semantic score of
// 0.5, which is below the pass threshold (see pkg/verifier's runSemantic).
func buildVerifier(s store.Store, cfg *config.Config) *verifier.Verifier {
	checkers := []verifier.LanguageChecker{verifier.NewGoChecker(cfg.Verifier.GoBinary)}
	linters := []verifier.Linter{verifier.NewGolangciLintLinter(cfg.Verifier.GolangciLintBinary)}
	testRunners := []verifier.TestRunner{verifier.NewGoTestRunner(cfg.Verifier.GoBinary)}

	var judge verifier.SemanticJudge
	if cfg.LLM.Model != "" {
		llmClient := llm.NewHTTPLLMClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
		judge = verifier.NewLLMSemanticJudge(llmClient, cfg.LLM.Model)
	}

	return verifier.New(s, checkers, linters, testRunners, judge, verifier.GitDiffProvider,
		verifier.WithTestBudget(cfg.Verifier.TestBudget))
}

// workerPool polls for queued tasks and drives each claimed one through a
// full Agent Runner Loop in-process, as an alternative to a remote runner
// claiming work over the Runner Protocol (pkg/runner). It registers itself
// as one ordinary runner session so claims, locks, and agent accounting all
// flow through the same primitives a remote runner would use.
type workerPool struct {
	store     store.Store
	coord     *coordinator.Coordinator
	verifier  *verifier.Verifier
	llm       llm.LLMClient
	runnerSvc *runner.Service
	cfg       *config.Config

	token      string
	workingDir string

	sem  chan struct{}
	wg   sync.WaitGroup
	done chan struct{}
}

func newWorkerPool(s store.Store, coord *coordinator.Coordinator, v *verifier.Verifier, llmClient llm.LLMClient, runnerSvc *runner.Service, cfg *config.Config) *workerPool {
	return &workerPool{
		store: s, coord: coord, verifier: v, llm: llmClient, runnerSvc: runnerSvc, cfg: cfg,
		sem:  make(chan struct{}, cfg.Queue.MaxConcurrentAgents),
		done: make(chan struct{}),
	}
}

// start registers an in-process runner session, then launches the polling
// goroutine. The workingDir is fleetd's current working directory: in-process
// agents operate against the same checkout fleetd itself runs from.
func (p *workerPool) start(ctx context.Context) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	p.workingDir = wd

	result, err := p.runnerSvc.Register(ctx, "fleetd-in-process", wd)
	if err != nil {
		return err
	}
	p.token = result.Token

	p.wg.Add(1)
	go p.poll(ctx)
	return nil
}

func (p *workerPool) stop() {
	close(p.done)
	p.wg.Wait()
}

func (p *workerPool) poll(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case p.sem <- struct{}{}:
		}

		claim, err := p.runnerSvc.Claim(ctx, p.token, p.workingDir)
		if err != nil {
			slog.Error("fleetd: worker pool claim failed", "error", err)
			<-p.sem
			p.sleep(ctx)
			continue
		}
		if claim.Task == nil {
			<-p.sem
			p.sleep(ctx)
			continue
		}

		p.wg.Add(1)
		go func(task *models.Task, ag *models.Agent) {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.run(ctx, task, ag)
		}(claim.Task, claim.Agent)
	}
}

func (p *workerPool) run(ctx context.Context, task *models.Task, ag *models.Agent) {
	tools := agent.NewToolExecutor(p.workingDir, ag.ID, task.ID, p.coord)
	loop := agent.NewLoop(p.store, p.coord, p.verifier, p.llm, tools, ag.ID, task.ID, p.workingDir, agent.Config{
		MaxIterations: p.cfg.AgentLoop.MaxIterations,
		MaxRunTime:    p.cfg.AgentLoop.MaxRunTime,
	})
	outcome, summary := loop.Run(ctx, task)
	slog.Info("fleetd: agent loop finished", "task_id", task.ID, "agent_id", ag.ID, "outcome", outcome, "summary", summary)
}

// sleep waits one poll interval, jittered per cfg.Queue.PollIntervalJitter,
// so a pool with MaxConcurrentAgents>1 doesn't thunder against the store
// every time a slot frees up empty-handed.
func (p *workerPool) sleep(ctx context.Context) {
	d := p.cfg.Queue.PollInterval
	if j := p.cfg.Queue.PollIntervalJitter; j > 0 {
		d += time.Duration(rand.Int63n(int64(j)))
	}
	select {
	case <-ctx.Done():
	case <-p.done:
	case <-time.After(d):
	}
}
