package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/vtcode/vtcode/internal/agent"
	"github.com/vtcode/vtcode/internal/checkpoint"
	"github.com/vtcode/vtcode/internal/config"
	"github.com/vtcode/vtcode/internal/jobs"
	"github.com/vtcode/vtcode/internal/observability"
	"github.com/vtcode/vtcode/internal/ratelimit"
	"github.com/vtcode/vtcode/internal/safety"
	"github.com/vtcode/vtcode/internal/sessions"
	"github.com/vtcode/vtcode/internal/tools/exec"
	"github.com/vtcode/vtcode/internal/tools/files"
	jobtools "github.com/vtcode/vtcode/internal/tools/jobs"
	"github.com/vtcode/vtcode/internal/tools/memorysearch"
	"github.com/vtcode/vtcode/internal/tools/websearch"
)

// session ties together everything a CLI command needs to drive one
// agent run: the configured runtime, its session store, and the
// workspace-scoped job store backing async tool execution.
type session struct {
	cfg      *config.Config
	runtime  *agent.Runtime
	sessions sessions.Store
	jobs     jobs.Store

	// traceShutdown flushes and closes the OTel exporter, set only when
	// observability.tracing.enabled is true. Close wires it into the CLI's
	// shutdown path.
	traceShutdown func(context.Context) error
}

// Close releases resources held by the session, including flushing any
// configured trace exporter.
func (s *session) Close(ctx context.Context) error {
	if s.traceShutdown != nil {
		return s.traceShutdown(ctx)
	}
	return nil
}

// newSession loads configuration, constructs the LLM provider and tool
// set, and wires them into an agent.Runtime. The session store is an
// in-process MemoryStore: VTCode's CLI is a single-process terminal
// agent, so there is no need for the teacher's multi-process Cockroach
// session backend here (C11's checkpoint log covers durable history).
func newSession(configPath string) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, wrapConfigError(err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, wrapConfigError(err)
	}

	sessionStore := sessions.NewMemoryStore()
	jobStore := jobs.NewMemoryStore()

	opts := agent.DefaultRuntimeOptions()
	opts.Logger = slog.Default().With("component", "runtime")
	opts.JobStore = jobStore
	if cfg.Tools.Execution.MaxIterations > 0 {
		opts.MaxIterations = cfg.Tools.Execution.MaxIterations
	}
	if cfg.Tools.Execution.Parallelism > 0 {
		opts.ToolParallelism = cfg.Tools.Execution.Parallelism
	}
	if cfg.Tools.Execution.Timeout > 0 {
		opts.ToolTimeout = cfg.Tools.Execution.Timeout
	}
	if cfg.Tools.Execution.MaxAttempts > 0 {
		opts.ToolMaxAttempts = cfg.Tools.Execution.MaxAttempts
	}
	if cfg.Tools.Execution.RetryBackoff > 0 {
		opts.ToolRetryBackoff = cfg.Tools.Execution.RetryBackoff
	}
	opts.DisableToolEvents = cfg.Tools.Execution.DisableEvents
	opts.MaxToolCalls = cfg.Tools.Execution.MaxToolCalls
	opts.RequireApproval = cfg.Tools.Execution.RequireApproval
	opts.AsyncTools = cfg.Tools.Execution.Async
	opts.ApprovalChecker = buildApprovalChecker(cfg.Tools.Execution.Approval)

	runtime := agent.NewRuntimeWithOptions(provider, sessionStore, opts)
	if cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel != "" {
		runtime.SetDefaultModel(cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel)
	}

	registerTools(runtime, cfg, jobStore)

	metrics := observability.NewMetrics()
	var traceShutdown func(context.Context) error
	if cfg.Observability.Tracing.Enabled {
		tc := cfg.Observability.Tracing
		tracer, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    tc.ServiceName,
			ServiceVersion: tc.ServiceVersion,
			Environment:    tc.Environment,
			Endpoint:       tc.Endpoint,
			SamplingRate:   tc.SamplingRate,
			Attributes:     tc.Attributes,
		})
		runtime.SetObservability(tracer, metrics)
		traceShutdown = shutdown
	} else {
		runtime.SetObservability(nil, metrics)
	}

	// Guardrails: a per-tool circuit breaker, a per-tool rate limiter, and
	// a per-turn loop detector all gate dispatch inside the tool executor.
	// These run in-process with library defaults; unlike tracing they have
	// no opt-out knob since they only ever reject or delay a call, never
	// fail a turn outright.
	breakers := safety.NewRegistry(safety.BreakerConfig{})
	limiter := safety.NewToolLimiter(ratelimit.DefaultConfig())
	loopDetector := safety.NewLoopDetector(safety.DefaultLoopDetectorConfig())
	runtime.SetSafety(breakers, limiter, loopDetector)

	workspace := cfg.Workspace.Path
	if workspace == "" {
		workspace = "."
	}

	if cfg.Agent.Checkpointing.IsEnabled() {
		storageDir := cfg.Agent.Checkpointing.StorageDir
		if !filepath.IsAbs(storageDir) && workspace != "" {
			storageDir = filepath.Join(workspace, storageDir)
		}
		checkpoints := checkpoint.NewManager(checkpoint.Config{
			StorageDir:   storageDir,
			MaxSnapshots: cfg.Agent.Checkpointing.MaxSnapshots,
			MaxAgeDays:   cfg.Agent.Checkpointing.MaxAgeDays,
		})
		trajectoryPath := filepath.Join(workspace, ".vtcode", "trajectory.log")
		trajectory := checkpoint.NewTrajectoryWriter(trajectoryPath)
		runtime.SetCheckpointing(checkpoints, trajectory)
	}

	return &session{cfg: cfg, runtime: runtime, sessions: sessionStore, jobs: jobStore, traceShutdown: traceShutdown}, nil
}

// buildApprovalChecker translates the YAML approval configuration into an
// agent.ApprovalChecker backed by an in-memory pending-request store, the
// same single-process tradeoff newSession makes for sessions and jobs.
func buildApprovalChecker(cfg config.ApprovalConfig) *agent.ApprovalChecker {
	policy := agent.DefaultApprovalPolicy()
	if len(cfg.Allowlist) > 0 {
		policy.Allowlist = cfg.Allowlist
	}
	if len(cfg.Denylist) > 0 {
		policy.Denylist = cfg.Denylist
	}
	if len(cfg.SafeBins) > 0 {
		policy.SafeBins = cfg.SafeBins
	}
	if cfg.SkillAllowlist != nil {
		policy.SkillAllowlist = *cfg.SkillAllowlist
	}
	if cfg.AskFallback != nil {
		policy.AskFallback = *cfg.AskFallback
	}
	if cfg.DefaultDecision != "" {
		policy.DefaultDecision = agent.ApprovalDecision(cfg.DefaultDecision)
	}
	if cfg.RequestTTL > 0 {
		policy.RequestTTL = cfg.RequestTTL
	}

	checker := agent.NewApprovalChecker(policy)
	checker.SetStore(agent.NewMemoryApprovalStore())
	checker.SetUIAvailableCheck(func() bool { return true })
	return checker
}

// registerTools wires the workspace-scoped tool set into the runtime.
// Tools that require external credentials (web search, ServiceNow) only
// register when their section is enabled in config.
func registerTools(runtime *agent.Runtime, cfg *config.Config, jobStore jobs.Store) {
	workspace := cfg.Workspace.Path
	if workspace == "" {
		workspace = "."
	}

	filesCfg := files.Config{Workspace: workspace}
	runtime.RegisterTool(files.NewReadTool(filesCfg))
	runtime.RegisterTool(files.NewWriteTool(filesCfg))
	runtime.RegisterTool(files.NewEditTool(filesCfg))
	runtime.RegisterTool(files.NewApplyPatchTool(filesCfg))
	runtime.RegisterTool(files.NewSearchTool(filesCfg))

	execManager := exec.NewManager(workspace)
	runtime.RegisterTool(exec.NewExecTool("exec", execManager))
	runtime.RegisterTool(exec.NewProcessTool(execManager))

	runtime.RegisterTool(jobtools.NewStatusTool(jobStore))
	runtime.RegisterTool(jobtools.NewListTool(jobStore))
	runtime.RegisterTool(jobtools.NewCancelTool(jobStore))

	if cfg.Tools.WebSearch.Enabled {
		runtime.RegisterTool(websearch.NewWebSearchTool(&websearch.Config{
			SearXNGURL:     cfg.Tools.WebSearch.URL,
			BraveAPIKey:    cfg.Tools.WebSearch.BraveAPIKey,
			DefaultBackend: websearch.SearchBackend(cfg.Tools.WebSearch.Provider),
		}))
	}
	if cfg.Tools.WebFetch.Enabled {
		runtime.RegisterTool(websearch.NewWebFetchTool(&websearch.FetchConfig{
			MaxChars: cfg.Tools.WebFetch.MaxChars,
		}))
	}
	if cfg.Tools.MemorySearch.Enabled {
		memCfg := &memorysearch.Config{
			Directory:     cfg.Tools.MemorySearch.Directory,
			MemoryFile:    cfg.Tools.MemorySearch.MemoryFile,
			MaxResults:    cfg.Tools.MemorySearch.MaxResults,
			MaxSnippetLen: cfg.Tools.MemorySearch.MaxSnippetLen,
		}
		runtime.RegisterTool(memorysearch.NewMemorySearchTool(memCfg))
		runtime.RegisterTool(memorysearch.NewMemoryGetTool(memCfg))
	}
}
