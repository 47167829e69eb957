// Package fallback runs a tool against a chain of alternatives, accepting
// the first result whose confidence clears a threshold and otherwise
// trying the next step until the chain is exhausted or an abort condition
// fires.
package fallback

import (
	"context"
	"time"
)

// ResultMetadata carries the confidence and quality signals a tool
// execution reports alongside its value, used to decide whether a
// fallback step's result is good enough to stop the chain.
type ResultMetadata struct {
	Confidence float64
	Quality    float64
}

// NewSuccessMetadata builds metadata for a step that returned a result,
// with independently specified confidence and quality scores.
func NewSuccessMetadata(confidence, quality float64) ResultMetadata {
	return ResultMetadata{Confidence: confidence, Quality: quality}
}

// QualityScore reports the quality signal used by SufficientResults abort
// conditions and best-result selection.
func (m ResultMetadata) QualityScore() float64 {
	return m.Quality
}

// Result pairs a tool's raw output with the metadata that scored it and
// the name of the tool that produced it.
type Result struct {
	Value    any
	Metadata ResultMetadata
	ToolName string
}

// Step is a single tool attempt within a chain.
type Step struct {
	// Tool is the name passed to the Executor.
	Tool string
	// MinConfidence is the threshold a result's Confidence must clear to
	// be accepted; clamped to [0, 1].
	MinConfidence float64
	// Timeout bounds how long this step may run, measured from when the
	// chain started (not from when the step began).
	Timeout time.Duration
	// Terminal stops the chain immediately once this step succeeds. A
	// non-terminal fallback step records a success but still lets later
	// abort conditions (e.g. SufficientResults) decide whether to continue.
	Terminal bool
}

// NewStep returns a step with the chain's conventional defaults: 0.5
// minimum confidence, a 10s timeout, and terminal-on-success.
func NewStep(tool string) Step {
	return Step{Tool: tool, MinConfidence: 0.5, Timeout: 10 * time.Second, Terminal: true}
}

// WithMinConfidence returns a copy of the step with MinConfidence set,
// clamped to [0, 1].
func (s Step) WithMinConfidence(confidence float64) Step {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	s.MinConfidence = confidence
	return s
}

// WithTimeout returns a copy of the step with Timeout set.
func (s Step) WithTimeout(timeout time.Duration) Step {
	s.Timeout = timeout
	return s
}

// NonTerminal returns a copy of the step that does not stop the chain on
// success.
func (s Step) NonTerminal() Step {
	s.Terminal = false
	return s
}

// AbortCondition is evaluated after every step and can end the chain
// early regardless of whether later steps remain.
type AbortCondition interface {
	shouldAbort(attempts int, results []Result, elapsed time.Duration) bool
}

// MaxFailures aborts once at least Count steps have been attempted,
// counting every attempt (successes and failures both), matching the
// original semantics of counting against attempts rather than failures
// alone.
type MaxFailures struct {
	Count int
}

func (c MaxFailures) shouldAbort(attempts int, _ []Result, _ time.Duration) bool {
	return attempts >= c.Count
}

// TimeoutMs aborts once the chain has run longer than the given duration.
type TimeoutMs struct {
	Timeout time.Duration
}

func (c TimeoutMs) shouldAbort(_ int, _ []Result, elapsed time.Duration) bool {
	return elapsed > c.Timeout
}

// SufficientResults aborts once at least MinCount collected results score
// at or above MinQuality.
type SufficientResults struct {
	MinCount   int
	MinQuality float64
}

func (c SufficientResults) shouldAbort(_ int, results []Result, _ time.Duration) bool {
	qualified := 0
	for _, r := range results {
		if r.Metadata.QualityScore() >= c.MinQuality {
			qualified++
		}
	}
	return qualified >= c.MinCount
}

// defaultBetweenFallbacksTimeout is the abort threshold applied between
// fallback attempts when no explicit TimeoutMs condition is configured.
const defaultBetweenFallbacksTimeout = 30 * time.Second

// Chain defines a primary tool plus ordered fallbacks and the conditions
// that can cut the attempt short.
type Chain struct {
	Name            string
	Primary         Step
	Fallbacks       []Step
	AbortConditions []AbortCondition
}

// NewChain creates a chain with only a primary step configured.
func NewChain(name, primary string) *Chain {
	return &Chain{Name: name, Primary: NewStep(primary)}
}

// WithFallback appends a fallback step.
func (c *Chain) WithFallback(step Step) *Chain {
	c.Fallbacks = append(c.Fallbacks, step)
	return c
}

// WithAbort appends an abort condition.
func (c *Chain) WithAbort(condition AbortCondition) *Chain {
	c.AbortConditions = append(c.AbortConditions, condition)
	return c
}

// FileSearchChain is the default grep -> ripgrep -> find chain for
// locating text across a workspace.
func FileSearchChain() *Chain {
	return &Chain{
		Name:    "file_search",
		Primary: NewStep("grep_file").WithMinConfidence(0.7),
		Fallbacks: []Step{
			NewStep("ripgrep").WithMinConfidence(0.65).NonTerminal(),
			NewStep("find").WithMinConfidence(0.5),
		},
		AbortConditions: []AbortCondition{
			MaxFailures{Count: 3},
			SufficientResults{MinCount: 5, MinQuality: 0.75},
		},
	}
}

// CodeParsingChain is the default tree-sitter -> regex -> grep chain for
// extracting structure from source files.
func CodeParsingChain() *Chain {
	return &Chain{
		Name:    "code_parsing",
		Primary: NewStep("tree_sitter_query").WithMinConfidence(0.8),
		Fallbacks: []Step{
			NewStep("regex_parse").WithMinConfidence(0.6).NonTerminal(),
			NewStep("grep_file").WithMinConfidence(0.4),
		},
		AbortConditions: []AbortCondition{MaxFailures{Count: 2}},
	}
}

// CommandExecutionChain is the default pty -> shell chain for running
// commands.
func CommandExecutionChain() *Chain {
	return &Chain{
		Name:            "command_execution",
		Primary:         NewStep("run_pty").WithMinConfidence(0.8),
		Fallbacks:       []Step{NewStep("shell").WithMinConfidence(0.7)},
		AbortConditions: []AbortCondition{MaxFailures{Count: 1}},
	}
}

// AllTools returns the primary tool followed by every fallback, in order.
func (c *Chain) AllTools() []string {
	tools := make([]string, 0, 1+len(c.Fallbacks))
	tools = append(tools, c.Primary.Tool)
	for _, f := range c.Fallbacks {
		tools = append(tools, f.Tool)
	}
	return tools
}

// StopReason explains why chain execution ended.
type StopReason string

const (
	StopPrimarySuccess    StopReason = "primary_success"
	StopFallbackSuccess   StopReason = "fallback_success"
	StopSufficientResults StopReason = "sufficient_results"
	StopAbortCondition    StopReason = "abort_condition"
	StopAllToolsExhausted StopReason = "all_tools_exhausted"
	StopTimeout           StopReason = "timeout"
)

// ChainResult is the outcome of running a Chain to completion.
type ChainResult struct {
	ChainName      string
	Results        []Result
	SuccessfulTool string // empty if nothing succeeded
	ExecutionTime  time.Duration
	Attempts       int
	StopReason     StopReason
}

// IsSuccessful reports whether a primary or fallback step was accepted.
func (r *ChainResult) IsSuccessful() bool {
	return r.StopReason == StopPrimarySuccess || r.StopReason == StopFallbackSuccess
}

// BestResult returns the collected result with the highest quality score,
// or nil if nothing was collected.
func (r *ChainResult) BestResult() *Result {
	if len(r.Results) == 0 {
		return nil
	}
	best := &r.Results[0]
	for i := 1; i < len(r.Results); i++ {
		if r.Results[i].Metadata.QualityScore() > best.Metadata.QualityScore() {
			best = &r.Results[i]
		}
	}
	return best
}

// MergedValues returns every collected result's value, in execution order.
// Callers that want the original single-or-array semantics can special-
// case len(...) == 1 themselves; Go callers are better served by the slice.
func (r *ChainResult) MergedValues() []any {
	values := make([]any, 0, len(r.Results))
	for _, res := range r.Results {
		values = append(values, res.Value)
	}
	return values
}

// Executor runs a single named tool and reports its value plus the
// metadata used to score it. An error is treated the same as a low-
// confidence result: the chain moves on to the next step.
type Executor func(ctx context.Context, tool string) (any, ResultMetadata, error)

// Execute runs chain's primary step, then its fallbacks in order,
// stopping as soon as a step clears its MinConfidence (if Terminal) or an
// abort condition fires.
func Execute(ctx context.Context, chain *Chain, run Executor) ChainResult {
	start := time.Now()
	var results []Result
	attempts := 0
	stopReason := StopAllToolsExhausted

	attempts++
	if value, metadata, ok := executeStep(ctx, chain.Primary, run, start); ok {
		result := Result{Value: value, Metadata: metadata, ToolName: chain.Primary.Tool}
		results = append(results, result)

		if metadata.Confidence >= chain.Primary.MinConfidence {
			return ChainResult{
				ChainName:      chain.Name,
				Results:        results,
				SuccessfulTool: chain.Primary.Tool,
				ExecutionTime:  time.Since(start),
				Attempts:       attempts,
				StopReason:     StopPrimarySuccess,
			}
		}

		if shouldAbortChain(chain.AbortConditions, attempts, results, time.Since(start)) {
			return ChainResult{
				ChainName:     chain.Name,
				Results:       results,
				ExecutionTime: time.Since(start),
				Attempts:      attempts,
				StopReason:    StopAbortCondition,
			}
		}
	} else if shouldAbortChain(chain.AbortConditions, attempts, results, time.Since(start)) {
		return ChainResult{
			ChainName:     chain.Name,
			Results:       results,
			ExecutionTime: time.Since(start),
			Attempts:      attempts,
			StopReason:    StopAbortCondition,
		}
	}

	betweenFallbacksTimeout := defaultBetweenFallbacksTimeout
	for _, cond := range chain.AbortConditions {
		if t, ok := cond.(TimeoutMs); ok {
			betweenFallbacksTimeout = t.Timeout
			break
		}
	}

	var successfulTool string
	for _, fallback := range chain.Fallbacks {
		attempts++

		if time.Since(start) > betweenFallbacksTimeout {
			stopReason = StopTimeout
			break
		}

		value, metadata, ok := executeStep(ctx, fallback, run, start)
		if !ok {
			if shouldAbortChain(chain.AbortConditions, attempts, results, time.Since(start)) {
				stopReason = StopAbortCondition
				break
			}
			continue
		}

		result := Result{Value: value, Metadata: metadata, ToolName: fallback.Tool}
		results = append(results, result)

		if metadata.Confidence >= fallback.MinConfidence {
			stopReason = StopFallbackSuccess
			if fallback.Terminal {
				break
			}
		}

		if shouldAbortChain(chain.AbortConditions, attempts, results, time.Since(start)) {
			stopReason = StopSufficientResults
			break
		}
	}

	for _, r := range results {
		if r.Metadata.Confidence >= 0.7 {
			successfulTool = r.ToolName
			break
		}
	}

	return ChainResult{
		ChainName:      chain.Name,
		Results:        results,
		SuccessfulTool: successfulTool,
		ExecutionTime:  time.Since(start),
		Attempts:       attempts,
		StopReason:     stopReason,
	}
}

func executeStep(ctx context.Context, step Step, run Executor, start time.Time) (any, ResultMetadata, bool) {
	if step.Timeout > 0 && time.Since(start) > step.Timeout {
		return nil, ResultMetadata{}, false
	}
	value, metadata, err := run(ctx, step.Tool)
	if err != nil {
		return nil, ResultMetadata{}, false
	}
	return value, metadata, true
}

func shouldAbortChain(conditions []AbortCondition, attempts int, results []Result, elapsed time.Duration) bool {
	for _, cond := range conditions {
		if cond.shouldAbort(attempts, results, elapsed) {
			return true
		}
	}
	return false
}
