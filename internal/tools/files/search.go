package files

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vtcode/vtcode/internal/agent"
	"github.com/vtcode/vtcode/internal/fallback"
)

// searchMatch is a single located occurrence of a query inside a file.
type searchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
	Text string `json:"text,omitempty"`
}

// SearchTool locates a pattern across the workspace by running
// fallback.FileSearchChain(): an in-process line scan first, then the
// system ripgrep binary if present, then a filename-only walk as a last
// resort. Each strategy reports a confidence/quality score so the chain
// can decide whether to accept it or try the next.
type SearchTool struct {
	resolver Resolver
	root     string
}

// NewSearchTool creates a search tool scoped to the workspace.
func NewSearchTool(cfg Config) *SearchTool {
	root := strings.TrimSpace(cfg.Workspace)
	if root == "" {
		root = "."
	}
	return &SearchTool{resolver: Resolver{Root: root}, root: root}
}

// Name returns the tool name.
func (t *SearchTool) Name() string {
	return "search_files"
}

// Description returns the tool description.
func (t *SearchTool) Description() string {
	return "Search workspace files for a text pattern, falling back through grep, ripgrep, and a filename scan."
}

// Schema returns the JSON schema for the tool parameters.
func (t *SearchTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Text or regular expression to search for.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Subdirectory to search, relative to the workspace (default: workspace root).",
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum matches to return (default 50).",
				"minimum":     1,
			},
		},
		"required": []string{"query"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute runs the file_search fallback chain against the workspace.
func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query      string `json:"query"`
		Path       string `json:"path"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return toolError("query is required"), nil
	}
	maxResults := input.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}

	searchRoot := t.root
	if strings.TrimSpace(input.Path) != "" {
		resolved, err := t.resolver.Resolve(input.Path)
		if err != nil {
			return toolError(err.Error()), nil
		}
		searchRoot = resolved
	}

	strategies := map[string]func(context.Context, string, int) ([]searchMatch, error){
		"grep_file": t.grepFile,
		"ripgrep":   t.ripgrep,
		"find":      t.find,
	}

	run := func(ctx context.Context, tool string) (any, fallback.ResultMetadata, error) {
		strategy, ok := strategies[tool]
		if !ok {
			return nil, fallback.ResultMetadata{}, fmt.Errorf("unknown search strategy %q", tool)
		}
		matches, err := strategy(ctx, searchRoot, maxResults)
		if err != nil {
			return nil, fallback.ResultMetadata{}, err
		}
		if len(matches) == 0 {
			return matches, fallback.NewSuccessMetadata(0, 0), nil
		}
		quality := float64(len(matches)) / 5
		if quality > 1 {
			quality = 1
		}
		confidence := 0.9
		if tool == "find" {
			// Filename-only matches are weaker evidence than a content grep.
			confidence = 0.55
		}
		return matches, fallback.NewSuccessMetadata(confidence, quality), nil
	}

	searchCtx := contextWithQuery(ctx, input.Query)
	chainResult := fallback.Execute(searchCtx, fallback.FileSearchChain(), run)

	response := struct {
		Tool       string        `json:"tool,omitempty"`
		StopReason string        `json:"stop_reason"`
		Attempts   int           `json:"attempts"`
		Matches    []searchMatch `json:"matches"`
	}{
		Tool:       chainResult.SuccessfulTool,
		StopReason: string(chainResult.StopReason),
		Attempts:   chainResult.Attempts,
	}
	if best := chainResult.BestResult(); best != nil {
		if matches, ok := best.Value.([]searchMatch); ok {
			response.Matches = matches
		}
	}

	payload, err := json.Marshal(response)
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// grepFile scans files under root line by line looking for a literal or
// regexp match. It is the primary, always-available strategy.
func (t *SearchTool) grepFile(ctx context.Context, root string, limit int) ([]searchMatch, error) {
	pattern, err := regexp.Compile(currentQuery(ctx))
	if err != nil {
		pattern = nil
	}
	var matches []searchMatch
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(matches) >= limit {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			text := scanner.Text()
			if queryMatches(text, currentQuery(ctx), pattern) {
				rel, relErr := filepath.Rel(t.root, path)
				if relErr != nil {
					rel = path
				}
				matches = append(matches, searchMatch{Path: rel, Line: line, Text: strings.TrimSpace(text)})
				if len(matches) >= limit {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return matches, walkErr
	}
	return matches, nil
}

// ripgrep shells out to the system rg binary. It returns an error (which
// fallback.Execute treats as a failed step) when rg is not installed, so
// the chain moves on to find.
func (t *SearchTool) ripgrep(ctx context.Context, root string, limit int) ([]searchMatch, error) {
	rgPath, err := exec.LookPath("rg")
	if err != nil {
		return nil, fmt.Errorf("ripgrep not available: %w", err)
	}
	cmd := exec.CommandContext(ctx, rgPath, "--line-number", "--no-heading", "--max-count", fmt.Sprint(limit), currentQuery(ctx), root)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			// rg exits 1 for "no matches", not a tool failure.
			return nil, nil
		}
		return nil, fmt.Errorf("ripgrep: %w", err)
	}
	var matches []searchMatch
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" || len(matches) >= limit {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 2 {
			continue
		}
		rel, relErr := filepath.Rel(t.root, parts[0])
		if relErr != nil {
			rel = parts[0]
		}
		m := searchMatch{Path: rel}
		if n, convErr := fmt.Sscanf(parts[1], "%d", &m.Line); convErr != nil || n != 1 {
			m.Line = 0
		}
		if len(parts) == 3 {
			m.Text = strings.TrimSpace(parts[2])
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// find matches filenames containing the query, the weakest and final
// fallback when content search yields nothing.
func (t *SearchTool) find(ctx context.Context, root string, limit int) ([]searchMatch, error) {
	query := strings.ToLower(currentQuery(ctx))
	var matches []searchMatch
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if len(matches) >= limit {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), query) {
			rel, relErr := filepath.Rel(t.root, path)
			if relErr != nil {
				rel = path
			}
			matches = append(matches, searchMatch{Path: rel})
		}
		return nil
	})
	return matches, err
}

func queryMatches(text, query string, pattern *regexp.Regexp) bool {
	if pattern != nil {
		return pattern.MatchString(text)
	}
	return strings.Contains(text, query)
}

type searchQueryKey struct{}

func contextWithQuery(ctx context.Context, query string) context.Context {
	return context.WithValue(ctx, searchQueryKey{}, query)
}

func currentQuery(ctx context.Context) string {
	if q, ok := ctx.Value(searchQueryKey{}).(string); ok {
		return q
	}
	return ""
}
