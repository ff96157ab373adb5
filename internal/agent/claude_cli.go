package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ghost/internal/config"
	"ghost/internal/logging"
)

// ClaudeCLI runs tasks through the Claude Code CLI in print mode:
//
//	claude -p <prompt> --output-format json --max-turns N --allowedTools ... \
//	       --permission-mode <mode> --model <model> [--append-system-prompt ...]
//
// The process runs with its working directory set to Request.WorkDir so file
// tools resolve relative to the mission.
type ClaudeCLI struct {
	binary         string
	model          string
	permissionMode string
	timeout        time.Duration
	log            *zap.Logger
}

// cliResult is the final "result" message of the CLI's JSON output.
type cliResult struct {
	Type          string  `json:"type"`
	Subtype       string  `json:"subtype"`
	IsError       bool    `json:"is_error"`
	Result        string  `json:"result"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	NumTurns      int     `json:"num_turns"`
	DurationMS    int64   `json:"duration_ms"`
	IsRateLimited bool    `json:"is_rate_limited,omitempty"`
}

// NewClaudeCLI builds the adapter from agent configuration.
func NewClaudeCLI(cfg config.AgentConfig, log *zap.Logger) *ClaudeCLI {
	def := config.DefaultAgentConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = def.PermissionMode
	}
	if log == nil {
		log = logging.Get(logging.CategoryAgent)
	}
	return &ClaudeCLI{
		binary:         cfg.Binary,
		model:          cfg.Model,
		permissionMode: cfg.PermissionMode,
		timeout:        cfg.GetTimeout(),
		log:            log,
	}
}

func (c *ClaudeCLI) Model() string              { return c.model }
func (c *ClaudeCLI) Timeout() time.Duration     { return c.timeout }
func (c *ClaudeCLI) SetTimeout(d time.Duration) { c.timeout = d }

var toolNames = map[Capability]string{
	CapWebSearch: "WebSearch",
	CapWebFetch:  "WebFetch",
	CapRead:      "Read",
	CapWrite:     "Write",
	CapGlob:      "Glob",
	CapShell:     "Bash",
}

// Args returns the CLI arguments for a request.
func (c *ClaudeCLI) Args(req Request) []string {
	args := []string{
		"-p", req.Prompt,
		"--output-format", "json",
		"--model", c.model,
		"--permission-mode", c.permissionMode,
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if len(req.Capabilities) > 0 {
		tools := make([]string, 0, len(req.Capabilities))
		for _, capability := range req.Capabilities {
			if name, ok := toolNames[capability]; ok {
				tools = append(tools, name)
			}
		}
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	return args
}

// Invoke runs one task and parses the CLI's result message.
func (c *ClaudeCLI) Invoke(ctx context.Context, req Request) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.binary, c.Args(req)...)
	cmd.Dir = req.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	c.log.Info("agent started", zap.String("phase", string(req.Phase)), zap.String("dir", req.WorkDir), zap.Int("max_turns", req.MaxTurns))
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s timed out after %v: %w", ErrAgentFailed, c.binary, c.timeout, ctx.Err())
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("%w: %s canceled: %w", ErrAgentFailed, c.binary, ctx.Err())
		}
		stderrStr := stderr.String()
		if isRateLimitError(stderrStr) {
			return nil, &RateLimitError{Provider: c.binary, RawResponse: stderrStr}
		}
		// A failing run may still have printed its result message.
		if res, perr := ParseResult(stdout.Bytes()); perr == nil {
			res.Duration = elapsed
			c.logResult(req, res)
			return res, nil
		}
		return nil, fmt.Errorf("%w: %s exited: %w (stderr: %s)", ErrAgentFailed, c.binary, err, truncateString(stderrStr, 500))
	}

	res, err := ParseResult(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAgentFailed, err)
	}
	res.Duration = elapsed
	c.logResult(req, res)
	return res, nil
}

func (c *ClaudeCLI) logResult(req Request, res *Result) {
	fields := []zap.Field{
		zap.String("phase", string(req.Phase)),
		zap.String("subtype", res.Subtype),
		zap.Float64("cost_usd", res.CostUSD),
		zap.Int("turns", res.Turns),
		zap.Duration("elapsed", res.Duration),
	}
	if res.Succeeded() {
		c.log.Info("agent completed", fields...)
	} else {
		c.log.Error("agent failed", fields...)
	}
}

// ParseResult extracts the last "result" message from the CLI output. Both
// the single-document json format and line-delimited stream-json are accepted.
func ParseResult(data []byte) (*Result, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty response from agent")
	}

	var found *cliResult
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var msg cliResult
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Type == "result" {
			m := msg
			found = &m
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read agent output: %w", err)
	}
	if found == nil {
		return nil, fmt.Errorf("no result message in agent output (raw: %s)", truncateString(string(data), 500))
	}
	if found.IsRateLimited {
		return nil, &RateLimitError{Provider: "claude-cli", RawResponse: found.Result}
	}

	// API failures can report is_error alongside a "success" subtype.
	subtype := found.Subtype
	if subtype == "" {
		subtype = SubtypeSuccess
	}
	if found.IsError && subtype == SubtypeSuccess {
		subtype = "error"
	}
	return &Result{
		Subtype:  subtype,
		Text:     found.Result,
		CostUSD:  found.TotalCostUSD,
		Turns:    found.NumTurns,
		Duration: time.Duration(found.DurationMS) * time.Millisecond,
	}, nil
}

func isRateLimitError(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "429")
}

// truncateString truncates s to maxLen bytes, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
