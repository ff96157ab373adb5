// Package agent is the boundary to the cognitive agent that performs the
// actual research, note-taking, compaction and planning. The agent works on
// files: it is handed a working directory, a set of capabilities and a turn
// budget, and it reads and writes the mission's artifacts itself.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAgentFailed wraps every unsuccessful agent invocation.
var ErrAgentFailed = errors.New("agent failed")

// Phase names an agent task.
type Phase string

const (
	PhaseResearch Phase = "research"
	PhaseObserve  Phase = "observe"
	PhaseReflect  Phase = "reflect"
	PhasePlan     Phase = "plan"
)

// Capability is an abstract tool the agent may use.
type Capability string

const (
	CapWebSearch Capability = "web_search"
	CapWebFetch  Capability = "web_fetch"
	CapRead      Capability = "read"
	CapWrite     Capability = "write"
	CapGlob      Capability = "glob"
	CapShell     Capability = "shell"
)

// ResearchCapabilities may reach the network and run commands.
var ResearchCapabilities = []Capability{CapWebSearch, CapWebFetch, CapShell, CapRead, CapWrite}

// FileCapabilities only touch the working directory.
var FileCapabilities = []Capability{CapRead, CapWrite, CapGlob}

// Request is one agent task.
type Request struct {
	Phase        Phase
	Prompt       string
	SystemPrompt string
	Capabilities []Capability
	WorkDir      string
	MaxTurns     int
}

// Result is the agent's own report of a finished task.
type Result struct {
	Subtype  string // "success" or a failure subtype such as "error_max_turns"
	Text     string
	CostUSD  float64
	Turns    int
	Duration time.Duration
}

// Succeeded reports a "success" subtype.
func (r *Result) Succeeded() bool { return r != nil && r.Subtype == SubtypeSuccess }

// SubtypeSuccess is the only successful result subtype.
const SubtypeSuccess = "success"

// Agent runs tasks to completion. Implementations must honor ctx.
type Agent interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Func adapts a function to the Agent interface.
type Func func(ctx context.Context, req Request) (*Result, error)

func (f Func) Invoke(ctx context.Context, req Request) (*Result, error) { return f(ctx, req) }

// Check turns a non-success result into an error wrapping ErrAgentFailed.
func Check(phase Phase, res *Result, err error) error {
	if err != nil {
		if errors.Is(err, ErrAgentFailed) {
			return err
		}
		return fmt.Errorf("%s: %w: %w", phase, ErrAgentFailed, err)
	}
	if res == nil {
		return fmt.Errorf("%s: %w: no result", phase, ErrAgentFailed)
	}
	if !res.Succeeded() {
		return fmt.Errorf("%s: %w: %s", phase, ErrAgentFailed, res.Subtype)
	}
	return nil
}

// RateLimitError indicates the agent backend refused the request for rate
// limiting. Callers can use errors.As to back off.
type RateLimitError struct {
	Provider    string
	RetryAfter  time.Duration
	RawResponse string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit exceeded, retry after %v", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit exceeded", e.Provider)
}
