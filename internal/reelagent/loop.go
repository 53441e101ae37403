package reelagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sanchay-t/reelfinder/internal/provider"
	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/sanchay-t/reelfinder/internal/reellog"
	"github.com/sanchay-t/reelfinder/internal/retry"
	"github.com/sanchay-t/reelfinder/internal/toolrouter"
)

// MaxExpectedTurnLatency bounds one LLM-call-plus-tool-fanout turn, used
// to compute the loop's overall deadline per spec.md §5: MAX_ITERATIONS ×
// max-expected-turn-latency. A turn can include several sequential HTTP
// round trips (the LLM call, then a batch of tool calls), so this is set
// well above any single adapter's TIMEOUT_MS. Exported so the CLI can
// derive the same context.WithTimeout it wraps the loop's own wall-clock
// check in.
const MaxExpectedTurnLatency = 4 * time.Minute

// Result is what a finished loop run reports to the CLI.
type Result struct {
	FinalText  string
	Iterations int
	// Finalized is true only if the finalize tool ran and succeeded.
	Finalized bool
}

// Loop drives the multi-turn tool-calling conversation described by
// spec.md §4.7, generalizing the teacher's askWithToolExecution
// (agent/builder_execution.go) into a driver that owns its own
// ConversationItem history and dispatches through toolrouter.Router
// instead of the teacher's inline agent.Tool map.
type Loop struct {
	LLM      LLMClient
	Router   *toolrouter.Router
	Logger   reellog.Logger
	Parallel int // intra-turn tool fan-out bound, per PARALLEL
	MaxTurns int // MAX_ITERATIONS

	items []ConversationItem
	// finalized is flipped by a sentinel check on tool output once the
	// finalize tool has been dispatched and returned no error class.
	finalized bool
}

// NewLoop builds a Loop seeded with the initial user_text item.
func NewLoop(llm LLMClient, router *toolrouter.Router, logger reellog.Logger, parallel, maxTurns int, prompt string) *Loop {
	if parallel < 1 {
		parallel = 1
	}
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &Loop{
		LLM: llm, Router: router, Logger: logger,
		Parallel: parallel, MaxTurns: maxTurns,
		items: []ConversationItem{UserText(prompt)},
	}
}

// Run drives the loop to completion: finalize success, MAX_ITERATIONS
// exhaustion, or an unrecoverable error class, whichever comes first. The
// overall deadline is a monotonic wall-clock check re-evaluated after
// every turn, per spec.md §5, layered on top of (not instead of) the
// context deadline passed by the caller.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	deadline := time.Now().Add(time.Duration(l.MaxTurns) * MaxExpectedTurnLatency)
	tools := l.toolSpecs()

	var lastText string
	for turn := 1; turn <= l.MaxTurns; turn++ {
		if time.Now().After(deadline) {
			l.Logger.Warn(ctx, "loop deadline exceeded", reellog.F("turn", turn))
			return Result{FinalText: lastText, Iterations: turn - 1}, reelerr.WithContext(
				fmt.Errorf("exceeded overall deadline after %d turns", turn-1),
				reelerr.ClassLLM, "reelagent.Loop.Run", nil)
		}
		l.Logger.IterationStart(ctx, turn)

		resp, err := l.completeWithRetry(ctx, tools)
		if err != nil {
			return Result{FinalText: lastText, Iterations: turn - 1}, err
		}

		if resp.AssistantText != "" {
			lastText = resp.AssistantText
			l.items = append(l.items, AssistantText(resp.AssistantText))
		}

		if len(resp.ToolCalls) == 0 {
			return Result{FinalText: lastText, Iterations: turn, Finalized: l.finalized}, nil
		}

		for _, tc := range resp.ToolCalls {
			l.items = append(l.items, ToolCall(tc.CallID, tc.Name, tc.ArgsJSON))
		}
		outputs := l.dispatchTools(ctx, resp.ToolCalls)
		var unrecoverable error
		for _, tc := range resp.ToolCalls {
			output := outputs[tc.CallID]
			l.items = append(l.items, ToolCallOutput(tc.CallID, output))
			if tc.Name == "finalize" && !isErrorPacket(output) {
				l.finalized = true
			}
			if class, ok := classifyToolOutput(output); ok && class.Unrecoverable() && unrecoverable == nil {
				unrecoverable = reelerr.WithContext(
					fmt.Errorf("tool %s returned unrecoverable error: %s", tc.Name, output),
					class, "reelagent.Loop.Run", map[string]any{"tool": tc.Name})
			}
		}
		if unrecoverable != nil {
			l.Logger.Error(ctx, "aborting loop on unrecoverable tool error", reellog.F("error", unrecoverable.Error()))
			return Result{FinalText: lastText, Iterations: turn}, unrecoverable
		}

		if l.finalized {
			return Result{FinalText: lastText, Iterations: turn, Finalized: true}, nil
		}
	}

	return Result{FinalText: lastText, Iterations: l.MaxTurns, Finalized: l.finalized}, nil
}

// completeWithRetry applies spec.md §7's llm_error policy: retried once,
// and if still failing the caller exits 70. retry.Do's generic backoff
// loop already implements "one extra attempt" when MaxAttempts is 2.
func (l *Loop) completeWithRetry(ctx context.Context, tools []ToolSpec) (Response, error) {
	var resp Response
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond, RateLimitDelay: 2 * time.Second}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		r, err := l.LLM.Complete(ctx, l.items, tools)
		if err != nil {
			return reelerr.WithContext(err, reelerr.ClassLLM, "reelagent.Loop.Complete", nil)
		}
		resp = r
		return nil
	})
	if err != nil {
		l.Logger.Error(ctx, "llm call failed after retry", reellog.F("error", err.Error()))
		return Response{}, err
	}
	return resp, nil
}

// dispatchTools fans tool calls in one turn out across at most l.Parallel
// concurrent workers, the same counting-semaphore shape
// provider.Semaphore gives each adapter, generalizing the teacher's
// executeToolsParallel from a fixed worker pool over one []Tool into a
// bound over one turn's arbitrary tool-call batch.
func (l *Loop) dispatchTools(ctx context.Context, calls []ToolCallRequest) map[string]string {
	sem := provider.NewSemaphore(l.Parallel)
	out := make(map[string]string, len(calls))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, tc := range calls {
		tc := tc
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx); err != nil {
				mu.Lock()
				out[tc.CallID] = fmt.Sprintf(`{"error":"llm_error","message":%q}`, err.Error())
				mu.Unlock()
				return
			}
			defer sem.Release()

			l.Logger.ToolRequest(ctx, tc.Name, 1)
			result := l.Router.Dispatch(ctx, tc.Name, tc.ArgsJSON)

			mu.Lock()
			out[tc.CallID] = result
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func (l *Loop) toolSpecs() []ToolSpec {
	tools := l.Router.Tools()
	specs := make([]ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = ToolSpec{Name: t.Name, Description: t.Description, Schema: t.Schema}
	}
	return specs
}

// isErrorPacket reports whether a tool's JSON output is an error packet
// rather than a success payload, cheaply enough to call on every
// finalize response without a full schema decode.
func isErrorPacket(output string) bool {
	return len(output) > 10 && output[:10] == `{"error":"`
}

// errorPacketShape mirrors toolrouter's wire-level error packet so the
// loop can recover the reelerr.Class a tool failure was classified
// under, without toolrouter ever returning a bare Go error across the
// "never throw" boundary.
type errorPacketShape struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classifyToolOutput parses output as an error packet and reports the
// class it carries. ok is false for a success payload or anything that
// doesn't parse as an error packet.
func classifyToolOutput(output string) (reelerr.Class, bool) {
	if !isErrorPacket(output) {
		return "", false
	}
	var packet errorPacketShape
	if err := json.Unmarshal([]byte(output), &packet); err != nil {
		return "", false
	}
	return reelerr.Class(packet.Error), true
}
