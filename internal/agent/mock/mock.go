// Package mock provides a configurable test double for [agent.Agent].
//
// The mock records every invocation and replays configured results, so
// coordinator tests can script a whole multi-agent turn without a live
// language model.
//
// Example:
//
//	rule := &mock.Agent{
//	    NameResult:   "rule",
//	    InvokeResult: agent.Result{Content: "no check needed"},
//	}
//	res, err := rule.Invoke(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/fateweaver/internal/agent"
)

// Compile-time check that [Agent] satisfies [agent.Agent].
var _ agent.Agent = (*Agent)(nil)

// InvokeCall records a single Invoke invocation.
type InvokeCall struct {
	// Ctx is the context passed to Invoke.
	Ctx context.Context
	// Req is the request passed to Invoke.
	Req agent.Request
}

// Agent is a mock [agent.Agent]. Configure the result fields, then
// inspect the recorded calls. The zero value is ready to use.
type Agent struct {
	mu sync.Mutex

	// NameResult is returned by Name.
	NameResult string

	// InvokeResults is a FIFO queue of results: each Invoke call consumes
	// one. When the queue is empty Invoke falls back to InvokeResult.
	// Lets a test script successive calls within one turn.
	InvokeResults []agent.Result

	// InvokeResult is returned once InvokeResults is drained.
	InvokeResult agent.Result

	// InvokeErr, if non-nil, is returned by Invoke instead of a result.
	InvokeErr error

	// InvokeCalls records every Invoke invocation in order.
	InvokeCalls []InvokeCall

	// CallCountName is the number of Name invocations.
	CallCountName int
}

// Name implements [agent.Agent].
func (a *Agent) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountName++
	return a.NameResult
}

// Invoke implements [agent.Agent].
func (a *Agent) Invoke(ctx context.Context, req agent.Request) (agent.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.InvokeCalls = append(a.InvokeCalls, InvokeCall{Ctx: ctx, Req: req})
	if a.InvokeErr != nil {
		return agent.Result{}, a.InvokeErr
	}
	if len(a.InvokeResults) > 0 {
		res := a.InvokeResults[0]
		a.InvokeResults = a.InvokeResults[1:]
		return res, nil
	}
	return a.InvokeResult, nil
}

// Reset clears all recorded calls. Thread-safe.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.InvokeCalls = nil
	a.CallCountName = 0
}
