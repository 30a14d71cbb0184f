package runtool

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a scriptable Runner for tests: callers register a Result (or
// error) keyed by tool name, and every invocation is recorded in Calls for
// later assertions on ordering.
type Fake struct {
	mu       sync.Mutex
	Handlers map[string]func(args []string, opts Options) (Result, error)
	Calls    []Call
}

// Call records one invocation observed by the fake.
type Call struct {
	Name string
	Args []string
	Opts Options
}

// NewFake returns an empty Fake runner.
func NewFake() *Fake {
	return &Fake{Handlers: map[string]func(args []string, opts Options) (Result, error){}}
}

// On registers a handler invoked whenever Run is called with the given tool
// name.
func (f *Fake) On(name string, h func(args []string, opts Options) (Result, error)) {
	f.Handlers[name] = h
}

// OnOK registers a handler that always succeeds with fixed stdout.
func (f *Fake) OnOK(name, stdout string) {
	f.On(name, func(args []string, opts Options) (Result, error) {
		return Result{Stdout: stdout}, nil
	})
}

func (f *Fake) Run(ctx context.Context, name string, args []string, opts Options) (Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Name: name, Args: append([]string(nil), args...), Opts: opts})
	h, ok := f.Handlers[name]
	f.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("fake runtool: no handler registered for %q", name)
	}
	return h(args, opts)
}

var _ Runner = (*Fake)(nil)
