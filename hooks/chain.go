package hooks

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
)

// ErrNextCalledMultipleTimes is returned by a continuation that has already
// been invoked, or whose position in the chain has already been passed.
var ErrNextCalledMultipleTimes = errors.New("next() called multiple times")

// Next continues execution with the next hook in the chain. It returns once
// the remainder of the chain has completed, with the first error raised by
// any later hook.
type Next func() error

// Hook is a single interceptor in a chain. It receives the payload being
// processed, the context shared by all hooks of the chain, and a
// continuation. A hook that returns without calling next ends the chain
// without error.
type Hook[P, C any] func(payload P, ctx C, next Next) error

// Chain is an ordered list of hooks. Hooks run in the order they were added,
// and the same hook may be added more than once.
//
// Run composes the chain from a snapshot of the hooks present when it is
// called. Hooks added while a run is in flight only apply to later runs.
type Chain[P, C any] struct {
	mu    sync.RWMutex
	hooks []Hook[P, C]
}

// Add appends hooks to the end of the chain.
func (c *Chain[P, C]) Add(hooks ...Hook[P, C]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hooks...)
}

// Len returns the number of hooks in the chain.
func (c *Chain[P, C]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hooks)
}

// Snapshot returns a copy of the hooks currently in the chain.
func (c *Chain[P, C]) Snapshot() []Hook[P, C] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make([]Hook[P, C], len(c.hooks))
	copy(snapshot, c.hooks)
	return snapshot
}

// Run executes the chain for the given payload and context. Running an
// empty chain does nothing.
func (c *Chain[P, C]) Run(payload P, ctx C) error {
	stack := c.Snapshot()
	if len(stack) == 0 {
		return nil
	}
	return Compose(stack...)(payload, ctx, func() error { return nil })
}

// Compose builds a single hook out of a stack of hooks. When the composed
// hook is invoked, the first hook of the stack runs; each hook's next runs
// the hook after it, and next of the last hook calls the next passed to the
// composed hook, if any.
//
// Each invocation tracks the highest index dispatched so far. Dispatching
// an index at or below it fails with ErrNextCalledMultipleTimes before any
// hook runs.
func Compose[P, C any](stack ...Hook[P, C]) Hook[P, C] {
	return func(payload P, ctx C, next Next) error {
		var mu sync.Mutex
		index := -1

		var dispatch func(i int) error
		dispatch = func(i int) error {
			mu.Lock()
			if i <= index {
				mu.Unlock()
				return ErrNextCalledMultipleTimes
			}
			index = i
			mu.Unlock()

			if i < len(stack) {
				return callWithRecovery(stack[i], payload, ctx, func() error {
					return dispatch(i + 1)
				})
			}
			if next != nil {
				return next()
			}
			return nil
		}

		return dispatch(0)
	}
}

// PanicError carries a value recovered from a panicking hook, along with the
// stack of the goroutine at the time of the panic.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("hook panicked: %v", e.Value)
}

// Unwrap returns the panic value if it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func callWithRecovery[P, C any](hook Hook[P, C], payload P, ctx C, next Next) (err error) {
	defer func() {
		if maybeErr := recover(); maybeErr != nil {
			stack := string(debug.Stack())
			stackLines := strings.Split(stack, "\n")
			if len(stackLines) > 6 {
				stackLines = stackLines[6:]
			}
			err = &PanicError{
				Value: maybeErr,
				Stack: strings.Join(stackLines, "\n"),
			}
		}
	}()
	return hook(payload, ctx, next)
}
