// Package hooks implements ordered hook chains with single-invocation
// continuations.
//
// A chain is built by adding hooks, then run with a payload and a context:
//
//	var chain hooks.Chain[string, *State]
//	chain.Add(func(msg string, state *State, next hooks.Next) error {
//	    state.Seen = append(state.Seen, msg)
//	    return next()
//	})
//	err := chain.Run("hello", state)
//
// Each hook decides whether the chain continues. Calling next runs the rest
// of the chain and returns its error, so a hook can act both before and
// after the hooks that follow it. Returning without calling next stops the
// chain silently. Returning an error stops the chain and hands the error
// back to the previous hook's next call, and finally to Run.
//
// Calling next twice in the same run fails with ErrNextCalledMultipleTimes.
// A panicking hook is recovered and surfaces as a *PanicError.
package hooks
