package repository

import "context"

type commitHooksKey struct{}

type commitHooks struct {
	fns []func()
}

// WithCommitHooks prepares ctx for an outermost section. The returned func runs
// every callback registered through OnCommit and must only be called after commit.
func WithCommitHooks(ctx context.Context) (context.Context, func()) {
	hooks := &commitHooks{}
	return context.WithValue(ctx, commitHooksKey{}, hooks), func() {
		for _, fn := range hooks.fns {
			fn()
		}
	}
}

// OnCommit defers fn until the section bound to ctx commits. Rolled back
// sections drop it. Outside a section fn runs immediately.
func OnCommit(ctx context.Context, fn func()) {
	if hooks, ok := ctx.Value(commitHooksKey{}).(*commitHooks); ok {
		hooks.fns = append(hooks.fns, fn)
		return
	}
	fn()
}
