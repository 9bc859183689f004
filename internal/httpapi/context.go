package httpapi

import (
	"context"
)

// serverBaseCtx is canceled on process shutdown so in-flight handlers stop.
// Defaults to Background until the owner installs one.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context from req that is additionally canceled when
// base is done. Deriving from req keeps its values (request id) visible to
// the engine; context.AfterFunc avoids a watcher goroutine per request.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
