package httpapi

import (
	"context"
)

// serverBaseCtx is canceled when the daemon shuts down so long-lived
// handlers (the alert stream) end with it.
var serverBaseCtx = context.Background()

func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives from req and additionally cancels when base is done.
// Values come from req. cancel must be called when the handler returns.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
