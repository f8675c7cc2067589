package signals

import (
	"context"
	"os/signal"
)

// NotifyContext returns a copy of parent that is canceled on the first
// shutdown signal. The second signal is left to the runtime default, so a
// stuck shutdown can still be interrupted.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, ShutdownSignals()...)
}
