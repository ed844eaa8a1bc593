package browser

import (
	"context"
	"time"
)

// CombineContext returns a context derived from primary that is also canceled
// when secondary is done. Values (including the chromedp target) come from primary.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// Detach returns a context that inherits values from ctx but outlives it.
// Cleanup that must run after an invocation deadline (releasing a session,
// posting a timeout notice) uses it.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// DetachedTimeout detaches ctx and bounds the result by d.
func DetachedTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(Detach(ctx), d)
}
