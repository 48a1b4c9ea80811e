package contxt

import (
	"context"
	"time"
)

// NewContext returns a context bounded by timeout for fire-and-forget work
// such as a trigger scan or a cleanup pass. The cancel func is reclaimed
// once the deadline fires.
func NewContext(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ctx
}
