package saga

import (
	"context"

	"github.com/jonboulle/clockwork"
)

func (o *Orchestrator) runSweep(ctx context.Context, ticker clockwork.Ticker) {
	defer close(o.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := o.SweepTimeouts(ctx); n > 0 {
				o.logger.InfoContext(ctx, "timeout sweep compensated sagas", "count", n)
			}
		}
	}
}

// SweepTimeouts compensates every non-terminal saga older than the timeout
// and returns how many it compensated.
func (o *Orchestrator) SweepTimeouts(ctx context.Context) int {
	now := o.clock.Now()
	compensated := 0

	for _, e := range o.sagas.snapshot() {
		e.mu.Lock()
		age := now.Sub(e.state.StartedAt)
		if !e.state.Status.IsTerminal() && age > o.timeout {
			o.logger.WarnContext(ctx, "saga timed out",
				"saga_id", e.state.SagaID,
				"status", e.state.Status,
				"age", age.String(),
			)
			o.metrics.sagaTimedOut()
			o.compensate(ctx, e, ReasonTimeout)
			compensated++
		}
		e.mu.Unlock()
	}
	return compensated
}
