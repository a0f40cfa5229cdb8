package eventbus

import (
	"context"
	"fmt"
	"log/slog"
)

// Dispatch runs h for msg on behalf of a transport. It restores the request
// metadata from the envelope, converts panics into errors and logs failures,
// so no handler failure escapes into the transport's consume loop.
func Dispatch(ctx context.Context, logger *slog.Logger, h Handler, msg Message) (err error) {
	ctx = msg.Context(ctx)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler for %s panicked: %v", msg.Topic, r)
			logger.ErrorContext(ctx, "event handler panicked",
				"topic", msg.Topic,
				"message_id", msg.ID,
				"panic", r,
			)
		}
	}()

	if err = h(ctx, msg); err != nil {
		logger.WarnContext(ctx, "event handler failed",
			"topic", msg.Topic,
			"message_id", msg.ID,
			"error", err,
		)
	}
	return err
}
