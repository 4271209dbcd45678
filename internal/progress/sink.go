package progress

import "context"

// Sink consumes batches of events. Consume may be called from the hub
// goroutine only, so implementations need no locking of their own.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events without blocking.
type Emitter interface {
	Emit(evt Event)
}
