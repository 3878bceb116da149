package provider

import (
	"context"

	"github.com/zjrosen/chorus/internal/event"
)

// Emit delivers one event to an adapter stream, giving up when the context
// ends. Returns false when the event was not delivered; adapters treat that
// as a signal to stop producing.
func Emit(ctx context.Context, out chan<- event.Event, ev event.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
