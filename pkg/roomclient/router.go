package roomclient

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/kodescrux/collab/pkg/protocol"
)

// Wildcard subscribes a handler to every inbound frame.
const Wildcard = "*"

// Handler receives a decoded inbound frame.
type Handler func(protocol.Inbound)

// Router fans inbound frames out to registered handlers. Handlers for a
// type run in registration order; a panicking handler is recovered and
// logged so the rest still run.
type Router struct {
	mu       sync.Mutex
	handlers map[string][]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string][]Handler)}
}

func (r *Router) On(frameType string, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[frameType] = append(r.handlers[frameType], h)
}

// Off removes a previously registered handler, matched by function
// identity. Unknown handlers are ignored.
func (r *Router) Off(frameType string, h Handler) {
	if h == nil {
		return
	}
	target := reflect.ValueOf(h).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[frameType]
	for i, existing := range hs {
		if reflect.ValueOf(existing).Pointer() == target {
			r.handlers[frameType] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

// Reset drops every registration.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string][]Handler)
}

// Dispatch delivers a frame to its type handlers, then to wildcard
// handlers.
func (r *Router) Dispatch(frame protocol.Inbound) {
	frameType := protocol.FrameTypeOf(frame)

	r.mu.Lock()
	hs := append([]Handler(nil), r.handlers[frameType]...)
	hs = append(hs, r.handlers[Wildcard]...)
	r.mu.Unlock()

	for _, h := range hs {
		invoke(h, frame, frameType)
	}
}

func invoke(h Handler, frame protocol.Inbound, frameType string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("handler panic", "type", frameType, "panic", rec)
		}
	}()
	h(frame)
}
