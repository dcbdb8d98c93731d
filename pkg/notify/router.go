package notify

import "sync"

// Router resolves a channel name ("telegram", "discord") to its sink.
// Channels register themselves at startup; lookups happen from the control
// loop, the progress reporter and fetch workers.
type Router struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

func NewRouter() *Router {
	return &Router{sinks: make(map[string]Sink)}
}

func (r *Router) Register(channel string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[channel] = sink
}

func (r *Router) Sink(channel string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[channel]
	return s, ok
}
