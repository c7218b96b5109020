package bus

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"sync"
)

type entry struct {
	request  domain.SubscribeRequest
	listener contract.Listener
}

// Registry tracks live subscriptions per topic.
// Lookups hand out snapshots so delivery never runs under the registry lock.
type Registry struct {
	mu     sync.RWMutex
	topics map[domain.Topic]map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{topics: make(map[domain.Topic]map[string]entry)}
}

// Subscribe registers listener under id. If the topic does not yet exist in
// the registry, it is initialized on the fly.
func (r *Registry) Subscribe(id string, request domain.SubscribeRequest, listener contract.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[request.Topic]; !ok {
		r.topics[request.Topic] = make(map[string]entry)
	}
	r.topics[request.Topic][id] = entry{request: request, listener: listener}
}

// Unsubscribe removes id and reports whether it was registered.
// Empty topics are dropped so the map does not grow over time.
func (r *Registry) Unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic, entries := range r.topics {
		if _, ok := entries[id]; !ok {
			continue
		}
		delete(entries, id)
		if len(entries) == 0 {
			delete(r.topics, topic)
		}
		return true
	}
	return false
}

func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entries := range r.topics {
		if _, ok := entries[id]; ok {
			return true
		}
	}
	return false
}

// Matching returns the listeners whose filter accepts change.
func (r *Registry) Matching(change domain.Change) []contract.Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var listeners []contract.Listener
	for _, e := range r.topics[change.Topic] {
		if e.request.Filter.Matches(change) {
			listeners = append(listeners, e.listener)
		}
	}
	return listeners
}

// Drain removes every subscription and returns their listeners.
func (r *Registry) Drain() []contract.Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	var listeners []contract.Listener
	for _, entries := range r.topics {
		for _, e := range entries {
			listeners = append(listeners, e.listener)
		}
	}
	clear(r.topics)
	return listeners
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entries := range r.topics {
		n += len(entries)
	}
	return n
}
