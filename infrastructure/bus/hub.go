package bus

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Hub is the in-process change bus. It delivers synchronously on the
// publisher's goroutine, after every registry lock has been released.
type Hub struct {
	log      *slog.Logger
	registry *Registry

	mu          sync.Mutex
	unavailable bool
	closed      bool
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log.With("component", "hub"), registry: NewRegistry()}
}

func (h *Hub) Publish(_ context.Context, change domain.Change) error {
	if !change.Valid() {
		return fmt.Errorf("%w: %s on %s", errors.ErrMalformedChange, change.Kind, change.Topic)
	}
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return errors.ErrSubscriptionClosed
	}
	for _, listener := range h.registry.Matching(change) {
		if listener.OnChange != nil {
			listener.OnChange(change)
		}
	}
	return nil
}

// Subscribe registers listener and confirms it before returning.
func (h *Hub) Subscribe(_ context.Context, request domain.SubscribeRequest, listener contract.Listener) (contract.ISubscription, error) {
	h.mu.Lock()
	switch {
	case h.closed:
		h.mu.Unlock()
		return nil, errors.ErrSubscriptionClosed
	case h.unavailable:
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: hub unavailable", errors.ErrTransient)
	}
	h.mu.Unlock()

	id := uuid.NewString()
	h.registry.Subscribe(id, request, listener)
	h.log.Debug("Subscriber registered", "id", id, "filter", request.FilterKey())
	if listener.OnStatus != nil {
		listener.OnStatus(domain.TransportSubscribed, nil)
	}
	return &hubSubscription{hub: h, id: id}, nil
}

// Disconnect drops every live subscription with a transport error, the way a
// network blip would.
func (h *Hub) Disconnect() {
	listeners := h.registry.Drain()
	h.log.Info("Hub disconnected subscribers", "count", len(listeners))
	for _, listener := range listeners {
		if listener.OnStatus != nil {
			listener.OnStatus(domain.TransportError, fmt.Errorf("%w: hub disconnected", errors.ErrTransient))
		}
	}
}

// SetAvailable toggles whether new subscriptions are accepted. Going
// unavailable also disconnects every current subscriber.
func (h *Hub) SetAvailable(available bool) {
	h.mu.Lock()
	h.unavailable = !available
	h.mu.Unlock()
	if !available {
		h.Disconnect()
	}
}

func (h *Hub) Subscribers() int { return h.registry.Len() }

func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	for _, listener := range h.registry.Drain() {
		if listener.OnStatus != nil {
			listener.OnStatus(domain.TransportClosed, errors.ErrSubscriptionClosed)
		}
	}
	return nil
}

type hubSubscription struct {
	hub  *Hub
	id   string
	once sync.Once
}

func (s *hubSubscription) Unsubscribe() error {
	s.once.Do(func() { s.hub.registry.Unsubscribe(s.id) })
	return nil
}

var _ contract.IChangeBus = (*Hub)(nil)
