package bus

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const SubjectPrefix = "chatsync.changes."

func Subject(topic domain.Topic) string { return SubjectPrefix + string(topic) }

type NatsConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NatsBus carries changes over core NATS subjects, one per topic, as JSON.
// Connection loss is reported to every subscriber as a transport error; a
// subscription made while disconnected is confirmed on reconnect.
type NatsBus struct {
	log     *slog.Logger
	conn    *nats.Conn
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]*natsSubscription
}

func NewNatsBus(log *slog.Logger, config NatsConfig) (*NatsBus, error) {
	if config.URL == "" {
		config.URL = nats.DefaultURL
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 500 * time.Millisecond
	}
	if config.Timeout == 0 {
		config.Timeout = 3 * time.Second
	}
	b := &NatsBus{
		log:     log.With("component", "nats_bus"),
		timeout: config.Timeout,
		subs:    make(map[string]*natsSubscription),
	}
	conn, err := nats.Connect(config.URL,
		nats.Name(config.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(config.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(config.Timeout),
		nats.DisconnectErrHandler(b.onDisconnect),
		nats.ReconnectHandler(b.onReconnect),
		nats.ClosedHandler(b.onClosed),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", config.URL, err)
	}
	b.conn = conn
	return b, nil
}

func (b *NatsBus) Publish(_ context.Context, change domain.Change) error {
	if !change.Valid() {
		return fmt.Errorf("%w: %s on %s", errors.ErrMalformedChange, change.Kind, change.Topic)
	}
	data, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if err = b.conn.Publish(Subject(change.Topic), data); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrTransient, err)
	}
	return nil
}

func (b *NatsBus) Subscribe(_ context.Context, request domain.SubscribeRequest, listener contract.Listener) (contract.ISubscription, error) {
	s := &natsSubscription{bus: b, id: uuid.NewString(), request: request, listener: listener}
	sub, err := b.conn.Subscribe(Subject(request.Topic), s.deliver)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrTransient, err)
	}
	s.sub = sub

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()

	if !b.conn.IsConnected() {
		b.log.Debug("Subscription pending reconnect", "filter", request.FilterKey())
		return s, nil
	}
	if err = b.conn.FlushTimeout(b.timeout); err != nil {
		_ = s.Unsubscribe()
		return nil, fmt.Errorf("%w: %v", errors.ErrTransient, err)
	}
	s.confirm()
	return s, nil
}

// Close drains the connection; pending deliveries finish first.
func (b *NatsBus) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Drain()
}

func (b *NatsBus) snapshot() []*natsSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := make([]*natsSubscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	return subs
}

func (b *NatsBus) onDisconnect(_ *nats.Conn, err error) {
	if err == nil {
		err = nats.ErrDisconnected
	}
	b.log.Warn("NATS disconnected", "error", err)
	for _, s := range b.snapshot() {
		s.report(domain.TransportError, fmt.Errorf("%w: %v", errors.ErrTransient, err))
	}
}

func (b *NatsBus) onReconnect(conn *nats.Conn) {
	b.log.Info("NATS reconnected", "url", conn.ConnectedUrl())
	for _, s := range b.snapshot() {
		s.confirm()
	}
}

func (b *NatsBus) onClosed(_ *nats.Conn) {
	b.log.Info("NATS connection closed")
	for _, s := range b.snapshot() {
		s.report(domain.TransportClosed, errors.ErrSubscriptionClosed)
	}
}

type natsSubscription struct {
	bus      *NatsBus
	id       string
	request  domain.SubscribeRequest
	listener contract.Listener
	sub      *nats.Subscription

	mu        sync.Mutex
	confirmed bool
	done      bool
}

func (s *natsSubscription) deliver(msg *nats.Msg) {
	var change domain.Change
	if err := json.Unmarshal(msg.Data, &change); err != nil {
		s.bus.log.Warn("Undecodable change dropped", "subject", msg.Subject, "error", err)
		return
	}
	if !s.request.Filter.Matches(change) {
		return
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done || s.listener.OnChange == nil {
		return
	}
	s.listener.OnChange(change)
}

// confirm reports SUBSCRIBED once per connection.
func (s *natsSubscription) confirm() {
	s.mu.Lock()
	if s.done || s.confirmed {
		s.mu.Unlock()
		return
	}
	s.confirmed = true
	s.mu.Unlock()
	if s.listener.OnStatus != nil {
		s.listener.OnStatus(domain.TransportSubscribed, nil)
	}
}

func (s *natsSubscription) report(status domain.TransportStatus, err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.confirmed = false
	s.mu.Unlock()
	if s.listener.OnStatus != nil {
		s.listener.OnStatus(status, err)
	}
}

func (s *natsSubscription) Unsubscribe() error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	s.mu.Unlock()

	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	if s.sub == nil || s.bus.conn.IsClosed() {
		return nil
	}
	return s.sub.Unsubscribe()
}

var _ contract.IChangeBus = (*NatsBus)(nil)
