// Package runtime keeps live subscriptions to the remote store alive.
// It owns retry timers, backoff and the polling fallback, and contains no
// knowledge of channels or messages beyond the Record shape.
package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// PollResult is one fallback snapshot.
// Floor bounds a windowed snapshot: records positioned before it were not
// fetched and are never reported as deleted. A zero Floor means the snapshot
// is complete.
type PollResult struct {
	Records []domain.Record
	Floor   time.Time
}

type PollFunc func(ctx context.Context) (PollResult, error)

type SubscriptionConfig struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxRetries     int
	PollInterval   time.Duration
	ConnectTimeout time.Duration
	RefreshLimit   rate.Limit
	RefreshBurst   int
}

func DefaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		MaxRetries:     3,
		PollInterval:   10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		RefreshLimit:   rate.Every(time.Second),
		RefreshBurst:   3,
	}
}

// SubscriptionManager is the resilient state machine behind one handle:
//
//	IDLE -> CONNECTING -> SUBSCRIBED
//	CONNECTING|SUBSCRIBED --error--> RETRYING --delay--> CONNECTING
//	RETRYING x MaxRetries --> POLLING_FALLBACK (until the next Start)
//
// Every callback runs under the handle lock. The change handler and status
// listeners are invoked with that lock held and must not call back into the
// manager.
type SubscriptionManager struct {
	mu        sync.Mutex
	log       *slog.Logger
	name      string
	id        string
	store     contract.IRemoteStore
	metrics   *observability.Recorder
	config    SubscriptionConfig
	scheduler *Scheduler
	limiter   *rate.Limiter
	onChange  func(domain.Change)
	poll      PollFunc
	listeners []func(domain.SubscriptionStatus)

	request    domain.SubscribeRequest
	state      domain.SubscriptionState
	retryCount int
	degraded   bool
	err        error

	generation    uint64
	attempt       uint64
	ctx           context.Context
	cancel        context.CancelFunc
	sub           contract.ISubscription
	cancelTimeout func()
	cancelRetry   func()
	cancelPoll    func()
	polling       bool
	repoll        bool
	snapshot      map[string]domain.Record
}

func NewSubscriptionManager(
	log *slog.Logger,
	name string,
	store contract.IRemoteStore,
	config SubscriptionConfig,
	metrics *observability.Recorder,
	onChange func(domain.Change),
	poll PollFunc,
) *SubscriptionManager {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}
	if config.RefreshLimit == 0 {
		config.RefreshLimit = rate.Inf
	}
	if config.RefreshBurst <= 0 {
		config.RefreshBurst = 1
	}
	id := uuid.NewString()
	return &SubscriptionManager{
		log:       log.With("handle", name, "handle_id", id),
		name:      name,
		id:        id,
		store:     store,
		metrics:   metrics,
		config:    config,
		scheduler: NewScheduler(),
		limiter:   rate.NewLimiter(config.RefreshLimit, config.RefreshBurst),
		onChange:  onChange,
		poll:      poll,
		state:     domain.StateIdle,
	}
}

// OnStatus registers a listener for every status transition.
func (m *SubscriptionManager) OnStatus(fn func(domain.SubscriptionStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *SubscriptionManager) Status() domain.SubscriptionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Start tears down whatever the handle was doing and connects to request.
// It returns once the first subscribe call has been issued.
func (m *SubscriptionManager) Start(request domain.SubscribeRequest) {
	m.mu.Lock()
	m.teardownLocked()
	m.request = request
	m.retryCount = 0
	m.degraded = false
	m.err = nil
	m.snapshot = nil
	m.ctx, m.cancel = context.WithCancel(context.Background())
	attempt, ctx := m.beginAttemptLocked()
	m.mu.Unlock()

	m.log.Debug("Subscription starting", "filter", request.FilterKey())
	m.connect(ctx, attempt, request)
}

// Stop cancels timers, the live subscription and any poll. No event is
// delivered once Stop has returned.
func (m *SubscriptionManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == domain.StateIdle && m.sub == nil {
		return
	}
	m.teardownLocked()
	m.retryCount = 0
	m.degraded = false
	m.setStateLocked(domain.StateIdle)
}

// ForceRefresh polls now when in fallback, or right after the poll in flight,
// and skips the remaining backoff when retrying. Calls beyond the refresh rate are dropped.
func (m *SubscriptionManager) ForceRefresh() {
	m.mu.Lock()
	if !m.limiter.Allow() {
		m.mu.Unlock()
		m.log.Debug("Force refresh throttled")
		return
	}
	switch m.state {
	case domain.StatePollingFallback:
		if m.polling {
			m.repoll = true
		} else {
			m.cancelPollLocked()
			m.schedulePollLocked(0)
		}
		m.mu.Unlock()
	case domain.StateRetrying:
		cancelFunc(&m.cancelRetry)
		attempt, ctx := m.beginAttemptLocked()
		request := m.request
		m.mu.Unlock()
		m.connect(ctx, attempt, request)
	default:
		m.mu.Unlock()
	}
}

func (m *SubscriptionManager) connect(ctx context.Context, attempt uint64, request domain.SubscribeRequest) {
	m.metrics.RemoteCall("subscribe")
	listener := contract.Listener{
		OnChange: func(change domain.Change) { m.handleChange(attempt, change) },
		OnStatus: func(status domain.TransportStatus, err error) { m.handleTransport(attempt, status, err) },
	}
	sub, err := m.store.Subscribe(ctx, request, listener)

	m.mu.Lock()
	defer m.mu.Unlock()
	live := attempt == m.attempt &&
		(m.state == domain.StateConnecting || m.state == domain.StateSubscribed)
	if !live {
		// Superseded while subscribing, or the transport already failed.
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		return
	}
	if err != nil {
		m.failLocked(err)
		return
	}
	m.sub = sub
}

func (m *SubscriptionManager) handleTransport(attempt uint64, status domain.TransportStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.attempt {
		return
	}
	switch status {
	case domain.TransportSubscribed:
		if m.state != domain.StateConnecting {
			return
		}
		cancelFunc(&m.cancelTimeout)
		m.retryCount = 0
		m.setStateLocked(domain.StateSubscribed)
		m.log.Info("Subscription established", "filter", m.request.FilterKey())
	case domain.TransportError, domain.TransportTimedOut, domain.TransportClosed:
		if m.state != domain.StateConnecting && m.state != domain.StateSubscribed {
			return
		}
		if err == nil {
			err = fmt.Errorf("%w: %s", errors.ErrSubscriptionClosed, status)
		}
		m.failLocked(err)
	default:
		m.log.Warn("Unknown transport status ignored", "status", status)
	}
}

func (m *SubscriptionManager) handleConnectTimeout(attempt uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.attempt || m.state != domain.StateConnecting {
		return
	}
	m.failLocked(errors.ErrConnectTimeout)
}

func (m *SubscriptionManager) handleChange(attempt uint64, change domain.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if attempt != m.attempt {
		return
	}
	if m.state != domain.StateConnecting && m.state != domain.StateSubscribed {
		return
	}
	m.emitLocked(change)
}

func (m *SubscriptionManager) emitLocked(change domain.Change) {
	if !change.Valid() {
		m.log.Warn("Malformed change ignored", "kind", change.Kind, "topic", change.Topic)
		m.metrics.ChangeIgnored(m.name, "malformed")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Change handler panicked", "kind", change.Kind, "panic", r)
		}
	}()
	m.onChange(change)
}

// failLocked routes a failure to retry, fallback or terminal stop.
func (m *SubscriptionManager) failLocked(err error) {
	m.closeSubLocked()
	cancelFunc(&m.cancelTimeout)

	if errors.IsTerminal(err) {
		m.log.Error("Subscription target is gone, not retrying", "error", err)
		m.teardownLocked()
		m.err = err
		m.setStateLocked(domain.StateIdle)
		return
	}

	failures := m.retryCount + 1
	if failures >= m.config.MaxRetries {
		m.retryCount = failures
		m.enterFallbackLocked(err)
		return
	}
	delay := m.backoff(m.retryCount)
	m.retryCount = failures
	m.metrics.Retry(m.name)
	m.log.Debug("Subscription failed, retrying", "error", err, "retry", m.retryCount, "delay", delay)
	m.setStateLocked(domain.StateRetrying)
	generation := m.generation
	m.cancelRetry = m.scheduler.After(generation, delay, func() { m.retry(generation) })
}

func (m *SubscriptionManager) retry(generation uint64) {
	m.mu.Lock()
	if generation != m.generation || m.state != domain.StateRetrying {
		m.mu.Unlock()
		return
	}
	m.cancelRetry = nil
	attempt, ctx := m.beginAttemptLocked()
	request := m.request
	m.mu.Unlock()
	m.connect(ctx, attempt, request)
}

// backoff returns BaseDelay * 2^retry capped at MaxDelay.
func (m *SubscriptionManager) backoff(retry int) time.Duration {
	delay := m.config.BaseDelay
	for i := 0; i < retry; i++ {
		if m.config.MaxDelay > 0 && delay >= m.config.MaxDelay {
			break
		}
		delay *= 2
	}
	if m.config.MaxDelay > 0 && delay > m.config.MaxDelay {
		delay = m.config.MaxDelay
	}
	return delay
}

func (m *SubscriptionManager) enterFallbackLocked(cause error) {
	m.degraded = true
	m.metrics.Fallback(m.name)
	m.log.Warn("Retries exhausted, switching to polling",
		"error", cause, "retries", m.retryCount, "interval", m.config.PollInterval)
	m.setStateLocked(domain.StatePollingFallback)
	if m.poll == nil {
		m.log.Warn("No poller configured, handle stays degraded without updates")
		return
	}
	m.schedulePollLocked(0)
}

func (m *SubscriptionManager) schedulePollLocked(delay time.Duration) {
	generation := m.generation
	m.cancelPoll = m.scheduler.After(generation, delay, func() { m.runPoll(generation) })
}

func (m *SubscriptionManager) cancelPollLocked() {
	cancelFunc(&m.cancelPoll)
}

func (m *SubscriptionManager) runPoll(generation uint64) {
	m.mu.Lock()
	if generation != m.generation || m.state != domain.StatePollingFallback || m.polling {
		m.mu.Unlock()
		return
	}
	m.cancelPoll = nil
	m.polling = true
	ctx := m.ctx
	m.mu.Unlock()

	m.metrics.RemoteCall("poll")
	result, err := m.poll(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if generation != m.generation || m.state != domain.StatePollingFallback {
		return
	}
	m.polling = false
	m.metrics.Poll(m.name, err)
	switch {
	case err != nil && errors.IsTerminal(err):
		m.log.Error("Poll target is gone, stopping", "error", err)
		m.teardownLocked()
		m.err = err
		m.setStateLocked(domain.StateIdle)
		return
	case err != nil:
		m.log.Warn("Poll failed", "error", err)
	default:
		m.applySnapshotLocked(result)
	}
	delay := m.config.PollInterval
	if m.repoll {
		m.repoll = false
		delay = 0
	}
	m.schedulePollLocked(delay)
}

// applySnapshotLocked diffs a poll against the previous one and emits the
// same change shapes the push transport would have delivered.
func (m *SubscriptionManager) applySnapshotLocked(result PollResult) {
	next := make(map[string]domain.Record, len(result.Records))
	for _, r := range result.Records {
		id := r.RecordID()
		if _, dup := next[id]; dup {
			continue
		}
		next[id] = r
		prev, known := m.snapshot[id]
		switch {
		case !known:
			m.emitRecordLocked(domain.ChangeInsert, r)
		case r.RecordVersion().After(prev.RecordVersion()):
			m.emitRecordLocked(domain.ChangeUpdate, r)
		}
	}

	var vanished []string
	for id, prev := range m.snapshot {
		if _, ok := next[id]; ok {
			continue
		}
		if !result.Floor.IsZero() && prev.RecordPosition().Before(result.Floor) {
			continue
		}
		vanished = append(vanished, id)
	}
	slices.Sort(vanished)
	for _, id := range vanished {
		m.emitRecordLocked(domain.ChangeDelete, m.snapshot[id])
	}
	m.snapshot = next
}

func (m *SubscriptionManager) emitRecordLocked(kind domain.ChangeKind, r domain.Record) {
	change, ok := domain.ChangeFromRecord(kind, r)
	if !ok {
		m.log.Warn("Unknown record type in poll result", "type", fmt.Sprintf("%T", r))
		return
	}
	m.emitLocked(change)
}

// beginAttemptLocked moves to CONNECTING under a fresh attempt token and
// arms the connect timeout.
func (m *SubscriptionManager) beginAttemptLocked() (uint64, context.Context) {
	m.attempt++
	attempt := m.attempt
	m.setStateLocked(domain.StateConnecting)
	if m.config.ConnectTimeout > 0 {
		m.cancelTimeout = m.scheduler.After(m.generation, m.config.ConnectTimeout, func() {
			m.handleConnectTimeout(attempt)
		})
	}
	return attempt, m.ctx
}

// teardownLocked invalidates every pending callback, timer and in-flight call.
func (m *SubscriptionManager) teardownLocked() {
	m.generation = m.scheduler.Advance()
	m.attempt++
	m.cancelTimeout, m.cancelRetry, m.cancelPoll = nil, nil, nil
	m.polling = false
	m.repoll = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.closeSubLocked()
}

func (m *SubscriptionManager) closeSubLocked() {
	if m.sub == nil {
		return
	}
	if err := m.sub.Unsubscribe(); err != nil {
		m.log.Debug("Unsubscribe failed", "error", err)
	}
	m.sub = nil
}

func (m *SubscriptionManager) setStateLocked(state domain.SubscriptionState) {
	m.state = state
	m.metrics.SubscriptionState(m.name, state)
	status := m.statusLocked()
	for _, fn := range m.listeners {
		fn(status)
	}
}

func (m *SubscriptionManager) statusLocked() domain.SubscriptionStatus {
	return domain.SubscriptionStatus{
		HandleID:   m.id,
		FilterKey:  m.request.FilterKey(),
		State:      m.state,
		RetryCount: m.retryCount,
		Degraded:   m.degraded,
		Err:        m.err,
	}
}

func cancelFunc(fn *func()) {
	if *fn != nil {
		(*fn)()
		*fn = nil
	}
}
