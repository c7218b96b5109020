// Package observability counts what the sync engine does for an external
// dashboard. A Recorder lives exactly as long as the session that created it:
// NewRecorder registers its collectors and Close removes them again, so no
// counter outlives a logout.
package observability

import (
	"chat-sync/domain"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatsync"

// Recorder is nil-safe: every method on a nil *Recorder is a no-op,
// which keeps components usable without metrics in tests.
type Recorder struct {
	registerer prometheus.Registerer
	closeOnce  sync.Once

	subscriptionState *prometheus.GaugeVec
	retries           *prometheus.CounterVec
	fallbacks         *prometheus.CounterVec
	polls             *prometheus.CounterVec
	changesApplied    *prometheus.CounterVec
	changesIgnored    *prometheus.CounterVec
	staleDiscards     *prometheus.CounterVec
	remoteCalls       *prometheus.CounterVec
	sends             *prometheus.CounterVec
}

func NewRecorder(registerer prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		registerer: registerer,
		subscriptionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscription_state",
			Help:      "1 for the current state of each subscription handle, 0 otherwise.",
		}, []string{"handle", "state"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_retries_total",
			Help:      "Reconnect attempts scheduled after a transient failure.",
		}, []string{"handle"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_fallbacks_total",
			Help:      "Handles that exhausted retries and switched to polling.",
		}, []string{"handle"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_polls_total",
			Help:      "Fallback polls by outcome.",
		}, []string{"handle", "outcome"}),
		changesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_applied_total",
			Help:      "Live changes that mutated local state.",
		}, []string{"component", "kind"}),
		changesIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_ignored_total",
			Help:      "Live changes dropped as duplicates, stale or malformed.",
		}, []string{"component", "reason"}),
		staleDiscards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Async results dropped because the context changed meanwhile.",
		}, []string{"component"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Calls issued to the remote store.",
		}, []string{"operation"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Send commands by outcome.",
		}, []string{"outcome"}),
	}
	for i, c := range r.collectors() {
		if err := registerer.Register(c); err != nil {
			for _, registered := range r.collectors()[:i] {
				registerer.Unregister(registered)
			}
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.subscriptionState, r.retries, r.fallbacks, r.polls,
		r.changesApplied, r.changesIgnored, r.staleDiscards,
		r.remoteCalls, r.sends,
	}
}

func (r *Recorder) unregister() {
	for _, c := range r.collectors() {
		r.registerer.Unregister(c)
	}
}

// Close unregisters every collector. Safe to call more than once.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(r.unregister)
}

var allStates = []domain.SubscriptionState{
	domain.StateIdle, domain.StateConnecting, domain.StateSubscribed,
	domain.StateRetrying, domain.StatePollingFallback,
}

func (r *Recorder) SubscriptionState(handle string, state domain.SubscriptionState) {
	if r == nil {
		return
	}
	for _, s := range allStates {
		value := 0.0
		if s == state {
			value = 1
		}
		r.subscriptionState.WithLabelValues(handle, string(s)).Set(value)
	}
}

func (r *Recorder) Retry(handle string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(handle).Inc()
}

func (r *Recorder) Fallback(handle string) {
	if r == nil {
		return
	}
	r.fallbacks.WithLabelValues(handle).Inc()
}

func (r *Recorder) Poll(handle string, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.polls.WithLabelValues(handle, outcome).Inc()
}

func (r *Recorder) ChangeApplied(component string, kind domain.ChangeKind) {
	if r == nil {
		return
	}
	r.changesApplied.WithLabelValues(component, string(kind)).Inc()
}

func (r *Recorder) ChangeIgnored(component, reason string) {
	if r == nil {
		return
	}
	r.changesIgnored.WithLabelValues(component, reason).Inc()
}

func (r *Recorder) StaleDiscard(component string) {
	if r == nil {
		return
	}
	r.staleDiscards.WithLabelValues(component).Inc()
}

func (r *Recorder) RemoteCall(operation string) {
	if r == nil {
		return
	}
	r.remoteCalls.WithLabelValues(operation).Inc()
}

func (r *Recorder) Send(err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.sends.WithLabelValues(outcome).Inc()
}
