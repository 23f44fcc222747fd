package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tracker counts the events worth graphing. A Nop tracker is used in tests
// and when the metrics listener is disabled.
type Tracker interface {
	FlowStarted(flow string)
	FlowFinished(flow string, successful bool)
	SwapExecuted(venue string)
	SessionCreated()
	SessionEvicted()
}

type promTracker struct {
	flowsStarted  *prometheus.CounterVec
	flowsFinished *prometheus.CounterVec
	swaps         *prometheus.CounterVec
	sessions      *prometheus.CounterVec
}

// New registers the bot's counters on a fresh registry and returns the
// tracker together with the scrape handler.
func New() (Tracker, http.Handler) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	t := &promTracker{
		flowsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dexbot_flows_started_total",
			Help: "Conversational flows started, by flow name.",
		}, []string{"flow"}),
		flowsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dexbot_flows_finished_total",
			Help: "Conversational flows finished, by flow name and outcome.",
		}, []string{"flow", "outcome"}),
		swaps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dexbot_swaps_executed_total",
			Help: "Swaps executed, by venue.",
		}, []string{"venue"}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dexbot_sessions_total",
			Help: "Session lifecycle events.",
		}, []string{"event"}),
	}
	return t, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (t *promTracker) FlowStarted(flow string) {
	t.flowsStarted.WithLabelValues(flow).Inc()
}

func (t *promTracker) FlowFinished(flow string, successful bool) {
	outcome := "abandoned"
	if successful {
		outcome = "completed"
	}
	t.flowsFinished.WithLabelValues(flow, outcome).Inc()
}

func (t *promTracker) SwapExecuted(venue string) {
	t.swaps.WithLabelValues(venue).Inc()
}

func (t *promTracker) SessionCreated() {
	t.sessions.WithLabelValues("created").Inc()
}

func (t *promTracker) SessionEvicted() {
	t.sessions.WithLabelValues("evicted").Inc()
}

type nopTracker struct{}

// Nop returns a tracker that records nothing.
func Nop() Tracker { return nopTracker{} }

func (nopTracker) FlowStarted(string)         {}
func (nopTracker) FlowFinished(string, bool)  {}
func (nopTracker) SwapExecuted(string)        {}
func (nopTracker) SessionCreated()            {}
func (nopTracker) SessionEvicted()            {}
