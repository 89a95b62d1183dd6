package telemetry

import (
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry owns the prometheus instruments for the pipeline. One instance
// is shared by the router, the runner and the brief generator; the server
// exposes the default registry at /metrics.
type Telemetry struct {
	Logger *log.Logger

	ticks            *prometheus.CounterVec
	providerAttempts *prometheus.CounterVec
	providerFailures *prometheus.CounterVec
	fallbackAdvances prometheus.Counter
	briefsEmitted    prometheus.Counter
	briefsSkipped    *prometheus.CounterVec
	eventsNormalized prometheus.Counter
	dailySpend       prometheus.Gauge
}

func New() *Telemetry { return NewWithRegistry(prometheus.DefaultRegisterer) }

// NewWithRegistry registers the instruments on reg. Tests pass a fresh
// registry so repeated construction does not collide.
func NewWithRegistry(reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)
	return &Telemetry{
		Logger: log.New(os.Stdout, "[TELEMETRY] ", log.LstdFlags),
		ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chainbrief_ticks_total",
			Help: "Pipeline ticks by outcome.",
		}, []string{"outcome"}),
		providerAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chainbrief_provider_fetch_attempts_total",
			Help: "Provider fetch attempts by provider.",
		}, []string{"provider"}),
		providerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chainbrief_provider_fetch_failures_total",
			Help: "Provider fetch failures by provider.",
		}, []string{"provider"}),
		fallbackAdvances: factory.NewCounter(prometheus.CounterOpts{
			Name: "chainbrief_provider_fallback_advances_total",
			Help: "Times the router advanced past a failing provider.",
		}),
		briefsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chainbrief_briefs_emitted_total",
			Help: "Brief artifacts persisted.",
		}),
		briefsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chainbrief_briefs_skipped_total",
			Help: "Briefs skipped by gate reason.",
		}, []string{"reason"}),
		eventsNormalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "chainbrief_events_normalized_total",
			Help: "Events normalized into the event layer.",
		}),
		dailySpend: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chainbrief_daily_spend_usd",
			Help: "Spend recorded for the current UTC day.",
		}),
	}
}

func (t *Telemetry) Tick(outcome string)         { t.ticks.WithLabelValues(outcome).Inc() }
func (t *Telemetry) ProviderAttempt(name string) { t.providerAttempts.WithLabelValues(name).Inc() }
func (t *Telemetry) ProviderFailure(name string) { t.providerFailures.WithLabelValues(name).Inc() }
func (t *Telemetry) FallbackAdvance()            { t.fallbackAdvances.Inc() }
func (t *Telemetry) BriefEmitted()               { t.briefsEmitted.Inc() }
func (t *Telemetry) BriefSkipped(reason string)  { t.briefsSkipped.WithLabelValues(reason).Inc() }
func (t *Telemetry) EventsNormalized(n int)      { t.eventsNormalized.Add(float64(n)) }
func (t *Telemetry) SetDailySpend(v float64)     { t.dailySpend.Set(v) }
