// Package metrics records protocol-engine activity in Prometheus counters
// and optionally serves them over HTTP. The Recorder subscribes to the
// event bus, so the engine itself stays metrics-free.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/matt0x6f/cascade/internal/events"
	"github.com/matt0x6f/cascade/internal/irc"
	"github.com/matt0x6f/cascade/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private Prometheus registry and the counters fed from
// engine events and the transport
type Recorder struct {
	registry *prometheus.Registry
	server   *http.Server

	linesIn  *prometheus.CounterVec
	linesOut *prometheus.CounterVec
	bytesIn  *prometheus.CounterVec
	bytesOut *prometheus.CounterVec

	messages      *prometheus.CounterVec
	highlights    *prometheus.CounterVec
	batchesFolded *prometheus.CounterVec
	saslOutcomes  *prometheus.CounterVec
	connections   *prometheus.GaugeVec
	eventsTotal   *prometheus.CounterVec
}

// NewRecorder creates a recorder with all collectors registered
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		linesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_lines_received_total",
			Help: "Protocol lines received from the server",
		}, []string{"network"}),
		linesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_lines_sent_total",
			Help: "Protocol lines sent to the server",
		}, []string{"network"}),
		bytesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_bytes_received_total",
			Help: "Bytes received from the server",
		}, []string{"network"}),
		bytesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_bytes_sent_total",
			Help: "Bytes sent to the server",
		}, []string{"network"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_messages_total",
			Help: "Chat messages by direction",
		}, []string{"network", "direction"}),
		highlights: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_highlights_total",
			Help: "Messages that mentioned our nick",
		}, []string{"network"}),
		batchesFolded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_batches_folded_total",
			Help: "Inbound batches folded into summaries, by batch type",
		}, []string{"network", "type"}),
		saslOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_sasl_attempts_total",
			Help: "SASL authentication attempts by outcome",
		}, []string{"network", "outcome"}),
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cascade_connections_active",
			Help: "Registered connections currently up",
		}, []string{"network"}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_engine_events_total",
			Help: "Engine events emitted, by event type",
		}, []string{"type"}),
	}
}

// OnEvent implements events.Subscriber. Subscribe the recorder with "*" so
// every engine event passes through once.
func (r *Recorder) OnEvent(event events.Event) {
	r.eventsTotal.WithLabelValues(event.Type).Inc()

	network, _ := event.Data["network"].(string)

	switch event.Type {
	case irc.EventMessageReceived:
		r.messages.WithLabelValues(network, "in").Inc()
	case irc.EventMessageSent:
		r.messages.WithLabelValues(network, "out").Inc()
	case irc.EventMessageHighlight:
		r.highlights.WithLabelValues(network).Inc()
	case irc.EventBatchEnd:
		batchType, _ := event.Data["type"].(string)
		r.batchesFolded.WithLabelValues(network, batchType).Inc()
	case irc.EventSASLSuccess:
		r.saslOutcomes.WithLabelValues(network, "success").Inc()
	case irc.EventSASLFailed:
		r.saslOutcomes.WithLabelValues(network, "failed").Inc()
	case irc.EventSASLAborted:
		r.saslOutcomes.WithLabelValues(network, "aborted").Inc()
	case irc.EventConnectionEstablished:
		r.connections.WithLabelValues(network).Set(1)
	case irc.EventConnectionLost:
		r.connections.WithLabelValues(network).Set(0)
	}
}

// LineReceived records one inbound line and its size
func (r *Recorder) LineReceived(network string, size int) {
	r.linesIn.WithLabelValues(network).Inc()
	r.bytesIn.WithLabelValues(network).Add(float64(size))
}

// LineSent records one outbound line and its size
func (r *Recorder) LineSent(network string, size int) {
	r.linesOut.WithLabelValues(network).Inc()
	r.bytesOut.WithLabelValues(network).Add(float64(size))
}

// Serve exposes /metrics on the given address until Shutdown
func (r *Recorder) Serve(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	r.server = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Log.Info().Str("listen", listen).Msg("Serving metrics")
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Shutdown stops the metrics listener, if one was started
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
