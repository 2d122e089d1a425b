// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_session_restarts_total",
		Help: "Session restarts by trigger reason",
	}, []string{"reason"})

	NegotiationGlare = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_negotiation_glare_total",
		Help: "Remote offers dropped because of offer collisions",
	})

	SrtpFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_srtp_unprotect_failures_total",
		Help: "SRTP unprotect failures observed on the media transport",
	})

	WatchdogExpiries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_watchdog_expiries_total",
		Help: "Silence watchdog expiries by direction",
	}, []string{"direction"})

	AudioPackets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_audio_packets_total",
		Help: "Audio packets processed by direction",
	}, []string{"direction"})

	AudioSamples = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_audio_samples_total",
		Help: "PCM samples processed by direction",
	}, []string{"direction"})

	SessionConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_session_connected",
		Help: "1 while the peer connection is in the connected state",
	})

	RecordingActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_recording_active",
		Help: "1 while a recording writer is open for the direction",
	}, []string{"direction"})

	SignalMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_signal_messages_total",
		Help: "Signaling messages by kind and flow",
	}, []string{"kind", "flow"})
)

func init() {
	prometheus.MustRegister(SessionRestarts)
	prometheus.MustRegister(NegotiationGlare)
	prometheus.MustRegister(SrtpFailures)
	prometheus.MustRegister(WatchdogExpiries)
	prometheus.MustRegister(AudioPackets)
	prometheus.MustRegister(AudioSamples)
	prometheus.MustRegister(SessionConnected)
	prometheus.MustRegister(RecordingActive)
	prometheus.MustRegister(SignalMessages)
}
