package core

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Statistics is a snapshot of the client's counters since creation or the
// last Reset.
type Statistics struct {
	RegistrationAttempts  int       `json:"registrationAttempts"`
	RegistrationSuccesses int       `json:"registrationSuccesses"`
	RegistrationFailures  int       `json:"registrationFailures"`
	CallAttempts          int       `json:"callAttempts"`
	CallSuccesses         int       `json:"callSuccesses"`
	CallFailures          int       `json:"callFailures"`
	IncomingCalls         int       `json:"incomingCalls"`
	AnsweredCalls         int       `json:"answeredCalls"`
	RejectedCalls         int       `json:"rejectedCalls"`
	RTPPacketsSent        uint64    `json:"rtpPacketsSent"`
	RTPPacketsReceived    uint64    `json:"rtpPacketsReceived"`
	RTPTimeouts           int       `json:"rtpTimeouts"`
	LastRegistration      time.Time `json:"lastRegistration,omitempty"`
	LastSuccessfulCall    time.Time `json:"lastSuccessfulCall,omitempty"`
}

// metrics mirrors the counters into Prometheus. Counters are monotonic and
// survive Reset.
type metrics struct {
	reg           prometheus.Registerer
	registrations *prometheus.CounterVec
	calls         *prometheus.CounterVec
	incoming      *prometheus.CounterVec
	rtpSent       prometheus.CounterFunc
	rtpReceived   prometheus.CounterFunc
	rtpTimeouts   prometheus.Counter
	transactions  prometheus.GaugeFunc
}

// gauges supplies values read at scrape time. They must be safe to call from
// any goroutine.
type gauges struct {
	transactions func() float64
	rtpSent      func() float64
	rtpReceived  func() float64
}

func newMetrics(reg prometheus.Registerer, g gauges) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &metrics{
		reg: reg,
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipua",
			Name:      "registrations_total",
			Help:      "REGISTER outcomes.",
		}, []string{"result"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipua",
			Name:      "outbound_calls_total",
			Help:      "Outbound call outcomes.",
		}, []string{"result"}),
		incoming: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipua",
			Name:      "inbound_calls_total",
			Help:      "Inbound INVITEs by disposition.",
		}, []string{"disposition"}),
		rtpSent: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "sipua",
			Name:        "rtp_packets_total",
			Help:        "RTP packets by direction.",
			ConstLabels: prometheus.Labels{"direction": "sent"},
		}, g.rtpSent),
		rtpReceived: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "sipua",
			Name:        "rtp_packets_total",
			Help:        "RTP packets by direction.",
			ConstLabels: prometheus.Labels{"direction": "received"},
		}, g.rtpReceived),
		rtpTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sipua",
			Name:      "rtp_receive_timeouts_total",
			Help:      "Receive watchdog expirations.",
		}),
		transactions: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sipua",
			Name:      "transactions",
			Help:      "Live client transactions.",
		}, g.transactions),
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Registering metrics collector")
		}
	}
	return m
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.registrations, m.calls, m.incoming, m.rtpSent, m.rtpReceived, m.rtpTimeouts, m.transactions}
}

func (m *metrics) unregister() {
	for _, c := range m.collectors() {
		m.reg.Unregister(c)
	}
}

// stats is owned by the reactor.
type stats struct {
	Statistics
	rtpSentBase uint64
	rtpRecvBase uint64
	metrics     *metrics
}

func (s *stats) registrationAttempt() {
	s.RegistrationAttempts++
}

func (s *stats) registrationResult(err error) {
	if err == nil {
		s.RegistrationSuccesses++
		s.LastRegistration = time.Now()
		s.metrics.registrations.WithLabelValues("success").Inc()
		return
	}
	s.RegistrationFailures++
	s.metrics.registrations.WithLabelValues("failure").Inc()
}

func (s *stats) callAttempt() {
	s.CallAttempts++
}

func (s *stats) callResult(err error) {
	if err == nil {
		s.CallSuccesses++
		s.LastSuccessfulCall = time.Now()
		s.metrics.calls.WithLabelValues("success").Inc()
		return
	}
	s.CallFailures++
	var rejected *CallRejected
	if errors.As(err, &rejected) {
		s.metrics.calls.WithLabelValues("rejected").Inc()
		return
	}
	s.metrics.calls.WithLabelValues("failure").Inc()
}

func (s *stats) incoming(disposition string) {
	switch disposition {
	case "offered":
		s.IncomingCalls++
	case "answered":
		s.AnsweredCalls++
	case "rejected":
		s.RejectedCalls++
	}
	s.metrics.incoming.WithLabelValues(disposition).Inc()
}

func (s *stats) rtpTimeout() {
	s.RTPTimeouts++
	s.metrics.rtpTimeouts.Inc()
}

// snapshot folds in the media engine totals.
func (s *stats) snapshot(sent, received uint64) Statistics {
	out := s.Statistics
	out.RTPPacketsSent = sent - s.rtpSentBase
	out.RTPPacketsReceived = received - s.rtpRecvBase
	return out
}

func (s *stats) reset(sent, received uint64) {
	s.Statistics = Statistics{}
	s.rtpSentBase, s.rtpRecvBase = sent, received
}
