// Package metrics exposes Prometheus counters for the auth core and the mail worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder is what services and workers report to.
type Recorder interface {
	RecordLogin(success bool)
	RecordRegistration()
	RecordTokenIssued(purpose string)
	RecordTokenRedeemed(purpose string, success bool)
	RecordRateLimited()
	RecordMailSent(success bool)
}

type Collector struct {
	logins         *prometheus.CounterVec
	registrations  prometheus.Counter
	tokensIssued   *prometheus.CounterVec
	tokensRedeemed *prometheus.CounterVec
	rateLimited    prometheus.Counter
	mailSent       *prometheus.CounterVec
}

// NewCollector creates the counters and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memorial_auth_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memorial_auth_registrations_total",
			Help: "Accounts created through registration or by an administrator.",
		}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memorial_auth_tokens_issued_total",
			Help: "Single-use tokens issued by purpose.",
		}, []string{"purpose"}),
		tokensRedeemed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memorial_auth_tokens_redeemed_total",
			Help: "Single-use token redemption attempts by purpose and result.",
		}, []string{"purpose", "result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memorial_auth_rate_limited_total",
			Help: "Requests rejected by the auth rate limiter.",
		}),
		mailSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memorial_mail_sent_total",
			Help: "Outbound mail deliveries by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.tokensIssued,
		c.tokensRedeemed,
		c.rateLimited,
		c.mailSent,
	)

	return c
}

func result(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

func (c *Collector) RecordLogin(success bool) {
	c.logins.WithLabelValues(result(success)).Inc()
}

func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

func (c *Collector) RecordTokenIssued(purpose string) {
	c.tokensIssued.WithLabelValues(purpose).Inc()
}

func (c *Collector) RecordTokenRedeemed(purpose string, success bool) {
	c.tokensRedeemed.WithLabelValues(purpose, result(success)).Inc()
}

func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

func (c *Collector) RecordMailSent(success bool) {
	c.mailSent.WithLabelValues(result(success)).Inc()
}

// Nop discards everything. Used when no registry is wired, e.g. in tests.
type Nop struct{}

func (Nop) RecordLogin(bool)                 {}
func (Nop) RecordRegistration()              {}
func (Nop) RecordTokenIssued(string)         {}
func (Nop) RecordTokenRedeemed(string, bool) {}
func (Nop) RecordRateLimited()               {}
func (Nop) RecordMailSent(bool)              {}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
